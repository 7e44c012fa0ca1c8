package main

import "github.com/bryanchriswhite/ScreenRelay/cmd/screenrelay/commands"

func main() {
	commands.Execute()
}
