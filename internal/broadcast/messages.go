package broadcast

import (
	"errors"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	// ErrSharingStopped ends a session whose connection failed
	ErrSharingStopped = errors.New("sharing stopped")
	// ErrScreensharingStopped ends a session whose connection closed cleanly
	ErrScreensharingStopped = errors.New("screensharing stopped")
)

// Catalog keys
const (
	msgSharingStopped       = "Sharing stopped: %v"
	msgScreensharingStopped = "Screensharing stopped"
)

var supported = []language.Tag{
	language.English,
	language.German,
	language.Spanish,
	language.French,
	language.BrazilianPortuguese,
}

var matcher = language.NewMatcher(supported)

func init() {
	set := func(tag language.Tag, key, msg string) {
		if err := message.SetString(tag, key, msg); err != nil {
			panic(err)
		}
	}

	set(language.English, msgSharingStopped, "Sharing stopped: %v")
	set(language.English, msgScreensharingStopped, "Screensharing stopped")

	set(language.German, msgSharingStopped, "Freigabe beendet: %v")
	set(language.German, msgScreensharingStopped, "Bildschirmfreigabe beendet")

	set(language.Spanish, msgSharingStopped, "Se dejó de compartir: %v")
	set(language.Spanish, msgScreensharingStopped, "Se dejó de compartir la pantalla")

	set(language.French, msgSharingStopped, "Partage arrêté : %v")
	set(language.French, msgScreensharingStopped, "Partage d'écran arrêté")

	set(language.BrazilianPortuguese, msgSharingStopped, "Compartilhamento interrompido: %v")
	set(language.BrazilianPortuguese, msgScreensharingStopped, "Compartilhamento de tela interrompido")
}

// newPrinter returns a printer for the closest supported locale
func newPrinter(locale string) *message.Printer {
	_, idx := language.MatchStrings(matcher, locale)
	return message.NewPrinter(supported[idx])
}

// StopError is what the controller reports to the capture host when the
// connection goes away. Error returns the localized, user-facing text.
type StopError struct {
	Reason  error // ErrSharingStopped or ErrScreensharingStopped
	Cause   error // transport error, nil on a clean close
	Message string
}

func (e *StopError) Error() string {
	return e.Message
}

func (e *StopError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Cause}
}

// stopError maps a close callback error to the reason shown to the user
func stopError(p *message.Printer, cause error) *StopError {
	if cause != nil {
		return &StopError{
			Reason:  ErrSharingStopped,
			Cause:   cause,
			Message: p.Sprintf(msgSharingStopped, cause),
		}
	}
	return &StopError{
		Reason:  ErrScreensharingStopped,
		Message: p.Sprintf(msgScreensharingStopped),
	}
}
