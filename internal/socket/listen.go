package socket

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
)

// Listen binds the host end of the socket at path, replacing a stale socket
// file left by a previous run. The file is removed when the listener closes.
func Listen(path string) (*net.UnixListener, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	if len(path) > maxPathLen {
		return nil, fmt.Errorf("socket: path too long (%d > %d bytes): %s", len(path), maxPathLen, path)
	}

	if info, err := os.Lstat(path); err == nil {
		if info.Mode()&fs.ModeSocket == 0 {
			return nil, fmt.Errorf("socket: %s exists and is not a socket", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat socket path: %w", err)
	}

	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	l.SetUnlinkOnClose(true)
	return l, nil
}
