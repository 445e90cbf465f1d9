// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package relay

import (
	"io"
	"net"
	"os"
	"syscall"

	"github.com/juju/errors"
)

// Pipe copies in to conn and conn to out. When in reaches EOF the write
// side of conn is closed and reading continues, so a reply in flight is
// still delivered. Pipe returns when the read side of conn ends; a reset
// or closed connection counts as a normal end.
//
// The copy from in is not waited for: a terminal's stdin may never
// return from Read.
func Pipe(conn Conn, in io.Reader, out io.Writer) error {
	go func() {
		n, err := io.Copy(conn, in)
		if err != nil && !isClosed(err) {
			logger.Debugf("copying input after %d bytes: %v", n, err)
		}
		if err := conn.CloseWrite(); err != nil && !isClosed(err) {
			logger.Debugf("half-closing tunnel: %v", err)
		}
	}()

	n, err := io.Copy(out, conn)
	logger.Tracef("tunnel delivered %d bytes", n)
	if err != nil && !isClosed(err) {
		return errors.Annotate(err, "copying from tunnel")
	}
	return nil
}

// isClosed reports whether err means the stream was closed or reset
// rather than broken.
func isClosed(err error) bool {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, os.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	return false
}
