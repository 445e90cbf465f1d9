// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package relay moves the bytes of an inner ssh session between the
// local process and a compute node reached through the relay host.
package relay

import (
	"context"
	"io"
	"net"
	"strconv"

	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("cluster-tunnel.relay")

// Conn is a bidirectional stream that can be half-closed.
type Conn interface {
	io.ReadWriteCloser

	// CloseWrite signals end of input to the remote side while leaving
	// the read side open.
	CloseWrite() error
}

// Dialer opens a stream to a host and port reachable from the relay
// host.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Conn, error)
}

func address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
