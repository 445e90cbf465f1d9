// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package ssh

import (
	"context"
	"io"
	"net"
	"strings"
	"time"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"golang.org/x/crypto/ssh"
)

var logger = loggo.GetLogger("cluster-tunnel.network.ssh")

// HostKeyChecker runs the start of an ssh key exchange over an open
// stream and checks the host key the server presents. It never
// authenticates.
type HostKeyChecker struct {
	// acceptedKeys holds the wire form of the acceptable public keys.
	acceptedKeys set.Strings
}

// NewHostKeyChecker returns a checker accepting the given public keys,
// in authorized_keys format. Keys that cannot be parsed are logged and
// ignored. With no usable key, every host key is rejected.
func NewHostKeyChecker(publicKeys []string) *HostKeyChecker {
	return &HostKeyChecker{acceptedKeys: publicKeysToSet(publicKeys)}
}

var (
	errHostKeyNotInList = errors.ConstError("host key not in expected set")
	errHostKeyAccepted  = errors.ConstError("host key was accepted")
)

func (h *HostKeyChecker) hostKeyCallback(name string) ssh.HostKeyCallback {
	return func(_ string, _ net.Addr, key ssh.PublicKey) error {
		logger.Tracef("checking host key for %s, with key %q", name, ssh.MarshalAuthorizedKey(key))
		if h.acceptedKeys.Contains(string(key.Marshal())) {
			logger.Debugf("accepted host key for %s", name)
			// Ending the handshake here skips authentication.
			return errHostKeyAccepted
		}
		logger.Debugf("host key for %s not in our accepted set: log at TRACE to see raw keys", name)
		return errHostKeyNotInList
	}
}

// publicKeysToSet converts authorized_keys lines into the wire form of
// their keys.
func publicKeysToSet(publicKeys []string) set.Strings {
	accepted := set.NewStrings()
	for _, pubKey := range publicKeys {
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pubKey))
		if err != nil {
			logger.Warningf("unable to handle public key: %q", pubKey)
			continue
		}
		accepted.Add(string(key.Marshal()))
	}
	return accepted
}

// Check performs the key exchange over conn, which reaches the server
// called name, and closes conn. It returns an error satisfying
// errors.IsNotValid if the server's host key is not accepted. The
// context bounds the exchange.
func (h *HostKeyChecker) Check(ctx context.Context, conn io.ReadWriteCloser, name string) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	config := &ssh.ClientConfig{
		HostKeyCallback: h.hostKeyCallback(name),
	}
	logger.Debugf("initiating ssh handshake with %s", name)
	// NewClientConn closes the stream if it fails.
	client, _, _, err := ssh.NewClientConn(streamConn{conn, name}, name, config)
	if err == nil {
		// The callback never lets the handshake finish.
		_ = client.Close()
		return errors.Errorf("ssh handshake with %s completed without a host key check", name)
	}
	switch {
	case strings.Contains(err.Error(), errHostKeyAccepted.Error()):
		return nil
	case strings.Contains(err.Error(), errHostKeyNotInList.Error()):
		return errors.NotValidf("host key of %s", name)
	case ctx.Err() != nil:
		return errors.Annotatef(ctx.Err(), "ssh handshake with %s", name)
	}
	return errors.Annotatef(err, "ssh handshake with %s", name)
}

// streamConn presents a byte stream, such as a forwarded channel, as the
// net.Conn the ssh client needs. Deadlines are not supported.
type streamConn struct {
	io.ReadWriteCloser
	name string
}

func (c streamConn) LocalAddr() net.Addr              { return streamAddr("local") }
func (c streamConn) RemoteAddr() net.Addr             { return streamAddr(c.name) }
func (c streamConn) SetDeadline(time.Time) error      { return nil }
func (c streamConn) SetReadDeadline(time.Time) error  { return nil }
func (c streamConn) SetWriteDeadline(time.Time) error { return nil }

type streamAddr string

func (a streamAddr) Network() string { return "tunnel" }
func (a streamAddr) String() string  { return string(a) }
