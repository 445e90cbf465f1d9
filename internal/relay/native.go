// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package relay

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/juju/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// NativeConfig holds the settings of a NativeDialer.
type NativeConfig struct {
	// Relay is the relay host, optionally with a port.
	Relay string

	// User is the login name on the relay host.
	User string

	// IdentityFiles are private keys offered after the agent's. Missing
	// or unreadable files are skipped.
	IdentityFiles []string

	// KnownHosts is the known_hosts file verifying the relay host key.
	KnownHosts string

	// AgentSocket is the ssh-agent socket. Empty means no agent.
	AgentSocket string

	// Timeout bounds the connection to the relay host.
	Timeout time.Duration
}

// Validate checks the configuration.
func (c NativeConfig) Validate() error {
	if c.Relay == "" {
		return errors.NotValidf("empty Relay")
	}
	if c.User == "" {
		return errors.NotValidf("empty User")
	}
	if c.KnownHosts == "" {
		return errors.NotValidf("empty KnownHosts")
	}
	return nil
}

// NativeDialer forwards through the relay host with a direct-tcpip
// channel opened in process.
type NativeDialer struct {
	config NativeConfig
}

// NewNativeDialer returns a NativeDialer for config.
func NewNativeDialer(config NativeConfig) (*NativeDialer, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &NativeDialer{config: config}, nil
}

func (d *NativeDialer) relayAddress() string {
	if _, _, err := net.SplitHostPort(d.config.Relay); err == nil {
		return d.config.Relay
	}
	return net.JoinHostPort(d.config.Relay, "22")
}

func (d *NativeDialer) clientConfig() (*ssh.ClientConfig, func(), error) {
	hostKeyCallback, err := knownhosts.New(d.config.KnownHosts)
	if err != nil {
		return nil, nil, errors.Annotatef(err, "reading known hosts %s", d.config.KnownHosts)
	}

	cleanup := func() {}
	var methods []ssh.AuthMethod
	if d.config.AgentSocket != "" {
		conn, err := net.Dial("unix", d.config.AgentSocket)
		if err != nil {
			logger.Debugf("not using ssh agent: %v", err)
		} else {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			cleanup = func() { _ = conn.Close() }
		}
	}
	var signers []ssh.Signer
	for _, path := range d.config.IdentityFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Tracef("skipping identity %s: %v", path, err)
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			logger.Debugf("skipping identity %s: %v", path, err)
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	if len(methods) == 0 {
		cleanup()
		return nil, nil, errors.NotFoundf("ssh agent or identity for %s", d.config.Relay)
	}
	return &ssh.ClientConfig{
		User:            d.config.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.config.Timeout,
	}, cleanup, nil
}

// Dial implements Dialer.
func (d *NativeDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	config, cleanup, err := d.clientConfig()
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer cleanup()

	relayAddr := d.relayAddress()
	var dialer net.Dialer
	if d.config.Timeout > 0 {
		dialer.Timeout = d.config.Timeout
	}
	tcpConn, err := dialer.DialContext(ctx, "tcp", relayAddr)
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to %s", relayAddr)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, relayAddr, config)
	if err != nil {
		_ = tcpConn.Close()
		return nil, errors.Annotatef(err, "authenticating to %s", relayAddr)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	target := address(host, port)
	conn, err := client.DialContext(ctx, "tcp", target)
	if err != nil {
		_ = client.Close()
		return nil, errors.Annotatef(err, "forwarding to %s through %s", target, relayAddr)
	}
	halfCloser, ok := conn.(interface{ CloseWrite() error })
	if !ok {
		_ = conn.Close()
		_ = client.Close()
		return nil, errors.NotSupportedf("half-close on %T", conn)
	}
	logger.Debugf("forwarding to %s through %s", target, relayAddr)
	return &channelConn{Conn: conn, halfCloser: halfCloser, client: client}, nil
}

// channelConn owns the ssh client carrying its channel.
type channelConn struct {
	net.Conn
	halfCloser interface{ CloseWrite() error }
	client     *ssh.Client
}

func (c *channelConn) CloseWrite() error {
	return c.halfCloser.CloseWrite()
}

func (c *channelConn) Close() error {
	err := c.Conn.Close()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}
