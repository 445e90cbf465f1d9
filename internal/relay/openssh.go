// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package relay

import (
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/juju/errors"
	"github.com/kballard/go-shellquote"
)

// OpenSSHDialer forwards through the relay host with "ssh -W", so the
// user's ssh configuration, agent and multiplexed connections apply.
type OpenSSHDialer struct {
	// Relay is the ssh destination of the relay host.
	Relay string

	// Options are passed to ssh before -W.
	Options []string

	// Stderr receives ssh diagnostics. It defaults to os.Stderr.
	Stderr io.Writer
}

// Command returns the ssh command line forwarding to host:port.
func (d OpenSSHDialer) Command(host string, port int) []string {
	argv := append([]string{"ssh"}, d.Options...)
	return append(argv, "-W", address(host, port), d.Relay)
}

var execCommand = exec.CommandContext

// closeGrace is how long Close waits for ssh to exit by itself.
var closeGrace = 5 * time.Second

// Dial implements Dialer.
func (d OpenSSHDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	if d.Relay == "" {
		return nil, errors.NotValidf("empty relay host")
	}
	argv := d.Command(host, port)
	logger.Debugf("running %s", shellquote.Join(argv...))

	// Plain os pipes are handed to ssh so that Wait can run concurrently
	// with reads without discarding buffered output.
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, errors.Trace(err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return nil, errors.Trace(err)
	}

	cmd := execCommand(ctx, argv[0], argv[1:]...)
	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = d.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	err = cmd.Start()
	inR.Close()
	outW.Close()
	if err != nil {
		inW.Close()
		outR.Close()
		return nil, errors.Annotatef(err, "starting ssh to %s", d.Relay)
	}

	c := &commandConn{
		cmd:    cmd,
		stdin:  inW,
		stdout: outR,
		exited: make(chan struct{}),
	}
	go func() {
		c.waitErr = cmd.Wait()
		close(c.exited)
	}()
	return c, nil
}

// commandConn is a Conn over the standard streams of a child process.
type commandConn struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File

	exited  chan struct{}
	waitErr error
}

func (c *commandConn) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

func (c *commandConn) Write(p []byte) (int, error) {
	return c.stdin.Write(p)
}

// CloseWrite closes the child's stdin.
func (c *commandConn) CloseWrite() error {
	return c.stdin.Close()
}

// Close closes both streams and reaps the child, killing it if it does
// not exit within closeGrace.
func (c *commandConn) Close() error {
	_ = c.stdin.Close()
	_ = c.stdout.Close()
	select {
	case <-c.exited:
	case <-time.After(closeGrace):
		logger.Debugf("killing ssh after %v", closeGrace)
		_ = c.cmd.Process.Kill()
		<-c.exited
		return nil
	}
	return errors.Annotate(c.waitErr, "ssh")
}
