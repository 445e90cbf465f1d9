// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4/ssh"
	"github.com/kballard/go-shellquote"
)

// Runner runs a scheduler client command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, argv []string) ([]byte, error)
}

// CommandError is returned by a Runner when the command ran but failed.
type CommandError struct {
	Argv   []string
	Stdout string
	Stderr string
	Err    error
}

// Error implements error.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("running %s: %v", shellquote.Join(e.Argv...), e.Err)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += " (" + stderr + ")"
	}
	return msg
}

// Unwrap returns the underlying process error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// Output returns the combined stdout and stderr of the failed command.
func (e *CommandError) Output() string {
	return e.Stdout + e.Stderr
}

// LocalRunner runs commands on this host. It is used when the scheduler
// client tools are installed locally, i.e. on the relay host or on a
// compute node.
type LocalRunner struct{}

// Run implements Runner.
func (LocalRunner) Run(ctx context.Context, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, errors.NotValidf("empty command")
	}
	logger.Debugf("running %s", shellquote.Join(argv...))
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	// Scheduler tools never need input; an explicit empty stdin stops
	// them from consuming ours.
	cmd.Stdin = strings.NewReader("")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &CommandError{
			Argv:   argv,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return stdout.Bytes(), nil
}

// RelayRunner runs commands on the relay host over a single ssh hop.
type RelayRunner struct {
	// Host is the ssh destination of the relay host.
	Host string

	// Options holds any extra ssh options. It may be nil.
	Options *ssh.Options
}

// Run implements Runner. The argument vector is quoted into a single
// remote command line so that no element is reinterpreted by the remote
// shell.
func (r RelayRunner) Run(ctx context.Context, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, errors.NotValidf("empty command")
	}
	remote := shellquote.Join(argv...)
	logger.Debugf("running %s on %s", remote, r.Host)
	stdout, stderr, err := runSSHCommand(ctx, r.Host, []string{remote}, r.Options)
	if err != nil {
		return []byte(stdout), &CommandError{
			Argv:   argv,
			Stdout: stdout,
			Stderr: stderr,
			Err:    err,
		}
	}
	return []byte(stdout), nil
}

var runSSHCommand = func(ctx context.Context, host string, command []string, options *ssh.Options) (stdout, stderr string, err error) {
	cmd := ssh.Command(host, command, options)
	// ssh would otherwise read from our stdin, which in proxy mode is
	// the inner ssh session.
	cmd.Stdin = strings.NewReader("")
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	if err := cmd.Start(); err != nil {
		return "", "", errors.Trace(err)
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = cmd.Kill()
		case <-done:
		}
	}()
	err = cmd.Wait()
	return stdoutBuf.String(), stderrBuf.String(), err
}

// Copier copies a local file to the relay host.
type Copier interface {
	Copy(ctx context.Context, source, destination string) error
}

// RelayCopier copies files to the relay host with scp.
type RelayCopier struct {
	Host    string
	Options *ssh.Options
}

// Copy implements Copier. The destination is a path on the relay host;
// relative paths are relative to the remote home directory.
func (c RelayCopier) Copy(ctx context.Context, source, destination string) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	target := c.Host + ":" + destination
	logger.Debugf("copying %s to %s", source, target)
	if err := copyFile([]string{source, target}, c.Options); err != nil {
		return errors.Annotatef(err, "copying %s to %s", source, target)
	}
	return nil
}

var copyFile = ssh.Copy
