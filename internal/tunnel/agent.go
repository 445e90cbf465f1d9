// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package tunnel

import (
	"context"
	"os"
	"os/exec"
	"strconv"

	"github.com/juju/errors"
	"github.com/kballard/go-shellquote"

	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/hostkey"
	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/network"
)

// AgentConfig holds the dependencies of an Agent.
type AgentConfig struct {
	Scheduler Scheduler

	// SSHDPath is the sshd executable.
	SSHDPath string

	// SSHDArgs are appended to the sshd command line.
	SSHDArgs []string

	// HostKey is the host key file of the sshd.
	HostKey string

	// GenerateHostKey allows creating a missing host key.
	GenerateHostKey bool

	Logger Logger
}

// Validate checks the configuration.
func (c AgentConfig) Validate() error {
	if c.Scheduler == nil {
		return errors.NotValidf("nil Scheduler")
	}
	if c.SSHDPath == "" {
		return errors.NotValidf("empty SSHDPath")
	}
	if c.HostKey == "" {
		return errors.NotValidf("empty HostKey")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Agent runs inside the tunnel job: it publishes a port through the job
// description and serves ssh on it.
type Agent struct {
	config AgentConfig
}

// NewAgent returns an Agent for config.
func NewAgent(config AgentConfig) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Agent{config: config}, nil
}

var (
	freePort      = network.FreePort
	ensureHostKey = hostkey.Ensure
	runSSHD       = func(ctx context.Context, argv []string) error {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()
	}
)

// SSHDCommand returns the sshd command line serving on port.
func (a *Agent) SSHDCommand(port int) []string {
	argv := []string{
		a.config.SSHDPath, "-D",
		"-p", strconv.Itoa(port),
		"-f", "/dev/null",
		"-h", a.config.HostKey,
	}
	return append(argv, a.config.SSHDArgs...)
}

// Run publishes a free port as the description of job jobID and runs
// sshd on it in the foreground. It returns when sshd exits; any failure
// is returned so that the job ends.
func (a *Agent) Run(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.NotValidf("empty job id")
	}
	port, err := freePort()
	if err != nil {
		return errors.Trace(err)
	}
	generated, err := ensureHostKey(a.config.HostKey, a.config.GenerateHostKey)
	if err != nil {
		return errors.Trace(err)
	}
	if generated {
		a.config.Logger.Debugf("using new host key %s", a.config.HostKey)
	}

	// The port is only published once the host key is usable.
	if err := a.config.Scheduler.SetDescription(ctx, jobID, strconv.Itoa(port)); err != nil {
		return errors.Annotatef(err, "publishing port %d", port)
	}
	a.config.Logger.Infof("published port %d for job %s", port, jobID)

	argv := a.SSHDCommand(port)
	a.config.Logger.Infof("running %s", shellquote.Join(argv...))
	if err := runSSHD(ctx, argv); err != nil {
		return errors.Annotate(err, "sshd")
	}
	return nil
}
