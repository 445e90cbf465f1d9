// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package tunnel

import (
	"context"
	"path"
	"strings"

	"github.com/juju/errors"

	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/scheduler"
)

// remoteHome prefixes a remote path relative to the home directory.
const remoteHome = "$HOME/"

// ControllerConfig holds the dependencies of a Controller.
type ControllerConfig struct {
	Resolver  EndpointResolver
	Scheduler Scheduler

	// Job describes the job to submit. Its Command is normally built
	// with JobCommand.
	Job scheduler.SubmitParams

	// Copier and RelayRunner are only needed by Stage.
	Copier      scheduler.Copier
	RelayRunner scheduler.Runner

	// LocalBinary is the executable copied by Stage.
	LocalBinary string

	// RemoteBinary is where Stage puts the executable on the relay host.
	RemoteBinary string

	// QueueArgs are passed to the staged executable after queue_job.
	QueueArgs []string

	Logger Logger
}

// Validate checks the configuration.
func (c ControllerConfig) Validate() error {
	if c.Resolver == nil {
		return errors.NotValidf("nil Resolver")
	}
	if c.Scheduler == nil {
		return errors.NotValidf("nil Scheduler")
	}
	if err := c.Job.Validate(); err != nil {
		return errors.Trace(err)
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Controller submits and kills the tunnel job.
type Controller struct {
	config ControllerConfig
}

// NewController returns a Controller for config.
func NewController(config ControllerConfig) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Controller{config: config}, nil
}

// JobCommand returns the command run by the job: the remote executable
// invoked with the run_job action for the given scheduler backend.
func JobCommand(remoteBinary, backend string) []string {
	return []string{remoteBinary, string(RunJob), "--scheduler", backend}
}

// Submit submits the job unless it is already running, and reports
// whether it did. The check and the submission are not atomic; two
// concurrent callers may both submit.
func (c *Controller) Submit(ctx context.Context) (bool, error) {
	name := c.config.Job.JobName
	endpoint, err := c.config.Resolver.Resolve(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	if endpoint.Resolved() {
		c.config.Logger.Infof("job %q is already running at %s", name, endpoint)
		return false, nil
	}
	if err := c.config.Scheduler.Submit(ctx, c.config.Job); err != nil {
		return false, errors.Trace(err)
	}
	c.config.Logger.Infof("submitted job %q", name)
	return true, nil
}

// Terminate kills the job. Finding no job to kill is not an error.
func (c *Controller) Terminate(ctx context.Context) error {
	name := c.config.Job.JobName
	err := c.config.Scheduler.Kill(ctx, name)
	if errors.IsNotFound(err) {
		c.config.Logger.Warningf("no job %q to kill: %v", name, err)
		return nil
	} else if err != nil {
		return errors.Trace(err)
	}
	c.config.Logger.Infof("killed job %q", name)
	return nil
}

// Stage copies the local executable to the relay host and runs its
// queue_job action there.
func (c *Controller) Stage(ctx context.Context) error {
	if c.config.Copier == nil || c.config.RelayRunner == nil {
		return errors.NotValidf("staging without a relay copier and runner")
	}
	if c.config.LocalBinary == "" {
		return errors.NotValidf("empty LocalBinary")
	}
	destination, invoke, err := stagedPaths(c.config.RemoteBinary)
	if err != nil {
		return errors.Trace(err)
	}
	if err := c.config.Copier.Copy(ctx, c.config.LocalBinary, destination); err != nil {
		return errors.Trace(err)
	}
	argv := append([]string{invoke, string(QueueJob)}, c.config.QueueArgs...)
	out, err := c.config.RelayRunner.Run(ctx, argv)
	if err != nil {
		return errors.Annotatef(err, "queueing job %q from the relay host", c.config.Job.JobName)
	}
	if msg := strings.TrimSpace(string(out)); msg != "" {
		c.config.Logger.Infof("%s", msg)
	}
	return nil
}

// stagedPaths returns the scp destination and the command name for the
// remote executable. A $HOME/ prefix becomes a path relative to the login
// directory, which both scp and ssh start in.
func stagedPaths(remoteBinary string) (string, string, error) {
	p := remoteBinary
	if strings.HasPrefix(p, remoteHome) {
		p = strings.TrimPrefix(p, remoteHome)
	}
	if p == "" || strings.ContainsAny(p, "$`") {
		return "", "", errors.NotValidf("remote binary %q for staging", remoteBinary)
	}
	if path.IsAbs(p) {
		return p, p, nil
	}
	p = path.Clean(p)
	return p, "./" + p, nil
}
