// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package scheduler

import (
	"context"

	"github.com/juju/errors"
)

// Client performs tunnel job operations with a backend's commands,
// executed by a runner.
type Client struct {
	backend Backend
	runner  Runner
}

// NewClient returns a Client running backend commands with runner.
func NewClient(backend Backend, runner Runner) *Client {
	return &Client{
		backend: backend,
		runner:  runner,
	}
}

// Backend returns the client's backend.
func (c *Client) Backend() Backend {
	return c.backend
}

// ListJob returns the raw listing of the jobs with the given name. An
// empty listing means there is no such job.
func (c *Client) ListJob(ctx context.Context, jobName string) (string, error) {
	out, err := c.runner.Run(ctx, c.backend.ListCommand(jobName))
	if err == nil {
		return string(out), nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && c.backend.NoJobs(cmdErr.Output()) {
		return "", nil
	}
	return "", errors.Annotatef(err, "listing job %q", jobName)
}

// Submit submits a job.
func (c *Client) Submit(ctx context.Context, params SubmitParams) error {
	if err := params.Validate(); err != nil {
		return errors.Trace(err)
	}
	out, err := c.runner.Run(ctx, c.backend.SubmitCommand(params))
	if err != nil {
		return errors.Annotatef(err, "submitting job %q", params.JobName)
	}
	logger.Debugf("submitted job %q: %s", params.JobName, out)
	return nil
}

// SetDescription replaces the description of the job with the given id.
func (c *Client) SetDescription(ctx context.Context, jobID, description string) error {
	if jobID == "" {
		return errors.NotValidf("empty job id")
	}
	_, err := c.runner.Run(ctx, c.backend.SetDescriptionCommand(jobID, description))
	return errors.Annotatef(err, "setting description of job %s", jobID)
}

// Kill kills the jobs with the given name. It returns an error satisfying
// errors.IsNotFound if the scheduler reports that there is nothing to
// kill.
func (c *Client) Kill(ctx context.Context, jobName string) error {
	_, err := c.runner.Run(ctx, c.backend.KillCommand(jobName))
	if err == nil {
		return nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && c.backend.NothingToKill(cmdErr.Output()) {
		return errors.NewNotFound(err, "job "+jobName)
	}
	return errors.Annotatef(err, "killing job %q", jobName)
}
