// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package tunnel implements the life cycle of the tunnel job: finding
// the endpoint a running job published, submitting and killing the job,
// running the sshd inside it, and forwarding a session to it.
package tunnel

import (
	"context"

	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/scheduler"
)

// Logger is the logging interface used by the tunnel components.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
	Errorf(string, ...interface{})
}

// Scheduler is the subset of the scheduler client used by the tunnel.
type Scheduler interface {
	// ListJob returns the listing of the jobs with the given name, one
	// "host:description" line per job. An empty listing means no job.
	ListJob(ctx context.Context, jobName string) (string, error)

	// Submit submits a job.
	Submit(ctx context.Context, params scheduler.SubmitParams) error

	// SetDescription replaces the description of a job.
	SetDescription(ctx context.Context, jobID, description string) error

	// Kill kills the jobs with the given name, returning a NotFound
	// error if there are none.
	Kill(ctx context.Context, jobName string) error
}

// EndpointResolver finds the endpoint published by the tunnel job.
type EndpointResolver interface {
	Resolve(ctx context.Context) (Endpoint, error)
}
