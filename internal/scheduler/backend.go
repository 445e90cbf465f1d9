// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package scheduler

import (
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("cluster-tunnel.scheduler")

const (
	// LSF names the IBM Spectrum LSF backend.
	LSF = "lsf"

	// Slurm names the Slurm backend.
	Slurm = "slurm"
)

// FieldDelimiter separates the execution host from the description in
// job listings. It must not occur in the schedulers' unset placeholders.
const FieldDelimiter = ":"

// SubmitParams holds everything needed to submit the tunnel job.
type SubmitParams struct {
	Slots    int
	Project  string
	JobName  string
	Queue    string
	WallTime time.Duration

	// Command is executed on the allocated node. The first element is
	// written into the job script verbatim so that it may refer to
	// variables such as $HOME; the remaining elements are quoted.
	Command []string
}

// Validate checks that the parameters can be turned into a submission.
func (p SubmitParams) Validate() error {
	if p.JobName == "" {
		return errors.NotValidf("empty JobName")
	}
	if p.Slots < 1 {
		return errors.NotValidf("slot count %d", p.Slots)
	}
	if p.WallTime < time.Minute {
		return errors.NotValidf("wall time %v", p.WallTime)
	}
	if len(p.Command) == 0 {
		return errors.NotValidf("empty Command")
	}
	return nil
}

// Backend translates tunnel job operations into the command lines of a
// particular batch scheduler.
type Backend interface {
	// Name returns the backend name, e.g. "lsf".
	Name() string

	// JobIDEnvVar returns the environment variable holding the job
	// identity on an allocated node.
	JobIDEnvVar() string

	// UnsetMarkers returns the placeholders the scheduler prints for a
	// field that has no value.
	UnsetMarkers() []string

	// ListCommand lists the jobs with the given name, one per line, as
	// the execution host and description separated by FieldDelimiter.
	ListCommand(jobName string) []string

	// NoJobs reports whether the output of a failed list command means
	// that no job matched.
	NoJobs(output string) bool

	// SubmitCommand submits a job.
	SubmitCommand(params SubmitParams) []string

	// SetDescriptionCommand replaces the description of a job.
	SetDescriptionCommand(jobID, description string) []string

	// KillCommand kills all jobs with the given name.
	KillCommand(jobName string) []string

	// NothingToKill reports whether the output of a failed kill command
	// means that there was no job to kill.
	NothingToKill(output string) bool
}

// NewBackend returns the backend with the given name. The user is
// needed by schedulers that list every user's jobs by default.
func NewBackend(name, user string) (Backend, error) {
	switch name {
	case LSF:
		return lsfBackend{}, nil
	case Slurm:
		if user == "" {
			return nil, errors.NotValidf("slurm backend without a user")
		}
		return slurmBackend{user: user}, nil
	}
	return nil, errors.NotSupportedf("scheduler %q", name)
}

// Backends returns the names of the supported backends.
func Backends() []string {
	return []string{LSF, Slurm}
}
