// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package tunnel

import (
	"fmt"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// Program is the name the tunnel is invoked as.
const Program = "cluster-tunnel"

// Action is a role the program can play.
type Action string

const (
	// StartJob stages the executable on the relay host and queues the
	// job from there.
	StartJob Action = "start_job"

	// QueueJob submits the job unless it is already running.
	QueueJob Action = "queue_job"

	// RunJob is the body of the job on the compute node.
	RunJob Action = "run_job"

	// Proxy forwards stdin and stdout to the job's sshd, starting the
	// job if needed.
	Proxy Action = "proxy"

	// KillJob kills the job.
	KillJob Action = "kill_job"

	// Status reports the job's endpoint.
	Status Action = "status"

	// SSHConfig prints an ssh_config entry using Proxy.
	SSHConfig Action = "ssh_config"
)

var actions = set.NewStrings(
	string(StartJob),
	string(QueueJob),
	string(RunJob),
	string(Proxy),
	string(KillJob),
	string(Status),
	string(SSHConfig),
)

// Actions returns the valid action names, sorted.
func Actions() []string {
	return actions.SortedValues()
}

// Usage returns the one line usage summary.
func Usage() string {
	return fmt.Sprintf("usage %s [%s]", Program, strings.Join(Actions(), "|"))
}

// Decide picks the action to run. An explicit action wins; otherwise the
// relay host queues the job, a host holding a job token runs it, and
// anywhere else proxies.
func Decide(explicit string, isRelayHost, hasJobToken bool) (Action, error) {
	switch {
	case explicit != "":
		if !actions.Contains(explicit) {
			return "", errors.NewNotValid(nil, fmt.Sprintf("unknown action %q: %s", explicit, Usage()))
		}
		return Action(explicit), nil
	case isRelayHost:
		return QueueJob, nil
	case hasJobToken:
		return RunJob, nil
	}
	return Proxy, nil
}
