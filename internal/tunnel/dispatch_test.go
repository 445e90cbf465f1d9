// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package tunnel_test

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/tunnel"
)

type dispatchSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&dispatchSuite{})

func (s *dispatchSuite) TestDecide(c *gc.C) {
	for i, t := range []struct {
		explicit string
		relay    bool
		token    bool
		expected tunnel.Action
	}{
		{"", false, false, tunnel.Proxy},
		{"", true, false, tunnel.QueueJob},
		{"", false, true, tunnel.RunJob},
		// The relay host wins over a job token.
		{"", true, true, tunnel.QueueJob},
		// An explicit action wins over everything.
		{"kill_job", true, true, tunnel.KillJob},
		{"start_job", false, false, tunnel.StartJob},
		{"proxy", true, false, tunnel.Proxy},
		{"run_job", false, false, tunnel.RunJob},
		{"queue_job", false, true, tunnel.QueueJob},
		{"status", false, false, tunnel.Status},
		{"ssh_config", false, false, tunnel.SSHConfig},
	} {
		action, err := tunnel.Decide(t.explicit, t.relay, t.token)
		c.Check(err, jc.ErrorIsNil)
		c.Check(action, gc.Equals, t.expected, gc.Commentf("test %d", i))
	}
}

func (s *dispatchSuite) TestDecideUnknown(c *gc.C) {
	_, err := tunnel.Decide("frobnicate", false, false)
	c.Assert(err, gc.ErrorMatches,
		`unknown action "frobnicate": usage cluster-tunnel \[kill_job\|proxy\|queue_job\|run_job\|ssh_config\|start_job\|status\]`)
	c.Check(err, jc.Satisfies, errors.IsNotValid)
}

func (s *dispatchSuite) TestActions(c *gc.C) {
	c.Check(tunnel.Actions(), jc.DeepEquals, []string{
		"kill_job", "proxy", "queue_job", "run_job", "ssh_config", "start_job", "status",
	})
}
