// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package relay_test

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/relay"
)

type opensshSuite struct {
	testing.IsolationSuite

	argv []string
}

var _ = gc.Suite(&opensshSuite{})

// fakeSSH replaces ssh with the given shell script, recording the
// arguments ssh would have had.
func (s *opensshSuite) fakeSSH(script string) {
	s.PatchValue(relay.ExecCommand, func(ctx context.Context, name string, args ...string) *exec.Cmd {
		s.argv = append([]string{name}, args...)
		return exec.CommandContext(ctx, "/bin/sh", "-c", script)
	})
}

func (s *opensshSuite) TestCommand(c *gc.C) {
	d := relay.OpenSSHDialer{
		Relay:   "alice@login1",
		Options: []string{"-oBatchMode=yes"},
	}
	c.Check(d.Command("nodeA", 40123), jc.DeepEquals, []string{
		"ssh", "-oBatchMode=yes", "-W", "nodeA:40123", "alice@login1",
	})
}

func (s *opensshSuite) TestDialRelaysStreams(c *gc.C) {
	// The fake answers only once its input is closed, like a server
	// replying after the client has finished sending.
	s.fakeSSH(`data=$(while IFS= read -r line; do echo "$line"; done); echo "got $data"`)

	d := relay.OpenSSHDialer{Relay: "login1"}
	conn, err := d.Dial(context.Background(), "nodeA", 40123)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.argv, jc.DeepEquals, []string{"ssh", "-W", "nodeA:40123", "login1"})

	var out bytes.Buffer
	err = relay.Pipe(conn, bytes.NewBufferString("hello\n"), &out)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(out.String(), gc.Equals, "got hello\n")
	c.Check(conn.Close(), jc.ErrorIsNil)
}

func (s *opensshSuite) TestCloseReportsFailure(c *gc.C) {
	s.fakeSSH(`echo "channel 0: open failed" >&2; exit 255`)

	var stderr bytes.Buffer
	d := relay.OpenSSHDialer{Relay: "login1", Stderr: &stderr}
	conn, err := d.Dial(context.Background(), "nodeA", 40123)
	c.Assert(err, jc.ErrorIsNil)

	_, err = io.ReadAll(conn)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(conn.Close(), gc.ErrorMatches, `ssh: exit status 255`)
	c.Check(stderr.String(), gc.Equals, "channel 0: open failed\n")
}

func (s *opensshSuite) TestCloseKillsLingeringSSH(c *gc.C) {
	s.PatchValue(relay.CloseGrace, 10*time.Millisecond)
	// The shell ignores its closed stdin and keeps running.
	s.fakeSSH(`while :; do :; done`)

	d := relay.OpenSSHDialer{Relay: "login1"}
	conn, err := d.Dial(context.Background(), "nodeA", 40123)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(conn.Close(), jc.ErrorIsNil)
}

func (s *opensshSuite) TestDialNeedsRelay(c *gc.C) {
	_, err := relay.OpenSSHDialer{}.Dial(context.Background(), "nodeA", 40123)
	c.Assert(err, jc.Satisfies, errors.IsNotValid)
}
