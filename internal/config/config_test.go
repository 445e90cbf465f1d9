// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package config_test

import (
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/config"
)

type configSuite struct {
	testing.IsolationSuite

	home string
}

var _ = gc.Suite(&configSuite{})

func (s *configSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.home = c.MkDir()
	s.PatchEnvironment("HOME", s.home)
}

func (s *configSuite) TestDefaults(c *gc.C) {
	cfg := config.Default()

	c.Check(cfg.RelayHost(), gc.Equals, "login1.int.janelia.org")
	c.Check(cfg.RelayAddress(), gc.Equals, "login1.int.janelia.org")
	c.Check(cfg.Scheduler(), gc.Equals, "lsf")
	c.Check(cfg.JobName(), gc.Equals, "tunnel")
	c.Check(cfg.Slots(), gc.Equals, 1)
	c.Check(cfg.Project(), gc.Equals, "scicompsoft")
	c.Check(cfg.Queue(), gc.Equals, "local")
	c.Check(cfg.WallTime(), gc.Equals, 8*time.Hour)
	c.Check(cfg.RemoteBinary(), gc.Equals, "$HOME/cluster-tunnel")
	c.Check(cfg.StageBinary(), jc.IsTrue)
	c.Check(cfg.PollInterval(), gc.Equals, time.Second)
	c.Check(cfg.WaitTimeout(), gc.Equals, 10*time.Minute)
	c.Check(cfg.MaxAttempts(), gc.Equals, 0)
	c.Check(cfg.ForwardMode(), gc.Equals, config.ForwardOpenSSH)
	c.Check(cfg.SSHOptions(), gc.HasLen, 0)
	c.Check(cfg.RelayUser(), gc.Equals, "")
	c.Check(cfg.SSHDPath(), gc.Equals, "/usr/sbin/sshd")
	c.Check(cfg.SSHDArgs(), gc.HasLen, 0)
	c.Check(cfg.GenerateHostKey(), jc.IsTrue)
}

func (s *configSuite) TestDefaultPathsExpandHome(c *gc.C) {
	cfg := config.Default()

	c.Check(cfg.HostKey(), gc.Equals, filepath.Join(s.home, ".ssh", "tunnel_key"))
	c.Check(cfg.KnownHosts(), gc.Equals, filepath.Join(s.home, ".ssh", "known_hosts"))
	c.Check(cfg.IdentityFiles(), jc.DeepEquals, []string{
		filepath.Join(s.home, ".ssh", "id_ed25519"),
		filepath.Join(s.home, ".ssh", "id_ecdsa"),
		filepath.Join(s.home, ".ssh", "id_rsa"),
	})
}

func (s *configSuite) TestParse(c *gc.C) {
	cfg, err := config.Parse([]byte(`
relay-host: login2.example.com
relay-user: alice
scheduler: slurm
job-name: vscode
slots: 4
wall-time: 2h30m
poll-interval: 5s
wait-timeout: 1m
max-attempts: 12
forward-mode: native
ssh-options: [-oBatchMode=yes, -oConnectTimeout=10]
sshd-args: [-e]
stage-binary: false
`))
	c.Assert(err, jc.ErrorIsNil)

	c.Check(cfg.RelayHost(), gc.Equals, "login2.example.com")
	c.Check(cfg.RelayAddress(), gc.Equals, "alice@login2.example.com")
	c.Check(cfg.Scheduler(), gc.Equals, "slurm")
	c.Check(cfg.JobName(), gc.Equals, "vscode")
	c.Check(cfg.Slots(), gc.Equals, 4)
	c.Check(cfg.WallTime(), gc.Equals, 150*time.Minute)
	c.Check(cfg.PollInterval(), gc.Equals, 5*time.Second)
	c.Check(cfg.WaitTimeout(), gc.Equals, time.Minute)
	c.Check(cfg.MaxAttempts(), gc.Equals, 12)
	c.Check(cfg.ForwardMode(), gc.Equals, config.ForwardNative)
	c.Check(cfg.SSHOptions(), jc.DeepEquals, []string{"-oBatchMode=yes", "-oConnectTimeout=10"})
	c.Check(cfg.SSHDArgs(), jc.DeepEquals, []string{"-e"})
	c.Check(cfg.StageBinary(), jc.IsFalse)
	// Unset attributes keep their defaults.
	c.Check(cfg.Project(), gc.Equals, "scicompsoft")
}

func (s *configSuite) TestParseInvalid(c *gc.C) {
	for i, t := range []struct {
		yaml   string
		expect string
	}{{
		yaml:   "scheduler: pbs",
		expect: `.*scheduler.*`,
	}, {
		yaml:   "forward-mode: carrier-pigeon",
		expect: `.*forward-mode.*`,
	}, {
		yaml:   "slots: 0",
		expect: `slots 0 not valid`,
	}, {
		yaml:   "max-attempts: -1",
		expect: `max-attempts -1 not valid`,
	}, {
		yaml:   "wait-timeout: soon",
		expect: `wait-timeout "soon": .*`,
	}, {
		yaml:   "poll-interval: -1s",
		expect: `poll-interval "-1s": not positive not valid`,
	}, {
		yaml:   "wall-time: 30s",
		expect: `wall-time "30s": less than a minute not valid`,
	}, {
		yaml:   "relay-host: ''",
		expect: `empty relay-host not valid`,
	}, {
		yaml:   "favourite-colour: blue",
		expect: `unknown attribute "favourite-colour" not valid`,
	}} {
		c.Logf("test %d: %s", i, t.yaml)
		_, err := config.Parse([]byte(t.yaml))
		c.Check(err, gc.ErrorMatches, t.expect)
		c.Check(err, jc.Satisfies, errors.IsNotValid)
	}
}

func (s *configSuite) TestParseMalformedYAML(c *gc.C) {
	_, err := config.Parse([]byte("relay-host: [unterminated"))
	c.Assert(err, gc.ErrorMatches, `parsing configuration: .*`)
}

func (s *configSuite) TestApply(c *gc.C) {
	cfg, err := config.Default().Apply(map[string]interface{}{
		config.RelayHostKey:   "login3",
		config.WaitTimeoutKey: "30s",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.RelayHost(), gc.Equals, "login3")
	c.Check(cfg.WaitTimeout(), gc.Equals, 30*time.Second)
	c.Check(cfg.JobName(), gc.Equals, "tunnel")

	// The original is unchanged.
	c.Check(config.Default().RelayHost(), gc.Equals, "login1.int.janelia.org")
}

func (s *configSuite) TestApplyInvalid(c *gc.C) {
	_, err := config.Default().Apply(map[string]interface{}{
		config.SchedulerKey: "pbs",
	})
	c.Assert(err, jc.Satisfies, errors.IsNotValid)
}

func (s *configSuite) TestLoadMissingFileGivesDefaults(c *gc.C) {
	cfg, err := config.Load(filepath.Join(c.MkDir(), "missing.yaml"))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.AllAttrs(), jc.DeepEquals, config.Default().AllAttrs())
}

func (s *configSuite) TestLoad(c *gc.C) {
	path := filepath.Join(c.MkDir(), "config.yaml")
	err := os.WriteFile(path, []byte("job-name: mine\n"), 0600)
	c.Assert(err, jc.ErrorIsNil)

	cfg, err := config.Load(path)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.JobName(), gc.Equals, "mine")
}

func (s *configSuite) TestDefaultPath(c *gc.C) {
	path, err := config.DefaultPath()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(path, gc.Equals, filepath.Join(s.home, ".config", "cluster-tunnel", "config.yaml"))

	s.PatchEnvironment(config.PathEnvVar, "/etc/cluster-tunnel.yaml")
	path, err = config.DefaultPath()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(path, gc.Equals, "/etc/cluster-tunnel.yaml")
}

func (s *configSuite) TestClusterUser(c *gc.C) {
	s.PatchValue(&config.LocalUser, func() (string, error) { return "local", nil })

	user, err := config.Default().ClusterUser()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(user, gc.Equals, "local")

	cfg, err := config.Default().Apply(map[string]interface{}{config.RelayUserKey: "alice"})
	c.Assert(err, jc.ErrorIsNil)
	user, err = cfg.ClusterUser()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(user, gc.Equals, "alice")
}

func (s *configSuite) TestSchemaDescribesEveryAttribute(c *gc.C) {
	for key := range config.Default().AllAttrs() {
		attr, ok := config.Schema()[key]
		c.Check(ok, jc.IsTrue, gc.Commentf("%s", key))
		c.Check(attr.Description, gc.Not(gc.Equals), "", gc.Commentf("%s", key))
	}
}
