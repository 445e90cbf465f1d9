// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"

	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/config"
	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/network"
	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/relay"
	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/scheduler"
	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/tunnel"
)

var logger = loggo.GetLogger("cluster-tunnel.commands")

// LoggingConfigEnvVar holds the default loggo configuration.
const LoggingConfigEnvVar = "CLUSTER_TUNNEL_LOGGING_CONFIG"

const (
	// relayDialTimeout bounds the native dialer's connection to the relay host.
	relayDialTimeout = 30 * time.Second

	// verifyTimeout bounds the host key check of status --verify.
	verifyTimeout = 30 * time.Second
)

const usageDoc = `
cluster-tunnel runs a private sshd inside a batch job and lets a local ssh
client reach it through the cluster's relay (login) host. Point an ssh
ProxyCommand at "cluster-tunnel proxy"; ssh_config prints such an entry.

Without an action, the relay host queues the job, a node inside the job
runs it, and any other host proxies.

Actions:
    start_job   copy this executable to the relay host and queue the job there
    queue_job   submit the job unless it is already running
    run_job     publish a port and run sshd (inside the job)
    proxy       connect stdin and stdout to the job's sshd, starting it if needed
    kill_job    kill the job
    status      print the job's endpoint
    ssh_config  print an ssh_config entry for the tunnel

Settings are read from $CLUSTER_TUNNEL_CONFIG or
~/.config/cluster-tunnel/config.yaml and may be overridden by options.
`

// dependencies are the parts of the environment the command reaches
// outside the process for.
type dependencies struct {
	isLocalHost func(string) (bool, error)
	getenv      func(string) string
	executable  func() (string, error)
	localRunner scheduler.Runner
	relayRunner func(address string) scheduler.Runner
	relayCopier func(address string) scheduler.Copier
	newDialer   func(cfg *config.Config, stderr io.Writer, agentSocket string) (relay.Dialer, error)
	clock       clock.Clock
}

func defaultDependencies() dependencies {
	return dependencies{
		isLocalHost: network.IsLocalHost,
		getenv:      os.Getenv,
		executable:  os.Executable,
		localRunner: scheduler.LocalRunner{},
		relayRunner: func(address string) scheduler.Runner {
			return scheduler.RelayRunner{Host: address}
		},
		relayCopier: func(address string) scheduler.Copier {
			return scheduler.RelayCopier{Host: address}
		},
		newDialer: newDialer,
		clock:     clock.WallClock,
	}
}

// newDialer returns the dialer for the configured forward mode. The
// agent socket is only used by the native mode.
func newDialer(cfg *config.Config, stderr io.Writer, agentSocket string) (relay.Dialer, error) {
	if cfg.ForwardMode() == config.ForwardOpenSSH {
		return relay.OpenSSHDialer{
			Relay:   cfg.RelayAddress(),
			Options: cfg.SSHOptions(),
			Stderr:  stderr,
		}, nil
	}
	user, err := cfg.ClusterUser()
	if err != nil {
		return nil, errors.Trace(err)
	}
	dialer, err := relay.NewNativeDialer(relay.NativeConfig{
		Relay:         cfg.RelayHost(),
		User:          user,
		IdentityFiles: cfg.IdentityFiles(),
		KnownHosts:    cfg.KnownHosts(),
		AgentSocket:   agentSocket,
		Timeout:       relayDialTimeout,
	})
	return dialer, errors.Trace(err)
}

// TunnelCommand is the single command of the cluster-tunnel executable.
type TunnelCommand struct {
	cmd.CommandBase

	deps dependencies
	out  cmd.Output
	log  cmd.Log

	configPath    string
	relayHost     string
	schedulerName string
	jobName       string
	waitTimeout   string
	pollInterval  string
	forwardMode   string
	slots         string
	project       string
	queue         string
	wallTime      string
	remoteBinary  string
	verify        bool

	// flags is kept to tell set options from defaulted ones.
	flags *gnuflag.FlagSet

	action string
}

// NewTunnelCommand returns the cluster-tunnel command.
func NewTunnelCommand() cmd.Command {
	return newTunnelCommand(defaultDependencies())
}

func newTunnelCommand(deps dependencies) *TunnelCommand {
	return &TunnelCommand{
		deps: deps,
		log: cmd.Log{
			DefaultConfig: deps.getenv(LoggingConfigEnvVar),
		},
	}
}

// Info implements cmd.Command.
func (c *TunnelCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    tunnel.Program,
		Args:    "[action]",
		Purpose: "reach an sshd running inside a batch job",
		Doc:     usageDoc,
	}
}

// SetFlags implements cmd.Command.
func (c *TunnelCommand) SetFlags(f *gnuflag.FlagSet) {
	c.CommandBase.SetFlags(f)
	c.log.AddFlags(f)
	c.out.AddFlags(f, "yaml", map[string]cmd.Formatter{
		"yaml": cmd.FormatYaml,
		"json": cmd.FormatJson,
	})
	f.StringVar(&c.configPath, "config", "", "path to the configuration file")
	f.StringVar(&c.relayHost, "relay-host", "", "ssh destination of the relay host")
	f.StringVar(&c.schedulerName, "scheduler", "", "batch scheduler (lsf or slurm)")
	f.StringVar(&c.jobName, "job-name", "", "name of the tunnel job")
	f.StringVar(&c.waitTimeout, "wait-timeout", "", "how long proxy waits for the job to start")
	f.StringVar(&c.pollInterval, "poll-interval", "", "delay between job lookups")
	f.StringVar(&c.forwardMode, "forward-mode", "", "how proxy forwards (openssh or native)")
	f.StringVar(&c.slots, "slots", "", "slots requested for the job")
	f.StringVar(&c.project, "project", "", "project the job is charged to")
	f.StringVar(&c.queue, "queue", "", "queue or partition of the job")
	f.StringVar(&c.wallTime, "wall-time", "", "wall-clock limit of the job")
	f.StringVar(&c.remoteBinary, "remote-binary", "", "path of this executable on the cluster")
	f.BoolVar(&c.verify, "verify", false, "with status, check the host key of the job's sshd")
	c.flags = f
}

// Init implements cmd.Command.
func (c *TunnelCommand) Init(args []string) error {
	if len(args) > 0 {
		c.action, args = args[0], args[1:]
		if _, err := tunnel.Decide(c.action, false, false); err != nil {
			return err
		}
	}
	return cmd.CheckEmpty(args)
}

// overrides returns the configuration attributes given as options. An
// option set to the empty string still overrides the file.
func (c *TunnelCommand) overrides() map[string]interface{} {
	values := map[string]*string{
		config.RelayHostKey:    &c.relayHost,
		config.SchedulerKey:    &c.schedulerName,
		config.JobNameKey:      &c.jobName,
		config.WaitTimeoutKey:  &c.waitTimeout,
		config.PollIntervalKey: &c.pollInterval,
		config.ForwardModeKey:  &c.forwardMode,
		config.SlotsKey:        &c.slots,
		config.ProjectKey:      &c.project,
		config.QueueKey:        &c.queue,
		config.WallTimeKey:     &c.wallTime,
		config.RemoteBinaryKey: &c.remoteBinary,
	}
	attrs := make(map[string]interface{})
	if c.flags == nil {
		return attrs
	}
	c.flags.Visit(func(flag *gnuflag.Flag) {
		if value, ok := values[flag.Name]; ok {
			attrs[flag.Name] = *value
		}
	})
	return attrs
}

func (c *TunnelCommand) loadConfig() (*config.Config, error) {
	path := c.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cfg, err = cfg.Apply(c.overrides())
	return cfg, errors.Trace(err)
}

// Run implements cmd.Command.
func (c *TunnelCommand) Run(ctx *cmd.Context) error {
	if !c.log.Quiet {
		c.log.ShowLog = true
	}
	if err := c.log.Start(ctx); err != nil {
		return errors.Trace(err)
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return errors.Trace(err)
	}

	stdctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	onRelay, err := c.deps.isLocalHost(cfg.RelayHost())
	if err != nil {
		return errors.Trace(err)
	}
	user, err := cfg.ClusterUser()
	if err != nil {
		return errors.Trace(err)
	}
	backend, err := scheduler.NewBackend(cfg.Scheduler(), user)
	if err != nil {
		return errors.Trace(err)
	}
	hasToken := c.deps.getenv(backend.JobIDEnvVar()) != ""
	action, err := tunnel.Decide(c.action, onRelay, hasToken)
	if err != nil {
		return errors.Trace(err)
	}
	logger.Debugf("running %s with the %s scheduler (relay host: %v)", action, backend.Name(), onRelay)

	s, err := c.newSession(cfg, backend, user, action, onRelay)
	if err != nil {
		return errors.Trace(err)
	}
	switch action {
	case tunnel.StartJob:
		return s.startJob(stdctx)
	case tunnel.QueueJob:
		return s.submit(stdctx)
	case tunnel.RunJob:
		return s.runJob(stdctx)
	case tunnel.Proxy:
		return s.proxy(stdctx, ctx)
	case tunnel.KillJob:
		return errors.Trace(s.controller.Terminate(stdctx))
	case tunnel.Status:
		return s.status(stdctx, ctx)
	case tunnel.SSHConfig:
		return s.sshConfig(ctx)
	}
	return errors.NotSupportedf("action %q", action)
}
