// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/kballard/go-shellquote"

	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/config"
	tunnelssh "github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/network/ssh"
	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/scheduler"
	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/tunnel"
)

// session holds what one invocation needs to carry out its action.
type session struct {
	cmd     *TunnelCommand
	cfg     *config.Config
	backend scheduler.Backend
	user    string
	onRelay bool

	client     *scheduler.Client
	resolver   *tunnel.Resolver
	controller *tunnel.Controller
}

func (c *TunnelCommand) newSession(cfg *config.Config, backend scheduler.Backend, user string, action tunnel.Action, onRelay bool) (*session, error) {
	address := cfg.RelayAddress()

	// Scheduler commands run in process on the relay host and inside the
	// job; anywhere else they go through the relay host.
	runner := c.deps.localRunner
	if !onRelay && action != tunnel.RunJob {
		runner = c.deps.relayRunner(address)
	}
	client := scheduler.NewClient(backend, runner)

	resolver, err := tunnel.NewResolver(tunnel.ResolverConfig{
		Scheduler:    client,
		JobName:      cfg.JobName(),
		UnsetMarkers: backend.UnsetMarkers(),
		Logger:       logger,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	executable, err := c.deps.executable()
	if err != nil {
		return nil, errors.Annotate(err, "finding this executable")
	}
	controller, err := tunnel.NewController(tunnel.ControllerConfig{
		Resolver:  resolver,
		Scheduler: client,
		Job: scheduler.SubmitParams{
			Slots:    cfg.Slots(),
			Project:  cfg.Project(),
			JobName:  cfg.JobName(),
			Queue:    cfg.Queue(),
			WallTime: cfg.WallTime(),
			Command:  tunnel.JobCommand(cfg.RemoteBinary(), backend.Name()),
		},
		Copier:       c.deps.relayCopier(address),
		RelayRunner:  c.deps.relayRunner(address),
		LocalBinary:  executable,
		RemoteBinary: cfg.RemoteBinary(),
		QueueArgs:    c.queueArgs(cfg, backend),
		Logger:       logger,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &session{
		cmd:        c,
		cfg:        cfg,
		backend:    backend,
		user:       user,
		onRelay:    onRelay,
		client:     client,
		resolver:   resolver,
		controller: controller,
	}, nil
}

// queueArgs returns the options that make the staged executable submit
// the job this configuration describes, whatever configuration the relay
// host has of its own.
func (c *TunnelCommand) queueArgs(cfg *config.Config, backend scheduler.Backend) []string {
	var args []string
	if c.configPath != "" {
		args = append(args, "--config", c.configPath)
	}
	return append(args,
		"--relay-host", cfg.RelayHost(),
		"--scheduler", backend.Name(),
		"--job-name", cfg.JobName(),
		"--slots", strconv.Itoa(cfg.Slots()),
		"--project", cfg.Project(),
		"--queue", cfg.Queue(),
		"--wall-time", cfg.WallTime().String(),
		"--remote-binary", cfg.RemoteBinary(),
	)
}

func (s *session) submit(ctx context.Context) error {
	_, err := s.controller.Submit(ctx)
	return errors.Trace(err)
}

// startJob queues the job from the relay host, staging this executable
// there first unless it is already running on it.
func (s *session) startJob(ctx context.Context) error {
	if s.onRelay {
		return s.submit(ctx)
	}
	return errors.Trace(s.controller.Stage(ctx))
}

func (s *session) runJob(ctx context.Context) error {
	name := s.backend.JobIDEnvVar()
	jobID := s.cmd.deps.getenv(name)
	if jobID == "" {
		return errors.NotFoundf("job id in $%s", name)
	}
	agent, err := tunnel.NewAgent(tunnel.AgentConfig{
		Scheduler:       s.client,
		SSHDPath:        s.cfg.SSHDPath(),
		SSHDArgs:        s.cfg.SSHDArgs(),
		HostKey:         s.cfg.HostKey(),
		GenerateHostKey: s.cfg.GenerateHostKey(),
		Logger:          logger,
	})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(agent.Run(ctx, jobID))
}

func (s *session) proxy(ctx context.Context, cmdCtx *cmd.Context) error {
	start := s.submit
	if s.cfg.StageBinary() && !s.onRelay {
		start = s.controller.Stage
	}
	dialer, err := s.cmd.deps.newDialer(s.cfg, cmdCtx.Stderr, s.cmd.deps.getenv("SSH_AUTH_SOCK"))
	if err != nil {
		return errors.Trace(err)
	}
	forwarder, err := tunnel.NewForwarder(tunnel.ForwarderConfig{
		Resolver:     s.resolver,
		Start:        start,
		Dialer:       dialer,
		Stdin:        cmdCtx.Stdin,
		Stdout:       cmdCtx.Stdout,
		JobName:      s.cfg.JobName(),
		PollInterval: s.cfg.PollInterval(),
		WaitTimeout:  s.cfg.WaitTimeout(),
		MaxAttempts:  s.cfg.MaxAttempts(),
		Clock:        s.cmd.deps.clock,
		Logger:       logger,
	})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(forwarder.Proxy(ctx))
}

// statusInfo is the output of the status action.
type statusInfo struct {
	Job       string `yaml:"job" json:"job"`
	Scheduler string `yaml:"scheduler" json:"scheduler"`
	RelayHost string `yaml:"relay-host" json:"relay-host"`
	Resolved  bool   `yaml:"resolved" json:"resolved"`
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// Verified is only set by --verify on a resolved endpoint.
	Verified *bool `yaml:"verified,omitempty" json:"verified,omitempty"`
}

func (s *session) status(ctx context.Context, cmdCtx *cmd.Context) error {
	endpoint, err := s.resolver.Resolve(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	info := statusInfo{
		Job:       s.cfg.JobName(),
		Scheduler: s.backend.Name(),
		RelayHost: s.cfg.RelayHost(),
		Resolved:  endpoint.Resolved(),
	}
	if endpoint.Resolved() {
		info.Endpoint = endpoint.Address()
		if s.cmd.verify {
			verified, err := s.verifyHostKey(ctx, cmdCtx, endpoint)
			if err != nil {
				return errors.Trace(err)
			}
			info.Verified = &verified
		}
	}
	return s.cmd.out.Write(cmdCtx, info)
}

// verifyHostKey reports whether the sshd at endpoint, reached through the
// relay host, presents the public half of the configured host key.
func (s *session) verifyHostKey(ctx context.Context, cmdCtx *cmd.Context, endpoint tunnel.Endpoint) (bool, error) {
	path := s.cfg.HostKey() + ".pub"
	publicKey, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, errors.NotFoundf("host public key %s", path)
	} else if err != nil {
		return false, errors.Trace(err)
	}

	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	dialer, err := s.cmd.deps.newDialer(s.cfg, cmdCtx.Stderr, s.cmd.deps.getenv("SSH_AUTH_SOCK"))
	if err != nil {
		return false, errors.Trace(err)
	}
	conn, err := dialer.Dial(ctx, endpoint.Host, endpoint.Port)
	if err != nil {
		return false, errors.Annotatef(err, "connecting to %s", endpoint)
	}
	checker := tunnelssh.NewHostKeyChecker([]string{string(publicKey)})
	err = checker.Check(ctx, conn, endpoint.Address())
	if errors.IsNotValid(err) {
		logger.Warningf("%v", err)
		return false, nil
	}
	return err == nil, errors.Trace(err)
}

// sshConfig prints a Host entry whose ProxyCommand runs the proxy action
// of this executable. The host key alias keeps one known_hosts entry valid
// whichever node the job lands on.
func (s *session) sshConfig(cmdCtx *cmd.Context) error {
	executable, err := s.cmd.deps.executable()
	if err != nil {
		return errors.Annotate(err, "finding this executable")
	}
	argv := []string{executable, "--quiet"}
	if s.cmd.configPath != "" {
		argv = append(argv, "--config", s.cmd.configPath)
	}
	argv = append(argv,
		"--relay-host", s.cfg.RelayHost(),
		"--scheduler", s.backend.Name(),
		"--job-name", s.cfg.JobName(),
		string(tunnel.Proxy),
	)
	name := s.cfg.JobName()
	_, err = fmt.Fprintf(cmdCtx.Stdout,
		"Host %s\n    HostName %s\n    User %s\n    HostKeyAlias %s-%s\n    ProxyCommand %s\n",
		name, name, s.user, tunnel.Program, name, shellquote.Join(argv...),
	)
	return errors.Trace(err)
}
