// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/schema"
	"github.com/juju/utils/v4"
	"gopkg.in/juju/environschema.v1"
	"gopkg.in/yaml.v3"

	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/scheduler"
)

var logger = loggo.GetLogger("cluster-tunnel.config")

const (
	RelayHostKey       = "relay-host"
	SchedulerKey       = "scheduler"
	JobNameKey         = "job-name"
	SlotsKey           = "slots"
	ProjectKey         = "project"
	QueueKey           = "queue"
	WallTimeKey        = "wall-time"
	RemoteBinaryKey    = "remote-binary"
	StageBinaryKey     = "stage-binary"
	PollIntervalKey    = "poll-interval"
	WaitTimeoutKey     = "wait-timeout"
	MaxAttemptsKey     = "max-attempts"
	ForwardModeKey     = "forward-mode"
	SSHOptionsKey      = "ssh-options"
	RelayUserKey       = "relay-user"
	IdentityFilesKey   = "identity-files"
	KnownHostsKey      = "known-hosts"
	SSHDPathKey        = "sshd-path"
	SSHDArgsKey        = "sshd-args"
	HostKeyKey         = "host-key"
	GenerateHostKeyKey = "generate-host-key"
)

const (
	// ForwardOpenSSH forwards through "ssh -W".
	ForwardOpenSSH = "openssh"

	// ForwardNative forwards through a direct-tcpip channel opened in
	// process.
	ForwardNative = "native"
)

const (
	// PathEnvVar overrides the location of the configuration file.
	PathEnvVar = "CLUSTER_TUNNEL_CONFIG"

	// RemoteHome prefixes remote paths that are relative to the home
	// directory on the cluster. It is expanded by the remote shell.
	RemoteHome = "$HOME/"
)

var forwardModes = set.NewStrings(ForwardOpenSSH, ForwardNative)

var configSchema = environschema.Fields{
	RelayHostKey: {
		Description: "The login node that can reach the compute nodes and run scheduler commands.",
		Type:        environschema.Tstring,
		Mandatory:   true,
	},
	SchedulerKey: {
		Description: "The batch scheduler running the tunnel job.",
		Type:        environschema.Tstring,
		Values:      []interface{}{scheduler.LSF, scheduler.Slurm},
	},
	JobNameKey: {
		Description: "The reserved name of the tunnel job.",
		Type:        environschema.Tstring,
		Mandatory:   true,
	},
	SlotsKey: {
		Description: "The number of slots requested for the tunnel job.",
		Type:        environschema.Tint,
	},
	ProjectKey: {
		Description: "The project the tunnel job is charged to.",
		Type:        environschema.Tstring,
	},
	QueueKey: {
		Description: "The queue or partition the tunnel job is submitted to.",
		Type:        environschema.Tstring,
	},
	WallTimeKey: {
		Description: "The wall-clock limit of the tunnel job, e.g. 8h.",
		Type:        environschema.Tstring,
	},
	RemoteBinaryKey: {
		Description: "The path of this executable on the cluster. $HOME is expanded on the cluster.",
		Type:        environschema.Tstring,
	},
	StageBinaryKey: {
		Description: "Whether proxy copies this executable to the relay host before submitting.",
		Type:        environschema.Tbool,
	},
	PollIntervalKey: {
		Description: "The delay between job lookups while waiting for the tunnel.",
		Type:        environschema.Tstring,
	},
	WaitTimeoutKey: {
		Description: "How long proxy waits for the tunnel job to publish its endpoint.",
		Type:        environschema.Tstring,
	},
	MaxAttemptsKey: {
		Description: "The maximum number of job lookups while waiting. Zero means no limit.",
		Type:        environschema.Tint,
	},
	ForwardModeKey: {
		Description: "How proxy reaches the compute node through the relay host.",
		Type:        environschema.Tstring,
		Values:      []interface{}{ForwardOpenSSH, ForwardNative},
	},
	SSHOptionsKey: {
		Description: "Extra options passed to ssh, e.g. -oBatchMode=yes.",
		Type:        environschema.Tlist,
	},
	RelayUserKey: {
		Description: "The user name on the relay host. Defaults to the current user.",
		Type:        environschema.Tstring,
	},
	IdentityFilesKey: {
		Description: "Private keys tried by the native forwarder after the ssh agent.",
		Type:        environschema.Tlist,
	},
	KnownHostsKey: {
		Description: "The known_hosts file used by the native forwarder.",
		Type:        environschema.Tstring,
	},
	SSHDPathKey: {
		Description: "The sshd executable started on the compute node.",
		Type:        environschema.Tstring,
	},
	SSHDArgsKey: {
		Description: "Extra arguments passed to sshd.",
		Type:        environschema.Tlist,
	},
	HostKeyKey: {
		Description: "The host key file of the tunnel sshd.",
		Type:        environschema.Tstring,
	},
	GenerateHostKeyKey: {
		Description: "Whether a missing host key is generated.",
		Type:        environschema.Tbool,
	},
}

var configDefaults = schema.Defaults{
	RelayHostKey:       "login1.int.janelia.org",
	SchedulerKey:       scheduler.LSF,
	JobNameKey:         "tunnel",
	SlotsKey:           1,
	ProjectKey:         "scicompsoft",
	QueueKey:           "local",
	WallTimeKey:        "8h",
	RemoteBinaryKey:    RemoteHome + "cluster-tunnel",
	StageBinaryKey:     true,
	PollIntervalKey:    "1s",
	WaitTimeoutKey:     "10m",
	MaxAttemptsKey:     0,
	ForwardModeKey:     ForwardOpenSSH,
	SSHOptionsKey:      []interface{}{},
	RelayUserKey:       schema.Omit,
	IdentityFilesKey:   []interface{}{"~/.ssh/id_ed25519", "~/.ssh/id_ecdsa", "~/.ssh/id_rsa"},
	KnownHostsKey:      "~/.ssh/known_hosts",
	SSHDPathKey:        "/usr/sbin/sshd",
	SSHDArgsKey:        []interface{}{},
	HostKeyKey:         "~/.ssh/tunnel_key",
	GenerateHostKeyKey: true,
}

var configChecker = func() schema.Checker {
	fields, _, err := configSchema.ValidationSchema()
	if err != nil {
		panic(err)
	}
	return schema.FieldMap(fields, configDefaults)
}()

// Schema returns the configuration attributes with their descriptions.
func Schema() environschema.Fields {
	return configSchema
}

// Config holds validated tunnel configuration.
type Config struct {
	attrs map[string]interface{}
}

// New returns the configuration described by attrs, with defaults for
// missing attributes.
func New(attrs map[string]interface{}) (*Config, error) {
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	for key := range attrs {
		if _, ok := configSchema[key]; !ok {
			return nil, errors.NotValidf("unknown attribute %q", key)
		}
	}
	coerced, err := configChecker.Coerce(attrs, nil)
	if err != nil {
		return nil, errors.NewNotValid(err, "tunnel configuration")
	}
	cfg := &Config{attrs: coerced.(map[string]interface{})}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// Default returns the configuration with every attribute defaulted.
func Default() *Config {
	cfg, err := New(nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Apply returns a copy of the configuration with the given attributes
// replaced.
func (c *Config) Apply(overrides map[string]interface{}) (*Config, error) {
	attrs := c.AllAttrs()
	for key, value := range overrides {
		attrs[key] = value
	}
	return New(attrs)
}

// AllAttrs returns a copy of the configuration attributes.
func (c *Config) AllAttrs() map[string]interface{} {
	attrs := make(map[string]interface{}, len(c.attrs))
	for key, value := range c.attrs {
		attrs[key] = value
	}
	return attrs
}

// Validate checks the values that the schema cannot.
func (c *Config) Validate() error {
	if c.RelayHost() == "" {
		return errors.NotValidf("empty %s", RelayHostKey)
	}
	if c.JobName() == "" {
		return errors.NotValidf("empty %s", JobNameKey)
	}
	if _, err := scheduler.NewBackend(c.Scheduler(), "-"); err != nil {
		return errors.NotValidf("%s %q", SchedulerKey, c.Scheduler())
	}
	if !forwardModes.Contains(c.ForwardMode()) {
		return errors.NotValidf("%s %q", ForwardModeKey, c.ForwardMode())
	}
	if c.Slots() < 1 {
		return errors.NotValidf("%s %d", SlotsKey, c.Slots())
	}
	if c.MaxAttempts() < 0 {
		return errors.NotValidf("%s %d", MaxAttemptsKey, c.MaxAttempts())
	}
	for _, key := range []string{WallTimeKey, PollIntervalKey, WaitTimeoutKey} {
		d, err := c.duration(key)
		if err != nil {
			return errors.Trace(err)
		}
		if d <= 0 {
			return errors.NotValidf("%s %q: not positive", key, c.asString(key))
		}
	}
	if c.WallTime() < time.Minute {
		return errors.NotValidf("%s %q: less than a minute", WallTimeKey, c.asString(WallTimeKey))
	}
	if c.RemoteBinary() == "" {
		return errors.NotValidf("empty %s", RemoteBinaryKey)
	}
	return nil
}

func (c *Config) asString(key string) string {
	value, _ := c.attrs[key].(string)
	return value
}

func (c *Config) asInt(key string) int {
	switch value := c.attrs[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	}
	return 0
}

func (c *Config) asBool(key string) bool {
	value, _ := c.attrs[key].(bool)
	return value
}

func (c *Config) asList(key string) []string {
	switch value := c.attrs[key].(type) {
	case []string:
		return append([]string(nil), value...)
	case []interface{}:
		result := make([]string, 0, len(value))
		for _, v := range value {
			result = append(result, fmt.Sprint(v))
		}
		return result
	}
	return nil
}

func (c *Config) duration(key string) (time.Duration, error) {
	d, err := time.ParseDuration(c.asString(key))
	if err != nil {
		return 0, errors.NewNotValid(err, fmt.Sprintf("%s %q", key, c.asString(key)))
	}
	return d, nil
}

func (c *Config) mustDuration(key string) time.Duration {
	d, _ := c.duration(key)
	return d
}

func (c *Config) path(key string) string {
	value := c.asString(key)
	if value == "" {
		return ""
	}
	normalized, err := utils.NormalizePath(value)
	if err != nil {
		logger.Warningf("cannot expand %s %q: %v", key, value, err)
		return value
	}
	return normalized
}

// RelayHost returns the host name of the relay host.
func (c *Config) RelayHost() string { return c.asString(RelayHostKey) }

// RelayUser returns the configured relay user, or the empty string.
func (c *Config) RelayUser() string { return c.asString(RelayUserKey) }

// RelayAddress returns the ssh destination of the relay host.
func (c *Config) RelayAddress() string {
	if user := c.RelayUser(); user != "" {
		return user + "@" + c.RelayHost()
	}
	return c.RelayHost()
}

// ClusterUser returns the user owning the tunnel job: the relay user if
// configured, otherwise the local user.
func (c *Config) ClusterUser() (string, error) {
	if user := c.RelayUser(); user != "" {
		return user, nil
	}
	return LocalUser()
}

// Scheduler returns the scheduler backend name.
func (c *Config) Scheduler() string { return c.asString(SchedulerKey) }

// JobName returns the reserved job name.
func (c *Config) JobName() string { return c.asString(JobNameKey) }

// Slots returns the slot count of the job.
func (c *Config) Slots() int { return c.asInt(SlotsKey) }

// Project returns the project the job is charged to.
func (c *Config) Project() string { return c.asString(ProjectKey) }

// Queue returns the queue the job is submitted to.
func (c *Config) Queue() string { return c.asString(QueueKey) }

// WallTime returns the wall-clock limit of the job.
func (c *Config) WallTime() time.Duration { return c.mustDuration(WallTimeKey) }

// RemoteBinary returns the path of the executable on the cluster.
func (c *Config) RemoteBinary() string { return c.asString(RemoteBinaryKey) }

// StageBinary reports whether proxy stages the executable before
// submitting.
func (c *Config) StageBinary() bool { return c.asBool(StageBinaryKey) }

// PollInterval returns the delay between lookups.
func (c *Config) PollInterval() time.Duration { return c.mustDuration(PollIntervalKey) }

// WaitTimeout returns how long proxy waits for the endpoint.
func (c *Config) WaitTimeout() time.Duration { return c.mustDuration(WaitTimeoutKey) }

// MaxAttempts returns the lookup limit; zero means none.
func (c *Config) MaxAttempts() int { return c.asInt(MaxAttemptsKey) }

// ForwardMode returns ForwardOpenSSH or ForwardNative.
func (c *Config) ForwardMode() string { return c.asString(ForwardModeKey) }

// SSHOptions returns the extra ssh options.
func (c *Config) SSHOptions() []string { return c.asList(SSHOptionsKey) }

// IdentityFiles returns the expanded identity file paths.
func (c *Config) IdentityFiles() []string {
	var paths []string
	for _, p := range c.asList(IdentityFilesKey) {
		normalized, err := utils.NormalizePath(p)
		if err != nil {
			logger.Warningf("cannot expand identity file %q: %v", p, err)
			continue
		}
		paths = append(paths, normalized)
	}
	return paths
}

// KnownHosts returns the expanded known_hosts path.
func (c *Config) KnownHosts() string { return c.path(KnownHostsKey) }

// SSHDPath returns the sshd executable.
func (c *Config) SSHDPath() string { return c.asString(SSHDPathKey) }

// SSHDArgs returns the extra sshd arguments.
func (c *Config) SSHDArgs() []string { return c.asList(SSHDArgsKey) }

// HostKey returns the expanded host key path.
func (c *Config) HostKey() string { return c.path(HostKeyKey) }

// GenerateHostKey reports whether a missing host key is generated.
func (c *Config) GenerateHostKey() bool { return c.asBool(GenerateHostKeyKey) }

// LocalUser returns the name of the user running this process.
var LocalUser = func() (string, error) {
	if name := os.Getenv("USER"); name != "" {
		return name, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", errors.Annotate(err, "finding current user")
	}
	return u.Username, nil
}

// DefaultPath returns the configuration file location, honouring
// PathEnvVar.
func DefaultPath() (string, error) {
	if path := os.Getenv(PathEnvVar); path != "" {
		return path, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Annotate(err, "finding configuration directory")
	}
	return filepath.Join(dir, "cluster-tunnel", "config.yaml"), nil
}

// Load reads the configuration file at path. A missing file yields the
// default configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debugf("no configuration at %s, using defaults", path)
		return New(nil)
	} else if err != nil {
		return nil, errors.Annotatef(err, "reading %s", path)
	}
	return Parse(data)
}

// Parse returns the configuration held in YAML data.
func Parse(data []byte) (*Config, error) {
	attrs := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &attrs); err != nil {
		return nil, errors.Annotate(err, "parsing configuration")
	}
	cfg, err := New(attrs)
	return cfg, errors.Trace(err)
}
