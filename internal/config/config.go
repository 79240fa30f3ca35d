package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/imkarma/drover/internal/store"
)

// EnvPrefix prefixes environment overrides, e.g. DROVER_DEFAULTS_MAX_PARALLEL_TASKS.
const EnvPrefix = "DROVER"

// Config is the root configuration for a drover project.
type Config struct {
	Version    int              `yaml:"version" mapstructure:"version"`
	Store      string           `yaml:"store" mapstructure:"store"`
	Defaults   Defaults         `yaml:"defaults" mapstructure:"defaults"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Approval   ApprovalConfig   `yaml:"approval" mapstructure:"approval"`
	Dispatch   Dispatch         `yaml:"dispatch" mapstructure:"dispatch"`
	Hosts      []Host           `yaml:"hosts" mapstructure:"hosts"`
}

// Defaults are the run limits used when no flag overrides them.
type Defaults struct {
	MaxTasksPerHost  int `yaml:"max_tasks_per_host" mapstructure:"max_tasks_per_host"`
	MaxParallelTasks int `yaml:"max_parallel_tasks" mapstructure:"max_parallel_tasks"`
	HostCapacity     int `yaml:"host_capacity" mapstructure:"host_capacity"`
	MaxIterations    int `yaml:"max_iterations" mapstructure:"max_iterations"`
}

// ClassifierConfig tunes the classifier rule table.
type ClassifierConfig struct {
	BackgroundIDPrefixes []string `yaml:"background_id_prefixes" mapstructure:"background_id_prefixes"`
}

// ApprovalConfig sets the statuses the batch approval pass moves between.
type ApprovalConfig struct {
	From string `yaml:"from" mapstructure:"from"`
	To   string `yaml:"to" mapstructure:"to"`
}

// Dispatch describes how assigned tasks are started on their hosts.
type Dispatch struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Cmd runs inside the host's project path with the task brief on stdin.
	Cmd  string   `yaml:"cmd" mapstructure:"cmd"`
	Args []string `yaml:"args,omitempty" mapstructure:"args"`
	// SSH is the ssh binary used for remote hosts.
	SSH        string   `yaml:"ssh,omitempty" mapstructure:"ssh"`
	SSHArgs    []string `yaml:"ssh_args,omitempty" mapstructure:"ssh_args"`
	TimeoutSec int      `yaml:"timeout_sec,omitempty" mapstructure:"timeout_sec"` // per task, 0 = default 600
}

// Host is a worker host as written in the config file.
type Host struct {
	ID          string `yaml:"id" mapstructure:"id"`
	Hostname    string `yaml:"hostname" mapstructure:"hostname"`
	ProjectPath string `yaml:"project_path,omitempty" mapstructure:"project_path"`
	Capacity    int    `yaml:"capacity,omitempty" mapstructure:"capacity"`
}

// DefaultTimeout returns the effective per-task dispatch timeout in seconds.
func (d Dispatch) DefaultTimeout() int {
	if d.TimeoutSec > 0 {
		return d.TimeoutSec
	}
	return 600
}

// SSHBinary returns the ssh command to use.
func (d Dispatch) SSHBinary() string {
	if d.SSH != "" {
		return d.SSH
	}
	return "ssh"
}

// EffectiveSSHArgs returns the ssh options, forcing non-interactive mode so a
// dispatch never blocks on a password prompt.
func (d Dispatch) EffectiveSSHArgs() []string {
	args := make([]string, len(d.SSHArgs))
	copy(args, d.SSHArgs)
	if !containsAny(args, "BatchMode=yes", "BatchMode=no") {
		args = appendFront(args, "-o", "BatchMode=yes")
	}
	return args
}

// Load reads the config file at path. Built-in defaults fill anything the
// file leaves out and DROVER_* environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the config to the given path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns a starter config with this machine as the only host.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Store:   ".drover/backlog.json",
		Defaults: Defaults{
			MaxTasksPerHost:  5,
			MaxParallelTasks: 10,
			HostCapacity:     5,
			MaxIterations:    5,
		},
		Classifier: ClassifierConfig{
			BackgroundIDPrefixes: []string{"BG-"},
		},
		Approval: ApprovalConfig{
			From: string(store.StatusReview),
			To:   string(store.StatusTodo),
		},
		Dispatch: Dispatch{
			Enabled:    false,
			Cmd:        "drover-exec",
			TimeoutSec: 600,
		},
		Hosts: []Host{
			{ID: "local", Hostname: "localhost", Capacity: 5},
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("store", d.Store)
	v.SetDefault("defaults.max_tasks_per_host", d.Defaults.MaxTasksPerHost)
	v.SetDefault("defaults.max_parallel_tasks", d.Defaults.MaxParallelTasks)
	v.SetDefault("defaults.host_capacity", d.Defaults.HostCapacity)
	v.SetDefault("defaults.max_iterations", d.Defaults.MaxIterations)
	v.SetDefault("classifier.background_id_prefixes", d.Classifier.BackgroundIDPrefixes)
	v.SetDefault("approval.from", d.Approval.From)
	v.SetDefault("approval.to", d.Approval.To)
	v.SetDefault("dispatch.enabled", d.Dispatch.Enabled)
	v.SetDefault("dispatch.cmd", d.Dispatch.Cmd)
	v.SetDefault("dispatch.ssh", "ssh")
	v.SetDefault("dispatch.timeout_sec", d.Dispatch.TimeoutSec)
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Store) == "" {
		return fmt.Errorf("store: path is required")
	}
	if c.Defaults.MaxTasksPerHost < 1 {
		return fmt.Errorf("defaults.max_tasks_per_host must be at least 1, got %d", c.Defaults.MaxTasksPerHost)
	}
	if c.Defaults.MaxParallelTasks < 1 {
		return fmt.Errorf("defaults.max_parallel_tasks must be at least 1, got %d", c.Defaults.MaxParallelTasks)
	}
	if c.Defaults.HostCapacity < 0 {
		return fmt.Errorf("defaults.host_capacity must not be negative")
	}
	from, ok := store.ParseStatus(c.Approval.From)
	if !ok {
		return fmt.Errorf("approval.from: unknown status %q", c.Approval.From)
	}
	to, ok := store.ParseStatus(c.Approval.To)
	if !ok {
		return fmt.Errorf("approval.to: unknown status %q", c.Approval.To)
	}
	if from == to {
		return fmt.Errorf("approval: from and to are both %q", from)
	}
	if c.Dispatch.Enabled && c.Dispatch.Cmd == "" {
		return fmt.Errorf("dispatch: cmd is required when enabled")
	}

	seen := make(map[string]bool)
	for i, h := range c.Hosts {
		if h.ID == "" {
			return fmt.Errorf("host %d: id is required", i)
		}
		if seen[h.ID] {
			return fmt.Errorf("host %q: duplicate id", h.ID)
		}
		seen[h.ID] = true
		if h.Hostname == "" {
			return fmt.Errorf("host %q: hostname is required", h.ID)
		}
		if h.Capacity < 0 {
			return fmt.Errorf("host %q: capacity must not be negative", h.ID)
		}
	}
	return nil
}

// HostByID returns the configured host with the given id.
func (c *Config) HostByID(id string) (Host, bool) {
	for _, h := range c.Hosts {
		if h.ID == id {
			return h, true
		}
	}
	return Host{}, false
}

// containsAny checks if any of the targets exist in the slice.
func containsAny(slice []string, targets ...string) bool {
	for _, s := range slice {
		for _, t := range targets {
			if s == t {
				return true
			}
		}
	}
	return false
}

// appendFront inserts values at the beginning of a slice.
func appendFront(slice []string, vals ...string) []string {
	return append(append([]string{}, vals...), slice...)
}
