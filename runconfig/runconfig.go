// Package runconfig loads the daemon configuration from a YAML file
// and fills in defaults for everything the file leaves out.
package runconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Isolation policy values.
const (
	IsolationAuto = "auto"
	IsolationOn   = "on"
	IsolationOff  = "off"
)

// Duration wraps time.Duration so YAML values can use forms like
// "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("runconfig: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// SeccompConfig names syscalls the supervisor denies in the shell.
type SeccompConfig struct {
	DeniedSyscalls []string `yaml:"denied_syscalls"`
}

// RoutingConfig configures agent subprocess redirection.
type RoutingConfig struct {
	ChildContext   string `yaml:"child_context"`
	PreloadLibrary string `yaml:"preload_library"`
}

// Config is the complete daemon configuration.
type Config struct {
	TempDir  string `yaml:"temp_dir"`
	Shell    string `yaml:"shell"`
	Strategy string `yaml:"strategy"`
	// Isolation is auto, on, or off. Auto isolates when the host
	// supports namespaces and falls back otherwise; on requires
	// support; off never isolates.
	Isolation    string   `yaml:"isolation"`
	ExecTimeout  Duration `yaml:"exec_timeout"`
	InitTimeout  Duration `yaml:"init_timeout"`
	ReapInterval Duration `yaml:"reap_interval"`
	StaleAfter   Duration `yaml:"stale_after"`

	Seccomp SeccompConfig `yaml:"seccomp"`
	Routing RoutingConfig `yaml:"routing"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		TempDir:      os.TempDir(),
		Shell:        "/bin/bash",
		Strategy:     "session",
		Isolation:    IsolationAuto,
		ExecTimeout:  Duration(30 * time.Second),
		InitTimeout:  Duration(10 * time.Second),
		ReapInterval: Duration(time.Minute),
		StaleAfter:   Duration(10 * time.Minute),
	}
}

// Load reads path and merges its values onto the defaults. Fields the
// file omits keep their default values.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runconfig: read config: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("runconfig: parse config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.Isolation {
	case IsolationAuto, IsolationOn, IsolationOff:
	default:
		return fmt.Errorf("runconfig: invalid isolation %q", c.Isolation)
	}
	switch c.Strategy {
	case "session", "direct", "argv":
	default:
		return fmt.Errorf("runconfig: invalid strategy %q", c.Strategy)
	}
	if c.StaleAfter.Std() <= c.ExecTimeout.Std() {
		return fmt.Errorf("runconfig: stale_after (%v) must exceed exec_timeout (%v)",
			c.StaleAfter.Std(), c.ExecTimeout.Std())
	}
	return nil
}
