// Package config loads a YAML description of a VFS (logging, default
// credentials and mount table) and builds it.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	vlog "webvfs/pkg/log"
	vfs "webvfs/pkg/vfs"
	"webvfs/pkg/vfs/diskfs"
	"webvfs/pkg/vfs/memfs"
	"webvfs/pkg/vfs/overlayfs"
)

// Backend types.
const (
	TypeMemFS     = "memfs"
	TypeDiskFS    = "diskfs"
	TypeOverlayFS = "overlayfs"
)

// DefaultDataDir is the diskfs root used by Default.
const DefaultDataDir = "./vfsdata"

// Config is the YAML description of a VFS: log settings, default
// credentials and the mount table.
type Config struct {
	Log         LogConfig        `yaml:"log"`
	Credentials *vfs.Credentials `yaml:"credentials"`
	Mounts      []MountConfig    `yaml:"mounts"`
}

// LogConfig enables logging and sets its minimum level by name.
type LogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
}

// MountConfig places a backend at a prefix.
type MountConfig struct {
	Prefix  string        `yaml:"prefix"`
	Backend BackendConfig `yaml:"backend"`
}

// BackendConfig selects a backend by Type. Root and CacheSize apply to
// diskfs, ReadOnly to memfs, and Upper and Lower to overlayfs.
type BackendConfig struct {
	Type      string         `yaml:"type"`
	Root      string         `yaml:"root,omitempty"`
	CacheSize int            `yaml:"cache_size,omitempty"`
	ReadOnly  bool           `yaml:"read_only,omitempty"`
	Upper     *BackendConfig `yaml:"upper,omitempty"`
	Lower     *BackendConfig `yaml:"lower,omitempty"`
}

// Default returns a configuration with a single diskfs mount at "/" stored
// in DefaultDataDir.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: vlog.ALERT.String()},
		Mounts: []MountConfig{
			{Prefix: "/", Backend: BackendConfig{Type: TypeDiskFS, Root: DefaultDataDir}},
		},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML configuration. Unknown keys are
// rejected.
func Parse(b []byte) (*Config, error) {
	cfg := new(Config)
	if err := yaml.UnmarshalStrict(b, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = vlog.ALERT.String()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks the log level, mount prefixes and backend descriptions.
// A mount at "/" is required.
func (c *Config) Validate() error {
	if c.Log.Level != "" {
		if _, err := vlog.ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("config: log: %w", err)
		}
	}

	rooted := false
	seen := make(map[string]bool)
	for i, m := range c.Mounts {
		if err := vfs.ValidatePath(m.Prefix); err != nil || !vfs.IsClean(m.Prefix) {
			return fmt.Errorf("config: mounts[%d]: prefix %q is not a normalized absolute path", i, m.Prefix)
		}
		if seen[m.Prefix] {
			return fmt.Errorf("config: mounts[%d]: duplicate prefix %q", i, m.Prefix)
		}
		seen[m.Prefix] = true
		rooted = rooted || m.Prefix == "/"

		if err := m.Backend.validate(); err != nil {
			return fmt.Errorf("config: mounts[%d] (%s): %w", i, m.Prefix, err)
		}
	}

	if !rooted {
		return fmt.Errorf("config: no mount at \"/\"")
	}
	return nil
}

func (b *BackendConfig) validate() error {
	switch b.Type {
	case TypeMemFS:
	case TypeDiskFS:
		if b.Root == "" {
			return fmt.Errorf("diskfs requires a root directory")
		}
	case TypeOverlayFS:
		if b.Upper == nil || b.Lower == nil {
			return fmt.Errorf("overlayfs requires upper and lower backends")
		}
		if err := b.Upper.validate(); err != nil {
			return fmt.Errorf("upper: %w", err)
		}
		if err := b.Lower.validate(); err != nil {
			return fmt.Errorf("lower: %w", err)
		}
	default:
		return fmt.Errorf("unknown backend type %q", b.Type)
	}
	return nil
}

// Build creates the backend described by b.
func (b *BackendConfig) Build() (vfs.Backend, error) {
	switch b.Type {
	case TypeMemFS:
		fs := memfs.New()
		fs.SetReadOnly(b.ReadOnly)
		return fs, nil

	case TypeDiskFS:
		return diskfs.New(b.Root, diskfs.Options{CacheSize: b.CacheSize, ReadOnly: b.ReadOnly})

	case TypeOverlayFS:
		upper, err := b.Upper.Build()
		if err != nil {
			return nil, err
		}
		lower, err := b.Lower.Build()
		if err != nil {
			return nil, err
		}
		return overlayfs.New(upper, lower), nil
	}
	return nil, fmt.Errorf("config: unknown backend type %q", b.Type)
}

// Build applies the log settings and returns a VFS with the configured
// credentials and every mount in place.
func (c *Config) Build(opts ...vfs.Option) (*vfs.VFS, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	logCfg := vlog.Config{Enabled: c.Log.Enabled}
	if c.Log.Level != "" {
		level, _ := vlog.ParseLevel(c.Log.Level)
		logCfg.Level = &level
	}
	vlog.Configure(logCfg)

	if c.Credentials != nil {
		opts = append([]vfs.Option{vfs.WithCredentials(*c.Credentials)}, opts...)
	}
	v := vfs.New(opts...)

	for _, m := range c.Mounts {
		backend, err := m.Backend.Build()
		if err != nil {
			return nil, fmt.Errorf("config: mount %s: %w", m.Prefix, err)
		}
		if m.Prefix == "/" {
			err = v.Initialize(backend)
		} else {
			err = v.Mount(m.Prefix, backend)
		}
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}
