// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Access levels, from most to least restrictive.
const (
	AccessSecure     = "secure"
	AccessPrivate    = "private"
	AccessPublicRead = "public-read"
	AccessPublic     = "public"
)

// AccessLevels lists the valid values of server.access.
var AccessLevels = []string{AccessSecure, AccessPrivate, AccessPublicRead, AccessPublic}

// DefaultServerName is the name of a server started without one.
const DefaultServerName = "regd"

// MaxServerNameLength bounds server.name, excluding any "user@" prefix.
const MaxServerNameLength = 32

// Config is the daemon configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Trust    TrustConfig    `yaml:"trust"`
	Secure   SecureConfig   `yaml:"secure"`
	Storage  StorageConfig  `yaml:"storage"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig selects the listening address and the data files.
type ServerConfig struct {
	// Name selects the Unix socket. "user@name" addresses a server
	// running as another user.
	Name string `yaml:"name"`

	// Host and Port select TCP instead of a Unix socket.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Access is one of AccessLevels.
	Access string `yaml:"access"`

	Datafile    string `yaml:"datafile"`
	BinDatafile string `yaml:"bin_datafile"`

	// SocketDir overrides the runtime directory the socket path is
	// derived from.
	SocketDir string `yaml:"socket_dir"`

	MaxRequestSize int `yaml:"max_request_size"`
}

// TrustConfig lists peers granted private access.
type TrustConfig struct {
	// Users are user names or numeric uids.
	Users []string `yaml:"users"`

	// Networks are CIDR ranges or single addresses.
	Networks []string `yaml:"networks"`
}

// SecureConfig configures the secure token source.
type SecureConfig struct {
	Encfile string `yaml:"encfile"`

	// ReadCommand decrypts Encfile to stdout. It must contain FILENAME.
	ReadCommand string `yaml:"read_command"`

	// AgeIdentity, when set and Encfile ends in .age, decrypts
	// natively instead of running ReadCommand.
	AgeIdentity string `yaml:"age_identity"`
}

// StorageConfig configures the storage worker.
type StorageConfig struct {
	FlushInterval  time.Duration `yaml:"flush_interval"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
	ProgramTimeout time.Duration `yaml:"program_timeout"`

	// InProcess runs the worker as a goroutine of the daemon.
	InProcess bool `yaml:"in_process"`
}

// TimeoutsConfig bounds socket reads. Secure applies to commands that
// may wait for interactive secret entry.
type TimeoutsConfig struct {
	Read   time.Duration `yaml:"read"`
	Secure time.Duration `yaml:"secure"`
}

// LogConfig configures the daemon logger.
type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	RingSize int    `yaml:"ring_size"`
}

// Default returns the complete default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:           DefaultServerName,
			Access:         AccessPrivate,
			MaxRequestSize: 64 << 20,
		},
		Secure: SecureConfig{
			ReadCommand: "gpg --no-tty --quiet --decrypt FILENAME",
		},
		Storage: StorageConfig{
			FlushInterval:  30 * time.Second,
			CallTimeout:    10 * time.Second,
			LockTimeout:    10 * time.Second,
			ProgramTimeout: 30 * time.Second,
		},
		Timeouts: TimeoutsConfig{
			Read:   5 * time.Second,
			Secure: 30 * time.Second,
		},
		Log: LogConfig{
			Level:    "info",
			Format:   "json",
			RingSize: 1000,
		},
	}
}

// EnvironmentVariable names the configuration file explicitly.
const EnvironmentVariable = "REGD_CONFIG"

// Load reads the configuration file named by REGD_CONFIG, or the
// per-user default file. A missing per-user file means defaults; a
// missing REGD_CONFIG file is an error.
func Load() (*Config, error) {
	if path := os.Getenv(EnvironmentVariable); path != "" {
		return LoadFile(path)
	}
	path, err := userConfigPath()
	if err != nil {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return LoadFile(path)
}

func userConfigPath() (string, error) {
	directory, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(directory, "regd", "regd.yaml"), nil
}

// LoadFile overlays the file at path on the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is YAML, once the comments are gone.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) expandVariables() {
	for _, field := range []*string{
		&c.Server.Datafile,
		&c.Server.BinDatafile,
		&c.Server.SocketDir,
		&c.Secure.Encfile,
		&c.Secure.ReadCommand,
		&c.Secure.AgeIdentity,
	} {
		*field = ExpandPath(*field)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// ExpandPath expands ${VAR} and ${VAR:-default} references and a
// leading "~/".
func ExpandPath(s string) string {
	s = varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
	if rest, found := strings.CutPrefix(s, "~/"); found {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return s
}

// UsesTCP reports whether the server listens on TCP.
func (c *Config) UsesTCP() bool { return c.Server.Host != "" || c.Server.Port != 0 }

// Validate reports every problem in the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.UsesTCP() {
		if c.Server.Host == "" || c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Errorf("server.host and server.port must both be set for TCP (got %q:%d)", c.Server.Host, c.Server.Port))
		}
	} else {
		name := c.Server.Name
		if at := strings.IndexByte(name, '@'); at >= 0 {
			if at == 0 {
				errs = append(errs, fmt.Errorf("server.name %q has an empty user", name))
			}
			name = name[at+1:]
		}
		if name == "" {
			errs = append(errs, errors.New("server.name is required"))
		}
		if len(name) > MaxServerNameLength {
			errs = append(errs, fmt.Errorf("server.name %q is longer than %d characters", name, MaxServerNameLength))
		}
		if strings.ContainsAny(name, "/\x00") {
			errs = append(errs, fmt.Errorf("server.name %q contains a path separator", name))
		}
	}

	if !slices.Contains(AccessLevels, c.Server.Access) {
		errs = append(errs, fmt.Errorf("server.access must be one of %v, got %q", AccessLevels, c.Server.Access))
	}
	if c.Server.MaxRequestSize <= 0 {
		errs = append(errs, errors.New("server.max_request_size must be positive"))
	}

	for _, network := range c.Trust.Networks {
		if _, _, err := net.ParseCIDR(network); err != nil && net.ParseIP(network) == nil {
			errs = append(errs, fmt.Errorf("trust.networks: %q is neither an address nor a CIDR range", network))
		}
	}

	if c.Secure.Encfile != "" && c.Secure.AgeIdentity == "" && !strings.Contains(c.Secure.ReadCommand, "FILENAME") {
		errs = append(errs, errors.New("secure.read_command must contain the FILENAME placeholder"))
	}

	if c.Storage.FlushInterval < 0 {
		errs = append(errs, errors.New("storage.flush_interval must not be negative"))
	}
	for _, timeout := range []struct {
		name  string
		value time.Duration
	}{
		{"storage.call_timeout", c.Storage.CallTimeout},
		{"storage.lock_timeout", c.Storage.LockTimeout},
		{"storage.program_timeout", c.Storage.ProgramTimeout},
		{"timeouts.read", c.Timeouts.Read},
		{"timeouts.secure", c.Timeouts.Secure},
	} {
		if timeout.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", timeout.name))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text", "auto":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json, text or auto, got %q", c.Log.Format))
	}
	if c.Log.RingSize <= 0 {
		errs = append(errs, errors.New("log.ring_size must be positive"))
	}

	return errors.Join(errs...)
}
