package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DockerConfig struct {
	Image   string   `mapstructure:"image"`
	Memory  string   `mapstructure:"memory"`
	Network bool     `mapstructure:"network"`
	Images  []string `mapstructure:"images"`
}

type RunnerConfig struct {
	WorkspaceRoot  string        `mapstructure:"workspace_root"`
	Command        []string      `mapstructure:"command"`
	CodeFile       string        `mapstructure:"code_file"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxParallel    int           `mapstructure:"max_parallel"`
	Parser         string        `mapstructure:"parser"`
	Backend        string        `mapstructure:"backend"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
	Env            []string      `mapstructure:"env"`
	Docker         DockerConfig  `mapstructure:"docker"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DBPath string `mapstructure:"db_path"`
	DSN    string `mapstructure:"dsn"`
}

type EventsConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Enabled reports whether submission events should be published.
func (e EventsConfig) Enabled() bool { return len(e.Brokers) > 0 }

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Runner  RunnerConfig  `mapstructure:"runner"`
	Storage StorageConfig `mapstructure:"storage"`
	Events  EventsConfig  `mapstructure:"events"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
}

// Load reads configuration from path, or from labforge.yaml in the working
// directory or $HOME/.labforge when path is empty. A missing file is fine;
// defaults and LABFORGE_* environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("labforge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.labforge")
	}

	v.SetEnvPrefix("LABFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	home := os.Getenv("HOME")
	v.SetDefault("runner.workspace_root", filepath.Join(os.TempDir(), "labforge-labs"))
	v.SetDefault("runner.command", []string{"dotnet", "test", "--no-build", "--logger:json"})
	v.SetDefault("runner.code_file", "UserCode.cs")
	v.SetDefault("runner.timeout", 30*time.Second)
	v.SetDefault("runner.max_parallel", 4)
	v.SetDefault("runner.parser", "marker")
	v.SetDefault("runner.backend", "process")
	v.SetDefault("runner.max_output_bytes", 1<<20)
	v.SetDefault("runner.docker.image", "mcr.microsoft.com/dotnet/sdk:8.0")
	v.SetDefault("runner.docker.memory", "512m")
	v.SetDefault("runner.docker.network", false)
	v.SetDefault("runner.docker.images", []string{"mcr.microsoft.com/dotnet/sdk:8.0"})
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.db_path", filepath.Join(home, ".labforge", "labforge.db"))
	v.SetDefault("storage.dsn", "")
	v.SetDefault("events.brokers", []string{})
	v.SetDefault("events.topic", "lab-submissions")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand environment variables in secrets
	cfg.Storage.DSN = expandEnv(cfg.Storage.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the runner cannot work with.
func (c *Config) Validate() error {
	if c.Runner.WorkspaceRoot == "" {
		return errors.New("runner.workspace_root is required")
	}
	if len(c.Runner.Command) == 0 {
		return errors.New("runner.command is required")
	}
	if c.Runner.Timeout <= 0 {
		return fmt.Errorf("runner.timeout must be positive, got %s", c.Runner.Timeout)
	}
	if c.Runner.MaxParallel < 0 {
		return fmt.Errorf("runner.max_parallel must not be negative, got %d", c.Runner.MaxParallel)
	}
	switch c.Runner.Parser {
	case "marker", "gotest":
	default:
		return fmt.Errorf("unknown runner.parser %q", c.Runner.Parser)
	}
	switch c.Runner.Backend {
	case "process":
	case "docker":
		if c.Runner.Docker.Image == "" {
			return errors.New("runner.docker.image is required for the docker backend")
		}
	default:
		return fmt.Errorf("unknown runner.backend %q", c.Runner.Backend)
	}
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return errors.New("storage.db_path is required for sqlite")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Events.Enabled() && c.Events.Topic == "" {
		return errors.New("events.topic is required when brokers are set")
	}
	return nil
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}
