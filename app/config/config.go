package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"holyagents.arpa/app/completion"
	"holyagents.arpa/app/http"
)

type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
)

func (e Environment) String() string {
	return string(e)
}

func environmentFromString(s string) Environment {
	switch s {
	case EnvironmentDevelopment.String():
		return EnvironmentDevelopment
	case EnvironmentProduction.String():
		return EnvironmentProduction
	default:
		return ""
	}
}

// From LDFLAGS
type BuildOpts struct {
	BuildVersion     string
	BuildTime        string
	BuildEnvironment string
}

type Config struct {
	Version     string
	BuildTime   string
	LogLevel    string
	Environment Environment
	// DataDir is empty when nothing is persisted
	DataDir         string
	ConfigFile      string
	Server          http.Config
	Completion      completion.Config
	Timeout         time.Duration // Bound on a single completion call
	ScreenIdleTTL   time.Duration
	// ReconnectGrace is how long a screen outlives its dropped event stream
	ReconnectGrace  time.Duration
	LedgerRetention time.Duration
	// ModelOverrides maps persona IDs to a replacement model name
	ModelOverrides map[string]string
	// LogLevelFromCLI is set when the log level must not follow the config file
	LogLevelFromCLI bool
}

func (c Config) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}

// MakeConfig merges flags, the optional config file and defaults, in that order of precedence.
func (l BuildOpts) MakeConfig(cmd *cli.Command) (Config, error) {
	overrides := ExtractCLIOverrides(cmd)

	var file FileConfig
	if path := cmd.String("config-file"); path != "" {
		err := ReadConfig(path, &file)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !cmd.IsSet("config-file"):
			// the default location is optional
		case err != nil:
			return Config{}, fmt.Errorf("config file: %w", err)
		}
	}

	return Merge(l, overrides, file)
}

// Relative path from the working directory.
// Returns the input if it's already absolute.
func absolutePath(input string) (string, error) {
	if input == "" || filepath.IsAbs(input) {
		return input, nil
	}
	return filepath.Abs(input)
}

func Default[T comparable](val T, defaultVal T) T {
	var zero T
	if val == zero {
		return defaultVal
	}
	return val
}
