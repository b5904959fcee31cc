package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// DefaultRepositoryEnv names the environment variable that overrides
// repository.path.
const DefaultRepositoryEnv = "DIARY_REPOSITORY_PATH"

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Repository RepositoryConfig  `yaml:"repository"`
	Git        GitConfig         `yaml:"git"`
	Site       SiteConfig        `yaml:"site"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Auth       AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Repository.Validate(); err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	if err := c.Git.Validate(); err != nil {
		return fmt.Errorf("git: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	LogFile  LogFile    `yaml:"log_file"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// LogFile configures the optional rotating log file. An empty Path logs to
// stdout only.
type LogFile struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// RepositoryConfig locates the diary git working copy.
//
// The working copy is resolved on every post: the environment variable named
// by Env wins, then Path. Leaving both empty is allowed at startup; posts then
// fail with a configuration error.
type RepositoryConfig struct {
	Path      string `yaml:"path"`
	Env       string `yaml:"env"`
	Subdir    string `yaml:"subdir"`
	Extension string `yaml:"extension"`
}

// Validate validates the repository configuration.
func (c *RepositoryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Subdir, validation.By(relativeDir)),
		validation.Field(&c.Extension, validation.By(func(v any) error {
			if strings.ContainsAny(v.(string), `/\`) {
				return errors.New("must not contain path separators")
			}
			return nil
		})),
	)
}

func relativeDir(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	if filepath.IsAbs(s) || strings.HasPrefix(s, "/") {
		return errors.New("must be relative")
	}
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return errors.New("must not contain ..")
		}
	}
	return nil
}

// GitConfig controls how git is invoked.
type GitConfig struct {
	Binary  string        `yaml:"binary"`
	Remote  string        `yaml:"remote"`
	PullRef string        `yaml:"pull_ref"`
	PushRef string        `yaml:"push_ref"`
	Timeout time.Duration `yaml:"timeout"` // per command, 0 disables
}

// Validate validates the git configuration.
func (c *GitConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Binary, validation.Required),
		validation.Field(&c.Remote, validation.Required),
		validation.Field(&c.PullRef, validation.Required),
		validation.Field(&c.PushRef, validation.Required),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// SiteConfig holds the static site served at /.
type SiteConfig struct {
	Root  string `yaml:"root"`
	Index string `yaml:"index"`
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration for the /api routes.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
//
// POST /diary and the static site are never behind auth.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			LogFile: LogFile{
				MaxSizeMB:  10,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
			HTTP: HTTPConfig{
				Port: 8095,
			},
		},
		Repository: RepositoryConfig{
			Env:       DefaultRepositoryEnv,
			Extension: "md",
		},
		Git: GitConfig{
			Binary:  "git",
			Remote:  "origin",
			PullRef: "main",
			PushRef: "HEAD",
			Timeout: 2 * time.Minute,
		},
		Site: SiteConfig{
			Root:  "./static",
			Index: "index.html",
		},
		SQLite: SQLiteConfig{
			Path: "./hibi.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
