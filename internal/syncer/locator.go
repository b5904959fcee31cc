package syncer

import (
	"fmt"
	"os"
	"strings"

	"github.com/starford/hibi/internal/apperr"
)

// Locator resolves the repository working copy for a run. It is consulted on
// every run, so a changed environment takes effect without a restart.
type Locator interface {
	Locate() (string, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func() (string, error)

// Locate implements Locator.
func (f LocatorFunc) Locate() (string, error) {
	return f()
}

// Static always resolves to path. An empty path is reported as missing configuration.
func Static(path string) Locator {
	return LocatorFunc(func() (string, error) {
		if path == "" {
			return "", apperr.ErrConfigurationMissing
		}
		return path, nil
	})
}

// EnvLocator reads the repository path from the environment variable Env,
// falling back to Default.
type EnvLocator struct {
	Env     string
	Default string
}

// Locate implements Locator.
func (l EnvLocator) Locate() (string, error) {
	if l.Env != "" {
		if v := strings.TrimSpace(os.Getenv(l.Env)); v != "" {
			return v, nil
		}
	}
	if l.Default != "" {
		return l.Default, nil
	}
	if l.Env != "" {
		return "", fmt.Errorf("%w: set %s", apperr.ErrConfigurationMissing, l.Env)
	}
	return "", apperr.ErrConfigurationMissing
}
