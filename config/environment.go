package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appEnvVar = "APP_ENV"

	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
	EnvironmentStaging     = "staging"
	EnvironmentTest        = "test"
)

var environmentAliases = map[string]string{
	"dev":     EnvironmentDevelopment,
	"prod":    EnvironmentProduction,
	"stag":    EnvironmentStaging,
	"testing": EnvironmentTest,
}

// AppEnvironment returns APP_ENV normalised through the alias table,
// defaulting to development.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return EnvironmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// envSpecificPaths maps every known environment to config/config.<env>.yml
// next to defaultPath.
func envSpecificPaths(defaultPath string) map[string]string {
	dir := filepath.Dir(defaultPath)
	ext := filepath.Ext(defaultPath)
	base := strings.TrimSuffix(filepath.Base(defaultPath), ext)

	out := make(map[string]string, 4)
	for _, env := range []string{EnvironmentDevelopment, EnvironmentProduction, EnvironmentStaging, EnvironmentTest} {
		out[env] = filepath.Join(dir, base+"."+env+ext)
	}
	return out
}

// resolveEnvSpecificPath swaps the default path for the current
// environment's file, but only if that file exists. Explicit paths win.
func resolveEnvSpecificPath(path, defaultPath string, envPaths map[string]string) string {
	if path == "" {
		path = defaultPath
	}
	if path != defaultPath {
		return path
	}

	envPath, ok := envPaths[AppEnvironment()]
	if !ok {
		return path
	}
	if _, err := os.Stat(envPath); err != nil {
		return path
	}
	return envPath
}

// IsProductionLike reports whether env should treat optional sinks
// (metrics, archive) as required.
func IsProductionLike(env string) bool {
	switch env {
	case EnvironmentProduction, EnvironmentStaging:
		return true
	default:
		return false
	}
}
