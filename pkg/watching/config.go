package watching

import (
	"strings"

	"github.com/fstree/fswatch/pkg/encoding"
)

// WatchConfiguration is the YAML/TOML-loadable configuration object for the
// watching package's defaults, analogous to the teacher's per-domain
// Configuration types under pkg/configuration.
type WatchConfiguration struct {
	// Backend is the default backend preference, overriding the platform's
	// built-in defaultBackendOrder when non-empty.
	Backend string `yaml:"backend" toml:"backend"`
	// IgnorePaths is the default set of absolute paths to ignore.
	IgnorePaths []string `yaml:"ignorePaths" toml:"ignorePaths"`
	// IgnoreGlobs is the default set of ignore glob/regex expressions.
	IgnoreGlobs []string `yaml:"ignoreGlobs" toml:"ignoreGlobs"`
	// WatchmanSocket overrides the WATCHMAN_SOCK environment variable when
	// set, used to point at a non-default Watchman daemon socket.
	WatchmanSocket string `yaml:"watchmanSocket" toml:"watchmanSocket"`
	// DebounceWindowMilliseconds is loaded from the file but not applied:
	// the debouncer always uses the fixed 500ms DebounceWindow.
	DebounceWindowMilliseconds int `yaml:"debounceWindowMilliseconds" toml:"debounceWindowMilliseconds"`
}

// LoadWatchConfiguration loads a WatchConfiguration from path, selecting
// TOML or YAML unmarshaling by file extension (.toml, else YAML), matching
// the format-per-extension convention used elsewhere in the encoding
// package's callers.
func LoadWatchConfiguration(path string) (*WatchConfiguration, error) {
	result := &WatchConfiguration{}

	var err error
	if strings.HasSuffix(path, ".toml") {
		err = encoding.LoadAndUnmarshalTOML(path, result)
	} else {
		err = encoding.LoadAndUnmarshalYAML(path, result)
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Options converts the configuration into Options for use with the public
// operations, applying cfg as defaults that a caller may still override per
// field.
func (cfg *WatchConfiguration) Options() Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		Backend:     cfg.Backend,
		IgnorePaths: cfg.IgnorePaths,
		IgnoreGlobs: cfg.IgnoreGlobs,
	}
}
