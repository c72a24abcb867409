package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fstree/fswatch/pkg/watching"
)

// watchConfiguration holds the flags shared by every subcommand that
// resolves a watching.Options value. A --config file, if given, supplies
// defaults that the other flags may still override.
type watchConfiguration struct {
	config      string
	backend     string
	ignorePaths []string
	ignoreGlobs []string
}

func (w *watchConfiguration) registerFlags(flags *cobra.Command) {
	f := flags.Flags()
	f.StringVar(&w.config, "config", "",
		"specify a YAML or TOML configuration file providing default options")
	f.StringVar(&w.backend, "backend", "",
		"specify the backend to use (default|inotify|fs-events|windows|watchman|brute-force)")
	f.StringArrayVar(&w.ignorePaths, "ignore-path", nil,
		"specify an absolute path to exclude from watching (may be repeated)")
	f.StringArrayVar(&w.ignoreGlobs, "ignore-glob", nil,
		"specify a regular expression; paths it fully matches are excluded from watching (may be repeated)")
}

func (w *watchConfiguration) options() (watching.Options, error) {
	opts := watching.Options{Backend: watching.BackendDefault}

	if w.config != "" {
		cfg, err := watching.LoadWatchConfiguration(w.config)
		if err != nil {
			return watching.Options{}, err
		}
		opts = cfg.Options()
		if opts.Backend == "" {
			opts.Backend = watching.BackendDefault
		}
		if cfg.WatchmanSocket != "" {
			// The Watchman backend resolves its socket path from
			// WATCHMAN_SOCK at construction time (see watchmanSockPath),
			// and backends are shared process-wide by kind rather than
			// parameterized per call, so a configured override is applied
			// here rather than threaded through Options.
			os.Setenv("WATCHMAN_SOCK", cfg.WatchmanSocket)
		}
	}

	if w.backend != "" {
		opts.Backend = w.backend
	}
	if len(w.ignorePaths) > 0 {
		opts.IgnorePaths = w.ignorePaths
	}
	if len(w.ignoreGlobs) > 0 {
		opts.IgnoreGlobs = w.ignoreGlobs
	}

	return opts, nil
}
