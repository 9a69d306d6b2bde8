package psarc

import "log/slog"

// DefaultMaxFileSize bounds ReadFile, ReadEntry and the manifest.
const DefaultMaxFileSize = 256 << 20

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger for archive operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithPolicy sets the policy deciding which entries are decompressed.
// The default is DefaultPolicy.
func WithPolicy(p CompressionPolicy) Option {
	return func(a *Archive) {
		if p != nil {
			a.policy = p
		}
	}
}

// WithMaxFileSize limits the size of entries read fully into memory.
// Set limit to 0 to disable the limit. Unpack streams entries and is not
// affected.
func WithMaxFileSize(limit uint64) Option {
	return func(a *Archive) {
		a.maxFileSize = limit
	}
}

// UnpackOption configures Unpack.
type UnpackOption func(*unpackConfig)

type unpackConfig struct {
	workers   int
	overwrite bool
	include   []string
	progress  ProgressFunc
}

// UnpackWithWorkers sets the number of entries decoded concurrently.
// Values < 0 force serial extraction in table order. Zero uses GOMAXPROCS.
func UnpackWithWorkers(n int) UnpackOption {
	return func(cfg *unpackConfig) {
		cfg.workers = n
	}
}

// UnpackWithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func UnpackWithOverwrite(overwrite bool) UnpackOption {
	return func(cfg *unpackConfig) {
		cfg.overwrite = overwrite
	}
}

// UnpackWithInclude limits extraction to entries whose cleaned path matches
// at least one of the doublestar patterns, e.g. "sce_sys/**" or "**/*.dds".
func UnpackWithInclude(patterns ...string) UnpackOption {
	return func(cfg *unpackConfig) {
		cfg.include = append(cfg.include, patterns...)
	}
}

// UnpackWithProgress sets a callback for extraction progress.
// The callback may be invoked from several goroutines at once.
func UnpackWithProgress(fn ProgressFunc) UnpackOption {
	return func(cfg *unpackConfig) {
		cfg.progress = fn
	}
}
