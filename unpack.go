package psarc

import (
	"context"
	"fmt"
	"os"

	"github.com/meigma/psarc/internal/extract"
	"github.com/meigma/psarc/internal/pathutil"
)

// UnpackStats reports the outcome of Unpack.
type UnpackStats = extract.ProcessStats

// Unpack writes every entry except the manifest below destDir.
//
// All entries are resolved before anything is written; an entry without a
// manifest path aborts the run with an error wrapping ErrNotFound. Leading
// slashes are stripped from manifest paths and paths that would escape
// destDir are rejected. When several entries clean to the same path only
// the lowest entry is written and the others count as skipped. The archive's CompressionPolicy decides per entry
// whether blocks are decompressed. Each file is written to a temporary name
// and renamed once complete, so a failed or canceled run leaves no partial
// files behind.
//
// By default:
//   - Existing files are skipped (use UnpackWithOverwrite to overwrite)
//   - Entries are decoded concurrently on GOMAXPROCS workers
//     (use UnpackWithWorkers to change)
func (a *Archive) Unpack(ctx context.Context, destDir string, opts ...UnpackOption) (UnpackStats, error) {
	cfg := unpackConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validatePatterns(cfg.include); err != nil {
		return UnpackStats{}, err
	}

	if cfg.progress != nil {
		cfg.progress(ProgressEvent{Stage: StageResolving, FilesTotal: len(a.entries)})
	}
	items := make([]*extract.Item, 0, len(a.entries))
	seen := make(map[string]int, len(a.entries))
	duplicates := 0
	for _, e := range a.entries {
		p, err := a.Resolve(e)
		if err != nil {
			return UnpackStats{}, err
		}
		name := pathutil.Clean(p)
		if len(cfg.include) > 0 && !matchAny(cfg.include, name) {
			continue
		}
		// Manifest lines such as "/a.txt" and "a.txt" share a destination;
		// the lowest entry wins, as in the fs.FS view.
		if first, ok := seen[name]; ok {
			a.log().Warn("skipping duplicate destination", "path", name, "index", e.Index, "kept", first)
			duplicates++
			continue
		}
		seen[name] = e.Index
		items = append(items, &extract.Item{
			Path:       name,
			Entry:      e.tocEntry(),
			Compressed: a.policy.Compressed(name),
		})
	}

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return UnpackStats{}, fmt.Errorf("create destination %s: %w", destDir, err)
	}
	sink, err := extract.NewFileSink(destDir, extract.WithOverwrite(cfg.overwrite))
	if err != nil {
		return UnpackStats{}, err
	}
	defer sink.Close()

	procOpts := []extract.ProcessorOption{extract.WithWorkers(cfg.workers)}
	if cfg.progress != nil {
		procOpts = append(procOpts, extract.WithProcessorProgress(cfg.progress))
	}
	if a.logger != nil {
		procOpts = append(procOpts, extract.WithProcessorLogger(a.logger))
	}
	proc := extract.NewProcessor(streamOpener{a: a}, procOpts...)

	stats, err := proc.Process(ctx, items, sink)
	stats.Skipped += duplicates
	if err != nil {
		return stats, err
	}
	a.log().Debug("unpacked archive",
		"dest", destDir,
		"processed", stats.Processed,
		"skipped", stats.Skipped,
		"bytes", stats.TotalBytes)
	return stats, nil
}
