// Command psarc lists and unpacks PlayStation archive (PSARC) files.
//
// Usage:
//
//	psarc [flags] ARCHIVE
//
// ARCHIVE is a local path or an http(s) URL served with range support.
// Entries are written below the output directory (default "unpacked").
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/meigma/psarc"
	"github.com/meigma/psarc/cache"
	psarchttp "github.com/meigma/psarc/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	config    string
	output    string
	workers   int
	list      bool
	include   []string
	overwrite bool
	verbose   bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("psarc", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.config, "config", "c", "", "YAML configuration file")
	flagSet.StringVarP(&opts.output, "output", "o", "unpacked", "destination directory")
	flagSet.IntVarP(&opts.workers, "workers", "j", 0, "parallel extraction workers (0 = GOMAXPROCS, <0 = serial)")
	flagSet.BoolVar(&opts.list, "list", false, "list entries instead of unpacking")
	flagSet.StringArrayVar(&opts.include, "include", nil, "only unpack paths matching this glob (repeatable)")
	flagSet.BoolVar(&opts.overwrite, "overwrite", false, "replace files that already exist")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "Usage: psarc [flags] ARCHIVE\n\nFlags:\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return fmt.Errorf("expected one archive argument, got %d", flagSet.NArg())
	}

	cfg := defaultConfig()
	if opts.config != "" {
		loaded, err := loadConfig(opts.config)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	applyFlags(&cfg, flagSet, opts)

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	archiveOpts := []psarc.Option{psarc.WithLogger(logger)}
	if cfg.customPolicy() {
		archiveOpts = append(archiveOpts, psarc.WithPolicy(cfg.policy()))
	}

	archive, closeArchive, err := openArchive(flagSet.Arg(0), archiveOpts)
	if err != nil {
		return err
	}
	defer closeArchive()

	if opts.list {
		return list(stdout, archive)
	}
	return unpack(ctx, stdout, archive, cfg)
}

// applyFlags overlays flags the user set explicitly onto cfg.
func applyFlags(cfg *Config, flagSet *pflag.FlagSet, opts options) {
	if flagSet.Changed("output") || cfg.Output == "" {
		cfg.Output = opts.output
	}
	if flagSet.Changed("workers") {
		cfg.Workers = opts.workers
	}
	if flagSet.Changed("overwrite") {
		cfg.Overwrite = opts.overwrite
	}
	if flagSet.Changed("include") {
		cfg.Include = opts.include
	}
}

func openArchive(target string, opts []psarc.Option) (*psarc.Archive, func(), error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		src, err := psarchttp.NewSource(target)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", target, err)
		}
		cached, err := cache.New(src)
		if err != nil {
			return nil, nil, err
		}
		archive, err := psarc.New(cached, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", target, err)
		}
		return archive, func() {}, nil
	}

	af, err := psarc.OpenFile(target, opts...)
	if err != nil {
		return nil, nil, err
	}
	return af.Archive, func() { _ = af.Close() }, nil
}

func list(w io.Writer, archive *psarc.Archive) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	for e := range archive.Entries() {
		name := e.Path
		if name == "" {
			name = "<unresolved " + e.NameDigest.String() + ">"
		}
		fmt.Fprintf(tw, "%d\t%s\n", e.Size, name)
	}
	return tw.Flush()
}

func unpack(ctx context.Context, w io.Writer, archive *psarc.Archive, cfg Config) error {
	var mu sync.Mutex
	progress := func(ev psarc.ProgressEvent) {
		if ev.Stage != psarc.StageExtracting {
			return
		}
		// Report the manifest spelling, leading slash included.
		name := ev.Path
		if e, ok := archive.Entry(ev.Path); ok {
			name = e.Path
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "Unpacking %s...\n", name)
	}

	stats, err := archive.Unpack(ctx, cfg.Output,
		psarc.UnpackWithWorkers(cfg.Workers),
		psarc.UnpackWithOverwrite(cfg.Overwrite),
		psarc.UnpackWithInclude(cfg.Include...),
		psarc.UnpackWithProgress(progress),
	)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(w, "%d unpacked, %d skipped, %d bytes\n", stats.Processed, stats.Skipped, stats.TotalBytes)
	return nil
}
