// Package extract writes decoded archive entries to a Sink with a pool of
// workers.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/psarc/internal/block"
	"github.com/meigma/psarc/internal/psarctype"
	"github.com/meigma/psarc/internal/toc"
)

// Opener starts a fresh block stream for an entry.
//
// Each call must return a stream with its own read cursor so that streams
// can be consumed from different goroutines. The processor closes every
// stream it opens.
type Opener interface {
	OpenStream(entry toc.Entry, compressed bool) (*block.Stream, error)
}

// Processor decodes entries and writes them to a Sink.
type Processor struct {
	opener   Opener
	workers  int // 0 = auto, <0 = serial, >0 = fixed count
	progress psarctype.ProgressFunc
	logger   *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Processor) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of entries decoded concurrently.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithProcessorLogger sets the logger for extraction.
// If not set, logging is disabled.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithProcessorProgress sets a callback for per-entry progress.
func WithProcessorProgress(fn psarctype.ProgressFunc) ProcessorOption {
	return func(p *Processor) {
		p.progress = fn
	}
}

// NewProcessor creates a processor reading entries through opener.
func NewProcessor(opener Opener, opts ...ProcessorOption) *Processor {
	p := &Processor{opener: opener}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process decodes every item accepted by sink.ShouldProcess and writes it
// to the sink.
//
// Serial runs handle items in slice order. Parallel runs give every item its
// own stream and stop scheduling new items after the first failure; the
// first error is returned once in-flight items have been discarded.
func (p *Processor) Process(ctx context.Context, items []*Item, sink Sink) (ProcessStats, error) {
	var stats ProcessStats
	if len(items) == 0 {
		return stats, nil
	}

	todo := make([]*Item, 0, len(items))
	for _, item := range items {
		if sink.ShouldProcess(item) {
			todo = append(todo, item)
		} else {
			stats.Skipped++
			p.log().Debug("skipping entry", "path", item.Path)
		}
	}
	if len(todo) == 0 {
		return stats, nil
	}

	run := &run{total: len(todo)}
	workers := p.workerCount(len(todo))
	p.log().Debug("extracting", "entries", len(todo), "workers", workers)

	var err error
	if workers < 2 {
		err = p.processSerial(ctx, todo, sink, run)
	} else {
		err = p.processParallel(ctx, todo, sink, run, workers)
	}

	stats.Processed = int(run.done.Load())
	stats.TotalBytes = run.bytes.Load()
	return stats, err
}

// run tracks counters shared by the workers of one Process call.
type run struct {
	total int
	done  atomic.Int64
	bytes atomic.Uint64
}

func (p *Processor) processSerial(ctx context.Context, items []*Item, sink Sink, r *run) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processItem(ctx, item, sink, r); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) processParallel(ctx context.Context, items []*Item, sink Sink, r *run, workers int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return p.processItem(gctx, item, sink, r)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// Cancellation of the parent stops scheduling without a worker error.
	return ctx.Err()
}

// processItem streams one entry's blocks into a committer from the sink.
func (p *Processor) processItem(ctx context.Context, item *Item, sink Sink, r *run) error {
	total := item.Entry.UncompressedSize
	p.emit(psarctype.StageExtracting, item.Path, 0, total, int(r.done.Load()), r.total)

	stream, err := p.opener.OpenStream(item.Entry, item.Compressed)
	if err != nil {
		return fmt.Errorf("extract: %s: %w", item.Path, err)
	}
	defer stream.Close()
	w, err := sink.Writer(item)
	if err != nil {
		return fmt.Errorf("extract: %s: %w", item.Path, err)
	}

	written, err := copyBlocks(ctx, w, stream)
	if err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("extract: %s: %w", item.Path, err)
	}
	if err := w.Commit(); err != nil {
		return fmt.Errorf("extract: %s: %w", item.Path, err)
	}

	r.bytes.Add(written)
	done := r.done.Add(1)
	p.log().Debug("extracted entry", "path", item.Path, "bytes", written, "blocks", stream.Blocks())
	p.emit(psarctype.StageExtracted, item.Path, written, total, int(done), r.total)
	return nil
}

// copyBlocks writes decoded blocks to w, checking ctx between blocks.
func copyBlocks(ctx context.Context, w io.Writer, stream *block.Stream) (uint64, error) {
	var written uint64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		b, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		n, err := w.Write(b)
		written += uint64(n) //nolint:gosec // n is never negative
		if err != nil {
			return written, err
		}
	}
}

func (p *Processor) emit(stage psarctype.ProgressStage, path string, done, total uint64, filesDone, filesTotal int) {
	if p.progress == nil {
		return
	}
	p.progress(psarctype.ProgressEvent{
		Stage:      stage,
		Path:       path,
		BytesDone:  done,
		BytesTotal: total,
		FilesDone:  filesDone,
		FilesTotal: filesTotal,
	})
}

// workerCount determines the number of workers to use for n items.
func (p *Processor) workerCount(n int) int {
	if p.workers < 0 {
		return 1
	}
	workers := p.workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return max(min(workers, n), 1)
}
