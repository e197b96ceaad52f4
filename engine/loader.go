package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/casc/core"
	"github.com/INLOpen/casc/hooks"
	"github.com/INLOpen/casc/index"
	"github.com/INLOpen/casc/shmem"
	"github.com/INLOpen/casc/sys"
)

// loader reads the on-disk state a Store snapshot is built from.
type loader struct {
	opts    Options
	logger  *slog.Logger
	metrics *Metrics
}

func newLoader(opts Options, logger *slog.Logger, metrics *Metrics) *loader {
	return &loader{
		opts:    opts,
		logger:  logger.With("component", "loader"),
		metrics: metrics,
	}
}

// load reads the control file, then every bucket's active index file.
func (l *loader) load(ctx context.Context) (*shmem.SharedMemory, [core.BucketCount]*index.Index, error) {
	var buckets [core.BucketCount]*index.Index

	shm, err := shmem.Load(filepath.Join(l.opts.Root, shmem.FileName), core.BucketCount, l.logger)
	if err != nil {
		return nil, buckets, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.LoadConcurrency)
	for b := 0; b < core.BucketCount; b++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(l.opts.Root, shm.IndexFileName(b))
			idx, err := index.Load(path, index.Options{
				CheckBucket: true,
				Bucket:      b,
				Verify:      l.opts.VerifyEntriesHash,
				Logger:      l.logger,
			})
			if err != nil {
				return fmt.Errorf("failed to load bucket %02x: %w", b, err)
			}
			// Each goroutine writes its own slot.
			buckets[b] = idx
			l.logger.Debug("Loaded index file", "bucket", b, "generation", shm.Generation(b), "entries", idx.Len(), "truncated", idx.Truncated())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, buckets, err
	}

	for b, idx := range buckets {
		l.metrics.IndexEntriesLoaded.Add(int64(idx.Len()))
		l.metrics.IndexSkippedTotal.Add(int64(idx.Skipped()))
		if idx.Truncated() {
			l.metrics.IndexTruncatedTotal.Add(1)
			if l.opts.Hooks != nil {
				l.opts.Hooks.Trigger(ctx, hooks.NewOnIndexTruncationEvent(hooks.IndexTruncationPayload{
					Bucket:  uint8(b),
					Path:    filepath.Join(l.opts.Root, shm.IndexFileName(b)),
					Entries: idx.Len(),
				}))
			}
		}
	}
	return shm, buckets, nil
}

// referencedDataFiles collects the data file numbers used by any entry.
func referencedDataFiles(buckets [core.BucketCount]*index.Index) *roaring.Bitmap {
	files := roaring.New()
	for _, idx := range buckets {
		idx.Range(func(e index.Entry) bool {
			files.Add(e.File)
			return true
		})
	}
	files.RunOptimize()
	return files
}

// verifyDataFiles fails when a referenced data file does not exist.
func (l *loader) verifyDataFiles(files *roaring.Bitmap) error {
	it := files.Iterator()
	for it.HasNext() {
		name := dataFileName(l.opts.Root, it.Next())
		if _, err := sys.Stat(name); err != nil {
			return fmt.Errorf("referenced data file is not readable: %w", err)
		}
	}
	return nil
}

func dataFileName(root string, file uint32) string {
	return filepath.Join(root, fmt.Sprintf("data.%03d", file))
}
