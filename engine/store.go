// Package engine is the read-only façade over a local store: it locates the
// active index files, finds records in the data files, verifies their headers
// and decodes their containers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/INLOpen/casc/blte"
	"github.com/INLOpen/casc/cache"
	"github.com/INLOpen/casc/core"
	"github.com/INLOpen/casc/hooks"
	"github.com/INLOpen/casc/index"
	"github.com/INLOpen/casc/shmem"
	"github.com/INLOpen/casc/sys"
)

var ErrStoreClosed = errors.New("store is closed")

// Options configures Open.
type Options struct {
	// Root is the directory holding shmem, the index files and data.NNN.
	Root              string
	VerifyEntriesHash index.VerifyMode
	// VerifyDataFiles makes Open fail when an index entry names a data file
	// that does not exist.
	VerifyDataFiles bool
	// LoadConcurrency bounds the number of index files read at once.
	LoadConcurrency int
	// Keys resolves decryption keys of encrypted chunks. Nil means no keys.
	Keys blte.KeyResolver
	// Cache holds decoded contents between gets. Nil disables caching.
	Cache cache.Interface
	// Hooks receives read path and lifecycle events. Nil disables them.
	Hooks          hooks.HookManager
	Metrics        *Metrics
	TracerProvider trace.TracerProvider
	Logger         *slog.Logger
}

// Store is one immutable snapshot of a store's indexes. It is safe for
// concurrent use; the content cache and metrics are the only shared mutable
// state.
type Store struct {
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *Metrics

	shm       *shmem.SharedMemory
	buckets   [core.BucketCount]*index.Index
	dataFiles *roaring.Bitmap
	entries   int

	closed atomic.Bool
}

// Open loads the store at opts.Root. It returns once every bucket's index has
// been read.
func Open(ctx context.Context, opts Options) (_ *Store, err error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "store")
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(false, "")
	}
	if opts.Keys == nil {
		opts.Keys = blte.NoKeys
	}
	if opts.LoadConcurrency <= 0 {
		opts.LoadConcurrency = core.BucketCount
	}

	s := &Store{opts: opts, logger: opts.Logger, metrics: opts.Metrics}
	if opts.TracerProvider != nil {
		s.tracer = opts.TracerProvider.Tracer("github.com/INLOpen/casc/engine")
	} else {
		s.tracer = noop.NewTracerProvider().Tracer("")
	}
	if opts.Cache != nil {
		opts.Cache.SetMetrics(s.metrics.CacheHits, s.metrics.CacheMisses)
	}

	ctx, span := s.tracer.Start(ctx, "Store.Open")
	startTime := time.Now()
	defer func() {
		duration := time.Since(startTime).Seconds()
		s.metrics.OpenDurationSeconds.Set(duration)
		span.SetAttributes(attribute.Float64("duration_seconds", duration))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "open_failed")
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("casc.root", opts.Root))
	s.metrics.OpenTotal.Add(1)

	l := newLoader(opts, s.logger, s.metrics)
	shm, buckets, err := l.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", opts.Root, err)
	}
	s.shm, s.buckets = shm, buckets
	for _, idx := range buckets {
		s.entries += idx.Len()
	}

	s.dataFiles = referencedDataFiles(buckets)
	if opts.VerifyDataFiles {
		if err := l.verifyDataFiles(s.dataFiles); err != nil {
			return nil, fmt.Errorf("failed to open store %s: %w", opts.Root, err)
		}
	}

	span.SetAttributes(attribute.Int("casc.entries", s.entries), attribute.Int64("casc.data_files", int64(s.dataFiles.GetCardinality())))
	s.logger.Info("Store opened", "root", opts.Root, "entries", s.entries, "data_files", s.dataFiles.GetCardinality())
	s.trigger(ctx, hooks.NewPostOpenEvent(hooks.PostOpenPayload{
		Root:        opts.Root,
		Entries:     s.entries,
		DataFiles:   int(s.dataFiles.GetCardinality()),
		Generations: s.Generations(),
	}))
	return s, nil
}

// Reopen loads a fresh snapshot of the same store, for example after the
// control file moved to new index generations. s stays usable.
func (s *Store) Reopen(ctx context.Context) (*Store, error) {
	return Open(ctx, s.opts)
}

// Close marks the store closed. Gets issued afterwards fail with
// ErrStoreClosed.
func (s *Store) Close() error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	ctx := context.Background()
	payload := hooks.ClosePayload{Root: s.opts.Root}
	if err := s.trigger(ctx, hooks.NewPreCloseEvent(payload)); err != nil {
		return err
	}
	if s.closed.Swap(true) {
		return ErrStoreClosed
	}
	s.trigger(ctx, hooks.NewPostCloseEvent(payload))
	return nil
}

// trigger fires event on the configured hook manager. Only pre-hooks can
// return an error.
func (s *Store) trigger(ctx context.Context, event hooks.HookEvent) error {
	if s.opts.Hooks == nil {
		return nil
	}
	return s.opts.Hooks.Trigger(ctx, event)
}

// Lookup returns the index entry for key.
func (s *Store) Lookup(key core.Key) (index.Entry, bool) {
	return s.buckets[core.BucketOf(key)].Lookup(key)
}

// Contains reports whether key is indexed. The record itself is not read.
func (s *Store) Contains(key core.Key) bool {
	_, ok := s.Lookup(key)
	return ok
}

// Get returns the decoded content stored under the encoding key key. A key
// that is not indexed yields (nil, false, nil). found stays true when the key
// is indexed but its record cannot be read or decoded.
func (s *Store) Get(ctx context.Context, key core.Key) (content []byte, found bool, err error) {
	ctx, span := s.tracer.Start(ctx, "Store.Get")
	startTime := time.Now()
	var cacheHit bool
	defer func() {
		duration := time.Since(startTime).Seconds()
		s.metrics.observeGet(duration)
		span.SetAttributes(attribute.Float64("duration_seconds", duration), attribute.Bool("casc.found", found))
		if err != nil {
			s.countError(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "get_failed")
		}
		s.trigger(ctx, hooks.NewPostGetEvent(hooks.PostGetPayload{Key: key, Found: found, Bytes: len(content), CacheHit: cacheHit, Error: err}))
		span.End()
	}()
	span.SetAttributes(attribute.String("casc.ekey", key.String()))
	s.metrics.GetTotal.Add(1)

	if s.closed.Load() {
		return nil, false, ErrStoreClosed
	}
	if err := s.trigger(ctx, hooks.NewPreGetEvent(hooks.PreGetPayload{Key: key})); err != nil {
		return nil, false, err
	}
	e, ok := s.Lookup(key)
	if !ok {
		s.metrics.GetNotFoundTotal.Add(1)
		return nil, false, nil
	}
	span.SetAttributes(attribute.Int64("casc.data_file", int64(e.File)), attribute.Int64("casc.offset", int64(e.Offset)))

	if s.opts.Cache != nil {
		if cached, ok := s.opts.Cache.Get(key); ok {
			cacheHit = true
			span.SetAttributes(attribute.Bool("casc.cache_hit", true))
			return cached, true, nil
		}
	}

	content, err = s.readContent(e)
	if err != nil {
		if core.IsIntegrityError(err) {
			s.trigger(ctx, hooks.NewOnIntegrityErrorEvent(hooks.IntegrityErrorPayload{Key: key, File: e.File, Offset: e.Offset, Error: err}))
		}
		return nil, true, fmt.Errorf("failed to read %s: %w", key, err)
	}
	s.metrics.BytesDecodedTotal.Add(int64(len(content)))
	if s.opts.Cache != nil {
		s.opts.Cache.Put(key, content)
	}
	return content, true, nil
}

// ReadRecord returns the raw record stored under key, header included, after
// the header has been verified. The container is not decoded.
func (s *Store) ReadRecord(ctx context.Context, key core.Key) ([]byte, bool, error) {
	_, span := s.tracer.Start(ctx, "Store.ReadRecord")
	defer span.End()

	if s.closed.Load() {
		return nil, false, ErrStoreClosed
	}
	e, ok := s.Lookup(key)
	if !ok {
		return nil, false, nil
	}
	f, err := sys.Open(dataFileName(s.opts.Root, e.File))
	if err != nil {
		span.RecordError(err)
		return nil, true, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	if e.Length < RecordHeaderSize {
		return nil, true, core.Formatf("record", "index length %d shorter than the record header", e.Length)
	}
	raw := make([]byte, e.Length)
	if err := readFullAt(f, raw, int64(e.Offset)); err != nil {
		span.RecordError(err)
		return nil, true, fmt.Errorf("failed to read record %s: %w", e, err)
	}
	if _, err := verifyRecordHeader(raw[:RecordHeaderSize], e); err != nil {
		s.countError(err)
		span.RecordError(err)
		s.trigger(ctx, hooks.NewOnIntegrityErrorEvent(hooks.IntegrityErrorPayload{Key: key, File: e.File, Offset: e.Offset, Error: err}))
		return nil, true, err
	}
	s.metrics.RecordsReadTotal.Add(1)
	s.metrics.BytesReadTotal.Add(int64(len(raw)))
	return raw, true, nil
}

// readContent verifies the record header at e and decodes the container
// following it.
func (s *Store) readContent(e index.Entry) ([]byte, error) {
	if e.Length < RecordHeaderSize {
		return nil, core.Formatf("record", "index length %d shorter than the record header", e.Length)
	}
	f, err := sys.Open(dataFileName(s.opts.Root, e.File))
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	var raw [RecordHeaderSize]byte
	if err := readFullAt(f, raw[:], int64(e.Offset)); err != nil {
		return nil, fmt.Errorf("failed to read record header %s: %w", e, err)
	}
	if _, err := verifyRecordHeader(raw[:], e); err != nil {
		return nil, err
	}
	s.metrics.RecordsReadTotal.Add(1)
	s.metrics.BytesReadTotal.Add(int64(e.Length))

	body := io.NewSectionReader(f, int64(e.Offset)+RecordHeaderSize, int64(e.Length)-RecordHeaderSize)
	content, err := blte.DecodeSized(body, body.Size(), s.opts.Keys)
	if err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", e, err)
	}
	return content, nil
}

// readFullAt reads len(buf) bytes at off. Running into the end of the file
// is reported as io.ErrUnexpectedEOF.
func readFullAt(r io.ReaderAt, buf []byte, off int64) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (s *Store) countError(err error) {
	s.metrics.GetErrorsTotal.Add(1)
	switch {
	case core.IsIntegrityError(err):
		s.metrics.IntegrityErrorsTotal.Add(1)
	case core.IsKeyNotFound(err):
		s.metrics.KeyNotFoundTotal.Add(1)
	}
}

// DataFiles returns the data file numbers referenced by the indexes, in
// ascending order.
func (s *Store) DataFiles() []uint32 {
	return s.dataFiles.ToArray()
}

// Generations returns the active index generation of every bucket.
func (s *Store) Generations() []uint32 {
	return append([]uint32(nil), s.shm.Generations...)
}

// Path returns the store directory.
func (s *Store) Path() string { return s.opts.Root }

// DataPath returns the path recorded in the control file.
func (s *Store) DataPath() string { return s.shm.Path }

// EntryCount returns the number of indexed records over all buckets.
func (s *Store) EntryCount() int { return s.entries }

// Metrics returns the metrics the store reports to.
func (s *Store) Metrics() *Metrics { return s.metrics }
