// Command casc-get extracts a single file from a local store by encoding key,
// or by content key through the store's encoding table. With --install-ekey it
// lists the files of an install manifest held in the store instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/INLOpen/casc/blte"
	"github.com/INLOpen/casc/cache"
	"github.com/INLOpen/casc/compressors"
	"github.com/INLOpen/casc/config"
	"github.com/INLOpen/casc/core"
	"github.com/INLOpen/casc/encodingtable"
	"github.com/INLOpen/casc/engine"
	"github.com/INLOpen/casc/hooks"
	"github.com/INLOpen/casc/keyring"
	"github.com/INLOpen/casc/manifest"
)

// createLogger creates a slog.Logger based on the provided configuration.
func createLogger(cfg config.LoggingConfig, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = stderr
	case "stdout":
		// stdout may carry the extracted file.
		output = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

// initTracerProvider creates an OpenTelemetry TracerProvider exporting to the
// configured collector.
func initTracerProvider(cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		logger.Debug("Distributed tracing is disabled.")
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error
	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("casc-get")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}
	return tp, cleanup, nil
}

// buildKeyring loads the plain and the age-sealed key files named by cfg.
func buildKeyring(cfg config.KeyringConfig) (blte.KeyResolver, error) {
	var chain keyring.Chain
	if cfg.File != "" {
		f, err := os.Open(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open key file: %w", err)
		}
		defer f.Close()
		keys, err := keyring.LoadFile(f)
		if err != nil {
			return nil, err
		}
		chain = append(chain, keys)
	}
	if cfg.SealedFile != "" {
		idf, err := os.Open(cfg.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open identity file: %w", err)
		}
		defer idf.Close()
		identities, err := keyring.ParseIdentities(idf)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(cfg.SealedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open sealed key file: %w", err)
		}
		defer f.Close()
		keys, err := keyring.LoadSealed(f, identities...)
		if err != nil {
			return nil, err
		}
		chain = append(chain, keys)
	}
	if len(chain) == 0 {
		return blte.NoKeys, nil
	}
	return chain, nil
}

func buildCache(cfg config.CacheConfig, logger *slog.Logger) (cache.Interface, error) {
	if cfg.Capacity == 0 {
		return nil, nil
	}
	comp, err := compressors.ByName(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("cache.compression: %w", err)
	}
	return cache.New(cache.Options{
		Capacity:      cfg.Capacity,
		MaxEntryBytes: cfg.MaxEntryBytes,
		Compressor:    comp,
		Logger:        logger.With("component", "cache"),
	}), nil
}

// newHookManager reports store events that need an operator's attention.
func newHookManager(logger *slog.Logger) hooks.HookManager {
	manager := hooks.NewHookManager(logger)
	manager.Register(hooks.EventOnIntegrityError, hooks.ListenerFunc(func(ctx context.Context, event hooks.HookEvent) error {
		p := event.Payload().(hooks.IntegrityErrorPayload)
		logger.Warn("Record failed verification", "ekey", p.Key.String(), "data_file", p.File, "offset", p.Offset, "error", p.Error)
		return nil
	}))
	manager.Register(hooks.EventOnIndexTruncation, hooks.ListenerFunc(func(ctx context.Context, event hooks.HookEvent) error {
		p := event.Payload().(hooks.IndexTruncationPayload)
		logger.Warn("Index file ends inside its entries block", "bucket", p.Bucket, "path", p.Path, "entries", p.Entries)
		return nil
	}))
	return manager
}

// resolveContentKey maps ckey onto an encoding key using the encoding table
// stored under encodingKey.
func resolveContentKey(ctx context.Context, store *engine.Store, encodingKey, ckey core.Key) (core.Key, error) {
	raw, found, err := store.Get(ctx, encodingKey)
	if err != nil {
		return core.Key{}, fmt.Errorf("failed to read encoding table: %w", err)
	}
	if !found {
		return core.Key{}, fmt.Errorf("encoding table %s is not in the store", encodingKey)
	}
	table, err := encodingtable.ParseBytes(raw)
	if err != nil {
		return core.Key{}, fmt.Errorf("failed to parse encoding table: %w", err)
	}
	ekey, ok := table.Resolve(ckey)
	if !ok {
		return core.Key{}, fmt.Errorf("content key %s is not in the encoding table", ckey)
	}
	return ekey, nil
}

// listInstall writes one "name<TAB>ckey<TAB>size" line per file of the install
// manifest stored under installKey that carries every tag in tags.
func listInstall(ctx context.Context, store *engine.Store, installKey core.Key, tags []string, w io.Writer) error {
	raw, found, err := store.Get(ctx, installKey)
	if err != nil {
		return fmt.Errorf("failed to read install manifest: %w", err)
	}
	if !found {
		return fmt.Errorf("install manifest %s is not in the store", installKey)
	}
	m, err := manifest.ParseInstallBytes(raw)
	if err != nil {
		return fmt.Errorf("failed to parse install manifest: %w", err)
	}
	files, err := m.Select(tags...)
	if err != nil {
		return err
	}
	for _, f := range files {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%d\n", f.Name, f.CKey, f.Size); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

type summary struct {
	EKey        string             `json:"ekey"`
	CKey        string             `json:"ckey,omitempty"`
	Bytes       int                `json:"bytes"`
	Output      string             `json:"output"`
	Entries     int                `json:"entries"`
	DataFiles   int                `json:"data_files"`
	Generations []uint32           `json:"generations"`
	Latency     map[string]float64 `json:"get_latency_seconds"`
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("casc-get", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to the YAML configuration file")
	root := fs.String("root", "", "store directory, overrides store.root")
	ekeyHex := fs.String("ekey", "", "encoding key of the file to extract")
	ckeyHex := fs.String("ckey", "", "content key of the file to extract, needs --encoding-ekey")
	encodingHex := fs.String("encoding-ekey", "", "encoding key of the store's encoding table")
	outPath := fs.String("out", "-", "output file, - for stdout")
	verify := fs.String("verify", "", "index entries hash verification: off, warn or strict")
	printSummary := fs.Bool("summary", false, "print a JSON summary to stderr once the file is written")
	installHex := fs.String("install-ekey", "", "encoding key of an install manifest to list instead of extracting a file")
	tags := fs.StringSlice("tag", nil, "with --install-ekey, list only files carrying every given tag")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadConfig(*configPath)
	} else {
		cfg, err = config.Load(nil)
	}
	if err != nil {
		return err
	}
	if *root != "" {
		cfg.Store.Root = *root
	}
	if *verify != "" {
		cfg.Store.VerifyEntriesHash = *verify
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	listing := *installHex != ""
	if listing {
		if *ekeyHex != "" || *ckeyHex != "" {
			return errors.New("--install-ekey cannot be combined with --ekey or --ckey")
		}
	} else if (*ekeyHex == "") == (*ckeyHex == "") {
		return errors.New("exactly one of --ekey and --ckey must be given")
	}
	if *ckeyHex != "" && *encodingHex == "" {
		return errors.New("--ckey requires --encoding-ekey")
	}

	logger, closer, err := createLogger(cfg.Logging, stderr)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(logger)

	tp, cleanup, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	keys, err := buildKeyring(cfg.Keyring)
	if err != nil {
		return err
	}
	contentCache, err := buildCache(cfg.Cache, logger)
	if err != nil {
		return err
	}
	mode, err := config.ParseVerifyMode(cfg.Store.VerifyEntriesHash)
	if err != nil {
		return err
	}

	hookManager := newHookManager(logger)
	defer hookManager.Stop()

	openCtx, cancel := context.WithTimeout(ctx, config.ParseDuration(cfg.Store.OpenTimeout, 30*time.Second, logger))
	defer cancel()
	opts := engine.Options{
		Root:              cfg.Store.Root,
		VerifyEntriesHash: mode,
		VerifyDataFiles:   cfg.Store.VerifyDataFiles,
		LoadConcurrency:   cfg.Store.LoadConcurrency,
		Keys:              keys,
		Cache:             contentCache,
		Hooks:             hookManager,
		Metrics:           engine.NewMetrics(cfg.Metrics.Publish, cfg.Metrics.Prefix),
		TracerProvider:    tp,
		Logger:            logger.With("component", "store"),
	}
	store, err := engine.Open(openCtx, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	if listing {
		installKey, err := core.ParseKey(*installHex)
		if err != nil {
			return err
		}
		return listInstall(ctx, store, installKey, *tags, stdout)
	}

	var ekey, ckey core.Key
	if *ckeyHex != "" {
		if ckey, err = core.ParseKey(*ckeyHex); err != nil {
			return err
		}
		encodingKey, err := core.ParseKey(*encodingHex)
		if err != nil {
			return err
		}
		if ekey, err = resolveContentKey(ctx, store, encodingKey, ckey); err != nil {
			return err
		}
	} else if ekey, err = core.ParseKey(*ekeyHex); err != nil {
		return err
	}

	content, found, err := store.Get(ctx, ekey)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("encoding key %s is not in the store", ekey)
	}

	if *outPath == "-" {
		if _, err := stdout.Write(content); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	} else if err := os.WriteFile(*outPath, content, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	logger.Info("File extracted", "ekey", ekey.String(), "bytes", len(content), "output", *outPath)

	if *printSummary {
		s := summary{
			EKey:        ekey.String(),
			Bytes:       len(content),
			Output:      *outPath,
			Entries:     store.EntryCount(),
			DataFiles:   len(store.DataFiles()),
			Generations: store.Generations(),
			Latency:     store.Metrics().LatencyQuantiles(),
		}
		if !ckey.IsZero() {
			s.CKey = ckey.String()
		}
		enc := json.NewEncoder(stderr)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	return nil
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "casc-get: %v\n", err)
		os.Exit(1)
	}
}
