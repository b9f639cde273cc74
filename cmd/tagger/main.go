package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-tagger/internal/cache"
	"github.com/23skdu/longbow-tagger/internal/client"
	"github.com/23skdu/longbow-tagger/internal/config"
	"github.com/23skdu/longbow-tagger/internal/crf"
	"github.com/23skdu/longbow-tagger/internal/progress"
	"github.com/23skdu/longbow-tagger/internal/tagger"
	"github.com/23skdu/longbow-tagger/internal/tags"
	"github.com/23skdu/longbow-tagger/internal/weights"
)

var (
	configPath      = flag.String("config", "", "Path to YAML config file")
	labelsPath      = flag.String("labels", "", "Path to tag label file, one label per line")
	schemeName      = flag.String("scheme", "", "Span scheme (iob, bio, iobes)")
	transitionsPath = flag.String("transitions", "", "Path to raw float32 transition matrix")
	batchFirst      = flag.Bool("batch-first", false, "Run the CRF on (batch, time, tag) emissions")
	noConstrain     = flag.Bool("no-constrain", false, "Disable the scheme transition mask")
	inputPath       = flag.String("input", "-", "Arrow IPC emission stream to decode in one-shot mode ('-' for stdin)")
	cpuProfile      = flag.String("cpuprofile", "", "Write cpu profile to file")
	serverAddr      = flag.String("server", "", "Flight sink address for decoded batches (e.g., localhost:3000)")
	datasetName     = flag.String("dataset", "", "Target dataset name on the Flight sink")
	listenAddr      = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr      = flag.String("flight", "", "Address to listen on for Flight Server (e.g. :9090)")
	maxConcurrent   = flag.Int("max-concurrent", 0, "Maximum number of concurrent sequences to process")
	batchSize       = flag.Int("batch-size", 0, "Sequences per CRF call")
	noCache         = flag.Bool("no-cache", false, "Disable the decoded path cache")
	enableOTel      = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	logLevel        = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	benchBatches    = flag.Int("bench", 0, "Decode N random batches and report throughput")
	benchProgress   = flag.String("progress", "", "Benchmark progress reporter (default, log, none)")
)

// applyFlags copies explicitly set flags over the file configuration.
func applyFlags(cfg *config.Config, fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "labels":
			cfg.Model.Labels = *labelsPath
		case "scheme":
			cfg.Model.Scheme = *schemeName
		case "transitions":
			cfg.Model.Transitions = *transitionsPath
		case "batch-first":
			cfg.Model.BatchFirst = *batchFirst
		case "no-constrain":
			cfg.Model.Constrain = !*noConstrain
		case "server":
			cfg.Forward.Addr = *serverAddr
		case "dataset":
			cfg.Forward.Dataset = *datasetName
		case "listen":
			cfg.Server.Listen = *listenAddr
		case "flight":
			cfg.Server.Flight = *flightAddr
		case "max-concurrent":
			cfg.Server.MaxConcurrent = *maxConcurrent
		case "batch-size":
			cfg.Server.BatchSize = *batchSize
		case "no-cache":
			cfg.Cache.Enabled = !*noCache
		case "otel":
			cfg.OTel = *enableOTel
		case "log-level":
			cfg.LogLevel = *logLevel
		case "bench":
			cfg.Bench.Batches = *benchBatches
		case "progress":
			cfg.Bench.Progress = *benchProgress
		}
	})
}

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	applyFlags(&cfg, flag.CommandLine)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)

	if cfg.OTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	tg, err := buildTagger(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create tagger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Benchmark Mode
	if cfg.Bench.Batches > 0 {
		p, err := progress.New(cfg.Bench.Progress, cfg.Bench.Batches)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create progress reporter")
		}
		if _, err := runBench(ctx, tg, cfg.Bench, p); err != nil {
			log.Fatal().Err(err).Msg("Benchmark failed")
		}
		return
	}

	// Server Mode
	if cfg.Server.Listen != "" {
		opts := ServerOptions{
			Dataset:        cfg.Forward.Dataset,
			ForwardTimeout: cfg.Forward.Timeout,
			MaxConcurrent:  cfg.Server.MaxConcurrent,
			Breaker:        client.NewCircuitBreaker(cfg.Forward.MaxFailures, cfg.Forward.Cooldown),
		}
		if cfg.Forward.Addr != "" {
			fc, err := client.NewFlightClient(cfg.Forward.Addr)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create flight client")
			}
			defer fc.Close()
			log.Info().Str("addr", cfg.Forward.Addr).Msg("Connected to Flight sink")
			opts.FlightClient = fc
		}

		go startServer(cfg.Server.Listen, NewServer(tg, opts))
	}

	if cfg.Server.Flight != "" {
		go StartFlightServer(cfg.Server.Flight, tg)
	}

	if cfg.Server.Listen != "" || cfg.Server.Flight != "" {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		return
	}

	// One-shot Mode: Arrow IPC emissions in, Arrow IPC results out.
	var in io.Reader = os.Stdin
	if *inputPath != "-" {
		f, err := os.Open(*inputPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open input")
		}
		defer f.Close()
		in = f
	}

	alloc := memory.NewGoAllocator()
	start := time.Now()
	n, err := decodeArrowStream(ctx, tg, client.NewRecordBatchBuilder(alloc), alloc, in, os.Stdout, nil)
	if err != nil {
		log.Fatal().Err(err).Int("decoded", n).Msg("Failed to decode input")
	}
	elapsed := time.Since(start)
	log.Info().
		Int("count", n).
		Dur("elapsed", elapsed).
		Float64("sps", float64(n)/elapsed.Seconds()).
		Msg("Decoded sequences")
}

// buildTagger wires vocabulary, mask, CRF, weights and cache.
func buildTagger(cfg config.Config) (*tagger.Tagger, error) {
	vocab, err := tags.LoadVocab(cfg.Model.Labels)
	if err != nil {
		return nil, err
	}
	scheme, err := tags.ParseScheme(cfg.Model.Scheme)
	if err != nil {
		return nil, err
	}

	start := vocab.Index(cfg.Model.StartLabel)
	end := vocab.Index(cfg.Model.EndLabel)
	if start < 0 || end < 0 {
		return nil, fmt.Errorf("labels must include start %q and end %q", cfg.Model.StartLabel, cfg.Model.EndLabel)
	}
	pad := tags.NoPad
	if cfg.Model.PadLabel != "" {
		if pad = vocab.Index(cfg.Model.PadLabel); pad < 0 {
			return nil, fmt.Errorf("labels must include pad %q", cfg.Model.PadLabel)
		}
	}

	var mask [][]bool
	if cfg.Model.Constrain {
		if mask, err = tags.TransitionMask(vocab, scheme, start, end, pad); err != nil {
			return nil, err
		}
	}

	c, err := crf.New(crf.Config{
		NumTags:    vocab.Size(),
		StartIdx:   start,
		EndIdx:     end,
		BatchFirst: cfg.Model.BatchFirst,
		Mask:       mask,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Model.Transitions != "" {
		if err := weights.NewLoader(c).LoadFromRawBinary(cfg.Model.Transitions); err != nil {
			return nil, err
		}
	} else {
		log.Warn().Msg("No transitions file given, using zero transitions")
	}

	var pc cache.PathCache
	if cfg.Cache.Enabled {
		pc = cache.NewMapCache(cfg.Cache.MaxEntries)
	}
	return tagger.New(c, vocab, tagger.Options{
		BatchSize: cfg.Server.BatchSize,
		Scheme:    scheme,
		Cache:     pc,
	})
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("tagger"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
