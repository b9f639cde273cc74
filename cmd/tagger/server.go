package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-tagger/internal/client"
	"github.com/23skdu/longbow-tagger/internal/crf"
	"github.com/23skdu/longbow-tagger/internal/tagger"
)

const (
	cborContentType  = "application/cbor"
	arrowContentType = "application/vnd.apache.arrow.stream"
)

var (
	sequencesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagger_sequences_served_total",
		Help: "The total number of sequences answered per endpoint",
	}, []string{"handler"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tagger_request_duration_seconds",
		Help:    "Time spent processing requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})

	forwardErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tagger_forward_errors_total",
		Help: "The total number of decoded batches that failed to reach the Flight sink",
	})
)

type TaggerInterface interface {
	Decode(ctx context.Context, seqs []tagger.Sequence) ([]tagger.Result, error)
	DecodeStream(ctx context.Context, seqs []tagger.Sequence) <-chan tagger.StreamResult
	Loss(ctx context.Context, seqs []tagger.Sequence, gold [][]string) ([]float64, error)
	NumTags() int
}

type FlightClientInterface interface {
	DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error
	Close() error
}

// LossRequest is the body of /loss.
type LossRequest struct {
	Sequences []tagger.Sequence `cbor:"sequences"`
	Gold      [][]string        `cbor:"gold"`
}

type Server struct {
	tagger         TaggerInterface
	flightClient   FlightClientInterface
	breaker        *client.CircuitBreaker
	builder        *client.RecordBatchBuilder
	datasetName    string
	forwardTimeout time.Duration
	alloc          memory.Allocator
	sem            *semaphore.Weighted
	maxConcurrent  int64
}

// ServerOptions configures a Server. FlightClient and Breaker are optional.
type ServerOptions struct {
	FlightClient   FlightClientInterface
	Breaker        *client.CircuitBreaker
	Dataset        string
	ForwardTimeout time.Duration
	MaxConcurrent  int
}

func NewServer(tg TaggerInterface, opts ServerOptions) *Server {
	alloc := memory.NewGoAllocator()
	breaker := opts.Breaker
	if breaker == nil {
		breaker = client.NewCircuitBreaker(5, 30*time.Second)
	}
	return &Server{
		tagger:         tg,
		flightClient:   opts.FlightClient,
		breaker:        breaker,
		builder:        client.NewRecordBatchBuilder(alloc),
		datasetName:    opts.Dataset,
		forwardTimeout: opts.ForwardTimeout,
		alloc:          alloc,
		sem:            semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		maxConcurrent:  int64(opts.MaxConcurrent),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/decode", s.handleDecode)
	mux.HandleFunc("/decode/arrow", s.handleDecodeArrow)
	mux.HandleFunc("/loss", s.handleLoss)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func startServer(addr string, srv *Server) {
	log.Info().Str("addr", addr).Msg("Starting Tagger Server")
	if srv.flightClient != nil {
		log.Info().Str("dataset", srv.datasetName).Msg("Forwarding decoded batches to Flight sink")
	}

	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("tagger-server")

// admit reserves n units of the concurrency budget.
func (s *Server) admit(ctx context.Context, n int) (func(), error) {
	weight := int64(n)
	if weight > s.maxConcurrent {
		return nil, fmt.Errorf("batch of %d exceeds max concurrency %d", n, s.maxConcurrent)
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		return nil, err
	}
	return func() { s.sem.Release(weight) }, nil
}

// statusFor maps decode errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tagger.ErrSequence),
		errors.Is(err, crf.ErrShape),
		errors.Is(err, crf.ErrLength):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeCBOR(w http.ResponseWriter, v any) {
	data, err := cbor.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("CBOR encode: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", cborContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleDecode")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("decode").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var seqs []tagger.Sequence
	if err := cbor.NewDecoder(r.Body).Decode(&seqs); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}
	if len(seqs) == 0 {
		writeCBOR(w, []tagger.Result{})
		return
	}
	span.SetAttributes(attribute.Int("sequence_count", len(seqs)))

	release, err := s.admit(ctx, len(seqs))
	if err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer release()

	// Decode and forward, pipelined per internal batch.
	results := make([]tagger.Result, len(seqs))
	for chunk := range s.tagger.DecodeStream(ctx, seqs) {
		if chunk.Err != nil {
			span.RecordError(chunk.Err)
			http.Error(w, chunk.Err.Error(), statusFor(chunk.Err))
			return
		}
		copy(results[chunk.Offset:], chunk.Results)
		s.forward(ctx, chunk.Results)
	}
	sequencesServed.WithLabelValues("decode").Add(float64(len(seqs)))

	writeCBOR(w, results)
}

// forward sends decoded results to the Flight sink, if one is configured.
// Failures are logged and never fail the request.
func (s *Server) forward(ctx context.Context, results []tagger.Result) {
	if s.flightClient == nil || len(results) == 0 {
		return
	}
	rec, err := s.builder.BuildRecordBatch(results)
	if err != nil {
		forwardErrors.Inc()
		log.Error().Err(err).Msg("Failed to build result batch")
		return
	}
	defer rec.Release()

	err = s.breaker.Execute(func() error {
		fctx := ctx
		if s.forwardTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(ctx, s.forwardTimeout)
			defer cancel()
		}
		return s.flightClient.DoPut(fctx, s.datasetName, rec)
	})
	if err != nil {
		forwardErrors.Inc()
		log.Error().Err(err).Str("breaker", s.breaker.State().String()).Msg("Error forwarding batch to Flight sink")
	}
}

func (s *Server) handleLoss(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleLoss")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("loss").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LossRequest
	if err := cbor.NewDecoder(r.Body).Decode(&req); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("sequence_count", len(req.Sequences)))

	release, err := s.admit(ctx, max(len(req.Sequences), 1))
	if err != nil {
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer release()

	loss, err := s.tagger.Loss(ctx, req.Sequences, req.Gold)
	if err != nil {
		span.RecordError(err)
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			// Unknown gold labels surface as plain vocabulary errors.
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	sequencesServed.WithLabelValues("loss").Add(float64(len(req.Sequences)))
	if loss == nil {
		loss = []float64{}
	}
	writeCBOR(w, loss)
}

// countingWriter tracks whether anything reached the client.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// admitFunc reserves capacity for n sequences and returns its release.
type admitFunc func(ctx context.Context, n int) (func(), error)

// decodeArrowStream reads emission batches from r and writes one result
// batch per input batch to w. Nothing is written before the first batch
// has decoded, so an error with no output leaves w untouched.
func decodeArrowStream(ctx context.Context, tg TaggerInterface, builder *client.RecordBatchBuilder, alloc memory.Allocator, r io.Reader, w io.Writer, admit admitFunc) (int, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(alloc))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create IPC reader: %v", tagger.ErrSequence, err)
	}
	defer reader.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(client.ResultSchema), ipc.WithAllocator(alloc))
	total := 0
	for reader.Next() {
		seqs, err := client.SequencesFromRecord(reader.Record(), tg.NumTags())
		if err != nil {
			return total, fmt.Errorf("%w: %v", tagger.ErrSequence, err)
		}
		if len(seqs) == 0 {
			continue
		}

		release := func() {}
		if admit != nil {
			if release, err = admit(ctx, len(seqs)); err != nil {
				return total, err
			}
		}
		results, err := tg.Decode(ctx, seqs)
		release()
		if err != nil {
			return total, err
		}

		rec, err := builder.BuildRecordBatch(results)
		if err != nil {
			return total, err
		}
		err = writer.Write(rec)
		rec.Release()
		if err != nil {
			return total, err
		}
		total += len(seqs)
	}
	if err := reader.Err(); err != nil {
		return total, fmt.Errorf("%w: error reading Arrow stream: %v", tagger.ErrSequence, err)
	}
	return total, writer.Close()
}

func (s *Server) handleDecodeArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleDecodeArrow")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("decode_arrow").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", arrowContentType)
	out := &countingWriter{w: w}
	total, err := decodeArrowStream(ctx, s.tagger, s.builder, s.alloc, r.Body, out, s.admit)
	span.SetAttributes(attribute.Int("sequence_count", total))
	sequencesServed.WithLabelValues("decode_arrow").Add(float64(total))
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Int("decoded", total).Msg("Arrow decode failed")
		if out.n == 0 {
			w.Header().Del("Content-Type")
			http.Error(w, err.Error(), statusFor(err))
		}
		return
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
