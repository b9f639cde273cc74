package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-tagger/internal/client"
	"github.com/23skdu/longbow-tagger/internal/config"
	"github.com/23skdu/longbow-tagger/internal/progress"
	"github.com/23skdu/longbow-tagger/internal/tagger"
)

type mockFlightClient struct {
	mock.Mock
}

func (m *mockFlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	args := m.Called(ctx, datasetName, record)
	return args.Error(0)
}

func (m *mockFlightClient) Close() error {
	return nil
}

type mockTagger struct {
	mock.Mock
}

func (m *mockTagger) Decode(ctx context.Context, seqs []tagger.Sequence) ([]tagger.Result, error) {
	args := m.Called(ctx, seqs)
	res, _ := args.Get(0).([]tagger.Result)
	return res, args.Error(1)
}

func (m *mockTagger) DecodeStream(ctx context.Context, seqs []tagger.Sequence) <-chan tagger.StreamResult {
	args := m.Called(ctx, seqs)
	out := make(chan tagger.StreamResult, 1)
	out <- args.Get(0).(tagger.StreamResult)
	close(out)
	return out
}

func (m *mockTagger) Loss(ctx context.Context, seqs []tagger.Sequence, gold [][]string) ([]float64, error) {
	args := m.Called(ctx, seqs, gold)
	res, _ := args.Get(0).([]float64)
	return res, args.Error(1)
}

func (m *mockTagger) NumTags() int { return 5 }

func writeLabels(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("<GO>\nO\nB-PER\nI-PER\n<EOS>\n"), 0o644))
	return path
}

func newRealTagger(t *testing.T) *tagger.Tagger {
	t.Helper()
	cfg := config.Default()
	cfg.Model.Labels = writeLabels(t)
	cfg.Model.Scheme = "bio"
	tg, err := buildTagger(cfg)
	require.NoError(t, err)
	return tg
}

func row(favoured int, score float64) []float64 {
	r := []float64{-100, 0, 0, 0, -100}
	r[favoured] = score
	return r
}

// personSeq decodes to B-PER I-PER O under the BIO mask.
func personSeq() tagger.Sequence {
	return tagger.Sequence{Emissions: [][]float64{row(3, 5), row(3, 5), row(1, 5)}}
}

func TestServer_Full(t *testing.T) {
	mfc := &mockFlightClient{}
	srv := NewServer(newRealTagger(t), ServerOptions{
		FlightClient:  mfc,
		Dataset:       "test-dataset",
		MaxConcurrent: 8,
	})
	handler := srv.Handler()

	t.Run("Decode with Forwarding", func(t *testing.T) {
		data, _ := cbor.Marshal([]tagger.Sequence{personSeq(), personSeq()})
		req := httptest.NewRequest(http.MethodPost, "/decode", bytes.NewReader(data))
		rr := httptest.NewRecorder()

		mfc.On("DoPut", mock.Anything, "test-dataset", mock.Anything).Return(nil).Once()

		handler.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, cborContentType, rr.Header().Get("Content-Type"))
		var results []tagger.Result
		require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &results))
		require.Len(t, results, 2)
		assert.Equal(t, []string{"B-PER", "I-PER", "O"}, results[0].Labels)
		assert.InDelta(t, 10.0, results[1].Score, 1e-9)
		mfc.AssertExpectations(t)
	})

	t.Run("Decode empty", func(t *testing.T) {
		data, _ := cbor.Marshal([]tagger.Sequence{})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/decode", bytes.NewReader(data)))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Decode bad sequence", func(t *testing.T) {
		data, _ := cbor.Marshal([]tagger.Sequence{{Emissions: [][]float64{{1, 2}}}})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/decode", bytes.NewReader(data)))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Decode bad body", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/decode", bytes.NewReader([]byte{0xff})))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Decode too large", func(t *testing.T) {
		seqs := make([]tagger.Sequence, 9)
		for i := range seqs {
			seqs[i] = personSeq()
		}
		data, _ := cbor.Marshal(seqs)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/decode", bytes.NewReader(data)))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("Method not allowed", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/decode", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})

	t.Run("Loss", func(t *testing.T) {
		data, _ := cbor.Marshal(LossRequest{
			Sequences: []tagger.Sequence{personSeq()},
			Gold:      [][]string{{"B-PER", "I-PER", "O"}},
		})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/loss", bytes.NewReader(data)))

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var loss []float64
		require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &loss))
		require.Len(t, loss, 1)
		assert.GreaterOrEqual(t, loss[0], -1e-9)
	})

	t.Run("Loss unknown label", func(t *testing.T) {
		data, _ := cbor.Marshal(LossRequest{
			Sequences: []tagger.Sequence{personSeq()},
			Gold:      [][]string{{"B-LOC", "I-LOC", "O"}},
		})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/loss", bytes.NewReader(data)))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Health Check", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "OK", rr.Body.String())
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "tagger_crf_call_duration_seconds")
	})
}

func TestServer_ForwardBreaker(t *testing.T) {
	mt := &mockTagger{}
	mfc := &mockFlightClient{}
	breaker := client.NewCircuitBreaker(1, time.Hour)
	srv := NewServer(mt, ServerOptions{FlightClient: mfc, Breaker: breaker, Dataset: "d", MaxConcurrent: 4})

	seqs := []tagger.Sequence{personSeq()}
	chunk := tagger.StreamResult{Results: []tagger.Result{{Path: []int{1}, Labels: []string{"O"}}}, Count: 1}
	mt.On("DecodeStream", mock.Anything, seqs).Return(chunk)
	mfc.On("DoPut", mock.Anything, "d", mock.Anything).Return(errors.New("sink down")).Once()

	data, _ := cbor.Marshal(seqs)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		srv.handleDecode(rr, httptest.NewRequest(http.MethodPost, "/decode", bytes.NewReader(data)))
		// Forwarding failures never fail the request.
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	// The breaker opened after the first failure, so only one DoPut happened.
	mfc.AssertNumberOfCalls(t, "DoPut", 1)
	assert.Equal(t, client.StateOpen, breaker.State())
}

func TestServer_DecodeErrorStatus(t *testing.T) {
	mt := &mockTagger{}
	srv := NewServer(mt, ServerOptions{MaxConcurrent: 4})
	seqs := []tagger.Sequence{personSeq()}
	mt.On("DecodeStream", mock.Anything, seqs).Return(tagger.StreamResult{Err: errors.New("boom")})

	data, _ := cbor.Marshal(seqs)
	rr := httptest.NewRecorder()
	srv.handleDecode(rr, httptest.NewRequest(http.MethodPost, "/decode", bytes.NewReader(data)))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func emissionStream(t *testing.T, seqs []tagger.Sequence) []byte {
	t.Helper()
	builder := client.NewRecordBatchBuilder(memory.NewGoAllocator())
	rec := builder.BuildEmissionBatch(seqs)
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(rec.Schema()))
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestServer_DecodeArrow(t *testing.T) {
	srv := NewServer(newRealTagger(t), ServerOptions{MaxConcurrent: 8})
	body := emissionStream(t, []tagger.Sequence{personSeq(), {Emissions: [][]float64{row(1, 5)}}})

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/decode/arrow", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, arrowContentType, rr.Header().Get("Content-Type"))

	reader, err := ipc.NewReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer reader.Release()
	require.True(t, reader.Next())
	rec := reader.Record()
	assert.Equal(t, int64(2), rec.NumRows())
	scores := rec.Column(2).(*array.Float64)
	assert.InDelta(t, 10.0, scores.Value(0), 1e-9)
	assert.InDelta(t, 5.0, scores.Value(1), 1e-9)
	labels := rec.Column(1).(*array.List).ListValues().(*array.String)
	assert.Equal(t, "B-PER", labels.Value(0))

	t.Run("Garbage body", func(t *testing.T) {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/decode/arrow", bytes.NewReader([]byte("nope"))))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Wrong width", func(t *testing.T) {
		body := emissionStream(t, []tagger.Sequence{{Emissions: [][]float64{{1, 2, 3}}}})
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/decode/arrow", bytes.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestFlightServer_DoExchange(t *testing.T) {
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(NewTaggerFlightServer(newRealTagger(t)))
	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	defer server.Shutdown()

	fc, err := client.NewFlightClient(server.Addr().String())
	require.NoError(t, err)
	defer fc.Close()

	builder := client.NewRecordBatchBuilder(memory.NewGoAllocator())
	rec := builder.BuildEmissionBatch([]tagger.Sequence{personSeq()})
	defer rec.Release()

	out, err := fc.Exchange(context.Background(), rec)
	require.NoError(t, err)
	require.Len(t, out, 1)
	defer out[0].Release()

	assert.Equal(t, int64(1), out[0].NumRows())
	path := out[0].Column(0).(*array.List).ListValues().(*array.Int32)
	assert.Equal(t, []int32{2, 3, 1}, path.Int32Values())
}

func TestRunBench(t *testing.T) {
	tg := newRealTagger(t)
	p, err := progress.New("none", 3)
	require.NoError(t, err)

	stats, err := runBench(context.Background(), tg, config.BenchConfig{Batches: 3, Size: 4, MaxLen: 6, Seed: 7}, p)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Batches)
	assert.Equal(t, 12, stats.Sequences)
	assert.GreaterOrEqual(t, stats.Tokens, 12)
	assert.LessOrEqual(t, stats.Tokens, 72)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = runBench(ctx, tg, config.BenchConfig{Batches: 1, Size: 1, MaxLen: 1, Seed: 7}, p)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildTagger_Errors(t *testing.T) {
	cfg := config.Default()
	cfg.Model.Labels = writeLabels(t)
	cfg.Model.StartLabel = "[CLS]"
	_, err := buildTagger(cfg)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Model.Labels = writeLabels(t)
	cfg.Model.PadLabel = "<PAD>"
	_, err = buildTagger(cfg)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Model.Labels = writeLabels(t)
	cfg.Model.Transitions = filepath.Join(t.TempDir(), "missing.bin")
	_, err = buildTagger(cfg)
	assert.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	fs := flag.CommandLine
	require.NoError(t, fs.Set("batch-size", "8"))
	require.NoError(t, fs.Set("no-cache", "true"))
	require.NoError(t, fs.Set("scheme", "bio"))

	cfg := config.Default()
	applyFlags(&cfg, fs)
	assert.Equal(t, 8, cfg.Server.BatchSize)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "bio", cfg.Model.Scheme)
	// Unset flags leave the file values alone.
	assert.Equal(t, config.Default().Server.MaxConcurrent, cfg.Server.MaxConcurrent)
}
