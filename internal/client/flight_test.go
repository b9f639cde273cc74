package client

import (
	"context"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-tagger/internal/tagger"
)

type mockFlightServer struct {
	flight.BaseFlightServer
	mu      sync.Mutex
	paths   []string
	rows    int64
	columns []string
}

func (s *mockFlightServer) DoPut(server flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(server)
	if err != nil {
		return err
	}
	defer reader.Release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if desc := reader.LatestFlightDescriptor(); desc != nil {
		s.paths = append(s.paths, desc.Path...)
	}
	for reader.Next() {
		rec := reader.Record()
		s.rows += rec.NumRows()
		for i := 0; i < int(rec.NumCols()); i++ {
			s.columns = append(s.columns, rec.ColumnName(i))
		}
	}
	return reader.Err()
}

// DoExchange echoes every batch back.
func (s *mockFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer reader.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(reader.Schema()))
	defer writer.Close()
	for reader.Next() {
		if err := writer.Write(reader.Record()); err != nil {
			return err
		}
	}
	return reader.Err()
}

func startMockServer(t *testing.T) (*mockFlightServer, string) {
	t.Helper()
	mockServer := &mockFlightServer{}
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(mockServer)
	require.NoError(t, server.Init("localhost:0"))

	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)
	return mockServer, server.Addr().String()
}

func TestFlightClient_DoPut(t *testing.T) {
	mockServer, addr := startMockServer(t)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	builder := NewRecordBatchBuilder(memory.NewGoAllocator())
	rb, err := builder.BuildRecordBatch([]tagger.Result{
		{Path: []int{1, 2}, Labels: []string{"O", "B-PER"}, Score: 1},
		{Path: []int{1}, Labels: []string{"O"}, Score: 2},
	})
	require.NoError(t, err)
	defer rb.Release()

	require.NoError(t, client.DoPut(context.Background(), "test-dataset", rb))

	mockServer.mu.Lock()
	defer mockServer.mu.Unlock()
	assert.Equal(t, []string{"test-dataset"}, mockServer.paths)
	assert.Equal(t, int64(2), mockServer.rows)
	assert.Equal(t, []string{"path", "labels", "score"}, mockServer.columns)
}

func TestFlightClient_Exchange(t *testing.T) {
	_, addr := startMockServer(t)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	builder := NewRecordBatchBuilder(memory.NewGoAllocator())
	seqs := []tagger.Sequence{{Emissions: [][]float64{{1, 2}, {3, 4}}}}
	rec := builder.BuildEmissionBatch(seqs)
	defer rec.Release()

	out, err := client.Exchange(context.Background(), rec)
	require.NoError(t, err)
	require.Len(t, out, 1)
	defer func() {
		for _, r := range out {
			r.Release()
		}
	}()

	got, err := SequencesFromRecord(out[0], 2)
	require.NoError(t, err)
	assert.Equal(t, seqs, got)
	assert.True(t, out[0].Schema().Equal(arrow.NewSchema(EmissionSchema.Fields(), nil)))
}
