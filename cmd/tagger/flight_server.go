package main

import (
	"errors"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-tagger/internal/client"
	"github.com/23skdu/longbow-tagger/internal/tagger"
)

// TaggerFlightServer decodes emission batches sent over DoExchange.
type TaggerFlightServer struct {
	flight.BaseFlightServer
	tagger  TaggerInterface
	alloc   memory.Allocator
	builder *client.RecordBatchBuilder
}

func NewTaggerFlightServer(tg TaggerInterface) *TaggerFlightServer {
	alloc := memory.NewGoAllocator()
	return &TaggerFlightServer{
		tagger:  tg,
		alloc:   alloc,
		builder: client.NewRecordBatchBuilder(alloc),
	}
}

// DoExchange reads emission batches and streams back one result batch per
// input batch. Reading and decoding run concurrently.
func (s *TaggerFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "failed to read emission stream: %v", err)
	}
	defer reader.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(client.ResultSchema), ipc.WithAllocator(s.alloc))

	g, ctx := errgroup.WithContext(stream.Context())
	batches := make(chan []tagger.Sequence, 4)

	g.Go(func() error {
		defer close(batches)
		for reader.Next() {
			seqs, err := client.SequencesFromRecord(reader.Record(), s.tagger.NumTags())
			if err != nil {
				return status.Error(codes.InvalidArgument, err.Error())
			}
			select {
			case batches <- seqs:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return reader.Err()
	})

	g.Go(func() error {
		rows := 0
		for seqs := range batches {
			results, err := s.tagger.Decode(ctx, seqs)
			if err != nil {
				if errors.Is(err, tagger.ErrSequence) {
					return status.Error(codes.InvalidArgument, err.Error())
				}
				return err
			}
			rec, err := s.builder.BuildRecordBatch(results)
			if err != nil {
				return err
			}
			if rec == nil {
				continue
			}
			err = writer.Write(rec)
			rec.Release()
			if err != nil {
				return err
			}
			rows += len(seqs)
		}
		log.Debug().Int("rows", rows).Msg("DoExchange decoded stream")
		return nil
	})

	if err := g.Wait(); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

func StartFlightServer(addr string, tg TaggerInterface) {
	server := flight.NewFlightServer()
	server.RegisterFlightService(NewTaggerFlightServer(tg))

	if err := server.Init(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", addr).Msg("Starting Tagger Flight Server")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight server failed")
	}
}
