//go:build ignore

package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-tagger/internal/client"
	"github.com/23skdu/longbow-tagger/internal/tagger"
)

// Usage: go run scripts/verify_flight.go [addr] [num_tags]
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}
	numTags := 5
	if len(os.Args) > 2 {
		n, err := strconv.Atoi(os.Args[2])
		if err != nil {
			log.Fatal().Err(err).Msg("Bad tag count")
		}
		numTags = n
	}

	log.Info().Str("addr", addr).Msg("Connecting to Tagger Flight Server")

	var c *client.FlightClient
	var err error
	for i := 0; i < 10; i++ {
		c, err = client.NewFlightClient(addr)
		if err == nil {
			break
		}
		log.Warn().Err(err).Msg("Connection failed, retrying...")
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect after retries")
	}
	defer c.Close()

	rng := rand.New(rand.NewPCG(1, 2))
	lengths := []int{1, 4, 9}
	seqs := make([]tagger.Sequence, len(lengths))
	for i, l := range lengths {
		rows := make([][]float64, l)
		for t := range rows {
			rows[t] = make([]float64, numTags)
			for k := range rows[t] {
				rows[t][k] = rng.NormFloat64()
			}
		}
		seqs[i] = tagger.Sequence{Emissions: rows}
	}

	rec := client.NewRecordBatchBuilder(memory.NewGoAllocator()).BuildEmissionBatch(seqs)
	defer rec.Release()

	log.Info().Int("count", len(seqs)).Msg("Sending emissions")
	start := time.Now()
	out, err := c.Exchange(context.Background(), rec)
	if err != nil {
		log.Fatal().Err(err).Msg("Exchange failed")
	}
	log.Info().Dur("elapsed", time.Since(start)).Int("batches", len(out)).Msg("Received results")

	rows := 0
	for _, r := range out {
		paths := r.Column(0).(*array.List)
		for i := 0; i < paths.Len(); i++ {
			begin, end := paths.ValueOffsets(i)
			if got, want := int(end-begin), lengths[rows]; got != want {
				log.Fatal().Int("index", rows).Int("got", got).Int("want", want).Msg("Path length mismatch")
			}
			log.Info().Int("index", rows).Int64("len", end-begin).Msg("Path valid")
			rows++
		}
		r.Release()
	}
	if rows != len(seqs) {
		log.Fatal().Int("expected", len(seqs)).Int("got", rows).Msg("Count mismatch")
	}

	fmt.Println("VERIFICATION PASSED")
}
