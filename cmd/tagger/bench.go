package main

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-tagger/internal/config"
	"github.com/23skdu/longbow-tagger/internal/progress"
	"github.com/23skdu/longbow-tagger/internal/tagger"
)

type benchStats struct {
	Batches   int
	Sequences int
	Tokens    int
	Elapsed   time.Duration
}

// randomBatch draws size sequences of 1..maxLen tokens with N(0, 2)
// emission scores.
func randomBatch(rng *rand.Rand, size, maxLen, n int) ([]tagger.Sequence, int) {
	seqs := make([]tagger.Sequence, size)
	tokens := 0
	for i := range seqs {
		length := 1 + rng.IntN(maxLen)
		rows := make([][]float64, length)
		for t := range rows {
			row := make([]float64, n)
			for k := range row {
				row[k] = rng.NormFloat64() * 2
			}
			rows[t] = row
		}
		seqs[i] = tagger.Sequence{Emissions: rows}
		tokens += length
	}
	return seqs, tokens
}

// runBench decodes cfg.Batches random batches and reports throughput.
func runBench(ctx context.Context, tg TaggerInterface, cfg config.BenchConfig, p progress.Progress) (benchStats, error) {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	var stats benchStats
	defer p.Done()

	for i := 0; i < cfg.Batches; i++ {
		seqs, tokens := randomBatch(rng, cfg.Size, cfg.MaxLen, tg.NumTags())

		start := time.Now()
		if _, err := tg.Decode(ctx, seqs); err != nil {
			return stats, err
		}
		stats.Elapsed += time.Since(start)
		stats.Batches++
		stats.Sequences += len(seqs)
		stats.Tokens += tokens
		p.Add(1)
	}

	secs := stats.Elapsed.Seconds()
	if secs > 0 {
		log.Info().
			Int("batches", stats.Batches).
			Int("sequences", stats.Sequences).
			Int("tokens", stats.Tokens).
			Dur("elapsed", stats.Elapsed).
			Float64("sequences_per_sec", float64(stats.Sequences)/secs).
			Float64("tokens_per_sec", float64(stats.Tokens)/secs).
			Msg("Benchmark complete")
	}
	return stats, nil
}
