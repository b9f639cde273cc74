//go:build ignore

package main

import (
	"flag"
	"math/rand/v2"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-tagger/internal/tags"
	"github.com/23skdu/longbow-tagger/internal/weights"
)

// Writes a random transition matrix sized to a label file, for smoke tests
// of the tagger command.
func main() {
	labels := flag.String("labels", "labels.txt", "Label file")
	out := flag.String("out", "transitions.bin", "Output file")
	scale := flag.Float64("scale", 0.5, "Standard deviation of the entries")
	seed := flag.Uint64("seed", 1, "Random seed")
	flag.Parse()

	v, err := tags.LoadVocab(*labels)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load labels")
	}

	rng := rand.New(rand.NewPCG(*seed, *seed))
	n := v.Size()
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			m.Set(i, j, rng.NormFloat64()**scale)
		}
	}

	if err := weights.WriteTransitions(*out, m); err != nil {
		log.Fatal().Err(err).Msg("Failed to write transitions")
	}
	log.Info().Str("out", *out).Int("n_tags", n).Msg("Wrote transitions")
}
