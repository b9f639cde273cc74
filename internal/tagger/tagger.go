// Package tagger turns per-token emission scores into labelled sequences
// using a CRF, a tag vocabulary and an optional decoded-path cache.
package tagger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/23skdu/longbow-tagger/internal/cache"
	"github.com/23skdu/longbow-tagger/internal/crf"
	"github.com/23skdu/longbow-tagger/internal/tags"
	"github.com/23skdu/longbow-tagger/internal/tensor"
)

// DefaultBatchSize is the number of sequences decoded per CRF call.
const DefaultBatchSize = 64

// ErrSequence reports a malformed input sequence.
var ErrSequence = errors.New("tagger: invalid sequence")

var tracer = otel.Tracer("tagger")

// Sequence is one input: a row of N emission scores per token.
type Sequence struct {
	Emissions [][]float64 `cbor:"emissions" json:"emissions"`
}

// Len returns the number of tokens.
func (s Sequence) Len() int { return len(s.Emissions) }

// Result is one decoded sequence.
type Result struct {
	Path   []int       `cbor:"path" json:"path"`
	Labels []string    `cbor:"labels" json:"labels"`
	Spans  []tags.Span `cbor:"spans" json:"spans"`
	Score  float64     `cbor:"score" json:"score"`
	Cached bool        `cbor:"cached" json:"cached"`
}

// StreamResult carries the results of one internal batch. Offset indexes
// the first sequence of the batch in the caller's input.
type StreamResult struct {
	Results []Result
	Offset  int
	Count   int
	Err     error
}

// Options configures a Tagger.
type Options struct {
	// BatchSize bounds the number of sequences per CRF call.
	BatchSize int
	// Scheme drives span extraction.
	Scheme tags.Scheme
	// Cache is optional.
	Cache cache.PathCache
}

// Tagger manages decoding and scoring of emission sequences.
type Tagger struct {
	crf               *crf.CRF
	vocab             *tags.Vocab
	scheme            tags.Scheme
	cache             cache.PathCache
	internalBatchSize int
}

// New creates a new tagger. The vocabulary must cover every CRF tag.
func New(c *crf.CRF, v *tags.Vocab, opts Options) (*Tagger, error) {
	if c == nil || v == nil {
		return nil, errors.New("tagger: nil CRF or vocabulary")
	}
	if v.Size() != c.NumTags() {
		return nil, fmt.Errorf("tagger: vocabulary has %d labels, CRF has %d tags", v.Size(), c.NumTags())
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	log.Info().
		Str("crf", c.String()).
		Str("scheme", opts.Scheme.String()).
		Int("batch_size", batchSize).
		Bool("cache", opts.Cache != nil).
		Msg("Initializing Tagger")

	return &Tagger{
		crf:               c,
		vocab:             v,
		scheme:            opts.Scheme,
		cache:             opts.Cache,
		internalBatchSize: batchSize,
	}, nil
}

// NumTags returns the CRF tag count, the row width every sequence must have.
func (t *Tagger) NumTags() int { return t.crf.NumTags() }

// Vocab returns the tag vocabulary.
func (t *Tagger) Vocab() *tags.Vocab { return t.vocab }

func (t *Tagger) validate(seqs []Sequence) error {
	n := t.crf.NumTags()
	for i, s := range seqs {
		if s.Len() == 0 {
			return fmt.Errorf("%w: sequence %d is empty", ErrSequence, i)
		}
		for tok, row := range s.Emissions {
			if len(row) != n {
				return fmt.Errorf("%w: sequence %d token %d has %d scores, want %d", ErrSequence, i, tok, len(row), n)
			}
		}
	}
	return nil
}

// Decode decodes every sequence and returns results in input order.
func (t *Tagger) Decode(ctx context.Context, seqs []Sequence) ([]Result, error) {
	results := make([]Result, len(seqs))
	done := 0
	for chunk := range t.DecodeStream(ctx, seqs) {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		copy(results[chunk.Offset:], chunk.Results)
		done += chunk.Count
	}
	// The stream may stop without a final error if ctx ends mid-send.
	if done < len(seqs) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("tagger: stream ended after %d of %d sequences", done, len(seqs))
	}
	return results, nil
}

// DecodeStream decodes sequences in internal batches and streams each batch
// as soon as it is ready. Cancelling ctx stops the stream between batches;
// the last value sent then carries the context error. The channel is closed
// when decoding ends.
func (t *Tagger) DecodeStream(ctx context.Context, seqs []Sequence) <-chan StreamResult {
	out := make(chan StreamResult, 1)
	go func() {
		defer close(out)
		if err := t.validate(seqs); err != nil {
			out <- StreamResult{Err: err}
			return
		}

		for offset := 0; offset < len(seqs); offset += t.internalBatchSize {
			if err := ctx.Err(); err != nil {
				out <- StreamResult{Offset: offset, Err: err}
				return
			}
			end := min(offset+t.internalBatchSize, len(seqs))

			results, err := t.decodeBatch(ctx, seqs[offset:end])
			chunk := StreamResult{Results: results, Offset: offset, Count: end - offset, Err: err}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

func (t *Tagger) decodeBatch(ctx context.Context, seqs []Sequence) ([]Result, error) {
	_, span := tracer.Start(ctx, "decodeBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(seqs)))

	start := time.Now()
	results := make([]Result, len(seqs))
	keys := make([]uint64, len(seqs))
	var misses []int

	for i, s := range seqs {
		if t.cache == nil {
			misses = append(misses, i)
			continue
		}
		keys[i] = cache.Key(flatten(s.Emissions), s.Len())
		if e, ok := t.cache.Get(keys[i]); ok {
			results[i] = t.result(e.Path, e.Score)
			results[i].Cached = true
			continue
		}
		misses = append(misses, i)
	}

	if len(misses) > 0 {
		pending := make([]Sequence, len(misses))
		for k, i := range misses {
			pending[k] = seqs[i]
		}
		unary, lengths := t.batch(pending)
		paths, scores, err := t.crf.Decode(unary, lengths)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "decode failed")
			return nil, err
		}
		for k, i := range misses {
			results[i] = t.result(paths[k], scores[k])
			if t.cache != nil {
				t.cache.Put(keys[i], cache.Entry{Path: paths[k], Score: scores[k]})
			}
		}
	}

	var tokens int
	for _, s := range seqs {
		tokens += s.Len()
	}
	batchDuration.Observe(time.Since(start).Seconds())
	sequencesDecoded.Add(float64(len(seqs)))
	tokensDecoded.Add(float64(tokens))
	cacheServed.Add(float64(len(seqs) - len(misses)))
	return results, nil
}

func (t *Tagger) result(path []int, score float64) Result {
	labels := t.vocab.Decode(path)
	return Result{
		Path:   path,
		Labels: labels,
		Spans:  tags.Spans(labels, t.scheme),
		Score:  score,
	}
}

// batch pads seqs into an emission tensor in the CRF's orientation.
func (t *Tagger) batch(seqs []Sequence) (*tensor.Dense3, []int) {
	n := t.crf.NumTags()
	maxLen := 0
	lengths := make([]int, len(seqs))
	for b, s := range seqs {
		lengths[b] = s.Len()
		maxLen = max(maxLen, s.Len())
	}

	unary := tensor.NewDense3(len(seqs), maxLen, n, nil)
	for b, s := range seqs {
		for tok, row := range s.Emissions {
			copy(unary.Vec(b, tok), row)
		}
	}
	if !t.crf.BatchFirst() {
		unary = unary.SwapLeading()
	}
	return unary, lengths
}

// goldTags packs gold label sequences into a tag tensor in the CRF's
// orientation. Padding is left at zero.
func (t *Tagger) goldTags(gold [][]int, maxLen int) *tensor.Ints2 {
	out := tensor.NewInts2(len(gold), maxLen, nil)
	for b, ids := range gold {
		copy(out.Row(b), ids)
	}
	if !t.crf.BatchFirst() {
		out = out.Transpose()
	}
	return out
}

// Loss returns the negative log-likelihood of each gold label sequence
// given its emissions.
func (t *Tagger) Loss(ctx context.Context, seqs []Sequence, gold [][]string) ([]float64, error) {
	ctx, span := tracer.Start(ctx, "Loss")
	defer span.End()
	span.SetAttributes(attribute.Int("sequence_count", len(seqs)))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(gold) != len(seqs) {
		return nil, fmt.Errorf("%w: %d gold sequences for %d inputs", ErrSequence, len(gold), len(seqs))
	}
	if err := t.validate(seqs); err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, nil
	}

	ids := make([][]int, len(gold))
	for i, labels := range gold {
		if len(labels) != seqs[i].Len() {
			return nil, fmt.Errorf("%w: sequence %d has %d tokens and %d gold labels", ErrSequence, i, seqs[i].Len(), len(labels))
		}
		enc, err := t.vocab.Encode(labels)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", i, err)
		}
		ids[i] = enc
	}

	unary, lengths := t.batch(seqs)
	maxLen := 0
	for _, l := range lengths {
		maxLen = max(maxLen, l)
	}
	loss, err := t.crf.NegLogLoss(unary, t.goldTags(ids, maxLen), lengths)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "loss failed")
		return nil, err
	}
	return loss, nil
}

func flatten(rows [][]float64) []float64 {
	n := 0
	for _, r := range rows {
		n += len(r)
	}
	out := make([]float64, 0, n)
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}
