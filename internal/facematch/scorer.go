package facematch

import (
	"context"
	"errors"

	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/logging"
	"github.com/kozaktomas/face-finder/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// minChunk keeps tiny candidate sets on a single goroutine.
const minChunk = 64

// Scorer compares a probe embedding against candidate records.
type Scorer struct {
	opts Options
}

// NewScorer creates a scorer. Zero concurrency falls back to the default.
func NewScorer(opts Options) *Scorer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = constants.DefaultScoreConcurrency
	}
	return &Scorer{opts: opts}
}

// Score returns every stored face whose similarity to the probe is at least
// the threshold. The threshold applies to the unrounded score. Results are unranked but deterministic for a given input.
func (s *Scorer) Score(ctx context.Context, probe []float32, candidates []database.ImageRecord) ([]Match, error) {
	if len(probe) == 0 {
		return nil, errors.New("empty probe embedding")
	}

	chunkSize := max((len(candidates)+s.opts.Concurrency-1)/s.opts.Concurrency, minChunk)
	var chunks [][]database.ImageRecord
	for start := 0; start < len(candidates); start += chunkSize {
		chunks = append(chunks, candidates[start:min(start+chunkSize, len(candidates))])
	}

	results := make([][]Match, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			matches, err := s.scoreChunk(gctx, probe, chunk)
			results[i] = matches
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var matches []Match
	for _, r := range results {
		matches = append(matches, r...)
	}
	return matches, nil
}

func (s *Scorer) scoreChunk(ctx context.Context, probe []float32, records []database.ImageRecord) ([]Match, error) {
	var matches []Match
	scored := 0
	defer func() { metrics.CandidatesScored.Add(float64(scored)) }()

	for i := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := &records[i]

		mismatched := 0
		for faceIndex, emb := range rec.FaceEmbeddings {
			sim, err := database.CosineSimilarity(probe, emb)
			if err != nil {
				mismatched++
				continue
			}
			scored++
			if sim >= s.opts.Threshold {
				matches = append(matches, newMatch(rec, faceIndex, database.RoundScore(sim, constants.SimilarityDecimals)))
			}
		}

		if mismatched > 0 {
			metrics.DimensionMismatches.Add(float64(mismatched))
			logging.Ctx(ctx).Warn().
				Str("image_id", rec.ImageID).
				Int("probe_dim", len(probe)).
				Int("skipped", mismatched).
				Msg("skipping embeddings with mismatched dimension")
		}
	}
	return matches, nil
}

// Match scores and ranks in one step using the scorer options.
func (s *Scorer) Match(ctx context.Context, probe []float32, candidates []database.ImageRecord) ([]Match, error) {
	matches, err := s.Score(ctx, probe, candidates)
	if err != nil {
		return nil, err
	}
	return Rank(matches, s.opts.Dedupe, s.opts.TopK), nil
}
