// Package search answers "which stored images contain this face" queries.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-finder/internal/cache"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/embedder"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
	"github.com/kozaktomas/face-finder/internal/imaging"
	"github.com/kozaktomas/face-finder/internal/logging"
	"github.com/kozaktomas/face-finder/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// Query is one search request.
type Query struct {
	Image   []byte
	Filters database.Filters
}

// Result is the ranked outcome of a query.
type Result struct {
	Matches  []facematch.Match
	Cached   bool
	Key      string
	Duration time.Duration
}

// Service runs the cache → filter → score → rank → cache pipeline.
type Service struct {
	images    database.ImageReader
	extractor embedder.Extractor
	scorer    *facematch.Scorer
	cache     *cache.Cache
	group     singleflight.Group
}

// NewService creates a search service. cache may be nil to disable memoization.
func NewService(images database.ImageReader, extractor embedder.Extractor, scorer *facematch.Scorer, c *cache.Cache) *Service {
	return &Service{
		images:    images,
		extractor: extractor,
		scorer:    scorer,
		cache:     c,
	}
}

// Search returns matches for the first face in q.Image. Identical concurrent
// queries share one computation. Errors from the embedder (including
// embedder.ErrNoFaceDetected) and the metadata store are returned wrapped.
// Only complete results and no-face outcomes are cached.
func (s *Service) Search(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := imaging.Sniff(q.Image); err != nil {
		metrics.SearchRequests.WithLabelValues("invalid").Inc()
		return nil, err
	}

	filters := fingerprint.CanonicalFilters(q.Filters)
	key := fingerprint.KeyForHash(fingerprint.ContentHash(q.Image), filters)
	log := logging.Ctx(ctx).With().Str("cache_key", key).Logger()

	if s.cache != nil {
		if entry, ok := s.cache.Get(ctx, key); ok {
			if entry.Err != "" {
				metrics.SearchRequests.WithLabelValues("hit_no_face").Inc()
				log.Debug().Str("cached_error", entry.Err).Msg("no-face outcome served from cache")
				return nil, fmt.Errorf("extract probe face: %w", embedder.ErrNoFaceDetected)
			}
			metrics.SearchRequests.WithLabelValues("hit").Inc()
			log.Debug().Int("matches", len(entry.Matches)).Msg("search served from cache")
			return &Result{Matches: entry.Matches, Cached: true, Key: key, Duration: time.Since(start)}, nil
		}
	}

	ch := s.group.DoChan(key, func() (any, error) {
		// Shared by every waiting caller, so it is not tied to one caller's cancellation.
		return s.compute(context.WithoutCancel(ctx), key, q.Image, filters)
	})

	select {
	case <-ctx.Done():
		metrics.SearchRequests.WithLabelValues("cancelled").Inc()
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			outcome := "error"
			if errors.Is(res.Err, embedder.ErrNoFaceDetected) {
				outcome = "no_face"
			}
			metrics.SearchRequests.WithLabelValues(outcome).Inc()
			return nil, res.Err
		}
		metrics.SearchRequests.WithLabelValues("miss").Inc()
		matches := res.Val.([]facematch.Match)
		log.Debug().Int("matches", len(matches)).Bool("shared", res.Shared).Msg("search computed")
		return &Result{Matches: matches, Key: key, Duration: time.Since(start)}, nil
	}
}

// compute runs the uncached pipeline and stores the result.
func (s *Service) compute(ctx context.Context, key string, image []byte, filters database.Filters) ([]facematch.Match, error) {
	var epoch int64
	if s.cache != nil {
		epoch = s.cache.Epoch()
	}

	faces, err := s.extractor.ExtractFaces(ctx, image)
	if err != nil {
		if s.cache != nil && errors.Is(err, embedder.ErrNoFaceDetected) {
			s.cache.PutError(ctx, key, epoch, err.Error())
		}
		return nil, fmt.Errorf("extract probe face: %w", err)
	}

	timer := time.Now()
	candidates, err := s.images.Select(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}

	matches, err := s.scorer.Match(ctx, faces[0], candidates)
	if err != nil {
		return nil, fmt.Errorf("score candidates: %w", err)
	}
	metrics.SearchDuration.Observe(time.Since(timer).Seconds())

	if s.cache != nil {
		s.cache.Put(ctx, key, epoch, matches)
	}
	return matches, nil
}
