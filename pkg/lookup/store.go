package lookup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/logger"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
	"github.com/synaptica-ai/clinicalcoder/pkg/observability/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type Options struct {
	// ReadOnly limits resolution to the cache; misses never reach the source
	// and nothing is written.
	ReadOnly bool
	// Systems restricts and orders coding systems. Empty keeps all, ordered
	// by system name.
	Systems []string
	Workers int

	// FetchTimeout bounds one source query, independent of the callers'
	// contexts.
	FetchTimeout time.Duration
}

// Store resolves concept ids to codes through a cache backed by an
// authoritative source. One Store is built per process and shared by all
// requests.
type Store struct {
	cache  Cache
	source Source
	opts   Options
	rank   map[string]int
	group  singleflight.Group
}

func NewStore(cache Cache, source Source, opts Options) *Store {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	rank := make(map[string]int, len(opts.Systems))
	for i, s := range opts.Systems {
		if _, dup := rank[s]; !dup {
			rank[s] = i
		}
	}
	return &Store{cache: cache, source: source, opts: opts, rank: rank}
}

func (s *Store) ReadOnly() bool {
	return s.opts.ReadOnly
}

// Resolve returns the concept's codes ordered by coding-system priority, or
// ErrLookupMiss.
func (s *Store) Resolve(ctx context.Context, cui string) ([]models.CodeEntry, error) {
	codes, found, err := s.cache.Get(ctx, cui)
	switch {
	case err != nil && s.opts.ReadOnly:
		return nil, fmt.Errorf("code cache read %s: %w", cui, err)
	case err != nil:
		logger.Log.WithError(err).WithField("cui", cui).Warn("code cache read failed, using source")
	case found:
		metrics.IncCacheHits()
		return s.restrict(cui, codes)
	}

	metrics.IncCacheMisses()
	if s.opts.ReadOnly || s.source == nil {
		return nil, ErrLookupMiss
	}

	// the fetch is shared by every caller waiting on cui, so it must not
	// inherit one caller's cancellation
	ch := s.group.DoChan(cui, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.FetchTimeout)
		defer cancel()

		codes, err := s.source.Codes(fetchCtx, cui)
		if err != nil {
			return nil, fmt.Errorf("code source %s: %w", cui, err)
		}
		if len(codes) == 0 {
			return nil, ErrLookupMiss
		}
		if err := s.cache.Set(fetchCtx, cui, codes); err != nil {
			metrics.IncCacheWriteFailures()
			logger.Log.WithFields(logrus.Fields{
				"cui":   cui,
				"error": err.Error(),
			}).Warn("code cache write-back failed")
		}
		return codes, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return s.restrict(cui, r.Val.([]models.CodeEntry))
	}
}

// restrict copies codes, drops unconfigured systems and duplicates, and
// orders by system priority then code.
func (s *Store) restrict(cui string, codes []models.CodeEntry) ([]models.CodeEntry, error) {
	seen := make(map[string]struct{}, len(codes))
	out := make([]models.CodeEntry, 0, len(codes))
	for _, c := range codes {
		if len(s.rank) > 0 {
			if _, ok := s.rank[c.System]; !ok {
				continue
			}
		}
		if _, dup := seen[c.Key()]; dup {
			continue
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, ErrLookupMiss
	}
	models.SortCodes(out, s.opts.Systems)
	return out, nil
}

// Resolution is the outcome of ResolveAll.
type Resolution struct {
	Codes  map[string][]models.CodeEntry
	Misses []string
}

// ResolveAll resolves distinct ids on a bounded pool. Misses are collected;
// any other error cancels the batch.
func (s *Store) ResolveAll(ctx context.Context, cuis []string) (Resolution, error) {
	res := Resolution{Codes: make(map[string][]models.CodeEntry)}
	unique := make([]string, 0, len(cuis))
	seen := make(map[string]struct{}, len(cuis))
	for _, cui := range cuis {
		if _, dup := seen[cui]; dup {
			continue
		}
		seen[cui] = struct{}{}
		unique = append(unique, cui)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, cui := range unique {
		cui := cui
		g.Go(func() error {
			codes, err := s.Resolve(gctx, cui)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrLookupMiss):
				res.Misses = append(res.Misses, cui)
				return nil
			case err != nil:
				return err
			}
			res.Codes[cui] = codes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Resolution{}, err
	}
	sort.Strings(res.Misses)
	return res, nil
}
