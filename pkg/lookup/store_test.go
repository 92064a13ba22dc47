package lookup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/logger"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
	"github.com/synaptica-ai/clinicalcoder/pkg/terminology"
)

var systems = []string{"ICD10CM", "SNOMEDCT_US", "ICD10PCS", "CPT", "HCPCS", "RXNORM"}

type recordingCache struct {
	*MemoryCache
	sets    atomic.Int32
	failSet bool
}

func newRecordingCache() *recordingCache {
	return &recordingCache{MemoryCache: NewMemoryCache()}
}

func (c *recordingCache) Set(ctx context.Context, cui string, codes []models.CodeEntry) error {
	c.sets.Add(1)
	if c.failSet {
		return errors.New("disk full")
	}
	return c.MemoryCache.Set(ctx, cui, codes)
}

type countingSource struct {
	calls atomic.Int32
	codes map[string][]models.CodeEntry
	err   error
}

func (s *countingSource) Codes(_ context.Context, cui string) ([]models.CodeEntry, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.codes[cui], nil
}

func fixtureSource() *countingSource {
	return &countingSource{codes: map[string][]models.CodeEntry{
		"C0020538": {
			{System: "SNOMEDCT_US", Code: "38341003", Description: "Hypertensive disorder"},
			{System: "ICD10CM", Code: "I10", Description: "Essential (primary) hypertension"},
			{System: "MTH", Code: "NOCODE", Description: "metathesaurus"},
		},
		"C0015967": {
			{System: "ICD10CM", Code: "R50.9", Description: "Fever, unspecified"},
		},
		"C0000001": {
			{System: "MTH", Code: "NOCODE"},
		},
	}}
}

func init() {
	logger.Silence()
}

func TestResolveOrdersAndRestrictsSystems(t *testing.T) {
	store := NewStore(NewMemoryCache(), fixtureSource(), Options{Systems: systems})
	codes, err := store.Resolve(context.Background(), "C0020538")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(codes) != 2 {
		t.Fatalf("expected unconfigured system dropped, got %+v", codes)
	}
	if codes[0].System != "ICD10CM" || codes[1].System != "SNOMEDCT_US" {
		t.Fatalf("expected ICD10CM first, got %+v", codes)
	}
}

func TestResolveOnlyUnconfiguredSystemsIsMiss(t *testing.T) {
	store := NewStore(NewMemoryCache(), fixtureSource(), Options{Systems: systems})
	if _, err := store.Resolve(context.Background(), "C0000001"); !errors.Is(err, ErrLookupMiss) {
		t.Fatalf("expected ErrLookupMiss, got %v", err)
	}
}

func TestResolveWritesBackOnMiss(t *testing.T) {
	cache := newRecordingCache()
	source := fixtureSource()
	store := NewStore(cache, source, Options{Systems: systems})

	for i := 0; i < 2; i++ {
		if _, err := store.Resolve(context.Background(), "C0015967"); err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
	}
	if source.calls.Load() != 1 {
		t.Fatalf("expected one source call, got %d", source.calls.Load())
	}
	if cache.sets.Load() != 1 {
		t.Fatalf("expected one cache write, got %d", cache.sets.Load())
	}
}

func TestReadOnlyMissNeverWrites(t *testing.T) {
	cache := newRecordingCache()
	source := fixtureSource()
	store := NewStore(cache, source, Options{ReadOnly: true, Systems: systems})

	_, err := store.Resolve(context.Background(), "C0015967")
	if !errors.Is(err, ErrLookupMiss) {
		t.Fatalf("expected ErrLookupMiss, got %v", err)
	}
	if cache.sets.Load() != 0 {
		t.Fatalf("read-only store wrote to cache %d times", cache.sets.Load())
	}
	if source.calls.Load() != 0 {
		t.Fatalf("read-only store queried source %d times", source.calls.Load())
	}
}

func TestReadOnlyServesPrebuiltCache(t *testing.T) {
	cache := newRecordingCache()
	_ = cache.MemoryCache.Set(context.Background(), "C0015967", []models.CodeEntry{{System: "ICD10CM", Code: "R50.9"}})
	store := NewStore(cache, nil, Options{ReadOnly: true, Systems: systems})

	codes, err := store.Resolve(context.Background(), "C0015967")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(codes) != 1 || codes[0].Code != "R50.9" {
		t.Fatalf("unexpected codes %+v", codes)
	}
}

func TestCacheWriteFailureIsNotFatal(t *testing.T) {
	cache := newRecordingCache()
	cache.failSet = true
	store := NewStore(cache, fixtureSource(), Options{Systems: systems})

	codes, err := store.Resolve(context.Background(), "C0015967")
	if err != nil {
		t.Fatalf("expected success despite write failure, got %v", err)
	}
	if len(codes) != 1 {
		t.Fatalf("unexpected codes %+v", codes)
	}
}

func TestSourceErrorPropagates(t *testing.T) {
	source := &countingSource{err: errors.New("connection refused")}
	store := NewStore(NewMemoryCache(), source, Options{Systems: systems})
	_, err := store.Resolve(context.Background(), "C0015967")
	if err == nil || errors.Is(err, ErrLookupMiss) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestConcurrentResolveIsConsistent(t *testing.T) {
	cache := newRecordingCache()
	store := NewStore(cache, fixtureSource(), Options{Systems: systems})

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes, err := store.Resolve(context.Background(), "C0020538")
			if err != nil {
				errs <- err
				return
			}
			if codes[0].Code != "I10" {
				errs <- errors.New("unexpected primary code " + codes[0].Code)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	cached, found, _ := cache.Get(context.Background(), "C0020538")
	if !found || len(cached) != 3 {
		t.Fatalf("expected full code list cached, got %+v", cached)
	}
}

// gatedSource blocks every query until release is closed or the query's own
// context ends.
type gatedSource struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	codes   []models.CodeEntry
}

func (s *gatedSource) Codes(ctx context.Context, _ string) ([]models.CodeEntry, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
		return s.codes, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestCancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	source := &gatedSource{
		started: make(chan struct{}),
		release: make(chan struct{}),
		codes:   []models.CodeEntry{{System: "ICD10CM", Code: "I10"}},
	}
	cache := newRecordingCache()
	store := NewStore(cache, source, Options{Systems: systems})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := store.Resolve(ctxA, "C0020538")
		errA <- err
	}()
	<-source.started

	type outcome struct {
		codes []models.CodeEntry
		err   error
	}
	resB := make(chan outcome, 1)
	go func() {
		codes, err := store.Resolve(context.Background(), "C0020538")
		resB <- outcome{codes, err}
	}()

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller should see its own cancellation, got %v", err)
	}

	close(source.release)
	b := <-resB
	if b.err != nil {
		t.Fatalf("live caller failed after another caller was cancelled: %v", b.err)
	}
	if len(b.codes) != 1 || b.codes[0].Code != "I10" {
		t.Fatalf("unexpected codes %+v", b.codes)
	}
	if _, found, _ := cache.Get(context.Background(), "C0020538"); !found {
		t.Fatal("shared fetch should still write back after a caller left")
	}
}

func TestResolveAllCollectsMisses(t *testing.T) {
	store := NewStore(NewMemoryCache(), fixtureSource(), Options{Systems: systems, Workers: 2})
	res, err := store.ResolveAll(context.Background(), []string{"C9", "C0015967", "C0020538", "C0015967", "C0000001"})
	if err != nil {
		t.Fatalf("resolve all: %v", err)
	}
	if len(res.Codes) != 2 {
		t.Fatalf("expected two resolved, got %v", res.Codes)
	}
	if len(res.Misses) != 2 || res.Misses[0] != "C0000001" || res.Misses[1] != "C9" {
		t.Fatalf("expected sorted misses, got %v", res.Misses)
	}
}

func TestResolveAllFailsOnSourceError(t *testing.T) {
	store := NewStore(NewMemoryCache(), &countingSource{err: errors.New("boom")}, Options{Systems: systems})
	if _, err := store.ResolveAll(context.Background(), []string{"C1", "C2"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestCatalogSource(t *testing.T) {
	src := NewCatalogSource(terminology.DefaultCatalog())
	codes, err := src.Codes(context.Background(), "C0025598")
	if err != nil {
		t.Fatalf("codes: %v", err)
	}
	store := NewStore(nil, src, Options{Systems: systems})
	resolved, err := store.Resolve(context.Background(), "C0025598")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(codes) != 2 || resolved[0].System != "SNOMEDCT_US" || resolved[1].System != "RXNORM" {
		t.Fatalf("unexpected metformin codes %+v", resolved)
	}
}
