package coding

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/config"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/logger"
	"github.com/synaptica-ai/clinicalcoder/pkg/dictionary"
	"github.com/synaptica-ai/clinicalcoder/pkg/filter"
	"github.com/synaptica-ai/clinicalcoder/pkg/lookup"
	"github.com/synaptica-ai/clinicalcoder/pkg/negation"
	"github.com/synaptica-ai/clinicalcoder/pkg/pipeline"
	"github.com/synaptica-ai/clinicalcoder/pkg/scoring"
	"github.com/synaptica-ai/clinicalcoder/pkg/terminology"
	"github.com/synaptica-ai/clinicalcoder/pkg/textutil"
	"gorm.io/gorm"
)

const (
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	BackendSQLite  = "sqlite"
	SourceCatalog  = "catalog"
	SourcePostgres = "postgres"
)

// Backends holds the connections opened by the binary. Each is only needed
// when the configuration selects it.
type Backends struct {
	Postgres   *gorm.DB
	Redis      *redis.Client
	SQLite     *sql.DB
	HTTPClient *http.Client
}

// LoadCatalog reads the concept catalog from PostgreSQL or from the catalog
// file, falling back to the compiled-in catalog when no path is set.
func LoadCatalog(ctx context.Context, cfg *config.Config, b Backends) (*terminology.Catalog, error) {
	if cfg.DictionarySource == SourcePostgres {
		if b.Postgres == nil {
			return nil, fmt.Errorf("%w: dictionary source postgres without a connection", pipeline.ErrInvalidConfig)
		}
		return terminology.NewRepository(b.Postgres).LoadCatalog(ctx)
	}
	return terminology.Load(cfg.CatalogPath)
}

// NewCodeStore builds the lookup store. A writable SQLite cache gets its
// schema created so a fresh file works as a cache tier.
func NewCodeStore(ctx context.Context, cfg *config.Config, catalog *terminology.Catalog, b Backends) (*lookup.Store, error) {
	var cache lookup.Cache
	switch cfg.CodeCacheBackend {
	case "", BackendMemory:
		cache = lookup.NewMemoryCache()
	case BackendRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("%w: redis cache without a client", pipeline.ErrInvalidConfig)
		}
		cache = lookup.NewRedisCache(b.Redis, cfg.CodeCacheTTL)
	case BackendSQLite:
		if b.SQLite == nil {
			return nil, fmt.Errorf("%w: sqlite cache without a database", pipeline.ErrInvalidConfig)
		}
		sqliteCache := lookup.NewSQLiteCache(b.SQLite, cfg.LookupReadOnly)
		if err := sqliteCache.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		cache = sqliteCache
	default:
		return nil, fmt.Errorf("%w: unknown code cache backend %q", pipeline.ErrInvalidConfig, cfg.CodeCacheBackend)
	}

	var source lookup.Source
	switch cfg.CodeSource {
	case "", SourceCatalog:
		source = lookup.NewCatalogSource(catalog)
	case SourcePostgres:
		if b.Postgres == nil {
			return nil, fmt.Errorf("%w: postgres code source without a connection", pipeline.ErrInvalidConfig)
		}
		source = lookup.NewPostgresSource(b.Postgres)
	default:
		return nil, fmt.Errorf("%w: unknown code source %q", pipeline.ErrInvalidConfig, cfg.CodeSource)
	}

	return lookup.NewStore(cache, source, lookup.Options{
		ReadOnly: cfg.LookupReadOnly,
		Systems:  cfg.CodingSystems,
		Workers:  cfg.PipelineWorkers,
	}), nil
}

// NewScorer probes the embedding service once and returns the scorer the
// process will use for its lifetime.
func NewScorer(ctx context.Context, cfg *config.Config, b Backends) scoring.Scorer {
	var embedder scoring.Embedder
	if cfg.EmbeddingURL != "" {
		embedder = scoring.NewHTTPEmbedder(cfg.EmbeddingURL, cfg.EmbeddingModel, b.HTTPClient)
	}
	return scoring.Select(ctx, scoring.Options{
		Rerank:   cfg.UseContextRerank,
		Embedder: embedder,
		Weight:   cfg.RerankWeight,
		Ceiling:  cfg.SaturationCeiling,
		Budget:   cfg.RerankBudget,
		Workers:  cfg.PipelineWorkers,
	})
}

// BuildOrchestrator assembles the pipeline described by cfg.
func BuildOrchestrator(ctx context.Context, cfg *config.Config, b Backends) (*pipeline.Orchestrator, error) {
	if cfg.DictionarySource == SourcePostgres && cfg.CodeSource != SourcePostgres {
		// the dictionary tables hold no codes
		return nil, fmt.Errorf("%w: a postgres dictionary requires CODE_SOURCE=postgres", pipeline.ErrInvalidConfig)
	}
	catalog, err := LoadCatalog(ctx, cfg, b)
	if err != nil {
		return nil, fmt.Errorf("loading concept catalog: %w", err)
	}

	filterRules, err := filter.LoadRules(cfg.FilterRulesPath)
	if err != nil {
		return nil, fmt.Errorf("loading filter rules: %w", err)
	}
	negationRules, err := negation.LoadRules(cfg.NegationRulesPath)
	if err != nil {
		return nil, fmt.Errorf("loading negation rules: %w", err)
	}
	detector, err := negation.NewDetector(negationRules, textutil.NewRuleSegmenter())
	if err != nil {
		return nil, err
	}

	store, err := NewCodeStore(ctx, cfg, catalog, b)
	if err != nil {
		return nil, err
	}

	matchOpts := dictionary.DefaultOptions()
	matchOpts.ShortAllowed = filterRules.ShortAllowed
	matcher := dictionary.NewMatcher(catalog.Concepts, matchOpts)
	logger.Log.WithFields(map[string]interface{}{
		"concepts":      len(catalog.Concepts),
		"dictionary":    matcher.Size(),
		"cache_backend": cfg.CodeCacheBackend,
		"code_source":   cfg.CodeSource,
		"read_only":     store.ReadOnly(),
	}).Info("Concept dictionary loaded")

	return pipeline.New(pipeline.Deps{
		Dictionary: matcher,
		Filter:     filter.New(filterRules),
		Negation:   detector,
		Codes:      store,
		Scorer:     NewScorer(ctx, cfg, b),
		Normalizer: terminology.NewNormalizer(catalog.Aliases),
	}, pipeline.OptionsFromConfig(cfg))
}

// SeedCache writes the catalog codes of every concept into cache. Concepts
// without codes in the configured systems are skipped and counted.
func SeedCache(ctx context.Context, cache lookup.Cache, catalog *terminology.Catalog, systems []string) (written, skipped int, err error) {
	for _, cui := range catalog.CUIs() {
		codes := catalog.CodeEntries(cui, systems)
		if len(codes) == 0 {
			skipped++
			continue
		}
		if err := cache.Set(ctx, cui, codes); err != nil {
			return written, skipped, fmt.Errorf("writing codes for %s: %w", cui, err)
		}
		written++
	}
	return written, skipped, nil
}
