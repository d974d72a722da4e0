// Package bootstrap wires every component (C1-C10) into a single
// Dependencies value, shared by the HTTP API and the CLI so both
// entrypoints construct the exact same pipeline.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical/docpipe/internal/blobstore"
	"github.com/spherical/docpipe/internal/cache"
	"github.com/spherical/docpipe/internal/config"
	"github.com/spherical/docpipe/internal/decode"
	"github.com/spherical/docpipe/internal/docstore"
	"github.com/spherical/docpipe/internal/embedding"
	"github.com/spherical/docpipe/internal/extract"
	"github.com/spherical/docpipe/internal/images"
	"github.com/spherical/docpipe/internal/layout"
	"github.com/spherical/docpipe/internal/observability"
	"github.com/spherical/docpipe/internal/ocr"
	"github.com/spherical/docpipe/internal/orchestrator"
	"github.com/spherical/docpipe/internal/queue"
	"github.com/spherical/docpipe/internal/registry"
	"github.com/spherical/docpipe/internal/render"
	"github.com/spherical/docpipe/internal/template"
	"github.com/spherical/docpipe/internal/transport"
	"github.com/spherical/docpipe/internal/vision"
)

// Dependencies bundles every wired component either entrypoint needs.
type Dependencies struct {
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Templates    *template.Loader
	Extractor    *extract.Service
	Docs         *docstore.Repository
	Blobs        *blobstore.Store
	DB           *sql.DB
	Recovery     *queue.Client

	// TracingShutdown flushes and stops the process-wide TracerProvider.
	// Callers should defer TracingShutdown(ctx) alongside DB.Close().
	TracingShutdown func(context.Context) error
}

// Build constructs every component from cfg. configPath is the path the
// config was loaded from (used to resolve the template directory
// relative to it); pass "" when cfg came from defaults/env alone.
func Build(cfg *config.Config, logger *observability.Logger, configPath string) (*Dependencies, error) {
	tracingShutdown, err := observability.InitTracing(observability.TracingConfig{
		ServiceName: cfg.Observability.ServiceName,
		SampleRatio: cfg.Observability.TracingSample,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	reg := registry.New(registry.Config{
		ProbeInterval: cfg.Backend.ProbeInterval,
		ProbeTimeout:  cfg.Backend.ProbeTimeout,
	}, logger)
	if cfg.Backend.LayoutServiceURL != "" {
		reg.Register("layout-primary", cfg.Backend.LayoutServiceURL, "layout-extraction")
	}
	if cfg.Vision.URL != "" {
		reg.Register("vision-llm", cfg.Vision.URL, "vision-llm")
	}

	httpClient := transport.NewClient(cfg.Server.WriteTimeout, logger)

	db, err := sql.Open(sqlDriverName(cfg.Storage.Driver), cfg.StorageDSN())
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Storage.MaxOpenConns)

	metadataRepo := blobstore.NewMetadataRepository(db)
	blobStore, err := blobstore.New(blobstore.Config{
		RootDir:    cfg.Blob.RootDir,
		BucketName: cfg.Blob.BucketName,
		SigningKey: signingKeyFrom(cfg),
		SignedTTL:  cfg.Blob.SignedURLExpiry,
	}, metadataRepo)
	if err != nil {
		return nil, fmt.Errorf("init blob store: %w", err)
	}

	docsRepo := docstore.New(db)

	pdfRenderer := render.New()
	decoder := decode.New(pdfRenderer)
	layoutExtractor := layout.New(reg, httpClient, logger).WithLocalOCR(ocr.New("eng"), render.New())
	imageRenderer := render.New()
	materialiser := images.New(imageRenderer)

	var visionEnricher *vision.Enricher
	if cfg.Vision.URL != "" {
		visionEnricher = vision.New(httpClient, cfg.Vision.URL, cfg.Vision.Model, logger).WithChartBackends(buildChartBackends(cfg))
	}

	var embedder *embedding.Generator
	var vectorStore embedding.VectorStore
	if cfg.Embedding.URL != "" {
		embedder = embedding.New(httpClient, cfg.Embedding.URL, cfg.Embedding.Model, cfg.Embedding.Dimension)
	}
	switch cfg.Embedding.VectorStore {
	case "qdrant":
		if cfg.Embedding.QdrantAddr != "" {
			qs, err := embedding.NewQdrantStore(embedding.QdrantConfig{Addr: cfg.Embedding.QdrantAddr, Collection: "docpipe-images"})
			if err != nil {
				logger.Warn().Err(err).Msg("failed to connect to qdrant, falling back to sqlite vector store")
				vectorStore = embedding.NewSQLiteVectorStore(db)
			} else {
				vectorStore = qs
			}
		}
	default:
		vectorStore = embedding.NewSQLiteVectorStore(db)
	}

	templateDir := cfg.Template.Directory
	if configPath != "" {
		templateDir = config.ResolveRelativePath(configPath, cfg.Template.Directory)
	}
	templates, err := template.Load(templateDir)
	if err != nil {
		logger.Warn().Err(err).Msg("no extraction templates loaded")
		templates = &template.Loader{}
	}

	providers := buildProviders(cfg)
	extractor := extract.New(httpClient, logger, templates, providers)

	var resultCache cache.Client = cache.NoopClient{}
	if cfg.Queue.RedisAddr != "" {
		if rc, err := cache.NewRedisClient(cache.RedisConfig{Addr: cfg.Queue.RedisAddr, Prefix: "docpipe:"}); err != nil {
			logger.Warn().Err(err).Msg("redis cache unavailable, extraction results will not be cached")
		} else {
			resultCache = rc
		}
	}
	extractor = extractor.WithCache(resultCache)
	reg = reg.WithCache(resultCache)

	var recoveryClient *queue.Client
	if cfg.Queue.RedisAddr != "" {
		recoveryClient = queue.NewClient(cfg.Queue.RedisAddr, logger)
	}

	orch := orchestrator.New(
		logger, decoder, layoutExtractor, materialiser, blobStore,
		visionEnricher, embedder, vectorStore, extractor, docsRepo, recoveryClient,
		cfg.Vision.LocalPoolSize, cfg.Vision.CloudPoolSize,
	)

	return &Dependencies{
		Registry: reg, Orchestrator: orch, Templates: templates,
		Extractor: extractor, Docs: docsRepo, Blobs: blobStore, DB: db,
		Recovery:        recoveryClient,
		TracingShutdown: tracingShutdown,
	}, nil
}

func sqlDriverName(driver string) string {
	if driver == "postgres" {
		return "postgres"
	}
	return "sqlite3"
}

func signingKeyFrom(cfg *config.Config) string {
	if key := os.Getenv("BLOB_SIGNING_KEY"); key != "" {
		return key
	}
	return "docpipe-dev-signing-key"
}

// buildChartBackends derives the chart-provider backend map from the same
// vision and extraction credentials buildProviders uses, since chart
// extraction is a narrower instantiation of the same provider-selection
// mechanism rather than a separately credentialed system.
func buildChartBackends(cfg *config.Config) map[vision.ChartProvider]vision.ChartBackend {
	backends := make(map[vision.ChartProvider]vision.ChartBackend)
	if cfg.Vision.URL != "" {
		backends[vision.ChartProviderLocal] = vision.ChartBackend{BaseURL: cfg.Vision.URL, Model: cfg.Vision.Model}
	}
	if cfg.Extraction.OpenAIAPIKey != "" {
		backends[vision.ChartProviderCloudA] = vision.ChartBackend{BaseURL: "https://api.openai.com", Model: "gpt-4o-mini"}
	}
	if cfg.Extraction.AnthropicAPIKey != "" {
		backends[vision.ChartProviderCloudB] = vision.ChartBackend{BaseURL: "https://api.anthropic.com", Model: "claude-3-5-haiku-latest"}
	}
	return backends
}

func buildProviders(cfg *config.Config) []extract.ProviderEndpoint {
	var providers []extract.ProviderEndpoint
	if cfg.Extraction.LocalURL != "" {
		providers = append(providers, extract.ProviderEndpoint{
			Provider: extract.ProviderLocal, BaseURL: cfg.Extraction.LocalURL, Model: cfg.Extraction.LocalModel,
		})
	}
	if cfg.Extraction.OpenAIAPIKey != "" {
		providers = append(providers, extract.ProviderEndpoint{
			Provider: extract.ProviderCloudA, BaseURL: "https://api.openai.com", Model: "gpt-4o-mini", APIKey: cfg.Extraction.OpenAIAPIKey,
		})
	}
	if cfg.Extraction.AnthropicAPIKey != "" {
		providers = append(providers, extract.ProviderEndpoint{
			Provider: extract.ProviderCloudB, BaseURL: "https://api.anthropic.com", Model: "claude-3-5-haiku-latest", APIKey: cfg.Extraction.AnthropicAPIKey,
		})
	}
	return providers
}
