// Package orchestrator implements the Orchestrator (C10): the sole
// scheduler driving decode -> layout -> materialise -> persist -> enrich,
// plus on-demand structured extraction, against one document at a time.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/spherical/docpipe/internal/blobstore"
	"github.com/spherical/docpipe/internal/decode"
	"github.com/spherical/docpipe/internal/docstore"
	"github.com/spherical/docpipe/internal/domain"
	"github.com/spherical/docpipe/internal/embedding"
	"github.com/spherical/docpipe/internal/extract"
	"github.com/spherical/docpipe/internal/layout"
	"github.com/spherical/docpipe/internal/observability"
	"github.com/spherical/docpipe/internal/queue"
	"github.com/spherical/docpipe/internal/template"
	"github.com/spherical/docpipe/internal/vision"
)

// progressCallTimeout bounds how long a single progress_sink invocation
// may run before the orchestrator gives up on it and moves on.
const progressCallTimeout = 500 * time.Millisecond

var tracer = otel.Tracer("github.com/spherical/docpipe/internal/orchestrator")

// Materialiser is the subset of images.Materialiser the orchestrator calls,
// narrowed to an interface so tests can substitute a fake.
type Materialiser interface {
	Materialise(ctx context.Context, documentID uuid.UUID, pdfPath string, record domain.DocumentRecord, embedded []layout.RawEmbeddedImage) ([]domain.ImageArtifact, map[uuid.UUID][]byte, error)
}

// Orchestrator ties every component together behind three public
// operations and enforces the document state machine.
type Orchestrator struct {
	logger    *observability.Logger
	decoder   *decode.Decoder
	layout    *layout.Extractor
	images    Materialiser
	blobs     *blobstore.Store
	vision    *vision.Enricher
	embedder  *embedding.Generator
	vectors   embedding.VectorStore
	extractor *extract.Service
	docs      *docstore.Repository
	recovery  *queue.Client

	localPoolSize int
	cloudPoolSize int
}

// New assembles an Orchestrator from its already-constructed components.
func New(
	logger *observability.Logger,
	decoder *decode.Decoder,
	layoutExtractor *layout.Extractor,
	images Materialiser,
	blobs *blobstore.Store,
	visionEnricher *vision.Enricher,
	embedder *embedding.Generator,
	vectors embedding.VectorStore,
	extractor *extract.Service,
	docs *docstore.Repository,
	recovery *queue.Client,
	localPoolSize, cloudPoolSize int,
) *Orchestrator {
	return &Orchestrator{
		logger: logger, decoder: decoder, layout: layoutExtractor, images: images,
		blobs: blobs, vision: visionEnricher, embedder: embedder, vectors: vectors,
		extractor: extractor, docs: docs, recovery: recovery,
		localPoolSize: localPoolSize, cloudPoolSize: cloudPoolSize,
	}
}

// IngestOptions carries the per-call knobs the ingest API exposes.
type IngestOptions struct {
	Device        string
	Language      string
	ExtractCharts bool
	ChartProvider vision.ChartProvider
	DeclaredMIME  string
}

// emit invokes sink without blocking the pipeline: the call runs on its
// own goroutine and the orchestrator waits at most progressCallTimeout
// before moving on, logging (not failing) a slow or absent delivery.
func (o *Orchestrator) emit(sink domain.ProgressSink, event domain.StreamEvent) {
	if sink == nil {
		return
	}
	event.Timestamp = time.Now()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sink(event)
	}()

	select {
	case <-done:
	case <-time.After(progressCallTimeout):
		if o.logger != nil {
			o.logger.Warn().Str("step", event.Step).Msg("progress sink invocation exceeded timeout, continuing")
		}
	}
}

// IngestResult bundles the published record with the raw PNG bytes of
// every materialised image, keyed by artifact ID, so a caller (the HTTP
// handler) can return them inline without a second blob-store round trip.
type IngestResult struct {
	Record domain.DocumentRecord
	Images []domain.ImageArtifact
	Blobs  map[uuid.UUID][]byte
}

// Ingest runs C2 -> C3 -> C4 -> C5 synchronously, then drives C6+C7 over
// every materialised image before marking the document ready.
func (o *Orchestrator) Ingest(ctx context.Context, data []byte, filename string, opts IngestOptions, sink domain.ProgressSink) (IngestResult, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Ingest", trace.WithAttributes(
		attribute.String("docpipe.filename", filename),
		attribute.Int("docpipe.size_bytes", len(data)),
	))
	defer span.End()

	documentID := uuid.New()
	o.emit(sink, domain.StreamEvent{Type: domain.EventStart, Step: "created"})

	tmpFile, err := os.CreateTemp("", "docpipe-ingest-*.pdf")
	if err != nil {
		return IngestResult{}, domain.InputInvalid("failed to buffer upload", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return IngestResult{}, domain.InputInvalid("failed to buffer upload", err)
	}
	tmpFile.Close()

	class, plan, err := o.decoder.Classify(ctx, tmpPath, opts.DeclaredMIME, filename)
	if err != nil {
		o.emit(sink, domain.StreamEvent{Type: domain.EventError, Step: "classify", Payload: err.Error()})
		span.RecordError(err)
		span.SetStatus(codes.Error, "classify failed")
		return IngestResult{}, err
	}
	o.emit(sink, domain.StreamEvent{Type: domain.EventStageComplete, Step: "classify", Payload: class})

	result, err := o.layout.Extract(ctx, tmpPath, plan, layout.Options{
		Device: opts.Device, Language: opts.Language, EnableFormulas: true, EnableTables: true,
	})
	if err != nil {
		o.emit(sink, domain.StreamEvent{Type: domain.EventError, Step: "layout"})
		span.RecordError(err)
		span.SetStatus(codes.Error, "layout extraction failed")
		return IngestResult{}, err
	}
	record := result.Record
	record.ID = documentID
	record.Filename = filename
	record.SizeBytes = int64(len(data))
	record.DeclaredMIME = opts.DeclaredMIME
	record.InputClass = class
	record.CreatedAt = time.Now()
	record.Counts()

	if o.docs != nil {
		if err := o.docs.Save(ctx, record, domain.StateLayoutDone); err != nil {
			return IngestResult{}, fmt.Errorf("persist document record: %w", err)
		}
	}
	o.emit(sink, domain.StreamEvent{Type: domain.EventStageComplete, Step: "layout_done"})

	artifacts, blobData, err := o.images.Materialise(ctx, documentID, tmpPath, record, result.EmbeddedImages)
	if err != nil {
		o.emit(sink, domain.StreamEvent{Type: domain.EventError, Step: "materialise"})
		span.RecordError(err)
		span.SetStatus(codes.Error, "image materialisation failed")
		return IngestResult{}, err
	}

	for i := range artifacts {
		png := blobData[artifacts[i].ID]
		key := blobstore.Key(documentID, artifacts[i].PageNumber, artifacts[i].ImageIndex, "png")
		artifacts[i].BlobKey = key
		if o.blobs != nil {
			if err := o.blobs.Put(ctx, key, png, artifacts[i]); err != nil {
				o.emit(sink, domain.StreamEvent{Type: domain.EventError, Step: "persist_image", PageNumber: derefOrZero(artifacts[i].PageNumber)})
				continue
			}
		}
	}
	if o.docs != nil {
		if err := o.docs.Save(ctx, record, domain.StateImagesMaterialised); err != nil {
			return IngestResult{}, fmt.Errorf("persist document record: %w", err)
		}
	}
	o.emit(sink, domain.StreamEvent{Type: domain.EventStageComplete, Step: "images_materialised", Payload: len(artifacts)})

	enriched := o.enrichArtifacts(ctx, documentID, record, artifacts, sink, opts.ExtractCharts, opts.ChartProvider)

	if o.docs != nil {
		if err := o.docs.SetState(ctx, documentID, domain.StateReady); err != nil {
			return IngestResult{}, fmt.Errorf("finalise document state: %w", err)
		}
	}
	o.emit(sink, domain.StreamEvent{Type: domain.EventComplete, Step: "ready", Payload: len(enriched)})

	span.SetStatus(codes.Ok, "")
	return IngestResult{Record: record, Images: enriched, Blobs: blobData}, nil
}

func derefOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// enrichArtifacts runs C6 then C7 for each artifact, persisting results
// and enqueueing failures onto the recovery queue rather than dropping
// them.
func (o *Orchestrator) enrichArtifacts(ctx context.Context, documentID uuid.UUID, record domain.DocumentRecord, artifacts []domain.ImageArtifact, sink domain.ProgressSink, extractCharts bool, chartProvider vision.ChartProvider) []domain.ImageArtifact {
	if o.vision == nil || len(artifacts) == 0 {
		return artifacts
	}

	blobsByKey := make(map[string][]byte, len(artifacts))
	for _, a := range artifacts {
		if b, err := o.blobs.Get(a.BlobKey); err == nil {
			blobsByKey[a.BlobKey] = b
		}
	}

	poolSize := o.localPoolSize
	if poolSize < 1 {
		poolSize = 3
	}

	enriched := o.vision.EnrichAll(ctx, poolSize, record, artifacts, blobsByKey, extractCharts, chartProvider)

	for i := range enriched {
		a := &enriched[i]
		if a.EnrichmentError != nil {
			if o.recovery != nil {
				_ = o.recovery.Enqueue(ctx, queue.RecoveryPayload{DocumentID: documentID, ArtifactID: a.ID})
			}
			o.emit(sink, domain.StreamEvent{Type: domain.EventError, Step: "enrich_image", PageNumber: derefOrZero(a.PageNumber)})
			continue
		}

		if o.embedder != nil && a.Description != nil {
			vec, err := o.embedder.Embed(ctx, *a.Description)
			if err != nil {
				msg := err.Error()
				a.EnrichmentError = &msg
			} else {
				a.Embedding = vec
				a.EmbeddingGenerated = true
				if o.vectors != nil {
					_ = o.vectors.Upsert(ctx, a.ID, vec)
				}
			}
		}

		o.emit(sink, domain.StreamEvent{Type: domain.EventEnrichment, Step: "enrich_image", PageNumber: derefOrZero(a.PageNumber)})
	}

	return enriched
}

// EnrichOptions narrows re-enrichment to a subset of artifacts, or all of
// them when ArtifactIDs is empty, and carries the same chart-extraction
// knobs the original ingest request used.
type EnrichOptions struct {
	ArtifactIDs   []uuid.UUID
	ExtractCharts bool
	ChartProvider vision.ChartProvider
}

// EnrichSummary reports how many images were (re)enriched and how many
// failed.
type EnrichSummary struct {
	Enriched int
	Failed   int
}

// Enrich runs C6+C7 over already-persisted images for documentID. Used
// both for the first enrichment pass when ingest is split from enrichment
// and for re-running enrichment after a recovery retry.
func (o *Orchestrator) Enrich(ctx context.Context, documentID uuid.UUID, artifacts []domain.ImageArtifact, opts EnrichOptions) (EnrichSummary, error) {
	record, _, err := o.fetchRecord(ctx, documentID)
	if err != nil {
		return EnrichSummary{}, err
	}

	if len(opts.ArtifactIDs) > 0 {
		wanted := make(map[uuid.UUID]bool, len(opts.ArtifactIDs))
		for _, id := range opts.ArtifactIDs {
			wanted[id] = true
		}
		filtered := artifacts[:0]
		for _, a := range artifacts {
			if wanted[a.ID] {
				filtered = append(filtered, a)
			}
		}
		artifacts = filtered
	}

	enriched := o.enrichArtifacts(ctx, documentID, record, artifacts, nil, opts.ExtractCharts, opts.ChartProvider)

	summary := EnrichSummary{}
	for _, a := range enriched {
		if a.EnrichmentError != nil {
			summary.Failed++
		} else {
			summary.Enriched++
		}
	}
	return summary, nil
}

func (o *Orchestrator) fetchRecord(ctx context.Context, documentID uuid.UUID) (domain.DocumentRecord, domain.DocumentState, error) {
	if o.docs == nil {
		return domain.DocumentRecord{}, "", fmt.Errorf("document store not configured")
	}
	return o.docs.Get(ctx, documentID)
}

// Extract runs C9 against the document's aggregated markdown.
func (o *Orchestrator) Extract(ctx context.Context, documentID uuid.UUID, templateID string, provider extract.Provider, model string, overrides template.RenderOverrides) (domain.ExtractionResult, error) {
	record, _, err := o.fetchRecord(ctx, documentID)
	if err != nil {
		return domain.ExtractionResult{}, err
	}

	return o.extractor.Extract(ctx, extract.Request{
		TemplateID: templateID,
		Provider:   provider,
		Model:      model,
		Text:       record.Markdown,
		Overrides:  overrides,
	}), nil
}
