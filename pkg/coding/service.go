package coding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/logger"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
	"github.com/synaptica-ai/clinicalcoder/pkg/dlp"
	"github.com/synaptica-ai/clinicalcoder/pkg/observability/metrics"
	"github.com/synaptica-ai/clinicalcoder/pkg/pipeline"
)

const (
	EventTypeNote  = "clinical-note"
	EventTypeCoded = "coded-note"
	eventSource    = "coding-service"

	defaultExcerptLimit = 500
)

var ErrEmptyText = errors.New("clinical_text is required")

// Extractor is satisfied by *pipeline.Orchestrator.
type Extractor interface {
	Extract(ctx context.Context, req models.ExtractRequest) (*models.ExtractionResult, error)
	ScorerName() string
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}, metadata map[string]string) error
}

type Service struct {
	extractor    Extractor
	publisher    Publisher
	redactor     *dlp.Detector
	excerptLimit int
}

// NewService wires the extraction pipeline to downstream publication. A nil
// publisher disables publication; a nil redactor forwards no excerpt.
func NewService(extractor Extractor, publisher Publisher, redactor *dlp.Detector, excerptLimit int) *Service {
	if excerptLimit <= 0 {
		excerptLimit = defaultExcerptLimit
	}
	return &Service{
		extractor:    extractor,
		publisher:    publisher,
		redactor:     redactor,
		excerptLimit: excerptLimit,
	}
}

func (s *Service) ScorerName() string {
	return s.extractor.ScorerName()
}

// IsValidationError reports whether err was caused by the request rather
// than by the pipeline.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyText) || errors.Is(err, pipeline.ErrInvalidConfig)
}

func (s *Service) Extract(ctx context.Context, req models.ExtractRequest) (*models.ExtractionResult, error) {
	if strings.TrimSpace(req.ClinicalText) == "" {
		return nil, ErrEmptyText
	}
	return s.extractor.Extract(ctx, req)
}

// Process extracts codes for a note and forwards the result downstream.
func (s *Service) Process(ctx context.Context, req models.ExtractRequest) (*models.ExtractionResult, error) {
	result, err := s.Extract(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.Publish(ctx, req, result); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Service) Publish(ctx context.Context, req models.ExtractRequest, result *models.ExtractionResult) error {
	if s.publisher == nil {
		return nil
	}

	data := map[string]interface{}{
		"extraction_id": result.ID,
		"note_id":       req.NoteID,
		"codes":         result.Codes,
		"suppressed":    result.Suppressed,
		"dropped":       result.Dropped,
		"scorer":        result.Scorer,
		"created_at":    result.CreatedAt,
	}
	if s.redactor != nil {
		data["excerpt"] = s.redactor.Excerpt(req.ClinicalText, s.excerptLimit)
	}
	metadata := map[string]string{"extraction-id": result.ID}
	if req.NoteID != "" {
		metadata["note-id"] = req.NoteID
	}

	if err := s.publisher.PublishEvent(ctx, EventTypeCoded, eventSource, data, metadata); err != nil {
		logger.Log.WithError(err).WithField("extraction_id", result.ID).Error("failed to publish coded note")
		return fmt.Errorf("publishing coded note: %w", err)
	}
	metrics.IncResultsPublished()
	return nil
}
