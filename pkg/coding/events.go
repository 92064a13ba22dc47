package coding

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/logger"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
)

// RequestFromEvent reads a note event. Optional overrides are taken from
// data when present with the right type.
func RequestFromEvent(event models.Event) (models.ExtractRequest, error) {
	text, _ := event.Data["clinical_text"].(string)
	if text == "" {
		return models.ExtractRequest{}, ErrEmptyText
	}
	req := models.ExtractRequest{ClinicalText: text}
	req.NoteID, _ = event.Data["note_id"].(string)
	if req.NoteID == "" {
		req.NoteID = event.Metadata["note-id"]
	}

	if v, ok := event.Data["similarity_threshold"].(float64); ok {
		req.SimilarityThreshold = &v
	}
	// JSON numbers decode as float64
	if v, ok := event.Data["max_results"].(float64); ok {
		n := int(v)
		if float64(n) != v {
			return models.ExtractRequest{}, fmt.Errorf("max_results %v is not an integer", v)
		}
		req.MaxResults = &n
	}
	if v, ok := event.Data["keep_negated"].(bool); ok {
		req.KeepNegated = &v
	}
	return req, nil
}

// HandleNoteEvent is the consumer callback. Malformed notes are logged and
// acknowledged; pipeline and publication failures are returned so the
// message is not committed.
func (s *Service) HandleNoteEvent(ctx context.Context, event models.Event) error {
	log := logger.WithFields(logrus.Fields{"event_id": event.ID, "event_type": event.Type})

	req, err := RequestFromEvent(event)
	if err != nil {
		log.WithError(err).Warn("skipping malformed note event")
		return nil
	}

	if _, err := s.Process(ctx, req); err != nil {
		if IsValidationError(err) {
			log.WithError(err).Warn("skipping note with invalid options")
			return nil
		}
		return err
	}
	return nil
}
