package dictionary

import (
	"context"
	"errors"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
)

// ErrUnavailable is returned when the dictionary cannot serve matches.
var ErrUnavailable = errors.New("concept dictionary unavailable")

// Index finds candidate concept mentions in text. One span may yield several
// candidates with different concept ids.
type Index interface {
	Match(ctx context.Context, text string) ([]models.CandidateMatch, error)
}
