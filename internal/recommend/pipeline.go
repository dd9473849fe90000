// Package recommend runs the suggestion pipeline and keeps each user's
// browsing position over the stored suggestions.
package recommend

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kdimtricp/cinesuggest/internal/ai"
	"github.com/kdimtricp/cinesuggest/internal/extract"
	"github.com/kdimtricp/cinesuggest/internal/logging"
	"github.com/kdimtricp/cinesuggest/internal/metrics"
	"github.com/kdimtricp/cinesuggest/internal/models"
)

// ErrNoRawImport means the user connected no account data to recommend from.
var ErrNoRawImport = errors.New("recommend: no imported ratings for user")

// Store is the persistence the recommendation flow depends on.
type Store interface {
	SaveConnectedAccount(ctx context.Context, account *models.ConnectedAccount) error
	GetConnectedAccount(ctx context.Context, userID, provider string) (*models.ConnectedAccount, error)
	SaveRawImport(ctx context.Context, imp *models.RawImport) error
	GetRawImport(ctx context.Context, userID, provider string) (*models.RawImport, error)
	SaveSuggestion(ctx context.Context, s *models.Suggestion) error
	GetSuggestions(ctx context.Context, userID string) ([]models.Suggestion, error)
}

// Result of one pipeline run. All is every stored suggestion of the user in
// display order, Saved the ones this run appended.
type Result struct {
	Saved []models.Suggestion
	All   []models.Suggestion
}

// Runner is what a Browser triggers on generate.
type Runner interface {
	Run(ctx context.Context, userID string) (*Result, error)
}

type Pipeline struct {
	store       Store
	completer   ai.Completer
	instruction string
	log         zerolog.Logger
}

func NewPipeline(store Store, completer ai.Completer, instruction string) *Pipeline {
	return &Pipeline{
		store:       store,
		completer:   completer,
		instruction: instruction,
		log:         logging.Component("pipeline"),
	}
}

// Run reads the user's raw import, asks the completer for suggestions,
// appends each one and returns the full list. Rows appended before a save
// failure stay stored.
func (p *Pipeline) Run(ctx context.Context, userID string) (*Result, error) {
	res, outcome, err := p.run(ctx, userID)
	metrics.PipelineRuns.WithLabelValues(outcome).Inc()

	ev := p.log.Info()
	if err != nil {
		ev = p.log.Warn().Err(err)
	}
	ev.Str("user_id", userID).Str("outcome", outcome).Msg("pipeline finished")
	return res, err
}

func (p *Pipeline) run(ctx context.Context, userID string) (*Result, string, error) {
	imp, err := p.store.GetRawImport(ctx, userID, models.ProviderLetterboxd)
	if err != nil {
		return nil, "store_error", fmt.Errorf("loading raw import: %w", err)
	}
	if imp == nil || len(imp.Data) == 0 {
		return nil, "no_import", ErrNoRawImport
	}

	reply, err := p.completer.Complete(ctx, imp.Data, p.instruction)
	if err != nil {
		return nil, "completion_error", fmt.Errorf("requesting completion: %w", err)
	}

	parsed, err := extract.Suggestions(reply)
	if err != nil {
		outcome := "invalid_shape"
		if errors.Is(err, extract.ErrNoArray) {
			outcome = "no_array"
		}
		p.log.Debug().Str("user_id", userID).Str("reply", reply).Msg("unusable completion reply")
		return nil, outcome, err
	}

	res := &Result{Saved: make([]models.Suggestion, 0, len(parsed))}
	for _, s := range parsed {
		row := models.Suggestion{UserID: userID, Title: s.Title, Reason: s.Reason}
		if err := p.store.SaveSuggestion(ctx, &row); err != nil {
			return nil, "store_error", fmt.Errorf("saving suggestion %q: %w", s.Title, err)
		}
		metrics.SuggestionsSaved.Inc()
		res.Saved = append(res.Saved, row)
	}

	res.All, err = p.store.GetSuggestions(ctx, userID)
	if err != nil {
		return nil, "store_error", fmt.Errorf("reading suggestions: %w", err)
	}
	return res, "ok", nil
}
