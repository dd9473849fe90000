// Package extract pulls the suggestion array out of free-form completion text.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/kdimtricp/cinesuggest/internal/logging"
)

// ErrNoArray means the text contains no bracketed array of objects.
var ErrNoArray = errors.New("extract: no suggestion array in reply")

var (
	fencePattern = regexp.MustCompile("```[a-zA-Z0-9_-]*")
	arrayPattern = regexp.MustCompile(`\[\s*\{[\s\S]*?\}\s*\]`)

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// Suggestion is one record of the completion reply.
type Suggestion struct {
	Title  string `json:"title" validate:"required,max=300"`
	Reason string `json:"reason" validate:"max=2000"`
}

// ShapeError reports an array that was found but could not be used.
type ShapeError struct {
	Fragment string
	Err      error
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("extract: invalid suggestion array: %v", e.Err)
}

func (e *ShapeError) Unwrap() error { return e.Err }

// Suggestions returns the records of the first object array found in text.
// It fails with ErrNoArray (and an empty slice) when there is none and with a
// *ShapeError when the array is not valid JSON or a record has no title.
func Suggestions(text string) ([]Suggestion, error) {
	cleaned := fencePattern.ReplaceAllString(text, "")

	fragment := arrayPattern.FindString(cleaned)
	if fragment == "" {
		return []Suggestion{}, ErrNoArray
	}

	var out []Suggestion
	if err := json.Unmarshal([]byte(fragment), &out); err != nil {
		return nil, &ShapeError{Fragment: fragment, Err: err}
	}

	for i := range out {
		out[i].Title = strings.TrimSpace(out[i].Title)
		out[i].Reason = strings.TrimSpace(out[i].Reason)
		if err := validate.Struct(out[i]); err != nil {
			return nil, &ShapeError{Fragment: fragment, Err: fmt.Errorf("record %d: %w", i, err)}
		}
	}
	return out, nil
}

// SuggestionsOrEmpty never fails: anything unusable is logged and yields an
// empty list.
func SuggestionsOrEmpty(text string) []Suggestion {
	out, err := Suggestions(text)
	if err != nil {
		log := logging.Component("extract")
		log.Warn().Err(err).Msg("discarding completion reply")
		return []Suggestion{}
	}
	return out
}
