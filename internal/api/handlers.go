package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/kdimtricp/cinesuggest/internal/feed"
	"github.com/kdimtricp/cinesuggest/internal/httpx"
	"github.com/kdimtricp/cinesuggest/internal/logging"
	"github.com/kdimtricp/cinesuggest/internal/models"
	"github.com/kdimtricp/cinesuggest/internal/recommend"
)

const maxBodyBytes = 1 << 16

// RecommendService is what the handlers need from recommend.Service.
type RecommendService interface {
	Ratings(ctx context.Context, username string) (*models.RatingMap, error)
	Connect(ctx context.Context, userID, username string) (*models.RatingMap, error)
	Browse(ctx context.Context, userID string) (recommend.BrowseState, error)
	Generate(ctx context.Context, userID string) (recommend.BrowseState, error)
	Advance(ctx context.Context, userID string) (recommend.BrowseState, error)
	Suggestions(ctx context.Context, userID string) ([]models.Suggestion, error)
	Poster(ctx context.Context, title string) (string, error)
}

type Handlers struct {
	svc      RecommendService
	validate *validator.Validate
	log      zerolog.Logger
}

func NewHandlers(svc RecommendService) *Handlers {
	return &Handlers{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logging.Component("api"),
	}
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

type connectRequest struct {
	Username string `json:"username" validate:"required,max=100"`
}

type connectResponse struct {
	Username string `json:"username"`
	Ratings  int    `json:"ratings"`
}

type posterResponse struct {
	Title  string `json:"title"`
	Poster string `json:"poster"`
}

func (h *Handlers) RatingsHandler(w http.ResponseWriter, r *http.Request) {
	ratings, err := h.svc.Ratings(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ratings)
}

func (h *Handlers) ConnectHandler(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "username is required")
		return
	}

	ratings, err := h.svc.Connect(r.Context(), UserID(r.Context()), req.Username)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, connectResponse{Username: req.Username, Ratings: ratings.Len()})
}

func (h *Handlers) BrowseHandler(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.Browse(r.Context(), UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// GenerateHandler answers 200 with the browse state even when the pipeline
// failed; the failure is in last_error.
func (h *Handlers) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.Generate(r.Context(), UserID(r.Context()))
	switch {
	case err == nil:
	case errors.Is(err, recommend.ErrGenerationInFlight), errors.Is(err, recommend.ErrNotConnected):
		writeJSON(w, http.StatusConflict, stateError{BrowseState: state, Error: err.Error()})
		return
	case state.State == "":
		h.writeServiceError(w, r, err)
		return
	default:
		h.log.Warn().Err(err).Str("user_id", UserID(r.Context())).Msg("generation failed")
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handlers) AdvanceHandler(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.Advance(r.Context(), UserID(r.Context()))
	if errors.Is(err, recommend.ErrNoSuggestions) {
		writeJSON(w, http.StatusConflict, stateError{BrowseState: state, Error: err.Error()})
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handlers) SuggestionsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Suggestions(r.Context(), UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) PosterHandler(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	if err := h.validate.Var(title, "required,max=300"); err != nil {
		writeError(w, r, http.StatusBadRequest, "title query parameter is required")
		return
	}

	poster, err := h.svc.Poster(r.Context(), title)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, posterResponse{Title: title, Poster: poster})
}

type stateError struct {
	recommend.BrowseState
	Error string `json:"error"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, r, status, msg)
}

// statusFor maps service errors onto HTTP responses.
func statusFor(err error) (int, string) {
	var fetchErr *feed.FetchError
	switch {
	case errors.Is(err, feed.ErrEmptyUsername):
		return http.StatusBadRequest, "username is required"
	case errors.As(err, &fetchErr):
		if fetchErr.Status == http.StatusNotFound {
			return http.StatusNotFound, "Letterboxd user not found"
		}
		return http.StatusBadGateway, fetchErr.Error()
	case errors.Is(err, httpx.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "upstream temporarily unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream timed out"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: middleware.GetReqID(r.Context())})
}
