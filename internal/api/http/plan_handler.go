package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	contentplan "github.com/referkit/referkit/internal/contentplan/domain"
	referral "github.com/referkit/referkit/internal/referral/domain"
)

// PlanHandler handles HTTP requests for content plan entries.
type PlanHandler struct {
	entries  contentplan.EntryRepository
	users    referral.UserRepository
	logger   *slog.Logger
	validate *validator.Validate
}

// NewPlanHandler creates a new PlanHandler.
func NewPlanHandler(entries contentplan.EntryRepository, users referral.UserRepository, logger *slog.Logger, validate *validator.Validate) *PlanHandler {
	return &PlanHandler{
		entries:  entries,
		users:    users,
		logger:   logger,
		validate: validate,
	}
}

// RegisterRoutes sets up the routing for content plan operations.
func (h *PlanHandler) RegisterRoutes(r chi.Router) {
	r.Post("/users/{userID}/plan", h.CreateEntry)
	r.Get("/users/{userID}/plan", h.ListEntries)
	r.Delete("/users/{userID}/plan/{entryID}", h.CancelEntry)
	r.Get("/plan/{entryID}", h.GetEntry)
	r.Get("/plan/{entryID}/outcomes", h.ListOutcomes)
}

func (h *PlanHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID, ok := parseIDParam(w, r, "userID")
	if !ok {
		return
	}

	var reqDTO CreateEntryRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	if _, err := h.users.GetByID(ctx, ownerID); err != nil {
		if errors.Is(err, referral.ErrUserNotFound) {
			respondWithError(w, http.StatusNotFound, "Owner not found")
			return
		}
		h.logger.ErrorContext(ctx, "Failed to resolve entry owner", "owner_id", ownerID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to create entry")
		return
	}

	entry, err := contentplan.NewEntry(ownerID, reqDTO.ScheduledAt, reqDTO.MessageText, reqDTO.MediaRefs, time.Now().UTC())
	if err != nil {
		if errors.Is(err, contentplan.ErrInvalidSchedule) {
			respondWithError(w, http.StatusUnprocessableEntity, "scheduled_at must be in the future")
			return
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.entries.CreateEntry(ctx, entry); err != nil {
		h.logger.ErrorContext(ctx, "Failed to create entry", "owner_id", ownerID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to create entry")
		return
	}

	respondWithJSON(w, http.StatusCreated, toEntryResponseDTO(entry))
}

func (h *PlanHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID, ok := parseIDParam(w, r, "userID")
	if !ok {
		return
	}

	entries, err := h.entries.ListEntriesByOwner(ctx, ownerID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to list entries", "owner_id", ownerID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list entries")
		return
	}

	items := make([]EntryResponseDTO, len(entries))
	for i, e := range entries {
		items[i] = toEntryResponseDTO(e)
	}
	respondWithJSON(w, http.StatusOK, items)
}

func (h *PlanHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entryID, ok := parseIDParam(w, r, "entryID")
	if !ok {
		return
	}

	entry, err := h.entries.GetEntry(ctx, entryID)
	if err != nil {
		if errors.Is(err, contentplan.ErrEntryNotFound) {
			respondWithError(w, http.StatusNotFound, "Entry not found")
			return
		}
		h.logger.ErrorContext(ctx, "Failed to get entry", "entry_id", entryID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to get entry")
		return
	}

	dto := toEntryResponseDTO(entry)
	stats, err := h.entries.GetEntryStats(ctx, entryID)
	if err != nil {
		// The entry itself is still useful without its aggregates.
		h.logger.WarnContext(ctx, "Failed to get entry stats", "entry_id", entryID, "error", err)
	} else {
		dto.Stats = stats
	}
	respondWithJSON(w, http.StatusOK, dto)
}

func (h *PlanHandler) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entryID, ok := parseIDParam(w, r, "entryID")
	if !ok {
		return
	}

	if _, err := h.entries.GetEntry(ctx, entryID); err != nil {
		if errors.Is(err, contentplan.ErrEntryNotFound) {
			respondWithError(w, http.StatusNotFound, "Entry not found")
			return
		}
		h.logger.ErrorContext(ctx, "Failed to get entry", "entry_id", entryID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list outcomes")
		return
	}

	outcomes, err := h.entries.ListOutcomes(ctx, entryID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to list outcomes", "entry_id", entryID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list outcomes")
		return
	}

	items := make([]OutcomeResponseDTO, len(outcomes))
	for i, o := range outcomes {
		items[i] = toOutcomeResponseDTO(o)
	}
	respondWithJSON(w, http.StatusOK, items)
}

func (h *PlanHandler) CancelEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID, ok := parseIDParam(w, r, "userID")
	if !ok {
		return
	}
	entryID, ok := parseIDParam(w, r, "entryID")
	if !ok {
		return
	}

	if err := h.entries.CancelEntry(ctx, entryID, ownerID); err != nil {
		switch {
		case errors.Is(err, contentplan.ErrEntryNotFound):
			respondWithError(w, http.StatusNotFound, "Entry not found")
		case errors.Is(err, contentplan.ErrInvalidTransition):
			respondWithError(w, http.StatusConflict, "Only pending entries can be cancelled")
		default:
			h.logger.ErrorContext(ctx, "Failed to cancel entry", "entry_id", entryID, "owner_id", ownerID, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to cancel entry")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
