package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	referral "github.com/referkit/referkit/internal/referral/domain"
)

// UserHandler handles HTTP requests for the referral graph.
type UserHandler struct {
	users    referral.UserRepository
	logger   *slog.Logger
	validate *validator.Validate
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users referral.UserRepository, logger *slog.Logger, validate *validator.Validate) *UserHandler {
	return &UserHandler{
		users:    users,
		logger:   logger,
		validate: validate,
	}
}

// RegisterRoutes sets up the routing for user and referral operations.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Post("/users", h.CreateUser)
	r.Get("/users/{userID}", h.GetUser)
	r.Get("/users/{userID}/referrals", h.ListReferrals)
}

func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var reqDTO CreateUserRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	user := referral.NewUser(reqDTO.TelegramID, reqDTO.Username, reqDTO.Name, reqDTO.ProfileURL, reqDTO.ReferrerID)
	if err := h.users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, referral.ErrDuplicateUser):
			respondWithError(w, http.StatusConflict, "A user with this telegram_id already exists")
		case errors.Is(err, referral.ErrUserNotFound):
			respondWithError(w, http.StatusUnprocessableEntity, "Referrer does not exist")
		case errors.Is(err, referral.ErrCyclicReferral):
			respondWithError(w, http.StatusUnprocessableEntity, "Referral would create a cycle")
		default:
			h.logger.ErrorContext(ctx, "Failed to create user", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to create user")
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, toUserResponseDTO(user))
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := parseIDParam(w, r, "userID")
	if !ok {
		return
	}

	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, referral.ErrUserNotFound) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.ErrorContext(ctx, "Failed to get user", "user_id", userID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to get user")
		return
	}

	respondWithJSON(w, http.StatusOK, toUserResponseDTO(user))
}

func (h *UserHandler) ListReferrals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := parseIDParam(w, r, "userID")
	if !ok {
		return
	}
	transitive := r.URL.Query().Get("transitive") == "true"

	var (
		referrals []*referral.User
		err       error
	)
	if transitive {
		referrals, err = h.users.ListReferralsTransitive(ctx, userID)
	} else {
		referrals, err = h.users.ListDirectReferrals(ctx, userID)
	}
	if err != nil {
		if errors.Is(err, referral.ErrUserNotFound) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.ErrorContext(ctx, "Failed to list referrals", "user_id", userID, "transitive", transitive, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list referrals")
		return
	}

	items := make([]UserResponseDTO, len(referrals))
	for i, u := range referrals {
		items[i] = toUserResponseDTO(u)
	}
	respondWithJSON(w, http.StatusOK, ReferralListResponseDTO{
		UserID:     userID,
		Transitive: transitive,
		Count:      len(items),
		Referrals:  items,
	})
}

// parseIDParam extracts a positive int64 URL parameter, writing a 400
// response on failure.
func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return id, true
}
