package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/smarthatch/authserver/internal/logging"
	"github.com/smarthatch/authserver/internal/services"
)

// AvatarHandler serves profile pictures. A nil service means no object
// storage is configured and every request gets 503.
type AvatarHandler struct {
	avatars *services.AvatarService
	log     logging.Logger
}

func NewAvatarHandler(avatars *services.AvatarService, log logging.Logger) *AvatarHandler {
	if log == nil {
		log = logging.Discard()
	}
	return &AvatarHandler{avatars: avatars, log: log}
}

// AvatarRouter registers avatar routes behind requireAuth.
func AvatarRouter(r chi.Router, handler *AvatarHandler, requireAuth func(http.Handler) http.Handler) {
	r.With(requireAuth).Put("/me/avatar", handler.Upload)
	r.With(requireAuth).Get("/me/avatar", handler.Download)
}

func (h *AvatarHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.avatars == nil {
		writeError(w, http.StatusServiceUnavailable, "Avatar storage is not configured")
		return
	}
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, services.MaxAvatarSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(data) > services.MaxAvatarSize {
		writeError(w, http.StatusRequestEntityTooLarge, "Avatar exceeds 2 MiB")
		return
	}

	user, err := h.avatars.Upload(r.Context(), userID, bytes.NewReader(data), int64(len(data)), r.Header.Get("Content-Type"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnsupportedAvatarType):
			writeError(w, http.StatusBadRequest, "Avatar must be a png, jpeg, gif or webp image")
		case errors.Is(err, services.ErrAvatarTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "Avatar exceeds 2 MiB")
		case errors.Is(err, services.ErrValidation):
			writeError(w, http.StatusBadRequest, "Avatar is empty")
		case errors.Is(err, services.ErrUserNotFound):
			writeError(w, http.StatusUnauthorized, "Unauthorized")
		default:
			h.log.Error(r.Context(), "avatar upload failed", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to store avatar")
		}
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *AvatarHandler) Download(w http.ResponseWriter, r *http.Request) {
	if h.avatars == nil {
		writeError(w, http.StatusServiceUnavailable, "Avatar storage is not configured")
		return
	}
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	rc, contentType, err := h.avatars.Open(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAvatarNotFound), errors.Is(err, services.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "Avatar not found")
		default:
			h.log.Error(r.Context(), "avatar download failed", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to load avatar")
		}
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		h.log.Error(r.Context(), "read avatar", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load avatar")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
