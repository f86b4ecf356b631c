package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/smarthatch/authserver/internal/logging"
	"github.com/smarthatch/authserver/internal/services"
	"github.com/smarthatch/authserver/internal/token"
	"github.com/smarthatch/authserver/types"
)

// AuthHandler provides the login, registration, refresh and profile endpoints.
type AuthHandler struct {
	userService *services.UserService
	issuer      *token.Issuer
	log         logging.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(userService *services.UserService, issuer *token.Issuer, log logging.Logger) *AuthHandler {
	if log == nil {
		log = logging.Discard()
	}
	return &AuthHandler{
		userService: userService,
		issuer:      issuer,
		log:         log,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/logout", handler.Logout)
	r.Post("/refresh", handler.Refresh)

	r.Group(func(r chi.Router) {
		r.Use(handler.RequireAuth)
		r.Get("/me", handler.Me)
		r.Patch("/me", handler.UpdateProfile)
		r.Put("/me/password", handler.ChangePassword)
	})
}

// RequireAuth enforces a valid access token and injects its subject into context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return RequireAuth(h.issuer)(next)
}

// RequireAuth constructs auth middleware for other routers.
func RequireAuth(issuer *token.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			claims, err := issuer.Verify(tokenString, token.KindAccess)
			if err != nil || strings.TrimSpace(claims.UserID()) == "" {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), claims.UserID())))
		})
	}
}

// Login verifies credentials and returns the user with a fresh token pair.
// Every failure is reported as 400.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	ctx := r.Context()
	user, err := h.userService.AuthenticateWithPassword(ctx, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidCredentials):
			writeError(w, http.StatusBadRequest, "Email or password is incorrect")
		case errors.Is(err, services.ErrValidation):
			writeError(w, http.StatusBadRequest, "Email and password are required")
		default:
			h.log.Error(ctx, "login failed", "error", err)
			writeError(w, http.StatusBadRequest, "Login failed")
		}
		return
	}

	pair, err := h.issuer.IssuePair(user)
	if err != nil {
		h.log.Error(ctx, "issue token pair", "user_id", user.ID, "error", err)
		writeError(w, http.StatusBadRequest, "Login failed")
		return
	}

	user, err = h.userService.StartSession(ctx, user, pair.RefreshToken)
	if err != nil {
		h.log.Error(ctx, "start session", "user_id", user.ID, "error", err)
		writeError(w, http.StatusBadRequest, "Login failed")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// Register creates a new user account and returns it with an access token.
// No refresh token is issued until the first login.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	user, err := h.userService.Register(ctx, req.Email, req.Password, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDuplicateEmail):
			writeError(w, http.StatusBadRequest, "User with this email already exists")
		case errors.Is(err, services.ErrValidation):
			writeError(w, http.StatusBadRequest, validationMessage(err))
		default:
			h.log.Error(ctx, "registration failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Registration failed")
		}
		return
	}

	accessToken, err := h.issuer.IssueAccessToken(user)
	if err != nil {
		h.log.Error(ctx, "issue access token", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	writeJSON(w, http.StatusOK, RegisterResponse{User: user, AccessToken: accessToken})
}

// Logout clears the server-side refresh token of the named user.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	if err := h.userService.Logout(r.Context(), req.Email); err != nil {
		h.log.Error(r.Context(), "logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Logout failed")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

// Refresh rotates a refresh token into a new token pair.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	// An unreadable body is treated as a missing token.
	_ = decodeJSON(r, &req)
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeRefreshError(w, http.StatusUnauthorized, "Refresh token is required")
		return
	}

	ctx := r.Context()
	pair, err := h.userService.RotateRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrTokenExpired):
			writeRefreshError(w, http.StatusForbidden, "Refresh token has expired")
		case errors.Is(err, token.ErrTokenInvalid):
			writeRefreshError(w, http.StatusForbidden, "Invalid refresh token")
		case errors.Is(err, services.ErrUserNotFound):
			writeRefreshError(w, http.StatusForbidden, "User not found")
		default:
			h.log.Error(ctx, "refresh failed", "error", err)
			writeRefreshError(w, http.StatusInternalServerError, "Failed to refresh token")
		}
		return
	}

	writeJSON(w, http.StatusOK, RefreshResponse{Success: true, Data: &pair})
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := h.userService.GetByID(r.Context(), userID)
	if err != nil {
		h.writeUserError(w, r, err, "Failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// UpdateProfile changes the display name of the current user.
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req UpdateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.userService.UpdateProfile(r.Context(), userID, req.Name)
	if err != nil {
		h.writeUserError(w, r, err, "Failed to update profile")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// ChangePassword replaces the password of the current user. Existing refresh
// tokens stop working.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err = h.userService.SetPassword(r.Context(), userID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidCredentials):
			writeError(w, http.StatusBadRequest, "Current password is incorrect")
		case errors.Is(err, services.ErrValidation):
			writeError(w, http.StatusBadRequest, validationMessage(err))
		default:
			h.writeUserError(w, r, err, "Failed to change password")
		}
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password updated"})
}

// writeUserError maps a missing user to 401 and anything else to 500.
func (h *AuthHandler) writeUserError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if errors.Is(err, services.ErrUserNotFound) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	h.log.Error(r.Context(), strings.ToLower(message), "error", err)
	writeError(w, http.StatusInternalServerError, message)
}

func writeRefreshError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, RefreshResponse{Success: false, Message: message})
}

// validationMessage turns "validation error: email is required" into
// "Email is required".
func validationMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		msg = msg[i+2:]
	}
	if msg == "" {
		return "Invalid request"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type LogoutRequest struct {
	Email string `json:"email"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type UpdateProfileRequest struct {
	Name string `json:"name"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// LoginResponse is the user record flattened together with both tokens.
type LoginResponse struct {
	types.User
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RegisterResponse is the user record flattened together with an access token.
type RegisterResponse struct {
	types.User
	AccessToken string `json:"accessToken"`
}

type RefreshResponse struct {
	Success bool             `json:"success"`
	Data    *types.TokenPair `json:"data,omitempty"`
	Message string           `json:"message,omitempty"`
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return "", errors.New("invalid authorization")
	}
	return tokenString, nil
}
