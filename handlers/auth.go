package handlers

import (
	"errors"
	"net/http"

	"todoshare/auth"
	"todoshare/models"
	"todoshare/utils"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type meResponse struct {
	User models.Identity `json:"User"`
}

// Register creates an account from a JSON {username, password} body.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.credentials.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "user registered", "user_id", user.ID, "request_id", RequestID(r.Context()))
	w.WriteHeader(http.StatusCreated)
}

// Login exchanges form-encoded username and password for a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	password := r.FormValue("password")
	if username == "" {
		h.writeError(w, r, &models.ValidationError{Field: "username", Message: "field required"})
		return
	}
	if password == "" {
		h.writeError(w, r, &models.ValidationError{Field: "password", Message: "field required"})
		return
	}
	ctx := r.Context()
	ip := utils.GetIP(r)

	allowed, err := h.throttle.Allowed(ctx, username, ip)
	if err != nil {
		h.logger.WarnContext(ctx, "login throttle unavailable", "error", err)
	}
	if !allowed {
		h.writeError(w, r, errTooManyAttempts)
		return
	}

	user, err := h.credentials.Verify(ctx, username, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			if ferr := h.throttle.Fail(ctx, username, ip); ferr != nil {
				h.logger.WarnContext(ctx, "record login failure", "error", ferr)
			}
		}
		h.writeError(w, r, err)
		return
	}
	if err := h.throttle.Reset(ctx, username, ip); err != nil {
		h.logger.WarnContext(ctx, "reset login failures", "error", err)
	}

	token, err := h.tokens.Issue(user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

// Me echoes the authenticated identity.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())
	writeJSON(w, http.StatusOK, meResponse{User: user})
}
