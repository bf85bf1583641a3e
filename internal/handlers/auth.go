package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"agentdesk/internal/apperr"
	"agentdesk/internal/auth"
	"agentdesk/internal/middleware"
	"agentdesk/internal/models"
)

type loginRequest struct {
	// Identifier is a username or an email address.
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, apperr.ValidationError.Code(), "identifier and password are required")
		return
	}
	var (
		user models.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = h.users.GetByEmail(r.Context(), strings.ToLower(identifier))
	} else {
		user, err = h.users.GetByUsername(r.Context(), identifier)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
			return
		}
		h.respondAppError(w, r, err)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		respondError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}
	token, err := auth.GenerateToken(h.cfg.JWTSecret, user.ID, h.cfg.TokenTTL)
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

type meResponse struct {
	models.User
	IsAdmin    bool               `json:"is_admin"`
	IsSuper    bool               `json:"is_super_admin"`
	AdminRoles []models.AdminRole `json:"admin_roles"`
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, apperr.NotFound.Code(), "user not found")
			return
		}
		h.respondAppError(w, r, err)
		return
	}
	access, err := h.admins.Access(r.Context(), userID)
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	resp := meResponse{User: user, IsAdmin: access.IsAdmin, IsSuper: access.IsSuper, AdminRoles: []models.AdminRole{}}
	if access.IsAdmin {
		roles, err := h.admins.Roles(r.Context(), userID)
		if err != nil {
			h.respondAppError(w, r, err)
			return
		}
		if roles != nil {
			resp.AdminRoles = roles
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
