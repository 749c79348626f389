package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"session-auth/internal/middleware"
	"session-auth/internal/model"
	"session-auth/internal/service"
	"session-auth/pkg/apierror"
)

type UserHandler struct {
	sessions *service.SessionService
	audit    auditRecorder
}

func NewUserHandler(sessions *service.SessionService, audit *service.AuditService) *UserHandler {
	h := &UserHandler{sessions: sessions}
	if audit != nil {
		h.audit = audit
	}
	return h
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.sessions.ListUsers(r.Context(), middleware.AccessTokenFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.PublicUserList{Users: users}, nil)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeError(w, apierror.BadRequest("user id is required", "id"))
		return
	}

	user, err := h.sessions.GetUser(r.Context(), middleware.AccessTokenFromContext(r.Context()), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user, nil)
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeError(w, apierror.BadRequest("user id is required", "id"))
		return
	}

	var payload model.UpdateUserRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.sessions.UpdateUser(r.Context(), middleware.AccessTokenFromContext(r.Context()), userID, payload.ProfileUpdate())
	recordAudit(r, h.audit, model.AuditActionUpdate, "", userID, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user, nil)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeError(w, apierror.BadRequest("user id is required", "id"))
		return
	}

	err := h.sessions.DeleteUser(r.Context(), middleware.AccessTokenFromContext(r.Context()), userID)
	recordAudit(r, h.audit, model.AuditActionDelete, "", userID, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"deleted": true}, nil)
}
