package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"context-sync-server/internal/domain"
	"context-sync-server/internal/service"
	"context-sync-server/pkg/response"
)

type ContextHandler struct {
	contextService *service.ContextService
}

func NewContextHandler(contextService *service.ContextService) *ContextHandler {
	return &ContextHandler{
		contextService: contextService,
	}
}

func (h *ContextHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	c, err := h.contextService.Create(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, c)
}

func (h *ContextHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	c, err := h.contextService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, c)
}

func (h *ContextHandler) List(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.contextService.ListContexts())
}

func (h *ContextHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req domain.UpdateContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	c, err := h.contextService.Update(r.Context(), id, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, c)
}

func (h *ContextHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.contextService.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, map[string]string{"deleted": id})
}

func (h *ContextHandler) Children(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	children, err := h.contextService.Children(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Success(w, children)
}

func (h *ContextHandler) RegisterValidation(w http.ResponseWriter, r *http.Request) {
	contextType := mux.Vars(r)["type"]

	var policy domain.ContextValidation
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := h.contextService.RegisterValidation(contextType, policy); err != nil {
		writeServiceError(w, err)
		return
	}

	response.Created(w, map[string]string{"type": contextType})
}
