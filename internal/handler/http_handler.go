package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/quartermill/be-pr-workflow/internal/errors"
	"github.com/quartermill/be-pr-workflow/internal/logger"
	"github.com/quartermill/be-pr-workflow/internal/repository"
	"github.com/quartermill/be-pr-workflow/internal/service"
)

// HTTPHandler exposes the workflow engine over HTTP.
type HTTPHandler struct {
	requests    *service.RequestService
	transitions *service.TransitionService
	splits      *service.SplitService
	stages      *service.StageService
	rules       *service.RuleService
	comments    *service.CommentService
	log         *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	requests *service.RequestService,
	transitions *service.TransitionService,
	splits *service.SplitService,
	stages *service.StageService,
	rules *service.RuleService,
	comments *service.CommentService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		requests:    requests,
		transitions: transitions,
		splits:      splits,
		stages:      stages,
		rules:       rules,
		comments:    comments,
		log:         log,
	}
}

// Register mounts all routes on the router.
func (h *HTTPHandler) Register(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/purchase-requests", h.CreateRequest).Methods(http.MethodPost)
	api.HandleFunc("/purchase-requests", h.ListRequests).Methods(http.MethodGet)
	api.HandleFunc("/purchase-requests/pending-approvals", h.ListPendingApprovals).Methods(http.MethodGet)
	api.HandleFunc("/purchase-requests/{id}", h.GetRequest).Methods(http.MethodGet)
	api.HandleFunc("/purchase-requests/{id}/history", h.GetRequestHistory).Methods(http.MethodGet)
	api.HandleFunc("/purchase-requests/{id}/transition", h.Transition).Methods(http.MethodPost)
	api.HandleFunc("/purchase-requests/{id}/split", h.Split).Methods(http.MethodPost)

	api.HandleFunc("/purchase-requests/{id}/comments", h.CreateComment).Methods(http.MethodPost)
	api.HandleFunc("/purchase-requests/{id}/comments", h.ListComments).Methods(http.MethodGet)
	api.HandleFunc("/comments/{id}", h.UpdateComment).Methods(http.MethodPatch, http.MethodPut)
	api.HandleFunc("/comments/{id}", h.DeleteComment).Methods(http.MethodDelete)

	api.HandleFunc("/workflows/{workflowID}/stages/init", h.InitWorkflow).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{workflowID}/stages", h.ListStages).Methods(http.MethodGet)
	api.HandleFunc("/workflows/{workflowID}/stages", h.InsertStage).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{workflowID}/stages/{stageID}", h.UpdateStage).Methods(http.MethodPut)
	api.HandleFunc("/workflows/{workflowID}/stages/{stageID}/reorder", h.ReorderStage).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{workflowID}/stages/{stageID}", h.DeleteStage).Methods(http.MethodDelete)

	api.HandleFunc("/workflows/{workflowID}/rules", h.ListRules).Methods(http.MethodGet)
	api.HandleFunc("/workflows/{workflowID}/rules", h.CreateRule).Methods(http.MethodPost)
	api.HandleFunc("/rules/{id}", h.UpdateRule).Methods(http.MethodPut)
	api.HandleFunc("/rules/{id}", h.DeleteRule).Methods(http.MethodDelete)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
}

// ── Purchase requests ────────────────────────────────────────────────────────

func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	pr, err := h.requests.CreateRequest(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, pr)
}

func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	pr, err := h.requests.GetRequest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pr)
}

func (h *HTTPHandler) GetRequestHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.requests.GetRequestHistory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *HTTPHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	result, err := h.requests.ListRequests(r.Context(),
		optional(q.Get("status")),
		optional(q.Get("state_role")),
		optional(q.Get("department")),
		page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":      result.Items,
		"pagination": result.Pagination,
	})
}

func (h *HTTPHandler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	result, err := h.requests.ListPendingApprovals(r.Context(), q.Get("role"), page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":      result.Items,
		"pagination": result.Pagination,
	})
}

func (h *HTTPHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req service.TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}
	req.DocumentID = mux.Vars(r)["id"]

	pr, err := h.transitions.Execute(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pr)
}

func (h *HTTPHandler) Split(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DetailIDs []string
		ActorID   string
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	newID, err := h.splits.Split(r.Context(), mux.Vars(r)["id"], body.DetailIDs, body.ActorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": newID})
}

// ── Comments ─────────────────────────────────────────────────────────────────

func (h *HTTPHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	var comment repository.Comment
	if err := json.NewDecoder(r.Body).Decode(&comment); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}
	comment.RequestID = mux.Vars(r)["id"]

	created, err := h.comments.CreateComment(r.Context(), &comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *HTTPHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.comments.ListComments(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, comments)
}

func (h *HTTPHandler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID      string
		Message     string
		Attachments []repository.CommentAttachment
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	comment, err := h.comments.UpdateComment(r.Context(), mux.Vars(r)["id"], body.UserID, body.Message, body.Attachments)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, comment)
}

func (h *HTTPHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := h.comments.DeleteComment(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("user_id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Stage configuration ──────────────────────────────────────────────────────

func (h *HTTPHandler) InitWorkflow(w http.ResponseWriter, r *http.Request) {
	stages, err := h.stages.InitWorkflow(r.Context(), mux.Vars(r)["workflowID"], r.URL.Query().Get("actor_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, stages)
}

func (h *HTTPHandler) ListStages(w http.ResponseWriter, r *http.Request) {
	stages, err := h.stages.ListStages(r.Context(), mux.Vars(r)["workflowID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stages)
}

func (h *HTTPHandler) InsertStage(w http.ResponseWriter, r *http.Request) {
	var stage repository.Stage
	if err := json.NewDecoder(r.Body).Decode(&stage); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}
	stage.ID = ""
	stage.WorkflowID = mux.Vars(r)["workflowID"]

	created, err := h.stages.InsertStage(r.Context(), &stage, r.URL.Query().Get("actor_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *HTTPHandler) UpdateStage(w http.ResponseWriter, r *http.Request) {
	var stage repository.Stage
	if err := json.NewDecoder(r.Body).Decode(&stage); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}
	vars := mux.Vars(r)
	stage.ID = vars["stageID"]
	stage.WorkflowID = vars["workflowID"]

	updated, err := h.stages.UpdateStage(r.Context(), &stage, r.URL.Query().Get("actor_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *HTTPHandler) ReorderStage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Position int
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	vars := mux.Vars(r)
	if err := h.stages.ReorderStage(r.Context(), vars["workflowID"], vars["stageID"], body.Position, r.URL.Query().Get("actor_id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) DeleteStage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.stages.DeleteStage(r.Context(), vars["workflowID"], vars["stageID"], r.URL.Query().Get("actor_id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Routing rules ────────────────────────────────────────────────────────────

func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.ListRules(r.Context(), mux.Vars(r)["workflowID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rules)
}

func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule repository.RoutingRuleRecord
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}
	rule.ID = ""
	rule.WorkflowID = mux.Vars(r)["workflowID"]

	created, err := h.rules.CreateRule(r.Context(), &rule)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *HTTPHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule repository.RoutingRuleRecord
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}
	rule.ID = mux.Vars(r)["id"]

	updated, err := h.rules.UpdateRule(r.Context(), &rule)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *HTTPHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.DeleteRule(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForCode(errors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	h.writeJSON(w, status, map[string]string{
		"code":    string(errors.CodeOf(err)),
		"message": errors.MessageOf(err),
	})
}

func statusForCode(code errors.ErrCode) int {
	switch code {
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
