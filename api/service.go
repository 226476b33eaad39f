package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/saverelay/saverelay/pkg/core"
	"github.com/saverelay/saverelay/pkg/engine"
)

// service implements the dispatch API handlers.
type service struct {
	engine *engine.Engine
	logger *zap.Logger
}

func newService(e *engine.Engine, l *zap.Logger) *service {
	return &service{engine: e, logger: l}
}

// --- Request/response shapes ---

type createItem struct {
	Kind    core.OperationKind `json:"kind"`
	Payload json.RawMessage    `json:"payload"`
}

type createRequest struct {
	UserID  string             `json:"user_id"`
	Kind    core.OperationKind `json:"kind,omitempty"`
	Payload json.RawMessage    `json:"payload,omitempty"`
	// Items, when present, creates a batch of sibling operations bound to
	// one worker snapshot.
	Items []createItem `json:"items,omitempty"`
}

type createResponse struct {
	OperationID  string   `json:"operation_id,omitempty"`
	OperationIDs []string `json:"operation_ids,omitempty"`
	BatchID      string   `json:"batch_id,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type pollRequest struct {
	ClientID string `json:"client_id"`
}

type pollOperation struct {
	OperationID string             `json:"operation_id"`
	Kind        core.OperationKind `json:"kind"`
	Payload     json.RawMessage    `json:"payload"`
}

type progressRequest struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

type completionRequest struct {
	Success      bool            `json:"success"`
	ResultData   json.RawMessage `json:"result_data,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

type registerRequest struct {
	UserID   string `json:"user_id"`
	ClientID string `json:"client_id"`
}

type heartbeatRequest struct {
	ClientID string `json:"client_id"`
}

type logoutRequest struct {
	UserID string `json:"user_id"`
}

type connectionResponse struct {
	Online   bool       `json:"online"`
	ClientID string     `json:"client_id,omitempty"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// --- Handlers ---

func (s *service) createOperation(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !s.decode(w, r, &req) {
		return
	}

	if len(req.Items) > 0 {
		items := make([]engine.BatchItem, len(req.Items))
		for i, it := range req.Items {
			items[i] = engine.BatchItem{Kind: it.Kind, Payload: it.Payload}
		}
		ops, err := s.engine.CreateBatch(r.Context(), req.UserID, items)
		if err != nil {
			s.writeError(w, err)
			return
		}
		resp := createResponse{BatchID: ops[0].BatchID}
		for _, op := range ops {
			resp.OperationIDs = append(resp.OperationIDs, op.ID)
		}
		s.respond(w, http.StatusCreated, resp)
		return
	}

	op, err := s.engine.Create(r.Context(), req.UserID, req.Kind, req.Payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, createResponse{OperationID: op.ID})
}

func (s *service) listOperations(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ops, err := s.engine.ListOperations(r.Context(), owner, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, ops)
}

func (s *service) operationStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.GetStatus(r.Context(), chi.URLParam(r, "operationID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, st)
}

func (s *service) batchStatus(w http.ResponseWriter, r *http.Request) {
	bs, err := s.engine.GetBatchStatus(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, http.StatusOK, bs)
}

func (s *service) poll(w http.ResponseWriter, r *http.Request) {
	var req pollRequest
	if !s.decode(w, r, &req) {
		return
	}
	ops, err := s.engine.Poll(r.Context(), req.ClientID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Always an array, never null, so worker loops can range unconditionally.
	resp := make([]pollOperation, len(ops))
	for i, op := range ops {
		resp[i] = pollOperation{OperationID: op.ID, Kind: op.Kind, Payload: op.Payload}
	}
	s.respond(w, http.StatusOK, resp)
}

func (s *service) reportProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.engine.ReportProgress(r.Context(), chi.URLParam(r, "operationID"), core.Progress{
		Current: req.Current,
		Total:   req.Total,
		Message: req.Message,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *service) reportCompletion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.engine.ReportCompletion(r.Context(), chi.URLParam(r, "operationID"),
		req.Success, req.ResultData, req.ErrorMessage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *service) registerWorker(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.Registry().Bind(r.Context(), req.UserID, req.ClientID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *service) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.Registry().Heartbeat(r.Context(), req.ClientID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// connectionCheck lets the frontend ask whether the user's worker is
// online. The binding's last_seen is not touched here: only the worker's
// own heartbeat proves liveness.
func (s *service) connectionCheck(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	binding, err := s.engine.Registry().Binding(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := connectionResponse{}
	if binding != nil {
		resp.ClientID = binding.ClientID
		resp.LastSeen = &binding.LastSeen
		resp.Online = binding.Online(s.engine.Registry().OfflineTimeout())
	}
	s.respond(w, http.StatusOK, resp)
}

func (s *service) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.Registry().Unbind(r.Context(), req.UserID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func (s *service) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respond(w, http.StatusBadRequest, errorResponse{Message: "invalid JSON body"})
		return false
	}
	return true
}

func (s *service) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

// writeError maps core errors to HTTP responses. Precondition errors carry
// a distinct code so the UI can explain "no worker available" versus a
// generic failure.
func (s *service) writeError(w http.ResponseWriter, err error) {
	if code := core.ErrorCode(err); code != "" {
		s.respond(w, http.StatusServiceUnavailable, errorResponse{Code: code, Message: err.Error()})
		return
	}

	switch {
	case errors.Is(err, core.ErrOperationNotFound), errors.Is(err, core.ErrBatchNotFound):
		s.respond(w, http.StatusNotFound, errorResponse{Message: err.Error()})
	case errors.Is(err, core.ErrUnknownKind),
		errors.Is(err, core.ErrInvalidPayload),
		errors.Is(err, core.ErrPayloadTooLarge),
		errors.Is(err, core.ErrInvalidClientID),
		errors.Is(err, core.ErrInvalidUserID),
		errors.Is(err, core.ErrEmptyBatch),
		errors.Is(err, core.ErrBatchTooLarge):
		s.respond(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
	default:
		s.logger.Error("internal error", zap.Error(err))
		s.respond(w, http.StatusInternalServerError, errorResponse{Message: "internal error"})
	}
}
