package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gatekeep-labs/gatekeep/pkg/timelock"
)

// Server exposes the authorizer's operations over HTTP. Caller identity
// comes from the auth middleware's principal; the server itself never
// grants or assumes authority.
type Server struct {
	tl     *timelock.Timelock
	logger *slog.Logger

	// RecordError, when set, counts rejected operations by kind.
	RecordError func(kind string)
}

func NewServer(tl *timelock.Timelock, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{tl: tl, logger: logger}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/actions/{hash}", s.handleActionStatus)
	mux.HandleFunc("POST /v1/actions/queue", s.handleQueue)
	mux.HandleFunc("POST /v1/actions/cancel", s.handleCancel)
	mux.HandleFunc("POST /v1/actions/execute", s.handleExecute)
	mux.HandleFunc("POST /v1/admin/accept", s.handleAcceptAdmin)
	return mux
}

// actionRequest carries the five action fields. Data is base64 per
// encoding/json []byte convention; ETA is RFC 3339 and is truncated to
// second granularity, matching the hash encoding.
type actionRequest struct {
	Target    string    `json:"target"`
	Value     uint64    `json:"value"`
	Signature string    `json:"signature"`
	Data      []byte    `json:"data"`
	ETA       time.Time `json:"eta"`
}

func (a actionRequest) action() timelock.Action {
	return timelock.Action{
		Target:    a.Target,
		Value:     a.Value,
		Signature: a.Signature,
		Data:      a.Data,
		ETA:       a.ETA.Truncate(time.Second),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"timelock_id":   s.tl.ID(),
		"admin":         s.tl.Admin(),
		"pending_admin": s.tl.PendingAdmin(),
		"delay_seconds": int64(s.tl.Delay() / time.Second),
	})
}

func (s *Server) handleActionStatus(w http.ResponseWriter, r *http.Request) {
	h, err := timelock.ParseActionHash(r.PathValue("hash"))
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tx_hash": h.String(),
		"queued":  s.tl.Queued(h),
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !s.decode(w, r, &req) {
		return
	}

	h, err := s.tl.Queue(r.Context(), req.action())
	if err != nil {
		s.fail(w, r, "queue", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"tx_hash": h.String()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !s.decode(w, r, &req) {
		return
	}

	a := req.action()
	if err := s.tl.Cancel(r.Context(), a); err != nil {
		s.fail(w, r, "cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tx_hash": a.Hash().String()})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !s.decode(w, r, &req) {
		return
	}

	a := req.action()
	result, err := s.tl.Execute(r.Context(), a)
	if err != nil {
		s.fail(w, r, "execute", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tx_hash": a.Hash().String(),
		"result":  result,
	})
}

func (s *Server) handleAcceptAdmin(w http.ResponseWriter, r *http.Request) {
	if err := s.tl.AcceptAdmin(r.Context()); err != nil {
		s.fail(w, r, "acceptAdmin", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"admin": s.tl.Admin()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, r, http.StatusBadRequest, "BadRequest", "malformed request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := WriteTimelockError(w, r, err)
	if s.RecordError != nil {
		s.RecordError(kind)
	}
	s.logger.Warn("operation rejected", "op", op, "kind", kind, "error", err)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
