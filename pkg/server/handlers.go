package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/conclave-ai/conclave/pkg/agent"
	"github.com/conclave-ai/conclave/pkg/apperr"
	"github.com/conclave-ai/conclave/pkg/orchestrator"
	"github.com/conclave-ai/conclave/pkg/session"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.cfg.Version})
}

type answerRequest struct {
	SessionID string   `json:"session_id"`
	Query     string   `json:"query"`
	Agents    []string `json:"agents,omitempty"`
	Strategy  string   `json:"strategy,omitempty"`
}

type answerResponse struct {
	Content      string      `json:"content"`
	Contributors []contrib   `json:"contributors"`
	SessionID    string      `json:"session_id"`
	DurationMS   int64       `json:"duration_ms"`
}

type contrib struct {
	Agent      string  `json:"agent"`
	Confidence float64 `json:"confidence"`
	Used       bool    `json:"used"`
}

func (s *Server) buildRequest(w http.ResponseWriter, r *http.Request) (orchestrator.Request, bool) {
	var body answerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.New(apperr.BadRequest, "server: invalid request body"))
		return orchestrator.Request{}, false
	}
	if body.Query == "" {
		writeError(w, apperr.New(apperr.BadRequest, "server: query is required"))
		return orchestrator.Request{}, false
	}

	req := orchestrator.Request{
		SessionID: body.SessionID,
		Owner:     ownerOf(r),
		Query:     body.Query,
	}

	s.mu.Lock()
	pending, ok := s.pendingBySession[body.SessionID]
	if ok {
		delete(s.pendingBySession, body.SessionID)
	}
	s.mu.Unlock()
	if ok {
		req.OverrideAgents = pending.agents
		req.OverrideStrategy = pending.strategy
	} else if len(body.Agents) > 0 {
		req.OverrideAgents = body.Agents
		req.OverrideStrategy = agent.Strategy(body.Strategy)
	}
	return req, true
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	req, ok := s.buildRequest(w, r)
	if !ok {
		return
	}
	resp, err := s.cfg.Orchestrator.Answer(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, c := range resp.Contributors {
		s.recordContribution(c.Agent)
	}
	writeJSON(w, http.StatusOK, toAnswerResponse(resp))
}

func toAnswerResponse(resp *orchestrator.Response) answerResponse {
	out := answerResponse{Content: resp.Content, SessionID: resp.SessionID, DurationMS: resp.Duration.Milliseconds()}
	for _, c := range resp.Contributors {
		out.Contributors = append(out.Contributors, contrib{Agent: c.Agent, Confidence: c.Confidence, Used: c.Used})
	}
	return out
}

// streamEvent is the NDJSON line shape sent by handleAnswerStream: one
// JSON object per line, flushed immediately after each write.
type streamEvent struct {
	Type  string           `json:"type"`
	Data  any              `json:"data,omitempty"`
	Error string           `json:"error,omitempty"`
}

func (s *Server) handleAnswerStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.buildRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperr.New(apperr.ConsistencyViolation, "server: streaming unsupported by response writer"))
		return
	}

	events, err := s.cfg.Orchestrator.AnswerStream(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)

	for ev := range events {
		line := toStreamEvent(ev)
		if err := enc.Encode(line); err != nil {
			return
		}
		flusher.Flush()
		if ev.State == orchestrator.StateFailed {
			return
		}
		if ev.Done && ev.Final != nil {
			for _, c := range ev.Final.Contributors {
				s.recordContribution(c.Agent)
			}
		}
	}
}

func toStreamEvent(ev orchestrator.Event) streamEvent {
	if ev.Err != nil {
		return streamEvent{Type: "error", Error: ev.Err.Error()}
	}
	if ev.Done && ev.Final != nil {
		return streamEvent{Type: "done", Data: toAnswerResponse(ev.Final)}
	}
	if ev.Delta != "" {
		return streamEvent{Type: "chunk", Data: map[string]string{"delta": ev.Delta}}
	}
	if ev.State == orchestrator.StateAgentsRunning {
		return streamEvent{Type: "agent_completed", Data: map[string]string{"agent": ev.Agent}}
	}
	return streamEvent{Type: "progress", Data: map[string]string{"state": string(ev.State)}}
}

type sessionView struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Title     string    `json:"title"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
	Messages  []msgView `json:"messages,omitempty"`
}

type msgView struct {
	Role      string `json:"role"`
	Agent     string `json:"agent,omitempty"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	sess, err := s.cfg.Sessions.Create(r.Context(), ownerOf(r), body.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionToView(sess, nil))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.cfg.Sessions.List(r.Context(), ownerOf(r))
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, sessionToView(sess, nil))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.cfg.Sessions.GetOrCreate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	view := session.ViewRaw
	if r.URL.Query().Get("view") == "presentation" {
		view = session.ViewPresentation
	}
	msgs, err := s.cfg.Sessions.History(r.Context(), id, view)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionToView(sess, msgs))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cfg.Sessions.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func sessionToView(sess *session.Session, msgs []session.Message) sessionView {
	view := sessionView{
		ID: sess.ID, Owner: sess.Owner, Title: sess.Title,
		CreatedAt: sess.CreatedAt.Format(rfc3339), UpdatedAt: sess.UpdatedAt.Format(rfc3339),
	}
	if msgs == nil {
		msgs = sess.Messages
	}
	for _, m := range msgs {
		view.Messages = append(view.Messages, msgView{
			Role: string(m.Role), Agent: m.Agent, Content: m.Content, CreatedAt: m.CreatedAt.Format(rfc3339),
		})
	}
	return view
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if ae, ok := err.(*apperr.Error); ok {
		switch ae.Code {
		case apperr.BadRequest:
			status = http.StatusBadRequest
		case apperr.Cancelled:
			status = http.StatusRequestTimeout
		case apperr.ModelUnavailable, apperr.Degraded:
			status = http.StatusServiceUnavailable
		case apperr.StorageError, apperr.ConsistencyViolation:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
