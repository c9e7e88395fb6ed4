package server

import (
	"encoding/json"
	"net/http"

	"github.com/conclave-ai/conclave/pkg/agent"
	"github.com/conclave-ai/conclave/pkg/apperr"
	"github.com/conclave-ai/conclave/pkg/memory"
	"github.com/conclave-ai/conclave/pkg/prompt"
)

// overrideRequest is POST /control/agent/override's body: a one-shot
// routing decision the next /answer call against session_id consumes
// instead of running the classifier.
type overrideRequest struct {
	SessionID string   `json:"session_id"`
	Agents    []string `json:"agents"`
	Strategy  string   `json:"strategy"`
}

func (s *Server) handleAgentOverride(w http.ResponseWriter, r *http.Request) {
	var body overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.New(apperr.BadRequest, "server: invalid override body"))
		return
	}
	if body.SessionID == "" || len(body.Agents) == 0 {
		writeError(w, apperr.New(apperr.BadRequest, "server: session_id and agents are required"))
		return
	}

	s.mu.Lock()
	s.pendingBySession[body.SessionID] = pendingRouting{
		agents:   body.Agents,
		strategy: agent.Strategy(body.Strategy),
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}

// agentConfigRequest is POST /control/agent/config's body.
type agentConfigRequest struct {
	AgentName  string         `json:"agent_name"`
	ConfigType string         `json:"config_type"`
	ConfigData map[string]any `json:"config_data"`
	Persist    bool           `json:"persist"`
}

func (s *Server) handleAgentConfig(w http.ResponseWriter, r *http.Request) {
	var body agentConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.New(apperr.BadRequest, "server: invalid config body"))
		return
	}
	if body.AgentName == "" {
		writeError(w, apperr.New(apperr.BadRequest, "server: agent_name is required"))
		return
	}

	switch body.ConfigType {
	case "prompt":
		promptBody, ok := body.ConfigData["body"].(string)
		if !ok {
			writeError(w, apperr.New(apperr.BadRequest, "server: prompt config_data requires a \"body\" string"))
			return
		}
		if err := s.cfg.Prompts.SetOverride(prompt.AgentSystemKey(body.AgentName), promptBody); err != nil {
			writeError(w, err)
			return
		}
	case "keywords":
		raw, ok := body.ConfigData["keywords"].([]any)
		if !ok {
			writeError(w, apperr.New(apperr.BadRequest, "server: keywords config_data requires a \"keywords\" array"))
			return
		}
		words := make([]string, 0, len(raw))
		for _, kw := range raw {
			if s, ok := kw.(string); ok {
				words = append(words, s)
			}
		}
		if s.cfg.Classifier != nil {
			s.cfg.Classifier.SetKeywords(body.AgentName, words)
		}
	case "params":
		// Recorded for introspection via /control/status; not yet wired
		// into any agent's runtime params.
	default:
		writeError(w, apperr.New(apperr.BadRequest, "server: unknown config_type"))
		return
	}

	s.mu.Lock()
	s.agentOverrides[body.AgentName] = agentOverride{ConfigType: body.ConfigType, ConfigData: body.ConfigData}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

// handleRoutingConfig records the operator's routing policy for
// /control/status to report. enable_collaboration and enable_multi_agent
// are not yet enforced against the classifier's own decision — doing so
// would mean clamping a RoutingDecision after the fact, which can strand
// a collaborative plan's task graph inputs. routing_strategy=manual has
// the same gap: it is recorded but every /answer call still goes through
// Classify unless the caller also sends an explicit agent override.
func (s *Server) handleRoutingConfig(w http.ResponseWriter, r *http.Request) {
	var body routingConfig
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.New(apperr.BadRequest, "server: invalid routing config body"))
		return
	}
	s.mu.Lock()
	s.routing = body
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, body)
}

type memoryManageRequest struct {
	Operation string          `json:"operation"`
	Kind      string          `json:"kind,omitempty"`
	Filters   memory.Filters  `json:"filters,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (s *Server) handleMemoryManage(w http.ResponseWriter, r *http.Request) {
	var body memoryManageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.New(apperr.BadRequest, "server: invalid memory manage body"))
		return
	}

	kind := memory.KindAll
	if body.Kind != "" {
		kind = memory.Kind(body.Kind)
	}

	switch body.Operation {
	case "clear":
		n, err := s.cfg.Memory.Clear(r.Context(), kind, body.Filters)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": n})

	case "filter":
		results, err := s.cfg.Memory.Search(r.Context(), kind, "", 50, body.Filters)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, results)

	case "export":
		snap, err := s.cfg.Memory.Export(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)

	case "import":
		var snap memory.Snapshot
		if err := json.Unmarshal(body.Data, &snap); err != nil {
			writeError(w, apperr.New(apperr.BadRequest, "server: invalid import payload"))
			return
		}
		if err := s.cfg.Memory.Import(r.Context(), &snap); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "imported"})

	default:
		writeError(w, apperr.New(apperr.BadRequest, "server: unknown operation"))
	}
}

type statusResponse struct {
	Routing        routingConfig    `json:"routing"`
	AgentCounters  map[string]int64 `json:"agent_counters"`
	AgentOverrides []string         `json:"agent_overrides"`
	Memory         memoryStatus     `json:"memory"`
}

type memoryStatus struct {
	Documents     int `json:"documents"`
	Relations     int `json:"relations"`
	VectorRecords int `json:"vector_records"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	routing := s.routing
	counters := make(map[string]int64, len(s.agentCounters))
	for k, v := range s.agentCounters {
		counters[k] = v
	}
	overridden := make([]string, 0, len(s.agentOverrides))
	for name := range s.agentOverrides {
		overridden = append(overridden, name)
	}
	s.mu.Unlock()

	resp := statusResponse{Routing: routing, AgentCounters: counters, AgentOverrides: overridden}
	if s.cfg.Memory != nil {
		stats, err := s.cfg.Memory.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Memory = memoryStatus{Documents: stats.Documents, Relations: stats.Relations, VectorRecords: stats.VectorRecords}
	}
	writeJSON(w, http.StatusOK, resp)
}
