package hostapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"Assembler-Trainman/internal/trainman"
)

// Transport is the optional peer-level view of the underlying pubsub.
type Transport interface {
	PeerID() string
	ConnectedPeers() []string
}

// Server exposes a Host over HTTP for inspection and manual messaging.
type Server struct {
	host      *trainman.Host
	transport Transport
}

func NewServer(h *trainman.Host) *Server {
	return &Server{host: h}
}

// WithTransport enables GET /api/transport.
func (s *Server) WithTransport(t Transport) *Server {
	s.transport = t
	return s
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/clients", s.handleClients)
	mux.HandleFunc("/api/clients/", s.handleClient)
	mux.HandleFunc("/api/transport", s.handleTransport)
}

func (s *Server) handleTransport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.transport == nil {
		writeError(w, http.StatusNotFound, "no peer transport")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"peer_id": s.transport.PeerID(),
		"peers":   s.transport.ConnectedPeers(),
	})
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	if s.host == nil {
		writeError(w, http.StatusServiceUnavailable, "host unavailable")
		return
	}
	switch r.Method {
	case http.MethodOptions:
		writeNoContent(w)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"clients": s.host.Peers()})
	case http.MethodPost:
		var req struct {
			ID      string `json:"id"`
			Address string `json:"address"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.ID == "" || req.Address == "" {
			writeError(w, http.StatusBadRequest, "id and address required")
			return
		}
		if err := s.host.AddClient(req.ID, req.Address); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		st, _ := s.host.Peer(req.ID)
		writeJSON(w, http.StatusCreated, map[string]any{"client": st})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleClient routes /api/clients/{id}[/send | /topics/{topic}/stream].
func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	if s.host == nil {
		writeError(w, http.StatusServiceUnavailable, "host unavailable")
		return
	}
	if r.Method == http.MethodOptions {
		writeNoContent(w)
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/clients/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "client id missing")
		return
	}
	clientID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		st, err := s.host.Peer(clientID)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"client": st})
	case len(parts) == 2 && parts[1] == "send":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleSend(w, r, clientID)
	case len(parts) == 4 && parts[1] == "topics" && parts[3] == "stream":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleStream(w, r, clientID, parts[2])
	default:
		writeError(w, http.StatusNotFound, "route not found")
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, clientID string) {
	var req struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.host.Send(clientID, req.Topic, req.Data); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	st, _ := s.host.Peer(clientID)
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "state": st.State, "queued": st.Queued})
}

type streamEvent struct {
	Topic        string          `json:"topic"`
	Source       string          `json:"source"`
	SourceOrigin string          `json:"source_origin"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// handleStream relays every message clientID sends on topic as server-sent events until
// the request ends.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, clientID, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	ch := make(chan []byte, 32)
	sub, err := s.host.Subscribe(clientID, topic, func(m trainman.Message) {
		b, _ := json.Marshal(streamEvent{Topic: m.Topic, Source: m.Source, SourceOrigin: m.SourceOrigin, Data: m.Data})
		select {
		case ch <- b:
		default:
		}
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-ch:
			if _, err := w.Write([]byte("event: message\ndata: " + string(msg) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, trainman.ErrUnknownPeer):
		return http.StatusNotFound
	case errors.Is(err, trainman.ErrDuplicateIdentity):
		return http.StatusConflict
	case errors.Is(err, trainman.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeNoContent(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}
