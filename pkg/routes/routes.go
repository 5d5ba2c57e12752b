// Package routes exposes the device registry to UI collaborators as a JSON
// API with an SSE change feed. Rendering lives entirely client-side; this
// surface only reads aggregates and forwards explicit user actions.
package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/mvickers/meshdeck/pkg/models"
	"github.com/mvickers/meshdeck/pkg/store"
	"github.com/mvickers/meshdeck/pkg/transport"
)

// WebRouter serves the operator console API for a device registry.
type WebRouter struct {
	registry  *store.Registry
	notifier  *Notifier
	connector func(deviceID string) (transport.Transport, error)

	mu    sync.Mutex
	links map[string]transport.Transport
}

// NewWebRouter wires a router to the registry and installs its notifier so
// every state change ticks the SSE feed.
func NewWebRouter(registry *store.Registry) *WebRouter {
	wr := &WebRouter{
		registry: registry,
		notifier: NewNotifier(),
		links:    make(map[string]transport.Transport),
	}
	registry.SetNotifier(wr.notifier.Notify)
	return wr
}

// SetConnector installs the factory used by the connect endpoint to open a
// transport for a device. Without one, connect requests are rejected.
func (wr *WebRouter) SetConnector(fn func(deviceID string) (transport.Transport, error)) {
	wr.connector = fn
}

// Handler builds the route table.
func (wr *WebRouter) Handler() http.Handler {
	router := mux.NewRouter().StrictSlash(true)

	router.HandleFunc("/api/devices", wr.listDevices).Methods("GET")
	router.HandleFunc("/api/devices", wr.addDevice).Methods("POST")
	router.HandleFunc("/api/devices/{id}", wr.removeDevice).Methods("DELETE")
	router.HandleFunc("/api/devices/{id}/connect", wr.connectDevice).Methods("POST")
	router.HandleFunc("/api/devices/{id}/disconnect", wr.disconnectDevice).Methods("POST")
	router.HandleFunc("/api/devices/{id}/nodes", wr.listNodes).Methods("GET")
	router.HandleFunc("/api/devices/{id}/nodes/{node}", wr.removeNode).Methods("DELETE")
	router.HandleFunc("/api/devices/{id}/nodes/{node}/request-position", wr.requestPosition).Methods("POST")
	router.HandleFunc("/api/devices/{id}/config/{section}", wr.getSection).Methods("GET")
	router.HandleFunc("/api/devices/{id}/config/{section}", wr.setWorking).Methods("PUT")
	router.HandleFunc("/api/devices/{id}/config/{section}/apply", wr.applySection).Methods("POST")
	router.HandleFunc("/api/devices/{id}/config/{section}/discard", wr.discardSection).Methods("POST")
	router.HandleFunc("/api/devices/{id}/conversations", wr.listConversations).Methods("GET")
	router.HandleFunc("/api/devices/{id}/messages", wr.listMessages).Methods("GET")
	router.HandleFunc("/api/devices/{id}/messages", wr.sendText).Methods("POST")
	router.HandleFunc("/api/devices/{id}/messages", wr.clearHistory).Methods("DELETE")
	router.HandleFunc("/api/devices-sse", wr.devicesSSE).Methods("GET")

	router.Use(handlers.ProxyHeaders)
	router.Use(RequestLogger)
	return handlers.RecoveryHandler()(router)
}

// ListenAndServe runs the API on listenAddr until the server fails.
func (wr *WebRouter) ListenAndServe(listenAddr string) error {
	return http.ListenAndServe(listenAddr, wr.Handler())
}

// RequestLogger logs every API hit with its caller details.
func RequestLogger(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		slog.Info("endpoint hit", "method", r.Method, "path", r.URL.Path, "remote_host", r.RemoteAddr, "user_agent", r.UserAgent())
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

// DeviceSummary is the list-view shape of a device.
type DeviceSummary struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name,omitempty"`
	Phase          models.ConnectionPhase `json:"phase"`
	PhaseChangedAt time.Time              `json:"phaseChangedAt,omitzero"`
	NodeCount      int                    `json:"nodeCount"`
}

func (wr *WebRouter) deviceSummaries() []DeviceSummary {
	devices := wr.registry.Devices()
	out := make([]DeviceSummary, 0, len(devices))
	for _, d := range devices {
		phase, changedAt := d.Phase()
		out = append(out, DeviceSummary{
			ID:             d.ID,
			Name:           d.Name,
			Phase:          phase,
			PhaseChangedAt: changedAt,
			NodeCount:      len(d.Nodes()),
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrDeviceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrUnknownSection):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNoDraft), errors.Is(err, models.ErrNotConnected):
		status = http.StatusConflict
	case errors.Is(err, models.ErrApplyFailed):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (wr *WebRouter) device(w http.ResponseWriter, r *http.Request) (*store.Device, bool) {
	id := mux.Vars(r)["id"]
	d, ok := wr.registry.GetDevice(id)
	if !ok {
		writeError(w, models.ErrDeviceNotFound)
		return nil, false
	}
	return d, true
}

// parseNodeID accepts both the bang-hex form ("!a1b2c3d4") and decimal.
func parseNodeID(s string) (models.NodeID, error) {
	if rest, found := strings.CutPrefix(s, "!"); found {
		n, err := strconv.ParseUint(rest, 16, 32)
		return models.NodeID(n), err
	}
	n, err := strconv.ParseUint(s, 10, 32)
	return models.NodeID(n), err
}

func (wr *WebRouter) listDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wr.deviceSummaries())
}

func (wr *WebRouter) addDevice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	d := wr.registry.AddDevice(body.Name)
	writeJSON(w, http.StatusCreated, map[string]string{"id": d.ID})
}

func (wr *WebRouter) removeDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := wr.registry.RemoveDevice(id); err != nil {
		writeError(w, err)
		return
	}
	wr.closeLink(id)
	w.WriteHeader(http.StatusNoContent)
}

func (wr *WebRouter) closeLink(id string) {
	wr.mu.Lock()
	link, ok := wr.links[id]
	delete(wr.links, id)
	wr.mu.Unlock()
	if ok {
		if err := link.Close(); err != nil {
			slog.Warn("closing transport", "device", id, "error", err)
		}
	}
}

func (wr *WebRouter) connectDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := wr.device(w, r)
	if !ok {
		return
	}
	if wr.connector == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no transport configured"})
		return
	}

	wr.mu.Lock()
	if _, exists := wr.links[d.ID]; exists {
		wr.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{"error": "already connected"})
		return
	}
	wr.mu.Unlock()

	link, err := wr.connector(d.ID)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %w", models.ErrApplyFailed, err))
		return
	}
	wr.mu.Lock()
	wr.links[d.ID] = link
	wr.mu.Unlock()

	if err := wr.registry.AttachTransport(d.ID, link); err != nil {
		wr.closeLink(d.ID)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (wr *WebRouter) disconnectDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := wr.device(w, r)
	if !ok {
		return
	}
	if err := wr.registry.DetachTransport(d.ID); err != nil {
		writeError(w, err)
		return
	}
	wr.closeLink(d.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (wr *WebRouter) listNodes(w http.ResponseWriter, r *http.Request) {
	d, ok := wr.device(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, d.Nodes())
}

func (wr *WebRouter) removeNode(w http.ResponseWriter, r *http.Request) {
	d, ok := wr.device(w, r)
	if !ok {
		return
	}
	node, err := parseNodeID(mux.Vars(r)["node"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid node id"})
		return
	}
	d.RemoveNode(node)
	w.WriteHeader(http.StatusNoContent)
}

func (wr *WebRouter) requestPosition(w http.ResponseWriter, r *http.Request) {
	d, ok := wr.device(w, r)
	if !ok {
		return
	}
	node, err := parseNodeID(mux.Vars(r)["node"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid node id"})
		return
	}
	if err := d.RequestPosition(r.Context(), node); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (wr *WebRouter) getSection(w http.ResponseWriter, r *http.Request) {
	d, ok := wr.device(w, r)
	if !ok {
		return
	}
	section := mux.Vars(r)["section"]
	if !models.KnownSection(section) {
		writeError(w, models.ErrUnknownSection)
		return
	}
	writeJSON(w, http.StatusOK, d.Section(section))
}

func (wr *WebRouter) setWorking(w http.ResponseWriter, r *http.Request) {
	d, ok := wr.device(w, r)
	if !ok {
		return
	}
	var value map[string]any
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	section := mux.Vars(r)["section"]
	if err := d.SetWorking(section, value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Section(section))
}

func (wr *WebRouter) applySection(w http.ResponseWriter, r *http.Request) {
	d, ok := wr.device(w, r)
	if !ok {
		return
	}
	section := mux.Vars(r)["section"]
	if !models.KnownSection(section) {
		writeError(w, models.ErrUnknownSection)
		return
	}
	if err := d.ApplyConfig(r.Context(), section); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (wr *WebRouter) discardSection(w http.ResponseWriter, r *http.Request) {
	d, ok := wr.device(w, r)
	if !ok {
		return
	}
	section := mux.Vars(r)["section"]
	d.DiscardWorking(section)
	writeJSON(w, http.StatusOK, d.Section(section))
}

func (wr *WebRouter) listConversations(w http.ResponseWriter, r *http.Request) {
	d, ok := wr.device(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, d.Conversations())
}

func (wr *WebRouter) listMessages(w http.ResponseWriter, r *http.Request) {
	d, ok := wr.device(w, r)
	if !ok {
		return
	}
	conversation := models.ConversationKey(r.URL.Query().Get("conversation"))
	writeJSON(w, http.StatusOK, d.Messages(conversation))
}

func (wr *WebRouter) sendText(w http.ResponseWriter, r *http.Request) {
	d, ok := wr.device(w, r)
	if !ok {
		return
	}
	var body struct {
		Conversation models.ConversationKey `json:"conversation"`
		Payload      string                 `json:"payload"`
		AckRequested bool                   `json:"ackRequested"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	correlationID, err := d.SendText(r.Context(), body.Conversation, body.Payload, body.AckRequested)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"correlationId": correlationID})
}

func (wr *WebRouter) clearHistory(w http.ResponseWriter, r *http.Request) {
	d, ok := wr.device(w, r)
	if !ok {
		return
	}
	d.ClearHistory(models.ConversationKey(r.URL.Query().Get("conversation")))
	w.WriteHeader(http.StatusNoContent)
}
