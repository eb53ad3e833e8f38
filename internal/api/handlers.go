package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	gwebsocket "github.com/gorilla/websocket"

	"telemetry-hub/internal/handler"
	"telemetry-hub/internal/hub"
	"telemetry-hub/internal/models"
	"telemetry-hub/internal/monitor"
)

var upgrader = gwebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RecordingLister reads the recordings ledger.
type RecordingLister interface {
	ListRecordings(limit int) ([]models.RecordingLedgerEntry, error)
}

type APIHandler struct {
	mon    *monitor.Monitor
	ctrl   *handler.Controller
	hub    *hub.Hub
	ledger RecordingLister
}

func NewAPIHandler(mon *monitor.Monitor, ctrl *handler.Controller, h *hub.Hub, ledger RecordingLister) *APIHandler {
	return &APIHandler{mon: mon, ctrl: ctrl, hub: h, ledger: ledger}
}

func (h *APIHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mon.Snapshot())
}

type channelResponse struct {
	models.ChannelSnapshot
	Recent []float64 `json:"recent"`
	Trace  []int     `json:"trace"`
}

func (h *APIHandler) HandleChannel(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := channelParams(w, r)
	if !ok {
		return
	}
	snap, err := h.mon.ChannelSnapshot(kind, id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	recent, err := h.mon.RecentWindow(kind, id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	trace, err := h.mon.Trace(kind, id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, channelResponse{ChannelSnapshot: snap, Recent: recent, Trace: trace})
}

func (h *APIHandler) HandleToggleAutoRange(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := channelParams(w, r)
	if !ok {
		return
	}
	h.execute(w, models.Command{Name: models.CmdToggleAutoRange, Channel: kind, DeviceID: id})
}

// HandleToggleFilter flips one ECG filter stage, or sets it when the
// enabled query parameter is present.
func (h *APIHandler) HandleToggleFilter(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := channelParams(w, r)
	if !ok {
		return
	}
	if kind != models.ChannelECG {
		writeError(w, http.StatusNotFound, monitor.ErrUnknownChannel)
		return
	}
	cmd := models.Command{Name: models.CmdToggleFilter, DeviceID: id, Stage: chi.URLParam(r, "stage")}
	if v := r.URL.Query().Get("enabled"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid enabled value"))
			return
		}
		cmd.Enabled = &on
	}
	h.execute(w, cmd)
}

func (h *APIHandler) HandleImage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	data, at, ok := h.mon.Image(uint32(id))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Last-Modified", at.UTC().Format(http.TimeFormat))
	w.Write(data)
}

func (h *APIHandler) HandleAudio(w http.ResponseWriter, r *http.Request) {
	samples, at := h.mon.Audio()
	if samples == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": samples, "at": at})
}

func (h *APIHandler) HandleRecordings(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeJSON(w, http.StatusOK, []models.RecordingLedgerEntry{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		limit = n
	}
	entries, err := h.ledger.ListRecordings(limit)
	if err != nil {
		log.Printf("Error listing recordings: %v", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []models.RecordingLedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *APIHandler) HandleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mon.RecordingStatus())
}

// HandleCommand executes a JSON encoded command.
func (h *APIHandler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd models.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.execute(w, cmd)
}

func (h *APIHandler) HandleStreaming(w http.ResponseWriter, r *http.Request) {
	h.execute(w, models.Command{Name: models.CmdStreaming, Action: chi.URLParam(r, "action")})
}

func (h *APIHandler) HandleStartRecording(w http.ResponseWriter, r *http.Request) {
	var cmd models.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cmd.Name = models.CmdStartRecording
	h.execute(w, cmd)
}

func (h *APIHandler) HandleStopRecording(w http.ResponseWriter, r *http.Request) {
	h.execute(w, models.Command{Name: models.CmdStopRecording})
}

func (h *APIHandler) HandleClearPatients(w http.ResponseWriter, r *http.Request) {
	h.execute(w, models.Command{Name: models.CmdClearPatients})
}

func (h *APIHandler) execute(w http.ResponseWriter, cmd models.Command) {
	res := h.ctrl.Execute(cmd)
	status := http.StatusOK
	if !res.OK {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, res)
}

// HandleWebSocket upgrades connections and registers clients with the
// hub. The first message is the current snapshot.
func (h *APIHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := hub.NewClient(h.hub, conn)
	initial, err := json.Marshal(map[string]any{"type": "snapshot", "payload": h.mon.Snapshot()})
	if err != nil {
		log.Printf("Error marshalling snapshot: %v", err)
		conn.Close()
		return
	}
	client.Send <- initial
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"streaming": h.mon.Streaming(),
		"clients":   h.hub.Clients(),
		"time":      time.Now().UTC(),
	})
}

func channelParams(w http.ResponseWriter, r *http.Request) (models.ChannelKind, uint32, bool) {
	kind := models.ChannelKind(chi.URLParam(r, "kind"))
	if kind != models.ChannelECG && kind != models.ChannelSpO2 {
		writeError(w, http.StatusNotFound, monitor.ErrUnknownChannel)
		return "", 0, false
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid device id"))
		return "", 0, false
	}
	return kind, uint32(id), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
