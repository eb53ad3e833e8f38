package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gwebsocket "github.com/gorilla/websocket"

	"telemetry-hub/internal/dsp"
	"telemetry-hub/internal/handler"
	"telemetry-hub/internal/hub"
	"telemetry-hub/internal/models"
	"telemetry-hub/internal/monitor"
)

type fakeLedger struct {
	entries []models.RecordingLedgerEntry
}

func (l *fakeLedger) SaveRecording(e models.RecordingLedgerEntry) error {
	l.entries = append([]models.RecordingLedgerEntry{e}, l.entries...)
	return nil
}

func (l *fakeLedger) ListRecordings(limit int) ([]models.RecordingLedgerEntry, error) {
	if limit > 0 && limit < len(l.entries) {
		return l.entries[:limit], nil
	}
	return l.entries, nil
}

type testEnv struct {
	srv *httptest.Server
	mon *monitor.Monitor
	hub *hub.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ledger := &fakeLedger{}
	bus := monitor.NewBus()
	mon := monitor.New(monitor.Options{
		DeviceIDs:         []uint32{1},
		SamplingRate:      250,
		Filters:           dsp.ChainConfig{LowPassHz: 40},
		RecordingDeviceID: 1,
		ExportDir:         t.TempDir(),
		Ledger:            ledger,
	}, bus)
	h := hub.NewHub()
	events, unsubscribe := bus.Subscribe(64)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx, events)

	srv := httptest.NewServer(SetupRouter(NewAPIHandler(mon, handler.NewController(mon), h, ledger)))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		unsubscribe()
	})
	return &testEnv{srv: srv, mon: mon, hub: h}
}

func (e *testEnv) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestSnapshotAndChannels(t *testing.T) {
	env := newTestEnv(t)
	env.mon.HandleECG(1, []int{10, 20, 30})

	var snap models.Snapshot
	if code := env.do(t, http.MethodGet, "/api/snapshot", "", &snap); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if snap.Streaming != models.StreamingStopped || len(snap.Channels) != 2 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	var ch channelResponse
	if code := env.do(t, http.MethodGet, "/api/channels/ecg/1", "", &ch); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if ch.Cursor != 3 || len(ch.Recent) != 3 || ch.Recent[2] != 30 {
		t.Errorf("unexpected channel: %+v", ch)
	}
	if n := len(ch.Trace); n != ch.Capacity || ch.Trace[n-1] != 30 || ch.Trace[0] != 0 {
		t.Errorf("trace not ordered from the cursor: len=%d capacity=%d", n, ch.Capacity)
	}

	tests := []struct {
		path string
		code int
	}{
		{"/api/channels/ecg/7", http.StatusNotFound},
		{"/api/channels/eeg/1", http.StatusNotFound},
		{"/api/channels/ecg/x", http.StatusBadRequest},
		{"/api/images/1", http.StatusNotFound},
		{"/api/audio", http.StatusNotFound},
	}
	for _, test := range tests {
		if code := env.do(t, http.MethodGet, test.path, "", nil); code != test.code {
			t.Errorf("%s: got status %d want %d", test.path, code, test.code)
		}
	}
}

func TestRecordingThroughAPI(t *testing.T) {
	env := newTestEnv(t)

	var res models.CommandResult
	if code := env.do(t, http.MethodPost, "/api/recording/start", `{"patientName":"Ana","patientId":"X1"}`, &res); code != http.StatusBadRequest {
		t.Errorf("expected rejection while stopped, got %d %+v", code, res)
	}
	if code := env.do(t, http.MethodPost, "/api/streaming/start", "", &res); code != http.StatusOK || !res.OK {
		t.Fatalf("unexpected streaming result: %d %+v", code, res)
	}
	if code := env.do(t, http.MethodPost, "/api/recording/start", `{"patientName":"Ana","patientId":"X1"}`, &res); code != http.StatusOK {
		t.Fatalf("unexpected start result: %d %+v", code, res)
	}
	env.mon.HandleECG(1, []int{1, 2, 3, 4})

	var status models.RecordingStatus
	env.do(t, http.MethodGet, "/api/recording", "", &status)
	if !status.Recording || status.Samples != 4 || status.PatientName != "Ana" {
		t.Errorf("unexpected status: %+v", status)
	}

	if code := env.do(t, http.MethodPost, "/api/recording/stop", "", &res); code != http.StatusOK {
		t.Fatalf("unexpected stop result: %d %+v", code, res)
	}
	var entries []models.RecordingLedgerEntry
	env.do(t, http.MethodGet, "/api/recordings?limit=5", "", &entries)
	if len(entries) != 1 || entries[0].Status != "exported" || entries[0].SampleCount != 4 {
		t.Errorf("unexpected ledger: %+v", entries)
	}
	if code := env.do(t, http.MethodGet, "/api/recordings?limit=x", "", nil); code != http.StatusBadRequest {
		t.Errorf("expected bad limit rejection, got %d", code)
	}
}

func TestCommandsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	var res models.CommandResult
	if code := env.do(t, http.MethodPost, "/api/commands", `{"command":"toggle_auto_range","channel":"spo2"}`, &res); code != http.StatusOK {
		t.Fatalf("unexpected status %d %+v", code, res)
	}
	snap, _ := env.mon.ChannelSnapshot(models.ChannelSpO2, 0)
	if snap.AutoRange {
		t.Errorf("auto-range not toggled")
	}
	if code := env.do(t, http.MethodPost, "/api/commands", `{"command":"reboot"}`, &res); code != http.StatusBadRequest || res.OK {
		t.Errorf("unexpected result for unknown command: %d %+v", code, res)
	}
	if code := env.do(t, http.MethodPost, "/api/commands", `{`, nil); code != http.StatusBadRequest {
		t.Errorf("expected bad request for malformed body, got %d", code)
	}
	if code := env.do(t, http.MethodPost, "/api/channels/ecg/1/auto-range", "", &res); code != http.StatusOK || !res.OK {
		t.Errorf("unexpected toggle result: %d %+v", code, res)
	}
	if code := env.do(t, http.MethodPost, "/api/patients/clear", "", &res); code != http.StatusOK || !res.OK {
		t.Errorf("unexpected clear result: %d %+v", code, res)
	}
}

func TestFilterStageEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.mon.HandleECG(1, []int{1})

	var res models.CommandResult
	if code := env.do(t, http.MethodPost, "/api/channels/ecg/1/filters/low-pass", "", &res); code != http.StatusOK || !res.OK {
		t.Fatalf("unexpected toggle result: %d %+v", code, res)
	}
	snap, _ := env.mon.ChannelSnapshot(models.ChannelECG, 1)
	if !snap.Filters["low-pass"] {
		t.Errorf("low-pass not enabled: %+v", snap.Filters)
	}
	if code := env.do(t, http.MethodPost, "/api/channels/ecg/1/filters/lowpass?enabled=false", "", &res); code != http.StatusOK || !res.OK {
		t.Fatalf("unexpected set result: %d %+v", code, res)
	}
	snap, _ = env.mon.ChannelSnapshot(models.ChannelECG, 1)
	if snap.Filters["low-pass"] {
		t.Errorf("low-pass still enabled")
	}

	tests := []struct {
		path string
		code int
	}{
		{"/api/channels/ecg/1/filters/notch", http.StatusBadRequest},
		{"/api/channels/ecg/1/filters/band-stop", http.StatusBadRequest},
		{"/api/channels/ecg/1/filters/low-pass?enabled=maybe", http.StatusBadRequest},
		{"/api/channels/ecg/7/filters/low-pass", http.StatusBadRequest},
		{"/api/channels/spo2/0/filters/low-pass", http.StatusNotFound},
	}
	for _, test := range tests {
		if code := env.do(t, http.MethodPost, test.path, "", nil); code != test.code {
			t.Errorf("%s: got status %d want %d", test.path, code, test.code)
		}
	}
}

func TestImageEndpoint(t *testing.T) {
	env := newTestEnv(t)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	env.mon.HandleImage(4, png)

	resp, err := http.Get(env.srv.URL + "/api/images/4")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("unexpected response: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func TestWebSocketStream(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	conn, _, err := gwebsocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "snapshot" {
		t.Fatalf("expected snapshot first, got %q %v", msg.Type, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for env.hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.mon.HandleECG(1, []int{5, 6})
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	var batch models.ECGSamples
	if err := json.Unmarshal(msg.Payload, &batch); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "ecg_samples" || batch.DeviceID != 1 || len(batch.Samples) != 2 {
		t.Errorf("unexpected event %s: %+v", msg.Type, batch)
	}

	if code := env.do(t, http.MethodGet, "/healthz", "", nil); code != http.StatusOK {
		t.Errorf("unexpected health status %d", code)
	}
	if code := env.do(t, http.MethodGet, "/metrics", "", nil); code != http.StatusOK {
		t.Errorf("unexpected metrics status %d", code)
	}
}
