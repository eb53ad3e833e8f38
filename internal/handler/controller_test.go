package handler

import (
	"encoding/json"
	"strings"
	"testing"

	"telemetry-hub/internal/dsp"
	"telemetry-hub/internal/models"
	"telemetry-hub/internal/monitor"
)

func newController(t *testing.T) (*Controller, *monitor.Monitor) {
	t.Helper()
	m := monitor.New(monitor.Options{
		DeviceIDs:         []uint32{1},
		SamplingRate:      250,
		Filters:           dsp.ChainConfig{HighPassHz: 0.5},
		RecordingDeviceID: 1,
		ExportDir:         t.TempDir(),
	}, nil)
	return NewController(m), m
}

func TestControllerRecordingFlow(t *testing.T) {
	ctrl, m := newController(t)

	res := ctrl.Execute(models.Command{Name: models.CmdStartRecording, PatientName: "Ana", PatientID: "X1"})
	if res.OK || !strings.Contains(res.Error, "streaming") {
		t.Errorf("expected rejection while stopped, got %+v", res)
	}

	res = ctrl.Execute(models.Command{Name: models.CmdStreaming, Action: "start"})
	if !res.OK || m.Streaming() != models.StreamingRunning {
		t.Fatalf("unexpected streaming result: %+v", res)
	}
	res = ctrl.Execute(models.Command{Name: models.CmdStartRecording, PatientID: "X1"})
	if res.OK || res.Error != monitor.ErrPatientNameRequired.Error() {
		t.Errorf("expected name validation error, got %+v", res)
	}
	res = ctrl.Execute(models.Command{Name: models.CmdStartRecording, PatientName: "Ana", PatientID: "X1"})
	if !res.OK {
		t.Fatalf("unexpected start failure: %+v", res)
	}
	m.HandleECG(1, []int{1, 2, 3})

	res = ctrl.Execute(models.Command{Name: models.CmdStopRecording})
	if !res.OK {
		t.Fatalf("unexpected stop failure: %+v", res)
	}
	if path := res.Detail.(map[string]string)["path"]; !strings.HasSuffix(path, ".csv") {
		t.Errorf("unexpected export path: %q", path)
	}
}

func TestControllerCommands(t *testing.T) {
	ctrl, m := newController(t)

	res := ctrl.Execute(models.Command{Name: models.CmdToggleAutoRange, DeviceID: 1})
	if !res.OK || res.Detail.(map[string]bool)["autoRange"] {
		t.Errorf("unexpected toggle result: %+v", res)
	}
	res = ctrl.Execute(models.Command{Name: models.CmdToggleAutoRange, Channel: models.ChannelECG, DeviceID: 9})
	if res.OK {
		t.Errorf("expected unknown channel rejection")
	}

	res = ctrl.Execute(models.Command{Name: models.CmdToggleFilter, DeviceID: 1, Stage: "high_pass"})
	if !res.OK || !res.Detail.(map[string]bool)["high-pass"] {
		t.Errorf("unexpected filter toggle result: %+v", res)
	}
	off := false
	res = ctrl.Execute(models.Command{Name: models.CmdToggleFilter, DeviceID: 1, Stage: "high-pass", Enabled: &off})
	if !res.OK || res.Detail.(map[string]bool)["high-pass"] {
		t.Errorf("unexpected filter set result: %+v", res)
	}
	if snap, _ := m.ChannelSnapshot(models.ChannelECG, 1); snap.Filters["high-pass"] {
		t.Errorf("high-pass left enabled: %v", snap.Filters)
	}
	for _, cmd := range []models.Command{
		{Name: models.CmdToggleFilter, DeviceID: 1, Stage: "band-stop"},
		{Name: models.CmdToggleFilter, DeviceID: 1, Stage: "notch"},
		{Name: models.CmdToggleFilter, DeviceID: 9, Stage: "high-pass"},
	} {
		if res := ctrl.Execute(cmd); res.OK {
			t.Errorf("expected rejection for %+v", cmd)
		}
	}

	m.HandlePatient(models.PatientRecord{DeviceID: 1, FirstName: "Ana"})
	if res := ctrl.Execute(models.Command{Name: models.CmdClearPatients}); !res.OK {
		t.Errorf("unexpected clear result: %+v", res)
	}
	if !m.Patients()[0].Empty() {
		t.Errorf("patients not cleared")
	}

	ctrl.Execute(models.Command{Name: models.CmdStreaming, Action: "start"})
	ctrl.Execute(models.Command{Name: models.CmdStreaming, Action: "pause"})
	if m.Streaming() != models.StreamingPaused {
		t.Errorf("expected paused, got %s", m.Streaming())
	}
	ctrl.Execute(models.Command{Name: models.CmdStreaming, Action: "stop"})
	if m.Streaming() != models.StreamingStopped {
		t.Errorf("expected stopped, got %s", m.Streaming())
	}

	for _, cmd := range []models.Command{
		{Name: "reboot"},
		{Name: models.CmdStreaming, Action: "rewind"},
	} {
		if res := ctrl.Execute(cmd); res.OK || !strings.Contains(res.Error, ErrUnknownCommand.Error()) {
			t.Errorf("expected unknown command for %+v, got %+v", cmd, res)
		}
	}
}

func TestControlTopics(t *testing.T) {
	topics := controlTopics{prefix: "telemetry"}
	tests := []struct {
		topic   string
		payload string
		want    models.Command
		err     bool
	}{
		{
			topic: "telemetry/control/clear_patients",
			want:  models.Command{Name: models.CmdClearPatients},
		},
		{
			topic:   "telemetry/control/start_recording",
			payload: `{"command":"ignored","patientName":"Ana","patientId":"X1","deviceId":2}`,
			want:    models.Command{Name: models.CmdStartRecording, PatientName: "Ana", PatientID: "X1", DeviceID: 2},
		},
		{
			topic:   "telemetry/control/streaming",
			payload: `{"action":"pause"}`,
			want:    models.Command{Name: models.CmdStreaming, Action: "pause"},
		},
		{topic: "telemetry/control/", err: true},
		{topic: "other/control/streaming", err: true},
		{topic: "telemetry/control/streaming", payload: "{", err: true},
	}
	for _, test := range tests {
		got, err := topics.parse(test.topic, []byte(test.payload))
		if (err != nil) != test.err {
			t.Errorf("%s: unexpected error: %v", test.topic, err)
			continue
		}
		if !test.err && got != test.want {
			t.Errorf("%s: got %+v want %+v", test.topic, got, test.want)
		}
	}
	if topics.commands() != "telemetry/control/+" || topics.result() != "telemetry/control/result" {
		t.Errorf("unexpected topics: %s %s", topics.commands(), topics.result())
	}
}

func TestEventMessage(t *testing.T) {
	msg, err := eventMessage("events", models.HeartRate{DeviceID: 2, BPM: 72, Valid: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *msg.TopicPartition.Topic != "events" || string(msg.Key) != "2" {
		t.Errorf("unexpected routing: topic=%s key=%s", *msg.TopicPartition.Topic, msg.Key)
	}
	var env struct {
		Type    string `json:"type"`
		Payload struct {
			DeviceID uint32  `json:"deviceId"`
			BPM      float64 `json:"bpm"`
			Valid    bool    `json:"valid"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if env.Type != "heart_rate" || env.Payload.BPM != 72 || !env.Payload.Valid {
		t.Errorf("unexpected envelope: %+v", env)
	}

	msg, err = eventMessage("events", models.ImageReceived{DeviceID: 1, Data: []byte("x")})
	if msg != nil || err != nil {
		t.Errorf("image events should not be exported: %v %v", msg, err)
	}
}
