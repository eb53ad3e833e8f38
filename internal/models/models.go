package models

import "time"

// DeviceType identifies the sub-protocol spoken on a connection. It is
// fixed by the first four bytes the peer sends.
type DeviceType uint8

const (
	DeviceUnknown DeviceType = iota
	DeviceECG
	DeviceSpO2
	DeviceImage
	DevicePatient
	DeviceStethoscope
)

func (t DeviceType) String() string {
	switch t {
	case DeviceECG:
		return "ECG"
	case DeviceSpO2:
		return "SPO2"
	case DeviceImage:
		return "IMG"
	case DevicePatient:
		return "PAT"
	case DeviceStethoscope:
		return "STET"
	default:
		return "UNKNOWN"
	}
}

// ChannelKind distinguishes the two waveform channel families.
type ChannelKind string

const (
	ChannelECG  ChannelKind = "ecg"
	ChannelSpO2 ChannelKind = "spo2"
)

// PatientRecord is the identity block sent by a PATIENT device.
type PatientRecord struct {
	DeviceID        uint32 `json:"deviceId"`
	FirstName       string `json:"firstName"`
	SecondName      string `json:"secondName"`
	PaternalSurname string `json:"paternalSurname"`
	MaternalSurname string `json:"maternalSurname"`
	NationalID      string `json:"nationalId"`
	Date            string `json:"date"`
}

// Empty reports whether no identity field has been filled in.
func (p PatientRecord) Empty() bool {
	return p.FirstName == "" && p.SecondName == "" && p.PaternalSurname == "" &&
		p.MaternalSurname == "" && p.NationalID == "" && p.Date == ""
}

// Range is a display range for a channel.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// StreamingState is the state of the ECG processing pipeline.
type StreamingState string

const (
	StreamingStopped StreamingState = "stopped"
	StreamingRunning StreamingState = "running"
	StreamingPaused  StreamingState = "paused"
)

// ChannelSnapshot is a consistent copy of a channel's state.
type ChannelSnapshot struct {
	Kind         ChannelKind `json:"kind"`
	DeviceID     uint32      `json:"deviceId"`
	SamplingRate int         `json:"samplingRate"`
	Capacity     int         `json:"capacity"`
	Cursor       int         `json:"cursor"`
	WindowLen    int         `json:"windowLen"`
	Range        Range       `json:"range"`
	AutoRange    bool        `json:"autoRange"`
	Value        float64     `json:"value,omitempty"`
	BPM          float64     `json:"bpm,omitempty"`
	HasBPM       bool        `json:"hasBpm"`
	Filtered     []float64   `json:"filtered,omitempty"`

	// Filters maps each designed ECG filter stage to whether it is active.
	Filters map[string]bool `json:"filters,omitempty"`
}

// RecordingStatus describes the recording session, if any.
type RecordingStatus struct {
	Recording    bool      `json:"recording"`
	SessionID    string    `json:"sessionId,omitempty"`
	DeviceID     uint32    `json:"deviceId,omitempty"`
	PatientName  string    `json:"patientName,omitempty"`
	PatientID    string    `json:"patientId,omitempty"`
	StartedAt    time.Time `json:"startedAt,omitzero"`
	Samples      int       `json:"samples"`
	LastExport   string    `json:"lastExport,omitempty"`
	ExportFailed string    `json:"exportFailed,omitempty"`
}

// Snapshot is what the presentation layer polls.
type Snapshot struct {
	Streaming StreamingState    `json:"streaming"`
	Channels  []ChannelSnapshot `json:"channels"`
	Patients  []PatientRecord   `json:"patients"`
	Recording RecordingStatus   `json:"recording"`
}

// Command is a control request from the presentation layer.
type Command struct {
	Name        string      `json:"command"`
	Channel     ChannelKind `json:"channel,omitempty"`
	DeviceID    uint32      `json:"deviceId,omitempty"`
	PatientName string      `json:"patientName,omitempty"`
	PatientID   string      `json:"patientId,omitempty"`
	Action      string      `json:"action,omitempty"`
	Stage       string      `json:"stage,omitempty"`

	// Enabled sets a filter stage explicitly. When nil the stage is toggled.
	Enabled *bool `json:"enabled,omitempty"`
}

// Command names.
const (
	CmdToggleAutoRange = "toggle_auto_range"
	CmdClearPatients   = "clear_patients"
	CmdStartRecording  = "start_recording"
	CmdStopRecording   = "stop_recording"
	CmdStreaming       = "streaming"
	CmdToggleFilter    = "toggle_filter"
)

// CommandResult is the reply to a Command.
type CommandResult struct {
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Detail  any    `json:"detail,omitempty"`
}

// RecordingLedgerEntry is the persisted summary of one exported recording.
type RecordingLedgerEntry struct {
	SessionID    string
	DeviceID     uint32
	PatientName  string
	PatientID    string
	StartTime    time.Time
	EndTime      time.Time
	SampleCount  int
	SamplingRate int
	Path         string
	Status       string
	Error        string
}
