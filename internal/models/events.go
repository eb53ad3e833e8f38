package models

import "time"

// Event is a notification from the processing core to the presentation
// layer and any other subscriber.
type Event interface {
	EventType() string
}

// ECGSamples is one decoded batch from an ECG device.
type ECGSamples struct {
	DeviceID uint32 `json:"deviceId"`
	Samples  []int  `json:"samples"`
	Shifted  bool   `json:"shifted,omitempty"`
}

// SpO2Samples is one decoded batch from the SpO2 device.
type SpO2Samples struct {
	Samples []int   `json:"samples"`
	Value   float64 `json:"value"`
	Shifted bool    `json:"shifted,omitempty"`
}

// ImageReceived carries a complete snapshot image.
type ImageReceived struct {
	DeviceID uint32    `json:"deviceId"`
	Data     []byte    `json:"data"`
	At       time.Time `json:"at"`
}

// PatientUpdated carries a replaced patient record.
type PatientUpdated struct {
	Record PatientRecord `json:"record"`
}

// AudioReceived carries a complete stethoscope clip.
type AudioReceived struct {
	Data []byte    `json:"data"`
	At   time.Time `json:"at"`
}

// RangeChanged is emitted when the auto-range controller commits new bounds.
type RangeChanged struct {
	Kind     ChannelKind `json:"kind"`
	DeviceID uint32      `json:"deviceId"`
	Range    Range       `json:"range"`
}

// HeartRate is emitted after each processed ECG batch.
type HeartRate struct {
	DeviceID uint32  `json:"deviceId"`
	BPM      float64 `json:"bpm"`
	Valid    bool    `json:"valid"`
}

// RecordingChanged is emitted on every recording state transition.
type RecordingChanged struct {
	Status RecordingStatus `json:"status"`
}

func (ECGSamples) EventType() string       { return "ecg_samples" }
func (SpO2Samples) EventType() string      { return "spo2_samples" }
func (ImageReceived) EventType() string    { return "image_received" }
func (PatientUpdated) EventType() string   { return "patient_updated" }
func (AudioReceived) EventType() string    { return "audio_received" }
func (RangeChanged) EventType() string     { return "range_changed" }
func (HeartRate) EventType() string        { return "heart_rate" }
func (RecordingChanged) EventType() string { return "recording_changed" }

// Envelope is the wire form of an Event for JSON sinks.
type Envelope struct {
	Type    string `json:"type"`
	Payload Event  `json:"payload"`
}

// Wrap builds the JSON envelope for e.
func Wrap(e Event) Envelope {
	return Envelope{Type: e.EventType(), Payload: e}
}
