// Package monitor holds the live processing state fed by device
// connections: per-device ECG channels, the SpO2 channel, patient records,
// the latest image and stethoscope clip, the streaming lifecycle and the
// recording session.
package monitor

import (
	"cmp"
	"errors"
	"fmt"
	"log"
	"slices"
	"strconv"
	"sync"
	"time"

	"telemetry-hub/internal/dsp"
	"telemetry-hub/internal/metrics"
	"telemetry-hub/internal/models"
	"telemetry-hub/internal/protocol"
	"telemetry-hub/internal/ring"
)

var ErrUnknownChannel = errors.New("unknown channel")

type Options struct {
	DeviceIDs      []uint32
	SamplingRate   int
	DisplaySeconds int
	WindowSeconds  int
	Filters        dsp.ChainConfig

	RecordingDeviceID   uint32
	MaxRecordingSamples int
	ExportDir           string
	Ledger              Ledger
}

type image struct {
	data []byte
	at   time.Time
}

type Monitor struct {
	opts Options
	bus  *Bus
	rec  *Recorder

	channelsMu sync.RWMutex
	ecg        map[uint32]*Channel
	spo2       *Channel

	patientsMu sync.RWMutex
	patients   map[uint32]models.PatientRecord

	mediaMu sync.RWMutex
	images  map[uint32]image
	audio   []int16
	audioAt time.Time

	stateMu sync.RWMutex
	state   models.StreamingState
}

func New(opts Options, bus *Bus) *Monitor {
	if opts.SamplingRate <= 0 {
		opts.SamplingRate = 250
	}
	if opts.DisplaySeconds <= 0 {
		opts.DisplaySeconds = 10
	}
	if opts.WindowSeconds <= 0 {
		opts.WindowSeconds = 3
	}
	if bus == nil {
		bus = NewBus()
	}
	m := &Monitor{
		opts:     opts,
		bus:      bus,
		rec:      NewRecorder(opts.ExportDir, opts.MaxRecordingSamples, opts.Ledger),
		ecg:      make(map[uint32]*Channel),
		patients: make(map[uint32]models.PatientRecord),
		images:   make(map[uint32]image),
		state:    models.StreamingStopped,
	}
	m.spo2 = newChannel(models.ChannelSpO2, 0, opts.SamplingRate, opts.DisplaySeconds, opts.WindowSeconds, SpO2Range)
	for _, id := range opts.DeviceIDs {
		m.ecgChannel(id)
		m.patients[id] = models.PatientRecord{DeviceID: id}
	}
	return m
}

func (m *Monitor) Bus() *Bus { return m.bus }

// ecgChannel returns the channel for id, creating it on first use.
func (m *Monitor) ecgChannel(id uint32) *Channel {
	m.channelsMu.RLock()
	ch, ok := m.ecg[id]
	m.channelsMu.RUnlock()
	if ok {
		return ch
	}

	m.channelsMu.Lock()
	defer m.channelsMu.Unlock()
	if ch, ok := m.ecg[id]; ok {
		return ch
	}
	ch = newChannel(models.ChannelECG, id, m.opts.SamplingRate, m.opts.DisplaySeconds, m.opts.WindowSeconds, ECGRange)
	chain, err := dsp.NewChain(m.opts.Filters, float64(m.opts.SamplingRate))
	if err != nil {
		log.Printf("ECG %d: some filter stages were skipped: %v", id, err)
	}
	ch.chain = chain
	ch.filtered = ring.NewWindow[float64](ch.recent.Size())
	m.ecg[id] = ch
	return ch
}

func (m *Monitor) ecgChannels() []*Channel {
	m.channelsMu.RLock()
	defer m.channelsMu.RUnlock()
	out := make([]*Channel, 0, len(m.ecg))
	for _, ch := range m.ecg {
		out = append(out, ch)
	}
	slices.SortFunc(out, func(a, b *Channel) int { return cmp.Compare(a.deviceID, b.deviceID) })
	return out
}

func (m *Monitor) channel(kind models.ChannelKind, id uint32) (*Channel, error) {
	switch kind {
	case models.ChannelSpO2:
		return m.spo2, nil
	case models.ChannelECG:
		m.channelsMu.RLock()
		defer m.channelsMu.RUnlock()
		if ch, ok := m.ecg[id]; ok {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %d", ErrUnknownChannel, kind, id)
}

// HandleECG processes one decoded batch from ECG device id. The samples
// slice is retained and must not be reused by the caller.
func (m *Monitor) HandleECG(id uint32, samples []int) {
	if len(samples) == 0 {
		return
	}
	ch := m.ecgChannel(id)
	// Holding the state lock across the write keeps a concurrent stop from
	// interleaving with a filtered batch.
	m.stateMu.RLock()
	running := m.state == models.StreamingRunning
	res := ch.writeECG(samples, running)
	m.stateMu.RUnlock()
	metrics.Samples.WithLabelValues(string(models.ChannelECG)).Add(float64(len(samples)))

	m.bus.Publish(models.ECGSamples{DeviceID: id, Samples: samples, Shifted: res.shifted})
	if !running {
		return
	}
	if res.resets > 0 {
		metrics.FilterResets.Add(float64(res.resets))
		log.Printf("ECG %d: filter diverged %d time(s), state cleared", id, res.resets)
	}
	label := strconv.FormatUint(uint64(id), 10)
	if res.hasBPM {
		metrics.HeartRate.WithLabelValues(label).Set(res.bpm)
	} else {
		metrics.HeartRate.WithLabelValues(label).Set(0)
	}
	m.bus.Publish(models.HeartRate{DeviceID: id, BPM: res.bpm, Valid: res.hasBPM})

	if m.rec.Append(id, res.raw, res.filtered) {
		log.Printf("Recording reached %d samples, stopping", m.opts.MaxRecordingSamples)
		if _, err := m.StopRecording(); err != nil {
			log.Printf("ERROR auto-stopping recording: %v", err)
		}
	}
}

// HandleSpO2 processes one decoded SpO2 batch.
func (m *Monitor) HandleSpO2(samples []int) {
	if len(samples) == 0 {
		return
	}
	shifted, value := m.spo2.writeSpO2(samples)
	metrics.Samples.WithLabelValues(string(models.ChannelSpO2)).Add(float64(len(samples)))
	m.bus.Publish(models.SpO2Samples{Samples: samples, Value: value, Shifted: shifted})
}

// HandleImage replaces the last image held for id.
func (m *Monitor) HandleImage(id uint32, data []byte) {
	now := time.Now()
	m.mediaMu.Lock()
	m.images[id] = image{data: data, at: now}
	m.mediaMu.Unlock()
	m.bus.Publish(models.ImageReceived{DeviceID: id, Data: data, At: now})
}

// HandlePatient replaces the record for rec.DeviceID wholesale.
func (m *Monitor) HandlePatient(rec models.PatientRecord) {
	m.patientsMu.Lock()
	m.patients[rec.DeviceID] = rec
	m.patientsMu.Unlock()
	m.bus.Publish(models.PatientUpdated{Record: rec})
}

// HandleAudio keeps the decoded clip as the latest stethoscope recording.
func (m *Monitor) HandleAudio(data []byte) {
	now := time.Now()
	pcm := protocol.DecodePCM16(data)
	m.mediaMu.Lock()
	m.audio, m.audioAt = pcm, now
	m.mediaMu.Unlock()
	m.bus.Publish(models.AudioReceived{Data: data, At: now})
}

// Image returns the last image received from id.
func (m *Monitor) Image(id uint32) ([]byte, time.Time, bool) {
	m.mediaMu.RLock()
	defer m.mediaMu.RUnlock()
	img, ok := m.images[id]
	return img.data, img.at, ok
}

// Audio returns the latest stethoscope clip as PCM samples.
func (m *Monitor) Audio() ([]int16, time.Time) {
	m.mediaMu.RLock()
	defer m.mediaMu.RUnlock()
	return m.audio, m.audioAt
}

// ClearPatients resets every known patient record to empty fields.
func (m *Monitor) ClearPatients() {
	m.patientsMu.Lock()
	cleared := make([]models.PatientRecord, 0, len(m.patients))
	for id := range m.patients {
		rec := models.PatientRecord{DeviceID: id}
		m.patients[id] = rec
		cleared = append(cleared, rec)
	}
	m.patientsMu.Unlock()
	for _, rec := range cleared {
		m.bus.Publish(models.PatientUpdated{Record: rec})
	}
}

func (m *Monitor) Patients() []models.PatientRecord {
	m.patientsMu.RLock()
	out := make([]models.PatientRecord, 0, len(m.patients))
	for _, rec := range m.patients {
		out = append(out, rec)
	}
	m.patientsMu.RUnlock()
	slices.SortFunc(out, func(a, b models.PatientRecord) int { return cmp.Compare(a.DeviceID, b.DeviceID) })
	return out
}

// ToggleAutoRange flips auto-ranging on a channel and returns the new
// setting. Bounds are frozen while it is off.
func (m *Monitor) ToggleAutoRange(kind models.ChannelKind, id uint32) (bool, error) {
	ch, err := m.channel(kind, id)
	if err != nil {
		return false, err
	}
	on := ch.toggleAutoRange()
	log.Printf("Auto-range for %s %d: %t", kind, id, on)
	return on, nil
}

// SetFilterStage switches one filter stage on the ECG channel of device
// id. Only stages with a configured frequency can be switched.
func (m *Monitor) SetFilterStage(id uint32, stage dsp.Stage, on bool) error {
	_, err := m.switchFilterStage(id, stage, &on)
	return err
}

// ToggleFilterStage flips one filter stage and returns the new setting.
func (m *Monitor) ToggleFilterStage(id uint32, stage dsp.Stage) (bool, error) {
	return m.switchFilterStage(id, stage, nil)
}

func (m *Monitor) switchFilterStage(id uint32, stage dsp.Stage, on *bool) (bool, error) {
	ch, err := m.channel(models.ChannelECG, id)
	if err != nil {
		return false, err
	}
	enabled, err := ch.setFilterStage(stage, on)
	if err != nil {
		return false, err
	}
	log.Printf("ECG %d %s filter: %t", id, stage, enabled)
	return enabled, nil
}

func (m *Monitor) Streaming() models.StreamingState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// StartStreaming resumes a paused pipeline or starts a stopped one with
// cleared filter state.
func (m *Monitor) StartStreaming() {
	m.stateMu.Lock()
	prev := m.state
	if prev == models.StreamingStopped {
		for _, ch := range m.ecgChannels() {
			ch.resetFilter()
		}
	}
	m.state = models.StreamingRunning
	m.stateMu.Unlock()
	log.Printf("Streaming %s -> %s", prev, models.StreamingRunning)
}

// PauseStreaming suspends filtering and recording. It is a no-op unless
// streaming is running.
func (m *Monitor) PauseStreaming() {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.state != models.StreamingRunning {
		return
	}
	m.state = models.StreamingPaused
	log.Printf("Streaming %s -> %s", models.StreamingRunning, models.StreamingPaused)
}

// StopStreaming stops the pipeline, clears filter state and stops any
// recording. The returned error is the recording's export error.
func (m *Monitor) StopStreaming() error {
	m.stateMu.Lock()
	prev := m.state
	m.state = models.StreamingStopped
	for _, ch := range m.ecgChannels() {
		ch.resetFilter()
		if prev != models.StreamingStopped {
			ch.clearTrace()
		}
	}
	m.stateMu.Unlock()
	if prev != models.StreamingStopped {
		log.Printf("Streaming %s -> %s", prev, models.StreamingStopped)
	}
	_, err := m.StopRecording()
	return err
}

// StartRecording opens a recording session for deviceID, or for the
// configured recording device when deviceID is zero.
func (m *Monitor) StartRecording(name, patientID string, deviceID uint32) (models.RecordingStatus, error) {
	if deviceID == 0 {
		deviceID = m.opts.RecordingDeviceID
	}
	// Held across the start so StopStreaming cannot slip in between the
	// state check and the new session.
	m.stateMu.RLock()
	st, err := m.rec.Start(name, patientID, deviceID, m.opts.SamplingRate, m.state == models.StreamingRunning)
	m.stateMu.RUnlock()
	if err != nil {
		return st, err
	}
	m.bus.Publish(models.RecordingChanged{Status: st})
	return st, nil
}

// StopRecording stops and exports the current session. It is a no-op
// when nothing is being recorded.
func (m *Monitor) StopRecording() (string, error) {
	was := m.rec.Status().Recording
	path, err := m.rec.Stop()
	if was {
		m.bus.Publish(models.RecordingChanged{Status: m.rec.Status()})
	}
	return path, err
}

func (m *Monitor) RecordingStatus() models.RecordingStatus { return m.rec.Status() }

// ChannelSnapshot returns a consistent copy of one channel's state.
func (m *Monitor) ChannelSnapshot(kind models.ChannelKind, id uint32) (models.ChannelSnapshot, error) {
	ch, err := m.channel(kind, id)
	if err != nil {
		return models.ChannelSnapshot{}, err
	}
	return ch.snapshot(), nil
}

// Trace returns a channel's display trace starting at the cursor, so the
// sample about to be overwritten comes first.
func (m *Monitor) Trace(kind models.ChannelKind, id uint32) ([]int, error) {
	ch, err := m.channel(kind, id)
	if err != nil {
		return nil, err
	}
	return ch.orderedTrace(), nil
}

// RecentWindow returns a copy of a channel's recent raw window.
func (m *Monitor) RecentWindow(kind models.ChannelKind, id uint32) ([]float64, error) {
	ch, err := m.channel(kind, id)
	if err != nil {
		return nil, err
	}
	return ch.recentValues(), nil
}

// Snapshot returns the state polled by the presentation layer.
func (m *Monitor) Snapshot() models.Snapshot {
	s := models.Snapshot{
		Streaming: m.Streaming(),
		Patients:  m.Patients(),
		Recording: m.rec.Status(),
	}
	for _, ch := range m.ecgChannels() {
		s.Channels = append(s.Channels, ch.snapshot())
	}
	s.Channels = append(s.Channels, m.spo2.snapshot())
	return s
}
