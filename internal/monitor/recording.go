package monitor

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"telemetry-hub/internal/metrics"
	"telemetry-hub/internal/models"
)

var (
	ErrPatientNameRequired = errors.New("patient name is required")
	ErrPatientIDRequired   = errors.New("patient ID is required")
	ErrNotStreaming        = errors.New("streaming must be running to record")
	ErrAlreadyRecording    = errors.New("a recording is already in progress")
)

// ValidationError rejects an operation without changing any state.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// Ledger persists a summary of every finished recording.
type Ledger interface {
	SaveRecording(entry models.RecordingLedgerEntry) error
}

type session struct {
	id        string
	deviceID  uint32
	name      string
	patientID string
	start     time.Time
	rate      int
	samples   []Sample
}

// Recorder accumulates the samples of at most one recording session and
// exports them when the session stops.
type Recorder struct {
	mu         sync.Mutex
	dir        string
	maxSamples int
	ledger     Ledger
	now        func() time.Time

	cur          *session
	lastExport   string
	exportFailed string
}

func NewRecorder(dir string, maxSamples int, ledger Ledger) *Recorder {
	return &Recorder{
		dir:        dir,
		maxSamples: maxSamples,
		ledger:     ledger,
		now:        time.Now,
	}
}

// Start opens a session for deviceID. The patient fields must be
// non-empty and streaming must be running.
func (r *Recorder) Start(name, patientID string, deviceID uint32, rate int, streaming bool) (models.RecordingStatus, error) {
	name, patientID = strings.TrimSpace(name), strings.ToUpper(strings.TrimSpace(patientID))
	switch {
	case name == "":
		return r.Status(), &ValidationError{ErrPatientNameRequired}
	case patientID == "":
		return r.Status(), &ValidationError{ErrPatientIDRequired}
	case !streaming:
		return r.Status(), &ValidationError{ErrNotStreaming}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil {
		return r.statusLocked(), &ValidationError{ErrAlreadyRecording}
	}
	r.cur = &session{
		id:        uuid.NewString(),
		deviceID:  deviceID,
		name:      name,
		patientID: patientID,
		start:     r.now(),
		rate:      rate,
	}
	r.exportFailed = ""
	log.Printf("Recording %s started for device %d, patient %s (%s)", r.cur.id, deviceID, name, patientID)
	return r.statusLocked(), nil
}

// Append adds samples captured on deviceID to the open session. It
// reports whether the session has reached its sample limit.
func (r *Recorder) Append(deviceID uint32, raw []int, filtered []float64) (full bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.cur
	if s == nil || s.deviceID != deviceID {
		return false
	}
	n := min(len(raw), len(filtered))
	if r.maxSamples > 0 {
		n = min(n, r.maxSamples-len(s.samples))
	}
	for i := 0; i < n; i++ {
		s.samples = append(s.samples, Sample{Raw: raw[i], Filtered: filtered[i]})
	}
	return r.maxSamples > 0 && len(s.samples) >= r.maxSamples
}

// Recording reports whether a session is open for deviceID.
func (r *Recorder) Recording(deviceID uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil && r.cur.deviceID == deviceID
}

// Stop closes the open session and exports it if any samples were
// captured. It returns the path written. Stopping with no open session is
// a no-op. The session is discarded whether or not the export succeeds.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	s := r.cur
	r.cur = nil
	r.mu.Unlock()
	if s == nil {
		return "", nil
	}
	end := r.now()
	if len(s.samples) == 0 {
		log.Printf("Recording %s stopped with no samples, nothing exported", s.id)
		r.record(s, end, "", "empty", nil)
		return "", nil
	}

	path, err := r.export(s, end)
	if err != nil {
		log.Printf("ERROR exporting recording %s: %v", s.id, err)
		r.record(s, end, path, "failed", err)
		r.mu.Lock()
		r.exportFailed = err.Error()
		r.mu.Unlock()
		return "", fmt.Errorf("exporting recording %s: %w", s.id, err)
	}
	log.Printf("Recording %s exported to %s (%d samples)", s.id, path, len(s.samples))
	r.record(s, end, path, "exported", nil)
	r.mu.Lock()
	r.lastExport = path
	r.mu.Unlock()
	return path, nil
}

func (r *Recorder) export(s *session, end time.Time) (string, error) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(r.dir, ExportFileName(s.name, s.patientID, s.start))
	f, err := os.Create(path)
	if err != nil {
		return path, err
	}
	err = WriteExport(f, &Export{
		PatientName:  s.name,
		PatientID:    s.patientID,
		Start:        s.start,
		End:          end,
		SamplingRate: s.rate,
		Samples:      s.samples,
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return path, err
}

func (r *Recorder) record(s *session, end time.Time, path, status string, err error) {
	metrics.Recordings.WithLabelValues(status).Inc()
	if r.ledger == nil {
		return
	}
	entry := models.RecordingLedgerEntry{
		SessionID:    s.id,
		DeviceID:     s.deviceID,
		PatientName:  s.name,
		PatientID:    s.patientID,
		StartTime:    s.start,
		EndTime:      end,
		SampleCount:  len(s.samples),
		SamplingRate: s.rate,
		Path:         path,
		Status:       status,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if lerr := r.ledger.SaveRecording(entry); lerr != nil {
		log.Printf("ERROR saving recording %s to ledger: %v", s.id, lerr)
	}
}

func (r *Recorder) Status() models.RecordingStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Recorder) statusLocked() models.RecordingStatus {
	st := models.RecordingStatus{
		LastExport:   r.lastExport,
		ExportFailed: r.exportFailed,
	}
	if s := r.cur; s != nil {
		st.Recording = true
		st.SessionID = s.id
		st.DeviceID = s.deviceID
		st.PatientName = s.name
		st.PatientID = s.patientID
		st.StartedAt = s.start
		st.Samples = len(s.samples)
	}
	return st
}
