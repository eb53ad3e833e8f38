package handler

import (
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"telemetry-hub/internal/models"
	"telemetry-hub/internal/protocol"
)

type recordingSink struct {
	mu       sync.Mutex
	ecg      [][]int
	ecgIDs   []uint32
	spo2     [][]int
	images   map[uint32][]byte
	patients []models.PatientRecord
	audio    [][]byte
}

func (s *recordingSink) HandleECG(id uint32, samples []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ecgIDs = append(s.ecgIDs, id)
	s.ecg = append(s.ecg, samples)
}

func (s *recordingSink) HandleSpO2(samples []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spo2 = append(s.spo2, samples)
}

func (s *recordingSink) HandleImage(id uint32, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.images == nil {
		s.images = make(map[uint32][]byte)
	}
	s.images[id] = data
}

func (s *recordingSink) HandlePatient(rec models.PatientRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients = append(s.patients, rec)
}

func (s *recordingSink) HandleAudio(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, data)
}

type runFlag struct{ atomic.Bool }

func (r *runFlag) IsRunning() bool { return r.Load() }

func running() *runFlag {
	r := &runFlag{}
	r.Store(true)
	return r
}

// serve runs Devices.Serve on one end of a pipe and returns the other
// end with a channel closed when Serve returns.
func serve(t *testing.T, d *Devices) (net.Conn, <-chan struct{}) {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		d.Serve(server)
		close(done)
	}()
	t.Cleanup(func() { client.Close() })
	return client, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return")
	}
}

func TestECGOddByteDropped(t *testing.T) {
	sink := &recordingSink{}
	conn, done := serve(t, NewDevices(sink, running(), DeviceOptions{}))

	hdr, _ := protocol.ECGHeader{DeviceID: 2, Tag: protocol.Tag(models.DeviceECG), SamplingRate: 250, Channels: 1}.MarshalBinary()
	conn.Write([]byte("ECG "))
	conn.Write(hdr)
	conn.Write([]byte{0x01, 0x00, 0xff, 0xff, 0x7f})
	conn.Write([]byte{0x00, 0x80})
	conn.Close()
	waitDone(t, done)

	want := [][]int{{1, -1}, {-32768}}
	if !reflect.DeepEqual(sink.ecg, want) {
		t.Errorf("unexpected batches: got %v want %v", sink.ecg, want)
	}
	if !reflect.DeepEqual(sink.ecgIDs, []uint32{2, 2}) {
		t.Errorf("unexpected device ids: %v", sink.ecgIDs)
	}
}

func TestSpO2Unsigned(t *testing.T) {
	sink := &recordingSink{}
	conn, done := serve(t, NewDevices(sink, nil, DeviceOptions{}))
	conn.Write([]byte("SPO2"))
	conn.Write([]byte{0x61, 0x00, 0xff, 0xff})
	conn.Close()
	waitDone(t, done)
	if want := [][]int{{97, 65535}}; !reflect.DeepEqual(sink.spo2, want) {
		t.Errorf("unexpected batches: got %v want %v", sink.spo2, want)
	}
}

func TestStreamStopsWhenNotRunning(t *testing.T) {
	sink := &recordingSink{}
	life := running()
	d := NewDevices(sink, life, DeviceOptions{ReadTimeout: 20 * time.Millisecond})
	conn, done := serve(t, d)
	conn.Write([]byte("SPO2"))
	conn.Write([]byte{0x61, 0x00})

	life.Store(false)
	waitDone(t, done)
	if len(sink.spo2) != 1 {
		t.Errorf("unexpected batches: %v", sink.spo2)
	}
}

func TestUnknownTagClosed(t *testing.T) {
	sink := &recordingSink{}
	conn, done := serve(t, NewDevices(sink, nil, DeviceOptions{}))
	conn.Write([]byte("ABCD"))
	waitDone(t, done)
	if _, err := conn.Write([]byte{0}); err == nil {
		t.Errorf("expected closed pipe")
	}
}

func TestPatientMalformedDiscarded(t *testing.T) {
	sink := &recordingSink{}
	conn, done := serve(t, NewDevices(sink, nil, DeviceOptions{}))
	conn.Write([]byte("PAT "))
	conn.Write([]byte("1|Ana|Ruiz"))
	conn.Close()
	waitDone(t, done)
	if len(sink.patients) != 0 {
		t.Errorf("malformed patient forwarded: %+v", sink.patients)
	}
}

func TestPatientAppliedWhilePeerConnected(t *testing.T) {
	sink := &recordingSink{}
	conn, done := serve(t, NewDevices(sink, nil, DeviceOptions{}))
	conn.Write([]byte("PAT "))
	conn.Write([]byte("1|Ana|Maria|Lopez|Diaz|CURP123|01/01/2024"))
	waitDone(t, done)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	want := []models.PatientRecord{{
		DeviceID:        1,
		FirstName:       "Ana",
		SecondName:      "Maria",
		PaternalSurname: "Lopez",
		MaternalSurname: "Diaz",
		NationalID:      "CURP123",
		Date:            "01/01/2024",
	}}
	if !reflect.DeepEqual(sink.patients, want) {
		t.Errorf("unexpected patients: got %+v want %+v", sink.patients, want)
	}
}

func TestImageTooLarge(t *testing.T) {
	sink := &recordingSink{}
	conn, done := serve(t, NewDevices(sink, nil, DeviceOptions{MaxFrame: 4}))
	conn.Write([]byte("IMG "))
	conn.Write(protocol.AppendImage(nil, 1, []byte("12345"))[:8])
	waitDone(t, done)
	if len(sink.images) != 0 {
		t.Errorf("oversized image forwarded")
	}
}
