package sim

import (
	"context"
	"io"
	"math"
	"net"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"telemetry-hub/internal/dsp"
	"telemetry-hub/internal/models"
	"telemetry-hub/internal/protocol"
)

func TestECGHeartRate(t *testing.T) {
	for _, bpm := range []float64{60, 72, 110} {
		gen := NewECG(250, bpm, 0, 1000)
		window := make([]float64, 750)
		// zero samples read as unwritten, so shift the trace off zero
		for i, v := range gen.Batch(len(window)) {
			window[i] = float64(v) + 5000
		}
		got, ok := dsp.EstimateBPM(window, 250)
		if !ok || math.Abs(got-bpm) > 2 {
			t.Errorf("bpm %v: estimated %v (ok=%t)", bpm, got, ok)
		}
	}
}

func TestSpO2Bounded(t *testing.T) {
	gen := NewSpO2(250, 99.5)
	for _, v := range gen.Batch(250 * 40) {
		if v < 97 || v > 100 {
			t.Fatalf("value %d out of range", v)
		}
	}
}

func TestRandomPatientRoundTrip(t *testing.T) {
	rec := RandomPatient(gofakeit.New(7), 3)
	if rec.DeviceID != 3 || rec.FirstName == "" || len(rec.NationalID) != 18 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	got, err := protocol.ParsePatient(protocol.FormatPatient(rec))
	if err != nil || got != rec {
		t.Errorf("round trip: got %+v err %v", got, err)
	}
}

func TestStreamECGWireFormat(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- StreamECG(ctx, ln.Addr().String(), 9, 250, 25, NewECG(250, 60, 0, 1000)) }()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	typ, err := protocol.ReadTag(conn)
	if err != nil || typ != models.DeviceECG {
		t.Fatalf("unexpected tag %v: %v", typ, err)
	}
	hdr, err := protocol.ReadECGHeader(conn)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.DeviceID != 9 || hdr.SamplingRate != 250 || hdr.Channels != 1 {
		t.Errorf("unexpected header: %+v", hdr)
	}
	batch := make([]byte, 50)
	if _, err := io.ReadFull(conn, batch); err != nil {
		t.Fatalf("reading samples: %v", err)
	}
	if samples := protocol.DecodeInt16LE(nil, batch); len(samples) != 25 {
		t.Errorf("unexpected batch size %d", len(samples))
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("stream returned %v", err)
	}
}
