package handler

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"telemetry-hub/internal/metrics"
	"telemetry-hub/internal/models"
	"telemetry-hub/internal/protocol"
)

// readSize is the largest chunk read from a waveform stream at once.
const readSize = 4096

// Sink receives decoded device payloads.
type Sink interface {
	HandleECG(deviceID uint32, samples []int)
	HandleSpO2(samples []int)
	HandleImage(deviceID uint32, data []byte)
	HandlePatient(rec models.PatientRecord)
	HandleAudio(data []byte)
}

// Runner reports whether the server is still accepting work.
type Runner interface {
	IsRunning() bool
}

type DeviceOptions struct {
	// ReadTimeout bounds each read so a silent device notices shutdown.
	// Zero waits indefinitely.
	ReadTimeout  time.Duration
	MaxFrame     uint32
	SamplingRate int
}

// Devices serves device connections: it reads the type tag and runs the
// receive loop of that device type until the peer is done.
type Devices struct {
	sink Sink
	life Runner
	opts DeviceOptions
}

func NewDevices(sink Sink, life Runner, opts DeviceOptions) *Devices {
	if opts.MaxFrame == 0 {
		opts.MaxFrame = protocol.DefaultMaxFrame
	}
	return &Devices{sink: sink, life: life, opts: opts}
}

type receiver func(d *Devices, conn net.Conn) error

// receivers is indexed by device type; every known type has an entry.
var receivers = [...]receiver{
	models.DeviceUnknown:     nil,
	models.DeviceECG:         (*Devices).receiveECG,
	models.DeviceSpO2:        (*Devices).receiveSpO2,
	models.DeviceImage:       (*Devices).receiveImage,
	models.DevicePatient:     (*Devices).receivePatient,
	models.DeviceStethoscope: (*Devices).receiveAudio,
}

// Serve owns conn until the device is done and closes it. Errors are
// logged and never propagated.
func (d *Devices) Serve(conn net.Conn) {
	defer conn.Close()
	addr := conn.RemoteAddr()

	d.deadline(conn)
	typ, err := protocol.ReadTag(conn)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues(models.DeviceUnknown.String()).Inc()
		log.Printf("[%s] Abandoning connection: %v", addr, err)
		return
	}
	recv := receivers[typ]
	if recv == nil {
		log.Printf("[%s] No receiver for device type %s", addr, typ)
		return
	}

	label := typ.String()
	metrics.Connections.WithLabelValues(label).Inc()
	metrics.ActiveConnections.WithLabelValues(label).Inc()
	defer metrics.ActiveConnections.WithLabelValues(label).Dec()

	log.Printf("[%s] %s device connected", addr, label)
	if err := recv(d, conn); err != nil {
		if isDecodeError(err) {
			metrics.DecodeErrors.WithLabelValues(label).Inc()
		}
		log.Printf("[%s] %s connection ended: %v", addr, label, err)
		return
	}
	log.Printf("[%s] %s device disconnected", addr, label)
}

func isDecodeError(err error) bool {
	return errors.Is(err, protocol.ErrShortRead) ||
		errors.Is(err, protocol.ErrMalformedPatient) ||
		errors.Is(err, protocol.ErrFrameTooLarge)
}

func (d *Devices) running() bool { return d.life == nil || d.life.IsRunning() }

func (d *Devices) deadline(conn net.Conn) {
	if d.opts.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(d.opts.ReadTimeout))
	}
}

func (d *Devices) receiveECG(conn net.Conn) error {
	d.deadline(conn)
	hdr, err := protocol.ReadECGHeader(conn)
	if err != nil {
		return err
	}
	if d.opts.SamplingRate > 0 && int(hdr.SamplingRate) != d.opts.SamplingRate {
		log.Printf("[%s] ECG %d announces %d Hz, processing at %d Hz",
			conn.RemoteAddr(), hdr.DeviceID, hdr.SamplingRate, d.opts.SamplingRate)
	}
	return d.stream(conn, func(data []byte) {
		if samples := protocol.DecodeInt16LE(nil, data); len(samples) > 0 {
			d.sink.HandleECG(hdr.DeviceID, samples)
		}
	})
}

func (d *Devices) receiveSpO2(conn net.Conn) error {
	return d.stream(conn, func(data []byte) {
		if samples := protocol.DecodeUint16LE(nil, data); len(samples) > 0 {
			d.sink.HandleSpO2(samples)
		}
	})
}

// stream reads chunks until the peer closes or the server stops. Each
// chunk is decoded on its own; a trailing odd byte is not carried over.
func (d *Devices) stream(conn net.Conn, batch func([]byte)) error {
	buf := make([]byte, readSize)
	for d.running() {
		d.deadline(conn)
		n, err := conn.Read(buf)
		if n > 0 {
			batch(buf[:n])
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, os.ErrDeadlineExceeded):
			// Silent device; loop to check for shutdown.
		default:
			return err
		}
	}
	return nil
}

func (d *Devices) receiveImage(conn net.Conn) error {
	d.deadline(conn)
	id, payload, err := protocol.ReadImage(conn, d.opts.MaxFrame)
	if err != nil {
		return fmt.Errorf("image transfer discarded: %w", err)
	}
	log.Printf("[%s] Image from device %d: %d bytes", conn.RemoteAddr(), id, len(payload))
	d.sink.HandleImage(id, payload)
	return nil
}

func (d *Devices) receivePatient(conn net.Conn) error {
	d.deadline(conn)
	rec, err := protocol.ReadPatient(conn)
	if err != nil {
		return fmt.Errorf("patient record discarded: %w", err)
	}
	log.Printf("[%s] Patient record for device %d", conn.RemoteAddr(), rec.DeviceID)
	d.sink.HandlePatient(rec)
	return nil
}

func (d *Devices) receiveAudio(conn net.Conn) error {
	d.deadline(conn)
	payload, err := protocol.ReadFrame(conn, d.opts.MaxFrame)
	if err != nil {
		return fmt.Errorf("audio transfer discarded: %w", err)
	}
	log.Printf("[%s] Stethoscope clip: %d bytes", conn.RemoteAddr(), len(payload))
	d.sink.HandleAudio(payload)
	return nil
}
