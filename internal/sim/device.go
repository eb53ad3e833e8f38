package sim

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"telemetry-hub/internal/models"
	"telemetry-hub/internal/protocol"
)

const dialTimeout = 5 * time.Second

func dial(ctx context.Context, addr string, typ models.DeviceType) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s for %s: %w", addr, typ, err)
	}
	tag := protocol.Tag(typ)
	if _, err := conn.Write(tag[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing %s tag: %w", typ, err)
	}
	return conn, nil
}

// pace calls write once per batch period until ctx is done or write
// fails.
func pace(ctx context.Context, fs, batch int, write func() error) error {
	ticker := time.NewTicker(time.Duration(batch) * time.Second / time.Duration(fs))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := write(); err != nil {
				return err
			}
		}
	}
}

// StreamECG connects as ECG device id and sends batch samples from gen at
// the real-time rate fs until ctx is done.
func StreamECG(ctx context.Context, addr string, id uint32, fs, batch int, gen *ECG) error {
	conn, err := dial(ctx, addr, models.DeviceECG)
	if err != nil {
		return err
	}
	defer conn.Close()

	hdr, _ := protocol.ECGHeader{
		DeviceID:     id,
		Tag:          protocol.Tag(models.DeviceECG),
		SamplingRate: uint32(fs),
		Channels:     1,
	}.MarshalBinary()
	if _, err := conn.Write(hdr); err != nil {
		return fmt.Errorf("writing ecg header: %w", err)
	}
	return pace(ctx, fs, batch, func() error {
		_, err := conn.Write(protocol.EncodeInt16LE(gen.Batch(batch)))
		return err
	})
}

// StreamSpO2 connects as the SpO2 device and streams gen until ctx is done.
func StreamSpO2(ctx context.Context, addr string, fs, batch int, gen *SpO2) error {
	conn, err := dial(ctx, addr, models.DeviceSpO2)
	if err != nil {
		return err
	}
	defer conn.Close()
	return pace(ctx, fs, batch, func() error {
		_, err := conn.Write(protocol.EncodeUint16LE(gen.Batch(batch)))
		return err
	})
}

// SendPatient performs one patient transfer.
func SendPatient(ctx context.Context, addr string, rec models.PatientRecord) error {
	return send(ctx, addr, models.DevicePatient, []byte(protocol.FormatPatient(rec)))
}

// SendImage performs one image transfer for device id.
func SendImage(ctx context.Context, addr string, id uint32, data []byte) error {
	return send(ctx, addr, models.DeviceImage, protocol.AppendImage(nil, id, data))
}

// SendAudio performs one stethoscope transfer of PCM samples.
func SendAudio(ctx context.Context, addr string, pcm []int16) error {
	return send(ctx, addr, models.DeviceStethoscope, protocol.AppendFrame(nil, protocol.EncodeInt16LE(pcm)))
}

func send(ctx context.Context, addr string, typ models.DeviceType, body []byte) error {
	conn, err := dial(ctx, addr, typ)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("writing %s payload: %w", typ, err)
	}
	return nil
}

// RandomPatient fills a patient record for device id with fake identity
// data.
func RandomPatient(f *gofakeit.Faker, id uint32) models.PatientRecord {
	return models.PatientRecord{
		DeviceID:        id,
		FirstName:       f.FirstName(),
		SecondName:      f.FirstName(),
		PaternalSurname: f.LastName(),
		MaternalSurname: f.LastName(),
		NationalID:      f.Regex(`[A-Z]{4}[0-9]{6}[HM][A-Z]{5}[0-9]{2}`),
		Date:            time.Now().Format("2006-01-02"),
	}
}
