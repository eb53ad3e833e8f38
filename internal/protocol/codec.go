// Package protocol implements the byte layouts spoken by bedside devices
// on the shared telemetry port.
//
// A connection opens with a four byte ASCII tag naming the device type.
// ECG and SpO2 streams carry little-endian 16 bit samples; image and
// stethoscope transfers are prefixed with big-endian integers. The
// asymmetry is part of the wire contract.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"telemetry-hub/internal/models"
)

const (
	TagSize           = 4
	ECGHeaderSize     = 16
	MaxPatientPayload = 1024
	patientFields     = 7

	// DefaultMaxFrame bounds image and audio transfers.
	DefaultMaxFrame = 32 << 20
)

var (
	ErrShortRead        = errors.New("short read")
	ErrUnknownTag       = errors.New("unknown device type tag")
	ErrMalformedPatient = errors.New("malformed patient record")
	ErrFrameTooLarge    = errors.New("frame exceeds size limit")
)

var tags = map[string]models.DeviceType{
	"ECG":  models.DeviceECG,
	"SPO2": models.DeviceSpO2,
	"IMG":  models.DeviceImage,
	"PAT":  models.DevicePatient,
	"STET": models.DeviceStethoscope,
}

// ParseTag returns the device type named by a connection tag. Padding
// spaces and NUL bytes are ignored.
func ParseTag(tag []byte) (models.DeviceType, error) {
	if len(tag) != TagSize {
		return models.DeviceUnknown, fmt.Errorf("%w: tag length %d", ErrShortRead, len(tag))
	}
	name := strings.TrimSpace(strings.Trim(string(tag), "\x00"))
	typ, ok := tags[name]
	if !ok {
		return models.DeviceUnknown, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	return typ, nil
}

// Tag returns the padded wire tag for typ.
func Tag(typ models.DeviceType) [TagSize]byte {
	var t [TagSize]byte
	copy(t[:], fmt.Sprintf("%-4s", typ.String()))
	return t
}

// ReadTag reads exactly TagSize bytes from r and parses them.
func ReadTag(r io.Reader) (models.DeviceType, error) {
	var buf [TagSize]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return models.DeviceUnknown, fmt.Errorf("%w: got %d of %d tag bytes: %v", ErrShortRead, n, TagSize, err)
	}
	return ParseTag(buf[:])
}

// ECGHeader is the fixed header an ECG device sends after its tag.
type ECGHeader struct {
	DeviceID     uint32
	Tag          [TagSize]byte
	SamplingRate uint32
	Channels     uint32
}

func (h *ECGHeader) UnmarshalBinary(data []byte) error {
	if len(data) < ECGHeaderSize {
		return fmt.Errorf("%w: ecg header is %d bytes, want %d", ErrShortRead, len(data), ECGHeaderSize)
	}
	var tag [TagSize]byte
	copy(tag[:], data[4:8])
	*h = ECGHeader{
		DeviceID:     binary.LittleEndian.Uint32(data[0:]),
		Tag:          tag,
		SamplingRate: binary.LittleEndian.Uint32(data[8:]),
		Channels:     binary.LittleEndian.Uint32(data[12:]),
	}
	return nil
}

func (h ECGHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ECGHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], h.DeviceID)
	copy(buf[4:8], h.Tag[:])
	binary.LittleEndian.PutUint32(buf[8:], h.SamplingRate)
	binary.LittleEndian.PutUint32(buf[12:], h.Channels)
	return buf, nil
}

// ReadECGHeader reads and decodes a complete ECG header.
func ReadECGHeader(r io.Reader) (ECGHeader, error) {
	var buf [ECGHeaderSize]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return ECGHeader{}, fmt.Errorf("%w: got %d of %d header bytes: %v", ErrShortRead, n, ECGHeaderSize, err)
	}
	var h ECGHeader
	err = h.UnmarshalBinary(buf[:])
	return h, err
}

// DecodeInt16LE appends the signed little-endian samples held in data to
// dst. A trailing odd byte is dropped.
func DecodeInt16LE(dst []int, data []byte) []int {
	for i := 0; i+2 <= len(data); i += 2 {
		dst = append(dst, int(int16(binary.LittleEndian.Uint16(data[i:]))))
	}
	return dst
}

// DecodeUint16LE appends the unsigned little-endian samples held in data
// to dst. A trailing odd byte is dropped.
func DecodeUint16LE(dst []int, data []byte) []int {
	for i := 0; i+2 <= len(data); i += 2 {
		dst = append(dst, int(binary.LittleEndian.Uint16(data[i:])))
	}
	return dst
}

// EncodeInt16LE is the inverse of DecodeInt16LE.
func EncodeInt16LE(samples []int16) []byte {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return buf
}

// EncodeUint16LE is the inverse of DecodeUint16LE.
func EncodeUint16LE(samples []uint16) []byte {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], s)
	}
	return buf
}

// DecodePCM16 interprets a stethoscope payload as little-endian 16 bit PCM.
func DecodePCM16(data []byte) []int16 {
	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return pcm
}

func readUint32BE(r io.Reader, what string) (uint32, error) {
	var buf [4]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return 0, fmt.Errorf("%w: got %d of 4 %s bytes: %v", ErrShortRead, n, what, err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// ReadFrame reads a big-endian length prefix followed by exactly that many
// bytes. A transfer that ends early is reported as ErrShortRead and no
// partial payload is returned.
func ReadFrame(r io.Reader, max uint32) ([]byte, error) {
	size, err := readUint32BE(r, "length")
	if err != nil {
		return nil, err
	}
	if max > 0 && size > max {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, max)
	}
	payload := make([]byte, size)
	n, err := io.ReadFull(r, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: got %d of %d payload bytes: %v", ErrShortRead, n, size, err)
	}
	return payload, nil
}

// ReadImage reads a big-endian device id followed by a length-prefixed
// image payload.
func ReadImage(r io.Reader, max uint32) (uint32, []byte, error) {
	id, err := readUint32BE(r, "device id")
	if err != nil {
		return 0, nil, err
	}
	payload, err := ReadFrame(r, max)
	if err != nil {
		return id, nil, err
	}
	return id, payload, nil
}

// AppendFrame appends the length-prefixed form of payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// AppendImage appends the wire form of an image transfer to dst.
func AppendImage(dst []byte, deviceID uint32, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, deviceID)
	return AppendFrame(dst, payload)
}

// ReadPatient reads a patient payload of at most MaxPatientPayload bytes.
// Reading stops at end of stream, at the size limit, or after the first
// read that leaves every field separator in the buffer, so a peer that
// keeps the connection open still has its record applied. A read error
// once the separators have arrived ends the payload instead of failing it.
func ReadPatient(r io.Reader) (models.PatientRecord, error) {
	buf := make([]byte, MaxPatientPayload)
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		complete := bytes.Count(buf[:n], []byte{'|'}) >= patientFields-1
		if err == nil {
			if complete {
				break
			}
			continue
		}
		if errors.Is(err, io.EOF) || complete {
			break
		}
		return models.PatientRecord{}, fmt.Errorf("reading patient payload: %w", err)
	}
	if n == 0 {
		return models.PatientRecord{}, fmt.Errorf("%w: empty payload", ErrMalformedPatient)
	}
	return ParsePatient(string(buf[:n]))
}

// ParsePatient decodes the pipe-delimited patient text
//
//	id|name1|name2|paternal|maternal|national_id|date
func ParsePatient(text string) (models.PatientRecord, error) {
	if !utf8.ValidString(text) {
		return models.PatientRecord{}, fmt.Errorf("%w: invalid utf-8", ErrMalformedPatient)
	}
	fields := strings.Split(text, "|")
	if len(fields) < patientFields {
		return models.PatientRecord{}, fmt.Errorf("%w: %d fields, want %d", ErrMalformedPatient, len(fields), patientFields)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 32)
	if err != nil {
		return models.PatientRecord{}, fmt.Errorf("%w: device id %q", ErrMalformedPatient, fields[0])
	}
	return models.PatientRecord{
		DeviceID:        uint32(id),
		FirstName:       fields[1],
		SecondName:      fields[2],
		PaternalSurname: fields[3],
		MaternalSurname: fields[4],
		NationalID:      fields[5],
		Date:            strings.TrimRight(fields[6], "\x00\r\n"),
	}, nil
}

// FormatPatient is the inverse of ParsePatient.
func FormatPatient(p models.PatientRecord) string {
	return strings.Join([]string{
		strconv.FormatUint(uint64(p.DeviceID), 10),
		p.FirstName,
		p.SecondName,
		p.PaternalSurname,
		p.MaternalSurname,
		p.NationalID,
		p.Date,
	}, "|")
}
