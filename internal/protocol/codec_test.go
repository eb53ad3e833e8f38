package protocol

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"
	"testing/iotest"

	"telemetry-hub/internal/models"
)

var tagTests = []struct {
	tag     string
	want    models.DeviceType
	wantErr error
}{
	{tag: "ECG ", want: models.DeviceECG},
	{tag: "ECG\x00", want: models.DeviceECG},
	{tag: "SPO2", want: models.DeviceSpO2},
	{tag: "IMG ", want: models.DeviceImage},
	{tag: "PAT ", want: models.DevicePatient},
	{tag: "STET", want: models.DeviceStethoscope},
	{tag: "XYZ ", want: models.DeviceUnknown, wantErr: ErrUnknownTag},
	{tag: "ecg ", want: models.DeviceUnknown, wantErr: ErrUnknownTag},
}

func TestParseTag(t *testing.T) {
	for _, test := range tagTests {
		t.Run(test.tag, func(t *testing.T) {
			got, err := ParseTag([]byte(test.tag))
			if !errors.Is(err, test.wantErr) {
				t.Errorf("unexpected error: got:%v want:%v", err, test.wantErr)
			}
			if got != test.want {
				t.Errorf("unexpected type: got:%v want:%v", got, test.want)
			}
		})
	}
}

func TestTagRoundTrip(t *testing.T) {
	for _, typ := range []models.DeviceType{
		models.DeviceECG, models.DeviceSpO2, models.DeviceImage,
		models.DevicePatient, models.DeviceStethoscope,
	} {
		tag := Tag(typ)
		got, err := ParseTag(tag[:])
		if err != nil {
			t.Errorf("unexpected error for %v: %v", typ, err)
		}
		if got != typ {
			t.Errorf("unexpected type for tag %q: got:%v want:%v", tag, got, typ)
		}
	}
}

func TestReadTagShort(t *testing.T) {
	_, err := ReadTag(bytes.NewReader([]byte("EC")))
	if !errors.Is(err, ErrShortRead) {
		t.Errorf("expected short read error, got: %v", err)
	}
}

func TestECGHeader(t *testing.T) {
	want := ECGHeader{DeviceID: 7, Tag: Tag(models.DeviceECG), SamplingRate: 250, Channels: 1}
	b, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantBytes := []byte{
		7, 0, 0, 0,
		'E', 'C', 'G', ' ',
		0xfa, 0, 0, 0,
		1, 0, 0, 0,
	}
	if !bytes.Equal(b, wantBytes) {
		t.Errorf("unexpected encoding:\ngot: %#v\nwant:%#v", b, wantBytes)
	}
	got, err := ReadECGHeader(iotest.OneByteReader(bytes.NewReader(b)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("unexpected header: got:%+v want:%+v", got, want)
	}

	_, err = ReadECGHeader(bytes.NewReader(b[:10]))
	if !errors.Is(err, ErrShortRead) {
		t.Errorf("expected short read error, got: %v", err)
	}
}

var sampleTests = []struct {
	name   string
	data   []byte
	signed []int
	uns    []int
}{
	{
		name:   "empty",
		data:   nil,
		signed: nil,
		uns:    nil,
	},
	{
		name:   "one_sample",
		data:   []byte{0x01, 0x00},
		signed: []int{1},
		uns:    []int{1},
	},
	{
		name:   "negative",
		data:   []byte{0xff, 0xff, 0x00, 0x80},
		signed: []int{-1, -32768},
		uns:    []int{65535, 32768},
	},
	{
		name:   "odd_trailing_byte_dropped",
		data:   []byte{0x10, 0x00, 0x20},
		signed: []int{16},
		uns:    []int{16},
	},
}

func TestDecodeSamples(t *testing.T) {
	for _, test := range sampleTests {
		t.Run(test.name, func(t *testing.T) {
			got := DecodeInt16LE(nil, test.data)
			if !reflect.DeepEqual(got, test.signed) {
				t.Errorf("unexpected signed samples: got:%v want:%v", got, test.signed)
			}
			got = DecodeUint16LE(nil, test.data)
			if !reflect.DeepEqual(got, test.uns) {
				t.Errorf("unexpected unsigned samples: got:%v want:%v", got, test.uns)
			}
		})
	}
}

func TestEncodeDecodeInt16(t *testing.T) {
	in := []int16{0, 1, -1, 1000, -1000, 32767, -32768}
	got := DecodeInt16LE(nil, EncodeInt16LE(in))
	for i, v := range in {
		if got[i] != int(v) {
			t.Errorf("sample %d: got:%d want:%d", i, got[i], v)
		}
	}
	pcm := DecodePCM16(EncodeInt16LE(in))
	if !reflect.DeepEqual(pcm, in) {
		t.Errorf("unexpected pcm: got:%v want:%v", pcm, in)
	}
}

func TestReadImage(t *testing.T) {
	payload := bytes.Repeat([]byte{0xab}, 10000)
	wire := AppendImage(nil, 2, payload)
	if !bytes.Equal(wire[:8], []byte{0, 0, 0, 2, 0, 0, 0x27, 0x10}) {
		t.Errorf("unexpected big-endian prefix: %#v", wire[:8])
	}

	id, got, err := ReadImage(iotest.HalfReader(bytes.NewReader(wire)), DefaultMaxFrame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 2 {
		t.Errorf("unexpected device id: got:%d want:2", id)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch: got %d bytes want %d", len(got), len(payload))
	}
}

func TestReadFrameIncomplete(t *testing.T) {
	wire := AppendFrame(nil, []byte("0123456789"))
	_, err := ReadFrame(bytes.NewReader(wire[:len(wire)-3]), DefaultMaxFrame)
	if !errors.Is(err, ErrShortRead) {
		t.Errorf("expected short read error, got: %v", err)
	}

	_, err = ReadFrame(bytes.NewReader(wire), 4)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected frame too large error, got: %v", err)
	}
}

var patientTests = []struct {
	name    string
	text    string
	want    models.PatientRecord
	wantErr error
}{
	{
		name: "complete",
		text: "1|Ana|María|López|Pérez|LOPA800101MDFXXX01|18/10/2026",
		want: models.PatientRecord{
			DeviceID:        1,
			FirstName:       "Ana",
			SecondName:      "María",
			PaternalSurname: "López",
			MaternalSurname: "Pérez",
			NationalID:      "LOPA800101MDFXXX01",
			Date:            "18/10/2026",
		},
	},
	{
		name: "empty_fields",
		text: "2||||||",
		want: models.PatientRecord{DeviceID: 2},
	},
	{
		name:    "too_few_fields",
		text:    "1|Ana|López",
		wantErr: ErrMalformedPatient,
	},
	{
		name:    "bad_id",
		text:    "x|a|b|c|d|e|f",
		wantErr: ErrMalformedPatient,
	},
	{
		name:    "invalid_utf8",
		text:    "1|\xff|b|c|d|e|f",
		wantErr: ErrMalformedPatient,
	},
}

func TestParsePatient(t *testing.T) {
	for _, test := range patientTests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ParsePatient(test.text)
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("unexpected error: got:%v want:%v", err, test.wantErr)
			}
			if err != nil {
				return
			}
			if !reflect.DeepEqual(got, test.want) {
				t.Errorf("unexpected record:\ngot: %+v\nwant:%+v", got, test.want)
			}
			if round := FormatPatient(got); round != test.text {
				t.Errorf("unexpected formatting: got:%q want:%q", round, test.text)
			}
		})
	}
}

func TestReadPatientChunked(t *testing.T) {
	text := patientTests[0].text
	got, err := ReadPatient(iotest.OneByteReader(bytes.NewReader([]byte(text))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.NationalID != "LOPA800101MDFXXX01" {
		t.Errorf("unexpected national id: %q", got.NationalID)
	}

	_, err = ReadPatient(bytes.NewReader(nil))
	if !errors.Is(err, ErrMalformedPatient) {
		t.Errorf("expected malformed error for empty payload, got: %v", err)
	}

	_, err = ReadPatient(io.LimitReader(bytes.NewReader([]byte(text)), 5))
	if !errors.Is(err, ErrMalformedPatient) {
		t.Errorf("expected malformed error for truncated payload, got: %v", err)
	}
}
