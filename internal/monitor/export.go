package monitor

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const exportTitle = "ECG continuous recording"

// maxPrealloc caps the sample slice reserved from the declared count.
const maxPrealloc = 1 << 16

var sampleHeader = []string{"Sample", "Time", "Raw signal", "Filtered signal"}

// ErrMalformedExport is returned by ParseExport.
var ErrMalformedExport = errors.New("malformed recording export")

// Sample is one recorded raw and filtered pair.
type Sample struct {
	Raw      int
	Filtered float64
}

// Export is the content of one exported recording.
type Export struct {
	PatientName  string
	PatientID    string
	Start        time.Time
	End          time.Time
	SamplingRate int
	Samples      []Sample
}

// Duration returns the wall-clock length of the session.
func (e *Export) Duration() time.Duration { return e.End.Sub(e.Start) }

// ExportFileName returns the file name used for a recording started at
// start, ECG_<name>_<id>_<YYYYMMDD_HHMMSS>.csv.
func ExportFileName(name, id string, start time.Time) string {
	return fmt.Sprintf("ECG_%s_%s_%s.csv", fileSafe(name), fileSafe(id), start.Format("20060102_150405"))
}

func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.' {
			return r
		}
		return '_'
	}, strings.TrimSpace(s))
}

// WriteExport writes e as CSV: metadata rows, the column header and one
// row per sample with its elapsed time in seconds.
func WriteExport(w io.Writer, e *Export) error {
	cw := csv.NewWriter(w)
	meta := [][]string{
		{exportTitle},
		{"Patient name", e.PatientName},
		{"Patient ID", e.PatientID},
		{"Start", e.Start.Format(time.RFC3339Nano)},
		{"End", e.End.Format(time.RFC3339Nano)},
		{"Duration (s)", strconv.FormatFloat(e.Duration().Seconds(), 'f', 2, 64)},
		{"Samples", strconv.Itoa(len(e.Samples))},
		{"Sampling rate (Hz)", strconv.Itoa(e.SamplingRate)},
		sampleHeader,
	}
	if err := cw.WriteAll(meta); err != nil {
		return err
	}
	rate := float64(e.SamplingRate)
	if rate <= 0 {
		rate = 1
	}
	row := make([]string, 4)
	for i, s := range e.Samples {
		row[0] = strconv.Itoa(i)
		row[1] = strconv.FormatFloat(float64(i)/rate, 'f', 3, 64)
		row[2] = strconv.Itoa(s.Raw)
		row[3] = strconv.FormatFloat(s.Filtered, 'g', -1, 64)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ParseExport reads a recording written by WriteExport.
func ParseExport(r io.Reader) (*Export, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	title, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedExport, err)
	}
	if len(title) != 1 || title[0] != exportTitle {
		return nil, fmt.Errorf("%w: unexpected title %q", ErrMalformedExport, title)
	}

	meta := make(map[string]string)
	for {
		rec, err := cr.Read()
		if err != nil {
			return nil, fmt.Errorf("%w: reading metadata: %v", ErrMalformedExport, err)
		}
		if len(rec) == len(sampleHeader) && rec[0] == sampleHeader[0] {
			break
		}
		if len(rec) != 2 {
			return nil, fmt.Errorf("%w: metadata row %q", ErrMalformedExport, rec)
		}
		meta[rec[0]] = rec[1]
	}

	e := &Export{
		PatientName: meta["Patient name"],
		PatientID:   meta["Patient ID"],
	}
	if e.Start, err = time.Parse(time.RFC3339Nano, meta["Start"]); err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrMalformedExport, err)
	}
	if e.End, err = time.Parse(time.RFC3339Nano, meta["End"]); err != nil {
		return nil, fmt.Errorf("%w: end: %v", ErrMalformedExport, err)
	}
	if e.SamplingRate, err = strconv.Atoi(meta["Sampling rate (Hz)"]); err != nil {
		return nil, fmt.Errorf("%w: sampling rate: %v", ErrMalformedExport, err)
	}
	count, err := strconv.Atoi(meta["Samples"])
	if err != nil {
		return nil, fmt.Errorf("%w: sample count: %v", ErrMalformedExport, err)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative sample count %d", ErrMalformedExport, count)
	}

	e.Samples = make([]Sample, 0, min(count, maxPrealloc))
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedExport, err)
		}
		if len(rec) != len(sampleHeader) {
			return nil, fmt.Errorf("%w: sample row %q", ErrMalformedExport, rec)
		}
		raw, err := strconv.Atoi(rec[2])
		if err != nil {
			return nil, fmt.Errorf("%w: raw value %q", ErrMalformedExport, rec[2])
		}
		filtered, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: filtered value %q", ErrMalformedExport, rec[3])
		}
		e.Samples = append(e.Samples, Sample{Raw: raw, Filtered: filtered})
	}
	if len(e.Samples) != count {
		return nil, fmt.Errorf("%w: %d samples, header says %d", ErrMalformedExport, len(e.Samples), count)
	}
	return e, nil
}
