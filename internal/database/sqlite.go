package database

import (
	"database/sql"
	"log"
	"time"

	"telemetry-hub/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// timeFormat is fixed width so start_time sorts chronologically as text.
// Rows are parsed with RFC3339Nano, which also reads older rows written
// with trimmed fractions.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	repo := &Repository{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *Repository) initSchema() error {
	createRecordingsTable := `
    CREATE TABLE IF NOT EXISTS recordings (
        session_id TEXT PRIMARY KEY,
        device_id INTEGER NOT NULL,
        patient_name TEXT NOT NULL,
        patient_id TEXT NOT NULL,
        start_time TEXT NOT NULL,
        end_time TEXT NOT NULL,
        sample_count INTEGER NOT NULL,
        sampling_rate INTEGER NOT NULL,
        path TEXT,
        status TEXT NOT NULL,
        error TEXT
    );`
	_, err := r.db.Exec(createRecordingsTable)
	return err
}

// SaveRecording stores the outcome of a finished recording session.
func (r *Repository) SaveRecording(e models.RecordingLedgerEntry) error {
	query := `INSERT OR REPLACE INTO recordings (session_id, device_id, patient_name, patient_id, start_time, end_time, sample_count, sampling_rate, path, status, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Exec(query,
		e.SessionID,
		e.DeviceID,
		e.PatientName,
		e.PatientID,
		e.StartTime.UTC().Format(timeFormat),
		e.EndTime.UTC().Format(timeFormat),
		e.SampleCount,
		e.SamplingRate,
		nullString(e.Path),
		e.Status,
		nullString(e.Error),
	)
	return err
}

// ListRecordings returns the most recent recordings first. A limit of
// zero or less returns all of them.
func (r *Repository) ListRecordings(limit int) ([]models.RecordingLedgerEntry, error) {
	query := `SELECT session_id, device_id, patient_name, patient_id, start_time, end_time, sample_count, sampling_rate, path, status, error FROM recordings ORDER BY start_time DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.RecordingLedgerEntry
	for rows.Next() {
		var e models.RecordingLedgerEntry
		var startTimeStr, endTimeStr string
		var path, errStr sql.NullString

		if err := rows.Scan(
			&e.SessionID,
			&e.DeviceID,
			&e.PatientName,
			&e.PatientID,
			&startTimeStr,
			&endTimeStr,
			&e.SampleCount,
			&e.SamplingRate,
			&path,
			&e.Status,
			&errStr,
		); err != nil {
			return nil, err
		}

		startTime, err := time.Parse(time.RFC3339Nano, startTimeStr)
		if err != nil {
			log.Printf("Warning: could not parse start_time '%s' from DB: %v", startTimeStr, err)
			continue
		}
		e.StartTime = startTime
		if endTime, err := time.Parse(time.RFC3339Nano, endTimeStr); err == nil {
			e.EndTime = endTime
		}
		e.Path = path.String
		e.Error = errStr.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *Repository) Close() {
	r.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
