// Package snapshot produces the immutable audit record of a completed
// session: computed counts, the attendance rate, and serialized copies of the
// records and session metadata as they stood at completion time.
package snapshot

import (
	"errors"
	"math"
	"time"

	"classattend/internal/roster"
)

// ErrAlreadyExists is returned when a session already has a snapshot.
var ErrAlreadyExists = errors.New("snapshot already exists for session")

// SessionInfo is the completed session being snapshotted.
type SessionInfo struct {
	ID        string
	ClassID   string
	Date      string
	StartedAt time.Time
	EndedAt   *time.Time
	Location  *string
}

// Stats are the computed attendance counts.
type Stats struct {
	TotalEnrolled int     `json:"total_enrolled"`
	Present       int     `json:"present"`
	Absent        int     `json:"absent"`
	Late          int     `json:"late"`
	Rate          float64 `json:"rate"`
}

// StudentRow is one per-student line of the serialized snapshot.
type StudentRow struct {
	StudentID      string     `json:"student_id"`
	StudentNumber  string     `json:"student_number"`
	FullName       string     `json:"full_name"`
	Status         string     `json:"status"`
	CheckedInAt    *time.Time `json:"checked_in_at,omitempty"`
	Confidence     *float64   `json:"confidence,omitempty"`
	ManualOverride bool       `json:"manual_override"`
	Notes          *string    `json:"notes,omitempty"`
}

// Metadata is the session context block of the serialized snapshot.
type Metadata struct {
	ClassName     string  `json:"class_name"`
	ClassCode     string  `json:"class_code"`
	SessionDate   string  `json:"session_date"`
	Location      *string `json:"location,omitempty"`
	TotalEnrolled int     `json:"total_enrolled"`
}

// Snapshot is the persisted audit row. Written once, immutable thereafter.
type Snapshot struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	Stats           Stats     `json:"stats"`
	RecordsJSON     []byte    `json:"-"`
	MetadataJSON    []byte    `json:"-"`
	StorageURL      *string   `json:"storage_url,omitempty"`
	DurationSeconds int64     `json:"duration_seconds"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Compute derives attendance stats from the records and enrollment list.
// Absent is always total minus present, and the rate is 0 when nobody is
// enrolled.
func Compute(records []roster.Record, enrollments []roster.EnrolledStudent) Stats {
	stats := Stats{TotalEnrolled: len(enrollments)}
	for _, rec := range records {
		switch rec.Status {
		case roster.StatusPresent:
			stats.Present++
		case roster.StatusLate:
			stats.Late++
		}
	}
	stats.Absent = stats.TotalEnrolled - stats.Present
	if stats.TotalEnrolled > 0 {
		stats.Rate = round2(float64(stats.Present) / float64(stats.TotalEnrolled) * 100)
	}
	return stats
}

// BuildRows joins enrollments with their records. Enrolled students without a
// record appear as absent; records for students no longer enrolled are kept
// so the audit copy stays complete.
func BuildRows(records []roster.Record, enrollments []roster.EnrolledStudent) []StudentRow {
	byStudent := make(map[string]roster.Record, len(records))
	for _, rec := range records {
		byStudent[rec.StudentID] = rec
	}

	rows := make([]StudentRow, 0, len(enrollments))
	seen := make(map[string]bool, len(enrollments))
	for _, e := range enrollments {
		seen[e.StudentID] = true
		row := StudentRow{
			StudentID:     e.StudentID,
			StudentNumber: e.StudentNumber,
			FullName:      e.FullName,
			Status:        roster.StatusAbsent,
		}
		if rec, ok := byStudent[e.StudentID]; ok {
			checkedIn := rec.CheckedInAt
			row.Status = rec.Status
			row.CheckedInAt = &checkedIn
			row.Confidence = rec.Confidence
			row.ManualOverride = rec.ManualOverride
			row.Notes = rec.Notes
		}
		rows = append(rows, row)
	}
	for _, rec := range records {
		if seen[rec.StudentID] {
			continue
		}
		checkedIn := rec.CheckedInAt
		rows = append(rows, StudentRow{
			StudentID:      rec.StudentID,
			Status:         rec.Status,
			CheckedInAt:    &checkedIn,
			Confidence:     rec.Confidence,
			ManualOverride: rec.ManualOverride,
			Notes:          rec.Notes,
		})
	}
	return rows
}

// Duration returns end minus start, or zero when the session never ended.
func Duration(startedAt time.Time, endedAt *time.Time) time.Duration {
	if endedAt == nil || endedAt.Before(startedAt) {
		return 0
	}
	return endedAt.Sub(startedAt)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
