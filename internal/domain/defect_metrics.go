package domain

import "time"

// DefectMetrics are values derived from a defect at read time. They are never stored.
type DefectMetrics struct {
	IsOverdue       bool
	DaysRemaining   *int
	ResolutionHours *float64
}

// ComputeMetrics derives the read-time metrics of d as seen at now in loc.
func ComputeMetrics(d Defect, now time.Time, loc *time.Location) DefectMetrics {
	return DefectMetrics{
		IsOverdue:       IsOverdue(d, now, loc),
		DaysRemaining:   DaysRemaining(d, now, loc),
		ResolutionHours: ResolutionHours(d),
	}
}

// IsOverdue reports whether an open defect is past its due date.
func IsOverdue(d Defect, now time.Time, loc *time.Location) bool {
	if d.Status.IsFinal() || d.DueDate == nil {
		return false
	}
	return CivilDate(*d.DueDate, time.UTC).Before(Today(now, loc))
}

// DaysRemaining returns due date minus today in days; negative once overdue.
// Nil when there is no due date or the defect is closed or cancelled.
func DaysRemaining(d Defect, now time.Time, loc *time.Location) *int {
	if d.Status.IsFinal() || d.DueDate == nil {
		return nil
	}
	days := DaysBetween(Today(now, loc), CivilDate(*d.DueDate, time.UTC))
	return &days
}

// ResolutionHours returns the time from creation to closure in hours.
func ResolutionHours(d Defect) *float64 {
	if d.ClosedAt == nil || d.CreatedAt.IsZero() {
		return nil
	}
	hours := d.ClosedAt.Sub(d.CreatedAt).Hours()
	return &hours
}

// Today returns the calendar date of now in loc as midnight UTC.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return CivilDate(now.In(loc), loc)
}

// CivilDate drops the clock part of t as observed in loc and returns midnight UTC of that date.
// Due dates are stored as plain dates, so they are read back in UTC.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole days from a to b. Both must be civil dates.
func DaysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// DayBounds returns the instants at which the civil date starts and the next one starts in loc.
func DayBounds(date time.Time, loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	start = time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
