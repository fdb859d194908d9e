package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type WorkMode string

const (
	WorkModeOnsite   WorkMode = "onsite"
	WorkModeRemote   WorkMode = "remote"
	WorkModeHybrid   WorkMode = "hybrid"
	WorkModeFlexible WorkMode = "flexible"
)

func (m WorkMode) Valid() bool {
	switch m {
	case WorkModeOnsite, WorkModeRemote, WorkModeHybrid, WorkModeFlexible:
		return true
	}
	return false
}

// Period is an inclusive range of calendar days.
type Period struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// NewPeriod truncates both bounds to UTC midnight.
func NewPeriod(start, end time.Time) Period {
	return Period{StartDate: Day(start), EndDate: Day(end)}
}

func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Days is the number of calendar days covered, bounds included.
func (p Period) Days() int {
	if p.EndDate.Before(p.StartDate) {
		return 0
	}
	return int(p.EndDate.Sub(p.StartDate).Hours()/24) + 1
}

func (p Period) Contains(day time.Time) bool {
	day = Day(day)
	return !day.Before(p.StartDate) && !day.After(p.EndDate)
}

func (p Period) String() string {
	return p.StartDate.Format(time.DateOnly) + ".." + p.EndDate.Format(time.DateOnly)
}

// Record is one day of attendance as reported by the attendance store.
type Record struct {
	Date     time.Time       `json:"date"`
	CheckIn  *time.Time      `json:"check_in,omitempty"`
	CheckOut *time.Time      `json:"check_out,omitempty"`
	WorkMode WorkMode        `json:"work_mode"`
	Hours    decimal.Decimal `json:"hours"`
}

// TotalHours sums Hours over records.
func TotalHours(records []Record) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Hours)
	}
	return total
}

// Provider is the attendance store. Records come back ordered by date.
type Provider interface {
	FetchRecords(ctx context.Context, workerID uuid.UUID, period Period) ([]Record, error)
}
