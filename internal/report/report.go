// Package report builds the controller's attendance views: the per-day
// present/absent grid across the roster, and its spreadsheet export.
package report

import (
	"context"
	"time"

	"rollcall/internal/attendance"
)

// Source is the read surface the report needs. Both the Postgres repository
// and the in-memory one satisfy it.
type Source interface {
	Students(ctx context.Context) ([]attendance.Student, error)
	AttendanceDays(ctx context.Context, classID string) ([]time.Time, error)
	PresentStudentIDs(ctx context.Context, classID string, day time.Time) (map[string]bool, error)
}

// DayRow is one report line: a date plus a present flag per roster entry,
// aligned with Grid.Students.
type DayRow struct {
	Date     string `json:"date"`
	Statuses []bool `json:"statuses"`
}

// Grid is the full attendance report.
type Grid struct {
	Students []attendance.Student `json:"students"`
	Rows     []DayRow             `json:"rows"`
}

// Service assembles reports from a Source.
type Service struct {
	src Source
}

// NewService creates a report service.
func NewService(src Source) *Service {
	return &Service{src: src}
}

// Grid builds the per-day presence grid for the class, days oldest first,
// students in enrollment order.
func (s *Service) Grid(ctx context.Context, classID string) (Grid, error) {
	students, err := s.src.Students(ctx)
	if err != nil {
		return Grid{}, err
	}
	days, err := s.src.AttendanceDays(ctx, classID)
	if err != nil {
		return Grid{}, err
	}

	grid := Grid{Students: students}
	for _, day := range days {
		present, err := s.src.PresentStudentIDs(ctx, classID, day)
		if err != nil {
			return Grid{}, err
		}
		row := DayRow{Date: day.Format("2006-01-02"), Statuses: make([]bool, len(students))}
		for i, st := range students {
			row.Statuses[i] = present[st.ID]
		}
		grid.Rows = append(grid.Rows, row)
	}
	return grid, nil
}
