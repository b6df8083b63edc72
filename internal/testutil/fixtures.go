package testutil

import "github.com/roach88/theatresync/internal/domain"

// FixtureDate is the date of fixture sessions and schedules.
const FixtureDate = "2026-03-04"

// Case returns a minimal case.
func Case(id string, status domain.CaseStatus, idx int) domain.Case {
	c := domain.Case{
		Base:       domain.Base{ID: id},
		Name:       "case " + id,
		Status:     status,
		OrderIndex: idx,
	}
	switch status {
	case domain.StatusScheduled:
		c.SurgeryDate = domain.StringPtr(FixtureDate)
	case domain.StatusArchived:
		c.Archived = true
	}
	return c
}

// Session returns a morning session on date.
func Session(id, date string) domain.TheatreSession {
	return domain.TheatreSession{
		Base:        domain.Base{ID: id},
		TheatreID:   "theatre-1",
		Date:        date,
		StartTime:   "08:00",
		EndTime:     "12:00",
		SessionType: domain.SessionMorning,
		Status:      domain.SessionScheduled,
	}
}

// Schedule returns a live schedule of caseID in sessionID on FixtureDate.
func Schedule(id, caseID, sessionID string, idx int) domain.CaseSchedule {
	return domain.CaseSchedule{
		Base:          domain.Base{ID: id},
		CaseID:        caseID,
		SessionID:     sessionID,
		ScheduledDate: FixtureDate,
		StartTime:     "08:00",
		EndTime:       "12:00",
		OrderIndex:    idx,
		Status:        domain.ScheduleScheduled,
	}
}
