// Package lifecycle validates case status transitions.
//
// The machine is a pure consultant: it never reads or writes schedules. The
// command layer reports, through Conditions, whether the schedule half of a
// compound operation has been planned, and the machine refuses transitions
// whose precondition is not met.
package lifecycle

import (
	"time"

	"github.com/roach88/theatresync/internal/domain"
)

// Requirement is a precondition a transition places on the schedule map.
type Requirement int

const (
	// RequiresNothing marks a free transition.
	RequiresNothing Requirement = iota
	// RequiresScheduleCreated needs a live schedule created in the same operation.
	RequiresScheduleCreated
	// RequiresScheduleDeleted needs the case's live schedule deleted first.
	RequiresScheduleDeleted
)

// Conditions describes the schedule side of the operation performing a transition.
type Conditions struct {
	ScheduleCreated bool
	ScheduleDeleted bool
	// ScheduleDate becomes the case's surgery date on entering scheduled.
	ScheduleDate string
}

func (c Conditions) satisfies(r Requirement) bool {
	switch r {
	case RequiresScheduleCreated:
		return c.ScheduleCreated
	case RequiresScheduleDeleted:
		return c.ScheduleDeleted
	}
	return true
}

var table = map[domain.CaseStatus]map[domain.CaseStatus]Requirement{
	domain.StatusNewReferral: {
		domain.StatusAwaitingSurgery: RequiresNothing,
		domain.StatusArchived:        RequiresNothing,
	},
	domain.StatusAwaitingSurgery: {
		domain.StatusScheduled: RequiresScheduleCreated,
		domain.StatusCompleted: RequiresNothing,
		domain.StatusArchived:  RequiresNothing,
	},
	domain.StatusScheduled: {
		domain.StatusAwaitingSurgery: RequiresScheduleDeleted,
		domain.StatusCompleted:       RequiresNothing,
		domain.StatusCancelled:       RequiresScheduleDeleted,
	},
	domain.StatusCompleted: {
		domain.StatusArchived: RequiresNothing,
	},
	domain.StatusCancelled: {
		domain.StatusArchived: RequiresNothing,
	},
	domain.StatusArchived: {
		domain.StatusAwaitingSurgery: RequiresNothing,
	},
}

// Allowed reports whether from -> to appears in the transition table.
func Allowed(from, to domain.CaseStatus) bool {
	_, ok := table[from][to]
	return ok
}

// Requires returns the precondition of from -> to. ok is false when the
// transition is not in the table.
func Requires(from, to domain.CaseStatus) (r Requirement, ok bool) {
	r, ok = table[from][to]
	return r, ok
}

// Targets lists the statuses reachable from from.
func Targets(from domain.CaseStatus) []domain.CaseStatus {
	var out []domain.CaseStatus
	for _, s := range domain.CaseStatuses {
		if Allowed(from, s) {
			out = append(out, s)
		}
	}
	return out
}

// Check validates from -> to under cond without producing a new case.
func Check(caseID string, from, to domain.CaseStatus, cond Conditions) error {
	r, ok := Requires(from, to)
	if !ok || !cond.satisfies(r) {
		return domain.NewInvalidTransition(caseID, from, to)
	}
	return nil
}

// Transition returns a copy of c moved to status to. The input case is
// never modified; on error the zero Case is returned.
//
// Leaving scheduled clears the surgery date unless the target is completed.
// Entering scheduled takes the surgery date from cond. Archiving sets the
// archived flag and unarchiving clears it.
func Transition(c domain.Case, to domain.CaseStatus, cond Conditions, now time.Time) (domain.Case, error) {
	if err := Check(c.ID, c.Status, to, cond); err != nil {
		return domain.Case{}, err
	}

	next := c.Clone()
	from := c.Status
	next.Status = to
	next.UpdatedAt = now

	switch {
	case to == domain.StatusScheduled:
		next.SurgeryDate = domain.StringPtr(cond.ScheduleDate)
	case from == domain.StatusScheduled && to != domain.StatusCompleted:
		next.SurgeryDate = nil
	}

	switch to {
	case domain.StatusArchived:
		next.Archived = true
	default:
		if from == domain.StatusArchived {
			next.Archived = false
		}
	}
	return next, nil
}
