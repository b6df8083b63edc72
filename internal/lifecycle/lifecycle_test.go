package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/theatresync/internal/domain"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newCase(status domain.CaseStatus) domain.Case {
	return domain.Case{
		Base:   domain.Base{ID: "c1"},
		Name:   "Jane Roe",
		Status: status,
	}
}

func TestAllowed_Table(t *testing.T) {
	allowed := map[domain.CaseStatus][]domain.CaseStatus{
		domain.StatusNewReferral:     {domain.StatusAwaitingSurgery, domain.StatusArchived},
		domain.StatusAwaitingSurgery: {domain.StatusScheduled, domain.StatusCompleted, domain.StatusArchived},
		domain.StatusScheduled:       {domain.StatusAwaitingSurgery, domain.StatusCompleted, domain.StatusCancelled},
		domain.StatusCompleted:       {domain.StatusArchived},
		domain.StatusCancelled:       {domain.StatusArchived},
		domain.StatusArchived:        {domain.StatusAwaitingSurgery},
	}

	for _, from := range domain.CaseStatuses {
		for _, to := range domain.CaseStatuses {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, Allowed(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransition_RejectedLeavesCaseUntouched(t *testing.T) {
	c := newCase(domain.StatusNewReferral)
	before := c.Clone()

	_, err := Transition(c, domain.StatusScheduled, Conditions{ScheduleCreated: true, ScheduleDate: "2026-03-04"}, now)
	require.Error(t, err)
	assert.True(t, domain.IsInvalidTransition(err))
	assert.Equal(t, before, c)
}

func TestTransition_ScheduleRequiresCreatedSchedule(t *testing.T) {
	c := newCase(domain.StatusAwaitingSurgery)

	_, err := Transition(c, domain.StatusScheduled, Conditions{}, now)
	assert.True(t, domain.IsInvalidTransition(err))

	next, err := Transition(c, domain.StatusScheduled, Conditions{ScheduleCreated: true, ScheduleDate: "2026-03-04"}, now)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, next.Status)
	require.NotNil(t, next.SurgeryDate)
	assert.Equal(t, "2026-03-04", *next.SurgeryDate)
	assert.Equal(t, now, next.UpdatedAt)
}

func TestTransition_UnscheduleClearsSurgeryDate(t *testing.T) {
	c := newCase(domain.StatusScheduled)
	c.SurgeryDate = domain.StringPtr("2026-03-04")

	_, err := Transition(c, domain.StatusAwaitingSurgery, Conditions{}, now)
	assert.True(t, domain.IsInvalidTransition(err), "schedule must be deleted first")

	next, err := Transition(c, domain.StatusAwaitingSurgery, Conditions{ScheduleDeleted: true}, now)
	require.NoError(t, err)
	assert.Nil(t, next.SurgeryDate)
	assert.NotNil(t, c.SurgeryDate, "input must not be modified")
}

func TestTransition_CompleteKeepsSurgeryDate(t *testing.T) {
	c := newCase(domain.StatusScheduled)
	c.SurgeryDate = domain.StringPtr("2026-03-04")

	next, err := Transition(c, domain.StatusCompleted, Conditions{}, now)
	require.NoError(t, err)
	require.NotNil(t, next.SurgeryDate)
	assert.Equal(t, "2026-03-04", *next.SurgeryDate)
}

func TestTransition_ArchiveFlag(t *testing.T) {
	c := newCase(domain.StatusCompleted)

	archived, err := Transition(c, domain.StatusArchived, Conditions{}, now)
	require.NoError(t, err)
	assert.True(t, archived.Archived)

	restored, err := Transition(archived, domain.StatusAwaitingSurgery, Conditions{}, now)
	require.NoError(t, err)
	assert.False(t, restored.Archived)
	assert.Equal(t, domain.StatusAwaitingSurgery, restored.Status)
}

func TestTransition_ArchiveScheduledRefused(t *testing.T) {
	_, err := Transition(newCase(domain.StatusScheduled), domain.StatusArchived, Conditions{}, now)
	assert.True(t, domain.IsInvalidTransition(err))
}

func TestTargets(t *testing.T) {
	assert.Equal(t,
		[]domain.CaseStatus{domain.StatusAwaitingSurgery, domain.StatusCompleted, domain.StatusCancelled},
		Targets(domain.StatusScheduled))
	assert.Empty(t, Targets(domain.CaseStatus("bogus")))
}
