package command

import (
	"context"
	"fmt"

	"github.com/roach88/theatresync/internal/domain"
	"github.com/roach88/theatresync/internal/lifecycle"
	"github.com/roach88/theatresync/internal/ordering"
	"github.com/roach88/theatresync/internal/state"
)

// NewCase describes a case created by a scheduling clerk.
type NewCase struct {
	Name         string
	Diagnosis    string
	Outcome      string
	Subspecialty string
}

// CreateCase adds a new_referral case at the end of its grouping.
func (c *Commander) CreateCase(ctx context.Context, in NewCase) (domain.Case, error) {
	return run(ctx, c, "create_case", "", func(st *state.Store) (step[domain.Case], error) {
		var s step[domain.Case]
		now := c.now()
		kase := domain.Case{
			Base:      domain.Base{ID: c.ids.Generate(), CreatedAt: now, UpdatedAt: now},
			Name:      in.Name,
			Diagnosis: in.Diagnosis,
			Outcome:   in.Outcome,
			Status:    domain.StatusNewReferral,
		}
		if in.Subspecialty != "" {
			kase.Subspecialty = domain.StringPtr(in.Subspecialty)
		}
		kase.OrderIndex = ordering.AppendPosition(st.CaseGroupScope(kase.GroupKey()))

		s.muts = []state.Mutation{state.Put(kase)}
		s.remote = func(ctx context.Context) (domain.Case, error) {
			return c.authority.CreateCase(ctx, kase)
		}
		s.confirm = func(_ *state.Store, r domain.Case) []state.Mutation {
			return append(replaced(domain.KindCase, kase.ID, r.ID), state.Put(r))
		}
		return s, nil
	})
}

// Triage moves a new_referral case to awaiting_surgery, optionally tagging
// its subspecialty.
func (c *Commander) Triage(ctx context.Context, caseID, subspecialty string) (domain.Case, error) {
	return c.transition(ctx, "triage", caseID, domain.StatusAwaitingSurgery, domain.StatusNewReferral, func(k *domain.Case) {
		if subspecialty != "" {
			k.Subspecialty = domain.StringPtr(subspecialty)
		}
	})
}

// Archive soft-deletes a case. Scheduled cases must be unscheduled first.
func (c *Commander) Archive(ctx context.Context, caseID string) (domain.Case, error) {
	return c.transition(ctx, "archive", caseID, domain.StatusArchived, "", nil)
}

// Unarchive returns an archived case to awaiting_surgery.
func (c *Commander) Unarchive(ctx context.Context, caseID string) (domain.Case, error) {
	return c.transition(ctx, "unarchive", caseID, domain.StatusAwaitingSurgery, domain.StatusArchived, nil)
}

// transition runs a lifecycle change that involves no schedule. from, when
// set, is the only status the command accepts.
func (c *Commander) transition(ctx context.Context, name, caseID string, to, from domain.CaseStatus, edit func(*domain.Case)) (domain.Case, error) {
	return run(ctx, c, name, caseID, func(st *state.Store) (step[domain.Case], error) {
		var s step[domain.Case]
		kase, ok := st.Case(caseID)
		if !ok {
			return s, domain.NewNotFound(domain.KindCase, caseID)
		}
		if from != "" && kase.Status != from {
			return s, domain.NewInvalidTransition(caseID, kase.Status, to)
		}
		next, err := lifecycle.Transition(kase, to, lifecycle.Conditions{}, c.now())
		if err != nil {
			return s, err
		}
		if edit != nil {
			edit(&next)
		}
		next, s.muts = regroup(st, kase, next)
		s.remote = func(ctx context.Context) (domain.Case, error) {
			return c.authority.UpdateCase(ctx, next)
		}
		s.confirm = func(_ *state.Store, r domain.Case) []state.Mutation {
			return []state.Mutation{state.Put(r)}
		}
		return s, nil
	})
}

type completed struct {
	schedule *domain.CaseSchedule
	list     []domain.CaseSchedule
	kase     domain.Case
}

// Complete marks a case completed. A live schedule is kept as history with
// status completed, which takes it out of its session's order.
func (c *Commander) Complete(ctx context.Context, caseID string) (domain.Case, error) {
	res, err := run(ctx, c, "complete", caseID, func(st *state.Store) (step[completed], error) {
		var s step[completed]
		kase, ok := st.Case(caseID)
		if !ok {
			return s, domain.NewNotFound(domain.KindCase, caseID)
		}
		now := c.now()
		next, err := lifecycle.Transition(kase, domain.StatusCompleted, lifecycle.Conditions{}, now)
		if err != nil {
			return s, err
		}
		next, caseMuts := regroup(st, kase, next)

		var (
			done      *domain.CaseSchedule
			remaining []string
		)
		if live, ok := st.LiveSchedule(caseID); ok {
			finished := live
			finished.Status = domain.ScheduleCompleted
			finished.UpdatedAt = now
			done = &finished

			scope := st.SessionScope(live.SessionID)
			patch := ordering.Remove(scope, live.ID)
			remaining = orderOf(scope, patch, "", live.ID)
			s.muts = append([]state.Mutation{state.Put(finished)}, schedulePatch(st, patch, live.ID)...)
			s.scopes = []string{live.SessionID}
		}
		s.muts = append(s.muts, caseMuts...)

		s.remote = func(ctx context.Context) (completed, error) {
			var r completed
			if done != nil {
				updated, err := c.authority.UpdateSchedule(ctx, *done)
				if err != nil {
					return r, fmt.Errorf("update schedule: %w", err)
				}
				r.schedule = &updated
				if len(remaining) > 0 {
					if r.list, err = c.authority.ReorderSchedules(ctx, done.SessionID, remaining); err != nil {
						return r, partial(fmt.Errorf("reorder session %s: %w", done.SessionID, err))
					}
				}
			}
			confirmed, err := c.authority.UpdateCase(ctx, next)
			if err != nil {
				err = fmt.Errorf("update case: %w", err)
				if done != nil {
					return r, partial(err)
				}
				return r, err
			}
			r.kase = confirmed
			return r, nil
		}
		s.confirm = func(_ *state.Store, r completed) []state.Mutation {
			var muts []state.Mutation
			if r.schedule != nil {
				muts = append(muts, state.Put(*r.schedule))
			}
			muts = append(muts, putSchedules(r.list)...)
			return append(muts, state.Put(r.kase))
		}
		return s, nil
	})
	return res.kase, err
}

// DeleteCase permanently removes a case. It is refused while the case has a
// live schedule. Deletion is terminal; the remaining cases of its grouping
// close the gap.
func (c *Commander) DeleteCase(ctx context.Context, caseID string) error {
	_, err := run(ctx, c, "delete_case", caseID, func(st *state.Store) (step[struct{}], error) {
		var s step[struct{}]
		kase, ok := st.Case(caseID)
		if !ok {
			return s, domain.NewNotFound(domain.KindCase, caseID)
		}
		if live := st.LiveSchedules(caseID); len(live) > 0 {
			return s, domain.NewAlreadyScheduled(caseID, live[0].ID)
		}
		patch := ordering.Remove(st.CaseGroupScope(kase.GroupKey()), caseID)
		s.muts = append([]state.Mutation{state.Delete(domain.KindCase, caseID)}, casePatch(st, patch, caseID)...)
		s.remote = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.authority.DeleteCase(ctx, caseID)
		}
		return s, nil
	})
	return err
}
