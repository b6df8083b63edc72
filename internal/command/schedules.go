package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/theatresync/internal/domain"
	"github.com/roach88/theatresync/internal/lifecycle"
	"github.com/roach88/theatresync/internal/ordering"
	"github.com/roach88/theatresync/internal/state"
)

type assigned struct {
	schedule domain.CaseSchedule
	kase     domain.Case
}

// Assign schedules an awaiting_surgery case at the end of a session and
// moves it to scheduled. The schedule and the status change succeed or
// fail together: if the case update fails the created schedule is deleted
// again.
func (c *Commander) Assign(ctx context.Context, caseID, sessionID string) (domain.CaseSchedule, error) {
	res, err := run(ctx, c, "assign", caseID, func(st *state.Store) (step[assigned], error) {
		var s step[assigned]
		kase, ok := st.Case(caseID)
		if !ok {
			return s, domain.NewNotFound(domain.KindCase, caseID)
		}
		sess, ok := st.Session(sessionID)
		if !ok {
			return s, domain.NewNotFound(domain.KindSession, sessionID)
		}
		if live := st.LiveSchedules(caseID); len(live) > 0 {
			return s, domain.NewAlreadyScheduled(caseID, live[0].ID)
		}

		now := c.now()
		next, err := lifecycle.Transition(kase, domain.StatusScheduled,
			lifecycle.Conditions{ScheduleCreated: true, ScheduleDate: sess.Date}, now)
		if err != nil {
			return s, err
		}
		sched := domain.CaseSchedule{
			Base:          domain.Base{ID: c.ids.Generate(), CreatedAt: now, UpdatedAt: now},
			CaseID:        caseID,
			SessionID:     sessionID,
			ScheduledDate: sess.Date,
			StartTime:     sess.StartTime,
			EndTime:       sess.EndTime,
			OrderIndex:    ordering.AppendPosition(st.SessionScope(sessionID)),
			Status:        domain.ScheduleScheduled,
		}
		next, caseMuts := regroup(st, kase, next)

		s.muts = append([]state.Mutation{state.Put(sched)}, caseMuts...)
		s.scopes = []string{sessionID}
		s.remote = func(ctx context.Context) (assigned, error) {
			created, err := c.authority.CreateSchedule(ctx, sched)
			if err != nil {
				return assigned{}, fmt.Errorf("create schedule: %w", err)
			}
			confirmed, err := c.authority.UpdateCase(ctx, next)
			if err != nil {
				if cerr := c.authority.DeleteSchedule(ctx, created.ID); cerr != nil {
					return assigned{}, partial(fmt.Errorf("update case: %w (delete schedule %s: %v)", err, created.ID, cerr))
				}
				return assigned{}, fmt.Errorf("update case: %w", err)
			}
			return assigned{schedule: created, kase: confirmed}, nil
		}
		s.confirm = func(_ *state.Store, r assigned) []state.Mutation {
			muts := replaced(domain.KindSchedule, sched.ID, r.schedule.ID)
			return append(muts, state.Put(r.schedule), state.Put(r.kase))
		}
		return s, nil
	})
	return res.schedule, err
}

type moved struct {
	schedule domain.CaseSchedule
	lists    []domain.CaseSchedule
	kase     *domain.Case
}

// Move relocates a case's live schedule to position pos of sessionID (pos
// below 1 or past the end appends). Moving within the same session
// repositions it. Both scopes are renumbered as one write.
func (c *Commander) Move(ctx context.Context, caseID, sessionID string, pos int) (domain.CaseSchedule, error) {
	res, err := run(ctx, c, "move", caseID, func(st *state.Store) (step[moved], error) {
		var s step[moved]
		kase, ok := st.Case(caseID)
		if !ok {
			return s, domain.NewNotFound(domain.KindCase, caseID)
		}
		live, ok := st.LiveSchedule(caseID)
		if !ok {
			return s, domain.NewNoActiveSchedule(caseID)
		}
		dest, ok := st.Session(sessionID)
		if !ok {
			return s, domain.NewNotFound(domain.KindSession, sessionID)
		}

		now := c.now()
		srcID := live.SessionID
		src, dst := st.SessionScope(srcID), st.SessionScope(sessionID)

		var (
			patch     ordering.Patch
			destOrder []string
			srcOrder  []string
		)
		if srcID == sessionID {
			patch = ordering.Reposition(dst, live.ID, pos)
			destOrder = orderOf(dst, patch, "", "")
		} else {
			patch = ordering.Move(src, dst, live.ID, pos)
			destOrder = orderOf(dst, patch, live.ID, "")
			srcOrder = orderOf(src, patch, "", live.ID)
		}

		next := live
		next.SessionID = sessionID
		next.ScheduledDate = dest.Date
		next.StartTime = dest.StartTime
		next.EndTime = dest.EndTime
		if idx, ok := patch[live.ID]; ok {
			next.OrderIndex = idx
		}
		next.UpdatedAt = now

		s.muts = append([]state.Mutation{state.Put(next)}, schedulePatch(st, patch, live.ID)...)
		s.scopes = []string{srcID, sessionID}

		var nextCase *domain.Case
		if kase.SurgeryDate == nil || *kase.SurgeryDate != dest.Date {
			redated := kase.Clone()
			redated.SurgeryDate = domain.StringPtr(dest.Date)
			redated.UpdatedAt = now
			redated, caseMuts := regroup(st, kase, redated)
			s.muts = append(s.muts, caseMuts...)
			nextCase = &redated
		}

		s.remote = func(ctx context.Context) (moved, error) {
			var r moved
			updated, err := c.authority.UpdateSchedule(ctx, next)
			if err != nil {
				return r, fmt.Errorf("update schedule: %w", err)
			}
			r.schedule = updated

			undoMove := func(err error) error {
				if _, cerr := c.authority.UpdateSchedule(ctx, live); cerr != nil {
					slog.Warn("move compensation failed", "schedule_id", live.ID, "error", cerr)
				}
				return partial(err)
			}
			list, err := c.authority.ReorderSchedules(ctx, sessionID, destOrder)
			if err != nil {
				return r, undoMove(fmt.Errorf("reorder session %s: %w", sessionID, err))
			}
			r.lists = append(r.lists, list...)
			if len(srcOrder) > 0 {
				list, err = c.authority.ReorderSchedules(ctx, srcID, srcOrder)
				if err != nil {
					return r, undoMove(fmt.Errorf("reorder session %s: %w", srcID, err))
				}
				r.lists = append(r.lists, list...)
			}
			if nextCase != nil {
				confirmed, err := c.authority.UpdateCase(ctx, *nextCase)
				if err != nil {
					return r, undoMove(fmt.Errorf("update case: %w", err))
				}
				r.kase = &confirmed
			}
			return r, nil
		}
		s.confirm = func(_ *state.Store, r moved) []state.Mutation {
			muts := append([]state.Mutation{state.Put(r.schedule)}, putSchedules(r.lists)...)
			if r.kase != nil {
				muts = append(muts, state.Put(*r.kase))
			}
			return muts
		}
		return s, nil
	})
	return res.schedule, err
}

// Reorder sets a session's order to ids, which must be a permutation of the
// session's live schedules. Reordering to the order already in effect
// changes nothing.
func (c *Commander) Reorder(ctx context.Context, sessionID string, ids []string) ([]domain.CaseSchedule, error) {
	return run(ctx, c, "reorder", "", func(st *state.Store) (step[[]domain.CaseSchedule], error) {
		var s step[[]domain.CaseSchedule]
		if _, ok := st.Session(sessionID); !ok {
			return s, domain.NewNotFound(domain.KindSession, sessionID)
		}
		patch, err := ordering.Reorder(sessionID, st.SessionScope(sessionID), ids)
		if err != nil {
			return s, err
		}
		order := append([]string(nil), ids...)

		s.muts = schedulePatch(st, patch, "")
		s.scopes = []string{sessionID}
		s.remote = func(ctx context.Context) ([]domain.CaseSchedule, error) {
			return c.authority.ReorderSchedules(ctx, sessionID, order)
		}
		s.confirm = func(_ *state.Store, list []domain.CaseSchedule) []state.Mutation {
			return putSchedules(list)
		}
		return s, nil
	})
}

// Unschedule deletes a case's live schedule, closes the gap it leaves and
// returns the case to awaiting_surgery with no surgery date.
func (c *Commander) Unschedule(ctx context.Context, caseID string) (domain.Case, error) {
	return c.detach(ctx, "unschedule", caseID, domain.StatusAwaitingSurgery)
}

// Cancel deletes a case's live schedule and marks the case cancelled.
func (c *Commander) Cancel(ctx context.Context, caseID string) (domain.Case, error) {
	return c.detach(ctx, "cancel", caseID, domain.StatusCancelled)
}

type detached struct {
	list []domain.CaseSchedule
	kase domain.Case
}

// detach removes the live schedule of caseID and moves the case to status
// to, which must require the schedule's deletion.
func (c *Commander) detach(ctx context.Context, name, caseID string, to domain.CaseStatus) (domain.Case, error) {
	res, err := run(ctx, c, name, caseID, func(st *state.Store) (step[detached], error) {
		var s step[detached]
		kase, ok := st.Case(caseID)
		if !ok {
			return s, domain.NewNotFound(domain.KindCase, caseID)
		}
		live, ok := st.LiveSchedule(caseID)
		if !ok {
			return s, domain.NewNoActiveSchedule(caseID)
		}
		next, err := lifecycle.Transition(kase, to, lifecycle.Conditions{ScheduleDeleted: true}, c.now())
		if err != nil {
			return s, err
		}

		scope := st.SessionScope(live.SessionID)
		patch := ordering.Remove(scope, live.ID)
		remaining := orderOf(scope, patch, "", live.ID)
		next, caseMuts := regroup(st, kase, next)

		s.muts = append([]state.Mutation{state.Delete(domain.KindSchedule, live.ID)}, schedulePatch(st, patch, live.ID)...)
		s.muts = append(s.muts, caseMuts...)
		s.scopes = []string{live.SessionID}
		s.remote = func(ctx context.Context) (detached, error) {
			var r detached
			if err := c.authority.DeleteSchedule(ctx, live.ID); err != nil {
				return r, fmt.Errorf("delete schedule: %w", err)
			}
			restore := func(err error) error {
				if _, cerr := c.authority.CreateSchedule(ctx, live); cerr != nil {
					slog.Warn("schedule compensation failed", "schedule_id", live.ID, "error", cerr)
				}
				return partial(err)
			}
			if len(remaining) > 0 {
				list, err := c.authority.ReorderSchedules(ctx, live.SessionID, remaining)
				if err != nil {
					return r, restore(fmt.Errorf("reorder session %s: %w", live.SessionID, err))
				}
				r.list = list
			}
			confirmed, err := c.authority.UpdateCase(ctx, next)
			if err != nil {
				return r, restore(fmt.Errorf("update case: %w", err))
			}
			r.kase = confirmed
			return r, nil
		}
		s.confirm = func(_ *state.Store, r detached) []state.Mutation {
			muts := []state.Mutation{state.Delete(domain.KindSchedule, live.ID)}
			muts = append(muts, putSchedules(r.list)...)
			return append(muts, state.Put(r.kase))
		}
		return s, nil
	})
	return res.kase, err
}
