package cli

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/roach88/theatresync/internal/domain"
	"github.com/roach88/theatresync/internal/state"
)

// BoardSlot is one position in a session's list.
type BoardSlot struct {
	Position   int               `json:"position"`
	ScheduleID string            `json:"schedule_id"`
	CaseID     string            `json:"case_id"`
	CaseName   string            `json:"case_name"`
	Status     domain.CaseStatus `json:"status"`
}

// BoardSession is a session and its ordered list.
type BoardSession struct {
	ID     string      `json:"id"`
	Date   string      `json:"date"`
	Type   string      `json:"type"`
	Status string      `json:"status"`
	Slots  []BoardSlot `json:"slots"`
}

// Board is the theatre list as the CLI shows it.
type Board struct {
	Sessions []BoardSession `json:"sessions"`
	// Waiting lists unscheduled, non-archived cases in grouping order.
	Waiting []domain.Case `json:"waiting"`
}

// buildBoard reads a board from st.
func buildBoard(st *state.Store) Board {
	var b Board
	for _, sess := range st.Sessions() {
		bs := BoardSession{
			ID:     sess.ID,
			Date:   sess.Date,
			Type:   string(sess.SessionType),
			Status: string(sess.Status),
			Slots:  []BoardSlot{},
		}
		for _, sched := range st.SessionSchedules(sess.ID) {
			slot := BoardSlot{
				Position:   sched.OrderIndex,
				ScheduleID: sched.ID,
				CaseID:     sched.CaseID,
			}
			if c, ok := st.Case(sched.CaseID); ok {
				slot.CaseName = c.Name
				slot.Status = c.Status
			}
			bs.Slots = append(bs.Slots, slot)
		}
		b.Sessions = append(b.Sessions, bs)
	}
	for _, c := range st.Cases(state.ListOptions{}) {
		if c.Status == domain.StatusScheduled {
			continue
		}
		b.Waiting = append(b.Waiting, c)
	}
	return b
}

// renderBoard writes b as two tables.
func renderBoard(w io.Writer, b Board) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Theatre sessions")
	t.AppendHeader(table.Row{"Session", "Date", "Type", "#", "Case", "Name"})
	for _, s := range b.Sessions {
		if len(s.Slots) == 0 {
			t.AppendRow(table.Row{s.ID, s.Date, s.Type, "", "-", ""})
			continue
		}
		for i, slot := range s.Slots {
			id, date, typ := s.ID, s.Date, s.Type
			if i > 0 {
				id, date, typ = "", "", ""
			}
			t.AppendRow(table.Row{id, date, typ, slot.Position, slot.CaseID, slot.CaseName})
		}
		t.AppendSeparator()
	}
	t.Render()

	if len(b.Waiting) == 0 {
		return
	}
	fmt.Fprintln(w)
	wt := table.NewWriter()
	wt.SetOutputMirror(w)
	wt.SetStyle(table.StyleLight)
	wt.SetTitle("Unscheduled cases")
	wt.AppendHeader(table.Row{"Case", "Name", "Status", "#", "Subspecialty"})
	for _, c := range b.Waiting {
		sub := ""
		if c.Subspecialty != nil {
			sub = *c.Subspecialty
		}
		wt.AppendRow(table.Row{c.ID, c.Name, c.Status, c.OrderIndex, sub})
	}
	wt.Render()
}
