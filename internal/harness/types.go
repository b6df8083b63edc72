package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/theatresync/internal/domain"
	"github.com/roach88/theatresync/internal/state"
)

// Step kinds recorded in a Result.
const (
	KindCommand = "command"
	KindPush    = "push"
	KindFail    = "fail"
	KindHeal    = "heal"
	KindResync  = "resync"
)

// OutcomeOK is the outcome of a step that succeeded.
const OutcomeOK = "ok"

// StepRecord is the logged outcome of one step.
type StepRecord struct {
	Index   int    `json:"index"`
	Kind    string `json:"kind"`
	Detail  string `json:"detail"`
	Outcome string `json:"outcome"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Steps logs each step in order.
	Steps []StepRecord `json:"steps"`

	// Errors lists expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Local and Authority are the final states of the client store and of
	// the authority.
	Local     state.Snapshot `json:"-"`
	Authority state.Snapshot `json:"-"`

	// Calls lists the authority operations in the order they were made.
	Calls []string `json:"calls"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true, Steps: []StepRecord{}, Errors: []string{}}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) record(kind, detail, outcome string) {
	r.Steps = append(r.Steps, StepRecord{
		Index:   len(r.Steps) + 1,
		Kind:    kind,
		Detail:  detail,
		Outcome: outcome,
	})
}

// Report renders the step log and both final boards. It is the content of
// a scenario's golden file.
func (r *Result) Report(name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	b.WriteString("steps:\n")
	for _, s := range r.Steps {
		fmt.Fprintf(&b, "  %d. %s %s: %s\n", s.Index, s.Kind, s.Detail, s.Outcome)
	}
	b.WriteString("local:\n")
	writeBoard(&b, r.Local)
	b.WriteString("authority:\n")
	writeBoard(&b, r.Authority)
	return b.String()
}

// FormatBoard renders snap as one line per session, listing its live
// schedules as case=position, followed by one line per case status.
func FormatBoard(snap state.Snapshot) string {
	var b strings.Builder
	writeBoard(&b, snap)
	return b.String()
}

func writeBoard(b *strings.Builder, snap state.Snapshot) {
	snap = snap.Sorted()
	for _, sess := range snap.Sessions {
		var live []domain.CaseSchedule
		for _, s := range snap.Schedules {
			if s.SessionID == sess.ID && s.Live() {
				live = append(live, s)
			}
		}
		sort.SliceStable(live, func(i, j int) bool {
			if live[i].OrderIndex != live[j].OrderIndex {
				return live[i].OrderIndex < live[j].OrderIndex
			}
			return live[i].ID < live[j].ID
		})
		if len(live) == 0 {
			fmt.Fprintf(b, "  session %s: (empty)\n", sess.ID)
			continue
		}
		parts := make([]string, len(live))
		for i, s := range live {
			parts[i] = fmt.Sprintf("%s=%d", s.CaseID, s.OrderIndex)
		}
		fmt.Fprintf(b, "  session %s: %s\n", sess.ID, strings.Join(parts, " "))
	}
	for _, c := range snap.Cases {
		fmt.Fprintf(b, "  case %s: %s\n", c.ID, c.Status)
	}
}
