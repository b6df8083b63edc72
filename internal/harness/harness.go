package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/theatresync/internal/command"
	"github.com/roach88/theatresync/internal/domain"
	"github.com/roach88/theatresync/internal/engine"
	"github.com/roach88/theatresync/internal/reconcile"
	"github.com/roach88/theatresync/internal/schema"
	"github.com/roach88/theatresync/internal/state"
	"github.com/roach88/theatresync/internal/testutil"
)

// DefaultTimeout bounds a whole scenario run.
const DefaultTimeout = 30 * time.Second

// Harness is one scenario's client and authority.
type Harness struct {
	fake      *testutil.FakeAuthority
	store     *state.Store
	engine    *engine.Engine
	commander *command.Commander
}

// Run executes a scenario: the authority is seeded, the client resyncs
// from it, then each step runs and the engine settles before the next.
// The returned error reports a harness failure; expectation and assertion
// failures are in the Result.
func Run(scenario *Scenario) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	validator, err := schema.New()
	if err != nil {
		return nil, fmt.Errorf("load envelope schema: %w", err)
	}

	fake := testutil.NewFakeAuthority()
	fake.Seed(scenario.Seed.Snapshot())

	st := state.New()
	clock := testutil.NewStepClock(time.Second)
	eng := engine.New(st, reconcile.New(st, validator),
		engine.WithFetcher(fake),
		engine.WithDensityGrace(0),
		engine.WithResyncBackOff(func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1)
		}),
	)
	h := &Harness{
		fake:   fake,
		store:  st,
		engine: eng,
		commander: command.New(eng, fake,
			command.WithIDGenerator(testutil.NewSequentialIDs("new")),
			command.WithNow(clock.Now),
		),
	}

	runCtx, stopRun := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- eng.Run(runCtx) }()
	defer func() {
		eng.Stop()
		stopRun()
		<-done
	}()

	if err := eng.Resync(ctx, engine.ReasonManual); err != nil {
		return nil, fmt.Errorf("initial resync: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		if err := eng.Settle(ctx); err != nil {
			return nil, fmt.Errorf("step %d: settle: %w", i+1, err)
		}
	}

	result.Local = st.Snapshot()
	result.Authority = fake.State()
	result.Calls = fake.Calls()
	for _, msg := range EvaluateAssertions(result, st, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// execute runs one step and records its outcome.
func (h *Harness) execute(ctx context.Context, index int, step Step, result *Result) error {
	switch {
	case step.Command != "":
		err := h.runCommand(ctx, step.Command, step.Args)
		outcome := outcomeOf(err)
		result.record(KindCommand, describeCommand(step.Command, step.Args), outcome)
		if step.Expect != nil {
			want := step.Expect.Error
			if want == "" {
				want = OutcomeOK
			}
			if outcome != want {
				result.AddError(fmt.Sprintf("step %d: %s: expected %s, got %s (%v)", index+1, step.Command, want, outcome, err))
			}
		}

	case step.Push != nil:
		raw, err := json.Marshal(step.Push)
		if err != nil {
			return fmt.Errorf("encode push: %w", err)
		}
		outcome := OutcomeOK
		if !h.engine.Deliver(raw) {
			outcome = "stopped"
		}
		result.record(KindPush, describePush(step.Push), outcome)

	case step.Fail != nil:
		detail := step.Fail.Op
		if step.Fail.Always {
			h.fake.FailAlways(step.Fail.Op, nil)
			detail += " always"
		} else {
			h.fake.FailNext(step.Fail.Op, nil)
		}
		result.record(KindFail, detail, OutcomeOK)

	case step.Heal:
		h.fake.Heal()
		result.record(KindHeal, "authority", OutcomeOK)

	case step.Resync != "":
		outcome := OutcomeOK
		if err := h.engine.Resync(ctx, step.Resync); err != nil {
			outcome = "failed"
		}
		result.record(KindResync, step.Resync, outcome)
	}
	return nil
}

// runCommand dispatches a command step to the commander.
func (h *Harness) runCommand(ctx context.Context, name string, a CommandArgs) error {
	c := h.commander
	var err error
	switch name {
	case "assign":
		_, err = c.Assign(ctx, a.Case, a.Session)
	case "move":
		_, err = c.Move(ctx, a.Case, a.Session, a.Position)
	case "reorder":
		_, err = c.Reorder(ctx, a.Session, a.IDs)
	case "unschedule":
		_, err = c.Unschedule(ctx, a.Case)
	case "cancel":
		_, err = c.Cancel(ctx, a.Case)
	case "complete":
		_, err = c.Complete(ctx, a.Case)
	case "archive":
		_, err = c.Archive(ctx, a.Case)
	case "unarchive":
		_, err = c.Unarchive(ctx, a.Case)
	case "triage":
		_, err = c.Triage(ctx, a.Case, a.Subspecialty)
	case "create_case":
		_, err = c.CreateCase(ctx, command.NewCase{Name: a.Name, Subspecialty: a.Subspecialty})
	case "delete_case":
		err = c.DeleteCase(ctx, a.Case)
	default:
		err = fmt.Errorf("unknown command %q", name)
	}
	return err
}

// outcomeOf names a command result: ok, a scheduling error code, or error.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if code := domain.CodeOf(err); code != "" {
		return string(code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

func describeCommand(name string, a CommandArgs) string {
	parts := []string{name}
	for _, v := range []string{a.Case, a.Session} {
		if v != "" {
			parts = append(parts, v)
		}
	}
	if a.Position > 0 {
		parts = append(parts, fmt.Sprintf("pos=%d", a.Position))
	}
	if len(a.IDs) > 0 {
		parts = append(parts, "ids="+strings.Join(a.IDs, ","))
	}
	if a.Name != "" {
		parts = append(parts, fmt.Sprintf("name=%q", a.Name))
	}
	if a.Subspecialty != "" {
		parts = append(parts, "subspecialty="+a.Subspecialty)
	}
	return strings.Join(parts, " ")
}

func describePush(env map[string]any) string {
	parts := []string{fmt.Sprint(env["entity_kind"]), fmt.Sprint(env["action"])}
	for _, key := range []string{"entity_id", "scope_id"} {
		if v, ok := env[key]; ok {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, " ")
}
