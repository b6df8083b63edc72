// Package harness runs scheduling scenarios against a real engine and
// commander backed by an in-memory authority.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: assign_appends
//	description: "Assigning a case puts it at the end of the session"
//	seed:
//	  sessions: [{id: s1}]
//	  cases:
//	    - {id: c1, status: scheduled, order_index: 1}
//	    - {id: c3, status: awaiting_surgery, order_index: 1}
//	  schedules:
//	    - {id: sa, case: c1, session: s1, order_index: 1}
//	steps:
//	  - command: assign
//	    args: {case: c3, session: s1}
//	  - fail: {op: ReorderSchedules}
//	  - command: reorder
//	    args: {session: s1, ids: [sa, new-1]}
//	    expect: {error: REMOTE_FAILURE}
//	  - push: {entity_kind: case_schedule, action: delete, entity_id: sa}
//	  - resync: manual
//	assertions:
//	  - {type: session_order, session: s1, cases: [c1, c3]}
//	  - {type: case_status, case: c3, status: scheduled}
//	  - {type: calls, op: CreateSchedule, count: 1}
//	  - {type: converged}
//
// # Assertion Types
//
//   - session_order: the session's live schedules, in position order, belong
//     to the listed cases and are numbered 1..n
//   - case_status: the local case has the given status
//   - calls: the authority saw op exactly count times
//   - converged: the local and authority boards are identical
//
// # Deterministic Output
//
// Every scenario runs with a step clock and sequential ids ("new-1",
// "new-2", ...), so the step log and final boards are byte-identical across
// runs and can be compared against golden files.
package harness
