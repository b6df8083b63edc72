package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Accepts(t *testing.T) {
	v := MustNew()

	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "case create",
			raw:  `{"entity_kind":"case","action":"create","entity_id":"c1","payload":{"id":"c1","name":"A","status":"new_referral","order_index":1,"subspecialty":null}}`,
		},
		{
			name: "schedule update with extra fields",
			raw:  `{"entity_kind":"case_schedule","action":"update","payload":{"id":"x1","case_id":"c1","session_id":"s1","order_index":2,"status":"scheduled","scheduled_date":"2026-03-04","server_only":true}}`,
		},
		{
			name: "session create",
			raw:  `{"entity_kind":"theatre_session","action":"create","payload":{"id":"s1","date":"2026-03-04","session_type":"morning","status":"scheduled"}}`,
		},
		{
			name: "delete without payload",
			raw:  `{"entity_kind":"case_schedule","action":"delete","entity_id":"x1"}`,
		},
		{
			name: "schedule reorder",
			raw:  `{"entity_kind":"case_schedule","action":"reorder","scope_id":"s1","payload":[{"id":"x1","case_id":"c1","session_id":"s1","order_index":1,"status":"scheduled"}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, v.Validate([]byte(tt.raw)))
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	v := MustNew()

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"entity_kind":`},
		{"unknown kind", `{"entity_kind":"theatre","action":"delete","entity_id":"x"}`},
		{"unknown action", `{"entity_kind":"case","action":"merge","entity_id":"x"}`},
		{"delete without id", `{"entity_kind":"case","action":"delete"}`},
		{"create without payload", `{"entity_kind":"case","action":"create","entity_id":"c1"}`},
		{"bad case status", `{"entity_kind":"case","action":"update","payload":{"id":"c1","name":"A","status":"lost","order_index":1}}`},
		{"schedule index zero", `{"entity_kind":"case_schedule","action":"create","payload":{"id":"x1","case_id":"c1","session_id":"s1","order_index":0,"status":"scheduled"}}`},
		{"bad date", `{"entity_kind":"theatre_session","action":"create","payload":{"id":"s1","date":"04/03/2026"}}`},
		{"reorder payload not a list", `{"entity_kind":"case_schedule","action":"reorder","payload":{"id":"x1"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate([]byte(tt.raw))
			require.Error(t, err)
			var ve *ValidationError
			assert.True(t, errors.As(err, &ve))
		})
	}
}
