package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/theatresync/internal/domain"
)

func TestCommandExit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.NewNotFound(domain.KindCase, "c9"), ExitFailure},
		{"wrapped transition", fmt.Errorf("archive: %w", domain.NewInvalidTransition("c1", domain.StatusScheduled, domain.StatusArchived)), ExitFailure},
		{"scope mismatch", domain.NewScopeMismatch("s1", "reorder lists 1 of 2 schedules"), ExitFailure},
		{"remote failure", domain.NewRemoteFailure("create schedule", errors.New("503")), ExitFailure},
		{"journal error", errors.New("open journal: permission denied"), ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exit := commandExit("assign", tt.err)
			assert.Equal(t, tt.want, exit.Code)
			assert.Equal(t, tt.want, GetExitCode(exit))
			assert.ErrorIs(t, exit, tt.err)
			assert.Contains(t, exit.Error(), "assign failed: ")
		})
	}
}

func TestGetExitCode_PlainError(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("sync: %w", NewExitError(ExitCommandError, "no authority url"))))
}

func TestErrorCodeAndDetails(t *testing.T) {
	err := fmt.Errorf("move: %w", domain.NewNoActiveSchedule("c3"))
	assert.Equal(t, "NO_ACTIVE_SCHEDULE", errorCode(err))
	assert.Equal(t, map[string]string{"kind": "case", "id": "c3"}, errorDetails(err))

	remote := domain.NewRemoteFailure("reorder session s1", errors.New("timeout"))
	assert.Equal(t, "REMOTE_FAILURE", errorCode(remote))
	assert.Nil(t, errorDetails(remote))

	assert.Equal(t, "E_COMMAND", errorCode(errors.New("dial tcp: refused")))
	assert.Nil(t, errorDetails(errors.New("dial tcp: refused")))
}

func TestOutputFormatter_JSONCommandError(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	err := domain.NewNotFound(domain.KindSession, "s9")
	require.NoError(t, f.Error(errorCode(err), err.Error(), errorDetails(err)))

	var resp struct {
		Status string `json:"status"`
		Error  struct {
			Code    string            `json:"code"`
			Message string            `json:"message"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "NOT_FOUND: theatre_session not found (theatre_session=s9)", resp.Error.Message)
	assert.Equal(t, map[string]string{"kind": "theatre_session", "id": "s9"}, resp.Error.Details)
}

func TestOutputFormatter_JSONSuccessCarriesEntity(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	c := domain.Case{Base: domain.Base{ID: "c1"}, Name: "Hip replacement", Status: domain.StatusAwaitingSurgery, OrderIndex: 2}
	require.NoError(t, f.Success(c))

	var resp jsonResponse[domain.Case]
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "c1", resp.Data.ID)
	assert.Equal(t, domain.StatusAwaitingSurgery, resp.Data.Status)
}

func TestOutputFormatter_Text(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		write   func(f *OutputFormatter) error
		want    string
	}{
		{
			name:  "summary",
			write: func(f *OutputFormatter) error { return f.Success("Reordered session s1 (3 cases)") },
			want:  "Reordered session s1 (3 cases)\n",
		},
		{
			name: "rejection",
			write: func(f *OutputFormatter) error {
				return f.Error("ALREADY_SCHEDULED", "case already has live schedule sa", map[string]string{"id": "c1"})
			},
			want: "Error [ALREADY_SCHEDULED]: case already has live schedule sa\n",
		},
		{
			name:    "rejection verbose",
			verbose: true,
			write: func(f *OutputFormatter) error {
				return f.Error("ALREADY_SCHEDULED", "case already has live schedule sa", map[string]string{"id": "c1"})
			},
			want: "Error [ALREADY_SCHEDULED]: case already has live schedule sa\nDetails: map[id:c1]\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}
			require.NoError(t, tt.write(f))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestOutputFormatter_VerboseLogStaysOffJSON(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: true}

	f.VerboseLog("%s: ok", "assign")
	assert.Empty(t, out.String())
	assert.Equal(t, "assign: ok\n", diag.String())

	quiet := &OutputFormatter{Format: "text", Writer: out}
	quiet.VerboseLog("%s: ok", "assign")
	assert.Empty(t, out.String())
}
