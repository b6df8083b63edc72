// Package schema validates inbound push envelopes against a CUE schema
// before they are decoded into typed events.
//
// Validation happens once at the boundary. Past it, the reconciliation
// layer trusts the payload shape and only checks cross-field rules the
// schema cannot express (payload id versus entity_id, scope membership).
package schema

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed envelope.cue
var envelopeSchema string

// ValidationError reports why an envelope was rejected.
type ValidationError struct {
	// Path is the CUE path of the first offending field, when known.
	Path string

	// Message is the CUE diagnostic.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("invalid envelope at %s: %s", e.Path, e.Message)
	}
	return "invalid envelope: " + e.Message
}

// Validator checks raw envelopes against the embedded schema.
// A cue.Context is not safe for concurrent use, so calls are serialized.
type Validator struct {
	mu       sync.Mutex
	ctx      *cue.Context
	envelope cue.Value
}

// New compiles the embedded envelope schema.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(envelopeSchema, cue.Filename("envelope.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}
	def := root.LookupPath(cue.ParsePath("#Envelope"))
	if !def.Exists() {
		return nil, fmt.Errorf("compile envelope schema: #Envelope not defined")
	}
	return &Validator{ctx: ctx, envelope: def}, nil
}

// MustNew is like New but panics if the embedded schema does not compile.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate returns nil when raw is a well-formed envelope and a
// *ValidationError otherwise.
func (v *Validator) Validate(raw []byte) error {
	expr, err := cuejson.Extract("envelope.json", raw)
	if err != nil {
		return &ValidationError{Message: fmt.Sprintf("malformed JSON: %v", err)}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	data := v.ctx.BuildExpr(expr)
	if err := data.Err(); err != nil {
		return &ValidationError{Message: err.Error()}
	}

	unified := v.envelope.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return toValidationError(err)
	}
	return nil
}

func toValidationError(err error) *ValidationError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	first := errs[0]
	format, args := first.Msg()
	return &ValidationError{
		Path:    strings.Join(first.Path(), "."),
		Message: fmt.Sprintf(format, args...),
	}
}
