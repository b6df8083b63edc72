package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"sorted keys", `{"b":1,"a":2}`, `{"a":2,"b":1}`},
		{"nested", `{"z":{"y":1,"x":[true,false,null]},"a":"s"}`, `{"a":"s","z":{"x":[true,false,null],"y":1}}`},
		{"whitespace", "{ \"a\" :\n 1 }", `{"a":1}`},
		{"no html escaping", `{"a":"<b>&"}`, `{"a":"<b>&"}`},
		{"control chars", `{"a":"x\u0001y\n"}`, `{"a":"x\u0001y\n"}`},
		{"line separator literal", "{\"a\":\"\u2028\"}", "{\"a\":\"\u2028\"}"},
		{"negative int", `[-7,0]`, `[-7,0]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestCanonicalize_UTF16KeyOrder(t *testing.T) {
	in := "{\"\ue000\":1,\"\U00010000\":2}"
	got, err := Canonicalize([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\ue000\":1}", string(got))
}

func TestCanonicalize_NFC(t *testing.T) {
	decomposed := "{\"name\":\"Jose\u0301\"}"
	composed := "{\"name\":\"Jos\u00e9\"}"

	a, err := Canonicalize([]byte(decomposed))
	require.NoError(t, err)
	b, err := Canonicalize([]byte(composed))
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestCanonicalize_Rejects(t *testing.T) {
	for _, in := range []string{`{"a":1.5}`, `{"a":1e3}`, `{"a":`, `{} {}`} {
		_, err := Canonicalize([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestMarshal_Struct(t *testing.T) {
	type row struct {
		Zeta  int    `json:"zeta"`
		Alpha string `json:"alpha"`
	}
	got, err := Marshal(row{Zeta: 3, Alpha: "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"x","zeta":3}`, string(got))
}

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint(DomainEnvelope, []byte(`{"entity_kind":"case","action":"delete","entity_id":"c1"}`))
	require.NoError(t, err)
	b, err := Fingerprint(DomainEnvelope, []byte(`{"entity_id":"c1","action":"delete","entity_kind":"case"}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c, err := Fingerprint(DomainSnapshot, []byte(`{"entity_id":"c1","action":"delete","entity_kind":"case"}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "domains must separate hashes")
}

func TestMustHash_Panics(t *testing.T) {
	assert.Panics(t, func() { MustHash(DomainCommand, 1.5) })
	assert.NotPanics(t, func() { MustHash(DomainCommand, map[string]any{"a": 1}) })
}
