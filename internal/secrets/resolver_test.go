package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	scheme string
	values map[string]string
}

func (p staticProvider) Scheme() string { return p.scheme }

func (p staticProvider) Resolve(_ context.Context, key string) (string, error) {
	v, ok := p.values[key]
	if !ok {
		return "", fmt.Errorf("key %s not found", key)
	}
	return v, nil
}

func TestSecretNeverPrintsPlaintext(t *testing.T) {
	s := NewSecret("hunter2")
	assert.Equal(t, "hunter2", s.Reveal())
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "hunter2")

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))
}

func TestIsRef(t *testing.T) {
	assert.True(t, IsRef("${env:GEMINI_API_KEY}"))
	assert.True(t, IsRef("${vault:db/creds/password}"))
	assert.False(t, IsRef("plain-value"))
	assert.False(t, IsRef("${env:UNTERMINATED"))
	// Partial references are plain strings.
	assert.False(t, IsRef("prefix ${env:KEY}"))
}

func TestResolvePlainValuePassesThrough(t *testing.T) {
	r := NewResolver()
	s, err := r.Resolve(context.Background(), "literal-password")
	require.NoError(t, err)
	assert.Equal(t, "literal-password", s.Reveal())
}

func TestResolveEnvReference(t *testing.T) {
	t.Setenv("QL_TEST_TOKEN", "tok-123")
	r := NewResolver()

	s, err := r.Resolve(context.Background(), "${env:QL_TEST_TOKEN}")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", s.Reveal())

	_, err = r.Resolve(context.Background(), "${env:QL_TEST_MISSING}")
	assert.Error(t, err)
}

func TestResolveUnknownScheme(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve(context.Background(), "${vault:some/key}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault")
}

func TestResolveCustomProvider(t *testing.T) {
	r := NewResolver()
	r.Register(staticProvider{scheme: "vault", values: map[string]string{"db/password": "s3cret"}})

	s, err := r.Resolve(context.Background(), "${vault:db/password}")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", s.Reveal())

	_, err = r.Resolve(context.Background(), "${vault:missing}")
	require.Error(t, err)
	// Resolution errors name the key, never a value.
	assert.NotContains(t, err.Error(), "s3cret")
}

func TestResolveMapWrapsEveryString(t *testing.T) {
	t.Setenv("QL_TEST_DB_PASSWORD", "pgpass")
	r := NewResolver()

	out, err := r.ResolveMap(context.Background(), map[string]any{
		"host":     "db.internal",
		"port":     5432,
		"password": "${env:QL_TEST_DB_PASSWORD}",
	})
	require.NoError(t, err)

	assert.Equal(t, 5432, out["port"])
	host := out["host"].(Secret)
	assert.Equal(t, "db.internal", host.Reveal())
	password := out["password"].(Secret)
	assert.Equal(t, "pgpass", password.Reveal())

	_, err = r.ResolveMap(context.Background(), map[string]any{"key": "${env:QL_TEST_MISSING}"})
	assert.Error(t, err)
}
