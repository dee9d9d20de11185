package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSecretKey(t *testing.T) {
	tests := []struct {
		key    string
		secret bool
	}{
		{"password", true},
		{"PASSWORD", true},
		{"db_passwd", true},
		{"api_key", true},
		{"api-key", true},
		{"apikey", true},
		{"X-API-Key", true},
		{"x-auth-token", true},
		{"Authorization", true},
		{"refresh_token", true},
		{"client_secret", true},
		{"privateKey", true},
		{"private_key", true},
		{"bearer", true},
		{"credentials", true},
		{"username", false},
		{"order_id", false},
		{"amount", false},
		{"Content-Type", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.secret, IsSecretKey(tt.key))
		})
	}
}

func TestMapRedactsNestedValues(t *testing.T) {
	in := map[string]any{
		"order_id": "ORD-1",
		"password": "hunter2",
		"nested": map[string]any{
			"api_key": "sk-12345",
			"region":  "eu-west-1",
		},
		"items": []any{
			map[string]any{"token": "tok-99", "sku": "A1"},
			"plain-string",
		},
	}

	out := Map(in)

	assert.Equal(t, Placeholder, out["password"])
	assert.Equal(t, "ORD-1", out["order_id"])

	nested, ok := out["nested"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, Placeholder, nested["api_key"])
	assert.Equal(t, "eu-west-1", nested["region"])

	items, ok := out["items"].([]any)
	require.True(t, ok)
	first, ok := items[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, Placeholder, first["token"])
	assert.Equal(t, "A1", first["sku"])
	assert.Equal(t, "plain-string", items[1])
}

func TestMapDoesNotMutateInput(t *testing.T) {
	in := map[string]any{
		"secret": "raw",
		"nested": map[string]any{"password": "raw2"},
	}

	_ = Map(in)

	assert.Equal(t, "raw", in["secret"])
	assert.Equal(t, "raw2", in["nested"].(map[string]any)["password"])
}

func TestMapNil(t *testing.T) {
	assert.Nil(t, Map(nil))
}

func TestHeaders(t *testing.T) {
	in := map[string]string{
		"Authorization": "Bearer abc",
		"X-API-Key":     "sk-1",
		"Content-Type":  "application/json",
	}

	out := Headers(in)

	assert.Equal(t, Placeholder, out["Authorization"])
	assert.Equal(t, Placeholder, out["X-API-Key"])
	assert.Equal(t, "application/json", out["Content-Type"])
	assert.Equal(t, "Bearer abc", in["Authorization"], "input must not change")
}
