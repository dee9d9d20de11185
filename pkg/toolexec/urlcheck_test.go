package toolexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/errs"
)

func TestURLCheckerAllowList(t *testing.T) {
	checker := NewURLChecker([]string{"api.example.com", "*.tools.example.com"})

	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{name: "exact host allowed", url: "https://api.example.com/v1/run"},
		{name: "wildcard subdomain allowed", url: "https://east.tools.example.com/run"},
		{name: "deep wildcard subdomain allowed", url: "https://a.b.tools.example.com/run"},
		{name: "bare wildcard suffix rejected", url: "https://tools.example.com/run", wantErr: "not in the allow-list"},
		{name: "unlisted host rejected", url: "https://evil.example.net/run", wantErr: "not in the allow-list"},
		{name: "http scheme rejected", url: "http://api.example.com/run", wantErr: "scheme"},
		{name: "localhost rejected", url: "https://localhost/x", wantErr: "not in the allow-list"},
		{name: "no host rejected", url: "https:///path", wantErr: "no host"},
		{name: "case-insensitive host", url: "https://API.Example.COM/run"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checker.Check(tt.url)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errs.IsValidationError(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestURLCheckerWithoutAllowListBlocksInternalTargets(t *testing.T) {
	checker := NewURLChecker(nil)

	assert.NoError(t, checker.Check("https://api.example.com/run"))

	for _, url := range []string{
		"https://localhost/x",
		"https://db.internal/x",
		"https://printer.local/x",
		"https://127.0.0.1/x",
		"https://10.0.0.8/x",
		"https://192.168.1.1/x",
		"https://169.254.169.254/latest/meta-data",
	} {
		err := checker.Check(url)
		assert.Error(t, err, url)
	}
}

func TestURLCheckerExplicitListingOverridesBlocks(t *testing.T) {
	// An explicitly listed private host is a deliberate operator choice.
	checker := NewURLChecker([]string{"10.0.0.8"})
	assert.NoError(t, checker.Check("https://10.0.0.8/run"))
}

func TestURLCheckerAllowScheme(t *testing.T) {
	checker := NewURLChecker([]string{"api.example.com"})
	require.Error(t, checker.Check("http://api.example.com/run"))

	checker.AllowScheme("http")
	assert.NoError(t, checker.Check("http://api.example.com/run"))
}

func TestURLCheckerFromEnv(t *testing.T) {
	t.Setenv(EnvAllowedDomains, "api.example.com, *.tools.example.com")
	checker := NewURLCheckerFromEnv()

	assert.NoError(t, checker.Check("https://api.example.com/run"))
	assert.NoError(t, checker.Check("https://east.tools.example.com/run"))
	assert.Error(t, checker.Check("https://evil.example.net/run"))
}
