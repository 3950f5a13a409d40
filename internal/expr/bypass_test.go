package expr

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBypassRulesMatch(t *testing.T) {
	rules, err := CompileBypass([]string{
		`request.path.startsWith("/account")`,
		`"nocache" in request.query`,
		`request.userAgent.contains("Lighthouse")`,
	})
	require.NoError(t, err)
	require.Equal(t, 3, rules.Len())

	tests := []struct {
		name    string
		target  string
		ua      string
		matched string
	}{
		{name: "path prefix", target: "/account/orders", matched: `request.path.startsWith("/account")`},
		{name: "query flag", target: "/products?nocache=1", matched: `"nocache" in request.query`},
		{name: "user agent", target: "/", ua: "Mozilla/5.0 Chrome-Lighthouse", matched: `request.userAgent.contains("Lighthouse")`},
		{name: "no rule", target: "/products?page=2", ua: "Googlebot"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.target, nil)
			req.Header.Set("User-Agent", tc.ua)
			source, ok, err := rules.Match(req)
			require.NoError(t, err)
			require.Equal(t, tc.matched != "", ok)
			require.Equal(t, tc.matched, source)
		})
	}
}

func TestBypassRulesHeaders(t *testing.T) {
	rules, err := CompileBypass([]string{`lookup(request.headers, "x-prerender-bypass") == "true"`})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/", nil)
	_, ok, err := rules.Match(req)
	require.NoError(t, err)
	require.False(t, ok)

	req.Header.Set("X-Prerender-Bypass", "true")
	_, ok, err = rules.Match(req)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBypassRulesEvalErrorIsNoMatch(t *testing.T) {
	rules, err := CompileBypass([]string{`request.headers["x-missing"] == "1"`})
	require.NoError(t, err)

	_, ok, err := rules.Match(httptest.NewRequest("GET", "/", nil))
	require.False(t, ok)
	require.Error(t, err)
}

func TestCompileBypassEmptyAndInvalid(t *testing.T) {
	rules, err := CompileBypass(nil)
	require.NoError(t, err)
	require.Zero(t, rules.Len())
	_, ok, err := rules.Match(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	require.False(t, ok)

	_, err = CompileBypass([]string{`request.path ==`})
	require.Error(t, err)

	var nilRules *BypassRules
	require.Zero(t, nilRules.Len())
}
