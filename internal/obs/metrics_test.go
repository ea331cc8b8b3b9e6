package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/metrics":                "/metrics",
		"/v1/users":               "/v1/users",
		"/v1/users/alice":         "/v1/users/:username",
		"/v1/users/alice?x=1":     "/v1/users/:username",
		"/v1/users/alice/extra":   "/v1/users/alice/extra",
		"/v1/auth/login":          "/v1/auth/login",
		"/v1/auth/session?fresh=": "/v1/auth/session",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
