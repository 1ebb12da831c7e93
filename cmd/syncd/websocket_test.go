package main

import "testing"

// TestLocalOrigin covers the event feed's origin policy.
func TestLocalOrigin(t *testing.T) {
	const listen = "localhost:8790"

	cases := []struct {
		origin string
		want   bool
	}{
		{"", true}, // non-browser client
		{"http://localhost:8790", true},
		{"http://localhost:3000", true}, // dev UI on another local port
		{"http://127.0.0.1:8790", true},
		{"http://[::1]:8790", true},
		{"https://evil.example.com", false},
		{"http://localhost.example.com", false},
		{"://bad-origin", false},
	}
	for _, tc := range cases {
		if got := localOrigin(tc.origin, listen); got != tc.want {
			t.Errorf("localOrigin(%q) = %v, want %v", tc.origin, got, tc.want)
		}
	}
}
