package main

import "testing"

func TestBuildAddress(t *testing.T) {
	for port, want := range map[string]string{
		"3001":  "127.0.0.1:3001",
		"8080":  "127.0.0.1:8080",
		"65535": "127.0.0.1:65535",
	} {
		if got := buildAddress(port); got != want {
			t.Errorf("buildAddress(%q) = %q, want %q", port, got, want)
		}
	}
}
