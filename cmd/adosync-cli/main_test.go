package main

import "testing"

func TestEnvOrFallsBackWhenUnset(t *testing.T) {
	t.Setenv("ADOSYNC_TEST_VAR", "")
	if got := envOr("ADOSYNC_TEST_VAR", "fallback"); got != "fallback" {
		t.Errorf("envOr = %q, want fallback", got)
	}
}

func TestEnvOrPrefersSetValue(t *testing.T) {
	t.Setenv("ADOSYNC_TEST_VAR", "explicit")
	if got := envOr("ADOSYNC_TEST_VAR", "fallback"); got != "explicit" {
		t.Errorf("envOr = %q, want explicit", got)
	}
}
