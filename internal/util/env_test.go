package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("TEST_BOOL", "yes")
	if !ParseBoolEnv("TEST_BOOL", false) {
		t.Error("expected 'yes' to parse as true")
	}
	t.Setenv("TEST_BOOL", "off")
	if ParseBoolEnv("TEST_BOOL", true) {
		t.Error("expected 'off' to parse as false")
	}
	t.Setenv("TEST_BOOL", "banana")
	if !ParseBoolEnv("TEST_BOOL", true) {
		t.Error("expected invalid value to return default")
	}
	if ParseBoolEnv("TEST_BOOL_UNSET", false) {
		t.Error("expected unset variable to return default")
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := ParseIntEnv("TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("TEST_INT", "not-a-number")
	if got := ParseIntEnv("TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("TEST_DUR", "5m")
	if got := ParseDurationEnv("TEST_DUR", time.Second); got != 5*time.Minute {
		t.Errorf("expected 5m, got %v", got)
	}
	t.Setenv("TEST_DUR", "604800")
	if got := ParseDurationEnv("TEST_DUR", time.Second); got != 7*24*time.Hour {
		t.Errorf("expected 7 days from bare seconds, got %v", got)
	}
	t.Setenv("TEST_DUR", "soon")
	if got := ParseDurationEnv("TEST_DUR", 3*time.Second); got != 3*time.Second {
		t.Errorf("expected default, got %v", got)
	}
}
