package config

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	t.Setenv("CFG_TEST_STR", "value")
	if got := String("CFG_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
	if got := String("CFG_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestRequiredString(t *testing.T) {
	if _, err := RequiredString("CFG_TEST_REQUIRED_MISSING"); err == nil {
		t.Fatal("expected error for missing required value")
	}
	t.Setenv("CFG_TEST_REQUIRED", "set")
	v, err := RequiredString("CFG_TEST_REQUIRED")
	if err != nil || v != "set" {
		t.Fatalf("expected set, got %q err=%v", v, err)
	}
}

func TestPort(t *testing.T) {
	t.Setenv("CFG_TEST_PORT", "8080")
	if v, err := Port("CFG_TEST_PORT", "9090"); err != nil || v != "8080" {
		t.Fatalf("expected 8080, got %q err=%v", v, err)
	}
	t.Setenv("CFG_TEST_PORT", "70000")
	if _, err := Port("CFG_TEST_PORT", "9090"); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("CFG_TEST_DUR", "45s")
	if got := Duration("CFG_TEST_DUR", time.Minute); got != 45*time.Second {
		t.Fatalf("expected 45s, got %s", got)
	}
	// Bare integers are minutes.
	t.Setenv("CFG_TEST_DUR", "5")
	if got := Duration("CFG_TEST_DUR", time.Minute); got != 5*time.Minute {
		t.Fatalf("expected 5m, got %s", got)
	}
	t.Setenv("CFG_TEST_DUR", "junk")
	if got := Duration("CFG_TEST_DUR", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %s", got)
	}
}
