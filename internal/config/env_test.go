// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"
	"time"
)

func TestParseBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{"1", false, true},
		{"no", true, false},
		{"0", true, false},
		{"maybe", true, true},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Setenv("ZM_TEST_BOOL", tt.value)
		if got := ParseBool("ZM_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBool(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseInt_InvalidFallsBack(t *testing.T) {
	t.Setenv("ZM_TEST_INT", "abc")
	if got := ParseInt("ZM_TEST_INT", 7); got != 7 {
		t.Errorf("got %d, want 7", got)
	}
	t.Setenv("ZM_TEST_INT", "42")
	if got := ParseInt("ZM_TEST_INT", 7); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestParseDuration(t *testing.T) {
	t.Setenv("ZM_TEST_DUR", "250ms")
	if got := ParseDuration("ZM_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Errorf("got %s", got)
	}
	t.Setenv("ZM_TEST_DUR", "soon")
	if got := ParseDuration("ZM_TEST_DUR", time.Second); got != time.Second {
		t.Errorf("invalid duration should fall back, got %s", got)
	}
}

func TestParseStringList(t *testing.T) {
	t.Setenv("ZM_TEST_LIST", " a, ,b ,")
	got := ParseStringList("ZM_TEST_LIST", nil)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v", got)
	}
	t.Setenv("ZM_TEST_LIST", " , ")
	def := []string{"x"}
	if got := ParseStringList("ZM_TEST_LIST", def); len(got) != 1 || got[0] != "x" {
		t.Errorf("blank list should fall back, got %v", got)
	}
}
