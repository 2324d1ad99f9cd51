package util

import (
	"strings"
	"testing"
)

func TestValidIdentifier(t *testing.T) {
	valid := []string{
		"nurse-1",
		"device_42",
		"clinic.main",
		"tenant:user-9",
		"a",
		strings.Repeat("x", 128),
	}
	for _, s := range valid {
		if !ValidIdentifier(s) {
			t.Errorf("ValidIdentifier(%q) = false, want true", s)
		}
	}

	invalid := []string{
		"",
		" nurse-1",
		"nurse 1",
		"nurse/1",
		"<script>",
		strings.Repeat("x", 129),
	}
	for _, s := range invalid {
		if ValidIdentifier(s) {
			t.Errorf("ValidIdentifier(%q) = true, want false", s)
		}
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := SanitizeInput("  <b>hi</b>  "); got != "&lt;b&gt;hi&lt;/b&gt;" {
		t.Errorf("SanitizeInput() = %q", got)
	}
}

func TestContainsSuspicious(t *testing.T) {
	if !ContainsSuspicious("<SCRIPT>alert(1)</SCRIPT>") {
		t.Error("ContainsSuspicious() = false for script payload")
	}
	if ContainsSuspicious("plain text value") {
		t.Error("ContainsSuspicious() = true for plain text")
	}
}
