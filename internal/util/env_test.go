package util

import (
	"reflect"
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("QUILL_TEST_INT", "42")
	t.Setenv("QUILL_TEST_BAD", "forty")
	t.Setenv("QUILL_TEST_NEG", "-3")
	t.Setenv("QUILL_TEST_BOOL", "1")
	t.Setenv("QUILL_TEST_EMPTY", "  ")
	t.Setenv("QUILL_TEST_MAP", "Em=Emma, bad ,Mark = Marcus")

	if got := GetEnvInt("QUILL_TEST_INT", 7); got != 42 {
		t.Errorf("GetEnvInt = %d, want 42", got)
	}
	if got := GetEnvInt("QUILL_TEST_BAD", 7); got != 7 {
		t.Errorf("GetEnvInt malformed = %d, want 7", got)
	}
	if got := GetEnvInt("QUILL_TEST_NEG", 7); got != 7 {
		t.Errorf("GetEnvInt negative = %d, want 7", got)
	}
	if got := GetEnvInt("QUILL_TEST_MISSING", 3); got != 3 {
		t.Errorf("GetEnvInt missing = %d, want 3", got)
	}
	if !GetEnvBool("QUILL_TEST_BOOL", false) {
		t.Error("GetEnvBool should parse 1 as true")
	}
	if got := GetEnvString("QUILL_TEST_EMPTY", "dflt"); got != "dflt" {
		t.Errorf("GetEnvString blank = %q", got)
	}
	if got := GetEnvDuration("QUILL_TEST_INT", 1, time.Second); got != 42*time.Second {
		t.Errorf("GetEnvDuration = %v", got)
	}
	want := map[string]string{"Em": "Emma", "Mark": "Marcus"}
	if got := GetEnvMap("QUILL_TEST_MAP"); !reflect.DeepEqual(got, want) {
		t.Errorf("GetEnvMap = %v, want %v", got, want)
	}
}
