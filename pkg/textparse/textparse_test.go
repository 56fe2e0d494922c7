package textparse

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestSafeInt(t *testing.T) {
	cases := []struct {
		in   string
		def  int
		want int
	}{
		{"42", 0, 42},
		{" 7 ", 0, 7},
		{"-3", 0, -3},
		{"", 9, 9},
		{"abc", 9, 9},
		{"4.2", 9, 9},
	}
	for _, c := range cases {
		if got := SafeInt(c.in, c.def); got != c.want {
			t.Errorf("SafeInt(%q, %d) = %d, want %d", c.in, c.def, got, c.want)
		}
	}
}

func TestSafeFloat(t *testing.T) {
	if got := SafeFloat("1.05", 0); got != 1.05 {
		t.Fatalf("got %v", got)
	}
	if got := SafeFloat("nope", 2.5); got != 2.5 {
		t.Fatalf("default not used, got %v", got)
	}
}

func TestSafeBool(t *testing.T) {
	if !SafeBool("true", false) {
		t.Fatal("true not parsed")
	}
	if SafeBool("???", false) {
		t.Fatal("default not used")
	}
}

func TestSafeDuration(t *testing.T) {
	cases := []struct {
		in   string
		def  time.Duration
		want time.Duration
	}{
		{"90s", 0, 90 * time.Second},
		{"5m", 0, 5 * time.Minute},
		{"10", 0, 10 * time.Second}, // bare integer means seconds
		{"", time.Minute, time.Minute},
		{"junk", time.Minute, time.Minute},
	}
	for _, c := range cases {
		if got := SafeDuration(c.in, c.def); got != c.want {
			t.Errorf("SafeDuration(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestReadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	content := "first\n\n  # a comment\n  second  \n#third\nthird\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadLines(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "third"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestReadLinesMissingFile(t *testing.T) {
	if _, err := ReadLines(filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
