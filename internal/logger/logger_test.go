package logger_test

import (
	"testing"

	"jobmate/matching-service/internal/logger"
)

func TestTruncate(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"  padded  ", 10, "padded"},
		{"abcdefgh", 3, "abc..."},
		{"héllo wörld", 5, "héllo..."},
		{"anything", 0, ""},
	}
	for _, c := range cases {
		if got := logger.Truncate(c.in, c.limit); got != c.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", c.in, c.limit, got, c.want)
		}
	}
}

func TestNew(t *testing.T) {
	for _, json := range []bool{false, true} {
		l, err := logger.New(json, true)
		if err != nil {
			t.Fatalf("New(json=%v) unexpected error: %v", json, err)
		}
		if l == nil {
			t.Fatalf("New(json=%v) returned nil logger", json)
		}
	}
}

func TestOrNop(t *testing.T) {
	if logger.OrNop(nil) == nil {
		t.Error("OrNop(nil) should return a usable logger")
	}
}
