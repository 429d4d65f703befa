package letterbuf

import (
	"errors"
	"testing"

	"github.com/loqalabs/loqa-signs/internal/recognition"
)

func newStore(t *testing.T, b, h int) *Store {
	t.Helper()
	s, err := New(b, h)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func letters(s string) []recognition.Letter {
	out := make([]recognition.Letter, 0, len(s))
	for _, r := range s {
		out = append(out, recognition.Letter(string(r)))
	}
	return out
}

func join(ls []recognition.Letter) string {
	var s string
	for _, l := range ls {
		s += string(l)
	}
	return s
}

func TestNewRejectsInvalidLimits(t *testing.T) {
	for _, tc := range [][2]int{{0, 1}, {1, 0}, {-3, 4}} {
		if _, err := New(tc[0], tc[1]); !errors.Is(err, ErrInvalidLimit) {
			t.Fatalf("New(%d, %d): expected ErrInvalidLimit, got %v", tc[0], tc[1], err)
		}
	}
}

func TestAppendEvictsOldestAndSuppressesRepeats(t *testing.T) {
	s := newStore(t, 3, 8)
	var accepted []bool
	for _, l := range letters("AABCD") {
		accepted = append(accepted, s.TryAppend(l))
	}
	want := []bool{true, false, true, true, true}
	for i := range want {
		if accepted[i] != want[i] {
			t.Fatalf("append %d: expected %v, got %v", i, want[i], accepted[i])
		}
	}
	if got := join(s.Buffer()); got != "BCD" {
		t.Fatalf("expected buffer BCD, got %s", got)
	}
	if got := s.Word(); got != "BCD" {
		t.Fatalf("expected word BCD, got %s", got)
	}
	if got := join(s.History()); got != "DCBA" {
		t.Fatalf("expected history DCBA, got %s", got)
	}
}

func TestRepeatAllowedAfterInterveningLetter(t *testing.T) {
	s := newStore(t, 10, 10)
	for _, l := range letters("AABA") {
		s.TryAppend(l)
	}
	if got := s.Word(); got != "ABA" {
		t.Fatalf("expected ABA, got %s", got)
	}
}

func TestRejectedAppendDoesNotMutate(t *testing.T) {
	s := newStore(t, 4, 4)
	s.TryAppend("Q")
	if s.TryAppend("Q") {
		t.Fatal("expected immediate repeat to be rejected")
	}
	if s.TryAppend(recognition.None) {
		t.Fatal("expected empty letter to be rejected")
	}
	if join(s.Buffer()) != "Q" || join(s.History()) != "Q" {
		t.Fatalf("unexpected state buffer=%v history=%v", s.Buffer(), s.History())
	}
}

func TestHistoryTruncatesMostRecentFirst(t *testing.T) {
	s := newStore(t, 24, 3)
	for _, l := range letters("HELLOWORLD") {
		s.TryAppend(l)
	}
	if got := join(s.History()); got != "DLR" {
		t.Fatalf("expected history DLR, got %s", got)
	}
}

func TestResets(t *testing.T) {
	s := newStore(t, 8, 8)
	for _, l := range letters("HELO") {
		s.TryAppend(l)
	}
	s.ResetBuffer()
	if s.Word() != "" || s.Len() != 0 {
		t.Fatalf("expected empty word after ResetBuffer, got %q", s.Word())
	}
	if join(s.History()) != "OLEH" {
		t.Fatalf("history must survive ResetBuffer, got %v", s.History())
	}
	s.ResetHistory()
	if len(s.History()) != 0 {
		t.Fatal("expected empty history")
	}
	s.TryAppend("X")
	s.ResetAll()
	if len(s.Buffer()) != 0 || len(s.History()) != 0 {
		t.Fatal("expected ResetAll to clear both")
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := newStore(t, 4, 4)
	s.TryAppend("A")
	buf := s.Buffer()
	hist := s.History()
	buf[0] = "Z"
	hist[0] = "Z"
	if s.Word() != "A" || s.History()[0] != "A" {
		t.Fatal("snapshot mutation leaked into store")
	}
}

func TestBufferNeverExceedsLimit(t *testing.T) {
	s := newStore(t, 5, 2)
	for i := 0; i < 100; i++ {
		s.TryAppend(recognition.SupportedSigns[i%len(recognition.SupportedSigns)])
		if s.Len() > 5 || len(s.History()) > 2 {
			t.Fatalf("limits exceeded at step %d", i)
		}
	}
}
