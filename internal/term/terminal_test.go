package term

import (
	"strings"
	"testing"
)

func TestQueueRoundTrip(t *testing.T) {
	q := NewQueue()

	q.PushInput([]byte("ab"))
	if got := q.GetInput(); got != 'a' {
		t.Errorf("first input = %q, want 'a'", got)
	}
	if got := q.GetInput(); got != 'b' {
		t.Errorf("second input = %q, want 'b'", got)
	}
	if got := q.GetInput(); got != 0 {
		t.Errorf("drained queue returned %q, want 0", got)
	}

	for _, b := range []byte("out") {
		q.PutByte(b)
	}
	if got := q.OutputString(); got != "out" {
		t.Errorf("output = %q, want %q", got, "out")
	}
	if got := q.OutputString(); got != "" {
		t.Errorf("output not drained: %q", got)
	}
}

func TestScreenRendersOutput(t *testing.T) {
	s := NewScreen(40, 4)
	defer s.Close()

	for _, b := range []byte("hello\r\nworld") {
		s.PutByte(b)
	}

	text := s.Text()
	if !strings.Contains(text, "hello") || !strings.Contains(text, "world") {
		t.Errorf("screen text = %q, want both lines rendered", text)
	}
}

func TestScreenInput(t *testing.T) {
	s := NewScreen(40, 4)
	defer s.Close()

	s.PushInput([]byte{'x'})
	if got := s.GetInput(); got != 'x' {
		t.Errorf("input = %q, want 'x'", got)
	}
	if got := s.GetInput(); got != 0 {
		t.Errorf("drained screen returned %q, want 0", got)
	}
}
