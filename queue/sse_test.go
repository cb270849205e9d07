package queue

import (
	"strings"
	"testing"
)

func TestSSEScanner_NamedEvents(t *testing.T) {
	input := "event: STATUS_UPDATE\ndata: {\"totalQueueSize\":50,\"userQueuePosition\":10,\"usersBehind\":40}\n\nevent: HEARTBEAT\ndata: {}\n\n"
	sc := newSSEScanner(strings.NewReader(input))

	if !sc.Next() {
		t.Fatal("expected first event")
	}
	ev := sc.Event()
	if ev.Name != "STATUS_UPDATE" {
		t.Errorf("Name = %q, want STATUS_UPDATE", ev.Name)
	}
	if !strings.Contains(ev.Data, `"userQueuePosition":10`) {
		t.Errorf("Data = %q, want snapshot JSON", ev.Data)
	}

	if !sc.Next() {
		t.Fatal("expected second event")
	}
	if sc.Event().Name != "HEARTBEAT" {
		t.Errorf("Name = %q, want HEARTBEAT", sc.Event().Name)
	}

	if sc.Next() {
		t.Error("expected no more events")
	}
	if err := sc.Err(); err != nil {
		t.Errorf("unexpected error: %#v", err)
	}
}

func TestSSEScanner_MultipleDataLines(t *testing.T) {
	sc := newSSEScanner(strings.NewReader("data: one\ndata: two\n\n"))
	if !sc.Next() {
		t.Fatal("expected event")
	}
	if got := sc.Event().Data; got != "one\ntwo" {
		t.Errorf("Data = %q, want joined lines", got)
	}
}

func TestSSEScanner_CommentsIgnored(t *testing.T) {
	sc := newSSEScanner(strings.NewReader(": keepalive\nevent: ALLOWED_IN\ndata: {\"message\":\"go\"}\n\n"))
	if !sc.Next() {
		t.Fatal("expected event")
	}
	if sc.Event().Name != "ALLOWED_IN" {
		t.Errorf("Name = %q, want ALLOWED_IN", sc.Event().Name)
	}
}

func TestSSEScanner_EventNameOnly(t *testing.T) {
	// Heartbeats may arrive as a bare event line with no data.
	sc := newSSEScanner(strings.NewReader("event: HEARTBEAT\n\n"))
	if !sc.Next() {
		t.Fatal("expected event")
	}
	ev := sc.Event()
	if ev.Name != "HEARTBEAT" || ev.Data != "" {
		t.Errorf("event mismatch: %#v", ev)
	}
}

func TestSSEScanner_FinalEventWithoutNewline(t *testing.T) {
	sc := newSSEScanner(strings.NewReader("event: ALLOWED_IN\ndata: {}"))
	if !sc.Next() {
		t.Fatal("expected event despite missing trailing blank line")
	}
	if sc.Event().Name != "ALLOWED_IN" {
		t.Errorf("Name = %q, want ALLOWED_IN", sc.Event().Name)
	}
	if sc.Next() {
		t.Error("expected stream end")
	}
	if err := sc.Err(); err != nil {
		t.Errorf("EOF should not surface as error: %#v", err)
	}
}

func TestSSEScanner_CRLF(t *testing.T) {
	sc := newSSEScanner(strings.NewReader("event: HEARTBEAT\r\n\r\n"))
	if !sc.Next() {
		t.Fatal("expected event")
	}
	if sc.Event().Name != "HEARTBEAT" {
		t.Errorf("Name = %q, want HEARTBEAT", sc.Event().Name)
	}
}
