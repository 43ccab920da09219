package events

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
)

func TestServerDeliversCompletionEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()

	srv := New(dir + "/events.sock")
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve(ctx)

	c, err := net.Dial("unix", dir+"/events.sock")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	for {
		srv.mutex.Lock()
		n := len(srv.clients)
		srv.mutex.Unlock()
		if n > 0 {
			break
		}
	}

	srv.TXComplete(42, 7, 0x55, 8)
	r := bufio.NewScanner(c)
	if !r.Scan() {
		t.Fatal("expected to scan a line of JSON")
	}
	var ev CompletionEvent
	if err := json.Unmarshal(r.Bytes(), &ev); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if ev.Kind != TXComplete || ev.Context != 42 || ev.Peer != 7 || ev.Tag != 0x55 || ev.Len != 8 {
		t.Errorf("event = %+v, want TXComplete{Context:42, Peer:7, Tag:0x55, Len:8}", ev)
	}

	c.Close()
	srv.eventC <- nil
	srv.removeClient(nil)

	srv.Failed(99, context.DeadlineExceeded)

	for {
		srv.mutex.Lock()
		n := len(srv.clients)
		srv.mutex.Unlock()
		if n == 0 {
			break
		}
	}

	cancel()
	srv.servingWG.Wait()
}

func TestKindString(t *testing.T) {
	tests := []struct {
		k    Kind
		want string
	}{
		{TXComplete, "TX_COMPLETE"},
		{RXComplete, "RX_COMPLETE"},
		{Failed, "FAILED"},
		{Kind(99), "UNKNOWN_KIND_99"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.k, got, tt.want)
		}
	}
}
