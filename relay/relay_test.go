package relay

import (
	"context"
	"net/http"
	"testing"

	"github.com/loamlabs/shoutbox/testutil"
)

func TestNotifyDelivers(t *testing.T) {
	srv := testutil.NewMockRelayServer(t)
	c := New(true, srv.URL)

	c.Notify(context.Background(), "alice", "hello there")

	payloads := srv.Payloads()
	if len(payloads) != 1 {
		t.Fatalf("got %d payloads, want 1", len(payloads))
	}
	if payloads[0]["current_user"] != "alice" || payloads[0]["message"] != "hello there" {
		t.Errorf("payload = %v", payloads[0])
	}
}

func TestNotifyDisabled(t *testing.T) {
	srv := testutil.NewMockRelayServer(t)
	c := New(false, srv.URL)

	c.Notify(context.Background(), "alice", "hello")

	if n := len(srv.Payloads()); n != 0 {
		t.Errorf("disabled relay delivered %d payloads", n)
	}
	if c.Enabled() {
		t.Errorf("Enabled() = true for disabled client")
	}
}

func TestNotifyEnabledWithoutEndpoint(t *testing.T) {
	c := New(true, "")
	if c.Enabled() {
		t.Errorf("Enabled() = true without endpoint")
	}
	// Must not panic or attempt a request.
	c.Notify(context.Background(), "alice", "hello")
}

func TestNotifySwallowsServerErrors(t *testing.T) {
	srv := testutil.NewMockRelayServer(t)
	srv.SetStatus(http.StatusInternalServerError)
	c := New(true, srv.URL)

	// Failures are logged, never returned or panicked.
	c.Notify(context.Background(), "alice", "boom")

	if n := len(srv.Payloads()); n != 1 {
		t.Errorf("got %d payloads, want 1", n)
	}
}
