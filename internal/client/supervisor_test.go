package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func respondToLogin(t *testing.T, tr *fakeTransport, uuid, nickname, token string) {
	t.Helper()
	call := tr.nextCall(t)
	if call.Action != "login" {
		t.Errorf("expected login call, got %q", call.Action)
		return
	}
	tr.inject(t, map[string]interface{}{
		"token": call.Token, "success": true,
		"data": map[string]interface{}{
			"user":         map[string]interface{}{"uuid": uuid, "nickname": nickname},
			"sessionToken": token,
		},
	})
}

func TestConnect_FailureLeavesDisconnected(t *testing.T) {
	c := New(Config{Dial: func(ctx context.Context, url string) (Transport, error) {
		return nil, errors.New("refused")
	}})

	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected dial error")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("expected disconnected after failed connect, got %s", c.State())
	}
}

func TestConnect_TransitionsToConnected(t *testing.T) {
	tr := newFakeTransport()
	c := newConnectedClient(t, Config{}, tr)

	if c.State() != StateConnected {
		t.Fatalf("expected connected, got %s", c.State())
	}
}

func TestConnect_ReplaysStoredIdentity(t *testing.T) {
	tr := newFakeTransport()
	go respondToLogin(t, tr, "u1", "alice", "tok-1")

	cfg := Config{Credentials: &Credentials{Nickname: "alice", SessionToken: "tok-0"}}
	c := newConnectedClient(t, cfg, tr)

	if c.State() != StateConnected {
		t.Fatalf("expected connected, got %s", c.State())
	}
	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()
	if creds == nil || creds.SessionToken != "tok-1" {
		t.Fatalf("expected refreshed credentials after resume, got %+v", creds)
	}
}

func TestConnect_ReplayedIdentityCarriesStoredToken(t *testing.T) {
	tr := newFakeTransport()

	type loginBody struct {
		Nickname     string `json:"nickname"`
		SessionToken string `json:"sessionToken"`
	}
	seen := make(chan loginBody, 1)
	go func() {
		call := tr.nextCall(t)
		var body loginBody
		_ = json.Unmarshal(call.Data, &body)
		seen <- body
		tr.inject(t, map[string]interface{}{"token": call.Token, "success": true,
			"data": map[string]interface{}{"user": map[string]interface{}{"uuid": "u1", "nickname": "alice"}, "sessionToken": "tok-1"}})
	}()

	cfg := Config{Credentials: &Credentials{Nickname: "alice", SessionToken: "tok-0"}}
	newConnectedClient(t, cfg, tr)

	body := <-seen
	if body.Nickname != "alice" || body.SessionToken != "tok-0" {
		t.Fatalf("expected stored identity replayed, got %+v", body)
	}
}

func TestDrop_WithoutAutoReconnectGoesDisconnected(t *testing.T) {
	tr := newFakeTransport()
	c := newConnectedClient(t, Config{}, tr)

	tr.Close()

	deadline := time.Now().Add(2 * time.Second)
	for c.State() != StateDisconnected {
		if time.Now().After(deadline) {
			t.Fatalf("expected disconnected after drop, got %s", c.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDrop_AutoReconnectRedialsAndResumes(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	var dials atomic.Int32

	cfg := Config{
		AutoReconnect: true,
		BackoffMin:    time.Millisecond,
		BackoffMax:    5 * time.Millisecond,
		Credentials:   &Credentials{Nickname: "alice", SessionToken: "tok-0"},
		Dial: func(ctx context.Context, url string) (Transport, error) {
			if dials.Add(1) == 1 {
				return first, nil
			}
			return second, nil
		},
	}

	// Both transports answer the resume login.
	go respondToLogin(t, first, "u1", "alice", "tok-0")
	go respondToLogin(t, second, "u1", "alice", "tok-0")

	c := New(cfg)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	first.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if dials.Load() >= 2 && c.State() == StateConnected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected reconnect, dials=%d state=%s", dials.Load(), c.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClose_StopsReconnecting(t *testing.T) {
	tr := newFakeTransport()
	var dials atomic.Int32

	cfg := Config{
		AutoReconnect: true,
		BackoffMin:    time.Millisecond,
		Dial: func(ctx context.Context, url string) (Transport, error) {
			dials.Add(1)
			return tr, nil
		},
	}
	c := New(cfg)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("expected closed, got %s", c.State())
	}

	time.Sleep(20 * time.Millisecond)
	if dials.Load() != 1 {
		t.Fatalf("expected no redial after Close, dials=%d", dials.Load())
	}
}
