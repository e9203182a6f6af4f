package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"nickchat/internal/auth"
	"nickchat/internal/registry"
	"nickchat/internal/store"
)

type frameWriter struct {
	mu     sync.Mutex
	frames [][]byte
}

func (w *frameWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := make([]byte, len(message))
	copy(cp, message)
	w.frames = append(w.frames, cp)
	return nil
}

func (w *frameWriter) Close() error { return nil }

func (w *frameWriter) all() []map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(w.frames))
	for _, f := range w.frames {
		var m map[string]interface{}
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (w *frameWriter) responseFor(token string) map[string]interface{} {
	for _, f := range w.all() {
		if f["token"] == token {
			return f
		}
	}
	return nil
}

func (w *frameWriter) broadcasts(event string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, f := range w.all() {
		if f["event"] == event {
			out = append(out, f)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	tokenCfg := auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	return NewEngine(store.NewMemory(), reg, tokenCfg), reg
}

func addConn(reg *registry.Registry, addr string) (*registry.Conn, *frameWriter) {
	w := &frameWriter{}
	c := registry.NewConn(w, addr)
	reg.Add(c)
	return c, w
}

func call(t *testing.T, e *Engine, c *registry.Conn, token, action string, data interface{}) {
	t.Helper()
	frame := map[string]interface{}{"token": token, "action": action}
	if data != nil {
		frame["data"] = data
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal call: %v", err)
	}
	e.HandleFrame(context.Background(), c, raw)
}

func TestLogin_NicknameTooShort(t *testing.T) {
	e, reg := newTestEngine(t)
	c, w := addConn(reg, "10.0.0.1")

	call(t, e, c, "t1", "login", map[string]interface{}{"nickname": "al", "sessionToken": "whatever"})

	resp := w.responseFor("t1")
	if resp == nil {
		t.Fatalf("expected response")
	}
	if resp["success"] != false || resp["message"] != "Nickname too short" {
		t.Fatalf("unexpected response %v", resp)
	}
}

func TestLogin_CreatesUserAndAnnouncesPresence(t *testing.T) {
	e, reg := newTestEngine(t)
	c, w := addConn(reg, "192.168.1.50")

	call(t, e, c, "t1", "login", map[string]interface{}{"nickname": "alice"})

	resp := w.responseFor("t1")
	if resp == nil || resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}
	data := resp["data"].(map[string]interface{})
	user := data["user"].(map[string]interface{})
	if user["nickname"] != "alice" || user["uuid"] == "" {
		t.Fatalf("unexpected user %v", user)
	}
	if data["sessionToken"] == "" {
		t.Fatalf("expected a session token")
	}
	if user["latestIp"] != "192.168.x.x" {
		t.Fatalf("expected masked ip in public view, got %v", user["latestIp"])
	}
	if user["sessionToken"] != nil {
		t.Fatalf("session token must not appear inside the public user view")
	}

	presence := w.broadcasts("presence")
	if len(presence) != 1 {
		t.Fatalf("expected 1 presence broadcast, got %d", len(presence))
	}
	users := presence[0]["users"].([]interface{})
	if len(users) != 1 {
		t.Fatalf("expected alice in online set, got %v", users)
	}
}

func TestLogin_NicknameTakenAndResume(t *testing.T) {
	e, reg := newTestEngine(t)
	c1, w1 := addConn(reg, "10.0.0.1")

	call(t, e, c1, "t1", "login", map[string]interface{}{"nickname": "alice"})
	resp := w1.responseFor("t1")
	data := resp["data"].(map[string]interface{})
	sessionToken := data["sessionToken"].(string)
	aliceUUID := data["user"].(map[string]interface{})["uuid"].(string)

	c2, w2 := addConn(reg, "10.0.0.2")

	call(t, e, c2, "t2", "login", map[string]interface{}{"nickname": "alice"})
	if resp := w2.responseFor("t2"); resp["success"] != false || resp["message"] != "Nickname taken" {
		t.Fatalf("expected Nickname taken for missing token, got %v", resp)
	}

	call(t, e, c2, "t3", "login", map[string]interface{}{"nickname": "alice", "sessionToken": "wrong"})
	if resp := w2.responseFor("t3"); resp["success"] != false || resp["message"] != "Nickname taken" {
		t.Fatalf("expected Nickname taken for wrong token, got %v", resp)
	}

	call(t, e, c2, "t4", "login", map[string]interface{}{"nickname": "alice", "sessionToken": sessionToken})
	resp = w2.responseFor("t4")
	if resp["success"] != true {
		t.Fatalf("expected resume to succeed, got %v", resp)
	}
	resumedUUID := resp["data"].(map[string]interface{})["user"].(map[string]interface{})["uuid"].(string)
	if resumedUUID != aliceUUID {
		t.Fatalf("expected resume to rebind uuid %s, got %s", aliceUUID, resumedUUID)
	}
}

func TestSendMessage_RequiresLogin(t *testing.T) {
	e, reg := newTestEngine(t)
	c, w := addConn(reg, "10.0.0.1")

	call(t, e, c, "t1", "send_message", map[string]interface{}{"message": "hi"})

	if resp := w.responseFor("t1"); resp["success"] != false || resp["message"] != "User not logged in" {
		t.Fatalf("expected User not logged in, got %v", resp)
	}
}

func TestSendMessage_EmptyMessage(t *testing.T) {
	e, reg := newTestEngine(t)
	c, w := addConn(reg, "10.0.0.1")
	call(t, e, c, "t1", "login", map[string]interface{}{"nickname": "alice"})

	call(t, e, c, "t2", "send_message", map[string]interface{}{"message": ""})

	if resp := w.responseFor("t2"); resp["success"] != false || resp["message"] != "Message empty" {
		t.Fatalf("expected Message empty, got %v", resp)
	}
}

func TestSendMessage_BroadcastsToEveryoneIncludingSender(t *testing.T) {
	e, reg := newTestEngine(t)
	c1, w1 := addConn(reg, "10.0.0.1")
	c2, w2 := addConn(reg, "10.0.0.2")
	call(t, e, c1, "t1", "login", map[string]interface{}{"nickname": "alice"})
	call(t, e, c2, "t2", "login", map[string]interface{}{"nickname": "bob"})

	aliceUUID := w1.responseFor("t1")["data"].(map[string]interface{})["user"].(map[string]interface{})["uuid"].(string)

	call(t, e, c1, "t3", "send_message", map[string]interface{}{"message": "hi"})

	resp := w1.responseFor("t3")
	if resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}

	for i, w := range []*frameWriter{w1, w2} {
		msgs := w.broadcasts("message")
		if len(msgs) != 1 {
			t.Fatalf("writer %d: expected exactly 1 message broadcast, got %d", i, len(msgs))
		}
		msg := msgs[0]["message"].(map[string]interface{})
		if msg["message"] != "hi" || msg["authorUuid"] != aliceUUID {
			t.Fatalf("writer %d: unexpected message %v", i, msg)
		}
	}
}

func TestFetchMessages_EmptyIsSuccess(t *testing.T) {
	e, reg := newTestEngine(t)
	c, w := addConn(reg, "10.0.0.1")

	call(t, e, c, "t1", "fetch_messages", map[string]interface{}{"before": time.Now().UnixMilli()})

	resp := w.responseFor("t1")
	if resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}
	msgs := resp["data"].(map[string]interface{})["messages"].([]interface{})
	if len(msgs) != 0 {
		t.Fatalf("expected empty list, got %v", msgs)
	}
}

func TestFetchMessages_NewestFirst(t *testing.T) {
	e, reg := newTestEngine(t)
	c, w := addConn(reg, "10.0.0.1")
	call(t, e, c, "t1", "login", map[string]interface{}{"nickname": "alice"})
	call(t, e, c, "t2", "send_message", map[string]interface{}{"message": "first"})
	time.Sleep(2 * time.Millisecond)
	call(t, e, c, "t3", "send_message", map[string]interface{}{"message": "second"})

	call(t, e, c, "t4", "fetch_messages", map[string]interface{}{"before": time.Now().UnixMilli() + 1})

	resp := w.responseFor("t4")
	msgs := resp["data"].(map[string]interface{})["messages"].([]interface{})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].(map[string]interface{})["message"] != "second" {
		t.Fatalf("expected newest first, got %v", msgs)
	}
}

func TestUnknownAction(t *testing.T) {
	e, reg := newTestEngine(t)
	c, w := addConn(reg, "10.0.0.1")

	call(t, e, c, "t1", "dance", nil)

	if resp := w.responseFor("t1"); resp["success"] != false || resp["message"] != "Unknown action: dance" {
		t.Fatalf("unexpected response %v", resp)
	}
}

func TestMalformedFrameDropped(t *testing.T) {
	e, reg := newTestEngine(t)
	c, w := addConn(reg, "10.0.0.1")

	e.HandleFrame(context.Background(), c, []byte("not json"))
	e.HandleFrame(context.Background(), c, []byte(`{"token":"t1"}`))

	if len(w.all()) != 0 {
		t.Fatalf("expected no response for malformed frames, got %v", w.all())
	}

	// The connection keeps working afterwards.
	call(t, e, c, "t2", "fetch_messages", nil)
	if resp := w.responseFor("t2"); resp == nil || resp["success"] != true {
		t.Fatalf("expected connection to survive malformed frame, got %v", resp)
	}
}

func TestDisconnectAnnouncesShrunkOnlineSet(t *testing.T) {
	e, reg := newTestEngine(t)
	c1, w1 := addConn(reg, "10.0.0.1")
	c2, _ := addConn(reg, "10.0.0.2")
	call(t, e, c1, "t1", "login", map[string]interface{}{"nickname": "alice"})
	call(t, e, c2, "t2", "login", map[string]interface{}{"nickname": "bob"})

	e.HandleDisconnect(context.Background(), c2)

	presence := w1.broadcasts("presence")
	if len(presence) == 0 {
		t.Fatalf("expected presence broadcasts")
	}
	last := presence[len(presence)-1]
	users := last["users"].([]interface{})
	if len(users) != 1 {
		t.Fatalf("expected only alice online, got %v", users)
	}
	if users[0].(map[string]interface{})["nickname"] != "alice" {
		t.Fatalf("expected alice, got %v", users[0])
	}
}

func TestDisconnectOfUnboundConnIsSilent(t *testing.T) {
	e, reg := newTestEngine(t)
	c1, w1 := addConn(reg, "10.0.0.1")
	c2, _ := addConn(reg, "10.0.0.2")
	call(t, e, c1, "t1", "login", map[string]interface{}{"nickname": "alice"})
	before := len(w1.broadcasts("presence"))

	e.HandleDisconnect(context.Background(), c2)

	if got := len(w1.broadcasts("presence")); got != before {
		t.Fatalf("expected no presence broadcast for unbound conn, got %d extra", got-before)
	}
}
