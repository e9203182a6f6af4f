package client

import (
	"reflect"
	"testing"

	"nickchat/internal/model"
)

func user(uuid, nickname string) model.PublicUser {
	return model.PublicUser{UUID: uuid, Nickname: nickname}
}

func names(entries []PresenceEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.User.Nickname+":"+string(e.Status))
	}
	return out
}

func TestPresence_ApplyMarksOnlineAndOffline(t *testing.T) {
	v := NewPresenceView()

	v.Apply([]model.PublicUser{user("u1", "alice"), user("u2", "bob")})
	v.Apply([]model.PublicUser{user("u1", "alice")})

	got := names(v.Users())
	want := []string{"alice:online", "bob:offline"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPresence_ApplyIsIdempotent(t *testing.T) {
	v := NewPresenceView()
	snapshot := []model.PublicUser{user("u2", "bob"), user("u1", "alice")}

	v.Apply(snapshot)
	first := names(v.Users())
	v.Apply(snapshot)
	second := names(v.Users())

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("view changed on reapply: %v then %v", first, second)
	}
}

func TestPresence_OfflineUsersNeverDropped(t *testing.T) {
	v := NewPresenceView()

	v.Apply([]model.PublicUser{user("u1", "alice")})
	v.Apply(nil)
	v.Apply(nil)

	entries := v.Users()
	if len(entries) != 1 || entries[0].Status != StatusOffline {
		t.Fatalf("expected alice retained offline, got %v", names(entries))
	}

	// A later snapshot brings the same user back online.
	v.Apply([]model.PublicUser{user("u1", "alice")})
	entries = v.Users()
	if entries[0].Status != StatusOnline {
		t.Fatalf("expected alice back online, got %v", names(entries))
	}
}

func TestPresence_SortOnlineFirstThenNickname(t *testing.T) {
	v := NewPresenceView()

	v.Apply([]model.PublicUser{user("u1", "zoe"), user("u2", "adam"), user("u3", "mia")})
	v.Apply([]model.PublicUser{user("u1", "zoe"), user("u3", "mia")})

	got := names(v.Users())
	want := []string{"mia:online", "zoe:online", "adam:offline"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPresence_ObserveAddsUnknownWithoutOverwriting(t *testing.T) {
	v := NewPresenceView()

	v.Observe(user("u1", "alice"))
	if entries := v.Users(); entries[0].Status != StatusUnknown {
		t.Fatalf("expected unknown status, got %v", names(entries))
	}

	v.Apply([]model.PublicUser{user("u1", "alice")})
	v.Observe(user("u1", "alice"))
	if entries := v.Users(); entries[0].Status != StatusOnline {
		t.Fatalf("expected observe to keep online status, got %v", names(entries))
	}
}
