package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is the owning record for a registered nickname. SessionToken is the
// opaque secret a client must replay to re-claim the nickname; LatestIP is
// stored raw and must only ever leave the process through Public().
type User struct {
	UUID         string `json:"uuid"`
	Nickname     string `json:"nickname"`
	SessionToken string `json:"sessionToken,omitempty"`
	LatestIP     string `json:"latestIp,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// PublicUser is the view of a User safe to send to other clients: no session
// token, network address masked.
type PublicUser struct {
	UUID      string `json:"uuid"`
	Nickname  string `json:"nickname"`
	LatestIP  string `json:"latestIp"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		UUID:      u.UUID,
		Nickname:  u.Nickname,
		LatestIP:  MaskAddr(u.LatestIP),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

type Message struct {
	UUID       string `json:"uuid"`
	AuthorUUID string `json:"authorUuid"`
	Message    string `json:"message"`
	CreatedAt  int64  `json:"createdAt"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// NewUser allocates an unsaved user record with a fresh UUID and timestamps.
func NewUser() User {
	now := time.Now().UnixMilli()
	return User{UUID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
}

// NewMessage allocates an unsaved message record.
func NewMessage() Message {
	now := time.Now().UnixMilli()
	return Message{UUID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
}

// MaskAddr hides the host-identifying half of a dotted-decimal IPv4 address,
// keeping the first two groups. Non-IPv4 input masks to the empty string.
func MaskAddr(addr string) string {
	if i := strings.LastIndexByte(addr, ':'); i != -1 && strings.Count(addr, ":") == 1 {
		addr = addr[:i]
	}
	parts := strings.Split(addr, ".")
	if len(parts) != 4 {
		return ""
	}
	return parts[0] + "." + parts[1] + ".x.x"
}
