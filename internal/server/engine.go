package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"nickchat/internal/auth"
	"nickchat/internal/model"
	"nickchat/internal/protocol"
	"nickchat/internal/registry"
	"nickchat/internal/store"
)

// Engine dispatches decoded call frames to action handlers and emits the
// correlated response plus any broadcasts. One Engine serves every
// connection of its registry; per-connection ordering comes from each
// connection's read loop invoking HandleFrame sequentially.
type Engine struct {
	store    store.Store
	registry *registry.Registry
	tokens   auth.TokenConfig
}

func NewEngine(st store.Store, reg *registry.Registry, tokens auth.TokenConfig) *Engine {
	return &Engine{store: st, registry: reg, tokens: tokens}
}

// HandleFrame processes one inbound frame. Malformed input (not JSON, no
// action) is logged and dropped without a response; there is no token to
// correlate one to.
func (e *Engine) HandleFrame(ctx context.Context, conn *registry.Conn, data []byte) {
	var call protocol.Call
	if err := json.Unmarshal(data, &call); err != nil {
		log.Printf("frame from %s: decode: %v", conn.RemoteAddr(), err)
		return
	}
	if call.Action == "" {
		log.Printf("frame from %s: missing action", conn.RemoteAddr())
		return
	}

	resp := e.dispatch(ctx, conn, call)
	out, err := json.Marshal(resp)
	if err != nil {
		log.Printf("frame from %s: encode response: %v", conn.RemoteAddr(), err)
		return
	}
	if err := conn.Send(out); err != nil {
		log.Printf("frame from %s: write response: %v", conn.RemoteAddr(), err)
	}
}

// HandleDisconnect tears down the connection's registry membership and, if it
// was bound to a user, announces the shrunk online set.
func (e *Engine) HandleDisconnect(ctx context.Context, conn *registry.Conn) {
	if userUUID := e.registry.Remove(conn); userUUID != "" {
		e.broadcastPresence(ctx)
	}
}

func (e *Engine) dispatch(ctx context.Context, conn *registry.Conn, call protocol.Call) protocol.Response {
	switch call.Action {
	case "login":
		return e.login(ctx, conn, call)
	case "send_message":
		return e.sendMessage(ctx, conn, call)
	case "fetch_messages":
		return e.fetchMessages(ctx, call)
	default:
		return protocol.Fail(call.Token, "Unknown action: "+call.Action)
	}
}

func (e *Engine) login(ctx context.Context, conn *registry.Conn, call protocol.Call) protocol.Response {
	var body struct {
		Nickname     string `json:"nickname"`
		SessionToken string `json:"sessionToken"`
	}
	if len(call.Data) > 0 {
		_ = json.Unmarshal(call.Data, &body)
	}

	if utf8.RuneCountInString(body.Nickname) < 3 {
		return protocol.Fail(call.Token, "Nickname too short")
	}

	user, registered, err := e.store.FindUserByNickname(ctx, body.Nickname)
	if err != nil {
		log.Printf("login %q: find user: %v", body.Nickname, err)
		return protocol.Fail(call.Token, "Internal error")
	}

	if registered {
		if body.SessionToken == "" || body.SessionToken != user.SessionToken {
			return protocol.Fail(call.Token, "Nickname taken")
		}
	} else {
		user = e.store.CreateUser()
		user.Nickname = body.Nickname
		token, err := auth.CreateSessionToken(user.UUID, e.tokens)
		if err != nil {
			log.Printf("login %q: mint token: %v", body.Nickname, err)
			return protocol.Fail(call.Token, "Internal error")
		}
		user.SessionToken = token
	}

	user.LatestIP = conn.RemoteAddr()
	user.UpdatedAt = time.Now().UnixMilli()
	if err := e.store.SaveUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrNicknameTaken) {
			return protocol.Fail(call.Token, "Nickname taken")
		}
		log.Printf("login %q: save user: %v", body.Nickname, err)
		return protocol.Fail(call.Token, "Internal error")
	}

	conn.Bind(user.UUID)
	e.broadcastPresence(ctx)

	return protocol.OK(call.Token, gin.H{"user": user.Public(), "sessionToken": user.SessionToken})
}

func (e *Engine) sendMessage(ctx context.Context, conn *registry.Conn, call protocol.Call) protocol.Response {
	authorUUID := conn.BoundUser()
	if authorUUID == "" {
		return protocol.Fail(call.Token, "User not logged in")
	}

	var body struct {
		Message string `json:"message"`
	}
	if len(call.Data) > 0 {
		_ = json.Unmarshal(call.Data, &body)
	}
	if body.Message == "" {
		return protocol.Fail(call.Token, "Message empty")
	}

	msg := e.store.CreateMessage()
	msg.AuthorUUID = authorUUID
	msg.Message = body.Message
	if err := e.store.SaveMessage(ctx, msg); err != nil {
		log.Printf("send_message from %s: save: %v", authorUUID, err)
		return protocol.Fail(call.Token, "Internal error")
	}

	// The sender receives the broadcast too; clients render from the
	// broadcast stream, not from this response.
	e.registry.Broadcast(protocol.EventMessage, gin.H{"message": msg})

	return protocol.OK(call.Token, gin.H{"message": msg})
}

func (e *Engine) fetchMessages(ctx context.Context, call protocol.Call) protocol.Response {
	var body struct {
		Before int64 `json:"before"`
		Limit  int   `json:"limit"`
	}
	if len(call.Data) > 0 {
		_ = json.Unmarshal(call.Data, &body)
	}
	if body.Before <= 0 {
		body.Before = time.Now().UnixMilli()
	}

	msgs, err := e.store.MessagesBefore(ctx, body.Before, body.Limit)
	if err != nil {
		log.Printf("fetch_messages before=%d: %v", body.Before, err)
		return protocol.Fail(call.Token, "Internal error")
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return protocol.OK(call.Token, gin.H{"messages": msgs})
}

// broadcastPresence announces the full authoritative online set. It runs
// after every successful login and after every disconnect of a bound
// connection, so clients reconcile from one consistent snapshot mechanism.
func (e *Engine) broadcastPresence(ctx context.Context) {
	uuids := e.registry.OnlineUUIDs()
	users := make([]model.PublicUser, 0, len(uuids))
	for _, id := range uuids {
		u, ok, err := e.store.FindUser(ctx, id)
		if err != nil {
			log.Printf("presence: find user %s: %v", id, err)
			continue
		}
		if !ok {
			continue
		}
		users = append(users, u.Public())
	}
	e.registry.Broadcast(protocol.EventPresence, gin.H{"users": users})
}
