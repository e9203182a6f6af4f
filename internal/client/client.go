// Package client implements the chat session protocol from the client side:
// correlated calls over a single WebSocket, broadcast demultiplexing,
// reconnection, and presence reconciliation.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nickchat/internal/model"
	"nickchat/internal/protocol"
)

const defaultCallTimeout = 5000 * time.Millisecond

// ErrCallTimeout rejects a call whose response never arrived.
var ErrCallTimeout = errors.New("call timed out")

// ServerError is a failed response: the server answered, with a
// human-readable reason.
type ServerError struct {
	Reason string
}

func (e *ServerError) Error() string { return e.Reason }

// Transport is the minimal connection surface the engine needs; the default
// is a gorilla WebSocket connection.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type DialFunc func(ctx context.Context, url string) (Transport, error)

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error { return t.conn.Close() }

func dialWebSocket(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}

// Credentials is the stored identity replayed to resume a session after a
// reconnect.
type Credentials struct {
	Nickname     string
	SessionToken string
}

type Config struct {
	URL         string
	CallTimeout time.Duration

	// Credentials, when set, are replayed via login after every successful
	// connect.
	Credentials *Credentials

	// AutoReconnect enables exponential backoff redial after a dropped
	// connection. The initial Connect never retries.
	AutoReconnect bool
	BackoffMin    time.Duration
	BackoffMax    time.Duration

	// Dial overrides the transport; tests use this.
	Dial DialFunc
}

// Client is one chat session. A single Client multiplexes calls and
// broadcasts over one transport connection at a time.
type Client struct {
	cfg  Config
	dial DialFunc

	mu       sync.Mutex
	state    State
	tr       Transport
	pending  map[string]chan protocol.Result
	handlers map[string][]func(json.RawMessage)
	creds    *Credentials

	writeMu sync.Mutex
}

func New(cfg Config) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	dial := cfg.Dial
	if dial == nil {
		dial = dialWebSocket
	}
	return &Client{
		cfg:      cfg,
		dial:     dial,
		pending:  make(map[string]chan protocol.Result),
		handlers: make(map[string][]func(json.RawMessage)),
		creds:    cfg.Credentials,
	}
}

// On registers a handler for a broadcast event. The handler receives the
// whole frame and runs on the read loop; keep it quick.
func (c *Client) On(event string, fn func(frame json.RawMessage)) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], fn)
	c.mu.Unlock()
}

// OnMessage decodes message broadcasts for the handler.
func (c *Client) OnMessage(fn func(model.Message)) {
	c.On(protocol.EventMessage, func(frame json.RawMessage) {
		var body struct {
			Message model.Message `json:"message"`
		}
		if err := json.Unmarshal(frame, &body); err != nil {
			log.Printf("message broadcast: decode: %v", err)
			return
		}
		fn(body.Message)
	})
}

// OnPresence decodes the online-set broadcast for the handler.
func (c *Client) OnPresence(fn func([]model.PublicUser)) {
	c.On(protocol.EventPresence, func(frame json.RawMessage) {
		var body struct {
			Users []model.PublicUser `json:"users"`
		}
		if err := json.Unmarshal(frame, &body); err != nil {
			log.Printf("presence broadcast: decode: %v", err)
			return
		}
		fn(body.Users)
	})
}

// Credentials returns the stored identity, nil when no login has succeeded
// and none was supplied at construction.
func (c *Client) Credentials() *Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds == nil {
		return nil
	}
	cp := *c.creds
	return &cp
}

// Call issues one correlated request and waits for its response, the call
// timeout, or ctx cancellation, whichever comes first. The pending slot is
// deregistered on every outcome.
func (c *Client) Call(ctx context.Context, action string, data interface{}) (protocol.Result, error) {
	token, err := protocol.NewToken()
	if err != nil {
		return protocol.Result{}, err
	}

	var payload json.RawMessage
	if data != nil {
		payload, err = json.Marshal(data)
		if err != nil {
			return protocol.Result{}, err
		}
	}
	frame, err := json.Marshal(protocol.Call{Token: token, Action: action, Data: payload})
	if err != nil {
		return protocol.Result{}, err
	}

	ch := make(chan protocol.Result, 1)
	c.mu.Lock()
	if c.state != StateConnected || c.tr == nil {
		c.mu.Unlock()
		return protocol.Result{}, fmt.Errorf("not connected (state %s)", c.state)
	}
	tr := c.tr
	c.pending[token] = ch
	c.mu.Unlock()

	if err := c.write(tr, frame); err != nil {
		c.forget(token)
		return protocol.Result{}, err
	}

	timer := time.NewTimer(c.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res, nil
	case <-timer.C:
		c.forget(token)
		return protocol.Result{}, ErrCallTimeout
	case <-ctx.Done():
		c.forget(token)
		return protocol.Result{}, ctx.Err()
	}
}

// Login authenticates the session and stores the returned identity so it is
// replayed after a reconnect.
func (c *Client) Login(ctx context.Context, nickname, sessionToken string) (model.PublicUser, error) {
	req := map[string]string{"nickname": nickname}
	if sessionToken != "" {
		req["sessionToken"] = sessionToken
	}

	res, err := c.Call(ctx, "login", req)
	if err != nil {
		return model.PublicUser{}, err
	}
	if !res.Success {
		return model.PublicUser{}, &ServerError{Reason: res.Message}
	}

	var body struct {
		User         model.PublicUser `json:"user"`
		SessionToken string           `json:"sessionToken"`
	}
	if err := json.Unmarshal(res.Data, &body); err != nil {
		return model.PublicUser{}, err
	}

	c.mu.Lock()
	c.creds = &Credentials{Nickname: body.User.Nickname, SessionToken: body.SessionToken}
	c.mu.Unlock()
	return body.User, nil
}

func (c *Client) SendMessage(ctx context.Context, text string) (model.Message, error) {
	res, err := c.Call(ctx, "send_message", map[string]string{"message": text})
	if err != nil {
		return model.Message{}, err
	}
	if !res.Success {
		return model.Message{}, &ServerError{Reason: res.Message}
	}

	var body struct {
		Message model.Message `json:"message"`
	}
	if err := json.Unmarshal(res.Data, &body); err != nil {
		return model.Message{}, err
	}
	return body.Message, nil
}

func (c *Client) FetchMessages(ctx context.Context, before int64, limit int) ([]model.Message, error) {
	res, err := c.Call(ctx, "fetch_messages", map[string]int64{"before": before, "limit": int64(limit)})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &ServerError{Reason: res.Message}
	}

	var body struct {
		Messages []model.Message `json:"messages"`
	}
	if err := json.Unmarshal(res.Data, &body); err != nil {
		return nil, err
	}
	return body.Messages, nil
}

func (c *Client) write(tr Transport, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return tr.WriteMessage(frame)
}

func (c *Client) forget(token string) {
	c.mu.Lock()
	delete(c.pending, token)
	c.mu.Unlock()
}

// resolve delivers a response to its pending call. Delete-under-lock makes
// the first resolution win; a second response or a post-timeout response
// matches nothing and is dropped.
func (c *Client) resolve(token string, res protocol.Result) {
	c.mu.Lock()
	ch := c.pending[token]
	delete(c.pending, token)
	c.mu.Unlock()
	if ch == nil {
		return
	}
	ch <- res
}

func (c *Client) dispatchBroadcast(event string, frame []byte) {
	c.mu.Lock()
	handlers := append([]func(json.RawMessage){}, c.handlers[event]...)
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(json.RawMessage(frame))
	}
}

func (c *Client) readLoop(tr Transport) {
	for {
		data, err := tr.ReadMessage()
		if err != nil {
			c.handleDrop(tr, err)
			return
		}

		probe, err := protocol.Identify(data)
		if err != nil {
			log.Printf("inbound frame: decode: %v", err)
			continue
		}

		switch {
		case probe.Event != "" && probe.Token == "":
			c.dispatchBroadcast(probe.Event, data)
		case probe.Token != "":
			var res protocol.Result
			if err := json.Unmarshal(data, &res); err != nil {
				log.Printf("response %s: decode: %v", probe.Token, err)
				continue
			}
			c.resolve(probe.Token, res)
		default:
			log.Printf("inbound frame: neither response nor broadcast, dropped")
		}
	}
}
