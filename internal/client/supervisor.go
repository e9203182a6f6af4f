package client

import (
	"context"
	"errors"
	"log"
	"time"
)

// State of the connection supervisor.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the transport and, if a stored identity exists,
// replays login to resume the session. A failed attempt leaves the state
// disconnected and is not retried; redial with backoff only happens after an
// established connection drops, and only when AutoReconnect is on.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return errors.New("already connected")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	tr, err := c.dial(ctx, c.cfg.URL)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	c.attach(tr)
	c.resumeSession(ctx)
	return nil
}

func (c *Client) attach(tr Transport) {
	c.mu.Lock()
	c.tr = tr
	c.state = StateConnected
	c.mu.Unlock()

	go c.readLoop(tr)
}

// resumeSession replays the stored identity. The server verifies the stored
// token; a rejection (credentials went stale) drops the identity so the
// application can prompt for a fresh login.
func (c *Client) resumeSession(ctx context.Context) {
	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()
	if creds == nil {
		return
	}

	if _, err := c.Login(ctx, creds.Nickname, creds.SessionToken); err != nil {
		log.Printf("session resume as %q: %v", creds.Nickname, err)
		var serverErr *ServerError
		if errors.As(err, &serverErr) {
			c.mu.Lock()
			c.creds = nil
			c.mu.Unlock()
		}
	}
}

// Close ends the session for good; no reconnect follows.
func (c *Client) Close() error {
	c.mu.Lock()
	c.state = StateClosed
	tr := c.tr
	c.tr = nil
	c.mu.Unlock()

	if tr != nil {
		return tr.Close()
	}
	return nil
}

// handleDrop runs when the read loop of tr dies. Pending calls are not
// force-rejected; they run out their timeouts.
func (c *Client) handleDrop(tr Transport, err error) {
	c.mu.Lock()
	if c.state == StateClosed || c.tr != tr {
		// Deliberate close, or a stale read loop from a replaced transport.
		c.mu.Unlock()
		return
	}
	c.tr = nil
	c.state = StateErrored
	reconnect := c.cfg.AutoReconnect
	if !reconnect {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	_ = tr.Close()
	log.Printf("connection dropped: %v", err)

	if reconnect {
		go c.reconnectLoop()
	}
}

func (c *Client) reconnectLoop() {
	backoff := c.cfg.BackoffMin
	for {
		c.mu.Lock()
		if c.state == StateClosed {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		tr, err := c.dial(ctx, c.cfg.URL)
		cancel()
		if err == nil {
			c.attach(tr)
			resumeCtx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
			c.resumeSession(resumeCtx)
			cancel()
			return
		}

		log.Printf("reconnect: %v (retrying in %s)", err, backoff)
		c.mu.Lock()
		if c.state == StateClosed {
			c.mu.Unlock()
			return
		}
		c.state = StateDisconnected
		c.mu.Unlock()

		time.Sleep(backoff)
		backoff *= 2
		if backoff > c.cfg.BackoffMax {
			backoff = c.cfg.BackoffMax
		}
	}
}
