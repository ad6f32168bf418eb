// Package sockettest is a minimal Socket.IO v4 websocket client for tests.
package sockettest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ramory-l/roomrelay"
	"github.com/ramory-l/roomrelay/engineio"
)

// DefaultTimeout bounds every wait of the client helpers.
const DefaultTimeout = 2 * time.Second

var ErrTimeout = errors.New("sockettest: timed out")

// Client is one Engine.IO session. Packets of every namespace land in one
// inbox; the Expect helpers take the first packet that matches.
type Client struct {
	// SID is the Engine.IO session ID from the open packet.
	SID string

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	inbox  []*roomrelay.Packet
	notify chan struct{}
	closed chan struct{}

	nextAck int
}

// Dial opens a session against an httptest server URL. query is added to the
// handshake request. The client is closed when the test ends.
func Dial(t testing.TB, serverURL string, query url.Values) *Client {
	t.Helper()

	u, err := url.Parse(serverURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/socket.io/"

	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", u, err)
	}

	conn.SetReadDeadline(time.Now().Add(DefaultTimeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		t.Fatalf("read open packet: %v", err)
	}
	conn.SetReadDeadline(time.Time{})

	open, err := engineio.DecodePacket(frame)
	if err != nil || open.Type != engineio.PacketTypeOpen {
		conn.Close()
		t.Fatalf("expected open packet, got %q", frame)
	}

	var hs engineio.HandshakeData
	if err := json.Unmarshal(open.Data, &hs); err != nil {
		conn.Close()
		t.Fatalf("decode handshake: %v", err)
	}

	c := &Client{
		SID:    hs.SID,
		conn:   conn,
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(c.Close)

	return c
}

// Connect attaches to a namespace and returns the socket ID the server
// assigned.
func (c *Client) Connect(nsp string) (string, error) {
	if err := c.send(&roomrelay.Packet{Type: roomrelay.PacketTypeConnect, Namespace: nsp}); err != nil {
		return "", err
	}

	p, err := c.next(DefaultTimeout, func(p *roomrelay.Packet) bool {
		return p.Namespace == nsp &&
			(p.Type == roomrelay.PacketTypeConnect || p.Type == roomrelay.PacketTypeConnectError)
	})
	if err != nil {
		return "", err
	}

	data, _ := p.Data.(map[string]any)
	if p.Type == roomrelay.PacketTypeConnectError {
		return "", fmt.Errorf("connect %s: %v", nsp, data["message"])
	}
	sid, _ := data["sid"].(string)
	return sid, nil
}

// Emit sends an event without asking for an acknowledgment.
func (c *Client) Emit(nsp, event string, args ...any) error {
	return c.send(roomrelay.EventPacket(nsp, event, args...))
}

// EmitWithAck sends an event and waits for its acknowledgment arguments.
func (c *Client) EmitWithAck(nsp, event string, args ...any) ([]any, error) {
	c.mu.Lock()
	c.nextAck++
	id := c.nextAck
	c.mu.Unlock()

	p := roomrelay.EventPacket(nsp, event, args...)
	p.ID = &id
	if err := c.send(p); err != nil {
		return nil, err
	}

	ack, err := c.next(DefaultTimeout, func(p *roomrelay.Packet) bool {
		return p.Type == roomrelay.PacketTypeAck && p.Namespace == nsp && p.ID != nil && *p.ID == id
	})
	if err != nil {
		return nil, fmt.Errorf("ack %s: %w", event, err)
	}
	args, _ = ack.Data.([]any)
	return args, nil
}

// Expect waits for an event on nsp and returns its arguments.
func (c *Client) Expect(nsp, event string) ([]any, error) {
	p, err := c.next(DefaultTimeout, isEvent(nsp, event))
	if err != nil {
		return nil, fmt.Errorf("expect %s %s: %w", nsp, event, err)
	}
	_, args, _ := p.Event()
	return args, nil
}

// ExpectNone reports whether no such event arrives within wait.
func (c *Client) ExpectNone(nsp, event string, wait time.Duration) bool {
	_, err := c.next(wait, isEvent(nsp, event))
	return errors.Is(err, ErrTimeout)
}

// ExpectDisconnect waits for the server to detach the client from nsp.
func (c *Client) ExpectDisconnect(nsp string) error {
	_, err := c.next(DefaultTimeout, func(p *roomrelay.Packet) bool {
		return p.Type == roomrelay.PacketTypeDisconnect && p.Namespace == nsp
	})
	return err
}

// Close ends the session.
func (c *Client) Close() {
	c.conn.Close()
	<-c.closed
}

// Decode converts an event argument into v.
func Decode(arg any, v any) error {
	raw, err := json.Marshal(arg)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func isEvent(nsp, event string) func(*roomrelay.Packet) bool {
	return func(p *roomrelay.Packet) bool {
		if p.Type != roomrelay.PacketTypeEvent || p.Namespace != nsp {
			return false
		}
		name, _, ok := p.Event()
		return ok && name == event
	}
}

func (c *Client) send(p *roomrelay.Packet) error {
	encoded, err := p.Encode()
	if err != nil {
		return err
	}
	return c.write(engineio.Message(encoded))
}

func (c *Client) write(p *engineio.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, p.Encode())
}

func (c *Client) next(timeout time.Duration, match func(*roomrelay.Packet) bool) (*roomrelay.Packet, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		for i, p := range c.inbox {
			if match(p) {
				c.inbox = append(c.inbox[:i], c.inbox[i+1:]...)
				c.mu.Unlock()
				return p, nil
			}
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-c.closed:
			return nil, errors.New("sockettest: connection closed")
		case <-deadline.C:
			return nil, ErrTimeout
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.closed)

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		p, err := engineio.DecodePacket(frame)
		if err != nil {
			continue
		}

		switch p.Type {
		case engineio.PacketTypePing:
			c.write(&engineio.Packet{Type: engineio.PacketTypePong, Data: p.Data})
		case engineio.PacketTypeMessage:
			packet, err := roomrelay.DecodePacket(string(p.Data))
			if err != nil {
				continue
			}
			c.mu.Lock()
			c.inbox = append(c.inbox, packet)
			c.mu.Unlock()

			select {
			case c.notify <- struct{}{}:
			default:
			}
		case engineio.PacketTypeClose:
			return
		}
	}
}
