package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"swarmsite/internal/protocol"
)

const writeWait = 10 * time.Second

type wsPeer struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (p *wsPeer) write(ctx context.Context, b []byte) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_ = p.conn.SetWriteDeadline(deadline)
	return p.conn.WriteMessage(websocket.TextMessage, b)
}

// readLoop decodes frames into inbox until the connection fails or stop
// is closed.
func readLoop(conn *websocket.Conn, inbox chan<- protocol.Message, stop <-chan struct{}) error {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m, err := protocol.Decode(b)
		if err != nil {
			log.Printf("bridge: dropping frame: %v", err)
			continue
		}
		select {
		case inbox <- m:
		case <-stop:
			return ErrClosed
		}
	}
}

// Hub is the resolver end of a websocket link. Site managers attach by
// dialing the hub; Send goes to the first attached peer.
type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers []*wsPeer

	inbox chan protocol.Message

	closeOnce sync.Once
	closed    chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		inbox:  make(chan protocol.Message, inboxSize),
		closed: make(chan struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("bridge: upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	p := &wsPeer{conn: conn}

	h.mu.Lock()
	h.peers = append(h.peers, p)
	n := len(h.peers)
	h.mu.Unlock()
	log.Printf("bridge: peer %s attached (%d total)", r.RemoteAddr, n)

	err = readLoop(conn, h.inbox, h.closed)
	h.drop(p)
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, ErrClosed) {
		log.Printf("bridge: peer %s: %v", r.RemoteAddr, err)
	}
	log.Printf("bridge: peer %s detached", r.RemoteAddr)
}

func (h *Hub) drop(p *wsPeer) {
	h.mu.Lock()
	for i, cur := range h.peers {
		if cur == p {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			break
		}
	}
	h.mu.Unlock()
	_ = p.conn.Close()
}

// Peers reports how many managers are attached.
func (h *Hub) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *Hub) Send(ctx context.Context, m protocol.Message) error {
	select {
	case <-h.closed:
		return ErrClosed
	default:
	}
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if len(h.peers) == 0 {
		h.mu.Unlock()
		return ErrNoPeer
	}
	p := h.peers[0]
	h.mu.Unlock()

	if err := p.write(ctx, b); err != nil {
		h.drop(p)
		return fmt.Errorf("bridge: send %s: %w", m.Kind(), err)
	}
	return nil
}

func (h *Hub) Inbox() <-chan protocol.Message { return h.inbox }

func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		close(h.closed)
		h.mu.Lock()
		peers := h.peers
		h.peers = nil
		h.mu.Unlock()
		for _, p := range peers {
			_ = p.conn.Close()
		}
	})
	return nil
}

// Client is the manager end of a websocket link. Run keeps it connected,
// redialing after a drop.
type Client struct {
	url      string
	attempts int
	delay    time.Duration

	// OnConnect, when set, runs after every successful dial.
	OnConnect func()

	mu   sync.Mutex
	peer *wsPeer

	inbox chan protocol.Message

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient prepares a client for url. attempts bounds consecutive failed
// dials before Run gives up.
func NewClient(url string, attempts int, delay time.Duration) *Client {
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		url:      url,
		attempts: attempts,
		delay:    delay,
		inbox:    make(chan protocol.Message, inboxSize),
		closed:   make(chan struct{}),
	}
}

func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.closed:
			return nil
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			failures++
			if failures >= c.attempts {
				return fmt.Errorf("bridge: dial %s: giving up after %d attempts: %w", c.url, failures, err)
			}
			log.Printf("bridge: dial %s failed (%d/%d): %v", c.url, failures, c.attempts, err)
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}
		failures = 0
		log.Printf("bridge: connected to %s", c.url)

		p := &wsPeer{conn: conn}
		c.mu.Lock()
		c.peer = p
		c.mu.Unlock()
		if c.OnConnect != nil {
			c.OnConnect()
		}

		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
			case <-c.closed:
			case <-stop:
				return
			}
			_ = conn.Close()
		}()
		err = readLoop(conn, c.inbox, c.closed)
		close(stop)

		c.mu.Lock()
		c.peer = nil
		c.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		log.Printf("bridge: connection to %s lost: %v", c.url, err)
		if !c.sleep(ctx) {
			return nil
		}
	}
}

func (c *Client) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.closed:
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) Send(ctx context.Context, m protocol.Message) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	p := c.peer
	c.mu.Unlock()
	if p == nil {
		return ErrNoPeer
	}
	if err := p.write(ctx, b); err != nil {
		return fmt.Errorf("bridge: send %s: %w", m.Kind(), err)
	}
	return nil
}

func (c *Client) Inbox() <-chan protocol.Message { return c.inbox }

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		p := c.peer
		c.mu.Unlock()
		if p != nil {
			_ = p.conn.Close()
		}
	})
	return nil
}
