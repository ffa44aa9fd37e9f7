package bridge

import (
	"context"
	"sync"

	"swarmsite/internal/protocol"
)

type pipeEnd struct {
	inbox chan protocol.Message
	peer  *pipeEnd

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPipe returns two connected in-process ends.
func NewPipe() (Link, Link) {
	a := &pipeEnd{inbox: make(chan protocol.Message, inboxSize), closed: make(chan struct{})}
	b := &pipeEnd{inbox: make(chan protocol.Message, inboxSize), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeEnd) Send(ctx context.Context, m protocol.Message) error {
	select {
	case <-p.closed:
		return ErrClosed
	case <-p.peer.closed:
		return ErrNoPeer
	default:
	}

	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	copied, err := protocol.Decode(b)
	if err != nil {
		return err
	}

	select {
	case p.peer.inbox <- copied:
		return nil
	case <-p.peer.closed:
		return ErrNoPeer
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Inbox() <-chan protocol.Message { return p.inbox }

func (p *pipeEnd) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
