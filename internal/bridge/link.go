// Package bridge carries protocol messages between the resolver and the
// site manager. Every message is serialized on the way through, so the two
// sides never share memory even when they run in one process.
package bridge

import (
	"context"
	"errors"

	"swarmsite/internal/protocol"
)

var (
	// ErrNoPeer means nothing is attached on the other side of the link.
	ErrNoPeer = errors.New("bridge: no peer attached")
	ErrClosed = errors.New("bridge: link closed")
)

// Link is one end of a message channel. Messages from one sender arrive in
// send order. Inbox is never closed; readers stop on their own context.
type Link interface {
	Send(ctx context.Context, m protocol.Message) error
	Inbox() <-chan protocol.Message
	Close() error
}

const inboxSize = 256
