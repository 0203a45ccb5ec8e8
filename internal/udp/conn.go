package udp

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/juicebox-server/juicebox-service/pkg/juicebox"
)

// Conn is the datagram stream of one remote address
type Conn struct {
	l    *Listener
	addr *net.UDPAddr
	key  string

	inbox     chan datagram
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	counter uint16
	seeded  bool
}

func newConn(l *Listener, addr *net.UDPAddr) *Conn {
	return &Conn{
		l:     l,
		addr:  addr,
		key:   addr.String(),
		inbox: make(chan datagram, l.inboxSize),
		done:  make(chan struct{}),
	}
}

// RemoteAddr returns the device address
func (c *Conn) RemoteAddr() string {
	return c.key
}

// ReadEvent blocks for the next datagram. A datagram that matches neither
// message grammar is returned as a juicebox.DecodeError.
func (c *Conn) ReadEvent(ctx context.Context) (juicebox.Event, error) {
	select {
	case <-ctx.Done():
		return juicebox.Event{}, ctx.Err()
	case <-c.done:
		return juicebox.Event{Kind: juicebox.EventDisconnect}, nil
	case d := <-c.inbox:
		msg, err := juicebox.ParseMessage(d.data)
		if err != nil {
			return juicebox.Event{}, err
		}

		ev := juicebox.Event{Kind: juicebox.EventKeepalive, Message: msg, Received: d.at}
		if msg.IsData() {
			ev.Kind = juicebox.EventStatusReport
			c.seedCounter(msg.Sequence)
		}
		return ev, nil
	}
}

// seedCounter continues the command counter from the device's sequence
func (c *Conn) seedCounter(seq int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seeded || seq <= 0 {
		return
	}
	c.counter = uint16(seq % (juicebox.MaxCounter + 1))
	c.seeded = true
}

// SendCurrentCommand encodes and writes one command datagram
func (c *Conn) SendCurrentCommand(offlineAmps, instantAmps uint8) error {
	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}

	c.mu.Lock()
	c.counter = juicebox.NextCounter(c.counter)
	cmd := juicebox.Command{
		Time:        c.l.now(),
		InstantAmps: instantAmps,
		OfflineAmps: offlineAmps,
		Counter:     c.counter,
	}
	c.mu.Unlock()

	b, err := cmd.Encode()
	if err != nil {
		return err
	}
	if err := c.l.write(b, c.addr); err != nil {
		return fmt.Errorf("write to %s: %w", c.key, err)
	}

	log.Debug().Str("addr", c.key).Str("command", string(b)).Msg("Command sent")
	return nil
}

// Close detaches the stream; a later datagram from the same address opens a new one
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.l.detach(c)
	})
	return nil
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
