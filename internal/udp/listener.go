// Package udp carries JuiceBox datagrams between the devices and the session manager.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/juicebox-server/juicebox-service/internal/session"
)

// maxDatagram is the largest UDP payload
const maxDatagram = 65507

// ErrClosed is returned by Accept once the listener has stopped
var ErrClosed = errors.New("udp: listener closed")

type datagram struct {
	data []byte
	at   time.Time
}

// Listener demultiplexes one UDP socket into a Conn per remote address
type Listener struct {
	conn       *net.UDPConn
	readBuffer int
	inboxSize  int
	now        func() time.Time

	mu     sync.Mutex
	peers  map[string]*Conn
	closed bool

	accept chan *Conn
	done   chan struct{}
}

// Listen binds the UDP socket. readBuffer bounds a single datagram; inboxSize
// bounds the datagrams queued per remote address.
func Listen(bindAddr string, readBuffer, inboxSize int) (*Listener, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", bindAddr, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", bindAddr, err)
	}

	if readBuffer <= 0 || readBuffer > maxDatagram {
		readBuffer = maxDatagram
	}
	if inboxSize < 1 {
		inboxSize = 1
	}

	return &Listener{
		conn:       conn,
		readBuffer: readBuffer,
		inboxSize:  inboxSize,
		now:        time.Now,
		peers:      make(map[string]*Conn),
		accept:     make(chan *Conn, 16),
		done:       make(chan struct{}),
	}, nil
}

// Addr returns the bound address
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Serve reads datagrams until ctx is cancelled or the socket fails
func (l *Listener) Serve(ctx context.Context) error {
	log.Info().Str("addr", l.conn.LocalAddr().String()).Msg("JuiceBox UDP listener started")

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	buf := make([]byte, l.readBuffer)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("Read UDP datagram")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		l.dispatch(addr, datagram{data: data, at: l.now()})
	}
}

// dispatch queues a datagram on the Conn of its remote address, announcing
// the Conn to Accept on first contact. A closed Conn is never fed; its
// address gets a fresh one.
func (l *Listener) dispatch(addr *net.UDPAddr, d datagram) {
	key := addr.String()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	c, exists := l.peers[key]
	if exists && c.isClosed() {
		delete(l.peers, key)
		exists = false
	}
	if !exists {
		c = newConn(l, addr)
		select {
		case l.accept <- c:
			l.peers[key] = c
		default:
			log.Warn().Str("addr", key).Msg("Accept queue full, dropping datagram")
			return
		}
	}

	select {
	case c.inbox <- d:
	default:
		log.Warn().Str("addr", key).Msg("Device inbox full, dropping datagram")
	}
}

// Accept implements session.Listener
func (l *Listener) Accept(ctx context.Context) (session.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, ErrClosed
	case c := <-l.accept:
		return c, nil
	}
}

// Close stops the listener and disconnects every peer
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	peers := make([]*Conn, 0, len(l.peers))
	for _, c := range l.peers {
		peers = append(peers, c)
	}
	l.mu.Unlock()

	close(l.done)
	for _, c := range peers {
		c.Close()
	}
	return l.conn.Close()
}

// Peers returns the number of remote addresses with an open Conn
func (l *Listener) Peers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peers)
}

// detach marks c closed and forgets it in one step so dispatch never
// queues onto a closed stream
func (l *Listener) detach(c *Conn) {
	l.mu.Lock()
	close(c.done)
	if cur, ok := l.peers[c.key]; ok && cur == c {
		delete(l.peers, c.key)
	}
	l.mu.Unlock()
}

func (l *Listener) write(b []byte, addr *net.UDPAddr) error {
	_, err := l.conn.WriteToUDP(b, addr)
	return err
}
