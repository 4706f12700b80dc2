// Package gateway shares one local CAN channel with NetCAN clients over TCP.
//
// Clients write frames in wire layout without timestamp, the gateway sends
// them on the bus and forwards every received frame, timestamped, to all
// connected clients.
package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/roffe/kefexcan"
)

const (
	DefaultPollInterval = time.Millisecond
	// DefaultWriteTimeout bounds how long one client may stall the fan out.
	DefaultWriteTimeout = time.Second
)

type Server struct {
	disp   *kefexcan.Dispatcher
	log    zerolog.Logger
	poll   time.Duration
	wto    time.Duration
	handle kefexcan.ClientHandle
	sendMu sync.Mutex

	mu      sync.Mutex
	clients map[*conn]struct{}
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithWriteTimeout sets how long a write to one client may block before
// the client is dropped.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.wto = d
		}
	}
}

type conn struct {
	c  net.Conn
	mu sync.Mutex
	w  *bufio.Writer
}

func (c *conn) write(b []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.c.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if _, err := c.w.Write(b); err != nil {
		return err
	}
	return c.w.Flush()
}

// New registers a pass all client on disp.
func New(disp *kefexcan.Dispatcher, opts ...Option) (*Server, error) {
	s := &Server{
		disp:    disp,
		log:     zerolog.Nop(),
		poll:    DefaultPollInterval,
		wto:     DefaultWriteTimeout,
		clients: make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	h, err := disp.RegisterClient(nil, 0)
	if err != nil {
		return nil, err
	}
	s.handle = h
	return s, nil
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Serve accepts clients on l until ctx is done or the bus fails.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		l.Close()
		s.closeClients()
		return nil
	})
	g.Go(func() error {
		return s.recvManager(gctx)
	})
	g.Go(func() error {
		for {
			c, err := l.Accept()
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return fmt.Errorf("%w: accept: %v", kefexcan.ErrIO, err)
			}
			cl := s.add(c)
			g.Go(func() error {
				s.sendManager(cl)
				return nil
			})
		}
	})
	err := g.Wait()
	s.disp.RemoveClient(s.handle)
	return err
}

func (s *Server) add(c net.Conn) *conn {
	cl := &conn{c: c, w: bufio.NewWriter(c)}
	s.mu.Lock()
	s.clients[cl] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.log.Info().Str("remote", c.RemoteAddr().String()).Int("clients", n).Msg("client connected")
	return cl
}

func (s *Server) remove(cl *conn) {
	s.mu.Lock()
	_, found := s.clients[cl]
	delete(s.clients, cl)
	s.mu.Unlock()
	if found {
		cl.c.Close()
		s.log.Info().Str("remote", cl.c.RemoteAddr().String()).Msg("client disconnected")
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	list := make([]*conn, 0, len(s.clients))
	for cl := range s.clients {
		list = append(list, cl)
	}
	s.mu.Unlock()
	for _, cl := range list {
		s.remove(cl)
	}
}

// sendManager moves frames from one client to the bus.
func (s *Server) sendManager(cl *conn) {
	defer s.remove(cl)
	r := bufio.NewReader(cl.c)
	for {
		f, err := kefexcan.ReadWire(r, false)
		if err != nil {
			return
		}
		s.sendMu.Lock()
		err = s.disp.Send(f.Tx())
		s.sendMu.Unlock()
		if err != nil {
			s.log.Warn().Err(err).Msg("send failed")
		}
	}
}

// recvManager polls the bus and fans frames out to every client.
func (s *Server) recvManager(ctx context.Context) error {
	t := time.NewTicker(s.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if err := s.disp.DispatchIncoming(); err != nil {
			return err
		}
		for {
			f, err := s.disp.ReadFromQueue(s.handle)
			if err != nil {
				break
			}
			s.broadcast(f)
		}
	}
}

func (s *Server) broadcast(f kefexcan.RxFrame) {
	b, err := f.MarshalBinary()
	if err != nil {
		s.log.Debug().Err(err).Msg("invalid frame")
		return
	}
	s.mu.Lock()
	list := make([]*conn, 0, len(s.clients))
	for cl := range s.clients {
		list = append(list, cl)
	}
	s.mu.Unlock()
	for _, cl := range list {
		if err := cl.write(b, s.wto); err != nil {
			s.log.Warn().Err(err).Str("remote", cl.c.RemoteAddr().String()).Msg("client write failed, dropping")
			s.remove(cl)
		}
	}
}
