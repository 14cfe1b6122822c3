// Package testbed runs a scripted redis stand-in for tests: it parses
// inbound commands with the same incremental decoder the client uses and
// lets the test write arbitrary reply bytes, split any way it likes.
package testbed

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fschwehn/redistack/resp"
)

const waitTimeout = 5 * time.Second

type Server struct {
	tb testing.TB
	ln net.Listener

	mu    sync.Mutex
	c     net.Conn
	conns []net.Conn
	cch   chan net.Conn
	reqs  chan resp.Value
}

func NewServer(tb testing.TB) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("testbed: listen: %v", err)
	}
	s := &Server{
		tb:   tb,
		ln:   ln,
		cch:  make(chan net.Conn, 4),
		reqs: make(chan resp.Value, 64),
	}
	go s.acceptLoop()
	return s
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

// Requests exposes the stream of parsed inbound commands.
func (s *Server) Requests() <-chan resp.Value { return s.reqs }

func (s *Server) acceptLoop() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.c = c
		s.conns = append(s.conns, c)
		s.mu.Unlock()
		select {
		case s.cch <- c:
		default:
		}
		go s.readLoop(c)
	}
}

func (s *Server) readLoop(c net.Conn) {
	dec := resp.NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				v, ok, derr := dec.Next()
				if derr != nil {
					return
				}
				if !ok {
					break
				}
				s.reqs <- v
			}
		}
		if err != nil {
			return
		}
	}
}

// Expect pops the next received command and asserts its verb.
func (s *Server) Expect(cmd string) resp.Value {
	s.tb.Helper()
	select {
	case v := <-s.reqs:
		if v.Kind() != resp.KindArray || v.Len() < 1 {
			s.tb.Fatalf("testbed: received %s, want a command array", v.String())
		}
		if got := v.Elems()[0].Text(); got != cmd {
			s.tb.Fatalf("testbed: received command %s, want %s", got, cmd)
		}
		return v
	case <-time.After(waitTimeout):
		s.tb.Fatalf("testbed: timed out waiting for command %s", cmd)
		return resp.Value{}
	}
}

func (s *Server) conn() net.Conn {
	s.mu.Lock()
	c := s.c
	s.mu.Unlock()
	if c != nil {
		return c
	}
	select {
	case c = <-s.cch:
		return c
	case <-time.After(waitTimeout):
		s.tb.Fatalf("testbed: no client connected")
		return nil
	}
}

// WriteConn sends raw reply bytes to the i-th accepted client.
func (s *Server) WriteConn(i int, raw string) {
	s.tb.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		s.mu.Lock()
		var c net.Conn
		if i < len(s.conns) {
			c = s.conns[i]
		}
		s.mu.Unlock()
		if c != nil {
			if _, err := c.Write([]byte(raw)); err != nil {
				s.tb.Fatalf("testbed: write: %v", err)
			}
			return
		}
		if time.Now().After(deadline) {
			s.tb.Fatalf("testbed: no client %d connected", i)
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// Write sends raw reply bytes to the most recent client.
func (s *Server) Write(raw string) {
	s.tb.Helper()
	if _, err := s.conn().Write([]byte(raw)); err != nil {
		s.tb.Fatalf("testbed: write: %v", err)
	}
}

// WriteChunked sends raw reply bytes in pieces of the given size.
func (s *Server) WriteChunked(raw string, size int) {
	s.tb.Helper()
	c := s.conn()
	for off := 0; off < len(raw); off += size {
		end := off + size
		if end > len(raw) {
			end = len(raw)
		}
		if _, err := c.Write([]byte(raw[off:end])); err != nil {
			s.tb.Fatalf("testbed: write: %v", err)
		}
	}
}

// Handshake answers the PING probe Connect performs.
func (s *Server) Handshake() {
	s.Expect("PING")
	s.Write("+PONG\r\n")
}

// DropClient closes the server side of the most recent client connection.
func (s *Server) DropClient() {
	if c := s.conn(); c != nil {
		c.Close()
	}
}

func (s *Server) Stop() {
	s.ln.Close()
	s.mu.Lock()
	if s.c != nil {
		s.c.Close()
	}
	s.mu.Unlock()
}
