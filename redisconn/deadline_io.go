package redisconn

import (
	"io"
	"net"
	"time"
)

// deadlineIO arms a write deadline before every write. Reads are left
// unbounded: a healthy connection may legitimately stay silent for a long
// time (idle pipeline, Pub/Sub mode with a quiet channel).
type deadlineIO struct {
	to time.Duration
	c  net.Conn
}

func newDeadlineIO(c net.Conn, to time.Duration) io.ReadWriter {
	if to > 0 {
		return &deadlineIO{c: c, to: to}
	}
	return c
}

func (d *deadlineIO) Write(b []byte) (int, error) {
	d.c.SetWriteDeadline(time.Now().Add(d.to))
	return d.c.Write(b)
}

func (d *deadlineIO) Read(b []byte) (int, error) {
	return d.c.Read(b)
}
