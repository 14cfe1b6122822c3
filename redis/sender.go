package redis

import (
	"errors"
)

// Sender is the asynchronous command surface implemented by a connection.
// Futures are fulfilled exactly once, in submission order.
type Sender interface {
	Send(r Request, cb Future, n uint64)
	SendMany(r []Request, cb Future, start uint64)
	SendTransaction(r []Request, cb Future, start uint64)
	Scanner(opts ScanOpts) Scanner
	Close()
}

// Scanner iterates a SCAN-family cursor. Next resolves cb with []string
// (a batch of keys), an error, or nil after the final batch.
type Scanner interface {
	Next(cb Future)
}

// ScanEOF signals the end of iteration to synchronous scanner wrappers.
var ScanEOF = errors.New("iteration finished")

// ScanOpts names the cursor command and its options.
type ScanOpts struct {
	// Cmd is SCAN, SSCAN, HSCAN or ZSCAN. Default SCAN.
	Cmd string
	// Key is the container to iterate. Unused for SCAN.
	Key   string
	Match string
	Count int
}

// Request builds the next cursor request from an iterator position.
func (s ScanOpts) Request(it []byte) Request {
	if it == nil {
		it = []byte("0")
	}
	args := []interface{}{}
	if s.Cmd == "" {
		s.Cmd = "SCAN"
	}
	if s.Cmd != "SCAN" {
		args = append(args, s.Key)
	}
	args = append(args, it)
	if s.Match != "" {
		args = append(args, "MATCH", s.Match)
	}
	if s.Count > 0 {
		args = append(args, "COUNT", s.Count)
	}
	return Request{s.Cmd, args}
}

// ScannerBase is the common part of Scanner implementations: it tracks the
// cursor and adapts the raw reply into (keys, iterator) pairs.
type ScannerBase struct {
	ScanOpts
	Iter []byte
	Err  error
	cb   Future
}

func (s *ScannerBase) DoNext(cb Future, snd Sender) {
	s.cb = cb
	snd.Send(s.ScanOpts.Request(s.Iter), s, 0)
}

// IterLast reports whether the server returned the terminal "0" cursor.
func (s *ScannerBase) IterLast() bool {
	return len(s.Iter) == 1 && s.Iter[0] == '0'
}

func (s *ScannerBase) Cancelled() bool {
	return s.cb.Cancelled()
}

func (s *ScannerBase) Resolve(res interface{}, _ uint64) {
	var keys []string
	s.Iter, keys, s.Err = ScanResponse(res)
	cb := s.cb
	s.cb = nil
	if s.Err != nil {
		cb.Resolve(s.Err, 0)
	} else {
		cb.Resolve(keys, 0)
	}
}
