package redisconn_test

import (
	"fmt"
	"sync"
	"time"

	"github.com/fschwehn/redistack/redis"
	"github.com/fschwehn/redistack/rediserror"
	"github.com/fschwehn/redistack/resp"
)

// recorder collects dispatched messages in arrival order.
type recorder struct {
	mu   sync.Mutex
	got  []string
	wake chan struct{}
}

func newRecorder() *recorder {
	return &recorder{wake: make(chan struct{}, 64)}
}

func (r *recorder) fn(tag string) func(channel string, payload []byte) {
	return func(channel string, payload []byte) {
		r.mu.Lock()
		r.got = append(r.got, fmt.Sprintf("%s:%s:%s", tag, channel, payload))
		r.mu.Unlock()
		r.wake <- struct{}{}
	}
}

func (r *recorder) waitN(n int) []string {
	deadline := time.After(waitTimeout)
	for {
		r.mu.Lock()
		if len(r.got) >= n {
			out := append([]string(nil), r.got...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		select {
		case <-r.wake:
		case <-deadline:
			r.mu.Lock()
			out := append([]string(nil), r.got...)
			r.mu.Unlock()
			return out
		}
	}
}

func subscribeFrame(kind, ch string, active int) string {
	return fmt.Sprintf("*3\r\n$%d\r\n%s\r\n$%d\r\n%s\r\n:%d\r\n",
		len(kind), kind, len(ch), ch, active)
}

func messageFrame(ch, payload string) string {
	return fmt.Sprintf("*3\r\n$7\r\nmessage\r\n$%d\r\n%s\r\n$%d\r\n%s\r\n",
		len(ch), ch, len(payload), payload)
}

func pmessageFrame(pattern, ch, payload string) string {
	return fmt.Sprintf("*4\r\n$8\r\npmessage\r\n$%d\r\n%s\r\n$%d\r\n%s\r\n$%d\r\n%s\r\n",
		len(pattern), pattern, len(ch), ch, len(payload), payload)
}

// Every callback registered under the channel fires exactly once, in
// registration order; other channels stay silent.
func (s *Suite) TestPubSubDispatch() {
	conn := s.connect()
	defer conn.Close()

	rec := newRecorder()
	_, err := conn.Subscribe(rec.fn("a"), "ch")
	s.r().Nil(err)
	_, err = conn.Subscribe(rec.fn("b"), "ch")
	s.r().Nil(err)
	_, err = conn.Subscribe(rec.fn("c"), "other")
	s.r().Nil(err)

	s.s.Expect("SUBSCRIBE")
	s.s.Expect("SUBSCRIBE")
	s.s.Expect("SUBSCRIBE")
	s.s.Write(subscribeFrame("subscribe", "ch", 1))
	s.s.Write(subscribeFrame("subscribe", "other", 2))

	s.s.Write(messageFrame("ch", "payload"))
	got := rec.waitN(2)
	s.Equal([]string{"a:ch:payload", "b:ch:payload"}, got)
}

func (s *Suite) TestPubSubPatternDispatch() {
	conn := s.connect()
	defer conn.Close()

	rec := newRecorder()
	_, err := conn.PSubscribe(rec.fn("p"), "news.*")
	s.r().Nil(err)
	s.s.Expect("PSUBSCRIBE")
	s.s.Write(subscribeFrame("psubscribe", "news.*", 1))

	s.s.Write(pmessageFrame("news.*", "news.sport", "goal"))
	got := rec.waitN(1)
	s.Equal([]string{"p:news.sport:goal"}, got)
}

// Whitelisted commands still work in Pub/Sub mode; everything else is
// rejected without touching the connection.
func (s *Suite) TestPubSubWhitelist() {
	conn := s.connect()
	defer conn.Close()

	rec := newRecorder()
	_, err := conn.Subscribe(rec.fn("a"), "ch")
	s.r().Nil(err)
	s.s.Expect("SUBSCRIBE")
	s.s.Write(subscribeFrame("subscribe", "ch", 1))

	gerr := s.AsError(redis.Sync{S: conn}.Do("GET", "k"))
	s.True(gerr.IsOfType(rediserror.ErrCommandForbidden))
	s.True(conn.ConnectedNow())

	done := make(chan interface{}, 1)
	go func() { done <- redis.Sync{S: conn}.Do("PING") }()
	s.s.Expect("PING")
	s.s.Write("+PONG\r\n")
	v, verr := redis.AsValue(<-done)
	s.r().Nil(verr)
	s.Equal(resp.SimpleString("PONG"), v)
}

// Unsubscribing down to zero active subscriptions leaves Pub/Sub mode and
// ordinary commands work again.
func (s *Suite) TestPubSubExit() {
	conn := s.connect()
	defer conn.Close()

	rec := newRecorder()
	_, err := conn.Subscribe(rec.fn("a"), "ch")
	s.r().Nil(err)
	s.s.Expect("SUBSCRIBE")
	s.s.Write(subscribeFrame("subscribe", "ch", 1))

	s.r().Nil(conn.Unsubscribe("ch"))
	s.s.Expect("UNSUBSCRIBE")
	s.s.Write(subscribeFrame("unsubscribe", "ch", 0))

	// back in command mode: GET is accepted again. The mode switch happens
	// on the reader goroutine, so retry while submissions still bounce.
	deadline := time.Now().Add(waitTimeout)
	var res interface{}
	for time.Now().Before(deadline) {
		fut := redis.ChanFutured{S: conn}.Send(redis.Req("GET", "k"))
		select {
		case v := <-s.s.Requests():
			s.Equal("GET", v.Elems()[0].Text())
			s.s.Write("$1\r\nv\r\n")
			res = fut.Value()
		case <-fut.Done():
			// rejected before hitting the wire
			res = fut.Value()
			if e := redis.AsErrorx(res); e != nil && e.IsOfType(rediserror.ErrCommandForbidden) {
				time.Sleep(time.Millisecond)
				continue
			}
		}
		break
	}
	v, verr := redis.AsValue(res)
	s.r().Nil(verr)
	s.Equal(resp.BulkString("v"), v)

	// no callbacks fired along the way
	s.Empty(rec.waitN(0))
}

// A message for a cancelled handle is not delivered; the other callback of
// the same channel still receives it.
func (s *Suite) TestPubSubCancel() {
	conn := s.connect()
	defer conn.Close()

	rec := newRecorder()
	ha, err := conn.Subscribe(rec.fn("a"), "ch")
	s.r().Nil(err)
	_, err = conn.Subscribe(rec.fn("b"), "ch")
	s.r().Nil(err)
	s.s.Expect("SUBSCRIBE")
	s.s.Expect("SUBSCRIBE")
	s.s.Write(subscribeFrame("subscribe", "ch", 1))

	s.r().Nil(conn.Cancel(ha[0]))

	s.s.Write(messageFrame("ch", "x"))
	got := rec.waitN(1)
	s.Equal([]string{"b:ch:x"}, got)
}

// Subscribing with ordinary requests still in flight is an invariant
// violation that poisons the connection.
func (s *Suite) TestSubscribeWithQueueBusy() {
	conn := s.connect()

	fut := redis.ChanFutured{S: conn}.Send(redis.Req("GET", "k"))
	s.s.Expect("GET")

	rec := newRecorder()
	_, err := conn.Subscribe(rec.fn("a"), "ch")
	s.r().NotNil(err)
	s.True(err.IsOfType(rediserror.ErrQueueTransplant))
	s.True(rediserror.HardError(err))

	ferr := s.AsError(fut.Value())
	s.True(rediserror.HardError(ferr))
	s.False(conn.ConnectedNow())
}

// A three-element array that is not a push frame is treated as a reply to
// a whitelisted command, not as an error.
func (s *Suite) TestPubSubForeignFrame() {
	conn := s.connect()
	defer conn.Close()

	rec := newRecorder()
	_, err := conn.Subscribe(rec.fn("a"), "ch")
	s.r().Nil(err)
	s.s.Expect("SUBSCRIBE")
	s.s.Write(subscribeFrame("subscribe", "ch", 1))

	done := make(chan interface{}, 1)
	go func() { done <- redis.Sync{S: conn}.Do("PING") }()
	s.s.Expect("PING")
	// an array reply that merely looks push-shaped
	s.s.Write("*3\r\n$5\r\nhello\r\n$5\r\nworld\r\n:1\r\n")
	v, verr := redis.AsValue(<-done)
	s.r().Nil(verr)
	s.Equal(resp.KindArray, v.Kind())
	s.True(conn.ConnectedNow())
}
