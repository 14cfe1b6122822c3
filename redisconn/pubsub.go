package redisconn

import (
	"sync"
	"sync/atomic"

	"github.com/joomcode/errorx"

	"github.com/fschwehn/redistack/rediserror"
	"github.com/fschwehn/redistack/resp"
)

// MessageFunc receives one published message. It is invoked on the
// connection's reader goroutine: long work must be handed off.
type MessageFunc func(channel string, payload []byte)

// SubHandle identifies one registered callback. It is required for
// selective removal via Cancel; Unsubscribe removes a channel wholesale.
type SubHandle struct {
	id      uint64
	name    string
	pattern bool
}

// Channel returns the channel or pattern the handle is registered under.
func (h SubHandle) Channel() string { return h.name }

type subscription struct {
	id uint64
	fn MessageFunc
}

var subSeq uint64

// pubsubPipeline handles a connection in Pub/Sub mode: most inbound frames
// are unsolicited push messages dispatched to per-channel callbacks, while
// replies to the whitelisted commands (PING, QUIT) flow through the
// transferred FIFO exactly as in command mode.
type pubsubPipeline struct {
	conn *Connection
	q    *inflight

	mu          sync.Mutex
	subs        map[string][]subscription
	psubs       map[string][]subscription
	active      int64
	activeKnown bool
	exitPending bool
}

func newPubSubPipeline(conn *Connection, q *inflight) *pubsubPipeline {
	return &pubsubPipeline{
		conn:  conn,
		q:     q,
		subs:  make(map[string][]subscription),
		psubs: make(map[string][]subscription),
	}
}

func (p *pubsubPipeline) queue() *inflight { return p.q }

func (p *pubsubPipeline) drain(err *errorx.Error) {
	p.mu.Lock()
	p.subs = make(map[string][]subscription)
	p.psubs = make(map[string][]subscription)
	p.mu.Unlock()
	for _, fut := range p.q.takeAll() {
		p.conn.opts.Metrics.CommandFail()
		fut.Call(err)
	}
}

func (p *pubsubPipeline) register(channels []string, fn MessageFunc, pattern bool) []SubHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	table := p.subs
	if pattern {
		table = p.psubs
	}
	handles := make([]SubHandle, len(channels))
	for i, ch := range channels {
		id := atomic.AddUint64(&subSeq, 1)
		table[ch] = append(table[ch], subscription{id: id, fn: fn})
		handles[i] = SubHandle{id: id, name: ch, pattern: pattern}
	}
	return handles
}

// removeChannels drops every callback of the given channels. With no
// channels it clears the whole table, matching a bare UNSUBSCRIBE.
func (p *pubsubPipeline) removeChannels(channels []string, pattern bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	table := p.subs
	if pattern {
		table = p.psubs
	}
	if len(channels) == 0 {
		clear(table)
		return
	}
	for _, ch := range channels {
		delete(table, ch)
	}
}

// cancel removes a single callback. It reports whether the handle's
// channel has no callbacks left.
func (p *pubsubPipeline) cancel(h SubHandle) (empty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	table := p.subs
	if h.pattern {
		table = p.psubs
	}
	subs := table[h.name]
	for i, s := range subs {
		if s.id == h.id {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(table, h.name)
		return true
	}
	table[h.name] = subs
	return false
}

func (p *pubsubPipeline) callbacks(name string, pattern bool) []subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	table := p.subs
	if pattern {
		table = p.psubs
	}
	return append([]subscription(nil), table[name]...)
}

func (p *pubsubPipeline) onValue(v resp.Value) *errorx.Error {
	if kind, elems, ok := pubsubFrame(v); ok {
		switch kind {
		case "message":
			ch := elems[1].Text()
			payload := elems[2].Bytes()
			for _, s := range p.callbacks(ch, false) {
				s.fn(ch, payload)
			}
		case "pmessage":
			pattern := elems[1].Text()
			ch := elems[2].Text()
			payload := elems[3].Bytes()
			for _, s := range p.callbacks(pattern, true) {
				s.fn(ch, payload)
			}
		default:
			// subscribe / psubscribe / unsubscribe / punsubscribe
			p.mu.Lock()
			p.active = elems[2].Int()
			p.activeKnown = true
			p.exitPending = p.active == 0
			p.mu.Unlock()
			p.maybeExit()
		}
		return nil
	}

	// Not a push frame: a reply to one of the whitelisted commands.
	p.conn.report(LogForeignFrame)
	fut, ok := p.q.pop()
	if !ok {
		return rediserror.ErrUnexpectedResponse.New("non-pubsub frame with no whitelisted request in flight").
			WithProperty(rediserror.EKResponse, v.String())
	}
	p.conn.resolve(fut, v)
	p.maybeExit()
	return nil
}

// maybeExit leaves Pub/Sub mode once the server-reported subscription count
// has dropped to zero and the whitelist FIFO is empty. The queue is
// transferred back into an ordinary command pipeline; any Pub/Sub frame
// arriving after that is a protocol error.
func (p *pubsubPipeline) maybeExit() {
	p.mu.Lock()
	exit := p.exitPending
	p.mu.Unlock()
	if !exit || p.q.len() != 0 {
		return
	}
	p.conn.exitPubSub(p)
}

var pushKinds = map[string]int{
	"message":      3,
	"pmessage":     4,
	"subscribe":    3,
	"psubscribe":   3,
	"unsubscribe":  3,
	"punsubscribe": 3,
}

// pubsubFrame interprets a value as a Pub/Sub push frame. A value that does
// not match the shape exactly is not an error here: the caller forwards it
// to the whitelist FIFO.
func pubsubFrame(v resp.Value) (kind string, elems []resp.Value, ok bool) {
	if v.Kind() != resp.KindArray || v.IsNull() {
		return "", nil, false
	}
	elems = v.Elems()
	if len(elems) < 3 {
		return "", nil, false
	}
	if !stringish(elems[0]) {
		return "", nil, false
	}
	kind = elems[0].Text()
	arity, known := pushKinds[kind]
	if !known || len(elems) != arity {
		return "", nil, false
	}
	switch kind {
	case "message":
		if !stringish(elems[1]) || !stringish(elems[2]) {
			return "", nil, false
		}
	case "pmessage":
		if !stringish(elems[1]) || !stringish(elems[2]) || !stringish(elems[3]) {
			return "", nil, false
		}
	default:
		if !stringish(elems[1]) || elems[2].Kind() != resp.KindInteger {
			return "", nil, false
		}
	}
	return kind, elems, true
}

func stringish(v resp.Value) bool {
	if v.IsNull() {
		return false
	}
	return v.Kind() == resp.KindBulkString || v.Kind() == resp.KindSimpleString
}
