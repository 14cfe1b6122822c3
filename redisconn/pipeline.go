package redisconn

import (
	"strings"
	"sync"

	"github.com/joomcode/errorx"

	"github.com/fschwehn/redistack/redis"
	"github.com/fschwehn/redistack/rediserror"
	"github.com/fschwehn/redistack/resp"
)

type future struct {
	cb redis.Future
	n  uint64
}

func (f future) Call(res interface{}) {
	if f.cb != nil {
		f.cb.Resolve(res, f.n)
	}
}

// inflight is the FIFO of completions for requests that were handed to the
// transport but not answered yet. Its length always equals the number of
// requests sent but not yet answered. The queue object is owned by exactly
// one pipeline at a time; switching the connection mode transfers the queue
// to the new pipeline, it is never duplicated.
type inflight struct {
	mu   sync.Mutex
	q    []future
	head int
}

func (q *inflight) push(futs []future) {
	q.mu.Lock()
	q.q = append(q.q, futs...)
	q.mu.Unlock()
}

func (q *inflight) pop() (future, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == len(q.q) {
		return future{}, false
	}
	f := q.q[q.head]
	q.q[q.head] = future{}
	q.head++
	if q.head == len(q.q) {
		q.q = q.q[:0]
		q.head = 0
	}
	return f, true
}

func (q *inflight) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.q) - q.head
}

// takeAll empties the queue and returns the remaining completions.
func (q *inflight) takeAll() []future {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := append([]future(nil), q.q[q.head:]...)
	q.q = q.q[:0]
	q.head = 0
	return out
}

// pipeline is the mode-dependent half of a connection: it interprets each
// inbound value and owns the in-flight queue while active.
type pipeline interface {
	// onValue processes one fully parsed inbound value. A non-nil error is
	// an invariant violation that must fail the connection.
	onValue(v resp.Value) *errorx.Error
	// queue exposes the owned in-flight FIFO for transfer.
	queue() *inflight
	// drain fails every pending completion with err.
	drain(err *errorx.Error)
}

// cmdPipeline is the ordinary request/response mode: every inbound value
// answers the oldest outstanding request.
type cmdPipeline struct {
	conn *Connection
	q    *inflight
}

func (p *cmdPipeline) onValue(v resp.Value) *errorx.Error {
	fut, ok := p.q.pop()
	if !ok {
		return rediserror.ErrUnexpectedResponse.New("response arrived with no request in flight").
			WithProperty(rediserror.EKResponse, v.String())
	}
	p.conn.resolve(fut, v)
	return nil
}

func (p *cmdPipeline) queue() *inflight { return p.q }

func (p *cmdPipeline) drain(err *errorx.Error) {
	for _, fut := range p.q.takeAll() {
		p.conn.opts.Metrics.CommandFail()
		fut.Call(err)
	}
}

// resolve completes one request with an inbound value. Error replies fail
// the originating command only; they are not fatal to the connection.
func (conn *Connection) resolve(fut future, v resp.Value) {
	if v.Kind() == resp.KindError {
		txt := v.Text()
		var err *errorx.Error
		if strings.HasPrefix(txt, "LOADING") {
			err = rediserror.ErrLoading.New("%s", txt)
		} else {
			err = rediserror.ErrReply.New("%s", txt)
		}
		conn.opts.Metrics.CommandFail()
		fut.Call(withNewProperty(err, EKConnection, conn))
		return
	}
	conn.opts.Metrics.CommandOK()
	fut.Call(v)
}
