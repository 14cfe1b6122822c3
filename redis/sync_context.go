package redis

import (
	"context"
	"sync/atomic"

	"github.com/fschwehn/redistack/rediserror"
	"github.com/fschwehn/redistack/resp"
)

// SyncCtx is like Sync, but every call returns as soon as ctx is done.
// The underlying request is not cancelled on the wire (that would
// desynchronise the reply matching); its queue slot is simply abandoned.
type SyncCtx struct {
	S Sender
}

func (s SyncCtx) Do(ctx context.Context, cmd string, args ...interface{}) interface{} {
	return s.Send(ctx, Request{cmd, args})
}

func (s SyncCtx) Send(ctx context.Context, r Request) interface{} {
	res := ctxRes{active: newActive(ctx)}

	s.S.Send(r, &res, 0)

	select {
	case <-ctx.Done():
		return rediserror.ErrRequestCancelled.WrapWithNoMessage(ctx.Err())
	case <-res.ch:
		return res.r
	}
}

func (s SyncCtx) SendMany(ctx context.Context, reqs []Request) []interface{} {
	res := ctxBatch{
		active: newActive(ctx),
		r:      make([]interface{}, len(reqs)),
		o:      make([]uint32, len(reqs)),
	}

	s.S.SendMany(reqs, &res, 0)

	select {
	case <-ctx.Done():
		err := rediserror.ErrRequestCancelled.WrapWithNoMessage(ctx.Err())
		for i := range res.o {
			res.Resolve(err, uint64(i))
		}
		<-res.ch
	case <-res.ch:
	}
	return res.r
}

func (s SyncCtx) SendTransaction(ctx context.Context, reqs []Request) ([]resp.Value, error) {
	res := ctxRes{active: newActive(ctx)}

	s.S.SendTransaction(reqs, &res, 0)

	var r interface{}
	select {
	case <-ctx.Done():
		r = rediserror.ErrRequestCancelled.WrapWithNoMessage(ctx.Err())
	case <-res.ch:
		r = res.r
	}

	return TransactionResponse(r)
}

func (s SyncCtx) Scanner(ctx context.Context, opts ScanOpts) SyncCtxIterator {
	return SyncCtxIterator{ctx, s.S.Scanner(opts)}
}

type active struct {
	ctx context.Context
	ch  chan struct{}
}

func newActive(ctx context.Context) active {
	return active{ctx, make(chan struct{})}
}

func (c active) Cancelled() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

func (c active) done() {
	close(c.ch)
}

type ctxRes struct {
	active
	r interface{}
}

func (c *ctxRes) Resolve(r interface{}, _ uint64) {
	c.r = r
	c.done()
}

type ctxBatch struct {
	active
	r   []interface{}
	o   []uint32
	cnt uint32
}

func (s *ctxBatch) Resolve(res interface{}, i uint64) {
	if atomic.CompareAndSwapUint32(&s.o[i], 0, 1) {
		s.r[i] = res
		if int(atomic.AddUint32(&s.cnt, 1)) == len(s.r) {
			s.done()
		}
	}
}

// SyncCtxIterator iterates a SCAN cursor synchronously under a context.
type SyncCtxIterator struct {
	ctx context.Context
	s   Scanner
}

func (s SyncCtxIterator) Next() ([]string, error) {
	res := ctxRes{active: newActive(s.ctx)}
	s.s.Next(&res)
	select {
	case <-s.ctx.Done():
		return nil, rediserror.ErrRequestCancelled.WrapWithNoMessage(s.ctx.Err())
	case <-res.ch:
	}
	if err := AsError(res.r); err != nil {
		return nil, err
	}
	if res.r == nil {
		return nil, ScanEOF
	}
	return res.r.([]string), nil
}
