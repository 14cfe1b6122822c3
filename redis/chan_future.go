package redis

import (
	"github.com/fschwehn/redistack/resp"
)

// ChanFutured wraps a Sender with futures backed by channel closing.
type ChanFutured struct {
	S Sender
}

func (s ChanFutured) Send(r Request) *ChanFuture {
	f := &ChanFuture{wait: make(chan struct{})}
	s.S.Send(r, f, 0)
	return f
}

func (s ChanFutured) SendMany(reqs []Request) ChanFutures {
	futures := make(ChanFutures, len(reqs))
	for i := range futures {
		futures[i] = &ChanFuture{wait: make(chan struct{})}
	}
	s.S.SendMany(reqs, futures, 0)
	return futures
}

func (s ChanFutured) SendTransaction(r []Request) *ChanTransaction {
	future := &ChanTransaction{
		ChanFuture: ChanFuture{wait: make(chan struct{})},
	}
	s.S.SendTransaction(r, future, 0)
	return future
}

// ChanFuture is fulfilled by closing its wait channel.
type ChanFuture struct {
	r    interface{}
	wait chan struct{}
}

// Value blocks until the future resolves.
func (f *ChanFuture) Value() interface{} {
	<-f.wait
	return f.r
}

func (f *ChanFuture) Done() <-chan struct{} {
	return f.wait
}

func (f *ChanFuture) Cancelled() bool {
	return false
}

func (f *ChanFuture) Resolve(res interface{}, _ uint64) {
	f.r = res
	close(f.wait)
}

type ChanFutures []*ChanFuture

func (f ChanFutures) Cancelled() bool {
	return false
}

func (f ChanFutures) Resolve(res interface{}, i uint64) {
	f[i].Resolve(res, i)
}

type ChanTransaction struct {
	ChanFuture
}

func (f *ChanTransaction) Results() ([]resp.Value, error) {
	<-f.wait
	return TransactionResponse(f.r)
}
