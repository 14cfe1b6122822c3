package redisconn

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joomcode/errorx"

	"github.com/fschwehn/redistack/internal"
	"github.com/fschwehn/redistack/redis"
	"github.com/fschwehn/redistack/rediserror"
	"github.com/fschwehn/redistack/resp"
)

const (
	connConnected = 1
	connClosed    = 2

	defaultDialTimeout = 5 * time.Second
	defaultIOTimeout   = 1 * time.Second

	writeBufSize = 128 * 1024
	readBufSize  = 64 * 1024
)

type Opts struct {
	// DialTimeout is the timeout for net.Dialer. Default 5s.
	DialTimeout time.Duration
	// IOTimeout bounds a single write to the socket.
	// If IOTimeout == 0, it is set to 1s; if IOTimeout < 0, it is disabled.
	// Reads are not bounded: an idle connection is legitimately silent.
	IOTimeout time.Duration
	// DB - database number selected on connect.
	DB int
	// Password for AUTH.
	Password string
	// Handle is returned by Connection.Handle(); useful for logging.
	Handle interface{}
	// TCPKeepAlive - KeepAlive parameter for net.Dialer. Default 5min.
	// Set negative to disable.
	TCPKeepAlive time.Duration
	// Logger receives connection events. Default logs through the stdlib.
	Logger Logger
	// Metrics receives per-command success/failure increments.
	// Default is the process-global counter pair.
	Metrics Metrics
}

// Connection is a single connection to a redis server. All requests are fed
// into the one socket in submission order and completions fire in that same
// order; many requests may be in flight at once. Connection is thread-safe.
//
// There is no reconnection: once the transport or the protocol fails, every
// pending completion fails and the connection is dead. Establishing a fresh
// one is the caller's policy.
type Connection struct {
	ctx    context.Context
	cancel context.CancelFunc
	state  uint32

	addr string
	c    net.Conn
	dc   io.ReadWriter

	mutex    sync.Mutex
	wbuf     []byte
	wfut     []future
	pl       pipeline
	closeErr *errorx.Error

	q     *inflight
	dirty chan struct{}

	failOnce sync.Once
	opts     Opts
}

// Connect dials addr and performs the setup handshake (AUTH, PING, SELECT)
// through the pipeline before returning. The address may be "host:port",
// "tcp://host:port", "unix://path", or a bare path starting with '/' or '.'
// for a unix socket.
func Connect(ctx context.Context, addr string, opts Opts) (*Connection, error) {
	if ctx == nil {
		return nil, rediserror.ErrContextIsNil.NewWithNoMessage()
	}
	if addr == "" {
		return nil, rediserror.ErrNoAddress.NewWithNoMessage()
	}

	conn := &Connection{
		addr:  addr,
		opts:  opts,
		q:     &inflight{},
		dirty: make(chan struct{}, 1),
	}
	conn.ctx, conn.cancel = context.WithCancel(ctx)
	conn.pl = &cmdPipeline{conn: conn, q: conn.q}

	if conn.opts.DialTimeout <= 0 {
		conn.opts.DialTimeout = defaultDialTimeout
	}
	if conn.opts.IOTimeout == 0 {
		conn.opts.IOTimeout = defaultIOTimeout
	} else if conn.opts.IOTimeout < 0 {
		conn.opts.IOTimeout = 0
	}
	if conn.opts.TCPKeepAlive == 0 {
		conn.opts.TCPKeepAlive = 5 * time.Minute
	} else if conn.opts.TCPKeepAlive < 0 {
		conn.opts.TCPKeepAlive = 0
	}
	if conn.opts.Logger == nil {
		conn.opts.Logger = defaultLogger{}
	}
	if conn.opts.Metrics == nil {
		conn.opts.Metrics = DefaultMetrics()
	}

	if err := conn.dial(); err != nil {
		conn.cancel()
		return nil, err
	}

	atomic.StoreUint32(&conn.state, connConnected)
	go conn.writer()
	go conn.reader()
	go func() {
		<-conn.ctx.Done()
		conn.fail(rediserror.ErrContextClosed.WrapWithNoMessage(conn.ctx.Err()))
	}()

	if err := conn.setup(); err != nil {
		conn.fail(err)
		return nil, err
	}

	conn.report(LogConnected, conn.c.LocalAddr().String(), conn.c.RemoteAddr().String())
	return conn, nil
}

func (conn *Connection) dial() error {
	network := "tcp"
	address := conn.addr
	switch {
	case address[0] == '.' || address[0] == '/':
		network = "unix"
	case strings.HasPrefix(address, "unix://"):
		network = "unix"
		address = address[7:]
	case strings.HasPrefix(address, "tcp://"):
		address = address[6:]
	}
	dialer := net.Dialer{
		Timeout:   conn.opts.DialTimeout,
		KeepAlive: conn.opts.TCPKeepAlive,
	}
	c, err := dialer.DialContext(conn.ctx, network, address)
	if err != nil {
		return rediserror.ErrDial.WrapWithNoMessage(err).
			WithProperty(EKAddress, conn.addr)
	}
	conn.c = c
	conn.dc = newDeadlineIO(c, conn.opts.IOTimeout)
	return nil
}

// setup runs the connection handshake through the ordinary pipeline.
func (conn *Connection) setup() *errorx.Error {
	s := redis.Sync{S: conn}
	if conn.opts.Password != "" {
		res := s.Do("AUTH", conn.opts.Password)
		if err := redis.AsErrorx(res); err != nil {
			if err.IsOfType(rediserror.ErrReply) {
				return rediserror.ErrAuth.WrapWithNoMessage(err)
			}
			return err
		}
	}
	if err := conn.pingCheck(s); err != nil {
		return err
	}
	if conn.opts.DB != 0 {
		res := s.Do("SELECT", conn.opts.DB)
		if err := redis.AsErrorx(res); err != nil {
			return withNewProperty(rediserror.ErrConnSetup.WrapWithNoMessage(err), EKDb, conn.opts.DB)
		}
	}
	return nil
}

func (conn *Connection) pingCheck(s redis.Sync) *errorx.Error {
	res := s.Do("PING")
	if err := redis.AsErrorx(res); err != nil {
		return rediserror.ErrConnSetup.WrapWithNoMessage(err)
	}
	v, err := redis.AsValue(res)
	if err != nil || v.Kind() != resp.KindSimpleString || v.Text() != "PONG" {
		return rediserror.ErrPing.New("ping response mismatch").
			WithProperty(rediserror.EKResponse, fmt.Sprintf("%v", res))
	}
	return nil
}

// Ping probes the connection with a blocking PING.
func (conn *Connection) Ping() error {
	if err := conn.pingCheck(redis.Sync{S: conn}); err != nil {
		return err
	}
	return nil
}

// ConnectedNow reports whether the connection is alive.
func (conn *Connection) ConnectedNow() bool {
	return atomic.LoadUint32(&conn.state) == connConnected
}

// Err returns the error the connection died with, or nil while it lives.
func (conn *Connection) Err() error {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	if conn.closeErr != nil {
		return conn.closeErr
	}
	return nil
}

// Close closes the connection forever. Every pending completion fails.
func (conn *Connection) Close() {
	conn.fail(rediserror.ErrContextClosed.New("connection closed"))
}

// Addr is the address the connection was dialed with.
func (conn *Connection) Addr() string { return conn.addr }

// RemoteAddr is the address of the redis socket.
func (conn *Connection) RemoteAddr() string {
	if conn.c == nil {
		return ""
	}
	return conn.c.RemoteAddr().String()
}

// LocalAddr is the outgoing socket address.
func (conn *Connection) LocalAddr() string {
	if conn.c == nil {
		return ""
	}
	return conn.c.LocalAddr().String()
}

// Handle returns the user-specified handle from Opts.
func (conn *Connection) Handle() interface{} { return conn.opts.Handle }

func (conn *Connection) String() string {
	return fmt.Sprintf("*redisconn.Connection{addr: %s}", conn.addr)
}

var dumb = redis.FuncFuture(func(interface{}, uint64) {})

// closedError is what new submissions fail with after the connection died.
// Must be called with conn.mutex held.
func (conn *Connection) closedError() *errorx.Error {
	return rediserror.ErrNotConnected.Wrap(conn.closeErr, "connection closed")
}

// forbiddenCmds would either block the whole pipeline or desynchronise the
// FIFO reply matching. Subscriptions go through the Subscribe api instead.
var forbiddenCmds = map[string]struct{}{
	"BLPOP":        {},
	"BRPOP":        {},
	"BRPOPLPUSH":   {},
	"BZPOPMIN":     {},
	"BZPOPMAX":     {},
	"WATCH":        {},
	"SUBSCRIBE":    {},
	"PSUBSCRIBE":   {},
	"UNSUBSCRIBE":  {},
	"PUNSUBSCRIBE": {},
}

// pubsubWhitelist are the commands still answered in request/response
// fashion while the connection is in Pub/Sub mode.
var pubsubWhitelist = map[string]struct{}{
	"PING": {},
	"QUIT": {},
}

func forbiddenCmd(cmd string) *errorx.Error {
	if _, bad := forbiddenCmds[cmd]; bad {
		return rediserror.ErrCommandForbidden.New("command %s is not allowed on a pipelined connection", cmd).
			WithProperty(rediserror.EKCommand, cmd)
	}
	return nil
}

// Send submits one request. cb is resolved exactly once, with a resp.Value
// or an *errorx.Error. Replies are delivered on the connection's reader
// goroutine; a request refused before it is written is resolved on a pool
// worker, and requests pending when the connection fails are resolved on
// the goroutine that failed it.
func (conn *Connection) Send(req redis.Request, cb redis.Future, n uint64) {
	if cb == nil {
		cb = dumb
	}
	if err := forbiddenCmd(req.Cmd); err != nil {
		conn.resolveAsync(cb, withNewProperty(err, EKConnection, conn), n)
		return
	}

	conn.mutex.Lock()
	if atomic.LoadUint32(&conn.state) == connClosed {
		err := conn.closedError()
		conn.mutex.Unlock()
		conn.resolveAsync(cb, err, n)
		return
	}
	if _, ps := conn.pl.(*pubsubPipeline); ps {
		if _, ok := pubsubWhitelist[req.Cmd]; !ok {
			conn.mutex.Unlock()
			err := rediserror.ErrCommandForbidden.New("command %s is not allowed in pubsub mode", req.Cmd).
				WithProperty(rediserror.EKCommand, req.Cmd)
			conn.resolveAsync(cb, withNewProperty(err, EKConnection, conn), n)
			return
		}
	}
	buf, aerr := resp.AppendRequest(conn.wbuf, req.Cmd, req.Args)
	if aerr != nil {
		conn.mutex.Unlock()
		conn.resolveAsync(cb, withNewProperty(aerr, EKConnection, conn), n)
		return
	}
	conn.wbuf = buf
	conn.wfut = append(conn.wfut, future{cb, n})
	conn.signalDirty()
	conn.mutex.Unlock()
}

// SendMany submits a batch. Either the whole batch is accepted or no
// request of it is written; per-request results are delivered through cb
// with indexes start..start+len(reqs)-1.
func (conn *Connection) SendMany(reqs []redis.Request, cb redis.Future, start uint64) {
	if len(reqs) == 0 {
		return
	}
	if cb == nil {
		cb = dumb
	}

	var scratch []byte
	for i, req := range reqs {
		ferr := forbiddenCmd(req.Cmd)
		if ferr == nil {
			scratch, ferr = resp.AppendRequest(scratch, req.Cmd, req.Args)
		}
		if ferr != nil {
			ferr = withNewProperty(ferr, EKConnection, conn)
			batchErr := rediserror.ErrBatchFormat.Wrap(ferr, "request %d of batch is malformed", i)
			conn.batchFail(cb, len(reqs), start, i, ferr, batchErr)
			return
		}
	}

	conn.mutex.Lock()
	if atomic.LoadUint32(&conn.state) == connClosed {
		err := conn.closedError()
		conn.mutex.Unlock()
		conn.batchFail(cb, len(reqs), start, -1, nil, err)
		return
	}
	if _, ps := conn.pl.(*pubsubPipeline); ps {
		conn.mutex.Unlock()
		err := rediserror.ErrCommandForbidden.New("batches are not allowed in pubsub mode")
		conn.batchFail(cb, len(reqs), start, -1, nil, withNewProperty(err, EKConnection, conn))
		return
	}
	conn.wbuf = append(conn.wbuf, scratch...)
	for i := range reqs {
		conn.wfut = append(conn.wfut, future{cb, start + uint64(i)})
	}
	conn.signalDirty()
	conn.mutex.Unlock()
}

func (conn *Connection) batchFail(cb redis.Future, n int, start uint64, at int, atErr, err *errorx.Error) {
	internal.Go(func() {
		for j := 0; j < n; j++ {
			conn.opts.Metrics.CommandFail()
			if j == at {
				cb.Resolve(atErr, start+uint64(j))
			} else {
				cb.Resolve(err, start+uint64(j))
			}
		}
	})
}

// SendTransaction wraps reqs into MULTI/EXEC and resolves cb with the EXEC
// reply (the array of the queued commands' results).
func (conn *Connection) SendTransaction(reqs []redis.Request, cb redis.Future, n uint64) {
	if cb == nil {
		cb = dumb
	}
	for _, req := range reqs {
		if req.Cmd == "MULTI" || req.Cmd == "EXEC" {
			err := rediserror.ErrMalformedTransaction.New("transaction requests must not contain %s", req.Cmd).
				WithProperty(rediserror.EKCommand, req.Cmd)
			conn.resolveAsync(cb, withNewProperty(err, EKConnection, conn), n)
			return
		}
	}
	all := make([]redis.Request, 0, len(reqs)+2)
	all = append(all, redis.Req("MULTI"))
	all = append(all, reqs...)
	all = append(all, redis.Req("EXEC"))
	conn.SendMany(all, transactionFuture{cb: cb, last: uint64(len(all) - 1), n: n}, 0)
}

type transactionFuture struct {
	cb   redis.Future
	last uint64
	n    uint64
}

func (t transactionFuture) Cancelled() bool { return t.cb.Cancelled() }

func (t transactionFuture) Resolve(res interface{}, i uint64) {
	if i == t.last {
		t.cb.Resolve(res, t.n)
	}
}

// Scanner returns an iterator over a SCAN-family cursor on this connection.
func (conn *Connection) Scanner(opts redis.ScanOpts) redis.Scanner {
	return &scanner{
		ScannerBase: redis.ScannerBase{ScanOpts: opts},
		c:           conn,
	}
}

type scanner struct {
	redis.ScannerBase
	c *Connection
}

func (s *scanner) Next(cb redis.Future) {
	if s.Err != nil {
		cb.Resolve(s.Err, 0)
		return
	}
	if s.Iter != nil && s.IterLast() {
		cb.Resolve(nil, 0)
		return
	}
	s.DoNext(cb, s.c)
}

func (conn *Connection) resolveAsync(cb redis.Future, err *errorx.Error, n uint64) {
	conn.opts.Metrics.CommandFail()
	internal.Go(func() { cb.Resolve(err, n) })
}

func (conn *Connection) signalDirty() {
	select {
	case conn.dirty <- struct{}{}:
	default:
	}
}

func (conn *Connection) currentPipeline() pipeline {
	conn.mutex.Lock()
	pl := conn.pl
	conn.mutex.Unlock()
	return pl
}

func (conn *Connection) report(event LogKind, v ...interface{}) {
	conn.opts.Logger.Report(event, conn, v...)
}

// writer moves accumulated request bytes to the socket. Completions are
// pushed onto the in-flight queue strictly before their bytes are written:
// the server cannot answer what it has not received, so the reader always
// finds the matching completion at the queue head.
func (conn *Connection) writer() {
	var packet []byte
	var futs []future
	for {
		select {
		case <-conn.dirty:
		case <-conn.ctx.Done():
			return
		}
		conn.mutex.Lock()
		packet, conn.wbuf = conn.wbuf, packet[:0]
		futs, conn.wfut = conn.wfut, futs[:0]
		conn.mutex.Unlock()

		if len(futs) > 0 {
			conn.q.push(futs)
		}
		if len(packet) == 0 {
			continue
		}
		if _, err := conn.dc.Write(packet); err != nil {
			conn.fail(rediserror.ErrIOError.Wrap(err, "write failed"))
			return
		}
		if cap(packet) > writeBufSize {
			// occasionally free an oversized buffer
			packet = nil
		}
	}
}

// reader parses the inbound stream incrementally and feeds every complete
// value to the active pipeline.
func (conn *Connection) reader() {
	dec := resp.NewDecoder()
	rbuf := make([]byte, readBufSize)
	for {
		n, err := conn.dc.Read(rbuf)
		if n > 0 {
			dec.Feed(rbuf[:n])
			for {
				v, ok, derr := dec.Next()
				if derr != nil {
					conn.fail(derr)
					return
				}
				if !ok {
					break
				}
				if ierr := conn.currentPipeline().onValue(v); ierr != nil {
					conn.report(LogInvariantViolation, ierr)
					conn.fail(ierr)
					return
				}
			}
		}
		if err != nil {
			select {
			case <-conn.ctx.Done():
				conn.fail(rediserror.ErrContextClosed.WrapWithNoMessage(conn.ctx.Err()))
			default:
				conn.fail(rediserror.ErrIOError.Wrap(err, "read failed"))
			}
			return
		}
	}
}

// fail poisons the connection: the socket is closed and everything pending,
// in flight or not yet written, resolves with err.
func (conn *Connection) fail(err *errorx.Error) {
	conn.failOnce.Do(func() {
		err = withNewProperty(err, EKConnection, conn)
		conn.mutex.Lock()
		atomic.StoreUint32(&conn.state, connClosed)
		conn.closeErr = err
		c := conn.c
		conn.wbuf = nil
		conn.mutex.Unlock()
		if c != nil {
			c.Close()
		}
		if err.IsOfType(rediserror.ErrContextClosed) {
			conn.report(LogContextClosed)
		} else {
			conn.report(LogDisconnected, err)
		}
		conn.cancel()
	})

	// Resolve whatever is pending at this point. Late writer or reader
	// failures land here again and drain their own stragglers.
	conn.mutex.Lock()
	unsent := conn.wfut
	conn.wfut = nil
	pl := conn.pl
	closeErr := conn.closeErr
	conn.mutex.Unlock()

	pl.drain(closeErr)
	for _, f := range unsent {
		conn.opts.Metrics.CommandFail()
		f.Call(closeErr)
	}
}

// enterPubSub transfers the in-flight queue into a Pub/Sub pipeline.
// The transfer is only legal while the queue is empty. Must be called with
// conn.mutex held; returns the pipeline to register subscriptions on.
func (conn *Connection) enterPubSub() (*pubsubPipeline, *errorx.Error) {
	if p, ok := conn.pl.(*pubsubPipeline); ok {
		return p, nil
	}
	if conn.q.len() != 0 || len(conn.wfut) != 0 {
		return nil, rediserror.ErrQueueTransplant.New("cannot enter pubsub mode with %d requests in flight", conn.q.len()+len(conn.wfut))
	}
	p := newPubSubPipeline(conn, conn.q)
	conn.pl = p
	return p, nil
}

// exitPubSub transfers the (empty) queue back into command mode. Called
// from the reader goroutine once the active subscription count reached
// zero and the whitelist FIFO drained.
func (conn *Connection) exitPubSub(p *pubsubPipeline) {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	if conn.pl != p {
		return
	}
	conn.pl = &cmdPipeline{conn: conn, q: p.queue()}
}

// Subscribe registers fn under each channel, then writes a SUBSCRIBE for
// them. The connection enters Pub/Sub mode: from here on only whitelisted
// commands (PING, QUIT) are accepted until the subscription count drops to
// zero. Subscribing while ordinary requests are still in flight is an
// invariant violation that poisons the connection.
//
// There is no completion to wait for: the server's subscription-change
// frames are consumed by the dispatcher. The returned handles allow
// selective removal via Cancel.
func (conn *Connection) Subscribe(fn MessageFunc, channels ...string) ([]SubHandle, *errorx.Error) {
	return conn.subscribe(fn, channels, false)
}

// PSubscribe is Subscribe for patterns.
func (conn *Connection) PSubscribe(fn MessageFunc, patterns ...string) ([]SubHandle, *errorx.Error) {
	return conn.subscribe(fn, patterns, true)
}

func (conn *Connection) subscribe(fn MessageFunc, channels []string, pattern bool) ([]SubHandle, *errorx.Error) {
	if fn == nil || len(channels) == 0 {
		return nil, rediserror.ErrBadSubscribe.New("subscribe needs a callback and at least one channel")
	}
	cmd := "SUBSCRIBE"
	if pattern {
		cmd = "PSUBSCRIBE"
	}

	conn.mutex.Lock()
	if atomic.LoadUint32(&conn.state) == connClosed {
		err := conn.closedError()
		conn.mutex.Unlock()
		return nil, err
	}
	p, terr := conn.enterPubSub()
	if terr != nil {
		conn.mutex.Unlock()
		conn.report(LogInvariantViolation, terr)
		conn.fail(terr)
		return nil, terr
	}
	handles := p.register(channels, fn, pattern)
	args := make([]interface{}, len(channels))
	for i, ch := range channels {
		args[i] = ch
	}
	buf, aerr := resp.AppendRequest(conn.wbuf, cmd, args)
	if aerr != nil {
		conn.mutex.Unlock()
		return nil, aerr
	}
	conn.wbuf = buf
	conn.signalDirty()
	conn.mutex.Unlock()
	return handles, nil
}

// Unsubscribe removes every callback of the given channels and writes an
// UNSUBSCRIBE for them. With no channels it unsubscribes everything.
func (conn *Connection) Unsubscribe(channels ...string) *errorx.Error {
	return conn.unsubscribe("UNSUBSCRIBE", channels, false)
}

// PUnsubscribe is Unsubscribe for patterns.
func (conn *Connection) PUnsubscribe(patterns ...string) *errorx.Error {
	return conn.unsubscribe("PUNSUBSCRIBE", patterns, true)
}

func (conn *Connection) unsubscribe(cmd string, channels []string, pattern bool) *errorx.Error {
	conn.mutex.Lock()
	if atomic.LoadUint32(&conn.state) == connClosed {
		err := conn.closedError()
		conn.mutex.Unlock()
		return err
	}
	p, ok := conn.pl.(*pubsubPipeline)
	if !ok {
		conn.mutex.Unlock()
		return rediserror.ErrCommandForbidden.New("%s outside pubsub mode", cmd).
			WithProperty(rediserror.EKCommand, cmd)
	}
	p.removeChannels(channels, pattern)
	args := make([]interface{}, len(channels))
	for i, ch := range channels {
		args[i] = ch
	}
	buf, aerr := resp.AppendRequest(conn.wbuf, cmd, args)
	if aerr != nil {
		conn.mutex.Unlock()
		return aerr
	}
	conn.wbuf = buf
	conn.signalDirty()
	conn.mutex.Unlock()
	return nil
}

// Cancel removes the single callback identified by h. When it was the last
// callback of its channel, the channel itself is unsubscribed on the wire.
func (conn *Connection) Cancel(h SubHandle) *errorx.Error {
	conn.mutex.Lock()
	p, ok := conn.pl.(*pubsubPipeline)
	if !ok {
		conn.mutex.Unlock()
		return rediserror.ErrCommandForbidden.New("cancel outside pubsub mode")
	}
	empty := p.cancel(h)
	if !empty {
		conn.mutex.Unlock()
		return nil
	}
	cmd := "UNSUBSCRIBE"
	if h.pattern {
		cmd = "PUNSUBSCRIBE"
	}
	buf, aerr := resp.AppendRequest(conn.wbuf, cmd, []interface{}{h.name})
	if aerr != nil {
		conn.mutex.Unlock()
		return aerr
	}
	conn.wbuf = buf
	conn.signalDirty()
	conn.mutex.Unlock()
	return nil
}
