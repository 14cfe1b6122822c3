// Package redisclient is the typed convenience surface over a pipelined
// connection: each verb builds the argument vector, submits it and decodes
// the reply into its declared return type. Pub/Sub runs on a second,
// lazily established connection, since a subscribed connection accepts
// almost no ordinary commands.
package redisclient

import (
	"context"
	"sync"
	"time"

	"github.com/joomcode/errorx"
	"go.uber.org/multierr"

	"github.com/fschwehn/redistack/redis"
	"github.com/fschwehn/redistack/rediserror"
	"github.com/fschwehn/redistack/redisconn"
	"github.com/fschwehn/redistack/resp"
)

type Client struct {
	conn *redisconn.Connection
	addr string
	opts redisconn.Opts
	ctx  context.Context

	mu  sync.Mutex
	sub *redisconn.Connection
}

// Connect establishes the command connection. The Pub/Sub connection is
// dialed on first Subscribe.
func Connect(ctx context.Context, addr string, opts redisconn.Opts) (*Client, error) {
	conn, err := redisconn.Connect(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, addr: addr, opts: opts, ctx: ctx}, nil
}

// Sender exposes the raw asynchronous surface of the command connection
// for verbs this package does not wrap.
func (c *Client) Sender() redis.Sender { return c.conn }

// Metrics returns the counter pair the connections report into.
func (c *Client) Metrics() redisconn.Metrics {
	if c.opts.Metrics != nil {
		return c.opts.Metrics
	}
	return redisconn.DefaultMetrics()
}

// Close shuts both connections down. Connections that had already died on
// their own report why.
func (c *Client) Close() error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	var err error
	for _, conn := range []*redisconn.Connection{sub, c.conn} {
		if conn == nil {
			continue
		}
		if cerr := conn.Err(); cerr != nil {
			if e := errorx.Cast(cerr); e == nil || !e.IsOfType(rediserror.ErrContextClosed) {
				err = multierr.Append(err, cerr)
			}
		}
		conn.Close()
	}
	return err
}

// subConn returns the Pub/Sub connection, dialing it on first use.
func (c *Client) subConn() (*redisconn.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil && c.sub.ConnectedNow() {
		return c.sub, nil
	}
	sub, err := redisconn.Connect(c.ctx, c.addr, c.opts)
	if err != nil {
		return nil, err
	}
	c.sub = sub
	return sub, nil
}

func (c *Client) do(ctx context.Context, cmd string, args ...interface{}) (resp.Value, *errorx.Error) {
	return redis.AsValue(redis.SyncCtx{S: c.conn}.Do(ctx, cmd, args...))
}

// Ping probes the command connection.
func (c *Client) Ping(ctx context.Context) error {
	v, err := c.do(ctx, "PING")
	if err != nil {
		return err
	}
	if v.Kind() != resp.KindSimpleString || v.Text() != "PONG" {
		return rediserror.ErrPing.New("ping response mismatch").
			WithProperty(rediserror.EKResponse, v.String())
	}
	return nil
}

// Get returns the value of key; ok is false on a miss.
func (c *Client) Get(ctx context.Context, key string) (val []byte, ok bool, err error) {
	v, rerr := c.do(ctx, "GET", key)
	if rerr != nil {
		return nil, false, rerr
	}
	val, ok, rerr = redis.OptBytes(v)
	if rerr != nil {
		return nil, false, rerr
	}
	return val, ok, nil
}

// Set stores value under key.
func (c *Client) Set(ctx context.Context, key string, value interface{}) error {
	v, err := c.do(ctx, "SET", key, value)
	if err != nil {
		return err
	}
	if _, berr := redis.ToBool(v); berr != nil {
		return berr
	}
	return nil
}

// SetEx stores value under key with a time-to-live.
func (c *Client) SetEx(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	v, err := c.do(ctx, "SET", key, value, "PX", ttl.Milliseconds())
	if err != nil {
		return err
	}
	if _, berr := redis.ToBool(v); berr != nil {
		return berr
	}
	return nil
}

// Incr increments the integer at key and returns the new value.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.intCmd(ctx, "INCR", key)
}

// Del removes the keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return c.intCmd(ctx, "DEL", args...)
}

// Exists returns how many of the keys exist.
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return c.intCmd(ctx, "EXISTS", args...)
}

// Expire sets a time-to-live on key; false when the key does not exist.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	v, err := c.do(ctx, "PEXPIRE", key, ttl.Milliseconds())
	if err != nil {
		return false, err
	}
	b, berr := redis.ToBool(v)
	if berr != nil {
		return false, berr
	}
	return b, nil
}

// Publish posts payload to channel and returns the receiver count.
func (c *Client) Publish(ctx context.Context, channel string, payload interface{}) (int64, error) {
	return c.intCmd(ctx, "PUBLISH", channel, payload)
}

// Scan iterates keys matching match, count keys per server round-trip.
func (c *Client) Scan(ctx context.Context, match string, count int) redis.SyncCtxIterator {
	return redis.SyncCtx{S: c.conn}.Scanner(ctx, redis.ScanOpts{Match: match, Count: count})
}

func (c *Client) intCmd(ctx context.Context, cmd string, args ...interface{}) (int64, error) {
	v, err := c.do(ctx, cmd, args...)
	if err != nil {
		return 0, err
	}
	n, derr := redis.ToInt64(v)
	if derr != nil {
		return 0, derr
	}
	return n, nil
}

func (c *Client) stringCmd(ctx context.Context, cmd string, args ...interface{}) (string, error) {
	v, err := c.do(ctx, cmd, args...)
	if err != nil {
		return "", err
	}
	s, derr := redis.ToString(v)
	if derr != nil {
		return "", derr
	}
	return s, nil
}
