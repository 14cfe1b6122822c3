package redisclient

import (
	"context"

	"github.com/fschwehn/redistack/redis"
)

// XAdd appends an entry to stream and returns the assigned id. Pass "" as
// id for server assignment.
func (c *Client) XAdd(ctx context.Context, stream, id string, fields map[string]string) (string, error) {
	if id == "" {
		id = "*"
	}
	args := make([]interface{}, 0, 2+2*len(fields))
	args = append(args, stream, id)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return c.stringCmd(ctx, "XADD", args...)
}

// XLen returns the number of entries of stream.
func (c *Client) XLen(ctx context.Context, stream string) (int64, error) {
	return c.intCmd(ctx, "XLEN", stream)
}

// XDel removes entries by id and returns how many were deleted.
func (c *Client) XDel(ctx context.Context, stream string, ids ...string) (int64, error) {
	args := make([]interface{}, 0, 1+len(ids))
	args = append(args, stream)
	for _, id := range ids {
		args = append(args, id)
	}
	return c.intCmd(ctx, "XDEL", args...)
}

// XTrim trims stream to at most maxLen entries; approx allows the server
// to round up to a radix-tree node boundary.
func (c *Client) XTrim(ctx context.Context, stream string, maxLen int64, approx bool) (int64, error) {
	args := []interface{}{stream, "MAXLEN"}
	if approx {
		args = append(args, "~")
	}
	args = append(args, maxLen)
	return c.intCmd(ctx, "XTRIM", args...)
}

// XRange returns entries of stream between start and end inclusive.
// count <= 0 means no limit.
func (c *Client) XRange(ctx context.Context, stream, start, end string, count int64) ([]redis.StreamEntry, error) {
	args := []interface{}{stream, start, end}
	if count > 0 {
		args = append(args, "COUNT", count)
	}
	v, err := c.do(ctx, "XRANGE", args...)
	if err != nil {
		return nil, err
	}
	entries, derr := redis.ToSlice(v, redis.ToStreamEntry)
	if derr != nil {
		return nil, derr
	}
	return entries, nil
}

// XRead reads new entries after the given positions. Streams and ids are
// rendered from the ordered position slice, so they cannot get out of
// step. A nil result means no data.
func (c *Client) XRead(ctx context.Context, count int64, pos ...redis.StreamPos) (redis.XReadResult, error) {
	args := make([]interface{}, 0, 3+2*len(pos))
	if count > 0 {
		args = append(args, "COUNT", count)
	}
	args = appendStreams(args, pos)
	v, err := c.do(ctx, "XREAD", args...)
	if err != nil {
		return nil, err
	}
	res, derr := redis.ToXReadResult(v)
	if derr != nil {
		return nil, derr
	}
	return res, nil
}

// XReadGroup reads entries on behalf of consumer in group. Use ">" as a
// position id for entries never delivered to the group.
func (c *Client) XReadGroup(ctx context.Context, group, consumer string, count int64, noAck bool, pos ...redis.StreamPos) (redis.XReadResult, error) {
	args := make([]interface{}, 0, 7+2*len(pos))
	args = append(args, "GROUP", group, consumer)
	if count > 0 {
		args = append(args, "COUNT", count)
	}
	if noAck {
		args = append(args, "NOACK")
	}
	args = appendStreams(args, pos)
	v, err := c.do(ctx, "XREADGROUP", args...)
	if err != nil {
		return nil, err
	}
	res, derr := redis.ToXReadResult(v)
	if derr != nil {
		return nil, derr
	}
	return res, nil
}

func appendStreams(args []interface{}, pos []redis.StreamPos) []interface{} {
	args = append(args, "STREAMS")
	for _, p := range pos {
		args = append(args, p.Key)
	}
	for _, p := range pos {
		args = append(args, p.ID)
	}
	return args
}

// XGroupCreate creates a consumer group on stream starting after start
// ("$" for new entries only, "0" for the whole stream).
func (c *Client) XGroupCreate(ctx context.Context, stream, group, start string, mkStream bool) error {
	args := []interface{}{"CREATE", stream, group, start}
	if mkStream {
		args = append(args, "MKSTREAM")
	}
	v, err := c.do(ctx, "XGROUP", args...)
	if err != nil {
		return err
	}
	if _, berr := redis.ToBool(v); berr != nil {
		return berr
	}
	return nil
}

// XGroupDestroy removes a consumer group.
func (c *Client) XGroupDestroy(ctx context.Context, stream, group string) (int64, error) {
	return c.intCmd(ctx, "XGROUP", "DESTROY", stream, group)
}

// XAck acknowledges processed entries and returns how many were pending.
func (c *Client) XAck(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	args := make([]interface{}, 0, 2+len(ids))
	args = append(args, stream, group)
	for _, id := range ids {
		args = append(args, id)
	}
	return c.intCmd(ctx, "XACK", args...)
}

// XInfoStream describes the stream itself.
func (c *Client) XInfoStream(ctx context.Context, stream string) (redis.StreamInfo, error) {
	v, err := c.do(ctx, "XINFO", "STREAM", stream)
	if err != nil {
		return redis.StreamInfo{}, err
	}
	info, derr := redis.ToStreamInfo(v)
	if derr != nil {
		return redis.StreamInfo{}, derr
	}
	return info, nil
}

// XInfoGroups describes the consumer groups of stream.
func (c *Client) XInfoGroups(ctx context.Context, stream string) ([]redis.GroupInfo, error) {
	v, err := c.do(ctx, "XINFO", "GROUPS", stream)
	if err != nil {
		return nil, err
	}
	groups, derr := redis.ToSlice(v, redis.ToGroupInfo)
	if derr != nil {
		return nil, derr
	}
	return groups, nil
}

// XInfoConsumers describes the consumers of a group.
func (c *Client) XInfoConsumers(ctx context.Context, stream, group string) ([]redis.ConsumerInfo, error) {
	v, err := c.do(ctx, "XINFO", "CONSUMERS", stream, group)
	if err != nil {
		return nil, err
	}
	consumers, derr := redis.ToSlice(v, redis.ToConsumerInfo)
	if derr != nil {
		return nil, derr
	}
	return consumers, nil
}

// XPending summarises the pending entries of group; ok is false when
// nothing is pending.
func (c *Client) XPending(ctx context.Context, stream, group string) (sum redis.PendingSummary, ok bool, err error) {
	v, rerr := c.do(ctx, "XPENDING", stream, group)
	if rerr != nil {
		return sum, false, rerr
	}
	sum, ok, rerr = redis.ToPendingSummary(v)
	if rerr != nil {
		return sum, false, rerr
	}
	return sum, ok, nil
}

// XPendingExt lists pending entries of group between start and end, at
// most count of them, optionally filtered by consumer.
func (c *Client) XPendingExt(ctx context.Context, stream, group, start, end string, count int64, consumer string) ([]redis.PendingEntry, error) {
	args := []interface{}{stream, group, start, end, count}
	if consumer != "" {
		args = append(args, consumer)
	}
	v, err := c.do(ctx, "XPENDING", args...)
	if err != nil {
		return nil, err
	}
	entries, derr := redis.ToPendingEntries(v)
	if derr != nil {
		return nil, derr
	}
	return entries, nil
}

// XClaimOpts parameterises XCLAIM. Optional numeric fields are emitted
// only when positive; RetryCount is written exactly once.
type XClaimOpts struct {
	Stream        string
	Group         string
	Consumer      string
	MinIdleMillis int64
	IDs           []string
	IdleMillis    int64
	TimeMillis    int64
	RetryCount    int64
	Force         bool
	JustID        bool
}

// XClaim transfers ownership of pending entries to another consumer. With
// JustID the server returns ids only and entry fields stay nil.
func (c *Client) XClaim(ctx context.Context, opts XClaimOpts) ([]redis.StreamEntry, error) {
	args := make([]interface{}, 0, 8+len(opts.IDs))
	args = append(args, opts.Stream, opts.Group, opts.Consumer, opts.MinIdleMillis)
	for _, id := range opts.IDs {
		args = append(args, id)
	}
	if opts.IdleMillis > 0 {
		args = append(args, "IDLE", opts.IdleMillis)
	}
	if opts.TimeMillis > 0 {
		args = append(args, "TIME", opts.TimeMillis)
	}
	if opts.RetryCount > 0 {
		args = append(args, "RETRYCOUNT", opts.RetryCount)
	}
	if opts.Force {
		args = append(args, "FORCE")
	}
	if opts.JustID {
		args = append(args, "JUSTID")
	}
	v, err := c.do(ctx, "XCLAIM", args...)
	if err != nil {
		return nil, err
	}
	if opts.JustID {
		ids, derr := redis.ToStrings(v)
		if derr != nil {
			return nil, derr
		}
		entries := make([]redis.StreamEntry, len(ids))
		for i, id := range ids {
			entries[i] = redis.StreamEntry{ID: id}
		}
		return entries, nil
	}
	entries, derr := redis.ToSlice(v, redis.ToStreamEntry)
	if derr != nil {
		return nil, derr
	}
	return entries, nil
}
