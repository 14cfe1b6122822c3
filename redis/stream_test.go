package redis_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/fschwehn/redistack/redis"
	"github.com/fschwehn/redistack/rediserror"
	"github.com/fschwehn/redistack/resp"
)

func entry(id string, kv ...string) resp.Value {
	fields := make([]resp.Value, len(kv))
	for i, s := range kv {
		fields[i] = resp.BulkString(s)
	}
	return resp.Array(resp.BulkString(id), resp.Array(fields...))
}

func TestToStreamEntry(t *testing.T) {
	e, err := ToStreamEntry(entry("0-1", "a", "1", "b", "2"))
	require.Nil(t, err)
	assert.Equal(t, "0-1", e.ID)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, e.Fields)

	_, err = ToStreamEntry(resp.Array(resp.BulkString("0-1")))
	checkDecodeErr(t, err, rediserror.ErrIndexOutOfRange)

	_, err = ToStreamEntry(resp.Integer(1))
	checkDecodeErr(t, err, rediserror.ErrTypeMismatch)
}

func TestToXReadResult(t *testing.T) {
	// null reply: no data, not an error
	res, err := ToXReadResult(resp.NullArray())
	require.Nil(t, err)
	assert.Nil(t, res)

	v := resp.Array(
		resp.Array(resp.BulkString("strm"), resp.Array(
			entry("0-1", "a", "1"),
			entry("0-2", "a", "2"),
		)),
		resp.Array(resp.BulkString("other"), resp.Array(
			entry("7-0", "x", "y"),
		)),
	)
	res, err = ToXReadResult(v)
	require.Nil(t, err)
	require.Len(t, res, 2)
	require.Len(t, res["strm"], 2)
	assert.Equal(t, "0-1", res["strm"][0].ID)
	assert.Equal(t, map[string]string{"a": "1"}, res["strm"][0].Fields)
	assert.Equal(t, "0-2", res["strm"][1].ID)
	require.Len(t, res["other"], 1)
	assert.Equal(t, "7-0", res["other"][0].ID)

	_, err = ToXReadResult(resp.Array(resp.Array(resp.BulkString("strm"))))
	checkDecodeErr(t, err, rediserror.ErrIndexOutOfRange)
}

func streamInfoFixture() resp.Value {
	return resp.Array(
		resp.BulkString("length"), resp.Integer(2),
		resp.BulkString("radix-tree-keys"), resp.Integer(1),
		resp.BulkString("radix-tree-nodes"), resp.Integer(2),
		resp.BulkString("groups"), resp.Integer(1),
		resp.BulkString("last-generated-id"), resp.BulkString("0-2"),
		resp.BulkString("first-entry"), entry("0-1", "a", "1"),
		resp.BulkString("last-entry"), entry("0-2", "a", "2"),
	)
}

func TestToStreamInfo(t *testing.T) {
	info, err := ToStreamInfo(streamInfoFixture())
	require.Nil(t, err)
	assert.Equal(t, int64(2), info.Length)
	assert.Equal(t, int64(1), info.RadixTreeKeys)
	assert.Equal(t, int64(2), info.RadixTreeNodes)
	assert.Equal(t, int64(1), info.Groups)
	assert.Equal(t, "0-2", info.LastGeneratedID)
	require.NotNil(t, info.FirstEntry)
	assert.Equal(t, "0-1", info.FirstEntry.ID)
	require.NotNil(t, info.LastEntry)
	assert.Equal(t, "0-2", info.LastEntry.ID)
}

func TestToStreamInfo_EmptyStream(t *testing.T) {
	v := resp.Array(
		resp.BulkString("length"), resp.Integer(0),
		resp.BulkString("radix-tree-keys"), resp.Integer(1),
		resp.BulkString("radix-tree-nodes"), resp.Integer(2),
		resp.BulkString("groups"), resp.Integer(0),
		resp.BulkString("last-generated-id"), resp.BulkString("3-3"),
		resp.BulkString("first-entry"), resp.NullBulk(),
		resp.BulkString("last-entry"), resp.NullBulk(),
	)
	info, err := ToStreamInfo(v)
	require.Nil(t, err)
	assert.Nil(t, info.FirstEntry)
	assert.Nil(t, info.LastEntry)
}

func TestToStreamInfo_WrongKey(t *testing.T) {
	v := resp.Array(
		resp.BulkString("length"), resp.Integer(0),
		resp.BulkString("entries"), resp.Integer(1),
	)
	_, err := ToStreamInfo(v)
	checkDecodeErr(t, err, rediserror.ErrKeyMismatch)
}

func TestToGroupInfo(t *testing.T) {
	v := resp.Array(
		resp.BulkString("name"), resp.BulkString("grp"),
		resp.BulkString("consumers"), resp.Integer(2),
		resp.BulkString("pending"), resp.Integer(5),
		resp.BulkString("last-delivered-id"), resp.BulkString("1-1"),
	)
	info, err := ToGroupInfo(v)
	require.Nil(t, err)
	assert.Equal(t, GroupInfo{Name: "grp", Consumers: 2, Pending: 5, LastDeliveredID: "1-1"}, info)
}

func TestToConsumerInfo(t *testing.T) {
	v := resp.Array(
		resp.BulkString("name"), resp.BulkString("worker-1"),
		resp.BulkString("pending"), resp.Integer(3),
		resp.BulkString("idle"), resp.Integer(1500),
	)
	info, err := ToConsumerInfo(v)
	require.Nil(t, err)
	assert.Equal(t, ConsumerInfo{Name: "worker-1", Pending: 3, Idle: 1500}, info)
}

func TestToPendingSummary(t *testing.T) {
	v := resp.Array(
		resp.Integer(4),
		resp.BulkString("1-1"),
		resp.BulkString("3-0"),
		resp.Array(
			resp.Array(resp.BulkString("worker-1"), resp.BulkString("3")),
			resp.Array(resp.BulkString("worker-2"), resp.BulkString("1")),
		),
	)
	sum, ok, err := ToPendingSummary(v)
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), sum.Count)
	assert.Equal(t, "1-1", sum.SmallestID)
	assert.Equal(t, "3-0", sum.GreatestID)
	assert.Equal(t, []ConsumerPending{
		{Consumer: "worker-1", Count: 3},
		{Consumer: "worker-2", Count: 1},
	}, sum.Consumers)
}

func TestToPendingSummary_Empty(t *testing.T) {
	v := resp.Array(
		resp.Integer(0),
		resp.NullBulk(),
		resp.NullBulk(),
		resp.NullArray(),
	)
	_, ok, err := ToPendingSummary(v)
	require.Nil(t, err)
	assert.False(t, ok)
}

func TestToPendingSummary_TooShort(t *testing.T) {
	_, _, err := ToPendingSummary(resp.Array(resp.Integer(1), resp.BulkString("1-1")))
	checkDecodeErr(t, err, rediserror.ErrIndexOutOfRange)
}

func TestToPendingEntries(t *testing.T) {
	v := resp.Array(
		resp.Array(resp.BulkString("1-1"), resp.BulkString("worker-1"),
			resp.Integer(12000), resp.Integer(2)),
		resp.Array(resp.BulkString("1-2"), resp.BulkString("worker-2"),
			resp.Integer(100), resp.Integer(1)),
	)
	entries, err := ToPendingEntries(v)
	require.Nil(t, err)
	assert.Equal(t, []PendingEntry{
		{ID: "1-1", Consumer: "worker-1", IdleMillis: 12000, DeliveryCount: 2},
		{ID: "1-2", Consumer: "worker-2", IdleMillis: 100, DeliveryCount: 1},
	}, entries)

	_, err = ToPendingEntries(resp.Array(resp.Array(resp.BulkString("1-1"))))
	checkDecodeErr(t, err, rediserror.ErrElement)
}
