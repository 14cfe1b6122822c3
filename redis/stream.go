package redis

import (
	"github.com/joomcode/errorx"

	"github.com/fschwehn/redistack/rediserror"
	"github.com/fschwehn/redistack/resp"
)

// StreamPos names a stream together with the id to read after. XREAD and
// XREADGROUP take an ordered slice of these: keys and ids stay paired, so
// the STREAMS argument halves can never get out of step.
type StreamPos struct {
	Key string
	ID  string
}

// StreamEntry is a single entry of a stream: its id and the field hash.
type StreamEntry struct {
	ID     string
	Fields map[string]string
}

// ToStreamEntry decodes a two-element [id, [k, v, ...]] array.
func ToStreamEntry(v resp.Value) (StreamEntry, *errorx.Error) {
	if v.Kind() != resp.KindArray || v.IsNull() {
		return StreamEntry{}, typeMismatch("stream entry", v)
	}
	elems := v.Elems()
	if len(elems) != 2 {
		return StreamEntry{}, rediserror.ErrIndexOutOfRange.New("stream entry has %d elements, want 2", len(elems))
	}
	id, err := ToString(elems[0])
	if err != nil {
		return StreamEntry{}, rediserror.ErrElement.Wrap(err, "stream entry id")
	}
	fields, err := ToStringMap(elems[1], ToString)
	if err != nil {
		return StreamEntry{}, rediserror.ErrElement.Wrap(err, "stream entry fields")
	}
	return StreamEntry{ID: id, Fields: fields}, nil
}

// XReadResult maps stream keys to the entries read from them. A nil map
// means the server had no data (null reply).
type XReadResult map[string][]StreamEntry

// ToXReadResult decodes an XREAD/XREADGROUP reply: an array of
// [streamKey, [entry, ...]] pairs, or null for "no data".
func ToXReadResult(v resp.Value) (XReadResult, *errorx.Error) {
	if v.IsNull() {
		return nil, nil
	}
	if v.Kind() != resp.KindArray {
		return nil, typeMismatch("stream read reply", v)
	}
	out := make(XReadResult, v.Len())
	for i, pair := range v.Elems() {
		if pair.Kind() != resp.KindArray || pair.Len() != 2 {
			return nil, rediserror.ErrIndexOutOfRange.New("stream read pair %d is not a two-element array", i)
		}
		key, err := ToString(pair.Elems()[0])
		if err != nil {
			return nil, rediserror.ErrElement.Wrap(err, "stream key at %d", i)
		}
		entries, err := ToSlice(pair.Elems()[1], ToStreamEntry)
		if err != nil {
			return nil, rediserror.ErrElement.Wrap(err, "entries of stream %q", key)
		}
		out[key] = entries
	}
	return out, nil
}

// StreamInfo is the XINFO STREAM reply.
type StreamInfo struct {
	Length          int64
	RadixTreeKeys   int64
	RadixTreeNodes  int64
	Groups          int64
	LastGeneratedID string
	FirstEntry      *StreamEntry
	LastEntry       *StreamEntry
}

func optEntry(v resp.Value) (*StreamEntry, *errorx.Error) {
	e, ok, err := Opt(v, ToStreamEntry)
	if err != nil || !ok {
		return nil, err
	}
	return &e, nil
}

// ToStreamInfo decodes the labelled XINFO STREAM reply. Field positions are
// fixed: the server emits them in a stable order.
func ToStreamInfo(v resp.Value) (info StreamInfo, err *errorx.Error) {
	if v.Kind() != resp.KindArray || v.IsNull() {
		return info, typeMismatch("stream info", v)
	}
	elems := v.Elems()
	if info.Length, err = Field(elems, 0, "length", ToInt64); err != nil {
		return info, err
	}
	if info.RadixTreeKeys, err = Field(elems, 2, "radix-tree-keys", ToInt64); err != nil {
		return info, err
	}
	if info.RadixTreeNodes, err = Field(elems, 4, "radix-tree-nodes", ToInt64); err != nil {
		return info, err
	}
	if info.Groups, err = Field(elems, 6, "groups", ToInt64); err != nil {
		return info, err
	}
	if info.LastGeneratedID, err = Field(elems, 8, "last-generated-id", ToString); err != nil {
		return info, err
	}
	if info.FirstEntry, err = Field(elems, 10, "first-entry", optEntry); err != nil {
		return info, err
	}
	if info.LastEntry, err = Field(elems, 12, "last-entry", optEntry); err != nil {
		return info, err
	}
	return info, nil
}

// GroupInfo is one element of the XINFO GROUPS reply.
type GroupInfo struct {
	Name            string
	Consumers       int64
	Pending         int64
	LastDeliveredID string
}

func ToGroupInfo(v resp.Value) (info GroupInfo, err *errorx.Error) {
	if v.Kind() != resp.KindArray || v.IsNull() {
		return info, typeMismatch("group info", v)
	}
	elems := v.Elems()
	if info.Name, err = Field(elems, 0, "name", ToString); err != nil {
		return info, err
	}
	if info.Consumers, err = Field(elems, 2, "consumers", ToInt64); err != nil {
		return info, err
	}
	if info.Pending, err = Field(elems, 4, "pending", ToInt64); err != nil {
		return info, err
	}
	if info.LastDeliveredID, err = Field(elems, 6, "last-delivered-id", ToString); err != nil {
		return info, err
	}
	return info, nil
}

// ConsumerInfo is one element of the XINFO CONSUMERS reply.
type ConsumerInfo struct {
	Name    string
	Pending int64
	Idle    int64
}

func ToConsumerInfo(v resp.Value) (info ConsumerInfo, err *errorx.Error) {
	if v.Kind() != resp.KindArray || v.IsNull() {
		return info, typeMismatch("consumer info", v)
	}
	elems := v.Elems()
	if info.Name, err = Field(elems, 0, "name", ToString); err != nil {
		return info, err
	}
	if info.Pending, err = Field(elems, 2, "pending", ToInt64); err != nil {
		return info, err
	}
	if info.Idle, err = Field(elems, 4, "idle", ToInt64); err != nil {
		return info, err
	}
	return info, nil
}

// ConsumerPending is the per-consumer count of the XPENDING summary.
type ConsumerPending struct {
	Consumer string
	Count    int64
}

// PendingSummary is the summary form of the XPENDING reply.
type PendingSummary struct {
	Count      int64
	SmallestID string
	GreatestID string
	Consumers  []ConsumerPending
}

// ToPendingSummary decodes the [count, smallest, greatest, [[consumer,
// count], ...]] summary. A reply with fewer than four elements is a
// protocol-level shape violation. A zero count yields ok=false: there is
// nothing pending and the id fields are nulls.
func ToPendingSummary(v resp.Value) (sum PendingSummary, ok bool, err *errorx.Error) {
	if v.Kind() != resp.KindArray || v.IsNull() {
		return sum, false, typeMismatch("pending summary", v)
	}
	elems := v.Elems()
	if len(elems) < 4 {
		return sum, false, rediserror.ErrIndexOutOfRange.New("pending summary has %d elements, want 4", len(elems))
	}
	if sum.Count, err = ToInt64(elems[0]); err != nil {
		return sum, false, rediserror.ErrElement.Wrap(err, "pending count")
	}
	if sum.Count == 0 {
		return PendingSummary{}, false, nil
	}
	if sum.SmallestID, err = ToString(elems[1]); err != nil {
		return sum, false, rediserror.ErrElement.Wrap(err, "smallest pending id")
	}
	if sum.GreatestID, err = ToString(elems[2]); err != nil {
		return sum, false, rediserror.ErrElement.Wrap(err, "greatest pending id")
	}
	sum.Consumers, err = ToSlice(elems[3], func(e resp.Value) (ConsumerPending, *errorx.Error) {
		if e.Kind() != resp.KindArray || e.Len() != 2 {
			return ConsumerPending{}, typeMismatch("consumer pending pair", e)
		}
		name, err := ToString(e.Elems()[0])
		if err != nil {
			return ConsumerPending{}, err
		}
		cnt, err := ToInt64(e.Elems()[1])
		if err != nil {
			return ConsumerPending{}, err
		}
		return ConsumerPending{Consumer: name, Count: cnt}, nil
	})
	if err != nil {
		return sum, false, err
	}
	return sum, true, nil
}

// PendingEntry is one element of the extended XPENDING reply.
type PendingEntry struct {
	ID            string
	Consumer      string
	IdleMillis    int64
	DeliveryCount int64
}

func ToPendingEntry(v resp.Value) (e PendingEntry, err *errorx.Error) {
	if v.Kind() != resp.KindArray || v.Len() != 4 {
		return e, typeMismatch("pending entry", v)
	}
	elems := v.Elems()
	if e.ID, err = ToString(elems[0]); err != nil {
		return e, rediserror.ErrElement.Wrap(err, "pending entry id")
	}
	if e.Consumer, err = ToString(elems[1]); err != nil {
		return e, rediserror.ErrElement.Wrap(err, "pending entry consumer")
	}
	if e.IdleMillis, err = ToInt64(elems[2]); err != nil {
		return e, rediserror.ErrElement.Wrap(err, "pending entry idle time")
	}
	if e.DeliveryCount, err = ToInt64(elems[3]); err != nil {
		return e, rediserror.ErrElement.Wrap(err, "pending entry delivery count")
	}
	return e, nil
}

// ToPendingEntries decodes the extended XPENDING reply.
func ToPendingEntries(v resp.Value) ([]PendingEntry, *errorx.Error) {
	return ToSlice(v, ToPendingEntry)
}
