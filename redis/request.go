package redis

import (
	"strconv"
)

// Request is a single command: verb plus arguments. Arguments are rendered
// as RESP2 bulk strings at write time; see resp.AppendRequest for the set
// of accepted argument types.
type Request struct {
	Cmd  string
	Args []interface{}
}

func Req(cmd string, args ...interface{}) Request {
	return Request{cmd, args}
}

// Future is a single-shot completion handle. Resolve is called exactly once
// per accepted request, with either a resp.Value or an *errorx.Error.
// Replies are delivered on the connection's reader goroutine (refusals and
// connection failures may resolve it on another goroutine); long work must
// be handed off by the implementation.
type Future interface {
	Resolve(res interface{}, n uint64)
	Cancelled() bool
}

// FuncFuture adapts a plain function to the Future interface.
type FuncFuture func(res interface{}, n uint64)

func (f FuncFuture) Cancelled() bool                   { return false }
func (f FuncFuture) Resolve(res interface{}, n uint64) { f(res, n) }

// ArgToString renders a request argument the way it would appear on the
// wire as a bulk string.
func ArgToString(arg interface{}) (string, bool) {
	switch v := arg.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case int:
		return strconv.FormatInt(int64(v), 10), true
	case uint:
		return strconv.FormatUint(uint64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true
	case int16:
		return strconv.FormatInt(int64(v), 10), true
	case uint16:
		return strconv.FormatUint(uint64(v), 10), true
	case int8:
		return strconv.FormatInt(int64(v), 10), true
	case uint8:
		return strconv.FormatUint(uint64(v), 10), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		if v {
			return "1", true
		}
		return "0", true
	case nil:
		return "", true
	default:
		return "", false
	}
}
