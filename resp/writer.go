package resp

import (
	"strconv"

	"github.com/joomcode/errorx"

	"github.com/fschwehn/redistack/rediserror"
)

// AppendRequest serialises a command into the RESP2 multi-bulk form and
// appends it to buf: "*N\r\n" followed by "$len\r\n<bytes>\r\n" per
// argument, cmd being the first. Lengths are exact byte counts.
//
// Accepted argument types: string, []byte, all fixed-size integers,
// float32/float64 (formatted with full round-trip precision), bool (as
// "0"/"1") and nil (as the empty bulk string).
func AppendRequest(buf []byte, cmd string, args []interface{}) ([]byte, *errorx.Error) {
	buf = appendHead(buf, '*', int64(len(args)+1))
	buf = appendHead(buf, '$', int64(len(cmd)))
	buf = append(buf, cmd...)
	buf = append(buf, '\r', '\n')
	for i, val := range args {
		switch v := val.(type) {
		case string:
			buf = appendHead(buf, '$', int64(len(v)))
			buf = append(buf, v...)
		case []byte:
			buf = appendHead(buf, '$', int64(len(v)))
			buf = append(buf, v...)
		case int:
			buf = appendBulkInt(buf, int64(v))
		case uint:
			if uint64(v) > 1<<63-1 {
				str := strconv.FormatUint(uint64(v), 10)
				buf = appendHead(buf, '$', int64(len(str)))
				buf = append(buf, str...)
			} else {
				buf = appendBulkInt(buf, int64(v))
			}
		case int64:
			buf = appendBulkInt(buf, v)
		case uint64:
			if v > 1<<63-1 {
				str := strconv.FormatUint(v, 10)
				buf = appendHead(buf, '$', int64(len(str)))
				buf = append(buf, str...)
			} else {
				buf = appendBulkInt(buf, int64(v))
			}
		case int32:
			buf = appendBulkInt(buf, int64(v))
		case uint32:
			buf = appendBulkInt(buf, int64(v))
		case int16:
			buf = appendBulkInt(buf, int64(v))
		case uint16:
			buf = appendBulkInt(buf, int64(v))
		case int8:
			buf = appendBulkInt(buf, int64(v))
		case uint8:
			buf = appendBulkInt(buf, int64(v))
		case float32:
			str := strconv.FormatFloat(float64(v), 'f', -1, 32)
			buf = appendHead(buf, '$', int64(len(str)))
			buf = append(buf, str...)
		case float64:
			str := strconv.FormatFloat(v, 'f', -1, 64)
			buf = appendHead(buf, '$', int64(len(str)))
			buf = append(buf, str...)
		case bool:
			if v {
				buf = append(buf, '$', '1', '\r', '\n', '1')
			} else {
				buf = append(buf, '$', '1', '\r', '\n', '0')
			}
		case nil:
			buf = append(buf, '$', '0', '\r', '\n')
		default:
			return nil, rediserror.ErrArgumentType.New("argument of type %T is not serialisable", val).
				WithProperty(rediserror.EKArgPos, i).
				WithProperty(rediserror.EKCommand, cmd)
		}
		buf = append(buf, '\r', '\n')
	}
	return buf, nil
}

func appendInt(b []byte, i int64) []byte {
	var u uint64
	if i == 0 {
		return append(b, '0')
	}
	if i > 0 {
		u = uint64(i)
	} else {
		b = append(b, '-')
		u = uint64(-i)
	}
	digits := [20]byte{}
	p := len(digits)
	for u > 0 {
		n := u / 10
		p--
		digits[p] = byte(u-n*10) + '0'
		u = n
	}
	return append(b, digits[p:]...)
}

func appendHead(b []byte, t byte, i int64) []byte {
	b = append(b, t)
	b = appendInt(b, i)
	return append(b, '\r', '\n')
}

func appendBulkInt(b []byte, i int64) []byte {
	// reserve a one- or two-digit length, patch it after formatting
	if i >= -99999999 && i <= 999999999 {
		b = append(b, '$', '0', '\r', '\n')
	} else {
		b = append(b, '$', '1', '0', '\r', '\n')
	}
	l := len(b)
	b = appendInt(b, i)
	li := len(b) - l
	if li < 10 {
		b[l-3] = byte(li) + '0'
	} else {
		b[l-4] = byte(li/10) + '0'
		b[l-3] = byte(li%10) + '0'
	}
	return b
}
