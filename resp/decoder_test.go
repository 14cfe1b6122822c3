package resp_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fschwehn/redistack/rediserror"
	. "github.com/fschwehn/redistack/resp"
)

// decodeAll feeds the whole stream at once and drains every complete value.
func decodeAll(t *testing.T, stream string) []Value {
	t.Helper()
	d := NewDecoder()
	d.Feed([]byte(stream))
	var vals []Value
	for {
		v, ok, err := d.Next()
		require.Nil(t, err)
		if !ok {
			break
		}
		vals = append(vals, v)
	}
	return vals
}

func decodeOne(t *testing.T, stream string) Value {
	t.Helper()
	vals := decodeAll(t, stream)
	require.Len(t, vals, 1)
	return vals[0]
}

func decodeErr(t *testing.T, stream string, typ *errorx.Type) {
	t.Helper()
	d := NewDecoder()
	d.Feed([]byte(stream))
	var err *errorx.Error
	for err == nil {
		var ok bool
		_, ok, err = d.Next()
		if err == nil && !ok {
			t.Fatalf("stream %q: expected protocol error, decoder wants more bytes", stream)
		}
	}
	assert.True(t, err.IsOfType(typ), "stream %q: got %v", stream, err)
	assert.True(t, rediserror.HardError(err))

	// the decoder is poisoned: the same error sticks
	_, ok, again := d.Next()
	assert.False(t, ok)
	assert.Equal(t, err, again)
}

func TestDecoder_Scalars(t *testing.T) {
	assert.Equal(t, SimpleString(""), decodeOne(t, "+\r\n"))
	assert.Equal(t, SimpleString("OK"), decodeOne(t, "+OK\r\n"))
	assert.Equal(t, ErrorString("ERR wrong"), decodeOne(t, "-ERR wrong\r\n"))

	for i := -1000; i <= 1000; i++ {
		assert.Equal(t, Integer(int64(i)), decodeOne(t, fmt.Sprintf(":%d\r\n", i)))
	}
	assert.Equal(t, Integer(9223372036854775807), decodeOne(t, ":9223372036854775807\r\n"))
	assert.Equal(t, Integer(-9223372036854775808), decodeOne(t, ":-9223372036854775808\r\n"))
}

func TestDecoder_Bulk(t *testing.T) {
	assert.Equal(t, Bulk([]byte{}), decodeOne(t, "$0\r\n\r\n"))
	assert.Equal(t, BulkString("a"), decodeOne(t, "$1\r\na\r\n"))
	assert.Equal(t, BulkString("asdf"), decodeOne(t, "$4\r\nasdf\r\n"))

	// binary safety: payload may contain CR, LF and framing bytes
	raw := "a\r\n+OK\r\n*$"
	assert.Equal(t, BulkString(raw), decodeOne(t, fmt.Sprintf("$%d\r\n%s\r\n", len(raw), raw)))

	big := strings.Repeat("a", 1024*1024)
	assert.Equal(t, BulkString(big), decodeOne(t, fmt.Sprintf("$%d\r\n%s\r\n", len(big), big)))

	null := decodeOne(t, "$-1\r\n")
	assert.True(t, null.IsNull())
	assert.Equal(t, KindBulkString, null.Kind())
}

func TestDecoder_Arrays(t *testing.T) {
	assert.Equal(t, Array(), decodeOne(t, "*0\r\n"))
	assert.Equal(t, Array(SimpleString("OK")), decodeOne(t, "*1\r\n+OK\r\n"))
	assert.Equal(t,
		Array(SimpleString("OK"), Array(Integer(1), SimpleString("OK"))),
		decodeOne(t, "*2\r\n+OK\r\n*2\r\n:1\r\n+OK\r\n"))
	assert.Equal(t,
		Array(Array(Array(BulkString("x")))),
		decodeOne(t, "*1\r\n*1\r\n*1\r\n$1\r\nx\r\n"))

	null := decodeOne(t, "*-1\r\n")
	assert.True(t, null.IsNull())
	assert.Equal(t, KindArray, null.Kind())
}

func TestDecoder_ProtocolErrors(t *testing.T) {
	decodeErr(t, "/\r\n", rediserror.ErrUnknownHeaderType)
	decodeErr(t, "\r\n", rediserror.ErrUnknownHeaderType)
	decodeErr(t, ":\r\n", rediserror.ErrIntegerParsing)
	decodeErr(t, ":1.1\r\n", rediserror.ErrIntegerParsing)
	decodeErr(t, ":a\r\n", rediserror.ErrIntegerParsing)
	decodeErr(t, ":-\r\n", rediserror.ErrIntegerParsing)
	decodeErr(t, "$a\r\n", rediserror.ErrIntegerParsing)
	decodeErr(t, "*a\r\n", rediserror.ErrIntegerParsing)
	decodeErr(t, "$-2\r\n", rediserror.ErrNegativeLength)
	decodeErr(t, "*-2\r\n", rediserror.ErrNegativeLength)
	decodeErr(t, "$1\r\nabc\r\n", rediserror.ErrNoFinalRN)
	decodeErr(t, "+OK\n", rediserror.ErrNoFinalRN)
	decodeErr(t, "+"+strings.Repeat("A", 1024*1024), rediserror.ErrHeaderlineTooLarge)
	decodeErr(t, fmt.Sprintf("$%d\r\n", BulkMax+1), rediserror.ErrBulkTooLarge)
}

// Feeding any partition of a frame stream yields the same values as feeding
// it whole, and partial input never consumes bytes.
func TestDecoder_Chunking(t *testing.T) {
	stream := "+PONG\r\n" +
		":42\r\n" +
		"$-1\r\n" +
		"*2\r\n$4\r\nstrm\r\n*1\r\n*2\r\n$3\r\n0-1\r\n*2\r\n$1\r\na\r\n$1\r\n1\r\n" +
		"-ERR nope\r\n" +
		"*-1\r\n" +
		"$3\r\nend\r\n"
	want := decodeAll(t, stream)
	require.Len(t, want, 7)

	for _, size := range []int{1, 2, 3, 5, 7, 11, len(stream)} {
		d := NewDecoder()
		var got []Value
		for off := 0; off < len(stream); off += size {
			end := off + size
			if end > len(stream) {
				end = len(stream)
			}
			d.Feed([]byte(stream[off:end]))
			for {
				v, ok, err := d.Next()
				require.Nil(t, err)
				if !ok {
					break
				}
				got = append(got, v)
			}
		}
		assert.Equal(t, want, got, "chunk size %d", size)
		// no bytes leak across values
		assert.Equal(t, 0, d.Buffered(), "chunk size %d", size)
	}
}

func TestDecoder_PartialRetention(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("+PONG\r\n$5\r\nhel"))

	v, ok, err := d.Next()
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, SimpleString("PONG"), v)

	// bulk is incomplete: nothing consumed, remainder retained unchanged
	_, ok, err = d.Next()
	require.Nil(t, err)
	assert.False(t, ok)
	assert.Equal(t, len("$5\r\nhel"), d.Buffered())

	d.Feed([]byte("lo\r\n"))
	v, ok, err = d.Next()
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, BulkString("hello"), v)
	assert.Equal(t, 0, d.Buffered())
}

func TestDecoder_PartialAggregate(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("*2\r\n:1\r\n"))
	_, ok, err := d.Next()
	require.Nil(t, err)
	assert.False(t, ok)

	d.Feed([]byte(":2\r\n"))
	v, ok, err := d.Next()
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, Array(Integer(1), Integer(2)), v)
}
