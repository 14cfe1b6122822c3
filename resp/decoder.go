package resp

import (
	"bytes"

	"github.com/joomcode/errorx"

	"github.com/fschwehn/redistack/rediserror"
)

const (
	// BulkMax is the upper boundary for a bulk string payload.
	// A Redis string value can be at most 512 MiB in length.
	BulkMax = 512 << 20

	// maxHeaderline bounds the length of a single "+...", "-...", ":...",
	// "$<len>" or "*<count>" header before the terminating CRLF.
	maxHeaderline = 64 << 10
)

// Decoder is an incremental RESP2 parser. Bytes are appended with Feed in
// arbitrary chunks; Next returns fully formed values as they complete and
// reports "not yet" otherwise. Unconsumed trailing bytes are retained
// between calls, and the cursor never advances past a partially received
// syntactic unit.
//
// A protocol violation poisons the decoder: framing is lost, every
// subsequent Next returns the same error.
type Decoder struct {
	buf   []byte
	pos   int
	stack []frame
	fatal *errorx.Error
}

// frame is a partially filled array: count is known, not all elements have
// arrived yet.
type frame struct {
	remaining int64
	elems     []Value
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends a chunk of transport bytes to the decoder.
func (d *Decoder) Feed(p []byte) {
	if d.pos > 0 {
		n := copy(d.buf, d.buf[d.pos:])
		d.buf = d.buf[:n]
		d.pos = 0
	}
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of retained, not yet consumed bytes.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.pos
}

// Next returns the next complete value. ok is false when more bytes are
// needed; err is non-nil exactly once framing has been lost, and sticks.
func (d *Decoder) Next() (v Value, ok bool, err *errorx.Error) {
	if d.fatal != nil {
		return Value{}, false, d.fatal
	}
	for {
		rest := d.buf[d.pos:]
		if len(rest) == 0 {
			return Value{}, false, nil
		}

		switch rest[0] {
		case '+', '-', ':':
			line, n := d.scanLine(rest[1:])
			if n < 0 {
				return Value{}, false, d.fatal
			}
			var val Value
			switch rest[0] {
			case '+':
				val = SimpleString(string(line))
			case '-':
				val = ErrorString(string(line))
			case ':':
				num, perr := parseInt(line)
				if perr != nil {
					return d.poison(perr)
				}
				val = Integer(num)
			}
			d.pos += 1 + n
			if out, done := d.complete(val); done {
				return out, true, nil
			}

		case '$':
			line, n := d.scanLine(rest[1:])
			if n < 0 {
				return Value{}, false, d.fatal
			}
			ln, perr := parseInt(line)
			if perr != nil {
				return d.poison(perr)
			}
			if ln == -1 {
				d.pos += 1 + n
				if out, done := d.complete(NullBulk()); done {
					return out, true, nil
				}
				continue
			}
			if ln < 0 {
				return d.poison(rediserror.ErrNegativeLength.New("bulk length %d", ln))
			}
			if ln > BulkMax {
				return d.poison(rediserror.ErrBulkTooLarge.New("bulk length %d", ln))
			}
			need := 1 + n + int(ln) + 2
			if len(rest) < need {
				// cursor stays before '$': re-parse the cheap header once
				// the payload has fully arrived
				return Value{}, false, nil
			}
			if rest[need-2] != '\r' || rest[need-1] != '\n' {
				return d.poison(rediserror.ErrNoFinalRN.NewWithNoMessage())
			}
			payload := make([]byte, ln)
			copy(payload, rest[1+n:1+n+int(ln)])
			d.pos += need
			if out, done := d.complete(Bulk(payload)); done {
				return out, true, nil
			}

		case '*':
			line, n := d.scanLine(rest[1:])
			if n < 0 {
				return Value{}, false, d.fatal
			}
			cnt, perr := parseInt(line)
			if perr != nil {
				return d.poison(perr)
			}
			switch {
			case cnt == -1:
				d.pos += 1 + n
				if out, done := d.complete(NullArray()); done {
					return out, true, nil
				}
			case cnt < 0:
				return d.poison(rediserror.ErrNegativeLength.New("array count %d", cnt))
			case cnt == 0:
				d.pos += 1 + n
				if out, done := d.complete(Array()); done {
					return out, true, nil
				}
			default:
				d.pos += 1 + n
				// cap the preallocation: the count is attacker-supplied
				capa := cnt
				if capa > 4096 {
					capa = 4096
				}
				d.stack = append(d.stack, frame{
					remaining: cnt,
					elems:     make([]Value, 0, capa),
				})
			}

		default:
			return d.poison(rediserror.ErrUnknownHeaderType.NewWithNoMessage().
				WithProperty(rediserror.EKLine, string(firstLine(rest))))
		}
	}
}

// complete folds a finished value into the innermost pending array. It
// returns done=true when v (or an array it closed) is a top-level value.
func (d *Decoder) complete(v Value) (Value, bool) {
	for len(d.stack) > 0 {
		top := &d.stack[len(d.stack)-1]
		top.elems = append(top.elems, v)
		top.remaining--
		if top.remaining > 0 {
			return Value{}, false
		}
		v = Array(top.elems...)
		d.stack = d.stack[:len(d.stack)-1]
	}
	return v, true
}

// scanLine finds the CRLF-terminated payload at the start of p. n is the
// consumed byte count including the CRLF, or -1 when the line has not fully
// arrived yet (with d.fatal set if it can never arrive legally).
func (d *Decoder) scanLine(p []byte) (line []byte, n int) {
	i := bytes.IndexByte(p, '\n')
	if i < 0 {
		if len(p) > maxHeaderline {
			d.fatal = rediserror.ErrHeaderlineTooLarge.New("no CRLF within %d bytes", maxHeaderline)
		}
		return nil, -1
	}
	if i == 0 || p[i-1] != '\r' {
		d.fatal = rediserror.ErrNoFinalRN.NewWithNoMessage()
		return nil, -1
	}
	return p[:i-1], i + 1
}

func (d *Decoder) poison(err *errorx.Error) (Value, bool, *errorx.Error) {
	d.fatal = err
	return Value{}, false, err
}

func firstLine(p []byte) []byte {
	if i := bytes.IndexByte(p, '\n'); i >= 0 {
		p = p[:i]
	}
	if len(p) > 64 {
		p = p[:64]
	}
	return p
}

func parseInt(buf []byte) (int64, *errorx.Error) {
	if len(buf) == 0 {
		return 0, rediserror.ErrIntegerParsing.NewWithNoMessage()
	}
	neg := buf[0] == '-'
	if neg {
		buf = buf[1:]
		if len(buf) == 0 {
			return 0, rediserror.ErrIntegerParsing.NewWithNoMessage()
		}
	}
	v := int64(0)
	for _, b := range buf {
		if b < '0' || b > '9' {
			return 0, rediserror.ErrIntegerParsing.NewWithNoMessage().
				WithProperty(rediserror.EKLine, string(buf))
		}
		v *= 10
		v += int64(b - '0')
	}
	if neg {
		v = -v
	}
	return v, nil
}
