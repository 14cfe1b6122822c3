package redis

import (
	"strconv"

	"github.com/joomcode/errorx"

	"github.com/fschwehn/redistack/rediserror"
	"github.com/fschwehn/redistack/resp"
)

// Typed decoding of protocol values.
//
// Two families of entry points are exposed. The To* functions are total:
// they return the target type or a decode error, and a protocol null is a
// type mismatch (ToXReadResult is the exception: a null reply there means
// "no data" and yields a nil result). The Opt* functions model absence: a
// null bulk string or null array yields ok=false with no error, which is
// distinct from a decode failure.

// AsValue unpacks an in-band pipeline result into a protocol value. An
// error result (server reply, transport or protocol failure) is passed
// through as err.
func AsValue(res interface{}) (resp.Value, *errorx.Error) {
	switch v := res.(type) {
	case resp.Value:
		return v, nil
	case *errorx.Error:
		return resp.Value{}, v
	case error:
		return resp.Value{}, rediserror.ErrTypeMismatch.Wrap(v, "result is a foreign error")
	default:
		return resp.Value{}, rediserror.ErrTypeMismatch.New("result is %T, not a protocol value", res)
	}
}

func typeMismatch(expected string, got resp.Value) *errorx.Error {
	return rediserror.ErrTypeMismatch.New("cannot decode %s", expected).
		WithProperty(rediserror.EKExpected, expected).
		WithProperty(rediserror.EKActual, got.String())
}

// ToInt64 accepts an integer reply, or a bulk/simple string whose contents
// parse as a signed decimal.
func ToInt64(v resp.Value) (int64, *errorx.Error) {
	switch v.Kind() {
	case resp.KindInteger:
		return v.Int(), nil
	case resp.KindBulkString, resp.KindSimpleString:
		if v.IsNull() {
			break
		}
		n, err := strconv.ParseInt(v.Text(), 10, 64)
		if err != nil {
			return 0, typeMismatch("integer", v)
		}
		return n, nil
	}
	return 0, typeMismatch("integer", v)
}

// ToString accepts a simple string or a bulk string interpreted as UTF-8.
func ToString(v resp.Value) (string, *errorx.Error) {
	switch v.Kind() {
	case resp.KindSimpleString:
		return v.Text(), nil
	case resp.KindBulkString:
		if !v.IsNull() {
			return v.Text(), nil
		}
	}
	return "", typeMismatch("string", v)
}

// ToBytes accepts a bulk string and returns its exact payload.
func ToBytes(v resp.Value) ([]byte, *errorx.Error) {
	if v.Kind() == resp.KindBulkString && !v.IsNull() {
		return v.Bytes(), nil
	}
	return nil, typeMismatch("bytes", v)
}

// ToBool accepts the integers 0 and 1, and the acknowledgment reply "OK".
func ToBool(v resp.Value) (bool, *errorx.Error) {
	switch v.Kind() {
	case resp.KindInteger:
		switch v.Int() {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	case resp.KindSimpleString:
		if v.Text() == "OK" {
			return true, nil
		}
	}
	return false, typeMismatch("boolean", v)
}

// ToFloat64 accepts a string-encoded decimal.
func ToFloat64(v resp.Value) (float64, *errorx.Error) {
	switch v.Kind() {
	case resp.KindBulkString, resp.KindSimpleString:
		if v.IsNull() {
			break
		}
		f, err := strconv.ParseFloat(v.Text(), 64)
		if err != nil {
			return 0, typeMismatch("float", v)
		}
		return f, nil
	}
	return 0, typeMismatch("float", v)
}

// ToSlice decodes an array element-wise through dec.
func ToSlice[T any](v resp.Value, dec func(resp.Value) (T, *errorx.Error)) ([]T, *errorx.Error) {
	if v.Kind() != resp.KindArray || v.IsNull() {
		return nil, typeMismatch("array", v)
	}
	out := make([]T, v.Len())
	for i, e := range v.Elems() {
		var err *errorx.Error
		if out[i], err = dec(e); err != nil {
			return nil, rediserror.ErrElement.Wrap(err, "array element %d", i).
				WithProperty(rediserror.EKOffset, i)
		}
	}
	return out, nil
}

// ToStringMap decodes an even-length array of alternating keys and values.
func ToStringMap[T any](v resp.Value, dec func(resp.Value) (T, *errorx.Error)) (map[string]T, *errorx.Error) {
	if v.Kind() != resp.KindArray || v.IsNull() {
		return nil, typeMismatch("key/value array", v)
	}
	elems := v.Elems()
	if len(elems)%2 != 0 {
		return nil, typeMismatch("even-length key/value array", v)
	}
	out := make(map[string]T, len(elems)/2)
	for i := 0; i < len(elems); i += 2 {
		k, err := ToString(elems[i])
		if err != nil {
			return nil, rediserror.ErrElement.Wrap(err, "map key at %d", i).
				WithProperty(rediserror.EKOffset, i)
		}
		val, err := dec(elems[i+1])
		if err != nil {
			return nil, rediserror.ErrElement.Wrap(err, "map value for %q", k).
				WithProperty(rediserror.EKOffset, i+1)
		}
		out[k] = val
	}
	return out, nil
}

// ToStrings decodes an array of strings.
func ToStrings(v resp.Value) ([]string, *errorx.Error) {
	return ToSlice(v, ToString)
}

// Opt wraps a total decoder into its optional form: a protocol null yields
// ok=false instead of a type mismatch.
func Opt[T any](v resp.Value, dec func(resp.Value) (T, *errorx.Error)) (out T, ok bool, err *errorx.Error) {
	if v.IsNull() {
		return out, false, nil
	}
	out, err = dec(v)
	return out, err == nil, err
}

func OptInt64(v resp.Value) (int64, bool, *errorx.Error)   { return Opt(v, ToInt64) }
func OptString(v resp.Value) (string, bool, *errorx.Error) { return Opt(v, ToString) }
func OptBytes(v resp.Value) ([]byte, bool, *errorx.Error)  { return Opt(v, ToBytes) }

// Field reads the (key, value) pair at a fixed element offset of a flat
// alternating key/value reply and enforces the expected label, failing with
// a key-mismatch error otherwise. Several XINFO-style replies are decoded
// this way.
func Field[T any](elems []resp.Value, offset int, key string, dec func(resp.Value) (T, *errorx.Error)) (out T, err *errorx.Error) {
	if offset+1 >= len(elems) {
		return out, rediserror.ErrIndexOutOfRange.New("no field pair at offset %d of %d", offset, len(elems)).
			WithProperty(rediserror.EKOffset, offset)
	}
	actual, err := ToString(elems[offset])
	if err != nil {
		return out, err
	}
	if actual != key {
		return out, rediserror.ErrKeyMismatch.New("expected field %q at offset %d, got %q", key, offset, actual).
			WithProperty(rediserror.EKExpected, key).
			WithProperty(rediserror.EKActual, actual).
			WithProperty(rediserror.EKOffset, offset)
	}
	out, err = dec(elems[offset+1])
	if err != nil {
		return out, rediserror.ErrElement.Wrap(err, "field %q", key).
			WithProperty(rediserror.EKOffset, offset+1)
	}
	return out, nil
}
