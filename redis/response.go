package redis

import (
	"github.com/joomcode/errorx"

	"github.com/fschwehn/redistack/rediserror"
	"github.com/fschwehn/redistack/resp"
)

// AsError casts an in-band result to error, or nil.
func AsError(v interface{}) error { return rediserror.AsError(v) }

// AsErrorx casts an in-band result to *errorx.Error, or nil.
func AsErrorx(v interface{}) *errorx.Error { return rediserror.AsErrorx(v) }

// ScanResponse parses the [cursor, keys] reply of SCAN-family commands.
func ScanResponse(res interface{}) ([]byte, []string, error) {
	v, rerr := AsValue(res)
	if rerr != nil {
		return nil, nil, rerr
	}
	if v.Kind() != resp.KindArray || v.Len() != 2 {
		return nil, nil, typeMismatch("scan reply", v)
	}
	it, err := ToBytes(v.Elems()[0])
	if err != nil {
		return nil, nil, err
	}
	keys, err := ToStrings(v.Elems()[1])
	if err != nil {
		return nil, nil, err
	}
	return it, keys, nil
}

// TransactionResponse parses the reply of EXEC: the array of the queued
// commands' replies. A null reply means the transaction was not executed
// (failed WATCH).
func TransactionResponse(res interface{}) ([]resp.Value, error) {
	v, rerr := AsValue(res)
	if rerr != nil {
		return nil, rerr
	}
	if v.IsNull() {
		return nil, rediserror.ErrExecEmpty.NewWithNoMessage()
	}
	if v.Kind() != resp.KindArray {
		return nil, typeMismatch("transaction reply", v)
	}
	return v.Elems(), nil
}
