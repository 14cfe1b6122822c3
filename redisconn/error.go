package redisconn

import (
	"github.com/joomcode/errorx"
)

var (
	// EKConnection - key for the connection that handled the request.
	EKConnection = errorx.RegisterProperty("connection")
	// EKAddress - remote address of the connection.
	EKAddress = errorx.RegisterPrintableProperty("address")
	// EKDb - db number to select.
	EKDb = errorx.RegisterProperty("db")
)

func withNewProperty(err *errorx.Error, p errorx.Property, v interface{}) *errorx.Error {
	if _, ok := err.Property(p); ok {
		return err
	}
	return err.WithProperty(p, v)
}
