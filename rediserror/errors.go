package rediserror

import (
	"github.com/joomcode/errorx"
)

// Errors is the root namespace of all errors produced by this library.
var Errors = errorx.NewNamespace("redis")

var (
	// TraitHard marks errors that poison the connection: protocol framing is
	// lost or the transport failed, so the in-flight queue cannot be matched
	// any more. Everything pending is drained with such an error.
	TraitHard = errorx.RegisterTrait("hard")
	// TraitConnectivity marks connection and request errors: the request got
	// no reply. A request refused before it was written never reached the
	// server; one drained from the in-flight queue by a closed connection,
	// or abandoned with ErrRequestCancelled, may have been processed.
	TraitConnectivity = errorx.RegisterTrait("connectivity")
)

// Option and usage errors.
var (
	ErrOpts         = Errors.NewSubNamespace("opts")
	ErrContextIsNil = ErrOpts.NewType("context_is_nil")
	ErrNoAddress    = ErrOpts.NewType("no_address")
	ErrBadSubscribe = ErrOpts.NewType("bad_subscribe")
)

// Connection life-cycle errors.
var (
	ErrConnection    = Errors.NewSubNamespace("connection", TraitConnectivity)
	ErrNotConnected  = ErrConnection.NewType("not_connected")
	ErrDial          = ErrConnection.NewType("dial")
	ErrAuth          = ErrConnection.NewType("auth")
	ErrConnSetup     = ErrConnection.NewType("setup")
	ErrContextClosed = ErrConnection.NewType("context_closed")
)

// Transport errors. It is unknown whether the request was processed.
var (
	ErrIO      = Errors.NewSubNamespace("io", TraitHard)
	ErrIOError = ErrIO.NewType("error")
)

// Request errors: the request could not be sent, no reason to retry as is.
// ErrRequestCancelled is the exception: the caller stopped waiting, and the
// request may already have been sent.
var (
	ErrRequest              = Errors.NewSubNamespace("request", TraitConnectivity)
	ErrArgumentType         = ErrRequest.NewType("argument_type")
	ErrBatchFormat          = ErrRequest.NewType("batch_format")
	ErrRequestCancelled     = ErrRequest.NewType("cancelled")
	ErrCommandForbidden     = ErrRequest.NewType("command_forbidden")
	ErrMalformedTransaction = ErrRequest.NewType("malformed_transaction")
)

// Protocol errors: the inbound byte stream violates RESP2 framing, or an
// invariant of the pipeline was broken. Framing is lost, the connection is
// poisoned.
var (
	ErrProtocol           = Errors.NewSubNamespace("protocol", TraitHard)
	ErrHeaderlineTooLarge = ErrProtocol.NewType("headerline_too_large")
	ErrIntegerParsing     = ErrProtocol.NewType("integer_parsing")
	ErrNegativeLength     = ErrProtocol.NewType("negative_length")
	ErrBulkTooLarge       = ErrProtocol.NewType("bulk_too_large")
	ErrNoFinalRN          = ErrProtocol.NewType("no_final_rn")
	ErrUnknownHeaderType  = ErrProtocol.NewType("unknown_header_type")
	ErrUnexpectedResponse = ErrProtocol.NewType("unexpected_response")
	ErrQueueTransplant    = ErrProtocol.NewType("queue_transplant")
)

// Decode errors: the response is well-formed RESP2, but its shape cannot
// produce the requested Go type. Not fatal to the connection.
var (
	ErrDecode          = Errors.NewSubNamespace("decode")
	ErrIndexOutOfRange = ErrDecode.NewType("index_out_of_range")
	ErrKeyMismatch     = ErrDecode.NewType("key_mismatch")
	ErrTypeMismatch    = ErrDecode.NewType("type_mismatch")
	// ErrElement wraps an inner decode error raised while traversing an
	// aggregate response; the cause carries the leaf failure.
	ErrElement = ErrDecode.NewType("element")
)

// Result errors: the server answered, with an error reply or with a reply
// that cannot serve the command (a null EXEC, a PING answer other than
// PONG). They fail the originating command only.
var (
	ErrResult    = Errors.NewSubNamespace("result")
	ErrReply     = ErrResult.NewType("reply")
	ErrLoading   = ErrResult.NewType("loading")
	ErrExecEmpty = ErrResult.NewType("exec_empty")
	ErrPing      = ErrResult.NewType("ping")
)

// Properties attached to errors for diagnostics.
var (
	EKLine     = errorx.RegisterPrintableProperty("line")
	EKResponse = errorx.RegisterPrintableProperty("response")
	EKExpected = errorx.RegisterPrintableProperty("expected")
	EKActual   = errorx.RegisterPrintableProperty("actual")
	EKOffset   = errorx.RegisterPrintableProperty("offset")
	EKArgPos   = errorx.RegisterPrintableProperty("argpos")
	EKCommand  = errorx.RegisterPrintableProperty("command")
)

// HardError reports whether err poisons the connection it was received on.
func HardError(err *errorx.Error) bool {
	return err != nil && err.HasTrait(TraitHard)
}

// AsError casts an in-band result to error, or nil.
func AsError(v interface{}) error {
	e, _ := v.(error)
	return e
}

// AsErrorx casts an in-band result to *errorx.Error, or nil.
func AsErrorx(v interface{}) *errorx.Error {
	e, _ := v.(*errorx.Error)
	return e
}
