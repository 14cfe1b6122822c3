package redisconn

import (
	"log"

	"go.uber.org/zap"
)

// LogKind is a connection life-cycle or diagnostic event.
type LogKind int

const (
	LogConnected LogKind = iota
	LogDisconnected
	LogContextClosed
	// LogForeignFrame - a frame arrived in Pub/Sub mode that is not a push
	// message; it is treated as a reply to a whitelisted command.
	LogForeignFrame
	// LogInvariantViolation - the pipeline state machine was broken
	// (unexpected reply with an empty queue, illegal queue transplant).
	// The connection is failed.
	LogInvariantViolation
	LogMAX
)

// Logger receives connection events. v depends on the event kind.
type Logger interface {
	Report(event LogKind, conn *Connection, v ...interface{})
}

type defaultLogger struct{}

func (d defaultLogger) Report(event LogKind, conn *Connection, v ...interface{}) {
	switch event {
	case LogConnected:
		localAddr := v[0].(string)
		remoteAddr := v[1].(string)
		log.Printf("redis: connected to %s (local addr: %s, remote addr: %s)",
			conn.Addr(), localAddr, remoteAddr)
	case LogDisconnected:
		err := v[0].(error)
		log.Printf("redis: connection to %s broken: %s", conn.Addr(), err.Error())
	case LogContextClosed:
		log.Printf("redis: connection to %s explicitly closed", conn.Addr())
	case LogForeignFrame:
		log.Printf("redis: %s: non-pubsub frame in pubsub mode treated as command reply", conn.Addr())
	case LogInvariantViolation:
		err := v[0].(error)
		log.Printf("redis: CRITICAL: %s: pipeline invariant violated: %s", conn.Addr(), err.Error())
	default:
		args := []interface{}{"redis: unexpected event:", event, conn}
		args = append(args, v...)
		log.Print(args...)
	}
}

// ZapLogger adapts a zap logger to the Logger interface. Invariant
// violations log at error level, foreign frames at debug, the rest at the
// severity matching the event.
type ZapLogger struct {
	L *zap.Logger
}

func (z ZapLogger) Report(event LogKind, conn *Connection, v ...interface{}) {
	l := z.L.With(zap.String("addr", conn.Addr()))
	switch event {
	case LogConnected:
		l.Info("connected",
			zap.String("local_addr", v[0].(string)),
			zap.String("remote_addr", v[1].(string)))
	case LogDisconnected:
		l.Warn("connection broken", zap.Error(v[0].(error)))
	case LogContextClosed:
		l.Info("connection closed")
	case LogForeignFrame:
		l.Debug("non-pubsub frame in pubsub mode treated as command reply")
	case LogInvariantViolation:
		l.Error("pipeline invariant violated", zap.Error(v[0].(error)))
	default:
		l.Warn("unexpected connection event", zap.Int("event", int(event)))
	}
}
