package redisconn

import "sync/atomic"

// Metrics receives one increment per completed command: CommandOK when the
// completion carries a value, CommandFail when it carries an error of any
// category.
type Metrics interface {
	CommandOK()
	CommandFail()
}

// Counters is the default Metrics implementation: a pair of atomic
// counters. DefaultMetrics returns the process-wide instance.
type Counters struct {
	ok   uint64
	fail uint64
}

func (c *Counters) CommandOK()   { atomic.AddUint64(&c.ok, 1) }
func (c *Counters) CommandFail() { atomic.AddUint64(&c.fail, 1) }

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() (ok, fail uint64) {
	return atomic.LoadUint64(&c.ok), atomic.LoadUint64(&c.fail)
}

var defaultMetrics Counters

// DefaultMetrics returns the process-global counters used when Opts.Metrics
// is not set.
func DefaultMetrics() *Counters {
	return &defaultMetrics
}
