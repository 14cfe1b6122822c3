/*
Package redistack - non-blocking RESP2 client with implicit pipelining.

https://redis.io/topics/pipelining

Pipelining improves the maximum throughput redis can serve and reduces CPU
usage on both sides. It is rarely practical to pipeline explicitly: usually
there are dozens of concurrent goroutines, each sending one request at a
time. To handle that workload, pipelining has to be implicit.

This client writes all requests of a connection into the single socket and
continuously reads replies on another goroutine, matching them to requests
strictly first-in first-out, as RESP2's request ordering guarantees. Many
requests may be in flight at once; no goroutine ever blocks on the wire to
submit one.

Structure

- the root package is empty

- resp holds the protocol value model, the incremental decoder and the
request encoder

- redis holds common functionality: requests, futures, typed decoding
(including the stream decoders for XINFO, XPENDING and XREAD replies), and
the synchronous wrappers

- rediserror holds the errorx-based error taxonomy

- redisconn implements the single connection: the command pipeline and the
Pub/Sub mode it can switch into

- redisclient is the typed verb surface over a connection pair

Usage

redisconn.Connect creates an implementation of redis.Sender, the
asynchronous callback api. Usually you don't use it directly but wrap it:

- redis.Sync{sender} - simple synchronous api,

- redis.SyncCtx{sender} - the same, but calls return as soon as the passed
context.Context closes,

- redis.ChanFutured{sender} - futures through channel closing,

- redisclient.Connect - typed verbs (Get, Set, XAdd, XRead, Subscribe, ...)
that decode replies into their declared Go types.

Types accepted as command arguments: nil, []byte, string, all integer
types, float64, float32, bool. All arguments are rendered as redis bulk
strings as usual (strings and bytes as is; numbers in decimal notation;
bool as "0"/"1"; nil as the empty string).

Results arrive as resp.Value protocol values, or as *errorx.Error in-band:
server error replies fail the one command, transport and protocol errors
fail the connection and everything pending on it. The redis package's
typed decoders turn protocol values into plain Go types and keep "the
value is null" distinct from "the value cannot decode".

SUBSCRIBE and PSUBSCRIBE switch a connection into Pub/Sub mode, in which
the server pushes messages outside the request/response discipline. Use
the Subscribe api of redisconn.Connection (or redisclient.Client, which
keeps a dedicated connection for it); mixing subscriptions with ordinary
traffic on one connection is refused.
*/
package redistack
