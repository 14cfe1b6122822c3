package redisclient

import (
	"github.com/fschwehn/redistack/redisconn"
)

// Subscribe registers fn under the channels on the dedicated Pub/Sub
// connection, dialing it first if needed. Callbacks run on that
// connection's reader goroutine.
func (c *Client) Subscribe(fn redisconn.MessageFunc, channels ...string) ([]redisconn.SubHandle, error) {
	sub, err := c.subConn()
	if err != nil {
		return nil, err
	}
	handles, serr := sub.Subscribe(fn, channels...)
	if serr != nil {
		return nil, serr
	}
	return handles, nil
}

// PSubscribe is Subscribe for patterns.
func (c *Client) PSubscribe(fn redisconn.MessageFunc, patterns ...string) ([]redisconn.SubHandle, error) {
	sub, err := c.subConn()
	if err != nil {
		return nil, err
	}
	handles, serr := sub.PSubscribe(fn, patterns...)
	if serr != nil {
		return nil, serr
	}
	return handles, nil
}

// Unsubscribe drops every callback of the channels; with none given it
// unsubscribes everything.
func (c *Client) Unsubscribe(channels ...string) error {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	if sub == nil {
		return nil
	}
	if err := sub.Unsubscribe(channels...); err != nil {
		return err
	}
	return nil
}

// PUnsubscribe is Unsubscribe for patterns.
func (c *Client) PUnsubscribe(patterns ...string) error {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	if sub == nil {
		return nil
	}
	if err := sub.PUnsubscribe(patterns...); err != nil {
		return err
	}
	return nil
}

// CancelSubscription removes the one callback behind h.
func (c *Client) CancelSubscription(h redisconn.SubHandle) error {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	if sub == nil {
		return nil
	}
	if err := sub.Cancel(h); err != nil {
		return err
	}
	return nil
}
