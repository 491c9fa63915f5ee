package twim

import (
	"time"

	"tinygo.org/x/drivers"

	"i2cmaster-go/errcode"
)

// Transactor adapts the event-driven Controller to the blocking
// drivers.I2C contract so that stock driver packages written against
// tinygo.org/x/drivers can sit on top of this master.
//
// A Tx with both a write and a read buffer runs two full transactions
// (start→stop each); there is no combined write/repeated-start/read form.
// Drivers that require a repeated-start read cannot use this adapter.
//
// A Transactor owns the controller's notify channel and must be the only
// party starting transactions on it.
type Transactor struct {
	c       *Controller
	done    chan Outcome
	timeout time.Duration
}

var _ drivers.I2C = (*Transactor)(nil)

// DefaultTimeout bounds the wait for one transaction to complete.
const DefaultTimeout = 250 * time.Millisecond

// NewTransactor wraps c. It installs a notify channel on the controller.
func NewTransactor(c *Controller) *Transactor {
	t := &Transactor{
		c:       c,
		done:    make(chan Outcome, 1),
		timeout: DefaultTimeout,
	}
	c.SetNotify(t.done)
	return t
}

// SetTimeout replaces the per-transaction deadline. d <= 0 restores the
// default.
func (t *Transactor) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	t.timeout = d
}

// Controller returns the wrapped controller.
func (t *Transactor) Controller() *Controller { return t.c }

// Tx performs a write and then a read transfer, placing the read result in r.
// Passing nil for w or r skips that transfer.
func (t *Transactor) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7f {
		// 10-bit addressing is not supported; reject before the truncation
		// to a wire byte could alias a valid 7-bit address.
		return errcode.InvalidParams
	}
	if len(w) > 0 {
		if err := t.run(uint8(addr), Write, w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		if err := t.run(uint8(addr), Read, r); err != nil {
			return err
		}
	}
	return nil
}

// run executes one full transaction and waits for its outcome.
func (t *Transactor) run(addr uint8, dir Dir, buf []byte) error {
	// Drain a stale outcome left by a timed-out predecessor.
	select {
	case <-t.done:
	default:
	}
	if err := t.c.SetBuffer(buf); err != nil {
		return err
	}
	if err := t.c.Begin(addr, dir); err != nil {
		return err
	}
	select {
	case o := <-t.done:
		return o.Err()
	case <-time.After(t.timeout):
		// The transaction is still live on the bus; the controller has no
		// abort. We stop waiting and report, nothing more.
		return errcode.Timeout
	}
}
