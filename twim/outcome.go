package twim

import (
	"sync/atomic"

	"i2cmaster-go/errcode"
)

// Outcome reports how the last transaction ended: errcode.OK with
// N == len(buffer) on success, or one of errcode.PeerNack,
// errcode.ArbitrationLost, errcode.BusError with the short byte count.
type Outcome struct {
	Code errcode.Code
	N    int
}

func (o Outcome) Err() error {
	if o.Code == errcode.OK {
		return nil
	}
	return o.Code
}

// Internal outcome kinds; index into outcomeCodes.
const (
	outcomeOK uint32 = iota
	outcomeNack
	outcomeArbLost
	outcomeBusErr
)

var outcomeCodes = [...]errcode.Code{
	outcomeOK:      errcode.OK,
	outcomeNack:    errcode.PeerNack,
	outcomeArbLost: errcode.ArbitrationLost,
	outcomeBusErr:  errcode.BusError,
}

// complete latches the outcome for the transaction that just ended and, if a
// notify channel is installed, offers a copy without blocking. It runs in
// event-handler context.
func (c *Controller) complete(kind uint32) {
	packed := uint64(kind)<<32 | uint64(uint32(c.n))
	atomic.StoreUint64(&c.outcome, packed)
	if c.notify != nil {
		select {
		case c.notify <- unpackOutcome(packed):
		default:
			atomic.AddUint32(&c.drops, 1)
		}
	}
}

// LastOutcome returns the outcome latched when the machine last returned to
// Idle. Before the first transaction completes it reads as {OK, 0}.
func (c *Controller) LastOutcome() Outcome {
	return unpackOutcome(atomic.LoadUint64(&c.outcome))
}

// SetNotify installs an outcome channel. Each completed transaction is sent
// without blocking; if the channel is full the outcome is dropped and counted.
// Install the channel before the first Begin; it must not change while a
// transaction can complete.
func (c *Controller) SetNotify(ch chan<- Outcome) {
	c.notify = ch
}

// NotifyDrops returns how many outcomes could not be delivered to the notify
// channel.
func (c *Controller) NotifyDrops() uint32 {
	return atomic.LoadUint32(&c.drops)
}

func unpackOutcome(packed uint64) Outcome {
	return Outcome{
		Code: outcomeCodes[uint32(packed>>32)],
		N:    int(uint32(packed)),
	}
}
