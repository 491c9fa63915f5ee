// Package twim drives a single two-wire (I²C) bus controller in master mode
// as an event-driven state machine: one hardware event, one byte or phase.
//
// The controller itself never blocks and never sleeps. Foreground code calls
// SetBuffer and Begin; after that every controller interrupt (byte sent, byte
// received, error flag raised) must invoke HandleEvent, which advances the
// machine by exactly one step. The machine returns to Idle after every
// transaction, success or abort, and latches an Outcome there.
//
// Exactly one transaction is in flight at a time. The buffer passed to
// SetBuffer is borrowed: the caller must not touch it until the machine is
// back in Idle.
package twim

import (
	"sync"
	"sync/atomic"

	"i2cmaster-go/errcode"
)

// State enumerates the machine states. Idle is both the initial state and the
// terminal state of every transaction.
type State uint8

const (
	StateIdle State = iota
	StateStart
	StateStop
	StateReset
	StateTxData
	StateRxData
	StateNack
	StateArbLost
	StateBusErr

	numStates
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStart:
		return "start"
	case StateStop:
		return "stop"
	case StateReset:
		return "reset"
	case StateTxData:
		return "tx_data"
	case StateRxData:
		return "rx_data"
	case StateNack:
		return "nack"
	case StateArbLost:
		return "arb_lost"
	case StateBusErr:
		return "bus_err"
	}
	return "unknown"
}

// The state and the address byte for the current transaction share one word
// so that Begin can publish both with a single compare-and-swap. The original
// check-then-act ("if idle, set address, set state") leaves a window where an
// event delivered in between sees a half-written transaction; a one-word CAS
// from Idle closes it without masking the event source.
const (
	stateMask = 0x00ff
	addrShift = 8
)

// readBit is bit 0 of the on-wire address byte.
const readBit = 0x01

// action is one dispatch-table entry: perform at most one hardware operation,
// update the transaction context, return the next state.
type action func(*Controller) State

// actions is total: every State indexes a non-nil entry. Dispatch through it
// therefore never hits an undefined state.
var actions = [numStates]action{
	StateIdle:    (*Controller).stepIdle,
	StateStart:   (*Controller).stepStart,
	StateStop:    (*Controller).stepStop,
	StateReset:   (*Controller).stepReset,
	StateTxData:  (*Controller).stepTx,
	StateRxData:  (*Controller).stepRx,
	StateNack:    (*Controller).stepNack,
	StateArbLost: (*Controller).stepArbLost,
	StateBusErr:  (*Controller).stepBusErr,
}

// Controller is the transaction state machine for one bus controller.
//
// Two execution contexts touch it: foreground code (Configure, SetBuffer,
// Begin, LastOutcome) and the event handler (HandleEvent), which the platform
// may run from interrupt context at any point. HandleEvent is never re-entered
// by its own event source while running; state transitions against a racing
// Begin are resolved with compare-and-swap on the packed state word.
type Controller struct {
	hw Hardware

	// word packs the current State (low byte) with the on-wire address byte
	// of the current transaction. Access only through sync/atomic.
	word uint32

	// stepMu serializes handler invocations. When the handler runs from the
	// interrupt vector it is uncontended: events arrive one at a time and
	// Begin only steps from Idle, when no event is pending. Host-side event
	// pumps (simulator, serial bridge) run the handler from a goroutine that
	// can race Begin's synchronous start step, and there the lock is load
	// bearing.
	stepMu sync.Mutex

	// buf is borrowed from the caller for the duration of a transaction.
	// n counts bytes transferred so far; 0 <= n <= len(buf) always. Both are
	// only touched while the machine is off Idle (plus SetBuffer, which is
	// rejected unless the machine is Idle).
	buf []byte
	n   int

	// outcome packs the result of the last completed transaction; see
	// outcome.go. notify, if set, receives a copy of each Outcome.
	outcome uint64
	notify  chan<- Outcome
	drops   uint32
}

// New binds a controller to its hardware. Call Configure before anything else.
func New(hw Hardware) *Controller {
	return &Controller{hw: hw}
}

// Configure applies the one-time hardware setup and forces the machine to
// Idle through the Reset action (flush, forced bus-idle). It must be called
// once, before SetBuffer or Begin.
func (c *Controller) Configure() error {
	if err := c.hw.Configure(); err != nil {
		return &errcode.E{C: errcode.Error, Op: "twim.Configure", Err: err}
	}
	c.stepReset()
	atomic.StoreUint32(&c.word, uint32(StateIdle))
	return nil
}

// State returns the machine's current state.
func (c *Controller) State() State {
	return State(atomic.LoadUint32(&c.word) & stateMask)
}

// SetBuffer installs the transfer buffer for the next transaction and resets
// the byte count. It is rejected with errcode.Busy while a transaction is in
// flight: swapping the buffer under a running transfer cannot be done
// meaningfully, so the unsupported call reports instead of corrupting.
func (c *Controller) SetBuffer(buf []byte) error {
	if c.State() != StateIdle {
		return errcode.Busy
	}
	c.buf = buf
	c.n = 0
	return nil
}

// Begin starts a transaction against the 7-bit address addr in direction dir.
// If the machine is Idle it transitions to Start and immediately drives one
// event-handler step, emitting the start condition on the bus; otherwise it
// reports errcode.Busy and leaves the context untouched. An absent or empty
// buffer reports errcode.InvalidParams: a zero-length transfer would index
// past the buffer on the first data phase.
func (c *Controller) Begin(addr uint8, dir Dir) error {
	if addr > 0x7f {
		return errcode.InvalidParams
	}
	if len(c.buf) == 0 {
		return errcode.InvalidParams
	}
	wire := uint32(addr)<<1 | uint32(dir&1)
	for {
		old := atomic.LoadUint32(&c.word)
		if State(old&stateMask) != StateIdle {
			return errcode.Busy
		}
		if atomic.CompareAndSwapUint32(&c.word, old, uint32(StateStart)|wire<<addrShift) {
			break
		}
		// A stray event stored Idle back over Idle; retry the claim.
	}
	c.HandleEvent()
	return nil
}

// HandleEvent is the event-handler entry point. The platform must invoke it
// on every controller event for this bus. It triages the status flags into an
// effective state, runs that state's action, and publishes the returned state.
//
// The flag checks are sequential overwrites in fixed order: peer NACK, then
// arbitration lost, then bus error. If more than one flag is asserted in the
// same event the last check wins, so a simultaneous NACK and bus error is
// handled as a bus error. That matches the controller lineage this machine
// was built against; see DESIGN.md before changing the order.
func (c *Controller) HandleEvent() {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()

	old := atomic.LoadUint32(&c.word)
	st := State(old & stateMask)

	flags := c.hw.Status()
	if flags.PeerNack {
		st = StateNack
	}
	if flags.ArbLost {
		st = StateArbLost
	}
	if flags.BusErr {
		st = StateBusErr
	}

	next := actions[st](c)

	// CAS, not store: if a Begin claimed the machine between our load and
	// here (only possible when st was Idle and the action was a no-op), its
	// Start must not be clobbered with a stale word.
	atomic.CompareAndSwapUint32(&c.word, old, old&^uint32(stateMask)|uint32(next))
}

// ---- per-state actions ------------------------------------------------------

func (c *Controller) stepIdle() State {
	return StateIdle
}

func (c *Controller) stepStart() State {
	c.n = 0
	wire := byte(atomic.LoadUint32(&c.word) >> addrShift)
	c.hw.WriteAddress(wire)
	if wire&readBit != 0 {
		return StateRxData
	}
	return StateTxData
}

func (c *Controller) stepTx() State {
	if c.n >= len(c.buf) {
		// Stray event past the last byte; nothing left to transmit.
		return StateStop
	}
	c.hw.WriteData(c.buf[c.n])
	c.n++
	if c.n >= len(c.buf) {
		return StateStop
	}
	return StateTxData
}

func (c *Controller) stepRx() State {
	if c.n >= len(c.buf) {
		return StateStop
	}
	c.buf[c.n] = c.hw.ReadData()
	c.n++
	if c.n >= len(c.buf) {
		return StateStop
	}
	return StateRxData
}

func (c *Controller) stepStop() State {
	c.hw.SendStop()
	c.complete(outcomeOK)
	return StateIdle
}

func (c *Controller) stepReset() State {
	c.hw.FlushReset()
	return StateIdle
}

// The three error states all abort the same way: issue a stop, latch the
// outcome, return to Idle. No distinction is made between an address-phase
// and a data-phase NACK, and arbitration loss is not retried.

func (c *Controller) stepNack() State {
	c.hw.SendStop()
	c.complete(outcomeNack)
	return StateIdle
}

func (c *Controller) stepArbLost() State {
	c.hw.SendStop()
	c.complete(outcomeArbLost)
	return StateIdle
}

func (c *Controller) stepBusErr() State {
	c.hw.SendStop()
	c.complete(outcomeBusErr)
	return StateIdle
}
