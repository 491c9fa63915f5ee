package twim

// StatusFlags is the controller status snapshot taken at the top of every
// event. It is only meaningful within the scope of handling that event.
type StatusFlags struct {
	PeerNack bool // addressed device rejected the address or a data byte
	ArbLost  bool // another master won bus contention
	BusErr   bool // illegal start/stop sequencing observed on the bus
}

// Hardware is the capability set the transaction state machine needs from a
// two-wire bus controller. Implementations: internal/simtwi (simulated),
// internal/bridge (serial-attached remote controller), internal/platform
// (megaAVR TWI0 registers).
//
// All methods are invoked from the event handler or from Configure; none may
// block.
type Hardware interface {
	// Configure applies one-time clock/timing/interrupt-enable setup.
	Configure() error
	// WriteAddress writes the address register, which both addresses the
	// device and emits a start (or repeated-start) condition. Bit 0 of b is
	// the direction bit.
	WriteAddress(b byte)
	// WriteData transmits one byte.
	WriteData(b byte)
	// ReadData returns the most recently received byte.
	ReadData() byte
	// SendStop ends the transaction with a stop condition. For reads this
	// also finalises the NACK for the last received byte.
	SendStop()
	// FlushReset forces the controller and its bus-state tracking back to
	// idle.
	FlushReset()
	// Status returns the current status flags.
	Status() StatusFlags
}

// Dir selects the transfer direction for a whole transaction.
type Dir uint8

const (
	Write Dir = 0
	Read  Dir = 1
)

func (d Dir) String() string {
	if d == Read {
		return "read"
	}
	return "write"
}
