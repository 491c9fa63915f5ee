// Package bridge drives a bus controller that sits on the far side of a
// serial link (a small MCU exposing its two-wire master peripheral). Register
// writes and commands go out as framed ops; the remote reports every
// controller event as a status+data frame, which this side caches and turns
// into an event-handler invocation. The result implements twim.Hardware, so
// the state machine cannot tell a remote controller from a local one.
//
// Frame format, both directions: 0xA5, op, v1, v2, chk where
// chk = op ^ v1 ^ v2. Unframed or corrupt bytes are skipped until the next
// magic byte.
package bridge

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/tarm/serial"

	"i2cmaster-go/twim"
	"i2cmaster-go/x/mathx"
)

const frameMagic = 0xA5

// Frame ops.
const (
	opConfigure = 'C' // host -> remote: apply controller setup
	opAddress   = 'A' // host -> remote: v1 = address byte with direction bit
	opData      = 'D' // host -> remote: v1 = data byte to transmit
	opRead      = 'R' // host -> remote: byte consumed, clock in the next one
	opStop      = 'P' // host -> remote: issue stop
	opFlush     = 'F' // host -> remote: flush/reset
	opEvent     = 'E' // remote -> host: v1 = status bits, v2 = received byte
)

// Event status bits (opEvent v1).
const (
	evNack    = 0x01
	evArbLost = 0x02
	evBusErr  = 0x04
)

// Serial port bounds.
const (
	minBaud = 9600
	maxBaud = 1_000_000
)

// Bridge is one remote bus controller.
type Bridge struct {
	port    io.ReadWriteCloser
	handler func()

	mu     sync.Mutex
	status twim.StatusFlags
	data   byte

	badFrames uint32
	done      chan struct{}
}

var _ twim.Hardware = (*Bridge)(nil)

// Open connects to the remote controller on a serial device.
func Open(device string, baud int) (*Bridge, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name: device,
		Baud: mathx.Clamp(baud, minBaud, maxBaud),
	})
	if err != nil {
		return nil, err
	}
	return NewBridge(port), nil
}

// NewBridge wraps an already-open duplex stream and starts the read loop.
func NewBridge(port io.ReadWriteCloser) *Bridge {
	b := &Bridge{
		port: port,
		done: make(chan struct{}),
	}
	go b.readLoop()
	return b
}

// OnEvent installs the event handler, normally twim.(*Controller).HandleEvent.
// Install it before the first transaction.
func (b *Bridge) OnEvent(h func()) { b.handler = h }

// Close shuts the serial link; the read loop exits on the resulting error.
func (b *Bridge) Close() error {
	err := b.port.Close()
	<-b.done
	return err
}

// BadFrames returns how many corrupt frames the read loop skipped.
func (b *Bridge) BadFrames() uint32 { return atomic.LoadUint32(&b.badFrames) }

// ---- twim.Hardware ----------------------------------------------------------

func (b *Bridge) Configure() error { return b.send(opConfigure, 0, 0) }

func (b *Bridge) WriteAddress(v byte) { _ = b.send(opAddress, v, 0) }
func (b *Bridge) WriteData(v byte)    { _ = b.send(opData, v, 0) }

// SendStop ends the transaction and drops the cached status flags; the stop
// command clears them on the remote controller too.
func (b *Bridge) SendStop() {
	b.mu.Lock()
	b.status = twim.StatusFlags{}
	b.mu.Unlock()
	_ = b.send(opStop, 0, 0)
}

func (b *Bridge) FlushReset() {
	b.mu.Lock()
	b.status = twim.StatusFlags{}
	b.data = 0
	b.mu.Unlock()
	_ = b.send(opFlush, 0, 0)
}

// ReadData hands back the byte from the last event and tells the remote to
// clock in the next one, mirroring the data-register read side effect of the
// real peripheral.
func (b *Bridge) ReadData() byte {
	b.mu.Lock()
	v := b.data
	b.mu.Unlock()
	_ = b.send(opRead, 0, 0)
	return v
}

func (b *Bridge) Status() twim.StatusFlags {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// ---- framing ----------------------------------------------------------------

func (b *Bridge) send(op, v1, v2 byte) error {
	frame := [5]byte{frameMagic, op, v1, v2, op ^ v1 ^ v2}
	_, err := b.port.Write(frame[:])
	return err
}

func (b *Bridge) readLoop() {
	defer close(b.done)
	var buf [4]byte
	one := buf[:1]
	for {
		// Hunt for the magic byte, then take the rest of the frame.
		if _, err := io.ReadFull(b.port, one); err != nil {
			return
		}
		if one[0] != frameMagic {
			atomic.AddUint32(&b.badFrames, 1)
			continue
		}
		if _, err := io.ReadFull(b.port, buf[:]); err != nil {
			return
		}
		op, v1, v2, chk := buf[0], buf[1], buf[2], buf[3]
		if chk != op^v1^v2 || op != opEvent {
			atomic.AddUint32(&b.badFrames, 1)
			continue
		}

		b.mu.Lock()
		b.status = twim.StatusFlags{
			PeerNack: v1&evNack != 0,
			ArbLost:  v1&evArbLost != 0,
			BusErr:   v1&evBusErr != 0,
		}
		b.data = v2
		h := b.handler
		b.mu.Unlock()
		if h != nil {
			h()
		}
	}
}
