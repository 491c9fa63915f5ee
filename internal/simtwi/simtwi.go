// Package simtwi simulates a two-wire bus controller together with one
// addressed peer device. It implements twim.Hardware and generates the same
// event pattern real controller silicon does: one event per address or data
// phase, delivered to the installed handler either one at a time (Step, for
// deterministic tests) or from a pump goroutine (Run).
//
// Faults are scripted per phase: phase 0 is the address phase, phase k >= 1
// is the k-th data phase. The scripted status flags appear on exactly that
// phase's event, which is how the silicon reports a NACK, a lost arbitration
// or a protocol violation.
package simtwi

import (
	"context"
	"sync"

	"i2cmaster-go/twim"
	"i2cmaster-go/x/conv"
)

// padByte is returned for peer reads past the scripted data.
const padByte = 0xFF

type event struct {
	flags twim.StatusFlags
	data  byte // latched received byte, read-direction phases only
}

// Sim is one simulated controller+peer pair.
type Sim struct {
	mu sync.Mutex

	handler func()
	q       chan event

	configured bool
	cfgErr     error

	// Peer state.
	peerData []byte // supplied on reads, 0xFF-padded
	rpos     int
	received []byte

	// Current transaction bookkeeping.
	phase   int // next phase number to be delivered
	reading bool

	// Event currently being handled; Status/ReadData observe these.
	cur event

	faults map[int]twim.StatusFlags
	trace  []string
}

func New() *Sim {
	return &Sim{
		q:      make(chan event, 32),
		faults: map[int]twim.StatusFlags{},
	}
}

// OnEvent installs the event handler, normally twim.(*Controller).HandleEvent.
func (s *Sim) OnEvent(h func()) { s.handler = h }

// SetPeerData scripts the bytes the peer supplies on read transactions.
func (s *Sim) SetPeerData(b []byte) {
	s.mu.Lock()
	s.peerData = b
	s.rpos = 0
	s.mu.Unlock()
}

// FailAt scripts status flags for one phase of the next transaction:
// phase 0 is the address phase, phase k the k-th data phase.
func (s *Sim) FailAt(phase int, f twim.StatusFlags) {
	s.mu.Lock()
	s.faults[phase] = f
	s.mu.Unlock()
}

// FailConfigure makes Configure return err.
func (s *Sim) FailConfigure(err error) {
	s.mu.Lock()
	s.cfgErr = err
	s.mu.Unlock()
}

// ClearFaults removes all scripted faults.
func (s *Sim) ClearFaults() {
	s.mu.Lock()
	s.faults = map[int]twim.StatusFlags{}
	s.mu.Unlock()
}

// Inject queues a stray event carrying the given flags, outside any
// transaction phase accounting.
func (s *Sim) Inject(f twim.StatusFlags) {
	s.q <- event{flags: f}
}

// Received returns the bytes written to the peer so far.
func (s *Sim) Received() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.received))
	copy(out, s.received)
	return out
}

// Trace returns a copy of the operation trace: "START <addr>/<dir>",
// "WRITE <hex>", "READ <hex>", "STOP", "FLUSH".
func (s *Sim) Trace() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.trace))
	copy(out, s.trace)
	return out
}

// ResetPeer clears captured writes, the read cursor and the trace. Scripted
// peer data and faults are kept.
func (s *Sim) ResetPeer() {
	s.mu.Lock()
	s.received = nil
	s.rpos = 0
	s.trace = nil
	s.mu.Unlock()
}

// Configured reports whether Configure has run.
func (s *Sim) Configured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

// Step delivers one pending event to the handler. It reports whether an
// event was delivered.
func (s *Sim) Step() bool {
	select {
	case ev := <-s.q:
		s.deliver(ev)
		return true
	default:
		return false
	}
}

// StepAll delivers pending events until the queue drains, returning the
// number delivered.
func (s *Sim) StepAll() int {
	n := 0
	for s.Step() {
		n++
	}
	return n
}

// Run pumps events to the handler until ctx is cancelled.
func (s *Sim) Run(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-s.q:
				s.deliver(ev)
			}
		}
	}()
}

func (s *Sim) deliver(ev event) {
	s.mu.Lock()
	s.cur = ev
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h()
	}
}

// ---- twim.Hardware ----------------------------------------------------------

var _ twim.Hardware = (*Sim)(nil)

func (s *Sim) Configure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfgErr != nil {
		return s.cfgErr
	}
	s.configured = true
	return nil
}

// WriteAddress begins a transaction. The address phase completes as one
// event; for reads the first peer byte is already latched when that event
// fires, as on the real controller.
func (s *Sim) WriteAddress(b byte) {
	s.mu.Lock()
	s.trace = append(s.trace, string(conv.AppendAddr([]byte("START "), b)))
	s.phase = 0
	s.rpos = 0
	s.reading = b&1 != 0
	ev := event{flags: s.faults[0]}
	if s.reading && !ev.flags.PeerNack {
		ev.data = s.peerByte()
	}
	s.phase = 1
	s.mu.Unlock()
	s.q <- ev
}

// WriteData completes one write data phase as one event.
func (s *Sim) WriteData(b byte) {
	s.mu.Lock()
	s.trace = append(s.trace, string(conv.AppendHexByte([]byte("WRITE "), b)))
	s.received = append(s.received, b)
	ev := event{flags: s.faults[s.phase]}
	s.phase++
	s.mu.Unlock()
	s.q <- ev
}

// ReadData hands over the latched byte and starts reception of the next one,
// which completes as the next event. The controller stops one reception late,
// exactly like silicon that acknowledges on data-register read; SendStop
// discards the surplus event.
func (s *Sim) ReadData() byte {
	s.mu.Lock()
	b := s.cur.data
	s.trace = append(s.trace, string(conv.AppendHexByte([]byte("READ "), b)))
	ev := event{flags: s.faults[s.phase], data: s.peerByte()}
	s.phase++
	s.mu.Unlock()
	s.q <- ev
	return b
}

// SendStop ends the transaction and clears the latched status flags, as the
// stop command does on the real controller.
func (s *Sim) SendStop() {
	s.mu.Lock()
	s.trace = append(s.trace, "STOP")
	s.cur = event{}
	s.mu.Unlock()
	s.drain()
}

func (s *Sim) FlushReset() {
	s.mu.Lock()
	s.trace = append(s.trace, "FLUSH")
	s.cur = event{}
	s.mu.Unlock()
	s.drain()
}

func (s *Sim) Status() twim.StatusFlags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.flags
}

// peerByte supplies the next peer read byte; callers hold s.mu.
func (s *Sim) peerByte() byte {
	if s.rpos < len(s.peerData) {
		b := s.peerData[s.rpos]
		s.rpos++
		return b
	}
	s.rpos++
	return padByte
}

// drain discards queued events; after a stop or flush the controller raises
// no further events for the finished transaction.
func (s *Sim) drain() {
	for {
		select {
		case <-s.q:
		default:
			return
		}
	}
}
