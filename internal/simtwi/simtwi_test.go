package simtwi_test

import (
	"testing"

	"i2cmaster-go/errcode"
	"i2cmaster-go/internal/simtwi"
	"i2cmaster-go/twim"
)

func newPair(t *testing.T) (*simtwi.Sim, *twim.Controller) {
	t.Helper()
	sim := simtwi.New()
	c := twim.New(sim)
	sim.OnEvent(c.HandleEvent)
	if err := c.Configure(); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	sim.ResetPeer() // drop the configure FLUSH from the trace
	return sim, c
}

func TestWriteTransactionTrace(t *testing.T) {
	sim, c := newPair(t)
	if err := c.SetBuffer([]byte{0xAB, 0xCD}); err != nil {
		t.Fatalf("SetBuffer: %v", err)
	}
	if err := c.Begin(0x50, twim.Write); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	sim.StepAll()

	want := []string{"START 50/w", "WRITE AB", "WRITE CD", "STOP"}
	got := sim.Trace()
	if len(got) != len(want) {
		t.Fatalf("trace = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("trace[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if o := c.LastOutcome(); o.Code != errcode.OK || o.N != 2 {
		t.Errorf("outcome = %+v, want ok/2", o)
	}
}

func TestReadTransactionFillsBuffer(t *testing.T) {
	sim, c := newPair(t)
	sim.SetPeerData([]byte{0x0A, 0x0B, 0x0C})
	buf := make([]byte, 3)
	if err := c.SetBuffer(buf); err != nil {
		t.Fatalf("SetBuffer: %v", err)
	}
	if err := c.Begin(0x29, twim.Read); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	sim.StepAll()

	if buf[0] != 0x0A || buf[1] != 0x0B || buf[2] != 0x0C {
		t.Errorf("buffer = %x, want 0a0b0c", buf)
	}
	if st := c.State(); st != twim.StateIdle {
		t.Errorf("state = %v, want idle", st)
	}
	// The surplus reception queued by the last data-register read was
	// discarded by the stop.
	if sim.Step() {
		t.Error("events left queued after the stop")
	}
}

func TestScriptedDataNack(t *testing.T) {
	sim, c := newPair(t)
	sim.FailAt(1, twim.StatusFlags{PeerNack: true})
	if err := c.SetBuffer([]byte{1, 2, 3}); err != nil {
		t.Fatalf("SetBuffer: %v", err)
	}
	if err := c.Begin(0x50, twim.Write); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	sim.StepAll()

	if o := c.LastOutcome(); o.Code != errcode.PeerNack || o.N != 1 {
		t.Errorf("outcome = %+v, want peer_nack/1", o)
	}
	got := sim.Trace()
	if got[len(got)-1] != "STOP" {
		t.Errorf("abort did not stop: %v", got)
	}
}

func TestScriptedTieBreak(t *testing.T) {
	sim, c := newPair(t)
	sim.FailAt(1, twim.StatusFlags{PeerNack: true, BusErr: true})
	if err := c.SetBuffer([]byte{1, 2}); err != nil {
		t.Fatalf("SetBuffer: %v", err)
	}
	if err := c.Begin(0x50, twim.Write); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	sim.StepAll()

	if o := c.LastOutcome(); o.Code != errcode.BusError {
		t.Errorf("outcome = %+v, want bus_error", o)
	}
}

func TestInjectedStrayError(t *testing.T) {
	sim, c := newPair(t)
	sim.Inject(twim.StatusFlags{PeerNack: true})
	sim.StepAll()

	// A stray error event while idle runs the abort path: stop issued,
	// outcome latched, machine still idle.
	got := sim.Trace()
	if len(got) != 1 || got[0] != "STOP" {
		t.Errorf("trace = %v, want single STOP", got)
	}
	if st := c.State(); st != twim.StateIdle {
		t.Errorf("state = %v, want idle", st)
	}
	if o := c.LastOutcome(); o.Code != errcode.PeerNack {
		t.Errorf("outcome = %+v, want peer_nack", o)
	}
}
