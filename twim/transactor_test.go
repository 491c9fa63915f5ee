package twim_test

import (
	"context"
	"testing"
	"time"

	"i2cmaster-go/errcode"
	"i2cmaster-go/internal/simtwi"
	"i2cmaster-go/twim"
)

func newStack(t *testing.T) (*simtwi.Sim, *twim.Transactor, context.CancelFunc) {
	t.Helper()
	sim := simtwi.New()
	c := twim.New(sim)
	sim.OnEvent(c.HandleEvent)
	if err := c.Configure(); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sim.Run(ctx)
	tr := twim.NewTransactor(c)
	tr.SetTimeout(500 * time.Millisecond)
	return sim, tr, cancel
}

func TestTransactorWriteRead(t *testing.T) {
	sim, tr, cancel := newStack(t)
	defer cancel()

	sim.SetPeerData([]byte{0xDE, 0xAD, 0xBE, 0xEF})

	r := make([]byte, 4)
	if err := tr.Tx(0x50, []byte{0x10, 0x20}, r); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	got := sim.Received()
	if len(got) != 2 || got[0] != 0x10 || got[1] != 0x20 {
		t.Errorf("peer received %x, want 1020", got)
	}
	if r[0] != 0xDE || r[1] != 0xAD || r[2] != 0xBE || r[3] != 0xEF {
		t.Errorf("read %x, want deadbeef", r)
	}
}

func TestTransactorReportsPeerNack(t *testing.T) {
	sim, tr, cancel := newStack(t)
	defer cancel()

	sim.FailAt(0, twim.StatusFlags{PeerNack: true})
	err := tr.Tx(0x3C, []byte{0x00}, nil)
	if err != errcode.PeerNack {
		t.Fatalf("Tx = %v, want peer_nack", err)
	}
	// The machine is idle again; a clean transfer goes through.
	sim.ClearFaults()
	if err := tr.Tx(0x3C, []byte{0x01}, nil); err != nil {
		t.Fatalf("Tx after NACK: %v", err)
	}
}

func TestTransactorTimeout(t *testing.T) {
	// No pump goroutine: events queue up but are never delivered, so the
	// transaction never completes.
	sim := simtwi.New()
	c := twim.New(sim)
	sim.OnEvent(c.HandleEvent)
	if err := c.Configure(); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	tr := twim.NewTransactor(c)
	tr.SetTimeout(20 * time.Millisecond)

	err := tr.Tx(0x50, []byte{1, 2}, nil)
	if err != errcode.Timeout {
		t.Fatalf("Tx = %v, want timeout", err)
	}
}

func TestTransactorSequentialTransfers(t *testing.T) {
	sim, tr, cancel := newStack(t)
	defer cancel()

	for i := 0; i < 5; i++ {
		if err := tr.Tx(0x50, []byte{byte(i)}, nil); err != nil {
			t.Fatalf("transfer %d: %v", i, err)
		}
	}
	got := sim.Received()
	if len(got) != 5 {
		t.Fatalf("peer received %d bytes, want 5", len(got))
	}
	for i, b := range got {
		if b != byte(i) {
			t.Errorf("byte %d = %#x, want %#x", i, b, i)
		}
	}
}
