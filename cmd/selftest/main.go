// Host-side self-test: brings up the full stack (message bus, transfer
// service, transactor, state machine) against the simulated controller and
// runs the scenarios an attached board would be exercised with. Exit code 0
// means every scenario passed.
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"i2cmaster-go/bus"
	"i2cmaster-go/errcode"
	"i2cmaster-go/internal/simtwi"
	"i2cmaster-go/services/i2cm"
	"i2cmaster-go/twim"
	"i2cmaster-go/types"
)

type stack struct {
	sim  *simtwi.Sim
	ctrl *twim.Controller
	conn *bus.Connection
}

func newStack(ctx context.Context) (*stack, error) {
	sim := simtwi.New()
	ctrl := twim.New(sim)
	sim.OnEvent(ctrl.HandleEvent)
	if err := ctrl.Configure(); err != nil {
		return nil, err
	}
	sim.Run(ctx)

	tr := twim.NewTransactor(ctrl)
	tr.SetTimeout(500 * time.Millisecond)

	b := bus.NewBus(16)
	go i2cm.Run(ctx, b.NewConnection("i2cm"), map[string]*twim.Transactor{"i2c0": tr})

	conn := b.NewConnection("selftest")
	sub := conn.Subscribe(bus.Topic{i2cm.TokI2C, "i2c0", i2cm.TokState})
	defer conn.Unsubscribe(sub)
	select {
	case <-sub.Channel():
	case <-time.After(time.Second):
		return nil, fmt.Errorf("service state document never published")
	}
	return &stack{sim: sim, ctrl: ctrl, conn: conn}, nil
}

func (s *stack) transfer(ctx context.Context, req types.TransferRequest) (types.TransferReply, error) {
	msg := s.conn.NewMessage(bus.Topic{i2cm.TokI2C, "i2c0", i2cm.TokTransfer}, req, false)
	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	reply, err := s.conn.RequestWait(rctx, msg)
	if err != nil {
		return types.TransferReply{}, err
	}
	rep, ok := reply.Payload.(types.TransferReply)
	if !ok {
		return types.TransferReply{}, fmt.Errorf("reply payload %T", reply.Payload)
	}
	return rep, nil
}

// ---- scenarios --------------------------------------------------------------

func scenarioWrite(ctx context.Context, s *stack) error {
	s.sim.ResetPeer()
	rep, err := s.transfer(ctx, types.TransferRequest{Addr: 0x50, Write: []byte{0xAB, 0xCD, 0xEF}})
	if err != nil {
		return err
	}
	if !rep.OK {
		return fmt.Errorf("reply error %q", rep.Error)
	}
	if got := s.sim.Received(); !bytes.Equal(got, []byte{0xAB, 0xCD, 0xEF}) {
		return fmt.Errorf("peer received %x", got)
	}
	return nil
}

func scenarioRead(ctx context.Context, s *stack) error {
	s.sim.ResetPeer()
	s.sim.SetPeerData([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	rep, err := s.transfer(ctx, types.TransferRequest{Addr: 0x50, Read: 4})
	if err != nil {
		return err
	}
	if !rep.OK {
		return fmt.Errorf("reply error %q", rep.Error)
	}
	if !bytes.Equal(rep.Data, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		return fmt.Errorf("read back %x", rep.Data)
	}
	return nil
}

func scenarioNackRecovery(ctx context.Context, s *stack) error {
	s.sim.ResetPeer()
	s.sim.FailAt(1, twim.StatusFlags{PeerNack: true})
	rep, err := s.transfer(ctx, types.TransferRequest{Addr: 0x29, Write: []byte{0x11, 0x22}})
	if err != nil {
		return err
	}
	if rep.OK || rep.Error != string(errcode.PeerNack) {
		return fmt.Errorf("want peer_nack abort, got ok=%v error=%q", rep.OK, rep.Error)
	}

	s.sim.ClearFaults()
	rep, err = s.transfer(ctx, types.TransferRequest{Addr: 0x29, Write: []byte{0x33}})
	if err != nil {
		return err
	}
	if !rep.OK {
		return fmt.Errorf("recovery transfer failed: %q", rep.Error)
	}
	return nil
}

func scenarioErrorPrecedence(ctx context.Context, s *stack) error {
	s.sim.ResetPeer()
	s.sim.FailAt(1, twim.StatusFlags{PeerNack: true, BusErr: true})
	defer s.sim.ClearFaults()
	rep, err := s.transfer(ctx, types.TransferRequest{Addr: 0x50, Write: []byte{0x01, 0x02}})
	if err != nil {
		return err
	}
	if rep.OK || rep.Error != string(errcode.BusError) {
		return fmt.Errorf("want bus_error, got ok=%v error=%q", rep.OK, rep.Error)
	}
	return nil
}

func scenarioValidation(ctx context.Context, s *stack) error {
	rep, err := s.transfer(ctx, types.TransferRequest{Addr: 0x80, Write: []byte{0x00}})
	if err != nil {
		return err
	}
	if rep.OK || rep.Error != string(errcode.InvalidParams) {
		return fmt.Errorf("oversized address accepted: ok=%v error=%q", rep.OK, rep.Error)
	}
	rep, err = s.transfer(ctx, types.TransferRequest{Addr: 0x50})
	if err != nil {
		return err
	}
	if rep.OK || rep.Error != string(errcode.InvalidParams) {
		return fmt.Errorf("empty transfer accepted: ok=%v error=%q", rep.OK, rep.Error)
	}
	return nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := newStack(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "setup:", err)
		os.Exit(1)
	}

	scenarios := []struct {
		name string
		fn   func(context.Context, *stack) error
	}{
		{"write", scenarioWrite},
		{"read", scenarioRead},
		{"nack-recovery", scenarioNackRecovery},
		{"error-precedence", scenarioErrorPrecedence},
		{"validation", scenarioValidation},
	}

	failed := 0
	fmt.Println("== i2c master self-test ==")
	for _, sc := range scenarios {
		if err := sc.fn(ctx, s); err != nil {
			fmt.Printf("[FAIL] %-16s %v\n", sc.name, err)
			failed++
			continue
		}
		fmt.Printf("[PASS] %s\n", sc.name)
	}
	fmt.Printf("== done: %d/%d passed ==\n", len(scenarios)-failed, len(scenarios))
	if failed > 0 {
		os.Exit(1)
	}
}
