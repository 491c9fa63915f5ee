package i2cm

import (
	"context"
	"testing"
	"time"

	"i2cmaster-go/bus"
	"i2cmaster-go/internal/simtwi"
	"i2cmaster-go/twim"
	"i2cmaster-go/types"
)

// newStack brings up the full path: simulated hardware, controller,
// transactor, service, and a requester connection.
func newStack(t *testing.T) (*bus.Bus, *bus.Connection, *simtwi.Sim, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	sim := simtwi.New()
	c := twim.New(sim)
	sim.OnEvent(c.HandleEvent)
	if err := c.Configure(); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	sim.Run(ctx)
	tr := twim.NewTransactor(c)

	b := bus.NewBus(16)
	go Run(ctx, b.NewConnection("i2cm"), map[string]*twim.Transactor{"i2c0": tr})

	req := b.NewConnection("test")

	// The service publishes a retained idle state per bus once it is up;
	// wait for it so requests cannot outrun the subscription.
	st := req.Subscribe(bus.Topic{TokI2C, "i2c0", TokState})
	select {
	case <-st.Channel():
	case <-time.After(time.Second):
		t.Fatal("service did not come up")
	}
	req.Unsubscribe(st)

	return b, req, sim, cancel
}

func transfer(t *testing.T, conn *bus.Connection, b *bus.Bus, id string, payload any) types.TransferReply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg := b.NewMessage(bus.Topic{TokI2C, id, TokTransfer}, payload, false)
	reply, err := conn.RequestWait(ctx, msg)
	if err != nil {
		t.Fatalf("RequestWait: %v", err)
	}
	rep, ok := reply.Payload.(types.TransferReply)
	if !ok {
		t.Fatalf("unexpected reply payload: %#v", reply.Payload)
	}
	return rep
}

func TestTransferWriteRead(t *testing.T) {
	b, req, sim, cancel := newStack(t)
	defer cancel()

	sim.SetPeerData([]byte{0xCA, 0xFE})

	rep := transfer(t, req, b, "i2c0", types.TransferRequest{
		Addr:  0x50,
		Write: []byte{0x01, 0x02},
		Read:  2,
	})
	if !rep.OK {
		t.Fatalf("transfer failed: %s", rep.Error)
	}
	if len(rep.Data) != 2 || rep.Data[0] != 0xCA || rep.Data[1] != 0xFE {
		t.Errorf("read data = %x, want cafe", rep.Data)
	}
	got := sim.Received()
	if len(got) != 2 || got[0] != 0x01 || got[1] != 0x02 {
		t.Errorf("peer received %x, want 0102", got)
	}
}

func TestTransferUnknownBus(t *testing.T) {
	b, req, _, cancel := newStack(t)
	defer cancel()

	rep := transfer(t, req, b, "i2c9", types.TransferRequest{Addr: 0x50, Read: 1})
	if rep.OK || rep.Error != "unknown_bus" {
		t.Fatalf("reply = %+v, want unknown_bus", rep)
	}
}

func TestTransferInvalidParams(t *testing.T) {
	b, req, _, cancel := newStack(t)
	defer cancel()

	// Neither write bytes nor a read count.
	rep := transfer(t, req, b, "i2c0", types.TransferRequest{Addr: 0x50})
	if rep.OK || rep.Error != "invalid_params" {
		t.Fatalf("reply = %+v, want invalid_params", rep)
	}

	rep = transfer(t, req, b, "i2c0", types.TransferRequest{Addr: 0x90, Read: 1})
	if rep.OK || rep.Error != "invalid_params" {
		t.Fatalf("reply = %+v, want invalid_params", rep)
	}
}

func TestTransferInvalidPayload(t *testing.T) {
	b, req, _, cancel := newStack(t)
	defer cancel()

	rep := transfer(t, req, b, "i2c0", []byte("not json"))
	if rep.OK || rep.Error != "invalid_payload" {
		t.Fatalf("reply = %+v, want invalid_payload", rep)
	}
}

func TestTransferNackPublishesFaultState(t *testing.T) {
	b, req, sim, cancel := newStack(t)
	defer cancel()

	sim.FailAt(0, twim.StatusFlags{PeerNack: true})
	rep := transfer(t, req, b, "i2c0", types.TransferRequest{Addr: 0x3C, Write: []byte{0}})
	if rep.OK || rep.Error != "peer_nack" {
		t.Fatalf("reply = %+v, want peer_nack", rep)
	}

	// The retained state document reflects the fault.
	st := req.Subscribe(bus.Topic{TokI2C, "i2c0", TokState})
	defer req.Unsubscribe(st)
	select {
	case m := <-st.Channel():
		doc, ok := m.Payload.(types.BusState)
		if !ok {
			t.Fatalf("unexpected state payload: %#v", m.Payload)
		}
		if doc.Level != types.LevelFault || doc.Status != "peer_nack" {
			t.Errorf("state = %+v, want fault/peer_nack", doc)
		}
	case <-time.After(time.Second):
		t.Fatal("no retained state")
	}

	// The bus recovers: a clean transfer succeeds afterwards.
	sim.ClearFaults()
	rep = transfer(t, req, b, "i2c0", types.TransferRequest{Addr: 0x3C, Write: []byte{1}})
	if !rep.OK {
		t.Fatalf("transfer after NACK failed: %s", rep.Error)
	}
}
