// Package i2cm exposes bus masters over the message bus. Foreground code
// (or a remote frontend holding a bus connection) publishes transfer
// requests; the service runs them on the addressed master and replies with
// the result, keeping a retained state document per bus.
package i2cm

import (
	"context"

	"i2cmaster-go/bus"
	"i2cmaster-go/errcode"
	"i2cmaster-go/internal/util"
	"i2cmaster-go/twim"
	"i2cmaster-go/types"
	"i2cmaster-go/x/mathx"
	"i2cmaster-go/x/timex"
)

// Topic tokens.
const (
	TokI2C      = "i2c"
	TokTransfer = "transfer"
	TokState    = "state"
)

// MaxTransfer bounds one transfer in either direction.
const MaxTransfer = 256

// Run serves transfer requests until ctx is cancelled. masters maps bus id
// (e.g. "i2c0") to its transactor; the service is the only user of each
// transactor.
func Run(ctx context.Context, conn *bus.Connection, masters map[string]*twim.Transactor) {
	s := &service{conn: conn, masters: masters}
	s.loop(ctx)
}

type service struct {
	conn    *bus.Connection
	masters map[string]*twim.Transactor
}

func (s *service) loop(ctx context.Context) {
	sub := s.conn.Subscribe(bus.Topic{TokI2C, bus.WildcardOne, TokTransfer})
	defer s.conn.Unsubscribe(sub)

	for id := range s.masters {
		s.publishState(id, types.LevelIdle, string(errcode.OK))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.Channel():
			s.handleTransfer(msg)
		}
	}
}

func (s *service) handleTransfer(msg *bus.Message) {
	id := msg.Topic[1]
	tr, ok := s.masters[id]
	if !ok {
		s.reply(msg, nil, errcode.UnknownBus)
		return
	}

	var req types.TransferRequest
	if err := util.DecodeJSON(msg.Payload, &req); err != nil {
		s.reply(msg, nil, errcode.InvalidPayload)
		return
	}
	if req.Addr > 0x7f ||
		!mathx.Between(len(req.Write), 0, MaxTransfer) ||
		!mathx.Between(req.Read, 0, MaxTransfer) ||
		(len(req.Write) == 0 && req.Read == 0) {
		s.reply(msg, nil, errcode.InvalidParams)
		return
	}

	var rbuf []byte
	if req.Read > 0 {
		rbuf = make([]byte, req.Read)
	}

	s.publishState(id, types.LevelBusy, TokTransfer)
	if err := tr.Tx(req.Addr, req.Write, rbuf); err != nil {
		code := errcode.Of(err)
		s.publishState(id, types.LevelFault, string(code))
		s.reply(msg, nil, code)
		return
	}
	s.publishState(id, types.LevelIdle, string(errcode.OK))
	s.reply(msg, rbuf, errcode.OK)
}

func (s *service) reply(msg *bus.Message, data []byte, code errcode.Code) {
	rep := types.TransferReply{OK: code == errcode.OK, Data: data}
	if code != errcode.OK {
		rep.Error = string(code)
	}
	s.conn.Reply(msg, rep, false)
}

func (s *service) publishState(id, level, status string) {
	doc := types.BusState{Level: level, Status: status, TS: timex.NowMs()}
	s.conn.Publish(s.conn.NewMessage(bus.Topic{TokI2C, id, TokState}, doc, true))
}
