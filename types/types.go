// Package types holds the JSON shapes exchanged over the message bus.
package types

// ---- Per-bus state (retained) ----

// BusState is the retained state document one bus master publishes on
// i2c/<id>/state.
type BusState struct {
	Level  string `json:"level"`  // "idle", "busy", "fault"
	Status string `json:"status"` // last outcome code, e.g. "ok", "peer_nack"
	TS     int64  `json:"ts_ms"`
}

const (
	LevelIdle  = "idle"
	LevelBusy  = "busy"
	LevelFault = "fault"
)

// ---- Transfer request/reply ----

// TransferRequest asks a bus master to run a write and/or a read transaction
// against one device. Write bytes go out first; Read is the number of bytes
// to read back. Either may be empty/zero, not both.
type TransferRequest struct {
	Addr  uint16 `json:"addr"` // 7-bit device address
	Write []byte `json:"write,omitempty"`
	Read  int    `json:"read,omitempty"`
}

// TransferReply is the response to a TransferRequest.
type TransferReply struct {
	OK    bool   `json:"ok"`
	Data  []byte `json:"data,omitempty"`  // read-back bytes
	Error string `json:"error,omitempty"` // errcode string
}
