package types

import "github.com/supby/smacrelay/internal/protocol"

// CommandRequest is an outbound intent raised by a consumer surface
// (MQTT, websocket feed, console).
type CommandRequest struct {
	NodeID   int
	DeviceID int
	Opcode   string
	Params   string
}

func (r CommandRequest) Command() protocol.Command {
	return protocol.Command{
		NodeID:   r.NodeID,
		DeviceID: r.DeviceID,
		Opcode:   r.Opcode,
		Params:   r.Params,
	}
}
