package dispatcher

import (
	"context"

	"github.com/supby/smacrelay/internal/protocol"
	"github.com/supby/smacrelay/internal/registry"
)

// CommandSender encodes and writes an outbound command.
type CommandSender interface {
	SendCommand(ctx context.Context, cmd protocol.Command) error
}

type Dispatcher interface {
	// HandleLine decodes one received line and dispatches it.
	HandleLine(ctx context.Context, line string) error
	Dispatch(ctx context.Context, ev protocol.Event) error
	Registry() registry.Reader
	// Reset forgets every node and announces the empty registry.
	Reset()
	// Notice raises a transient operator notice.
	Notice(message string)

	SubscribeOnDeviceSample(callback func(sample protocol.DeviceSample))
	SubscribeOnRegistryChanged(callback func(nodes []registry.Node))
	SubscribeOnDevicesChanged(callback func(nodeID int, devices []registry.Device, totalDevices int))
	SubscribeOnNodeLog(callback func(nodeID int, text string))
	SubscribeOnRelayerError(callback func(message string))
	SubscribeOnNotice(callback func(message string))
}
