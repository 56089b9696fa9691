package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/supby/smacrelay/internal/logger"
	"github.com/supby/smacrelay/internal/protocol"
	"github.com/supby/smacrelay/internal/registry"
)

type defaultDispatcher struct {
	registry *registry.Registry
	sender   CommandSender
	logger   logger.Logger
	now      func() time.Time

	onDeviceSample    func(sample protocol.DeviceSample)
	onRegistryChanged func(nodes []registry.Node)
	onDevicesChanged  func(nodeID int, devices []registry.Device, totalDevices int)
	onNodeLog         func(nodeID int, text string)
	onRelayerError    func(message string)
	onNotice          func(message string)
}

// New returns a Dispatcher that owns reg. Nothing else may mutate reg.
func New(reg *registry.Registry, sender CommandSender, logLevel int) Dispatcher {
	return &defaultDispatcher{
		registry: reg,
		sender:   sender,
		logger:   logger.GetLogger("[dispatcher]", logLevel),
		now:      time.Now,
	}
}

func (d *defaultDispatcher) Registry() registry.Reader {
	return d.registry
}

func (d *defaultDispatcher) Reset() {
	d.registry.Reset()
	d.logger.Info("Registry cleared")
	d.registryChanged()
}

func (d *defaultDispatcher) SubscribeOnDeviceSample(callback func(sample protocol.DeviceSample)) {
	d.onDeviceSample = callback
}

func (d *defaultDispatcher) SubscribeOnRegistryChanged(callback func(nodes []registry.Node)) {
	d.onRegistryChanged = callback
}

func (d *defaultDispatcher) SubscribeOnDevicesChanged(callback func(nodeID int, devices []registry.Device, totalDevices int)) {
	d.onDevicesChanged = callback
}

func (d *defaultDispatcher) SubscribeOnNodeLog(callback func(nodeID int, text string)) {
	d.onNodeLog = callback
}

func (d *defaultDispatcher) SubscribeOnRelayerError(callback func(message string)) {
	d.onRelayerError = callback
}

func (d *defaultDispatcher) SubscribeOnNotice(callback func(message string)) {
	d.onNotice = callback
}

func (d *defaultDispatcher) HandleLine(ctx context.Context, line string) error {
	d.logger.Debug("--> %s", line)

	ev := protocol.Decode(line)

	if h, ok := header(ev); ok && checkHeader(h) == nil {
		d.registry.Touch(h.NodeID, d.now())
		d.nodeLog(h.NodeID, "--> "+line)
	}

	err := d.Dispatch(ctx, ev)
	if err != nil {
		d.logger.Warn("Dispatch of '%s' failed: %v", line, err)
	}

	return err
}

// Dispatch applies ev to the registry and raises the matching
// notifications. Updates aimed at an unknown node or device leave the
// registry untouched and return registry.ErrUnknownNode or
// registry.ErrUnknownDevice.
func (d *defaultDispatcher) Dispatch(ctx context.Context, ev protocol.Event) error {
	if h, ok := header(ev); ok {
		if err := checkHeader(h); err != nil {
			return err
		}
	}

	switch e := ev.(type) {
	case protocol.NodeAttached:
		return d.nodeAttached(ctx, e)
	case protocol.RelayerError:
		d.logger.Error("Relayer error: %s", e.Message)
		if d.onRelayerError != nil {
			d.onRelayerError(e.Message)
		}
		return nil
	case protocol.DeviceSample:
		if d.onDeviceSample != nil {
			d.onDeviceSample(e)
		}
		return nil
	case protocol.NodeInfo:
		return d.nodeInfo(e)
	case protocol.DeviceInfo:
		return d.deviceInfo(e)
	case protocol.NodeRenamed:
		return d.nodeChanged(d.registry.RenameNode(e.NodeID, e.Name))
	case protocol.DeviceRenamed:
		return d.deviceChanged(e.NodeID, d.registry.RenameDevice(e.NodeID, e.DeviceID, e.Name))
	case protocol.RateChanged:
		return d.deviceChanged(e.NodeID, d.registry.SetRate(e.NodeID, e.DeviceID, e.Rate))
	case protocol.ImmediateToggled:
		return d.deviceChanged(e.NodeID, d.registry.SetImmediate(e.NodeID, e.DeviceID, e.Enabled))
	case protocol.PeriodicToggled:
		return d.deviceChanged(e.NodeID, d.registry.SetPeriodic(e.NodeID, e.DeviceID, e.Enabled))
	case protocol.VersionChanged:
		if e.Scope == protocol.NodeScope {
			return d.nodeChanged(d.registry.SetNodeVersion(e.NodeID, e.Version))
		}
		return d.deviceChanged(e.NodeID, d.registry.SetDeviceVersion(e.NodeID, e.DeviceID, e.Version))
	case protocol.FileList:
		d.nodeLog(e.NodeID, fmt.Sprintf("FILES %s", e.Entries))
		return nil
	case protocol.FileContents:
		d.nodeLog(e.NodeID, fmt.Sprintf("FILE %s", e.Contents))
		return nil
	case protocol.DeviceError:
		d.nodeLog(e.NodeID, fmt.Sprintf("ERROR %02d: %s", e.DeviceID, e.Message))
		return nil
	case protocol.Pong:
		d.nodeLog(e.NodeID, "PONG")
		return nil
	case protocol.Unrecognized:
		d.logger.Debug("Dropped unrecognized line '%s'", e.Line)
		return nil
	}

	return fmt.Errorf("dispatcher: unhandled event %T", ev)
}

func (d *defaultDispatcher) nodeAttached(ctx context.Context, e protocol.NodeAttached) error {
	if e.NodeID < 0 || e.NodeID >= protocol.MaxNodes {
		d.logger.Debug("Ignoring attach of out of range node %d", e.NodeID)
		return nil
	}

	d.logger.Info("Node %02d attached", e.NodeID)
	d.Notice(fmt.Sprintf("Node %02d attached", e.NodeID))

	if d.sender == nil {
		return nil
	}

	return errors.Join(
		d.sender.SendCommand(ctx, protocol.GetNodeInfo(e.NodeID)),
		d.sender.SendCommand(ctx, protocol.GetDeviceInfo(e.NodeID)),
	)
}

func (d *defaultDispatcher) nodeInfo(e protocol.NodeInfo) error {
	created, err := d.registry.UpsertNode(e.NodeID, registry.NodeInfo{
		Name:        e.Name,
		Version:     e.Version,
		Address:     e.Address,
		DeviceCount: e.DeviceCount,
	})
	if err != nil {
		return err
	}

	if created {
		d.logger.Info("Node %02d '%s' registered", e.NodeID, e.Name)
		d.registry.Touch(e.NodeID, d.now())
	}

	d.registryChanged()
	d.devicesChanged(e.NodeID)

	return nil
}

func (d *defaultDispatcher) deviceInfo(e protocol.DeviceInfo) error {
	err := d.registry.PutDevice(e.NodeID, registry.Device{
		ID:               e.DeviceID,
		Name:             e.Name,
		Version:          e.Version,
		ImmediateEnabled: e.ImmediateEnabled,
		PeriodicEnabled:  e.PeriodicEnabled,
		Rate:             e.Rate,
	})
	if errors.Is(err, registry.ErrUnknownNode) {
		d.logger.Debug("Device info for unknown node %02d ignored", e.NodeID)
		return nil
	}
	if err != nil {
		return err
	}

	d.devicesChanged(e.NodeID)

	return nil
}

func (d *defaultDispatcher) nodeChanged(err error) error {
	if err != nil {
		return err
	}

	d.registryChanged()

	return nil
}

func (d *defaultDispatcher) deviceChanged(nodeID int, err error) error {
	if err != nil {
		return err
	}

	d.devicesChanged(nodeID)

	return nil
}

func (d *defaultDispatcher) registryChanged() {
	if d.onRegistryChanged != nil {
		d.onRegistryChanged(d.registry.Snapshot())
	}
}

func (d *defaultDispatcher) devicesChanged(nodeID int) {
	if d.onDevicesChanged == nil {
		return
	}

	n, ok := d.registry.Node(nodeID)
	if !ok {
		return
	}

	d.onDevicesChanged(nodeID, n.Devices, d.registry.TotalDeviceCount())
}

func (d *defaultDispatcher) nodeLog(nodeID int, text string) {
	if d.onNodeLog != nil {
		d.onNodeLog(nodeID, text)
	}
}

func (d *defaultDispatcher) Notice(message string) {
	if d.onNotice != nil {
		d.onNotice(message)
	}
}

func header(ev protocol.Event) (protocol.Header, bool) {
	switch e := ev.(type) {
	case protocol.DeviceSample:
		return e.Header, true
	case protocol.NodeInfo:
		return e.Header, true
	case protocol.DeviceInfo:
		return e.Header, true
	case protocol.NodeRenamed:
		return e.Header, true
	case protocol.DeviceRenamed:
		return e.Header, true
	case protocol.RateChanged:
		return e.Header, true
	case protocol.ImmediateToggled:
		return e.Header, true
	case protocol.PeriodicToggled:
		return e.Header, true
	case protocol.VersionChanged:
		return e.Header, true
	case protocol.FileList:
		return e.Header, true
	case protocol.FileContents:
		return e.Header, true
	case protocol.DeviceError:
		return e.Header, true
	case protocol.Pong:
		return e.Header, true
	}
	return protocol.Header{}, false
}

func checkHeader(h protocol.Header) error {
	if h.NodeID < 0 || h.NodeID >= protocol.MaxNodes {
		return fmt.Errorf("%w: %d", registry.ErrNodeOutOfRange, h.NodeID)
	}
	if h.DeviceID < 0 || h.DeviceID >= protocol.MaxDevices {
		return fmt.Errorf("%w: %d", registry.ErrDeviceOutOfRange, h.DeviceID)
	}
	return nil
}
