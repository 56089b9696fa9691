package types

import (
	"encoding/json"
	"time"

	"github.com/supby/smacrelay/internal/protocol"
	"github.com/supby/smacrelay/internal/registry"
)

// DeviceSampleMessage carries one sample to consumers. Timestamp is the
// device clock as a JSON number of arbitrary size.
type DeviceSampleMessage struct {
	NodeID    int
	DeviceID  int
	Timestamp json.Number
	Value     string
}

type DeviceDescription struct {
	DeviceID         int
	Name             string
	Version          string
	ImmediateEnabled bool
	PeriodicEnabled  bool
	Rate             int
}

type NodeDescription struct {
	NodeID          int
	Name            string
	Version         string
	Address         string
	DeviceCount     int
	Devices         []DeviceDescription
	LastMessageTime *time.Time `json:",omitempty"`
}

type NodesMessage struct {
	Nodes        []NodeDescription
	TotalDevices int
}

type NodeLogMessage struct {
	NodeID int
	Text   string
}

func NewDeviceSampleMessage(s protocol.DeviceSample) DeviceSampleMessage {
	ts := "0"
	if s.Timestamp != nil {
		ts = s.Timestamp.String()
	}

	return DeviceSampleMessage{
		NodeID:    s.NodeID,
		DeviceID:  s.DeviceID,
		Timestamp: json.Number(ts),
		Value:     s.Value,
	}
}

// NewNodesMessage describes a registry snapshot. TotalDevices is the sum
// of the counts the nodes report.
func NewNodesMessage(nodes []registry.Node) NodesMessage {
	ret := NodesMessage{Nodes: make([]NodeDescription, 0, len(nodes))}

	for _, n := range nodes {
		nd := NodeDescription{
			NodeID:      n.ID,
			Name:        n.Name,
			Version:     n.Version,
			Address:     n.Address,
			DeviceCount: n.DeviceCount,
			Devices:     make([]DeviceDescription, 0, len(n.Devices)),
		}
		if !n.LastMessageTime.IsZero() {
			t := n.LastMessageTime
			nd.LastMessageTime = &t
		}
		for _, d := range n.Devices {
			nd.Devices = append(nd.Devices, DeviceDescription{
				DeviceID:         d.ID,
				Name:             d.Name,
				Version:          d.Version,
				ImmediateEnabled: d.ImmediateEnabled,
				PeriodicEnabled:  d.PeriodicEnabled,
				Rate:             d.Rate,
			})
		}

		ret.Nodes = append(ret.Nodes, nd)
		ret.TotalDevices += n.DeviceCount
	}

	return ret
}
