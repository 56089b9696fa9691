// Package registry holds the live table of Nodes and their Devices, built
// from the Relayer's announcements. A Registry is mutated by exactly one
// owner (the dispatcher); everyone else reads copies via Snapshot or Node.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/supby/smacrelay/internal/protocol"
)

const NotSet = "not set"

var (
	ErrUnknownNode      = errors.New("registry: unknown node")
	ErrUnknownDevice    = errors.New("registry: unknown device")
	ErrNodeOutOfRange   = errors.New("registry: node id out of range")
	ErrDeviceOutOfRange = errors.New("registry: device id out of range")
)

type Device struct {
	ID               int
	Name             string
	Version          string
	ImmediateEnabled bool
	PeriodicEnabled  bool
	Rate             int // samples per hour
}

type Node struct {
	ID              int
	Name            string
	Version         string
	Address         string
	DeviceCount     int      // as reported by the Node
	Devices         []Device // populated records only, ordered by ID
	LastMessageTime time.Time
}

// NodeInfo is the set of fields overwritten by a full node announcement.
type NodeInfo struct {
	Name        string
	Version     string
	Address     string
	DeviceCount int
}

type node struct {
	id              int
	name            string
	version         string
	address         string
	deviceCount     int
	devices         map[int]*Device
	lastMessageTime time.Time
}

// Reader is the read-only view of a Registry handed to everything but
// its owner.
type Reader interface {
	Node(nodeID int) (Node, bool)
	Snapshot() []Node
	TotalDeviceCount() int
	Silent(cutoff time.Time) []int
}

type Registry struct {
	mu    sync.RWMutex
	nodes [protocol.MaxNodes]*node
}

func New() *Registry {
	return &Registry{}
}

func checkNode(nodeID int) error {
	if nodeID < 0 || nodeID >= protocol.MaxNodes {
		return fmt.Errorf("%w: %d", ErrNodeOutOfRange, nodeID)
	}
	return nil
}

func checkDevice(nodeID, deviceID int) error {
	if err := checkNode(nodeID); err != nil {
		return err
	}
	if deviceID < 0 || deviceID >= protocol.MaxDevices {
		return fmt.Errorf("%w: %d", ErrDeviceOutOfRange, deviceID)
	}
	return nil
}

// UpsertNode creates the node with default fields if needed, then
// overwrites its info fields. created reports whether the node was new.
func (r *Registry) UpsertNode(nodeID int, info NodeInfo) (created bool, err error) {
	if err := checkNode(nodeID); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.nodes[nodeID]
	if n == nil {
		n = &node{
			id:      nodeID,
			name:    NotSet,
			version: NotSet,
			address: NotSet,
			devices: make(map[int]*Device),
		}
		r.nodes[nodeID] = n
		created = true
	}

	n.name = info.Name
	n.version = info.Version
	n.address = info.Address
	n.deviceCount = info.DeviceCount

	return created, nil
}

// PutDevice creates or overwrites the device record. The node must exist.
func (r *Registry) PutDevice(nodeID int, d Device) error {
	if err := checkDevice(nodeID, d.ID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.nodes[nodeID]
	if n == nil {
		return fmt.Errorf("%w: %d", ErrUnknownNode, nodeID)
	}

	dev := d
	n.devices[d.ID] = &dev

	return nil
}

func (r *Registry) updateNode(nodeID int, fn func(n *node)) error {
	if err := checkNode(nodeID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.nodes[nodeID]
	if n == nil {
		return fmt.Errorf("%w: %d", ErrUnknownNode, nodeID)
	}

	fn(n)

	return nil
}

func (r *Registry) updateDevice(nodeID, deviceID int, fn func(d *Device)) error {
	if err := checkDevice(nodeID, deviceID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.nodes[nodeID]
	if n == nil {
		return fmt.Errorf("%w: %d", ErrUnknownNode, nodeID)
	}
	d, ok := n.devices[deviceID]
	if !ok {
		return fmt.Errorf("%w: %02d|%02d", ErrUnknownDevice, nodeID, deviceID)
	}

	fn(d)

	return nil
}

func (r *Registry) RenameNode(nodeID int, name string) error {
	return r.updateNode(nodeID, func(n *node) { n.name = name })
}

func (r *Registry) SetNodeVersion(nodeID int, version string) error {
	return r.updateNode(nodeID, func(n *node) { n.version = version })
}

func (r *Registry) RenameDevice(nodeID, deviceID int, name string) error {
	return r.updateDevice(nodeID, deviceID, func(d *Device) { d.Name = name })
}

func (r *Registry) SetDeviceVersion(nodeID, deviceID int, version string) error {
	return r.updateDevice(nodeID, deviceID, func(d *Device) { d.Version = version })
}

func (r *Registry) SetRate(nodeID, deviceID, rate int) error {
	return r.updateDevice(nodeID, deviceID, func(d *Device) { d.Rate = rate })
}

func (r *Registry) SetImmediate(nodeID, deviceID int, enabled bool) error {
	return r.updateDevice(nodeID, deviceID, func(d *Device) { d.ImmediateEnabled = enabled })
}

func (r *Registry) SetPeriodic(nodeID, deviceID int, enabled bool) error {
	return r.updateDevice(nodeID, deviceID, func(d *Device) { d.PeriodicEnabled = enabled })
}

// Touch records traffic from a known node. Unknown nodes are ignored.
func (r *Registry) Touch(nodeID int, at time.Time) bool {
	return r.updateNode(nodeID, func(n *node) { n.lastMessageTime = at }) == nil
}

// Reset forgets every node.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodes = [protocol.MaxNodes]*node{}
}

func (r *Registry) Node(nodeID int) (Node, bool) {
	if checkNode(nodeID) != nil {
		return Node{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.nodes[nodeID]
	if n == nil {
		return Node{}, false
	}

	return n.snapshot(), true
}

// Snapshot returns a deep copy of every known node, ordered by ID.
func (r *Registry) Snapshot() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]Node, 0, protocol.MaxNodes)
	for _, n := range r.nodes {
		if n != nil {
			ret = append(ret, n.snapshot())
		}
	}

	return ret
}

// TotalDeviceCount sums the device counts the nodes report about
// themselves, which may exceed the number of populated device records.
func (r *Registry) TotalDeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, n := range r.nodes {
		if n != nil {
			total += n.deviceCount
		}
	}

	return total
}

// Silent lists known nodes that have not been heard from since before
// cutoff, including nodes never heard from at all.
func (r *Registry) Silent(cutoff time.Time) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ret []int
	for _, n := range r.nodes {
		if n != nil && n.lastMessageTime.Before(cutoff) {
			ret = append(ret, n.id)
		}
	}

	return ret
}

func (n *node) snapshot() Node {
	devices := make([]Device, 0, len(n.devices))
	for _, d := range n.devices {
		devices = append(devices, *d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	return Node{
		ID:              n.id,
		Name:            n.name,
		Version:         n.version,
		Address:         n.address,
		DeviceCount:     n.deviceCount,
		Devices:         devices,
		LastMessageTime: n.lastMessageTime,
	}
}
