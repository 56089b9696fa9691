package protocol

import "math/big"

const (
	MaxNodes   = 20
	MaxDevices = 100
)

// Event is the closed set of decoded frames. Only types in this package
// implement it.
type Event interface {
	event()
}

// Header carries the addressing fields common to every data frame.
// Timestamp is the device clock verbatim; it routinely exceeds 2^53.
type Header struct {
	NodeID    int
	DeviceID  int
	Timestamp *big.Int
}

type NodeAttached struct {
	NodeID int
}

type RelayerError struct {
	Message string
}

type DeviceSample struct {
	Header
	Value string
}

type NodeInfo struct {
	Header
	Name        string
	Version     string
	Address     string
	DeviceCount int
}

type DeviceInfo struct {
	Header
	Name             string
	Version          string
	ImmediateEnabled bool
	PeriodicEnabled  bool
	Rate             int
}

type NodeRenamed struct {
	Header
	Name string
}

type DeviceRenamed struct {
	Header
	Name string
}

type RateChanged struct {
	Header
	Rate int
}

type ImmediateToggled struct {
	Header
	Enabled bool
}

type PeriodicToggled struct {
	Header
	Enabled bool
}

type VersionScope int

const (
	NodeScope VersionScope = iota
	DeviceScope
)

type VersionChanged struct {
	Header
	Scope   VersionScope
	Version string
}

type FileList struct {
	Header
	Entries string
}

type FileContents struct {
	Header
	Contents string
}

type DeviceError struct {
	Header
	Message string
}

type Pong struct {
	Header
}

// Unrecognized is a line that matched no frame shape. Line is kept for
// diagnostics only.
type Unrecognized struct {
	Line string
}

func (NodeAttached) event()     {}
func (RelayerError) event()     {}
func (DeviceSample) event()     {}
func (NodeInfo) event()         {}
func (DeviceInfo) event()       {}
func (NodeRenamed) event()      {}
func (DeviceRenamed) event()    {}
func (RateChanged) event()      {}
func (ImmediateToggled) event() {}
func (PeriodicToggled) event()  {}
func (VersionChanged) event()   {}
func (FileList) event()         {}
func (FileContents) event()     {}
func (DeviceError) event()      {}
func (Pong) event()             {}
func (Unrecognized) event()     {}
