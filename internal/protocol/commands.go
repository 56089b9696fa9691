package protocol

import "strconv"

// Node commands, handled by the Node itself (device id is ignored).
const (
	OpSetNodeName    = "SNNA"
	OpGetNodeInfo    = "GNOI"
	OpGetDeviceInfo  = "GDEI"
	OpPing           = "PING"
	OpBlink          = "BLIN"
	OpGetNodeVersion = "GNVR"
	OpReset          = "RSET"
)

// Device commands.
const (
	OpGetDeviceName    = "GDNA"
	OpSetDeviceName    = "SDNA"
	OpEnableImmediate  = "ENIP"
	OpDisableImmediate = "DIIP"
	OpDoImmediate      = "DOIP"
	OpEnablePeriodic   = "ENPP"
	OpDisablePeriodic  = "DIPP"
	OpDoPeriodic       = "DOPP"
	OpGetRate          = "GRAT"
	OpSetRate          = "SRAT"
)

// Relayer commands, addressed to 00|00.
const (
	OpSystemInfo      = "SYSI"
	OpBroadcast       = "CAST"
	OpGetFileList     = "GFLI"
	OpGetFileContents = "GFCO"
	OpPutFileContents = "PFIC"
)

func nodeCommand(nodeID int, opcode, params string) Command {
	return Command{NodeID: nodeID, Opcode: opcode, Params: params}
}

func GetNodeInfo(nodeID int) Command    { return nodeCommand(nodeID, OpGetNodeInfo, "") }
func GetDeviceInfo(nodeID int) Command  { return nodeCommand(nodeID, OpGetDeviceInfo, "") }
func Ping(nodeID int) Command           { return nodeCommand(nodeID, OpPing, "") }
func Blink(nodeID int) Command          { return nodeCommand(nodeID, OpBlink, "") }
func GetNodeVersion(nodeID int) Command { return nodeCommand(nodeID, OpGetNodeVersion, "") }
func ResetNode(nodeID int) Command      { return nodeCommand(nodeID, OpReset, "") }

func SetNodeName(nodeID int, name string) Command {
	return nodeCommand(nodeID, OpSetNodeName, name)
}

func SetDeviceName(nodeID, deviceID int, name string) Command {
	return Command{NodeID: nodeID, DeviceID: deviceID, Opcode: OpSetDeviceName, Params: name}
}

func SetRate(nodeID, deviceID, rate int) Command {
	return Command{NodeID: nodeID, DeviceID: deviceID, Opcode: OpSetRate, Params: strconv.Itoa(rate)}
}

func SetImmediate(nodeID, deviceID int, enabled bool) Command {
	op := OpDisableImmediate
	if enabled {
		op = OpEnableImmediate
	}
	return Command{NodeID: nodeID, DeviceID: deviceID, Opcode: op}
}

func SetPeriodic(nodeID, deviceID int, enabled bool) Command {
	op := OpDisablePeriodic
	if enabled {
		op = OpEnablePeriodic
	}
	return Command{NodeID: nodeID, DeviceID: deviceID, Opcode: op}
}

func SystemInfo() Command { return Command{Opcode: OpSystemInfo} }

func Broadcast(text string) Command { return Command{Opcode: OpBroadcast, Params: text} }

func GetFileList(path, extension string) Command {
	return Command{Opcode: OpGetFileList, Params: path + fieldSeparator + extension}
}

func GetFileContents(path string) Command {
	return Command{Opcode: OpGetFileContents, Params: path}
}

func PutFileContents(path, contents string) Command {
	return Command{Opcode: OpPutFileContents, Params: path + fieldSeparator + contents}
}
