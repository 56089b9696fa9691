package protocol

import (
	"math/big"
	"strconv"
	"strings"
)

const (
	nodeSentinel  = "NODE|"
	errorSentinel = "ERROR:"

	fieldSeparator = "|"
)

// Keyed payload prefixes carried in the value field of a data frame.
const (
	prefixNodeInfo     = "NOINFO="
	prefixDeviceInfo   = "DEINFO="
	prefixNodeName     = "NONAME="
	prefixDeviceName   = "DENAME="
	prefixRate         = "RATE="
	prefixNodeVersion  = "NVER="
	prefixDevVersion   = "DVER="
	prefixFiles        = "FILES="
	prefixFile         = "FILE="
	prefixDeviceError  = "ERROR="
	prefixPong         = "PONG"
	valueIPEnabled     = "IP Enabled"
	valueIPDisabled    = "IP Disabled"
	valuePPEnabled     = "PP Enabled"
	valuePPDisabled    = "PP Disabled"
	flagEnabled        = "Y"
	minDataFrameFields = 4
)

// Decode turns one received line (delimiter already stripped) into an
// Event. It never fails: lines of unknown shape decode to Unrecognized.
func Decode(line string) Event {
	if strings.HasPrefix(line, nodeSentinel) {
		rest := line[len(nodeSentinel):]
		if len(rest) > 2 {
			rest = rest[:2]
		}
		id, ok := parseID(rest)
		if !ok {
			return Unrecognized{Line: line}
		}
		return NodeAttached{NodeID: id}
	}

	if strings.HasPrefix(line, errorSentinel) {
		return RelayerError{Message: line[len(errorSentinel):]}
	}

	fields := strings.Split(line, fieldSeparator)
	if len(fields) < minDataFrameFields {
		return Unrecognized{Line: line}
	}

	nodeID, ok := parseID(fields[0])
	if !ok {
		return Unrecognized{Line: line}
	}
	deviceID, ok := parseID(fields[1])
	if !ok {
		return Unrecognized{Line: line}
	}
	timestamp, ok := new(big.Int).SetString(fields[2], 10)
	if !ok {
		return Unrecognized{Line: line}
	}

	// value may itself contain '|', so it is cut from the line rather than
	// rebuilt from fields.
	offset := len(fields[0]) + len(fields[1]) + len(fields[2]) + 3*len(fieldSeparator)
	value := line[offset:]

	h := Header{NodeID: nodeID, DeviceID: deviceID, Timestamp: timestamp}

	if isNumeric(value) {
		return DeviceSample{Header: h, Value: value}
	}

	return decodeKeyed(h, line, value)
}

func decodeKeyed(h Header, line, value string) Event {
	switch {
	case strings.HasPrefix(value, prefixNodeInfo):
		parts := strings.Split(value[len(prefixNodeInfo):], fieldSeparator)
		if len(parts) < 4 {
			return Unrecognized{Line: line}
		}
		return NodeInfo{
			Header:      h,
			Name:        parts[0],
			Version:     parts[1],
			Address:     parts[2],
			DeviceCount: atoi(parts[3]),
		}

	case strings.HasPrefix(value, prefixDeviceInfo):
		parts := strings.Split(value[len(prefixDeviceInfo):], fieldSeparator)
		if len(parts) < 5 {
			return Unrecognized{Line: line}
		}
		return DeviceInfo{
			Header:           h,
			Name:             parts[0],
			Version:          parts[1],
			ImmediateEnabled: parts[2] == flagEnabled,
			PeriodicEnabled:  parts[3] == flagEnabled,
			Rate:             atoi(parts[4]),
		}

	case strings.HasPrefix(value, prefixNodeName):
		return NodeRenamed{Header: h, Name: value[len(prefixNodeName):]}

	case strings.HasPrefix(value, prefixDeviceName):
		return DeviceRenamed{Header: h, Name: value[len(prefixDeviceName):]}

	case strings.HasPrefix(value, prefixRate):
		rate, err := strconv.Atoi(strings.TrimSpace(value[len(prefixRate):]))
		if err != nil {
			return Unrecognized{Line: line}
		}
		return RateChanged{Header: h, Rate: rate}

	case value == valueIPEnabled:
		return ImmediateToggled{Header: h, Enabled: true}
	case value == valueIPDisabled:
		return ImmediateToggled{Header: h, Enabled: false}
	case value == valuePPEnabled:
		return PeriodicToggled{Header: h, Enabled: true}
	case value == valuePPDisabled:
		return PeriodicToggled{Header: h, Enabled: false}

	case strings.HasPrefix(value, prefixNodeVersion):
		return VersionChanged{Header: h, Scope: NodeScope, Version: value[len(prefixNodeVersion):]}
	case strings.HasPrefix(value, prefixDevVersion):
		return VersionChanged{Header: h, Scope: DeviceScope, Version: value[len(prefixDevVersion):]}

	case strings.HasPrefix(value, prefixFiles):
		return FileList{Header: h, Entries: value[len(prefixFiles):]}
	case strings.HasPrefix(value, prefixFile):
		return FileContents{Header: h, Contents: value[len(prefixFile):]}

	case strings.HasPrefix(value, prefixDeviceError):
		return DeviceError{Header: h, Message: value[len(prefixDeviceError):]}

	case strings.HasPrefix(value, prefixPong):
		return Pong{Header: h}
	}

	return Unrecognized{Line: line}
}

func isNumeric(value string) bool {
	if value == "" {
		return false
	}
	c := value[0]
	return c == '-' || (c >= '0' && c <= '9')
}

// parseID accepts one or two decimal digits.
func parseID(s string) (int, bool) {
	if s == "" || len(s) > 2 {
		return 0, false
	}
	id := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		id = id*10 + int(s[i]-'0')
	}
	return id, true
}

// atoi reads a device-reported count or rate; garbage reads as zero.
func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
