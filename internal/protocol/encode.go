package protocol

import (
	"errors"
	"fmt"
	"strings"
)

const (
	OpcodeLength = 4

	commandTerminator = "\n"
)

var (
	ErrNodeOutOfRange   = errors.New("protocol: node id out of range")
	ErrDeviceOutOfRange = errors.New("protocol: device id out of range")
	ErrInvalidOpcode    = errors.New("protocol: empty opcode")
)

// Command is an outbound directive for one Node/Device.
type Command struct {
	NodeID   int
	DeviceID int
	Opcode   string
	Params   string
}

// Encode renders cmd as one wire line, including its terminator:
//
//	NN|DD|OPCD[|params]\n
func Encode(cmd Command) (string, error) {
	if cmd.NodeID < 0 || cmd.NodeID >= MaxNodes {
		return "", fmt.Errorf("%w: %d", ErrNodeOutOfRange, cmd.NodeID)
	}
	if cmd.DeviceID < 0 || cmd.DeviceID >= MaxDevices {
		return "", fmt.Errorf("%w: %d", ErrDeviceOutOfRange, cmd.DeviceID)
	}
	if cmd.Opcode == "" {
		return "", ErrInvalidOpcode
	}

	sb := strings.Builder{}
	fmt.Fprintf(&sb, "%02d|%02d|%s", cmd.NodeID, cmd.DeviceID, padOpcode(cmd.Opcode))
	if cmd.Params != "" {
		sb.WriteString(fieldSeparator)
		sb.WriteString(cmd.Params)
	}
	sb.WriteString(commandTerminator)

	return sb.String(), nil
}

func padOpcode(opcode string) string {
	r := []rune(opcode)
	if len(r) > OpcodeLength {
		r = r[:OpcodeLength]
	}
	return string(r) + strings.Repeat(" ", OpcodeLength-len(r))
}

func (c Command) String() string {
	line, err := Encode(c)
	if err != nil {
		return fmt.Sprintf("invalid command (%v)", err)
	}
	return strings.TrimSuffix(line, commandTerminator)
}
