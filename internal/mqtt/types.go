package mqtt

// DeviceCommandMessage is accepted on <root>/NN/DD/command.
type DeviceCommandMessage struct {
	Opcode string
	Params string
}
