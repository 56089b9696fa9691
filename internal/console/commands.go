package console

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/c-bata/go-prompt"

	"github.com/supby/smacrelay/internal/protocol"
)

type Action int

const (
	ActionNone Action = iota
	ActionSend
	ActionNodes
	ActionHelp
	ActionQuit
)

// Input is one parsed console line.
type Input struct {
	Action  Action
	Command protocol.Command
}

var ErrUnknownCommand = errors.New("console: unknown command")

type commandDefinition struct {
	Name    string
	Aliases []string
	Syntax  string
	Summary string
	Parse   func(args []string) (Input, error)
}

var commandTable = []commandDefinition{
	{
		Name:    "nodes",
		Aliases: []string{"list"},
		Syntax:  "nodes",
		Summary: "show known nodes and devices",
		Parse:   func([]string) (Input, error) { return Input{Action: ActionNodes}, nil },
	},
	{
		Name:    "send",
		Syntax:  "send NN DD OPCD [params]",
		Summary: "send a raw command",
		Parse: func(args []string) (Input, error) {
			if len(args) < 3 {
				return Input{}, usage("send NN DD OPCD [params]")
			}
			nodeID, deviceID, err := parseTarget(args[0], args[1])
			if err != nil {
				return Input{}, err
			}
			return send(protocol.Command{
				NodeID:   nodeID,
				DeviceID: deviceID,
				Opcode:   strings.ToUpper(args[2]),
				Params:   strings.Join(args[3:], " "),
			}), nil
		},
	},
	{
		Name:    "info",
		Syntax:  "info NN",
		Summary: "request node and device info",
		Parse: nodeCommand("info NN", func(nodeID int, _ []string) (protocol.Command, error) {
			return protocol.GetNodeInfo(nodeID), nil
		}),
	},
	{
		Name:    "ping",
		Syntax:  "ping NN",
		Summary: "ping a node",
		Parse: nodeCommand("ping NN", func(nodeID int, _ []string) (protocol.Command, error) {
			return protocol.Ping(nodeID), nil
		}),
	},
	{
		Name:    "blink",
		Syntax:  "blink NN",
		Summary: "blink a node's LED",
		Parse: nodeCommand("blink NN", func(nodeID int, _ []string) (protocol.Command, error) {
			return protocol.Blink(nodeID), nil
		}),
	},
	{
		Name:    "rename",
		Syntax:  "rename NN name",
		Summary: "set a node's name",
		Parse: nodeCommand("rename NN name", func(nodeID int, rest []string) (protocol.Command, error) {
			if len(rest) == 0 {
				return protocol.Command{}, usage("rename NN name")
			}
			return protocol.SetNodeName(nodeID, strings.Join(rest, " ")), nil
		}),
	},
	{
		Name:    "devname",
		Syntax:  "devname NN DD name",
		Summary: "set a device's name",
		Parse: deviceCommand("devname NN DD name", func(nodeID, deviceID int, rest []string) (protocol.Command, error) {
			if len(rest) == 0 {
				return protocol.Command{}, usage("devname NN DD name")
			}
			return protocol.SetDeviceName(nodeID, deviceID, strings.Join(rest, " ")), nil
		}),
	},
	{
		Name:    "rate",
		Syntax:  "rate NN DD samples-per-hour",
		Summary: "set a device's periodic rate",
		Parse: deviceCommand("rate NN DD samples-per-hour", func(nodeID, deviceID int, rest []string) (protocol.Command, error) {
			if len(rest) != 1 {
				return protocol.Command{}, usage("rate NN DD samples-per-hour")
			}
			rate, err := strconv.Atoi(rest[0])
			if err != nil || rate < 0 {
				return protocol.Command{}, fmt.Errorf("invalid rate '%s'", rest[0])
			}
			return protocol.SetRate(nodeID, deviceID, rate), nil
		}),
	},
	{
		Name:    "ip",
		Syntax:  "ip NN DD on|off",
		Summary: "toggle immediate processing",
		Parse: deviceCommand("ip NN DD on|off", func(nodeID, deviceID int, rest []string) (protocol.Command, error) {
			on, err := parseSwitch(rest, "ip NN DD on|off")
			if err != nil {
				return protocol.Command{}, err
			}
			return protocol.SetImmediate(nodeID, deviceID, on), nil
		}),
	},
	{
		Name:    "pp",
		Syntax:  "pp NN DD on|off",
		Summary: "toggle periodic processing",
		Parse: deviceCommand("pp NN DD on|off", func(nodeID, deviceID int, rest []string) (protocol.Command, error) {
			on, err := parseSwitch(rest, "pp NN DD on|off")
			if err != nil {
				return protocol.Command{}, err
			}
			return protocol.SetPeriodic(nodeID, deviceID, on), nil
		}),
	},
	{
		Name:    "sysinfo",
		Syntax:  "sysinfo",
		Summary: "request Relayer system info",
		Parse:   func([]string) (Input, error) { return send(protocol.SystemInfo()), nil },
	},
	{
		Name:    "help",
		Syntax:  "help",
		Summary: "show this help",
		Parse:   func([]string) (Input, error) { return Input{Action: ActionHelp}, nil },
	},
	{
		Name:    "quit",
		Aliases: []string{"exit"},
		Syntax:  "quit",
		Summary: "leave the console",
		Parse:   func([]string) (Input, error) { return Input{Action: ActionQuit}, nil },
	},
}

// Parse turns one console line into an Input. Blank lines parse to
// ActionNone.
func Parse(line string) (Input, error) {
	words := strings.Fields(line)
	if len(words) == 0 {
		return Input{Action: ActionNone}, nil
	}

	def, ok := findCommand(strings.ToLower(words[0]))
	if !ok {
		return Input{}, fmt.Errorf("%w: %s", ErrUnknownCommand, words[0])
	}

	return def.Parse(words[1:])
}

func findCommand(name string) (commandDefinition, bool) {
	for _, def := range commandTable {
		if def.Name == name {
			return def, true
		}
		for _, alias := range def.Aliases {
			if alias == name {
				return def, true
			}
		}
	}
	return commandDefinition{}, false
}

func send(cmd protocol.Command) Input {
	return Input{Action: ActionSend, Command: cmd}
}

func usage(syntax string) error {
	return fmt.Errorf("usage: %s", syntax)
}

func nodeCommand(syntax string, build func(nodeID int, rest []string) (protocol.Command, error)) func([]string) (Input, error) {
	return func(args []string) (Input, error) {
		if len(args) < 1 {
			return Input{}, usage(syntax)
		}
		nodeID, err := parseID(args[0], protocol.MaxNodes, "node")
		if err != nil {
			return Input{}, err
		}
		cmd, err := build(nodeID, args[1:])
		if err != nil {
			return Input{}, err
		}
		return send(cmd), nil
	}
}

func deviceCommand(syntax string, build func(nodeID, deviceID int, rest []string) (protocol.Command, error)) func([]string) (Input, error) {
	return func(args []string) (Input, error) {
		if len(args) < 2 {
			return Input{}, usage(syntax)
		}
		nodeID, deviceID, err := parseTarget(args[0], args[1])
		if err != nil {
			return Input{}, err
		}
		cmd, err := build(nodeID, deviceID, args[2:])
		if err != nil {
			return Input{}, err
		}
		return send(cmd), nil
	}
}

func parseTarget(node, device string) (int, int, error) {
	nodeID, err := parseID(node, protocol.MaxNodes, "node")
	if err != nil {
		return 0, 0, err
	}
	deviceID, err := parseID(device, protocol.MaxDevices, "device")
	if err != nil {
		return 0, 0, err
	}
	return nodeID, deviceID, nil
}

func parseID(s string, limit int, what string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 || id >= limit {
		return 0, fmt.Errorf("invalid %s id '%s' (0-%d)", what, s, limit-1)
	}
	return id, nil
}

func parseSwitch(rest []string, syntax string) (bool, error) {
	if len(rest) != 1 {
		return false, usage(syntax)
	}
	switch strings.ToLower(rest[0]) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, usage(syntax)
}

func commandSuggestions() []prompt.Suggest {
	ret := make([]prompt.Suggest, 0, len(commandTable))
	for _, def := range commandTable {
		ret = append(ret, prompt.Suggest{Text: def.Name, Description: def.Summary})
	}
	return ret
}

// completer suggests command names for the first word only.
func completer(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return []prompt.Suggest{}
	}
	return prompt.FilterHasPrefix(commandSuggestions(), d.GetWordBeforeCursor(), true)
}
