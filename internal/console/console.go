// Package console is the interactive operator front end: it asks for the
// serial link and runs a small command REPL on the terminal.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/supby/smacrelay/internal/logger"
	"github.com/supby/smacrelay/internal/protocol"
	"github.com/supby/smacrelay/internal/registry"
)

type CommandSender interface {
	SendCommand(ctx context.Context, cmd protocol.Command) error
}

// Interactive reports whether stdin is a terminal a prompt can use.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

type Console struct {
	sender   CommandSender
	registry registry.Reader
	out      io.Writer
	logger   logger.Logger
}

func New(sender CommandSender, reg registry.Reader, out io.Writer, logLevel int) *Console {
	return &Console{
		sender:   sender,
		registry: reg,
		out:      out,
		logger:   logger.GetLogger("[console]", logLevel),
	}
}

// Run reads commands until quit or ctx is done. The prompt itself cannot
// be interrupted, so cancellation is seen after the next line.
func (c *Console) Run(ctx context.Context) {
	fmt.Fprintln(c.out, "help for usage, quit to exit")

	history := []string{}
	for ctx.Err() == nil {
		line := prompt.Input("smac> ", completer, prompt.OptionHistory(history))
		if line != "" {
			history = append(history, line)
		}

		if ctx.Err() != nil || c.Execute(ctx, line) {
			return
		}
	}
}

// Execute runs one console line and reports whether the console should
// stop.
func (c *Console) Execute(ctx context.Context, line string) (quit bool) {
	in, err := Parse(line)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return false
	}

	switch in.Action {
	case ActionQuit:
		return true
	case ActionHelp:
		c.printHelp()
	case ActionNodes:
		c.printNodes()
	case ActionSend:
		if err := c.sender.SendCommand(ctx, in.Command); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			c.logger.Warn("Console command %s failed: %v", in.Command, err)
		}
	}

	return false
}

func (c *Console) printHelp() {
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, def := range commandTable {
		fmt.Fprintf(w, "%s\t%s\n", def.Syntax, def.Summary)
	}
	w.Flush()
}

func (c *Console) printNodes() {
	nodes := c.registry.Snapshot()
	if len(nodes) == 0 {
		fmt.Fprintln(c.out, "no nodes")
		return
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tDEV\tNAME\tVERSION\tADDRESS/RATE\tIP\tPP")
	for _, n := range nodes {
		fmt.Fprintf(w, "%02d\t%d\t%s\t%s\t%s\t\t\n", n.ID, n.DeviceCount, n.Name, n.Version, n.Address)
		for _, d := range n.Devices {
			fmt.Fprintf(w, "\t%02d\t%s\t%s\t%d/h\t%s\t%s\n", d.ID, d.Name, d.Version, d.Rate, onOff(d.ImmediateEnabled), onOff(d.PeriodicEnabled))
		}
	}
	w.Flush()

	total := 0
	for _, n := range nodes {
		total += n.DeviceCount
	}
	fmt.Fprintf(c.out, "%d nodes, %d devices\n", len(nodes), total)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
