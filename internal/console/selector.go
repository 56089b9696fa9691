package console

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/c-bata/go-prompt"

	"github.com/supby/smacrelay/internal/transport"
)

// PromptSelector asks the operator which serial endpoint to open.
type PromptSelector struct {
	Out io.Writer
}

func (s PromptSelector) Select(candidates []string) (transport.LinkHandle, error) {
	out := s.Out
	if out == nil {
		out = os.Stdout
	}

	if !Interactive() {
		return "", fmt.Errorf("%w: not a terminal", transport.ErrNoLinkChosen)
	}
	if len(candidates) == 0 {
		fmt.Fprintln(out, "no serial ports found")
		return "", transport.ErrNoLinkChosen
	}

	for i, c := range candidates {
		fmt.Fprintf(out, "  %d) %s\n", i+1, c)
	}

	suggests := make([]prompt.Suggest, 0, len(candidates))
	for _, c := range candidates {
		suggests = append(suggests, prompt.Suggest{Text: c})
	}

	input := prompt.Input("port (empty to cancel)> ", func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	})

	return chooseLink(candidates, input)
}

// chooseLink accepts a 1-based index into candidates or an endpoint name.
// Names not in the list are taken as typed.
func chooseLink(candidates []string, input string) (transport.LinkHandle, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", transport.ErrNoLinkChosen
	}

	if i, err := strconv.Atoi(input); err == nil {
		if i < 1 || i > len(candidates) {
			return "", fmt.Errorf("%w: no port number %d", transport.ErrNoLinkChosen, i)
		}
		return transport.LinkHandle(candidates[i-1]), nil
	}

	return transport.LinkHandle(input), nil
}
