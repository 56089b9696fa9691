package transport

import (
	"errors"
	"io"
	"os"

	"go.bug.st/serial.v1"
)

// Line settings of the Relayer link. They are not configurable.
const (
	BaudRate = 115200
	DataBits = 8
)

// LinkHandle names a physical endpoint, e.g. "/dev/ttyUSB0" or "COM3".
type LinkHandle string

type Port interface {
	io.ReadWriteCloser
}

// Opener enumerates and opens physical endpoints.
type Opener interface {
	List() ([]string, error)
	Open(handle LinkHandle) (Port, error)
}

// Selector picks one of the candidate endpoints. Declining returns
// ErrNoLinkChosen or an empty handle.
type Selector interface {
	Select(candidates []string) (LinkHandle, error)
}

// FixedSelector always picks the configured endpoint.
type FixedSelector LinkHandle

func (s FixedSelector) Select(candidates []string) (LinkHandle, error) {
	return LinkHandle(s), nil
}

type SerialOpener struct{}

func (SerialOpener) List() ([]string, error) {
	return serial.GetPortsList()
}

func (SerialOpener) Open(handle LinkHandle) (Port, error) {
	port, err := serial.Open(string(handle), &serial.Mode{
		BaudRate: BaudRate,
		DataBits: DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}

	return port, nil
}

// SelectLink asks selector to choose among the endpoints opener can see.
func SelectLink(opener Opener, selector Selector) (LinkHandle, error) {
	candidates, err := opener.List()
	if err != nil {
		candidates = nil
	}

	handle, err := selector.Select(candidates)
	if err != nil {
		if errors.Is(err, ErrNoLinkChosen) {
			return "", err
		}
		return "", errors.Join(ErrNoLinkChosen, err)
	}
	if handle == "" {
		return "", ErrNoLinkChosen
	}

	return handle, nil
}

// isDisconnect tells a vanished link apart from a recoverable stream fault.
func isDisconnect(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortClosed, serial.PortNotFound, serial.InvalidSerialPort:
			return true
		}
	}

	return false
}

type inputFlusher interface {
	ResetInputBuffer() error
}
