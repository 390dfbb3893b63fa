// Package link opens the raw byte stream to a device.
//
// Supported URLs:
//
//	serial:///dev/ttyUSB0?baud=115200&databits=7
//	/dev/ttyUSB0 or COM3 (serial, no scheme)
//	tcp://host:port (ser2net or the simulator)
//	ws://host:port/path (websocket serial bridge)
package link

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"

	"go.bug.st/serial"
)

// Serial line defaults.
const (
	DefaultBaudRate = 115200
	DefaultDataBits = 8
)

// Options are serial line parameters, overridden by URL query values.
type Options struct {
	BaudRate int
	DataBits int
}

// DefaultOptions returns the default serial line parameters.
func DefaultOptions() Options {
	return Options{BaudRate: DefaultBaudRate, DataBits: DefaultDataBits}
}

// Endpoint is a parsed link URL.
type Endpoint struct {
	Scheme  string
	Address string
	Options Options
}

// String implements fmt.Stringer.
func (e *Endpoint) String() string {
	if e.Scheme == "serial" {
		return fmt.Sprintf("serial:%s@%d/%d", e.Address, e.Options.BaudRate, e.Options.DataBits)
	}
	return e.Scheme + "://" + e.Address
}

// Parse parses a link URL.
func Parse(rawURL string, opts Options) (*Endpoint, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid link URL: %w", err)
	}
	ep := &Endpoint{Scheme: u.Scheme, Options: opts}
	switch u.Scheme {
	case "", "serial":
		ep.Scheme = "serial"
		ep.Address = u.Path
		if ep.Address == "" {
			ep.Address = u.Opaque
		}
		if ep.Address == "" {
			return nil, fmt.Errorf("serial port not specified in %q", rawURL)
		}
		query := u.Query()
		if ep.Options.BaudRate, err = intQuery(query, "baud", opts.BaudRate); err != nil {
			return nil, err
		}
		if ep.Options.DataBits, err = intQuery(query, "databits", opts.DataBits); err != nil {
			return nil, err
		}
		if ep.Options.DataBits < 5 || ep.Options.DataBits > 8 {
			return nil, fmt.Errorf("invalid data bits %d", ep.Options.DataBits)
		}
	case "tcp":
		if u.Host == "" {
			return nil, fmt.Errorf("host not specified in %q", rawURL)
		}
		ep.Address = u.Host
	case "ws", "wss":
		if u.Host == "" {
			return nil, fmt.Errorf("host not specified in %q", rawURL)
		}
		ep.Address = u.Host + u.RequestURI()
	default:
		return nil, fmt.Errorf("unknown link URL scheme: %q", u.Scheme)
	}
	return ep, nil
}

func intQuery(query url.Values, key string, defVal int) (int, error) {
	str := query.Get(key)
	if str == "" {
		return defVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil || val <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, str)
	}
	return val, nil
}

// Open parses rawURL and opens the stream.
func Open(ctx context.Context, rawURL string, opts Options) (io.ReadWriteCloser, error) {
	ep, err := Parse(rawURL, opts)
	if err != nil {
		return nil, err
	}
	return ep.Open(ctx)
}

// Open opens the stream.
func (e *Endpoint) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	switch e.Scheme {
	case "serial":
		return openSerial(e.Address, e.Options)
	case "tcp":
		var d net.Dialer
		return d.DialContext(ctx, "tcp", e.Address)
	default:
		ws, err := DialWebsocket(e.Scheme + "://" + e.Address)
		if err != nil {
			return nil, err
		}
		return ws, nil
	}
}

// openSerial opens the port with no parity and one stop bit. RTS is
// asserted so the device sees the host ready, but the serial package has no
// RTS/CTS mode: hardware flow control is not enforced by the host.
func openSerial(name string, opts Options) (serial.Port, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err = port.SetRTS(true); err != nil {
		port.Close()
		return nil, fmt.Errorf("set RTS on %s: %w", name, err)
	}
	if err = port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("flush %s: %w", name, err)
	}
	return port, nil
}
