package link

import (
	"context"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		url     string
		scheme  string
		address string
		baud    int
		bits    int
	}{
		{"/dev/ttyUSB0", "serial", "/dev/ttyUSB0", 115200, 8},
		{"COM3", "serial", "COM3", 115200, 8},
		{"serial:COM4?baud=9600", "serial", "COM4", 9600, 8},
		{"serial:///dev/ttyACM1?baud=57600&databits=7", "serial", "/dev/ttyACM1", 57600, 7},
		{"tcp://localhost:2000", "tcp", "localhost:2000", 115200, 8},
		{"ws://bridge:8080/uart?port=1", "ws", "bridge:8080/uart?port=1", 115200, 8},
	}
	for _, tc := range testCases {
		ep, err := Parse(tc.url, DefaultOptions())
		require.NoErrorf(t, err, "%s", tc.url)
		require.Equalf(t, tc.scheme, ep.Scheme, "%s", tc.url)
		require.Equalf(t, tc.address, ep.Address, "%s", tc.url)
		require.Equalf(t, tc.baud, ep.Options.BaudRate, "%s", tc.url)
		require.Equalf(t, tc.bits, ep.Options.DataBits, "%s", tc.url)
	}
}

func TestParseErrors(t *testing.T) {
	for _, url := range []string{
		"serial:",
		"serial:COM1?baud=fast",
		"serial:COM1?databits=9",
		"tcp://",
		"ws:///path",
		"mqtt://localhost",
	} {
		_, err := Parse(url, DefaultOptions())
		require.Errorf(t, err, "%s", url)
	}
}

func echo(t *testing.T, rw io.ReadWriter, msg string) {
	_, err := rw.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(rw, buf)
	require.NoError(t, err)
	require.Equal(t, msg, string(buf))
}

func TestOpenTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()
	rw, err := Open(context.Background(), "tcp://"+ln.Addr().String(), DefaultOptions())
	require.NoError(t, err)
	defer rw.Close()
	echo(t, rw, "\x02frame\x03")
}

func TestOpenWebsocket(t *testing.T) {
	srv := httptest.NewServer(websocket.Handler(func(conn *websocket.Conn) {
		ws := NewWebsocket(conn)
		buf := make([]byte, 3)
		for {
			n, err := ws.Read(buf)
			if err != nil {
				return
			}
			if _, err = ws.Write(buf[:n]); err != nil {
				return
			}
		}
	}))
	defer srv.Close()
	url := "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/"
	rw, err := Open(context.Background(), url, DefaultOptions())
	require.NoError(t, err)
	defer rw.Close()
	echo(t, rw, "\x02longer than the buffer\x03")
}
