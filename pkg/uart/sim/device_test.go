package sim

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/sfslink/pkg/uart/cmds"
	"github.com/robotalks/sfslink/pkg/uart/comm"
)

func TestMemory(t *testing.T) {
	mem := NewMemory(3 * PageSize)
	data, err := mem.Read(0, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, data)

	require.NoError(t, mem.Write(PageSize-2, []byte{1, 2, 3, 4}))
	data, err = mem.Read(PageSize-2, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, data)

	require.NoError(t, mem.ErasePage(PageSize+100))
	data, err = mem.Read(PageSize-2, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 0xff, 0xff}, data)

	require.True(t, errors.Is(mem.Write(3*PageSize-1, []byte{1, 2}), ErrOutOfRange))
	_, err = mem.Read(3*PageSize, 1)
	require.True(t, errors.Is(err, ErrOutOfRange))
	require.Error(t, mem.ErasePage(3*PageSize))
}

func TestFileStore(t *testing.T) {
	fs := NewFileStore(NewMemory(DefaultMemorySize))

	_, err := fs.LastWritten(7)
	require.Equal(t, StatusError(cmds.SFSStatusFileNotFound), err)

	require.NoError(t, fs.Write(7, []byte("first")))
	require.NoError(t, fs.Write(7, []byte("second")))
	info, data, err := fs.Read(7)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), data)
	require.Equal(t, StartAddress+HeaderLen+5, info.Address)
	require.Equal(t, FileStatusComplete, info.Header.Status)
	require.Equal(t, info.Address+HeaderLen+6, info.End())

	payload := bytes.Repeat([]byte("0123456789"), 250)
	remaining := uint32(len(payload))
	for off := 0; off < len(payload); off += 1000 {
		end := off + 1000
		if end > len(payload) {
			end = len(payload)
		}
		_, err = fs.LastWritten(9)
		require.Error(t, err, "file visible before completion")
		require.NoError(t, fs.WriteInParts(9, remaining, payload[off:end]))
		remaining -= uint32(end - off)
	}
	_, data, err = fs.Read(9)
	require.NoError(t, err)
	require.Equal(t, payload, data)

	part, err := fs.ReadInParts(9, 500, 300)
	require.NoError(t, err)
	require.Equal(t, payload[2000:2300], part)
	_, err = fs.ReadInParts(9, 10, 20)
	require.Equal(t, StatusError(cmds.SFSStatusReadError), err)

	require.Equal(t, StatusError(cmds.SFSStatusFileLenMismatch), fs.WriteInParts(10, 2, []byte("abc")))
	require.Equal(t, StatusError(cmds.SFSStatusFileLenMismatch), fs.Write(11, make([]byte, MaxFileLen+1)))

	fs.Reset()
	_, _, err = fs.Read(7)
	require.Equal(t, StatusError(cmds.SFSStatusFileNotFound), err)
}

func TestFileStoreNoSpace(t *testing.T) {
	fs := NewFileStore(NewMemory(int(StartAddress) + 64))
	require.NoError(t, fs.Write(1, make([]byte, 40)))
	require.Equal(t, StatusError(cmds.SFSStatusNoSpace), fs.Write(2, make([]byte, 40)))
}

func TestFileStoreCorrupted(t *testing.T) {
	mem := NewMemory(DefaultMemorySize)
	fs := NewFileStore(mem)
	require.NoError(t, fs.Write(1, []byte("content")))
	require.NoError(t, mem.Write(StartAddress+HeaderLen, []byte("C")))
	_, _, err := fs.Read(1)
	require.Equal(t, StatusError(cmds.SFSStatusCRCError), err)
}

func TestDeviceHandle(t *testing.T) {
	dev := NewDevice()
	testCases := []struct {
		name   string
		req    *comm.Message
		verify func(t *testing.T, resp *comm.Message)
	}{
		{
			name: "uart test echo",
			req:  &comm.Message{MsgID: 1, Command: cmds.CmdUARTTest, Args: []uint32{100, 200}, Payload: []byte("data")},
			verify: func(t *testing.T, resp *comm.Message) {
				require.Equal(t, &comm.Message{MsgID: 1, Args: []uint32{100, 200}, Payload: []byte("data")}, resp)
			},
		},
		{
			name: "ext mem write",
			req:  &comm.Message{MsgID: 2, Command: cmds.CmdExtMemWrite, Args: []uint32{0x1000}, Payload: []byte{1, 2, 3}},
			verify: func(t *testing.T, resp *comm.Message) {
				require.EqualValues(t, cmds.RespNoError, resp.Command)
			},
		},
		{
			name: "ext mem read",
			req:  &comm.Message{MsgID: 3, Command: cmds.CmdExtMemRead, Args: []uint32{0x1000, 4}},
			verify: func(t *testing.T, resp *comm.Message) {
				require.EqualValues(t, cmds.RespNoError, resp.Command)
				require.Equal(t, []byte{1, 2, 3, 0xff}, resp.Payload)
			},
		},
		{
			name: "ext mem read out of range",
			req:  &comm.Message{MsgID: 4, Command: cmds.CmdExtMemRead, Args: []uint32{DefaultMemorySize - 1, 4}},
			verify: func(t *testing.T, resp *comm.Message) {
				require.EqualValues(t, cmds.RespCmdDataError, resp.Command)
			},
		},
		{
			name: "missing args",
			req:  &comm.Message{MsgID: 5, Command: cmds.CmdSFSReadInParts, Args: []uint32{1, 2}},
			verify: func(t *testing.T, resp *comm.Message) {
				require.EqualValues(t, cmds.RespCmdDataError, resp.Command)
			},
		},
		{
			name: "sfs write",
			req:  &comm.Message{MsgID: 6, Command: cmds.CmdSFSWrite, Args: []uint32{0x10001}, Payload: []byte("hello")},
			verify: func(t *testing.T, resp *comm.Message) {
				require.EqualValues(t, cmds.SFSStatusNone, resp.Command)
				require.Equal(t, []uint32{0x10001, StartAddress, 0x10001, 5, uint32(FileStatusComplete), StartAddress + HeaderLen + 5}, resp.Args)
			},
		},
		{
			name: "sfs read",
			req:  &comm.Message{MsgID: 7, Command: cmds.CmdSFSRead, Args: []uint32{0x10001}},
			verify: func(t *testing.T, resp *comm.Message) {
				require.EqualValues(t, cmds.SFSStatusNone, resp.Command)
				require.Equal(t, []byte("hello"), resp.Payload)
				require.Len(t, resp.Args, 6)
			},
		},
		{
			name: "sfs read not found",
			req:  &comm.Message{MsgID: 8, Command: cmds.CmdSFSRead, Args: []uint32{42}},
			verify: func(t *testing.T, resp *comm.Message) {
				require.EqualValues(t, cmds.SFSStatusFileNotFound, resp.Command)
				require.Equal(t, []uint32{42, 0, 0, 0, 0, 0}, resp.Args)
				require.Empty(t, resp.Payload)
			},
		},
		{
			name: "last written",
			req:  &comm.Message{MsgID: 9, Command: cmds.CmdSFSLastWritten, Args: []uint32{0x10001}},
			verify: func(t *testing.T, resp *comm.Message) {
				require.EqualValues(t, cmds.SFSStatusNone, resp.Command)
				require.EqualValues(t, StartAddress, resp.Arg(1))
				require.EqualValues(t, StartAddress+HeaderLen+5, resp.Arg(5))
			},
		},
		{
			name: "page erase",
			req:  &comm.Message{MsgID: 10, Command: cmds.CmdExtMemPageErase, Args: []uint32{0x1000}},
			verify: func(t *testing.T, resp *comm.Message) {
				require.EqualValues(t, cmds.RespNoError, resp.Command)
				data, err := dev.Memory.Read(0x1000, 3)
				require.NoError(t, err)
				require.Equal(t, []byte{0xff, 0xff, 0xff}, data)
			},
		},
		{
			name: "chip erase",
			req:  &comm.Message{MsgID: 11, Command: cmds.CmdExtMemChipErase},
			verify: func(t *testing.T, resp *comm.Message) {
				require.EqualValues(t, cmds.RespNoError, resp.Command)
				_, err := dev.Files.LastWritten(0x10001)
				require.Error(t, err)
			},
		},
		{
			name: "not supported",
			req:  &comm.Message{MsgID: 12, Command: 0x7777, Args: []uint32{1}},
			verify: func(t *testing.T, resp *comm.Message) {
				require.Equal(t, &comm.Message{MsgID: 12, Command: cmds.RespCmdNotSupported}, resp)
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := dev.Handle(tc.req)
			require.Equal(t, tc.req.MsgID, resp.MsgID)
			tc.verify(t, resp)
		})
	}
}

type pipeEnv struct {
	t      *testing.T
	dev    *Device
	conn   net.Conn
	parser comm.Parser
}

func newPipeEnv(t *testing.T) *pipeEnv {
	hostConn, devConn := net.Pipe()
	env := &pipeEnv{t: t, dev: NewDevice(), conn: hostConn}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- env.dev.Serve(ctx, devConn)
	}()
	t.Cleanup(func() {
		cancel()
		hostConn.Close()
		<-errCh
	})
	return env
}

func (e *pipeEnv) recv() comm.ParseResult {
	e.conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	for {
		_, err := e.conn.Read(buf)
		require.NoError(e.t, err)
		if pr := e.parser.Parse(buf[0]); pr.Complete {
			return pr
		}
	}
}

func (e *pipeEnv) send(data []byte) {
	_, err := e.conn.Write(data)
	require.NoError(e.t, err)
}

func escapeFrame(body []byte) []byte {
	out := []byte{comm.STX}
	for _, b := range body {
		switch b {
		case comm.STX, comm.ETX, comm.DLE:
			out = append(out, comm.DLE, ^b)
		default:
			out = append(out, b)
		}
	}
	return append(out, comm.ETX)
}

func TestDeviceServe(t *testing.T) {
	env := newPipeEnv(t)

	env.send(comm.Ack())
	require.True(t, env.recv().IsAck())

	req := &comm.Message{MsgID: 3, Command: cmds.CmdUARTTest, Args: []uint32{100, 200, 100, 200}, Payload: bytes.Repeat([]byte{2, 3, 4}, 100)}
	data, err := req.Encode()
	require.NoError(t, err)
	env.send(data)
	pr := env.recv()
	require.NoError(t, pr.Err)
	require.EqualValues(t, 3, pr.Message.MsgID)
	require.Equal(t, req.Payload, pr.Message.Payload)

	body, err := (&comm.Message{MsgID: 4, Command: cmds.CmdUARTTest}).Marshal()
	require.NoError(t, err)
	body[0] ^= 0xff
	env.send(escapeFrame(body))
	pr = env.recv()
	require.NoError(t, pr.Err)
	require.Equal(t, &comm.Message{MsgID: 4, Command: cmds.RespPktCRCError}, pr.Message)
}

func TestDeviceUnsolicited(t *testing.T) {
	env := newPipeEnv(t)
	// wait until the session is registered.
	env.send(comm.Ack())
	require.True(t, env.recv().IsAck())

	go env.dev.Advertise([]uint32{1}, []byte{0xaa})
	pr := env.recv()
	require.NoError(t, pr.Err)
	require.Equal(t, &comm.Message{Command: cmds.CmdAdvertisement, Args: []uint32{1}, Payload: []byte{0xaa}}, pr.Message)

	go env.dev.ReportReset(cmds.ResetReasonWatchdog)
	pr = env.recv()
	require.NoError(t, pr.Err)
	require.EqualValues(t, cmds.CmdResetReason, pr.Message.Command)
	require.EqualValues(t, cmds.ResetReasonWatchdog, pr.Message.Arg(0))
}

func TestDeviceAnnounceReset(t *testing.T) {
	hostConn, devConn := net.Pipe()
	env := &pipeEnv{t: t, dev: NewDevice(), conn: hostConn}
	env.dev.AnnounceReset = true
	env.dev.BootReason = cmds.ResetReasonResetPin
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- env.dev.Serve(ctx, devConn)
	}()
	defer func() {
		cancel()
		hostConn.Close()
		<-errCh
	}()

	pr := env.recv()
	require.NoError(t, pr.Err)
	require.EqualValues(t, cmds.CmdResetReason, pr.Message.Command)
	require.EqualValues(t, cmds.ResetReasonResetPin, pr.Message.Arg(0))
	require.Zero(t, pr.Message.MsgID)
}
