package host

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
	"github.com/robotalks/sfslink/pkg/uart/sim"
)

func newSimClient(t *testing.T) (*Client, *sim.Device) {
	hostConn, devConn := net.Pipe()
	dev := sim.NewDevice()
	ctx, cancel := context.WithCancel(context.Background())
	serveCh := make(chan error, 1)
	go func() {
		serveCh <- dev.Serve(ctx, devConn)
	}()
	tr := comm.NewTransport(hostConn)
	tr.PollInterval = 10 * time.Millisecond
	tr.Start(ctx)
	t.Cleanup(func() {
		cancel()
		tr.Close()
		devConn.Close()
		<-serveCh
	})
	client := NewClient(tr)
	client.Timeout = 2 * time.Second
	return client, dev
}

type scriptedRequester struct {
	requests []*comm.Message
	replies  []func(req *comm.Message) (*comm.Message, error)
}

func (r *scriptedRequester) Request(ctx context.Context, msg *comm.Message, timeout time.Duration) (*comm.Message, error) {
	r.requests = append(r.requests, msg)
	n := len(r.requests) - 1
	if n >= len(r.replies) {
		return nil, comm.ErrNoResponse
	}
	return r.replies[n](msg)
}

func okReply(payload []byte, args ...uint32) func(*comm.Message) (*comm.Message, error) {
	return func(req *comm.Message) (*comm.Message, error) {
		return &comm.Message{MsgID: req.MsgID, Args: args, Payload: payload}, nil
	}
}

func codeReply(code uint16) func(*comm.Message) (*comm.Message, error) {
	return func(req *comm.Message) (*comm.Message, error) {
		return &comm.Message{MsgID: req.MsgID, Command: code}, nil
	}
}

func TestChunkedRoundTrip(t *testing.T) {
	client, _ := newSimClient(t)
	ctx := context.Background()
	for _, size := range []int{2000, 1, 10007} {
		payload := randomPayload(size)
		written, err := client.WriteInParts(ctx, 0x10001, payload)
		require.NoErrorf(t, err, "write %d", size)
		data, read, err := client.ReadInParts(ctx, 0x10001, size)
		require.NoErrorf(t, err, "read %d", size)
		require.Equal(t, payload, data)
		require.Equal(t, written, read)
		require.EqualValues(t, size+sim.HeaderLen, written.End-written.Start)
	}
}

func TestWriteInPartsRequests(t *testing.T) {
	r := &scriptedRequester{replies: []func(*comm.Message) (*comm.Message, error){
		okReply(nil), okReply(nil), okReply(nil),
		okReply(nil, 7, 0x80000, 7, 4500, 0x3f, 0x80000+9+4500),
	}}
	client := NewClient(r)
	payload := bytes.Repeat([]byte{0xab}, 4500)
	region, err := client.WriteInParts(context.Background(), 7, payload)
	require.NoError(t, err)
	require.Equal(t, Region{Start: 0x80000, End: 0x80000 + 9 + 4500}, region)

	require.Len(t, r.requests, 4)
	expected := []struct {
		remaining uint32
		length    int
	}{{4500, 2000}, {2500, 2000}, {500, 500}}
	for n, e := range expected {
		req := r.requests[n]
		require.Equal(t, cmds.CmdSFSWriteInParts, req.Command)
		require.Equal(t, []uint32{7, e.remaining}, req.Args)
		require.Len(t, req.Payload, e.length)
	}
	require.Equal(t, cmds.CmdSFSLastWritten, r.requests[3].Command)
	require.Equal(t, []uint32{7}, r.requests[3].Args)
}

func TestWriteInPartsAbort(t *testing.T) {
	r := &scriptedRequester{replies: []func(*comm.Message) (*comm.Message, error){
		okReply(nil), codeReply(cmds.SFSStatusNoSpace),
	}}
	client := NewClient(r)
	_, err := client.WriteInParts(context.Background(), 7, make([]byte, 6000))
	var devErr *DeviceError
	require.True(t, errors.As(err, &devErr))
	require.Equal(t, cmds.SFSStatusNoSpace, devErr.Code)
	require.Len(t, r.requests, 2)
}

func TestReadInPartsPartial(t *testing.T) {
	r := &scriptedRequester{replies: []func(*comm.Message) (*comm.Message, error){
		okReply([]byte("first-")), codeReply(cmds.SFSStatusFileNotFound),
	}}
	client := NewClient(r)
	client.ReadChunkSize = 6
	data, _, err := client.ReadInParts(context.Background(), 3, 20)
	require.True(t, errors.Is(err, ErrFileNotFound))
	require.Equal(t, []byte("first-"), data)
	require.Equal(t, []uint32{3, 20, 6}, r.requests[0].Args)
	require.Equal(t, []uint32{3, 14, 6}, r.requests[1].Args)
	require.Len(t, r.requests, 2)
}

func TestReadInPartsTransportError(t *testing.T) {
	r := &scriptedRequester{replies: []func(*comm.Message) (*comm.Message, error){
		okReply([]byte("abc")),
	}}
	client := NewClient(r)
	client.ReadChunkSize = 3
	data, _, err := client.ReadInParts(context.Background(), 3, 9)
	require.True(t, errors.Is(err, comm.ErrNoResponse))
	require.Equal(t, []byte("abc"), data)
}

func TestReadInPartsNotFound(t *testing.T) {
	client, _ := newSimClient(t)
	data, _, err := client.ReadInParts(context.Background(), 42, 1500)
	require.True(t, errors.Is(err, ErrFileNotFound), "unexpected %v", err)
	require.Empty(t, data)
}

func TestWholeFile(t *testing.T) {
	client, _ := newSimClient(t)
	ctx := context.Background()
	payload := randomPayload(2000)
	info, err := client.WriteFile(ctx, 0x10001, payload)
	require.NoError(t, err)
	require.EqualValues(t, 0x10001, info.FileID)
	require.EqualValues(t, 2000, info.DataLen)

	data, readInfo, err := client.ReadFile(ctx, 0x10001)
	require.NoError(t, err)
	require.Equal(t, payload, data)
	require.Equal(t, info.Region(), readInfo.Region())

	last, err := client.LastWritten(ctx, 0x10001)
	require.NoError(t, err)
	require.Equal(t, info, last)

	_, _, err = client.ReadFile(ctx, 0x10002)
	require.True(t, errors.Is(err, ErrFileNotFound))
	require.Equal(t, "SFS_READ: file not found", err.Error())

	_, err = client.WriteFile(ctx, 1, make([]byte, cmds.MaxPayloadLen+1))
	require.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestExtMem(t *testing.T) {
	client, dev := newSimClient(t)
	ctx := context.Background()
	data := make([]byte, 50)
	for n := range data {
		data[n] = byte(n + 20)
	}
	written, err := client.ExtMemEnsure(ctx, 0x23000, data)
	require.NoError(t, err)
	require.True(t, written)
	written, err = client.ExtMemEnsure(ctx, 0x23000, data)
	require.NoError(t, err)
	require.False(t, written)

	large := randomPayload(cmds.MaxPayloadLen*2 + 100)
	require.NoError(t, client.ExtMemWrite(ctx, 0x40000, large))
	read, err := client.ExtMemRead(ctx, 0x40000, len(large))
	require.NoError(t, err)
	require.Equal(t, large, read)

	require.NoError(t, client.ExtMemPageErase(ctx, 0x40000))
	read, err = client.ExtMemRead(ctx, 0x40000, 2)
	require.NoError(t, err)
	require.Equal(t, []byte{0xff, 0xff}, read)

	_, err = client.WriteFile(ctx, 9, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, client.ExtMemChipErase(ctx))
	_, err = dev.Files.LastWritten(9)
	require.Error(t, err)

	_, err = client.ExtMemRead(ctx, sim.DefaultMemorySize-1, 2)
	var devErr *DeviceError
	require.True(t, errors.As(err, &devErr))
	require.Equal(t, cmds.RespCmdDataError, devErr.Code)
	require.Equal(t, "EXT_MEM_READ: command data error", err.Error())
}

func TestVerificationLoops(t *testing.T) {
	client, _ := newSimClient(t)
	ctx := context.Background()
	var results []TestResult
	report := func(r TestResult) { results = append(results, r) }

	failures, err := client.TransferTest(ctx, 5, 500, report)
	require.NoError(t, err)
	require.Zero(t, failures)
	require.Len(t, results, 5)

	results = nil
	failures, err = client.FileTest(ctx, 0x10001, 2000, 3, false, report)
	require.NoError(t, err)
	require.Zero(t, failures)
	require.Len(t, results, 3)
	require.Equal(t, 2002, results[2].Length)

	results = nil
	failures, err = client.FileTest(ctx, 0x10001, 5000, 2, true, report)
	require.NoError(t, err)
	require.Zero(t, failures)
	require.True(t, results[1].Region.Start > results[0].Region.Start)
}

func TestVerificationFailures(t *testing.T) {
	r := &scriptedRequester{replies: []func(*comm.Message) (*comm.Message, error){
		okReply([]byte("wrong"), TransferTestArgs...),
		codeReply(cmds.RespPktCRCError),
	}}
	client := NewClient(r)
	var errs []error
	failures, err := client.TransferTest(context.Background(), 3, 10, func(r TestResult) {
		errs = append(errs, r.Err)
	})
	require.True(t, errors.Is(err, comm.ErrNoResponse))
	require.Equal(t, 2, failures)
	require.True(t, errors.Is(errs[0], ErrMismatch))
	require.Equal(t, "UART_TEST: packet CRC error", errs[1].Error())
}

func TestDoLimits(t *testing.T) {
	client := NewClient(&scriptedRequester{})
	_, err := client.Do(context.Background(), cmds.CmdUARTTest, make([]uint32, cmds.MaxArgs+1), nil)
	require.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestInvalidRequests(t *testing.T) {
	ctx := context.Background()
	testCases := []struct {
		name   string
		modify func(*Client)
		call   func(*Client) error
	}{
		{
			name: "negative ext mem read",
			call: func(c *Client) error {
				_, err := c.ExtMemRead(ctx, 0, -5)
				return err
			},
		},
		{
			name: "negative file length",
			call: func(c *Client) error {
				_, _, err := c.ReadInParts(ctx, 1, -1)
				return err
			},
		},
		{
			name:   "write chunk above payload limit",
			modify: func(c *Client) { c.WriteChunkSize = cmds.MaxPayloadLen + 1 },
			call: func(c *Client) error {
				_, err := c.WriteInParts(ctx, 1, make([]byte, 6000))
				return err
			},
		},
		{
			name:   "negative read chunk",
			modify: func(c *Client) { c.ReadChunkSize = -1 },
			call: func(c *Client) error {
				_, _, err := c.ReadInParts(ctx, 1, 100)
				return err
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := &scriptedRequester{}
			client := NewClient(r)
			if tc.modify != nil {
				tc.modify(client)
			}
			var err error
			require.NotPanics(t, func() { err = tc.call(client) })
			require.True(t, errors.Is(err, ErrInvalidRequest), "%v", err)
			require.Empty(t, r.requests)
		})
	}
}

func TestChunkSizeLimit(t *testing.T) {
	r := &scriptedRequester{replies: []func(*comm.Message) (*comm.Message, error){
		okReply(nil), okReply(nil),
		okReply(nil, 1, 0x80000, 1, 6000, 0x3f, 0x80000+9+6000),
	}}
	client := NewClient(r)
	client.WriteChunkSize = cmds.MaxPayloadLen
	_, err := client.WriteInParts(context.Background(), 1, make([]byte, 6000))
	require.NoError(t, err)
	require.Len(t, r.requests, 3)
	require.Len(t, r.requests[0].Payload, cmds.MaxPayloadLen)
	require.Len(t, r.requests[1].Payload, 6000-cmds.MaxPayloadLen)
}
