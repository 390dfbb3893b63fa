// Package host implements the operations a host issues to the device over
// the UART command protocol.
package host

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/sfslink/pkg/uart/cmds"
	"github.com/robotalks/sfslink/pkg/uart/comm"
)

// Defaults of a Client.
const (
	DefaultWriteChunkSize = 2000
	DefaultReadChunkSize  = 1000
	DefaultTimeout        = 5 * time.Second
)

// Requester sends a request and waits for the correlated response.
// comm.Transport implements it.
type Requester interface {
	Request(ctx context.Context, msg *comm.Message, timeout time.Duration) (*comm.Message, error)
}

// Client issues device commands through a Requester.
type Client struct {
	Requester      Requester
	WriteChunkSize int
	ReadChunkSize  int
	// Timeout applies to each single response, 0 waits forever.
	Timeout time.Duration
}

// NewClient creates a Client with default chunk sizes and timeout.
func NewClient(r Requester) *Client {
	return &Client{
		Requester:      r,
		WriteChunkSize: DefaultWriteChunkSize,
		ReadChunkSize:  DefaultReadChunkSize,
		Timeout:        DefaultTimeout,
	}
}

// Region is the memory occupied by a stored file.
type Region struct {
	Start uint32
	End   uint32
}

// String implements fmt.Stringer.
func (r Region) String() string {
	return fmt.Sprintf("0x%x-0x%x", r.Start, r.End)
}

// FileInfo is reported by SFS read, write and last written responses.
type FileInfo struct {
	Address uint32
	FileID  uint32
	DataLen uint32
	Status  uint32
	End     uint32
}

// Region returns the memory region of the file.
func (i *FileInfo) Region() Region {
	return Region{Start: i.Address, End: i.End}
}

func fileInfoOf(msg *comm.Message) *FileInfo {
	return &FileInfo{
		Address: msg.Arg(1),
		FileID:  msg.Arg(2),
		DataLen: msg.Arg(3),
		Status:  msg.Arg(4),
		End:     msg.Arg(5),
	}
}

// Do sends a command and returns the response. A nonzero response code is
// returned as *DeviceError together with the response.
func (c *Client) Do(ctx context.Context, command uint16, args []uint32, payload []byte) (*comm.Message, error) {
	if len(args) > cmds.MaxArgs {
		return nil, fmt.Errorf("%w: %d args exceed %d", ErrInvalidRequest, len(args), cmds.MaxArgs)
	}
	if len(payload) > cmds.MaxPayloadLen {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds %d", ErrInvalidRequest, len(payload), cmds.MaxPayloadLen)
	}
	resp, err := c.Requester.Request(ctx, &comm.Message{Command: command, Args: args, Payload: payload}, c.Timeout)
	if err != nil {
		return nil, err
	}
	if resp.Command != 0 {
		return resp, &DeviceError{Command: command, Code: resp.Command}
	}
	return resp, nil
}

// UARTTest sends a loopback request and verifies the echoed response.
func (c *Client) UARTTest(ctx context.Context, args []uint32, payload []byte) (time.Duration, error) {
	start := time.Now()
	resp, err := c.Do(ctx, cmds.CmdUARTTest, args, payload)
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, err
	}
	if !equalArgs(resp.Args, args) {
		return elapsed, fmt.Errorf("%w: args %v, sent %v", ErrMismatch, resp.Args, args)
	}
	if !bytes.Equal(resp.Payload, payload) {
		return elapsed, fmt.Errorf("%w: payload %d bytes, sent %d", ErrMismatch, len(resp.Payload), len(payload))
	}
	return elapsed, nil
}

func equalArgs(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for n := range a {
		if a[n] != b[n] {
			return false
		}
	}
	return true
}

// ExtMemRead reads n bytes of external memory from addr. Reads larger than a
// single payload are split.
func (c *Client) ExtMemRead(ctx context.Context, addr uint32, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative read length %d", ErrInvalidRequest, n)
	}
	data := make([]byte, 0, n)
	for len(data) < n {
		size := n - len(data)
		if size > cmds.MaxPayloadLen {
			size = cmds.MaxPayloadLen
		}
		resp, err := c.Do(ctx, cmds.CmdExtMemRead, []uint32{addr + uint32(len(data)), uint32(size)}, nil)
		if err != nil {
			return data, err
		}
		if len(resp.Payload) != size {
			return data, fmt.Errorf("%w: read %d bytes at 0x%x, requested %d", ErrMismatch, len(resp.Payload), addr, size)
		}
		data = append(data, resp.Payload...)
	}
	return data, nil
}

// ExtMemWrite writes data into external memory at addr.
func (c *Client) ExtMemWrite(ctx context.Context, addr uint32, data []byte) error {
	for off := 0; off < len(data); off += cmds.MaxPayloadLen {
		end := off + cmds.MaxPayloadLen
		if end > len(data) {
			end = len(data)
		}
		if _, err := c.Do(ctx, cmds.CmdExtMemWrite, []uint32{addr + uint32(off)}, data[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// ExtMemPageErase erases the page containing addr.
func (c *Client) ExtMemPageErase(ctx context.Context, addr uint32) error {
	_, err := c.Do(ctx, cmds.CmdExtMemPageErase, []uint32{addr}, nil)
	return err
}

// ExtMemChipErase erases the external memory, including the file store.
func (c *Client) ExtMemChipErase(ctx context.Context) error {
	_, err := c.Do(ctx, cmds.CmdExtMemChipErase, nil, nil)
	return err
}

// ExtMemEnsure verifies data is present at addr, otherwise erases the page
// and writes it. It reports whether a write happened.
func (c *Client) ExtMemEnsure(ctx context.Context, addr uint32, data []byte) (bool, error) {
	current, err := c.ExtMemRead(ctx, addr, len(data))
	if err != nil {
		return false, err
	}
	if bytes.Equal(current, data) {
		return false, nil
	}
	if err = c.ExtMemPageErase(ctx, addr); err != nil {
		return false, err
	}
	if err = c.ExtMemWrite(ctx, addr, data); err != nil {
		return true, err
	}
	if current, err = c.ExtMemRead(ctx, addr, len(data)); err != nil {
		return true, err
	}
	if !bytes.Equal(current, data) {
		return true, fmt.Errorf("%w: ext mem 0x%x", ErrMismatch, addr)
	}
	return true, nil
}

// ReadFile reads a whole file in a single request.
func (c *Client) ReadFile(ctx context.Context, fileID uint32) ([]byte, *FileInfo, error) {
	resp, err := c.Do(ctx, cmds.CmdSFSRead, []uint32{fileID}, nil)
	if resp == nil {
		return nil, nil, err
	}
	return resp.Payload, fileInfoOf(resp), err
}

// WriteFile writes a whole file in a single request.
func (c *Client) WriteFile(ctx context.Context, fileID uint32, data []byte) (*FileInfo, error) {
	resp, err := c.Do(ctx, cmds.CmdSFSWrite, []uint32{fileID}, data)
	if err != nil {
		return nil, err
	}
	if len(resp.Args) < 6 {
		return nil, fmt.Errorf("%w: write response carries %d args", ErrMismatch, len(resp.Args))
	}
	return fileInfoOf(resp), nil
}

// LastWritten queries where the latest version of a file is stored.
func (c *Client) LastWritten(ctx context.Context, fileID uint32) (*FileInfo, error) {
	resp, err := c.Do(ctx, cmds.CmdSFSLastWritten, []uint32{fileID}, nil)
	if err != nil {
		return nil, err
	}
	return fileInfoOf(resp), nil
}

// chunkSize returns the configured chunk size, defVal if unset.
func chunkSize(configured, defVal int) (int, error) {
	switch {
	case configured == 0:
		return defVal, nil
	case configured < 0 || configured > cmds.MaxPayloadLen:
		return 0, fmt.Errorf("%w: chunk size %d not within 1..%d", ErrInvalidRequest, configured, cmds.MaxPayloadLen)
	}
	return configured, nil
}

// WriteInParts writes payload as a sequence of chunks, each carrying the
// number of bytes remaining before it, then reports the stored region.
func (c *Client) WriteInParts(ctx context.Context, fileID uint32, payload []byte) (Region, error) {
	chunk, err := chunkSize(c.WriteChunkSize, DefaultWriteChunkSize)
	if err != nil {
		return Region{}, err
	}
	for off := 0; off < len(payload); off += chunk {
		end := off + chunk
		if end > len(payload) {
			end = len(payload)
		}
		remaining := uint32(len(payload) - off)
		if _, err := c.Do(ctx, cmds.CmdSFSWriteInParts, []uint32{fileID, remaining}, payload[off:end]); err != nil {
			return Region{}, fmt.Errorf("write file %d at offset %d: %w", fileID, off, err)
		}
		glog.V(4).Infof("file %d: wrote %d/%d", fileID, end, len(payload))
	}
	info, err := c.LastWritten(ctx, fileID)
	if err != nil {
		return Region{}, err
	}
	return info.Region(), nil
}

// ReadInParts reads totalLength bytes of a file as a sequence of chunks.
// When a chunk fails the bytes read so far are returned with the error.
func (c *Client) ReadInParts(ctx context.Context, fileID uint32, totalLength int) ([]byte, Region, error) {
	if totalLength < 0 {
		return nil, Region{}, fmt.Errorf("%w: negative file length %d", ErrInvalidRequest, totalLength)
	}
	chunk, err := chunkSize(c.ReadChunkSize, DefaultReadChunkSize)
	if err != nil {
		return nil, Region{}, err
	}
	data := make([]byte, 0, totalLength)
	for remaining := totalLength; remaining > 0; {
		size := remaining
		if size > chunk {
			size = chunk
		}
		resp, err := c.Do(ctx, cmds.CmdSFSReadInParts, []uint32{fileID, uint32(remaining), uint32(size)}, nil)
		if resp != nil {
			data = append(data, resp.Payload...)
		}
		if err != nil {
			return data, Region{}, fmt.Errorf("read file %d at offset %d: %w", fileID, totalLength-remaining, err)
		}
		remaining -= size
		glog.V(4).Infof("file %d: read %d/%d", fileID, totalLength-remaining, totalLength)
	}
	info, err := c.LastWritten(ctx, fileID)
	if err != nil {
		return data, Region{}, err
	}
	return data, info.Region(), nil
}
