// Package sim simulates the device side of the UART command protocol.
package sim

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/sfslink/pkg/uart/cmds"
	"github.com/robotalks/sfslink/pkg/uart/comm"
)

// Device serves commands against a memory image and a file store.
type Device struct {
	Memory *Memory
	Files  *FileStore
	// AnnounceReset makes Serve report BootReason first on every stream, as
	// the device does after boot.
	AnnounceReset bool
	BootReason    cmds.ResetReason

	lock     sync.Mutex
	sessions map[*session]struct{}
}

type session struct {
	rw   io.ReadWriter
	lock sync.Mutex
}

func (s *session) write(data []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, err := s.rw.Write(data)
	return err
}

// NewDevice creates a Device with an erased memory of DefaultMemorySize.
func NewDevice() *Device {
	mem := NewMemory(DefaultMemorySize)
	return &Device{
		Memory:   mem,
		Files:    NewFileStore(mem),
		sessions: make(map[*session]struct{}),
	}
}

// Serve processes frames from rw until ctx is canceled or rw fails.
// Multiple streams can be served concurrently.
func (d *Device) Serve(ctx context.Context, rw io.ReadWriter) error {
	s := &session{rw: rw}
	d.lock.Lock()
	d.sessions[s] = struct{}{}
	d.lock.Unlock()
	defer func() {
		d.lock.Lock()
		delete(d.sessions, s)
		d.lock.Unlock()
	}()
	if d.AnnounceReset {
		data, err := resetMessage(d.BootReason).Encode()
		if err != nil {
			return err
		}
		if err = s.write(data); err != nil {
			return err
		}
	}

	dataCh, errCh := make(chan []byte), make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go readLoop(subCtx, rw, dataCh, errCh)

	var parser comm.Parser
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case data := <-dataCh:
			for _, b := range data {
				if reply := d.process(parser.Parse(b)); reply != nil {
					if err := s.write(reply); err != nil {
						return err
					}
				}
			}
		}
	}
}

func readLoop(ctx context.Context, r io.Reader, dataCh chan<- []byte, errCh chan<- error) {
	for {
		buf := make([]byte, 256)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case dataCh <- buf[:n]:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			errCh <- err
			return
		}
	}
}

func (d *Device) process(pr comm.ParseResult) []byte {
	if !pr.Complete {
		return nil
	}
	if pr.IsAck() {
		return comm.Ack()
	}
	var resp *comm.Message
	switch {
	case pr.Err == nil:
		resp = d.Handle(pr.Message)
	case errors.Is(pr.Err, comm.ErrChecksumMismatch):
		resp = &comm.Message{MsgID: pr.Message.MsgID, Command: cmds.RespPktCRCError}
	default:
		glog.Warningf("sim: drop frame: %v", pr.Err)
		return nil
	}
	data, err := resp.Encode()
	if err != nil {
		glog.Errorf("sim: encode response %s: %v", resp, err)
		return nil
	}
	return data
}

// Handle executes a single command and returns the response. Arguments and
// payload of the request are echoed unless the command replaces them.
func (d *Device) Handle(req *comm.Message) *comm.Message {
	resp := &comm.Message{
		MsgID:   req.MsgID,
		Command: cmds.RespNoError,
		Args:    append([]uint32(nil), req.Args...),
		Payload: req.Payload,
	}
	if len(req.Args) > cmds.MaxArgs || len(req.Payload) > cmds.MaxPayloadLen {
		resp.Command = cmds.RespCmdDataError
		return resp
	}
	if n := minArgs[req.Command]; len(req.Args) < n {
		resp.Command = cmds.RespCmdDataError
		return resp
	}
	glog.V(2).Infof("sim: %s %s", cmds.Name(req.Command), req)

	switch req.Command {
	case cmds.CmdUARTTest:
	case cmds.CmdExtMemWrite:
		resp.Command = memStatus(d.Memory.Write(req.Args[0], req.Payload))
	case cmds.CmdExtMemRead:
		if req.Args[1] > cmds.MaxPayloadLen {
			resp.Command = cmds.RespCmdDataError
			break
		}
		data, err := d.Memory.Read(req.Args[0], int(req.Args[1]))
		resp.Command, resp.Payload = memStatus(err), data
	case cmds.CmdExtMemPageErase:
		resp.Command = memStatus(d.Memory.ErasePage(req.Args[0]))
	case cmds.CmdExtMemChipErase:
		d.Memory.EraseChip()
		d.Files.Reset()
	case cmds.CmdSFSRead:
		info, data, err := d.Files.Read(req.Args[0])
		resp.Command, resp.Args, resp.Payload = fsStatus(err), fileArgs(req.Args[0], info), data
		if len(data) > cmds.MaxPayloadLen {
			resp.Command, resp.Payload = cmds.SFSStatusReadError, nil
		}
	case cmds.CmdSFSWrite:
		resp.Command = fsStatus(d.Files.Write(req.Args[0], req.Payload))
		if info, err := d.Files.LastWritten(req.Args[0]); err == nil {
			resp.Args = fileArgs(req.Args[0], info)
		}
	case cmds.CmdSFSWriteInParts:
		resp.Command = fsStatus(d.Files.WriteInParts(req.Args[0], req.Args[1], req.Payload))
	case cmds.CmdSFSReadInParts:
		if req.Args[2] > cmds.MaxPayloadLen {
			resp.Command, resp.Payload = cmds.SFSStatusReadError, nil
			break
		}
		data, err := d.Files.ReadInParts(req.Args[0], req.Args[1], int(req.Args[2]))
		resp.Command, resp.Payload = fsStatus(err), data
	case cmds.CmdSFSLastWritten:
		info, err := d.Files.LastWritten(req.Args[0])
		resp.Command, resp.Args = fsStatus(err), fileArgs(req.Args[0], info)
	default:
		return &comm.Message{MsgID: req.MsgID, Command: cmds.RespCmdNotSupported}
	}
	return resp
}

var minArgs = map[uint16]int{
	cmds.CmdExtMemWrite:     1,
	cmds.CmdExtMemRead:      2,
	cmds.CmdExtMemPageErase: 1,
	cmds.CmdSFSRead:         1,
	cmds.CmdSFSWrite:        1,
	cmds.CmdSFSWriteInParts: 2,
	cmds.CmdSFSReadInParts:  3,
	cmds.CmdSFSLastWritten:  1,
}

func memStatus(err error) uint16 {
	if err != nil {
		return cmds.RespCmdDataError
	}
	return cmds.RespNoError
}

func fsStatus(err error) uint16 {
	var status StatusError
	switch {
	case err == nil:
		return cmds.SFSStatusNone
	case errors.As(err, &status):
		return uint16(status)
	}
	return cmds.SFSStatusDriverError
}

func fileArgs(fileID uint32, info *FileInfo) []uint32 {
	args := make([]uint32, 6)
	args[0] = fileID
	if info != nil {
		args[1] = info.Address
		args[2] = info.Header.FileID
		args[3] = uint32(info.Header.DataLen)
		args[4] = uint32(info.Header.Status)
		args[5] = info.End()
	}
	return args
}

// Advertise emits an unsolicited advertisement to all served streams.
func (d *Device) Advertise(args []uint32, payload []byte) error {
	return d.broadcast(&comm.Message{Command: cmds.CmdAdvertisement, Args: args, Payload: payload})
}

// ReportReset emits an unsolicited reset reason to all served streams.
func (d *Device) ReportReset(reason cmds.ResetReason) error {
	return d.broadcast(resetMessage(reason))
}

func resetMessage(reason cmds.ResetReason) *comm.Message {
	return &comm.Message{Command: cmds.CmdResetReason, Args: []uint32{uint32(reason)}}
}

func (d *Device) broadcast(msg *comm.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	d.lock.Lock()
	sessions := make([]*session, 0, len(d.sessions))
	for s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.lock.Unlock()
	var firstErr error
	for _, s := range sessions {
		if err := s.write(data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
