package comm

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/sfslink/pkg/uart/cmds"
)

// DefaultPollInterval is the interval between response store checks.
const DefaultPollInterval = 250 * time.Millisecond

// MessageHandler is called when an unsolicited message is received.
type MessageHandler interface {
	HandleMessage(context.Context, *Message)
}

// HandleMessageFunc is func type of MessageHandler.
type HandleMessageFunc func(context.Context, *Message)

// HandleMessage implements MessageHandler.
func (f HandleMessageFunc) HandleMessage(ctx context.Context, msg *Message) {
	f(ctx, msg)
}

// Observer is notified about traffic on a Transport.
// All methods are called synchronously and must not block.
type Observer interface {
	MessageSent(*Message)
	MessageReceived(*Message)
	AckReceived()
	FrameCorrupted(error)
	Unsolicited(*Message)
	ResponseTimeout(msgID, command uint16)
}

// Transport sends requests and collects responses over a byte stream.
type Transport struct {
	ReadWriter io.ReadWriter
	// Handler receives advertisement messages.
	Handler  MessageHandler
	Observer Observer
	// PollInterval is the interval AwaitResponse re-examines the store.
	PollInterval time.Duration
	// AdvertisementCode and ResetReasonCode are command codes of unsolicited
	// messages bypassing the response store. 0 disables the classification.
	AdvertisementCode uint16
	ResetReasonCode   uint16
	// DiscardCorrupt drops messages failing the checksum verification instead
	// of storing them.
	DiscardCorrupt bool

	ids      MessageIDAllocator
	store    *ResponseStore
	sendLock sync.Mutex
	parser   Parser

	errLock  sync.Mutex
	err      error
	doneCh   chan struct{}
	runLock  sync.Mutex
	cancel   context.CancelFunc
	runGroup sync.WaitGroup
}

// NewTransport creates a Transport over rw.
func NewTransport(rw io.ReadWriter) *Transport {
	return &Transport{
		ReadWriter:        rw,
		PollInterval:      DefaultPollInterval,
		AdvertisementCode: cmds.CmdAdvertisement,
		ResetReasonCode:   cmds.CmdResetReason,
		store:             NewResponseStore(),
		doneCh:            make(chan struct{}),
	}
}

// Store gets the response store.
func (t *Transport) Store() *ResponseStore {
	return t.store
}

// Done returns a chan closed when the transport terminates.
func (t *Transport) Done() <-chan struct{} {
	return t.doneCh
}

// Err returns the terminal error, nil while the transport is usable.
func (t *Transport) Err() error {
	t.errLock.Lock()
	defer t.errLock.Unlock()
	return t.err
}

// Send stamps a new msgID into msg and writes it.
func (t *Transport) Send(msg *Message) (uint16, error) {
	if err := t.Err(); err != nil {
		return 0, err
	}
	t.sendLock.Lock()
	defer t.sendLock.Unlock()
	msg.MsgID = t.ids.Next()
	data, err := msg.Encode()
	if err != nil {
		return 0, err
	}
	dumpMessage("TX", msg)
	if _, err = t.ReadWriter.Write(data); err != nil {
		err = &IOError{Op: "write", Err: err}
		t.fail(err)
		return 0, err
	}
	if o := t.Observer; o != nil {
		o.MessageSent(msg)
	}
	return msg.MsgID, nil
}

// AwaitResponse waits for a stored message matching msgID or command, see
// ResponseStore.Take for the priority. With a nonzero msgID and a zero
// command only the msgID is matched, so a success response of another request
// is never claimed. A zero timeout waits until a match arrives, the context
// is canceled or the transport terminates.
// ErrNoResponse is returned when timeout elapses.
func (t *Transport) AwaitResponse(ctx context.Context, msgID, command uint16, timeout time.Duration) (*Message, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	interval := t.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		changed := t.store.Changed()
		if msg := t.store.Take(msgID, command); msg != nil {
			return msg, nil
		}
		select {
		case <-changed:
		case <-ticker.C:
		case <-timeoutCh:
			if msg := t.store.Take(msgID, command); msg != nil {
				return msg, nil
			}
			if o := t.Observer; o != nil {
				o.ResponseTimeout(msgID, command)
			}
			return nil, ErrNoResponse
		case <-t.doneCh:
			if msg := t.store.Take(msgID, command); msg != nil {
				return msg, nil
			}
			return nil, t.Err()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Request sends msg and waits for the response correlated by msgID.
func (t *Transport) Request(ctx context.Context, msg *Message, timeout time.Duration) (*Message, error) {
	msgID, err := t.Send(msg)
	if err != nil {
		return nil, err
	}
	return t.AwaitResponse(ctx, msgID, 0, timeout)
}

// Clear discards stale responses not claimed by anyone.
func (t *Transport) Clear() {
	t.store.Clear()
}

// Acks returns the number of bare acknowledgments received.
func (t *Transport) Acks() int {
	return t.store.Acks()
}

// Start runs the receive loop in the background until Close.
func (t *Transport) Start(ctx context.Context) {
	t.runLock.Lock()
	defer t.runLock.Unlock()
	ctx, t.cancel = context.WithCancel(ctx)
	t.runGroup.Add(1)
	go func() {
		defer t.runGroup.Done()
		if err := t.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			glog.Errorf("receive loop stopped: %v", err)
		}
	}()
}

// Close stops the receive loop, closes the stream if possible and waits for
// the loop to exit.
func (t *Transport) Close() (err error) {
	t.runLock.Lock()
	cancel := t.cancel
	t.runLock.Unlock()
	if cancel != nil {
		cancel()
	}
	if closer, ok := t.ReadWriter.(io.Closer); ok {
		err = closer.Close()
	}
	t.runGroup.Wait()
	t.fail(ErrClosed)
	return
}

// Run receives and dispatches frames until ctx is canceled or the stream
// fails. A stream failure is terminal and is returned.
func (t *Transport) Run(ctx context.Context) error {
	dataCh, errCh := make(chan []byte), make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go t.readLoop(subCtx, dataCh, errCh)
	for {
		select {
		case <-ctx.Done():
			t.fail(ErrClosed)
			return ctx.Err()
		case err := <-errCh:
			if ctx.Err() != nil {
				// stream closed on purpose.
				t.fail(ErrClosed)
				return ctx.Err()
			}
			err = &IOError{Op: "read", Err: err}
			t.fail(err)
			return err
		case data := <-dataCh:
			for _, b := range data {
				t.dispatch(ctx, t.parser.Parse(b))
			}
		}
	}
}

func (t *Transport) readLoop(ctx context.Context, dataCh chan<- []byte, errCh chan<- error) {
	for {
		buf := make([]byte, 256)
		n, err := t.ReadWriter.Read(buf)
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

func (t *Transport) dispatch(ctx context.Context, pr ParseResult) {
	if !pr.Complete {
		return
	}
	o := t.Observer
	if pr.IsAck() {
		glog.V(2).Info("RX:ack")
		t.store.PutAck()
		if o != nil {
			o.AckReceived()
		}
		return
	}
	if pr.Err != nil {
		glog.Warningf("RX:%v", pr.Err)
		if o != nil {
			o.FrameCorrupted(pr.Err)
		}
		if pr.Message == nil || t.DiscardCorrupt {
			return
		}
	}
	msg := pr.Message
	if o != nil {
		o.MessageReceived(msg)
	}
	switch {
	case t.AdvertisementCode != 0 && msg.Command == t.AdvertisementCode:
		if o != nil {
			o.Unsolicited(msg)
		}
		if h := t.Handler; h != nil {
			h.HandleMessage(ctx, msg)
		}
	case t.ResetReasonCode != 0 && msg.Command == t.ResetReasonCode:
		if o != nil {
			o.Unsolicited(msg)
		}
		glog.Infof("Reset reason: %s", cmds.ResetReason(resetReason(msg)))
	default:
		dumpMessage("RX", msg)
		t.store.Put(msg)
	}
}

func (t *Transport) fail(err error) {
	t.errLock.Lock()
	defer t.errLock.Unlock()
	if t.err == nil {
		t.err = err
		close(t.doneCh)
	}
}

func resetReason(msg *Message) uint32 {
	if len(msg.Payload) >= 4 {
		return binary.LittleEndian.Uint32(msg.Payload)
	}
	return msg.Arg(0)
}

func dumpMessage(dir string, msg *Message) {
	if !glog.V(2) {
		return
	}
	glog.Infof("%s:%s", dir, msg)
	if glog.V(4) {
		for n, arg := range msg.Args {
			glog.Infof("    Arg[%d] %d", n, arg)
		}
		if len(msg.Payload) > 0 {
			glog.Infof("Payload: % x", msg.Payload)
		}
	}
}
