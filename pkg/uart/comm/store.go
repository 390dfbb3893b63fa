package comm

import "sync"

// ResponseStore holds decoded messages until a caller claims them.
// It's written by the receive loop and consumed by callers waiting for
// responses, each stored message is handed out at most once.
type ResponseStore struct {
	lock     sync.Mutex
	pending  []*Message
	acks     int
	changeCh chan struct{}
}

// NewResponseStore creates an empty store.
func NewResponseStore() *ResponseStore {
	return &ResponseStore{changeCh: make(chan struct{})}
}

// Put appends a message.
func (s *ResponseStore) Put(msg *Message) {
	s.lock.Lock()
	s.pending = append(s.pending, msg)
	s.notifyLocked()
	s.lock.Unlock()
}

// PutAck records a bare acknowledgment.
func (s *ResponseStore) PutAck() {
	s.lock.Lock()
	s.acks++
	s.lock.Unlock()
}

// Take removes and returns the best match.
// A message with the same msgID wins regardless of its command. Otherwise the
// first message with the same command is taken, only if msgID is 0 or
// command is non-zero: a zero command with a msgID asks for correlation only.
func (s *ResponseStore) Take(msgID, command uint16) *Message {
	s.lock.Lock()
	defer s.lock.Unlock()
	index := -1
	if msgID != 0 {
		for n, msg := range s.pending {
			if msg.MsgID == msgID {
				index = n
				break
			}
		}
	}
	if index < 0 && (msgID == 0 || command != 0) {
		for n, msg := range s.pending {
			if msg.Command == command {
				index = n
				break
			}
		}
	}
	if index < 0 {
		return nil
	}
	msg := s.pending[index]
	copy(s.pending[index:], s.pending[index+1:])
	s.pending[len(s.pending)-1] = nil
	s.pending = s.pending[:len(s.pending)-1]
	return msg
}

// Len returns the number of unclaimed messages.
func (s *ResponseStore) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.pending)
}

// Acks returns the number of bare acknowledgments received.
func (s *ResponseStore) Acks() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.acks
}

// Clear discards all unclaimed messages and acknowledgments.
func (s *ResponseStore) Clear() {
	s.lock.Lock()
	s.pending, s.acks = nil, 0
	s.lock.Unlock()
}

// Changed returns a chan closed on the next Put.
// Retrieve it before Take to not miss a message put in between.
func (s *ResponseStore) Changed() <-chan struct{} {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.changeCh
}

func (s *ResponseStore) notifyLocked() {
	close(s.changeCh)
	s.changeCh = make(chan struct{})
}
