package comm

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame delimiters.
const (
	STX byte = 0x02
	ETX byte = 0x03
	DLE byte = 0x04
)

// HeaderLen is the length of checksum, msgID, command and argument count.
const HeaderLen = 8

// Message is a request, response or unsolicited message.
type Message struct {
	MsgID   uint16
	Command uint16
	Args    []uint32
	Payload []byte
}

// Arg returns the n-th argument, or 0 if absent.
func (m *Message) Arg(n int) uint32 {
	if n < 0 || n >= len(m.Args) {
		return 0
	}
	return m.Args[n]
}

// String implements fmt.Stringer.
func (m *Message) String() string {
	return fmt.Sprintf("MsgID %d Cmd 0x%04X nbr_arg %d paylen %d",
		m.MsgID, m.Command, len(m.Args), len(m.Payload))
}

// Marshal returns the unescaped frame body with the checksum filled in.
func (m *Message) Marshal() ([]byte, error) {
	if len(m.Args) > 0xffff {
		return nil, ErrTooManyArgs
	}
	b := make([]byte, HeaderLen+len(m.Args)*4+len(m.Payload))
	binary.LittleEndian.PutUint16(b[2:], m.MsgID)
	binary.LittleEndian.PutUint16(b[4:], m.Command)
	binary.LittleEndian.PutUint16(b[6:], uint16(len(m.Args)))
	off := HeaderLen
	for _, arg := range m.Args {
		binary.LittleEndian.PutUint32(b[off:], arg)
		off += 4
	}
	copy(b[off:], m.Payload)
	binary.LittleEndian.PutUint16(b[0:], Checksum(b[2:]))
	return b, nil
}

// Encode returns the delimited and escaped frame ready for sending.
func (m *Message) Encode() ([]byte, error) {
	body, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	return frame(body), nil
}

// WriteTo writes the encoded frame.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	b, err := m.Encode()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// Unmarshal parses an unescaped frame body. When the checksum doesn't match,
// the parsed message is returned together with a *ChecksumError.
func Unmarshal(body []byte) (*Message, error) {
	if len(body) < HeaderLen {
		return nil, &MalformedError{Len: len(body), Reason: "short header"}
	}
	argc := int(binary.LittleEndian.Uint16(body[6:]))
	if HeaderLen+argc*4 > len(body) {
		return nil, &MalformedError{Len: len(body), Reason: fmt.Sprintf("%d args overrun frame", argc)}
	}
	m := &Message{
		MsgID:   binary.LittleEndian.Uint16(body[2:]),
		Command: binary.LittleEndian.Uint16(body[4:]),
	}
	off := HeaderLen
	if argc > 0 {
		m.Args = make([]uint32, argc)
		for i := range m.Args {
			m.Args[i] = binary.LittleEndian.Uint32(body[off:])
			off += 4
		}
	}
	if off < len(body) {
		m.Payload = append([]byte(nil), body[off:]...)
	}
	expected, actual := binary.LittleEndian.Uint16(body), Checksum(body[2:])
	if expected != actual {
		return m, &ChecksumError{Expected: expected, Actual: actual}
	}
	return m, nil
}

// Ack returns the bare acknowledgment frame.
func Ack() []byte {
	return []byte{STX, ETX}
}

func frame(body []byte) []byte {
	b := make([]byte, 0, len(body)+len(body)/8+2)
	b = append(b, STX)
	for _, c := range body {
		if c == STX || c == ETX || c == DLE {
			b = append(b, DLE, ^c)
		} else {
			b = append(b, c)
		}
	}
	return append(b, ETX)
}
