package comm

// Parser deframes bytes received from the stream.
type Parser struct {
	state parseState
	buf   []byte
}

// ParseResult indicates the result after one parsing step.
type ParseResult struct {
	// Complete is set when an ETX terminated a frame.
	Complete bool
	// Message is the parsed message. It may be set together with a
	// *ChecksumError in Err.
	Message *Message
	// Err is a *ChecksumError or *MalformedError.
	Err error
}

// IsAck indicates an empty frame was received.
func (r ParseResult) IsAck() bool {
	return r.Complete && r.Message == nil && r.Err == nil
}

type parseState int

const (
	stateIdle   parseState = iota // waiting for STX
	stateData                     // receiving frame body
	stateEscape                   // DLE received, next byte is complemented
)

// Reset drops any partially received frame.
func (p *Parser) Reset() {
	p.state, p.buf = stateIdle, p.buf[:0]
}

// Receiving indicates a frame is partially received.
func (p *Parser) Receiving() bool {
	return p.state != stateIdle
}

// Parse consumes one byte.
func (p *Parser) Parse(b byte) (pr ParseResult) {
	switch p.state {
	case stateIdle:
		if b == STX {
			p.state, p.buf = stateData, p.buf[:0]
		}
	case stateData:
		switch b {
		case STX:
			// sender restarted the frame.
			p.buf = p.buf[:0]
		case ETX:
			return p.frameReady()
		case DLE:
			p.state = stateEscape
		default:
			p.buf = append(p.buf, b)
		}
	case stateEscape:
		p.buf = append(p.buf, ^b)
		p.state = stateData
	}
	return
}

func (p *Parser) frameReady() (pr ParseResult) {
	p.state = stateIdle
	pr.Complete = true
	if len(p.buf) == 0 {
		return
	}
	pr.Message, pr.Err = Unmarshal(p.buf)
	p.buf = p.buf[:0]
	return
}

// Decode parses a single complete frame. Bytes before STX are ignored and
// bytes after the terminating ETX are not examined. A bare acknowledgment
// returns a nil Message and nil error.
func Decode(data []byte) (*Message, error) {
	var p Parser
	for _, b := range data {
		if pr := p.Parse(b); pr.Complete {
			return pr.Message, pr.Err
		}
	}
	return nil, &MalformedError{Len: len(data), Reason: "missing ETX"}
}
