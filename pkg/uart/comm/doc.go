// Package comm provides the host side of the UART command protocol.
package comm

// The protocol is communicated between the device firmware and a host tool
// over a peer-to-peer byte stream (usually a serial port with hardware flow
// control). Each message is framed as
//
//	STX [escaped: crc16 msgID cmd argc args... payload] ETX
//
// with all integers little-endian. Any STX, ETX or DLE byte inside the frame
// is sent as DLE followed by its complement. An empty frame (STX ETX) is a
// bare acknowledgment and carries no message.
//
// Requests are correlated to responses by msgID. A response carries the
// request's msgID and a command field of 0 on success or a device status code
// on failure. A few command codes are reserved for unsolicited messages which
// never answer a request.
//
// Producer: device firmware
// Consumer: host tool
