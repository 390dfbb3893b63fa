package comm

// Checksum computes the 16-bit frame checksum used by the device firmware.
// It's the nibble-wise CRC-CCITT variant (poly 0x1021, init 0xFFFF) and must
// stay bit-exact with the firmware implementation.
func Checksum(data []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range data {
		crc = crc>>8 | crc<<8
		crc ^= uint16(b)
		crc ^= (crc & 0xff) >> 4
		crc ^= crc << 12
		crc ^= (crc & 0xff) << 5
	}
	return crc
}
