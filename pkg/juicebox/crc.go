package juicebox

const base35 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXY"

// crc16 computes CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF)
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Checksum returns the three character base-35 checksum of a payload
func Checksum(payload string) string {
	v := int(crc16([]byte(payload))) % (35 * 35 * 35)
	out := make([]byte, 3)
	for i := 2; i >= 0; i-- {
		out[i] = base35[v%35]
		v /= 35
	}
	return string(out)
}
