package util

var crc16Tab = makeCRC16Table(0x1021)

func makeCRC16Table(poly uint16) [256]uint16 {
	var tab [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		tab[i] = crc
	}
	return tab
}

func crc16CCITT(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = (crc << 8) ^ crc16Tab[byte(crc>>8)^b]
	}
	return crc
}

// KeySlot maps a routing key onto one of n lanes. Equal keys always land on
// the same lane, which is what keeps per-key delivery ordered.
func KeySlot(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(crc16CCITT([]byte(key)) % uint16(n))
}
