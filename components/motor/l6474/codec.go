package l6474

// signBitMask returns the sign bit of a signed register of the given width. For the 3 byte
// position registers this is bit 21: the values are 22 bit two's complement.
func signBitMask(width int) uint32 {
	return 1 << (8*width - 3)
}

// encode converts value to the big endian payload of reg. Values that do not survive a decode of
// their own encoding are rejected with an *EncodingError.
func encode(reg Register, value int32) ([]byte, error) {
	raw := uint32(value)
	if reg.Signed && value < 0 {
		raw = uint32(int64(value) + 2*int64(signBitMask(reg.Width)))
	}
	payload := make([]byte, reg.Width)
	for i := reg.Width - 1; i >= 0; i-- {
		payload[i] = byte(raw)
		raw >>= 8
	}
	if decode(payload, reg.Signed) != value {
		return nil, &EncodingError{Register: reg.Name, Value: value}
	}
	return payload, nil
}

// decode converts a big endian payload. Signed payloads are read as 22 bit two's complement.
func decode(payload []byte, signed bool) int32 {
	var raw uint32
	for _, b := range payload {
		raw = raw<<8 | uint32(b)
	}
	if !signed {
		return int32(raw)
	}
	mask := signBitMask(len(payload))
	raw &= 2*mask - 1
	if raw&mask != 0 {
		return int32(int64(raw) - 2*int64(mask))
	}
	return int32(raw)
}

// decodeAbsPos is decode(payload, true) for a 3 byte payload, without the loop.
func decodeAbsPos(b0, b1, b2 byte) int32 {
	const (
		signBit  = 0x200000
		signTerm = 0x400000
	)
	raw := (int32(b0)<<16 | int32(b1)<<8 | int32(b2)) & (signTerm - 1)
	if raw&signBit != 0 {
		return raw - signTerm
	}
	return raw
}
