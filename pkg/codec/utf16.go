package codec

import "fmt"

const (
	bomBig    = 0xFEFF
	bomLittle = 0xFFFE
)

// DecodeUTF16 decodes byteLen bytes of buf (starting at offset 0) as a
// sequence of Unicode codepoints. It honors a leading byte-order-mark
// (0xFEFF big-endian, 0xFFFE little-endian); absent a BOM it assumes
// big-endian, matching the VHD format's parent-unicode-name field. It
// combines UTF-16 surrogate pairs into codepoints >= 0x10000 and fails
// on an unpaired low surrogate.
func DecodeUTF16(buf []byte, byteLen int) ([]rune, error) {
	if byteLen < 0 || byteLen > len(buf) {
		return nil, fmt.Errorf("codec: utf16 decode: byteLen %d exceeds buffer of %d", byteLen, len(buf))
	}
	data := buf[:byteLen]

	endian := BigEndian
	if len(data) >= 2 {
		switch uint16(data[0])<<8 | uint16(data[1]) {
		case bomBig:
			endian = BigEndian
			data = data[2:]
		case bomLittle:
			endian = LittleEndian
			data = data[2:]
		}
	}

	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}

	var out []rune
	for i := 0; i+2 <= len(data); i += 2 {
		unit, _, err := ReadU16(data, i, endian)
		if err != nil {
			return nil, err
		}

		switch {
		case unit >= 0xD800 && unit <= 0xDBFF:
			// high surrogate, must be followed by a low surrogate
			if i+4 > len(data) {
				return nil, fmt.Errorf("codec: utf16 decode: unpaired high surrogate at byte %d", i)
			}
			low, _, err := ReadU16(data, i+2, endian)
			if err != nil {
				return nil, err
			}
			if low < 0xDC00 || low > 0xDFFF {
				return nil, fmt.Errorf("codec: utf16 decode: high surrogate not followed by low surrogate at byte %d", i)
			}
			cp := (rune(unit-0xD800) << 10) | rune(low-0xDC00)
			cp += 0x10000
			out = append(out, cp)
			i += 2
		case unit >= 0xDC00 && unit <= 0xDFFF:
			return nil, fmt.Errorf("codec: utf16 decode: unpaired low surrogate at byte %d", i)
		default:
			out = append(out, rune(unit))
		}
	}

	return out, nil
}

// EncodeUTF16 emits codepoints as UTF-16 code units in the given byte
// order, encoding codepoints >= 0x10000 as surrogate pairs. It never
// emits a BOM; callers that want one must prepend it.
func EncodeUTF16(codepoints []rune, e Endian) []byte {
	out := make([]byte, 0, len(codepoints)*2)
	for _, cp := range codepoints {
		if cp >= 0x10000 {
			v := uint32(cp) - 0x10000
			high := uint16(0xD800 + (v >> 10))
			low := uint16(0xDC00 + (v & 0x3FF))
			out = append(out, WriteU16(high, e)...)
			out = append(out, WriteU16(low, e)...)
		} else {
			out = append(out, WriteU16(uint16(cp), e)...)
		}
	}
	return out
}
