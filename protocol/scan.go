package protocol

import (
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// frameSize walks the MessagePack value at the start of data by its headers
// only, nothing is decoded or allocated. It returns the encoded size of the
// value, or ok == false and a lower bound of that size when data ends first.
//
// A str, bin or ext header gives the full length of its payload, so a large
// frame arriving in many reads is not walked again until all of it is there.
// Codes that are not valid MessagePack report the size seen so far with
// ok == true, leaving the rejection to the decoder.
func frameSize(data []byte) (size int, ok bool) {
	off := 0
	for items := uint64(1); items > 0; items-- {
		if off >= len(data) {
			return off + 1, false
		}
		c := data[off]
		off++

		// lenBytes is the width of the length field following c, body the
		// bytes after it that are known without reading that field.
		lenBytes, body := 0, 0
		switch {
		case c <= msgpcode.PosFixedNumHigh || c >= msgpcode.NegFixedNumLow:
		case c == msgpcode.Nil || c == msgpcode.False || c == msgpcode.True:
		case msgpcode.IsFixedMap(c):
			items += 2 * uint64(c&msgpcode.FixedMapMask)
		case msgpcode.IsFixedArray(c):
			items += uint64(c & msgpcode.FixedArrayMask)
		case msgpcode.IsFixedString(c):
			body = int(c & msgpcode.FixedStrMask)
		default:
			switch c {
			case msgpcode.Uint8, msgpcode.Int8:
				body = 1
			case msgpcode.Uint16, msgpcode.Int16:
				body = 2
			case msgpcode.Uint32, msgpcode.Int32, msgpcode.Float:
				body = 4
			case msgpcode.Uint64, msgpcode.Int64, msgpcode.Double:
				body = 8
			// fixext: one type byte and 1 to 16 data bytes
			case msgpcode.FixExt1:
				body = 2
			case msgpcode.FixExt2:
				body = 3
			case msgpcode.FixExt4:
				body = 5
			case msgpcode.FixExt8:
				body = 9
			case msgpcode.FixExt16:
				body = 17
			case msgpcode.Str8, msgpcode.Bin8:
				lenBytes = 1
			case msgpcode.Str16, msgpcode.Bin16, msgpcode.Array16, msgpcode.Map16:
				lenBytes = 2
			case msgpcode.Str32, msgpcode.Bin32, msgpcode.Array32, msgpcode.Map32:
				lenBytes = 4
			case msgpcode.Ext8:
				lenBytes, body = 1, 1
			case msgpcode.Ext16:
				lenBytes, body = 2, 1
			case msgpcode.Ext32:
				lenBytes, body = 4, 1
			default:
				return off, true
			}
		}

		if lenBytes > 0 {
			if off+lenBytes > len(data) {
				return off + lenBytes, false
			}
			n := readLength(data[off : off+lenBytes])
			off += lenBytes
			switch c {
			case msgpcode.Array16, msgpcode.Array32:
				items += n
			case msgpcode.Map16, msgpcode.Map32:
				items += 2 * n
			default:
				body += int(n)
			}
		}

		off += body
		if off > len(data) {
			return off, false
		}
	}
	return off, true
}

func readLength(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	default:
		return uint64(binary.BigEndian.Uint32(b))
	}
}
