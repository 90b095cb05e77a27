package roomlog

import (
	"encoding/binary"
	"hash/crc32"
)

// Entry framing: varint headerLen | tsMs(8B BE) | payload | crc32c(header|payload).
// The header is always the 8-byte append timestamp; keeping the varint length
// prefix leaves room to extend the header without breaking old records.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeEntry frames an append timestamp and payload for storage.
func EncodeEntry(tsMs int64, payload []byte) []byte {
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(tsMs))

	out := make([]byte, 0, 1+8+len(payload)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(hdr)))
	out = append(out, tmp[:n]...)
	out = append(out, hdr[:]...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, hdr[:])
	crc = crc32.Update(crc, castagnoli, payload)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	return append(out, crcb[:]...)
}

// DecodeEntry unframes a stored record. ok is false when the record is
// truncated or fails its checksum.
func DecodeEntry(b []byte) (tsMs int64, payload []byte, ok bool) {
	if len(b) < 1+4 {
		return 0, nil, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 || hlen < 8 {
		return 0, nil, false
	}
	if n+int(hlen)+4 > len(b) {
		return 0, nil, false
	}
	header := b[n : n+int(hlen)]
	body := b[n+int(hlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, body)
	if crc != expect {
		return 0, nil, false
	}
	return int64(binary.BigEndian.Uint64(header[:8])), append([]byte(nil), body...), true
}
