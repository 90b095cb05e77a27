package roomsvc

import (
	"encoding/json"

	"github.com/cockroachdb/pebble"
)

var metaPrefix = []byte("roommeta/")

func metaKey(roomID string) []byte {
	k := make([]byte, 0, len(metaPrefix)+len(roomID))
	k = append(k, metaPrefix...)
	k = append(k, roomID...)
	return k
}

func (s *Service) list() ([]Meta, error) {
	hi := append(append([]byte{}, metaPrefix...), 0xFF)
	iter, err := s.rt.DB().NewIter(&pebble.IterOptions{LowerBound: metaPrefix, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Meta
	for ok := iter.First(); ok; ok = iter.Next() {
		var m Meta
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
