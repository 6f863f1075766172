package kvstore

import (
	"encoding/binary"
	"fmt"

	"github.com/abitmore/steem/internal/history"
)

// Key families. Within each family byte order equals the logical order, so a
// forward iterator walks the view the way the store interface promises.
//
//	r/<id>                                      record body
//	p/<item><^block><^trx><^op>                 primary order, value = id
//	t/<item><^time><^id>                        time order, newest first
//	b/<block><id>                               block order
//	l/<item>                                    live content
//	m/next_id                                   insertion id counter
//	m/head                                      last finalized block
var (
	prefixRecord  = []byte("r/")
	prefixPrimary = []byte("p/")
	prefixTime    = []byte("t/")
	prefixBlock   = []byte("b/")
	prefixLive    = []byte("l/")
	keyNextID     = []byte("m/next_id")
	keyHead       = []byte("m/head")
)

func recordKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, prefixRecord...), id)
}

// itemKey encodes (author, permlink) with length prefixes so that no item's
// encoding is a prefix of another's.
func itemKey(prefix []byte, key history.Key) []byte {
	b := make([]byte, 0, len(prefix)+8+len(key.Author)+len(key.Permlink)+16)
	b = append(b, prefix...)
	b = binary.BigEndian.AppendUint32(b, uint32(len(key.Author)))
	b = append(b, key.Author...)
	b = binary.BigEndian.AppendUint32(b, uint32(len(key.Permlink)))
	b = append(b, key.Permlink...)
	return b
}

// decodeItemKey is the inverse of itemKey for keys of the given prefix.
func decodeItemKey(prefix, b []byte) (history.Key, error) {
	b = b[len(prefix):]
	var parts [2]string
	for i := range parts {
		if len(b) < 4 {
			return history.Key{}, fmt.Errorf("item key truncated")
		}
		n := binary.BigEndian.Uint32(b)
		b = b[4:]
		if uint32(len(b)) < n {
			return history.Key{}, fmt.Errorf("item key truncated")
		}
		parts[i] = string(b[:n])
		b = b[n:]
	}
	return history.Key{Author: parts[0], Permlink: parts[1]}, nil
}

func primaryKey(key history.Key, seq history.Sequence) []byte {
	b := itemKey(prefixPrimary, key)
	b = binary.BigEndian.AppendUint32(b, ^seq.Block)
	b = binary.BigEndian.AppendUint32(b, ^seq.TrxInBlock)
	b = binary.BigEndian.AppendUint16(b, ^seq.OpInTrx)
	return b
}

// descTime maps a signed time key onto bytes that sort newest first.
func descTime(timeKey int64) uint64 {
	return ^(uint64(timeKey) ^ (1 << 63))
}

// timeSeekKey positions an iterator on the first entry with time <= newest.
func timeSeekKey(key history.Key, newest int64) []byte {
	return binary.BigEndian.AppendUint64(itemKey(prefixTime, key), descTime(newest))
}

func timeKey(key history.Key, t int64, id uint64) []byte {
	return binary.BigEndian.AppendUint64(timeSeekKey(key, t), ^id)
}

func blockPrefix(block uint32) []byte {
	return binary.BigEndian.AppendUint32(append([]byte{}, prefixBlock...), block)
}

func blockKey(block uint32, id uint64) []byte {
	return binary.BigEndian.AppendUint64(blockPrefix(block), id)
}

// idFromTimeKey decodes the trailing complemented id of a time-order key.
func idFromTimeKey(k []byte) uint64 {
	return ^binary.BigEndian.Uint64(k[len(k)-8:])
}

// blockFromBlockKey decodes the block number of a block-order key.
func blockFromBlockKey(k []byte) uint32 {
	return binary.BigEndian.Uint32(k[len(prefixBlock):])
}

// idFromBlockKey decodes the trailing id of a block-order key.
func idFromBlockKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(k)-8:])
}

func encodeID(id uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, id)
}

func decodeID(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
