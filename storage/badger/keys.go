package badger

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/poiesic/maildigest/core"
)

// Key prefixes for different data types
const (
	messagePrefix     = "msg"
	messageDatePrefix = "msgts"
	messageIDSeq      = "msgseq"
	vectorPrefix      = "vec"
	markerPrefix      = "seen"
	queueItemPrefix   = "qitem"
	queueDeadPrefix   = "qdead"
	queueSeq          = "qseq"
)

// makeMessageKey generates a key for a stored message by ID.
func makeMessageKey(id core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%d", messagePrefix, id))
}

// makeMessageDateKey generates a composite key for the creation time index.
// Format: prefix:timestamp:id
func makeMessageDateKey(timestamp time.Time, id core.ID) []byte {
	buf := makePartialMessageDateKey(timestamp)
	return binary.BigEndian.AppendUint64(buf, uint64(id))
}

// makePartialMessageDateKey generates a partial key for time range queries.
// Format: prefix:timestamp
func makePartialMessageDateKey(timestamp time.Time) []byte {
	prefix := []byte(messageDatePrefix + ":")
	buf := make([]byte, len(prefix), len(prefix)+16)
	copy(buf, prefix)
	// BigEndian so lexicographic order matches time order
	return binary.BigEndian.AppendUint64(buf, uint64(timestamp.UnixMicro()))
}

func makeVectorKey(id string) []byte {
	return []byte(vectorPrefix + ":" + id)
}

func makeMarkerKey(key string) []byte {
	return []byte(markerPrefix + ":" + key)
}

// makeQueueKey generates a queue key ordered by sequence number.
// Format: prefix:seq
func makeQueueKey(prefix string, seq uint64) []byte {
	buf := make([]byte, 0, len(prefix)+9)
	buf = append(buf, prefix...)
	buf = append(buf, ':')
	return binary.BigEndian.AppendUint64(buf, seq)
}
