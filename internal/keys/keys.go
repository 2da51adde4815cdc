// Package keys derives the durable-store key families for the replay buffer.
//
// The layout below is a stable contract: older deployments wrote keys in the
// same shape, and replay reads must keep finding them after upgrades.
//
//	{prefix}:partition:{p}:offset:{o}   payload, TTL-bound
//	{prefix}:partition:{p}:offsets      sorted index, score = offset
//	{prefix}:thread:{tid}:seq:{s}       packed record, TTL-bound
//	{prefix}:thread:{tid}:sequences     sorted index, score = sequence
package keys

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Separator joins key segments; a thread id containing it must be encoded.
	Separator = ":"

	// MaxThreadIDLen bounds a verbatim thread id inside a key.
	MaxThreadIDLen = 64

	// EncodedPrefix tags the reversible base64url thread-id encoding.
	EncodedPrefix = "b64:"

	// LegacyPrefix tags the pre-migration hash encoding. It is not
	// reversible; reads fall back to it for records written before the
	// reversible scheme existed.
	LegacyPrefix = "hashed:"
)

func OffsetKey(prefix string, partition int32, offset int64) string {
	return prefix + ":partition:" + strconv.FormatInt(int64(partition), 10) + ":offset:" + strconv.FormatInt(offset, 10)
}

func OffsetIndexKey(prefix string, partition int32) string {
	return prefix + ":partition:" + strconv.FormatInt(int64(partition), 10) + ":offsets"
}

func ThreadSeqKey(prefix, safeThreadID string, seq uint64) string {
	return prefix + ":thread:" + safeThreadID + ":seq:" + strconv.FormatUint(seq, 10)
}

func ThreadIndexKey(prefix, safeThreadID string) string {
	return prefix + ":thread:" + safeThreadID + ":sequences"
}

// OffsetIndexPattern matches every partition offset index under prefix.
func OffsetIndexPattern(prefix string) string {
	return prefix + ":partition:*:offsets"
}

// AllKeysPattern matches every key written under prefix.
func AllKeysPattern(prefix string) string {
	return prefix + ":*"
}

// PartitionFromIndexKey extracts the partition id from an offset index key.
func PartitionFromIndexKey(prefix, key string) (int32, bool) {
	rest, ok := strings.CutPrefix(key, prefix+":partition:")
	if !ok {
		return 0, false
	}
	idStr, ok := strings.CutSuffix(rest, ":offsets")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(idStr, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(id), true
}

// OffsetFromKey extracts the offset from an offset record key. Sorted-index
// members are stored in this key shape, so reads parse them with it.
func OffsetFromKey(key string) (int64, bool) {
	i := strings.LastIndex(key, ":offset:")
	if i < 0 {
		return 0, false
	}
	o, err := strconv.ParseInt(key[i+len(":offset:"):], 10, 64)
	if err != nil {
		return 0, false
	}
	return o, true
}

// SeqFromKey extracts the sequence from a thread record key, the shape the
// thread index stores its members in. The encoded thread id cannot contain
// ":seq:" (the safe set and both encodings exclude the separator), so the
// last occurrence is unambiguous.
func SeqFromKey(key string) (uint64, bool) {
	i := strings.LastIndex(key, ":seq:")
	if i < 0 {
		return 0, false
	}
	s, err := strconv.ParseUint(key[i+len(":seq:"):], 10, 64)
	if err != nil {
		return 0, false
	}
	return s, true
}

// SafeThreadID returns the thread id as embedded in keys. Ids that are free
// of the separator, within the length bound, and restricted to a safe
// character set pass through verbatim for debuggability; anything else gets a
// reversible tagged encoding. Distinct inputs never collide: verbatim ids can
// never start with an encoding tag (tagged inputs are themselves encoded).
func SafeThreadID(threadID string) string {
	if isSafe(threadID) {
		return threadID
	}
	return EncodedPrefix + base64.RawURLEncoding.EncodeToString([]byte(threadID))
}

// DecodeThreadID reverses SafeThreadID. Legacy hashed ids are not reversible
// and are returned as-is with ok=false.
func DecodeThreadID(safeID string) (string, bool) {
	if enc, found := strings.CutPrefix(safeID, EncodedPrefix); found {
		raw, err := base64.RawURLEncoding.DecodeString(enc)
		if err != nil {
			return safeID, false
		}
		return string(raw), true
	}
	if strings.HasPrefix(safeID, LegacyPrefix) {
		return safeID, false
	}
	return safeID, true
}

func isSafe(threadID string) bool {
	if threadID == "" || len(threadID) > MaxThreadIDLen {
		return false
	}
	if strings.HasPrefix(threadID, EncodedPrefix) || strings.HasPrefix(threadID, LegacyPrefix) {
		return false
	}
	for i := 0; i < len(threadID); i++ {
		if !safeByte(threadID[i]) {
			return false
		}
	}
	return true
}

func safeByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '.' || b == '_' || b == '@' || b == '/' || b == '-':
		return true
	}
	return false
}

// LegacyThreadID reproduces the pre-migration encoding: the unsafe check
// looked only at the separator and the length bound, and the encoding was a
// one-way hash. Records written under this scheme stay reachable through the
// read-side fallback.
func LegacyThreadID(threadID string) string {
	if !legacyUnsafe(threadID) {
		return threadID
	}
	sum := sha256.Sum256([]byte(threadID))
	return LegacyPrefix + hex.EncodeToString(sum[:])
}

func legacyUnsafe(threadID string) bool {
	return strings.Contains(threadID, Separator) || len(threadID) > MaxThreadIDLen
}

// ThreadRecordHeaderSize is the fixed header preceding the payload in a
// thread-indexed value: [4-byte partition LE][8-byte offset LE].
const ThreadRecordHeaderSize = 12

// PackThreadRecord prepends the originating cursor to the payload.
func PackThreadRecord(partition int32, offset int64, payload []byte) []byte {
	buf := make([]byte, ThreadRecordHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(partition))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(offset))
	copy(buf[ThreadRecordHeaderSize:], payload)
	return buf
}

// UnpackThreadRecord splits a thread-indexed value into cursor and payload.
// Values too short to hold the header predate cursor tagging; they decode as
// the whole payload with a zero cursor rather than an error.
func UnpackThreadRecord(value []byte) (partition int32, offset int64, payload []byte) {
	if len(value) < ThreadRecordHeaderSize {
		return 0, 0, value
	}
	partition = int32(binary.LittleEndian.Uint32(value[0:4]))
	offset = int64(binary.LittleEndian.Uint64(value[4:12]))
	return partition, offset, value[ThreadRecordHeaderSize:]
}

// FormatScore renders a sorted-set score bound for an exclusive range query.
func FormatScore(exclusiveMin int64) string {
	return fmt.Sprintf("(%d", exclusiveMin)
}
