package broker

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouteIndexMatchesSHA256Truncation(t *testing.T) {
	for _, id := range []string{"m1", "msg-0", "msg-999", "order-abc"} {
		sum := sha256.Sum256([]byte(id))
		want := binary.BigEndian.Uint32(sum[:4]) % 4
		got := RouteIndex(id, 4)
		require.Equal(t, want, got, "messageId=%s", id)
	}
}

func TestRouteIndexStableAcrossCalls(t *testing.T) {
	a := RouteIndex("stable-id", 8)
	b := RouteIndex("stable-id", 8)
	require.Equal(t, a, b)
}

func TestRouteIndexHexPrefixDecoding(t *testing.T) {
	id := "msg-42"
	sum := sha256.Sum256([]byte(id))
	hexStr := hex.EncodeToString(sum[:])
	prefix, err := hex.DecodeString(hexStr[:8])
	require.NoError(t, err)
	want := binary.BigEndian.Uint32(prefix) % 4
	require.Equal(t, want, RouteIndex(id, 4))
}

func TestTopicPushRoutesDeterministically(t *testing.T) {
	dir := t.TempDir()
	topic, err := NewTopic(TopicConfig{TopicID: "t", PartitionCount: 4, DataRoot: dir})
	require.NoError(t, err)

	counts := make(map[uint32]int)
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("msg-%d", i)
		idx := RouteIndex(id, 4)
		counts[idx]++
		require.NoError(t, topic.Push(Message{TopicID: "t", MessageID: id, Content: "x"}))
	}

	total := 0
	for idx := uint32(0); idx < 4; idx++ {
		sz := topic.Partition(idx).Size()
		require.Equal(t, counts[idx], sz)
		total += sz
	}
	require.Equal(t, 1000, total)
}

func TestTopicPartitionCountFixed(t *testing.T) {
	dir := t.TempDir()
	topic, err := NewTopic(TopicConfig{TopicID: "t", PartitionCount: 3, DataRoot: dir})
	require.NoError(t, err)
	require.Equal(t, uint32(3), topic.PartitionCount())
	require.Nil(t, topic.Partition(3))
}
