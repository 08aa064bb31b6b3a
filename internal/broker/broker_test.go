package broker

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T, topics []TopicSpec) *Broker {
	t.Helper()
	dir := t.TempDir()
	b, err := New(Config{
		BrokerID:    "b1",
		DataRoot:    dir,
		Topics:      topics,
		IngressWAL:  filepath.Join(dir, "ingress.log"),
		IngressMeta: filepath.Join(dir, "ingress_metadata.log"),
		TPCLogPath:  filepath.Join(dir, "TPC.log"),
		DrainBatch:  100,
		LoopPace:    5 * time.Millisecond,
	})
	require.NoError(t, err)
	return b
}

// Scenario B (spec §8): pushing 1000 messages with distinct ids across a
// 4-partition topic routes every message to the partition RouteIndex
// predicts, with the full multiset preserved and FIFO kept per partition.
func TestScenarioB_DispatchLoopRoutesToPredictedPartitions(t *testing.T) {
	b := newTestBroker(t, []TopicSpec{{TopicID: "t", PartitionCount: 4}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	want := make(map[uint32]int)
	wantIDs := make(map[uint32][]string)
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("msg-%d", i)
		want[RouteIndex(id, 4)]++
		wantIDs[RouteIndex(id, 4)] = append(wantIDs[RouteIndex(id, 4)], id)
		require.NoError(t, b.Ingress().Push(Message{TopicID: "t", MessageID: id, Content: "x"}))
	}

	topic := b.Topic("t")
	require.Eventually(t, func() bool {
		total := 0
		for idx := uint32(0); idx < 4; idx++ {
			total += topic.Partition(idx).Size()
		}
		return total == 1000
	}, 5*time.Second, 10*time.Millisecond)

	total := 0
	for idx := uint32(0); idx < 4; idx++ {
		got := topic.Partition(idx).Size()
		require.Equal(t, want[idx], got, "partition %d", idx)
		total += got
		if got == 0 {
			continue
		}
		batch, err := topic.Partition(idx).BatchExtract(got)
		require.NoError(t, err)
		ids := make([]string, len(batch.Messages))
		for i, m := range batch.Messages {
			ids[i] = m.MessageID
		}
		require.Equal(t, wantIDs[idx], ids, "partition %d order", idx)
	}
	require.Equal(t, 1000, total)
}

func TestDispatchLoopSkipsUnknownTopic(t *testing.T) {
	b := newTestBroker(t, []TopicSpec{{TopicID: "known", PartitionCount: 1}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	require.NoError(t, b.Ingress().Push(Message{TopicID: "unknown", MessageID: "m1", Content: "x"}))
	require.NoError(t, b.Ingress().Push(Message{TopicID: "known", MessageID: "m2", Content: "x"}))

	require.Eventually(t, func() bool {
		return b.Topic("known").Partition(0).Size() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRegisterConsumerThroughBroker(t *testing.T) {
	b := newTestBroker(t, []TopicSpec{{TopicID: "t", PartitionCount: 1}})
	pid, err := b.RegisterConsumer("t", "c1")
	require.NoError(t, err)
	require.Equal(t, uint32(0), pid)

	_, err = b.RegisterConsumer("missing", "c1")
	require.ErrorIs(t, err, ErrTopicNotFound)
}
