package broker

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Scenario F (spec §8): two consumers register into the two empty
// partitions, a third is refused.
func TestScenarioF_RegisterConsumerExhaustsPartitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TPC.log")
	tpc, err := LoadOrSeedTPC(path, []TopicSpec{{TopicID: "t", PartitionCount: 2}}, nil)
	require.NoError(t, err)

	p1, err := tpc.Register("t", "c1")
	require.NoError(t, err)
	p2, err := tpc.Register("t", "c2")
	require.NoError(t, err)
	require.NotEqual(t, p1, p2)

	_, err = tpc.Register("t", "c3")
	require.ErrorIs(t, err, ErrNoPartitionAvail)
}

// Spec §8 invariant 5: idempotent registration returns the same partition
// and the log has exactly one entry for that consumer.
func TestRegisterConsumerIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TPC.log")
	tpc, err := LoadOrSeedTPC(path, []TopicSpec{{TopicID: "t", PartitionCount: 3}}, nil)
	require.NoError(t, err)

	first, err := tpc.Register("t", "c1")
	require.NoError(t, err)
	second, err := tpc.Register("t", "c1")
	require.NoError(t, err)
	require.Equal(t, first, second)

	count := 0
	for i := uint32(0); i < 3; i++ {
		consumer, ok := tpc.AssignedConsumer("t", i)
		require.True(t, ok)
		if consumer == "c1" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestRegisterConsumerTopicNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TPC.log")
	tpc, err := LoadOrSeedTPC(path, nil, nil)
	require.NoError(t, err)

	_, err = tpc.Register("unknown", "c1")
	require.ErrorIs(t, err, ErrTopicNotFound)
}

func TestTPCLogIsSourceOfTruthOnReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "TPC.log")
	tpc1, err := LoadOrSeedTPC(path, []TopicSpec{{TopicID: "t", PartitionCount: 2}}, nil)
	require.NoError(t, err)
	assigned, err := tpc1.Register("t", "c1")
	require.NoError(t, err)

	tpc2, err := LoadOrSeedTPC(path, []TopicSpec{{TopicID: "t", PartitionCount: 2}}, nil)
	require.NoError(t, err)
	consumer, ok := tpc2.AssignedConsumer("t", assigned)
	require.True(t, ok)
	require.Equal(t, "c1", consumer)
}
