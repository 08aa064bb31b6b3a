package broker

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/dcrodman/tpcbroker/internal/logger"
)

// RouteIndex deterministically maps messageID to a partition index in
// [0, n). It takes the first 8 hex characters of SHA-256(messageID), parses
// them as a big-endian uint32, and reduces modulo n (spec §4.5). This must
// stay stable across restarts and implementations, or existing on-disk
// partitions will be misread after an upgrade (spec §9).
func RouteIndex(messageID string, n uint32) uint32 {
	sum := sha256.Sum256([]byte(messageID))
	hexStr := hex.EncodeToString(sum[:])
	prefix, _ := hex.DecodeString(hexStr[:8])
	idx := binary.BigEndian.Uint32(prefix)
	return idx % n
}

// TopicConfig configures a new Topic.
type TopicConfig struct {
	TopicID        string
	PartitionCount uint32
	DataRoot       string
	Logger         logger.Logger
}

// Topic owns a fixed-size set of Partitions and routes messages into them by
// RouteIndex (spec §4.5). PartitionCount never changes after construction.
type Topic struct {
	id         string
	partitions []*Partition
	log        logger.Logger
}

// NewTopic constructs a Topic and every one of its Partitions, recovering
// each from disk under dataRoot/topics/topic_{topicId}/.
func NewTopic(cfg TopicConfig) (*Topic, error) {
	if cfg.PartitionCount == 0 {
		return nil, newErr(KindBufferBuildFailed, nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	topicDir := filepath.Join(cfg.DataRoot, "topics", "topic_"+cfg.TopicID)
	metaPath := filepath.Join(topicDir, cfg.TopicID+"_partition_metadata.log")

	// Every partition of this topic rewrites the same metadata file, so they
	// share one mutex to serialise those rewrites (see PartitionConfig.MetaMu).
	metaMu := &sync.Mutex{}

	t := &Topic{id: cfg.TopicID, log: cfg.Logger}
	for i := uint32(0); i < cfg.PartitionCount; i++ {
		walPath := filepath.Join(topicDir, "partition_"+strconv.FormatUint(uint64(i), 10)+".log")
		p, err := NewPartition(PartitionConfig{
			TopicID:      cfg.TopicID,
			PartitionID:  i,
			WALPath:      walPath,
			MetadataPath: metaPath,
			Logger:       cfg.Logger,
			MetaMu:       metaMu,
		})
		if err != nil {
			return nil, err
		}
		t.partitions = append(t.partitions, p)
	}
	return t, nil
}

// ID returns the topic's id.
func (t *Topic) ID() string { return t.id }

// PartitionCount returns the fixed number of partitions this topic owns.
func (t *Topic) PartitionCount() uint32 { return uint32(len(t.partitions)) }

// Partition returns the partition at idx, or nil if out of range.
func (t *Topic) Partition(idx uint32) *Partition {
	if int(idx) >= len(t.partitions) {
		return nil
	}
	return t.partitions[idx]
}

// Push routes message to its partition by RouteIndex and pushes it there
// (spec §4.5).
func (t *Topic) Push(message Message) error {
	idx := RouteIndex(message.MessageID, uint32(len(t.partitions)))
	return t.partitions[idx].Push(message)
}
