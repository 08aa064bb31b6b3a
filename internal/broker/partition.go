package broker

import (
	"strings"
	"sync"

	"github.com/dcrodman/tpcbroker/internal/logfile"
	"github.com/dcrodman/tpcbroker/internal/logger"
	"github.com/dcrodman/tpcbroker/internal/queue"
)

// DefaultPartitionMaxSize is the soft cap on in-memory queued messages per
// partition before Push returns ErrBufferFull (spec §4.4).
const DefaultPartitionMaxSize = 200_000_000

// ExtractedBatch is the peeked (non-removing) view returned by
// Partition.BatchExtract.
type ExtractedBatch struct {
	Messages    []Message
	StartOffset uint64
	EndOffset   uint64
}

// CommitResult is returned by Partition.CommitOffset on success.
type CommitResult struct {
	LogEndOffset uint64
	NewReadOffset uint64
}

// PartitionConfig configures a new Partition. MetaMu, when set, is a mutex
// shared with every other Partition backed by the same MetadataPath (spec
// §5 "each Partition serialises its own WAL appends and metadata
// rewrites" — since several partitions of one topic share a single
// metadata file, the serialisation has to be shared too, or one
// partition's rewrite can clobber another's in-flight read-modify-write).
// A nil MetaMu gets a private one, which is only safe when the caller knows
// MetadataPath isn't shared with another Partition.
type PartitionConfig struct {
	TopicID      string
	PartitionID  uint32
	WALPath      string
	MetadataPath string
	MaxSize      int
	Logger       logger.Logger
	MetaMu       *sync.Mutex
}

// Partition is the per-(topic,partition) durable FIFO (spec §4.4). Its WAL
// append always precedes the in-memory enqueue and the offset advance: a
// failed append leaves every bit of state exactly as it was.
type Partition struct {
	topicID     string
	partitionID uint32
	maxSize     int
	log         logger.Logger

	handler  *logfile.Handler
	metaPath string
	metaKey  string
	metaMu   *sync.Mutex

	queue *queue.Queue[Message]

	mu           sync.Mutex
	logEndOffset uint64
	readOffset   uint64
}

// NewPartition constructs a Partition, ensuring its WAL and shared metadata
// file exist, seeding this partition's metadata line if absent, and
// replaying the uncommitted WAL suffix into memory (spec §4.4 recovery).
func NewPartition(cfg PartitionConfig) (*Partition, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultPartitionMaxSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.MetaMu == nil {
		cfg.MetaMu = &sync.Mutex{}
	}

	if err := logfile.EnsureFile(cfg.WALPath); err != nil {
		return nil, newErr(KindBufferBuildFailed, err)
	}
	if err := EnsurePartitionMetadataFile(cfg.MetadataPath); err != nil {
		return nil, err
	}

	key := PartitionMetaKey(cfg.TopicID, cfg.PartitionID)
	cfg.MetaMu.Lock()
	offsets, found, err := ReadPartitionMetadata(cfg.MetadataPath, key)
	if err == nil && !found {
		offsets = Offsets{}
		err = WritePartitionMetadataLine(cfg.MetadataPath, key, offsets)
	}
	cfg.MetaMu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := offsets.Validate(); err != nil {
		return nil, err
	}

	lines, err := logfile.ReadLines(cfg.WALPath, int(offsets.ReadOffset))
	if err != nil {
		return nil, newErr(KindBufferBuildFailed, err)
	}

	p := &Partition{
		topicID:      cfg.TopicID,
		partitionID:  cfg.PartitionID,
		maxSize:      cfg.MaxSize,
		log:          cfg.Logger,
		handler:      logfile.New(cfg.WALPath, logfile.Partition),
		metaPath:     cfg.MetadataPath,
		metaKey:      key,
		metaMu:       cfg.MetaMu,
		queue:        queue.New[Message](),
		logEndOffset: offsets.LogEndOffset,
		readOffset:   offsets.ReadOffset,
	}

	for _, line := range lines {
		msg, ok := parsePartitionLine(line)
		if !ok {
			continue
		}
		p.queue.Enqueue(msg)
	}

	p.log.Log(logger.LogLevelInfo, "partition recovered", "topicId", cfg.TopicID, "partitionId", cfg.PartitionID, "logEndOffset", p.logEndOffset, "readOffset", p.readOffset, "replayed", len(lines))
	return p, nil
}

// Push appends message to the partition WAL at offset logEndOffset+1 and, on
// success, enqueues it in memory and advances logEndOffset (spec §4.4
// push). The WAL append always happens first; a failure leaves state
// unchanged.
func (p *Partition) Push(msg Message) error {
	if p.queue.Size() >= p.maxSize {
		return ErrBufferFull
	}

	p.mu.Lock()
	offset := p.logEndOffset + 1
	p.mu.Unlock()

	if err := p.handler.Append(logfile.Record{
		TopicID:     p.topicID,
		PartitionID: p.partitionID,
		Offset:      offset,
		MessageID:   msg.MessageID,
		Content:     msg.Content,
	}); err != nil {
		return newErr(KindAppendFailed, err)
	}

	p.mu.Lock()
	p.logEndOffset = offset
	logEnd, readOff := p.logEndOffset, p.readOffset
	p.mu.Unlock()

	p.queue.Enqueue(msg)

	// metaMu is shared by every partition backed by this topic's metadata
	// file, so this read-modify-write of the whole file can't interleave
	// with a sibling partition's (or this partition's own concurrent
	// CommitOffset's) rewrite.
	p.metaMu.Lock()
	err := WritePartitionMetadataLine(p.metaPath, p.metaKey, Offsets{LogEndOffset: logEnd, ReadOffset: readOff})
	p.metaMu.Unlock()
	if err != nil {
		return err
	}
	return nil
}

// BatchExtract peeks up to n messages without removing them (spec §4.4
// batchExtract): the consumer must later call CommitOffset(endOffset) to
// make the removal effective. A crash between extract and commit causes
// redelivery, which is the mechanism behind at-least-once delivery.
func (p *Partition) BatchExtract(n int) (ExtractedBatch, error) {
	if p.queue.IsEmpty() {
		return ExtractedBatch{}, ErrBufferEmpty
	}
	msgs := p.queue.PeekBatch(n)
	if len(msgs) == 0 {
		return ExtractedBatch{}, ErrBufferEmpty
	}

	p.mu.Lock()
	start := p.readOffset
	p.mu.Unlock()

	return ExtractedBatch{
		Messages:    msgs,
		StartOffset: start,
		EndOffset:   start + uint64(len(msgs)),
	}, nil
}

// CommitOffset advances readOffset to offset, reclaiming the committed
// prefix from the in-memory queue (spec §4.4 commitOffset). Committing an
// offset already committed is a no-op (k == 0): calling it twice in a row is
// idempotent.
func (p *Partition) CommitOffset(offset uint64) (CommitResult, error) {
	p.mu.Lock()
	logEnd, readOff := p.logEndOffset, p.readOffset
	if offset > logEnd {
		p.mu.Unlock()
		return CommitResult{}, ErrInvalidOffset
	}
	if offset < readOff {
		p.mu.Unlock()
		return CommitResult{}, ErrInvalidOffset
	}
	k := offset - readOff
	p.mu.Unlock()

	if k > 0 {
		p.queue.DequeueBatch(int(k))
	}

	p.mu.Lock()
	p.readOffset = offset
	logEnd, readOff = p.logEndOffset, p.readOffset
	p.mu.Unlock()

	p.metaMu.Lock()
	err := WritePartitionMetadataLine(p.metaPath, p.metaKey, Offsets{LogEndOffset: logEnd, ReadOffset: readOff})
	p.metaMu.Unlock()
	if err != nil {
		return CommitResult{}, err
	}
	return CommitResult{LogEndOffset: logEnd, NewReadOffset: readOff}, nil
}

// Offsets returns a snapshot of the current (logEndOffset, readOffset) pair.
func (p *Partition) Offsets() Offsets {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Offsets{LogEndOffset: p.logEndOffset, ReadOffset: p.readOffset}
}

// Size returns the number of messages currently queued in memory.
func (p *Partition) Size() int { return p.queue.Size() }

// TopicID returns the owning topic's id.
func (p *Partition) TopicID() string { return p.topicID }

// PartitionID returns this partition's index within its topic.
func (p *Partition) PartitionID() uint32 { return p.partitionID }

func parsePartitionLine(line string) (Message, bool) {
	fields := strings.Split(line, "|")
	if len(fields) != 5 {
		return Message{}, false
	}
	return Message{TopicID: fields[0], MessageID: fields[3], Content: fields[4]}, true
}
