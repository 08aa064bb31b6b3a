package broker

import (
	"strings"
	"sync"
	"time"

	"github.com/dcrodman/tpcbroker/internal/logfile"
	"github.com/dcrodman/tpcbroker/internal/logger"
	"github.com/dcrodman/tpcbroker/internal/queue"
)

const (
	// DefaultIngressMaxSize is the soft cap on in-memory queued messages
	// before Push returns ErrBufferFull (spec §4.3).
	DefaultIngressMaxSize = 200_000_000
	// DefaultIngressBatchSize forces a synchronous flush once this many
	// writes are staged (spec §4.3 step 4).
	DefaultIngressBatchSize = 1000
	// DefaultIngressFlushInterval is the single-shot timer armed when a
	// push doesn't itself cross DefaultIngressBatchSize (spec §4.3).
	DefaultIngressFlushInterval = 200 * time.Millisecond
)

type pendingWrite struct {
	message Message
	offset  uint64
}

// IngressConfig configures a new Ingress buffer.
type IngressConfig struct {
	BrokerID      string
	WALPath       string
	MetadataPath  string
	MaxSize       int
	BatchSize     int
	FlushInterval time.Duration
	Logger        logger.Logger
}

// Ingress is the entry point for every accepted message (spec §4.3). It
// stages writes in memory, assigns offsets eagerly and under lock (spec §9
// "Async flush with eager offset assignment"), and flushes staged writes to
// the WAL in batches, either because a batch filled up or because a timer
// fired.
type Ingress struct {
	brokerID string
	maxSize  int
	batch    int
	interval time.Duration
	log      logger.Logger

	handler  *logfile.Handler
	metaPath string

	queue *queue.Queue[Message]

	// mu guards logEndOffset, pendingWrites and readOffset: the same
	// critical section that assigns offsets also owns advancing them, so
	// accepted order == offset order == WAL order (spec §5).
	mu            sync.Mutex
	logEndOffset  uint64
	readOffset    uint64
	pendingWrites []pendingWrite

	flushMu    sync.Mutex
	isFlushing bool

	timerMu sync.Mutex
	timer   *time.Timer
}

// NewIngress constructs an Ingress buffer, ensuring its WAL and metadata
// files exist and replaying any uncommitted (undrained) tail of the WAL into
// memory (spec §4.3 recovery).
func NewIngress(cfg IngressConfig) (*Ingress, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultIngressMaxSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultIngressBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultIngressFlushInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	if err := logfile.EnsureFile(cfg.WALPath); err != nil {
		return nil, newErr(KindBufferBuildFailed, err)
	}
	if err := EnsureIngressMetadata(cfg.MetadataPath); err != nil {
		return nil, err
	}

	offsets, err := ReadIngressMetadata(cfg.MetadataPath)
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

	ib := &Ingress{
		brokerID:     cfg.BrokerID,
		maxSize:      cfg.MaxSize,
		batch:        cfg.BatchSize,
		interval:     cfg.FlushInterval,
		log:          cfg.Logger,
		handler:      logfile.New(cfg.WALPath, logfile.Ingress),
		metaPath:     cfg.MetadataPath,
		queue:        queue.New[Message](),
		logEndOffset: offsets.LogEndOffset,
		readOffset:   offsets.ReadOffset,
	}

	for _, line := range lines {
		msg, ok := parseIngressLine(line)
		if !ok {
			continue
		}
		ib.queue.Enqueue(msg)
	}

	ib.log.Log(logger.LogLevelInfo, "ingress buffer recovered", "logEndOffset", ib.logEndOffset, "readOffset", ib.readOffset, "replayed", len(lines))
	return ib, nil
}

// Push stages message for durable append and makes it immediately visible
// to the broker dispatch loop (spec §4.3). It returns ErrBufferFull if the
// in-memory queue is already at capacity and ErrAppendFailed if a forced
// synchronous flush fails.
func (ib *Ingress) Push(msg Message) error {
	if ib.queue.Size() >= ib.maxSize {
		return ErrBufferFull
	}

	ib.mu.Lock()
	offset := ib.logEndOffset + uint64(len(ib.pendingWrites)) + 1
	ib.pendingWrites = append(ib.pendingWrites, pendingWrite{message: msg, offset: offset})
	ib.queue.Enqueue(msg)
	shouldFlushNow := len(ib.pendingWrites) >= ib.batch
	ib.mu.Unlock()

	if shouldFlushNow {
		ib.cancelTimer()
		if err := ib.flush(); err != nil {
			return err
		}
	} else {
		ib.armTimer()
	}
	return nil
}

// armTimer schedules a single-shot flush if one isn't already pending.
func (ib *Ingress) armTimer() {
	ib.timerMu.Lock()
	defer ib.timerMu.Unlock()
	if ib.timer != nil {
		return
	}
	ib.timer = time.AfterFunc(ib.interval, func() {
		ib.timerMu.Lock()
		ib.timer = nil
		ib.timerMu.Unlock()
		if err := ib.flush(); err != nil {
			ib.log.Log(logger.LogLevelError, "timed flush failed", "err", err)
		}
	})
}

func (ib *Ingress) cancelTimer() {
	ib.timerMu.Lock()
	defer ib.timerMu.Unlock()
	if ib.timer != nil {
		ib.timer.Stop()
		ib.timer = nil
	}
}

// flush performs at most one concurrent flush (guarded by isFlushing),
// appending every currently-staged write to the WAL in a single call and
// advancing logEndOffset on success (spec §4.3 flush()).
func (ib *Ingress) flush() error {
	ib.flushMu.Lock()
	if ib.isFlushing {
		ib.flushMu.Unlock()
		return nil
	}
	ib.isFlushing = true
	ib.flushMu.Unlock()
	defer func() {
		ib.flushMu.Lock()
		ib.isFlushing = false
		ib.flushMu.Unlock()
	}()

	// The batch stays in pendingWrites until it is durable, so a Push that
	// runs during this flush still counts it when assigning the next offset.
	ib.mu.Lock()
	batch := append([]pendingWrite(nil), ib.pendingWrites...)
	ib.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	recs := make([]logfile.Record, len(batch))
	for i, pw := range batch {
		recs[i] = logfile.Record{
			BrokerID:  ib.brokerID,
			Offset:    pw.offset,
			TopicID:   pw.message.TopicID,
			MessageID: pw.message.MessageID,
			Content:   pw.message.Content,
		}
	}

	if err := ib.handler.AppendBatch(recs); err != nil {
		// The batch is still staged, so a future flush retries it; the
		// reference behaviour acknowledges a durability hazard here (spec §9)
		// because Push already returned success before this point.
		return newErr(KindAppendFailed, err)
	}

	last := batch[len(batch)-1].offset

	// The metadata rewrite happens under the same lock that mutates
	// logEndOffset/readOffset so a concurrent BatchExtract can never write a
	// stale copy of the field this flush just advanced, or vice versa.
	ib.mu.Lock()
	ib.pendingWrites = ib.pendingWrites[len(batch):]
	ib.logEndOffset = last
	logEnd, readOff := ib.logEndOffset, ib.readOffset
	err := WriteIngressMetadata(ib.metaPath, Offsets{LogEndOffset: logEnd, ReadOffset: readOff})
	ib.mu.Unlock()
	if err != nil {
		return err
	}
	ib.log.Log(logger.LogLevelDebug, "ingress flush complete", "count", len(batch), "logEndOffset", logEnd)
	return nil
}

// BatchExtract dequeues up to n messages in FIFO order and advances
// readOffset by the number actually dequeued (spec §4.3 batchExtract).
func (ib *Ingress) BatchExtract(n int) ([]Message, error) {
	if ib.queue.IsEmpty() {
		return nil, ErrBufferEmpty
	}
	msgs := ib.queue.DequeueBatch(n)
	if len(msgs) == 0 {
		return nil, ErrBufferEmpty
	}

	ib.mu.Lock()
	ib.readOffset += uint64(len(msgs))
	logEnd, readOff := ib.logEndOffset, ib.readOffset
	err := WriteIngressMetadata(ib.metaPath, Offsets{LogEndOffset: logEnd, ReadOffset: readOff})
	ib.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// Offsets returns a snapshot of the current (logEndOffset, readOffset) pair.
func (ib *Ingress) Offsets() Offsets {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return Offsets{LogEndOffset: ib.logEndOffset, ReadOffset: ib.readOffset}
}

// Size returns the number of messages currently queued in memory.
func (ib *Ingress) Size() int { return ib.queue.Size() }

// parseIngressLine recovers a Message from a "brokerId|offset|topicId|
// messageId|content" line. It requires exactly 5 fields: a Content value
// containing an unescaped '|' (spec §9 open question 1) produces a
// different field count and the line is skipped rather than guessed at.
func parseIngressLine(line string) (Message, bool) {
	fields := strings.Split(line, "|")
	if len(fields) != 5 {
		return Message{}, false
	}
	return Message{TopicID: fields[2], MessageID: fields[3], Content: fields[4]}, true
}
