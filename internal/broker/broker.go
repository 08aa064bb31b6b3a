package broker

import (
	"context"
	"time"

	"github.com/dcrodman/tpcbroker/internal/logger"
)

// DefaultDrainBatchSize is how many messages the dispatch loop pulls from
// the ingress buffer per iteration (spec §4.6).
const DefaultDrainBatchSize = 100

// DefaultLoopPace is the cooperative-yield sleep the dispatch loop takes
// between iterations, and while the ingress buffer is empty (spec §4.6,
// §5). Spec §9 flags this as capping throughput even after a full batch;
// kept as-is since no redesign is specified.
const DefaultLoopPace = 100 * time.Millisecond

// Config configures a new Broker.
type Config struct {
	BrokerID      string
	DataRoot      string
	Topics        []TopicSpec
	IngressWAL    string
	IngressMeta   string
	TPCLogPath    string
	DrainBatch    int
	LoopPace      time.Duration
	Logger        logger.Logger
}

// Broker owns the IngressBuffer and the set of Topics (spec §3 Ownership).
// It runs the dispatch loop that drains ingress and routes each message
// into its topic, and exposes consumer registration against the TPC map.
type Broker struct {
	id         string
	log        logger.Logger
	drainBatch int
	pace       time.Duration

	ingress *Ingress
	topics  map[string]*Topic
	tpc     *TPC
}

// New constructs a Broker: it loads/seeds the TPC map, builds one Topic per
// TPC entry (spec §4.6 step 1), and recovers the ingress buffer. It does not
// start the dispatch loop; call Run for that.
func New(cfg Config) (*Broker, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.DrainBatch <= 0 {
		cfg.DrainBatch = DefaultDrainBatchSize
	}
	if cfg.LoopPace <= 0 {
		cfg.LoopPace = DefaultLoopPace
	}

	tpc, err := LoadOrSeedTPC(cfg.TPCLogPath, cfg.Topics, cfg.Logger)
	if err != nil {
		return nil, err
	}

	ingress, err := NewIngress(IngressConfig{
		BrokerID:     cfg.BrokerID,
		WALPath:      cfg.IngressWAL,
		MetadataPath: cfg.IngressMeta,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	b := &Broker{
		id:         cfg.BrokerID,
		log:        cfg.Logger,
		drainBatch: cfg.DrainBatch,
		pace:       cfg.LoopPace,
		ingress:    ingress,
		topics:     make(map[string]*Topic, len(tpc.TopicIDs())),
		tpc:        tpc,
	}

	for _, topicID := range tpc.TopicIDs() {
		topic, err := NewTopic(TopicConfig{
			TopicID:        topicID,
			PartitionCount: tpc.PartitionCount(topicID),
			DataRoot:       cfg.DataRoot,
			Logger:         cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		b.topics[topicID] = topic
	}

	return b, nil
}

// Ingress returns the broker's ingress buffer, the entry point HTTP
// producers push into.
func (b *Broker) Ingress() *Ingress { return b.ingress }

// Topic returns the named topic, or nil if unknown.
func (b *Broker) Topic(topicID string) *Topic { return b.topics[topicID] }

// TPC returns the broker's TPC map.
func (b *Broker) TPC() *TPC { return b.tpc }

// RegisterConsumer assigns consumerID a partition of topicID (spec §4.6).
func (b *Broker) RegisterConsumer(topicID, consumerID string) (uint32, error) {
	if _, ok := b.topics[topicID]; !ok {
		return 0, ErrTopicNotFound
	}
	return b.tpc.Register(topicID, consumerID)
}

// Run drains the ingress buffer in batches and routes each message to its
// topic, forever, until ctx is cancelled (spec §4.6 broker dispatch loop).
// Per-message errors (unknown topic, a partition push failure) are logged
// and skipped; the loop itself never aborts on them.
func (b *Broker) Run(ctx context.Context) {
	b.log.Log(logger.LogLevelInfo, "broker dispatch loop starting", "brokerId", b.id)
	for {
		select {
		case <-ctx.Done():
			b.log.Log(logger.LogLevelInfo, "broker dispatch loop stopping")
			return
		default:
		}

		msgs, err := b.ingress.BatchExtract(b.drainBatch)
		if err != nil {
			if sleepOrDone(ctx, b.pace) {
				return
			}
			continue
		}

		for _, msg := range msgs {
			topic, ok := b.topics[msg.TopicID]
			if !ok {
				b.log.Log(logger.LogLevelWarn, "dropping message for unknown topic", "topicId", msg.TopicID, "messageId", msg.MessageID)
				continue
			}
			if err := topic.Push(msg); err != nil {
				b.log.Log(logger.LogLevelError, "partition push failed", "topicId", msg.TopicID, "messageId", msg.MessageID, "err", err)
				continue
			}
		}

		if sleepOrDone(ctx, b.pace) {
			return
		}
	}
}

// sleepOrDone sleeps for d, returning true early if ctx is cancelled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}
