package broker

import (
	"bufio"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/dcrodman/tpcbroker/internal/logger"
)

// TPC is the process-wide Topic -> Partition -> ConsumerID assignment map
// (spec §4.6). Registration is its only mutation (commits do not touch the
// map); it is serialised through mu and followed by a full rewrite of the
// TPC log under the same critical section (spec §9 "Process-wide TPC map").
type TPC struct {
	mu          sync.Mutex
	path        string
	assignments map[string]map[uint32]string // topicId -> partitionId -> consumerId ("" = unassigned)
	log         logger.Logger
}

// TopicSpec is a configured (topicId, partitionCount) pair, as produced by
// the bootstrap collaborator from static configuration.
type TopicSpec struct {
	TopicID        string
	PartitionCount uint32
}

// LoadOrSeedTPC loads path if it exists (the log is then the source of
// truth for any non-empty assignment it contains) or seeds a brand new map
// from configured with every consumerId empty, writing it out (spec §4.6
// TPC persistence).
func LoadOrSeedTPC(path string, configured []TopicSpec, log logger.Logger) (*TPC, error) {
	if log == nil {
		log = logger.Nop()
	}

	assignments := make(map[string]map[uint32]string, len(configured))
	for _, spec := range configured {
		parts := make(map[uint32]string, spec.PartitionCount)
		for i := uint32(0); i < spec.PartitionCount; i++ {
			parts[i] = ""
		}
		assignments[spec.TopicID] = parts
	}

	if _, err := os.Stat(path); err == nil {
		entries, err := readTPCLog(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			parts, ok := assignments[e.topicID]
			if !ok {
				continue // stale entry for a topic no longer configured
			}
			if _, ok := parts[e.partitionID]; !ok {
				continue
			}
			if e.consumerID != "" {
				parts[e.partitionID] = e.consumerID
			}
		}
		log.Log(logger.LogLevelInfo, "TPC map loaded from log", "path", path, "topics", len(assignments))
	} else if !os.IsNotExist(err) {
		return nil, newErr(KindBufferBuildFailed, err)
	}

	t := &TPC{path: path, assignments: assignments, log: log}
	if err := t.rewriteLocked(); err != nil {
		return nil, err
	}
	return t, nil
}

type tpcEntry struct {
	topicID     string
	partitionID uint32
	consumerID  string
}

func readTPCLog(path string) ([]tpcEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newErr(KindBufferBuildFailed, err)
	}
	defer f.Close()

	var entries []tpcEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) != 3 {
			return nil, newErr(KindMalformedMetadata, errors.Errorf("TPC log: expected 3 fields, got %d: %q", len(fields), line))
		}
		pid, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, newErr(KindMalformedMetadata, errors.Wrap(err, "TPC log: parse partitionId"))
		}
		entries = append(entries, tpcEntry{topicID: fields[0], partitionID: uint32(pid), consumerID: fields[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, newErr(KindBufferBuildFailed, err)
	}
	return entries, nil
}

// rewriteLocked writes the entire TPC log from t.assignments. Callers must
// hold t.mu.
func (t *TPC) rewriteLocked() error {
	topicIDs := make([]string, 0, len(t.assignments))
	for id := range t.assignments {
		topicIDs = append(topicIDs, id)
	}
	sort.Strings(topicIDs)

	var sb strings.Builder
	for _, topicID := range topicIDs {
		parts := t.assignments[topicID]
		ids := make([]uint32, 0, len(parts))
		for id := range parts {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, pid := range ids {
			sb.WriteString(topicID)
			sb.WriteByte('|')
			sb.WriteString(strconv.FormatUint(uint64(pid), 10))
			sb.WriteByte('|')
			sb.WriteString(parts[pid])
			sb.WriteByte('\n')
		}
	}
	if err := os.WriteFile(t.path, []byte(sb.String()), 0o644); err != nil {
		return newErr(KindAppendFailed, err)
	}
	return nil
}

// TopicIDs returns every topic id known to the TPC map, used by Broker to
// build one Topic per entry at startup.
func (t *TPC) TopicIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.assignments))
	for id := range t.assignments {
		ids = append(ids, id)
	}
	return ids
}

// PartitionCount returns the fixed partition count the TPC map has recorded
// for topicID, or 0 if topicID is unknown.
func (t *TPC) PartitionCount(topicID string) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return uint32(len(t.assignments[topicID]))
}

// Register implements spec §4.6 registerConsumer: idempotent re-registration
// for a consumerId already present on this topic, otherwise assignment of
// the lowest-numbered empty partition, otherwise NoPartitionAvailable.
func (t *TPC) Register(topicID, consumerID string) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parts, ok := t.assignments[topicID]
	if !ok {
		return 0, ErrTopicNotFound
	}

	ids := make([]uint32, 0, len(parts))
	for id := range parts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if parts[id] == consumerID {
			return id, nil
		}
	}

	for _, id := range ids {
		if parts[id] == "" {
			parts[id] = consumerID
			if err := t.rewriteLocked(); err != nil {
				return 0, err
			}
			return id, nil
		}
	}

	return 0, ErrNoPartitionAvail
}

// AssignedConsumer returns the consumerId assigned to (topicID, partitionID)
// and whether that pair exists at all.
func (t *TPC) AssignedConsumer(topicID string, partitionID uint32) (consumerID string, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	parts, ok := t.assignments[topicID]
	if !ok {
		return "", false
	}
	id, ok := parts[partitionID]
	return id, ok
}
