// Package bootstrap creates the on-disk layout spec §6 describes before the
// core materialises it in memory: directory tree, empty logs, and seeded
// metadata lines. It also performs the reboot wipe when configured.
package bootstrap

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/dcrodman/tpcbroker/internal/broker"
	"github.com/dcrodman/tpcbroker/internal/config"
	"github.com/dcrodman/tpcbroker/internal/logfile"
	"github.com/dcrodman/tpcbroker/internal/logger"
)

// Layout is the set of absolute paths the core reads and writes, derived
// from a BrokerConfig (spec §6 "On-disk layout").
type Layout struct {
	DataRoot       string
	IngressWAL     string
	IngressMeta    string
	ConfigLog      string
	TPCLog         string
	TopicsDir      string
}

// Prepare wipes DataRoot if cfg.Reboot is set, then creates every file and
// directory the core expects to find, writing config.log from cfg.Topics.
func Prepare(cfg config.BrokerConfig, log logger.Logger) (Layout, error) {
	if log == nil {
		log = logger.Nop()
	}

	if cfg.Reboot {
		log.Log(logger.LogLevelWarn, "reboot requested: wiping data root", "dataRoot", cfg.DataRoot)
		if err := os.RemoveAll(cfg.DataRoot); err != nil {
			return Layout{}, errors.Wrap(err, "wipe data root for reboot")
		}
	}

	layout := Layout{
		DataRoot:    cfg.DataRoot,
		IngressWAL:  filepath.Join(cfg.DataRoot, cfg.IngressLogFile),
		IngressMeta: filepath.Join(cfg.DataRoot, cfg.IngressMetadataFile),
		ConfigLog:   filepath.Join(cfg.DataRoot, "config.log"),
		TPCLog:      filepath.Join(cfg.DataRoot, "TPC.log"),
		TopicsDir:   filepath.Join(cfg.DataRoot, "topics"),
	}

	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		return Layout{}, errors.Wrap(err, "create data root")
	}
	if err := os.MkdirAll(layout.TopicsDir, 0o755); err != nil {
		return Layout{}, errors.Wrap(err, "create topics dir")
	}
	if err := logfile.EnsureFile(layout.IngressWAL); err != nil {
		return Layout{}, errors.Wrap(err, "create ingress wal")
	}
	if err := broker.EnsureIngressMetadata(layout.IngressMeta); err != nil {
		return Layout{}, errors.Wrap(err, "seed ingress metadata")
	}
	if err := writeTopicConfigLog(layout.ConfigLog, cfg.Topics); err != nil {
		return Layout{}, err
	}

	for _, t := range cfg.Topics {
		topicDir := filepath.Join(layout.TopicsDir, "topic_"+t.ID)
		if err := os.MkdirAll(topicDir, 0o755); err != nil {
			return Layout{}, errors.Wrapf(err, "create topic dir for %q", t.ID)
		}
		metaPath := filepath.Join(topicDir, t.ID+"_partition_metadata.log")
		if err := broker.EnsurePartitionMetadataFile(metaPath); err != nil {
			return Layout{}, err
		}
		for p := 0; p < t.Partitions; p++ {
			walPath := filepath.Join(topicDir, "partition_"+strconv.Itoa(p)+".log")
			if err := logfile.EnsureFile(walPath); err != nil {
				return Layout{}, errors.Wrapf(err, "create partition wal %d for topic %q", p, t.ID)
			}
		}
	}

	log.Log(logger.LogLevelInfo, "data layout prepared", "dataRoot", cfg.DataRoot, "topics", len(cfg.Topics))
	return layout, nil
}

// Specs converts the bootstrap-level topic config into broker.TopicSpec for
// the core.
func Specs(topics []config.TopicConfig) []broker.TopicSpec {
	specs := make([]broker.TopicSpec, len(topics))
	for i, t := range topics {
		specs[i] = broker.TopicSpec{TopicID: t.ID, PartitionCount: uint32(t.Partitions)}
	}
	return specs
}

// writeTopicConfigLog records the static topic configuration as
// "topic_config|topicId|partitionCount" lines (spec §6 config.log).
func writeTopicConfigLog(path string, topics []config.TopicConfig) error {
	var content string
	for _, t := range topics {
		content += "topic_config|" + t.ID + "|" + strconv.Itoa(t.Partitions) + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return errors.Wrap(err, "write config.log")
	}
	return nil
}
