// Package config parses the static configuration inputs the bootstrap
// collaborator consumes before handing a BrokerConfig to the core (spec §6).
package config

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// TopicConfig is one entry of the statically configured topic set.
type TopicConfig struct {
	ID         string `json:"id"`
	Partitions int    `json:"partitions"`
}

// BrokerConfig is the configuration handed to the core (spec §6).
type BrokerConfig struct {
	BrokerID string
	Reboot   bool
	Topics   []TopicConfig

	Port                string
	DataRoot            string
	IngressLogFile      string
	IngressMetadataFile string
	TopicsConfigFile    string
}

const (
	defaultPort                = "8080"
	defaultDataRoot            = "./data"
	defaultIngressLogFile      = "ingress.log"
	defaultIngressMetadataFile = "ingress_metadata.log"
	defaultTopicsConfigFile    = "topics.json"
)

// FromEnv reads PORT, BROKER_ID, DATA_STORAGE_VOLUME, INGRESS_LOG_FILE,
// INGRESS_METADATA_FILE, REBOOT and TOPICS_CONFIG_FILE (spec §6), then loads
// the topic list from TOPICS_CONFIG_FILE, a flat JSON array of
// {id, partitions} objects. Every env var has a workable default so the
// broker can start with zero configuration for local use.
func FromEnv() (BrokerConfig, error) {
	cfg := BrokerConfig{
		BrokerID:            getenv("BROKER_ID", "broker-1"),
		Port:                getenv("PORT", defaultPort),
		DataRoot:            getenv("DATA_STORAGE_VOLUME", defaultDataRoot),
		IngressLogFile:      getenv("INGRESS_LOG_FILE", defaultIngressLogFile),
		IngressMetadataFile: getenv("INGRESS_METADATA_FILE", defaultIngressMetadataFile),
		TopicsConfigFile:    getenv("TOPICS_CONFIG_FILE", defaultTopicsConfigFile),
	}

	if v := os.Getenv("REBOOT"); v != "" {
		reboot, err := strconv.ParseBool(v)
		if err != nil {
			return BrokerConfig{}, errors.Wrap(err, "parse REBOOT")
		}
		cfg.Reboot = reboot
	}

	topics, err := loadTopics(cfg.TopicsConfigFile)
	if err != nil {
		return BrokerConfig{}, err
	}
	cfg.Topics = topics

	return cfg, nil
}

func loadTopics(path string) ([]TopicConfig, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// No static topic file: fall back to a single default topic so the
		// broker is usable out of the box.
		return []TopicConfig{{ID: "default", Partitions: 1}}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read topics config")
	}
	var topics []TopicConfig
	if err := json.Unmarshal(b, &topics); err != nil {
		return nil, errors.Wrap(err, "parse topics config")
	}
	for _, t := range topics {
		if t.Partitions < 1 {
			return nil, errors.Errorf("topic %q: partitions must be >= 1, got %d", t.ID, t.Partitions)
		}
	}
	return topics, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
