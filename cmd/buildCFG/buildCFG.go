package buildCFG

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"

	"racesync/internal/adapter"
	"racesync/internal/broadcast"
	"racesync/internal/rabbit"
	"racesync/internal/storage"
)

type ServerConfig struct {
	Port string
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) ServerConfig {
	port := cfg.GetString("server.port")
	if port == "" {
		port = "8000"
		log.Warn().Msgf("server.port not set, using %s", port)
	}
	return ServerConfig{Port: port}
}

type StorageConfig struct {
	storage.Config
	// SharedDB is the file of the events and sessions store.
	SharedDB string
}

func BuildStorageConfig(cfg *config.Config, log *zerolog.Logger) (StorageConfig, error) {
	dataDir := cfg.GetString("storage.data_dir")
	if dataDir == "" {
		return StorageConfig{}, fmt.Errorf("storage.data_dir is required")
	}
	shared := cfg.GetString("storage.shared_db")
	if shared == "" {
		shared = "qxdb.sqlite"
	}
	if !filepath.IsAbs(shared) {
		shared = filepath.Join(dataDir, shared)
	}
	maxConns := cfg.GetInt("storage.max_open_conns")
	if maxConns <= 0 {
		maxConns = storage.DefaultMaxOpenConns
	}
	log.Info().Str("data_dir", dataDir).Str("shared_db", shared).Int("max_open_conns", maxConns).Msg("storage config loaded")
	return StorageConfig{
		Config:   storage.Config{DataDir: dataDir, MaxOpenConns: maxConns},
		SharedDB: shared,
	}, nil
}

type ChecklistConfig struct {
	CheckLead time.Duration
}

func BuildChecklistConfig(cfg *config.Config, log *zerolog.Logger) ChecklistConfig {
	lead := cfg.GetDuration("checklist.check_lead")
	if lead <= 0 {
		lead = adapter.DefaultCheckLead
	}
	log.Info().Dur("check_lead", lead).Msg("checklist config loaded")
	return ChecklistConfig{CheckLead: lead}
}

type HubConfig struct {
	Buffer int
}

func BuildHubConfig(cfg *config.Config) HubConfig {
	buffer := cfg.GetInt("hub.buffer")
	if buffer <= 0 {
		buffer = broadcast.DefaultBuffer
	}
	return HubConfig{Buffer: buffer}
}

type RabbitConfig struct {
	Enabled bool
	rabbit.Config
}

func BuildRabbitConfig(cfg *config.Config, log *zerolog.Logger) (RabbitConfig, error) {
	rc := RabbitConfig{
		Enabled: cfg.GetBool("rabbit.enabled"),
		Config: rabbit.Config{
			URL:          cfg.GetString("rabbit.url"),
			Exchange:     cfg.GetString("rabbit.exchange"),
			Queue:        cfg.GetString("rabbit.queue"),
			InboundQueue: cfg.GetString("rabbit.inbound_queue"),
		},
	}
	if !rc.Enabled {
		log.Info().Msg("RabbitMQ disabled")
		return rc, nil
	}
	if rc.URL == "" {
		return rc, fmt.Errorf("rabbit.url is required when rabbit.enabled is set")
	}
	if rc.Exchange == "" {
		rc.Exchange = "racesync.changes"
	}
	return rc, nil
}
