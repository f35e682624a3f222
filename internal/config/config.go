package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DaemonConfig struct {
	Addr            string
	AdminToken      string
	DataFile        string
	DatabaseURL     string
	DiscordToken    string
	BackupChannelID string
	AnnounceChannel string
	OwnerID         string
	CoOwnerIDs      []string

	PriceUpdateEvery     time.Duration
	ConversionCheckEvery time.Duration
	CountdownEvery       time.Duration
	ConversionInterval   time.Duration
	RemoteSaveTimeout    time.Duration
}

type CLIConfig struct {
	APIBaseURL string
	AdminToken string
}

func LoadDaemonFromEnv() (DaemonConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("CAMPTON_API_ADDR", ":8080")
	}

	cfg := DaemonConfig{
		Addr:                 addr,
		AdminToken:           strings.TrimSpace(os.Getenv("CAMPTON_ADMIN_TOKEN")),
		DataFile:             envDefault("CAMPTON_DATA_FILE", "campton_market.json"),
		DatabaseURL:          strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DiscordToken:         strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")),
		BackupChannelID:      strings.TrimSpace(os.Getenv("CAMPTON_BACKUP_CHANNEL_ID")),
		AnnounceChannel:      strings.TrimSpace(os.Getenv("CAMPTON_ANNOUNCE_CHANNEL_ID")),
		OwnerID:              strings.TrimSpace(os.Getenv("CAMPTON_OWNER_ID")),
		CoOwnerIDs:           envIDList("CAMPTON_CO_OWNER_IDS"),
		PriceUpdateEvery:     envDurationDefault("CAMPTON_PRICE_UPDATE_EVERY", 72*time.Hour),
		ConversionCheckEvery: envDurationDefault("CAMPTON_CONVERSION_CHECK_EVERY", 168*time.Hour),
		CountdownEvery:       envDurationDefault("CAMPTON_COUNTDOWN_EVERY", 36*time.Hour),
		ConversionInterval:   envDurationDefault("CAMPTON_CONVERSION_INTERVAL", 7*24*time.Hour),
		RemoteSaveTimeout:    envDurationDefault("CAMPTON_REMOTE_SAVE_TIMEOUT", 15*time.Second),
	}
	if cfg.DataFile == "" {
		return cfg, fmt.Errorf("CAMPTON_DATA_FILE is required")
	}
	if cfg.DiscordToken != "" && cfg.BackupChannelID == "" {
		return cfg, fmt.Errorf("CAMPTON_BACKUP_CHANNEL_ID is required when DISCORD_BOT_TOKEN is set")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("CAMPTON_API_BASE_URL", "http://localhost:8080"), "/"),
		AdminToken: strings.TrimSpace(os.Getenv("CAMPTON_ADMIN_TOKEN")),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIDList(key string) []string {
	raw := strings.Split(os.Getenv(key), ",")
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, err := strconv.ParseUint(v, 10, 64); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
