package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"credence/pkg/amount"
	pstrings "credence/pkg/platform/strings"
)

// Tier thresholds default to the protocol parameters (6-decimal token units).
const (
	defaultBronzeThreshold   = "100000000"
	defaultSilverThreshold   = "1000000000"
	defaultGoldThreshold     = "10000000000"
	defaultPlatinumThreshold = "100000000000"
)

const maxBps = 10_000

// Thresholds holds the governance-configured tier boundaries. They must be
// non-decreasing: bronze <= silver <= gold <= platinum.
type Thresholds struct {
	Bronze   amount.Amount
	Silver   amount.Amount
	Gold     amount.Amount
	Platinum amount.Amount
}

// Validate enforces the non-decreasing ordering.
func (t Thresholds) Validate() error {
	if t.Bronze.Cmp(t.Silver) > 0 || t.Silver.Cmp(t.Gold) > 0 || t.Gold.Cmp(t.Platinum) > 0 {
		return fmt.Errorf("tier thresholds must be non-decreasing")
	}
	return nil
}

// Config captures everything the ledger needs at startup. It replaces the
// global admin/governance addresses of earlier designs with an explicit
// struct constructed once and passed by value.
type Config struct {
	Addr       string
	AdminToken string

	// Principal addresses.
	Admin      string
	Governance string
	Treasury   string

	// Withdrawal economics.
	EarlyExitPenaltyBps uint32
	EmergencyFeeBps     uint32
	EmergencyEnabled    bool

	// Tier thresholds.
	Tiers Thresholds

	// Governance quorum.
	Governors    []string
	QuorumBps    uint32
	MinGovernors uint32
	VotingPeriod time.Duration

	// Infrastructure (empty value = in-memory fallback).
	PostgresDSN  string
	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:                envOr("CREDENCE_ADDR", ":8080"),
		AdminToken:          os.Getenv("CREDENCE_ADMIN_TOKEN"),
		Admin:               os.Getenv("CREDENCE_ADMIN_ADDRESS"),
		Governance:          os.Getenv("CREDENCE_GOVERNANCE_ADDRESS"),
		Treasury:            os.Getenv("CREDENCE_TREASURY_ADDRESS"),
		EarlyExitPenaltyBps: envBps("CREDENCE_EARLY_EXIT_PENALTY_BPS", 0),
		EmergencyFeeBps:     envBps("CREDENCE_EMERGENCY_FEE_BPS", 0),
		EmergencyEnabled:    os.Getenv("CREDENCE_EMERGENCY_ENABLED") == "true",
		Tiers: Thresholds{
			Bronze:   envAmount("CREDENCE_TIER_BRONZE", defaultBronzeThreshold),
			Silver:   envAmount("CREDENCE_TIER_SILVER", defaultSilverThreshold),
			Gold:     envAmount("CREDENCE_TIER_GOLD", defaultGoldThreshold),
			Platinum: envAmount("CREDENCE_TIER_PLATINUM", defaultPlatinumThreshold),
		},
		QuorumBps:    envBps("CREDENCE_QUORUM_BPS", 5000),
		MinGovernors: uint32(envInt("CREDENCE_MIN_GOVERNORS", 1)),
		VotingPeriod: envDuration("CREDENCE_VOTING_PERIOD", 72*time.Hour),
		PostgresDSN:  os.Getenv("CREDENCE_POSTGRES_DSN"),
		RedisURL:     os.Getenv("CREDENCE_REDIS_URL"),
		KafkaTopic:   envOr("CREDENCE_KAFKA_TOPIC", "credence.ledger.events"),
	}
	if governors := os.Getenv("CREDENCE_GOVERNORS"); governors != "" {
		cfg.Governors = pstrings.DedupeAndTrim(strings.Split(governors, ","))
	}
	if brokers := os.Getenv("CREDENCE_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = pstrings.DedupeAndTrim(strings.Split(brokers, ","))
	}
	return cfg
}

// Validate checks the bounds the core trusts: bps rates within 10000, quorum
// sanity, and tier ordering. Called once at startup; services assume a
// validated Config.
func (c Config) Validate() error {
	if c.EarlyExitPenaltyBps > maxBps {
		return fmt.Errorf("early exit penalty bps %d exceeds %d", c.EarlyExitPenaltyBps, maxBps)
	}
	if c.EmergencyFeeBps > maxBps {
		return fmt.Errorf("emergency fee bps %d exceeds %d", c.EmergencyFeeBps, maxBps)
	}
	if c.QuorumBps == 0 || c.QuorumBps > maxBps {
		return fmt.Errorf("quorum bps must be in (0, %d]", maxBps)
	}
	return c.Tiers.Validate()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBps(key string, fallback uint32) uint32 {
	n := envInt(key, int(fallback))
	if n < 0 {
		return fallback
	}
	return uint32(n)
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envAmount(key, fallback string) amount.Amount {
	if v := os.Getenv(key); v != "" {
		if a, err := amount.Parse(v); err == nil {
			return a
		}
	}
	a, _ := amount.Parse(fallback)
	return a
}
