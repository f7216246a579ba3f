package response

import (
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/apiwarden/apiwarden/pkg/threat"
)

// Config tunes the per-level action table. Throttle factors are the
// fraction of the actor's traffic to shed, in (0, 1].
type Config struct {
	HeavyThrottleFactor float64 `mapstructure:"heavy_throttle_factor"`
	LightThrottleFactor float64 `mapstructure:"light_throttle_factor"`
	BlockDurationSecs   int     `mapstructure:"block_duration_seconds"`
	NotifyChannel       string  `mapstructure:"notify_channel"`

	// Overrides replaces the whole action list for a level, keyed by the
	// level name.
	Overrides map[string][]threat.Action `mapstructure:"overrides"`
}

func DefaultConfig() Config {
	return Config{
		HeavyThrottleFactor: 0.9,
		LightThrottleFactor: 0.5,
		BlockDurationSecs:   3600,
		NotifyChannel:       "security",
	}
}

func (c Config) validate() error {
	if c.HeavyThrottleFactor <= 0 || c.HeavyThrottleFactor > 1 {
		return fmt.Errorf("heavy_throttle_factor must be in (0, 1], got %f", c.HeavyThrottleFactor)
	}
	if c.LightThrottleFactor <= 0 || c.LightThrottleFactor > 1 {
		return fmt.Errorf("light_throttle_factor must be in (0, 1], got %f", c.LightThrottleFactor)
	}
	if c.BlockDurationSecs <= 0 {
		return fmt.Errorf("block_duration_seconds must be positive, got %d", c.BlockDurationSecs)
	}
	return nil
}

// Engine maps a combined score to defensive actions. Respond is pure:
// identical inputs always yield identical actions, and the engine never
// enforces anything itself.
type Engine struct {
	logger *logrus.Logger

	mu     sync.RWMutex
	config Config
}

func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{
		logger: logger,
		config: DefaultConfig(),
	}
}

func (e *Engine) Respond(req threat.RequestContext, score threat.Score) []threat.Action {
	e.mu.RLock()
	cfg := e.config
	e.mu.RUnlock()

	if override, ok := cfg.Overrides[score.Level.String()]; ok {
		actions := make([]threat.Action, len(override))
		copy(actions, override)
		return actions
	}

	switch score.Level {
	case threat.LevelCritical:
		return []threat.Action{
			{Type: threat.ActionBlock, BlockDuration: time.Duration(cfg.BlockDurationSecs) * time.Second},
			{Type: threat.ActionNotify, NotifyChannel: cfg.NotifyChannel},
		}
	case threat.LevelHigh:
		return []threat.Action{
			{Type: threat.ActionThrottle, ThrottleFactor: cfg.HeavyThrottleFactor},
			{Type: threat.ActionNotify, NotifyChannel: cfg.NotifyChannel},
		}
	case threat.LevelMedium:
		return []threat.Action{
			{Type: threat.ActionThrottle, ThrottleFactor: cfg.LightThrottleFactor},
		}
	case threat.LevelLow:
		return []threat.Action{
			{Type: threat.ActionLogOnly},
		}
	default:
		return nil
	}
}

// UpdateConfig decodes and validates new settings; an invalid update keeps
// the prior table.
func (e *Engine) UpdateConfig(settings map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := e.config
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return fmt.Errorf("failed to decode response config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	e.config = cfg
	e.logger.WithFields(logrus.Fields{
		"heavy_throttle": cfg.HeavyThrottleFactor,
		"light_throttle": cfg.LightThrottleFactor,
		"block_duration": cfg.BlockDurationSecs,
	}).Info("response engine config updated")
	return nil
}
