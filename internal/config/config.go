package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// DrillTuning holds the pass/fail bands of the drill evaluator, in centipawns.
type DrillTuning struct {
	MinDepth      int
	HungMateBand  int
	LostPieceBand int
	WinBand       int
	DrawBand      int
	MaxMoves      int
}

type AppConfig struct {
	StockfishPath string
	EngineThreads int
	EngineHashMB  int
	ReadyTimeout  time.Duration

	AnalysisDepth int
	AnalysisLines int

	BotDepth            int
	BotLines            int
	BotEqualityWindowCP int

	BookPath string

	RedisURL string
	CacheTTL time.Duration

	FeedAddr   string
	TuningFile string

	Drill DrillTuning
}

// tuningFile mirrors the optional YAML file named by TUNING_FILE. Pointer
// fields tell an explicit zero apart from an absent key.
type tuningFile struct {
	AnalysisDepth       *int            `yaml:"analysis_depth"`
	AnalysisLines       *int            `yaml:"analysis_lines"`
	BotDepth            *int            `yaml:"bot_depth"`
	BotLines            *int            `yaml:"bot_lines"`
	BotEqualityWindowCP *int            `yaml:"bot_equality_window_cp"`
	ReadyTimeoutMillis  *int            `yaml:"ready_timeout_ms"`
	Drill               drillTuningFile `yaml:"drill"`
}

type drillTuningFile struct {
	MinDepth      *int `yaml:"min_depth"`
	HungMateBand  *int `yaml:"hung_mate_band"`
	LostPieceBand *int `yaml:"lost_piece_band"`
	WinBand       *int `yaml:"win_band"`
	DrawBand      *int `yaml:"draw_band"`
	MaxMoves      *int `yaml:"max_moves"`
}

func Defaults() *AppConfig {
	return &AppConfig{
		EngineThreads:       1,
		EngineHashMB:        32,
		ReadyTimeout:        4 * time.Second,
		AnalysisDepth:       18,
		AnalysisLines:       3,
		BotDepth:            12,
		BotLines:            4,
		BotEqualityWindowCP: 20,
		CacheTTL:            24 * time.Hour,
		FeedAddr:            ":8088",
		Drill: DrillTuning{
			MinDepth:      10,
			HungMateBand:  900,
			LostPieceBand: 250,
			WinBand:       100,
			DrawBand:      50,
			MaxMoves:      10,
		},
	}
}

// Load builds the configuration from defaults, then the optional tuning file, then env.
func Load() (*AppConfig, error) {
	cfg := Defaults()

	cfg.TuningFile = strings.TrimSpace(os.Getenv("TUNING_FILE"))
	if cfg.TuningFile != "" {
		if err := cfg.applyTuningFile(cfg.TuningFile); err != nil {
			return nil, err
		}
	}

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	cfg.BookPath = strings.TrimSpace(os.Getenv("POLYGLOT_BOOK_PATH"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if v := strings.TrimSpace(os.Getenv("FEED_ADDR")); v != "" {
		cfg.FeedAddr = v
	}

	positiveInt("ENGINE_THREADS", &cfg.EngineThreads)
	positiveInt("ENGINE_HASH_MB", &cfg.EngineHashMB)
	positiveInt("ANALYSIS_DEPTH", &cfg.AnalysisDepth)
	positiveInt("ANALYSIS_LINES", &cfg.AnalysisLines)
	positiveInt("BOT_DEPTH", &cfg.BotDepth)
	positiveInt("BOT_LINES", &cfg.BotLines)
	nonNegativeInt("BOT_EQUALITY_WINDOW_CP", &cfg.BotEqualityWindowCP)

	if v := strings.TrimSpace(os.Getenv("ENGINE_READY_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReadyTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("CACHE_TTL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheTTL = time.Duration(n) * time.Second
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyTuningFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tuning file: %w", err)
	}
	var t tuningFile
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	overrideInt(&c.AnalysisDepth, t.AnalysisDepth)
	overrideInt(&c.AnalysisLines, t.AnalysisLines)
	overrideInt(&c.BotDepth, t.BotDepth)
	overrideInt(&c.BotLines, t.BotLines)
	overrideInt(&c.BotEqualityWindowCP, t.BotEqualityWindowCP)
	if t.ReadyTimeoutMillis != nil {
		c.ReadyTimeout = time.Duration(*t.ReadyTimeoutMillis) * time.Millisecond
	}
	overrideInt(&c.Drill.MinDepth, t.Drill.MinDepth)
	overrideInt(&c.Drill.HungMateBand, t.Drill.HungMateBand)
	overrideInt(&c.Drill.LostPieceBand, t.Drill.LostPieceBand)
	overrideInt(&c.Drill.WinBand, t.Drill.WinBand)
	overrideInt(&c.Drill.DrawBand, t.Drill.DrawBand)
	overrideInt(&c.Drill.MaxMoves, t.Drill.MaxMoves)
	return nil
}

func (c *AppConfig) Validate() error {
	switch {
	case c.AnalysisDepth <= 0:
		return fmt.Errorf("analysis depth must be > 0: %d", c.AnalysisDepth)
	case c.AnalysisLines <= 0 || c.AnalysisLines > 500:
		return fmt.Errorf("analysis lines %d out of range 1-500", c.AnalysisLines)
	case c.BotDepth <= 0:
		return fmt.Errorf("bot depth must be > 0: %d", c.BotDepth)
	case c.BotLines <= 0:
		return fmt.Errorf("bot lines must be > 0: %d", c.BotLines)
	case c.BotEqualityWindowCP < 0:
		return fmt.Errorf("bot equality window must be >= 0: %d", c.BotEqualityWindowCP)
	case c.ReadyTimeout <= 0:
		return errors.New("ready timeout must be > 0")
	}
	d := c.Drill
	if d.LostPieceBand <= 0 || d.HungMateBand <= 0 {
		return fmt.Errorf("drill loss bands must be > 0: lost_piece=%d hung_mate=%d", d.LostPieceBand, d.HungMateBand)
	}
	if d.HungMateBand < d.LostPieceBand {
		return fmt.Errorf("hung mate band (%d) must not be below lost piece band (%d)", d.HungMateBand, d.LostPieceBand)
	}
	if d.DrawBand < 0 || d.WinBand < d.DrawBand {
		return fmt.Errorf("drill outcome bands invalid: win=%d draw=%d", d.WinBand, d.DrawBand)
	}
	if d.MaxMoves <= 0 {
		return fmt.Errorf("drill max moves must be > 0: %d", d.MaxMoves)
	}
	return nil
}

func positiveInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func nonNegativeInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = n
		}
	}
}

// overrideInt applies a value present in the tuning file. Range checks are
// left to Validate.
func overrideInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
