package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
	StorageDir string `toml:"storage_dir"`
	APIBind    string `toml:"api_bind"`
}

// Capture contains microphone capture settings.
type Capture struct {
	// Enabled gates recording entirely; marking and playback still work.
	Enabled         bool `toml:"enabled"`
	SampleRate      int  `toml:"sample_rate"`
	FramesPerBuffer int  `toml:"frames_per_buffer"`
	// Formats are tried in order; the first that passes both the record and
	// the playback probe wins for the whole session.
	Formats          []string `toml:"formats"`
	Compressor       bool     `toml:"compressor"`
	// CompressorBypass lists GOOS values on which the compressor stage is
	// skipped entirely because inserting it corrupts capture.
	CompressorBypass []string `toml:"compressor_bypass"`
	Device           string   `toml:"device"`
}

// Controller contains MIDI controller settings.
type Controller struct {
	Enabled        bool     `toml:"enabled"`
	DevicePatterns []string `toml:"device_patterns"`
	MarkNotes      []int    `toml:"mark_notes"`
	UndoNotes      []int    `toml:"undo_notes"`
	NudgeCC        int      `toml:"nudge_cc"`
	NudgeStepMs    int      `toml:"nudge_step_ms"`
	RescanSeconds  int      `toml:"rescan_seconds"`
}

// Upload contains client-side upload endpoint settings.
type Upload struct {
	// BaseURL is the recite server root. Empty disables network commits.
	BaseURL string `toml:"base_url"`
	// Direct enables the two-step direct upload path. When false (or when
	// either direct step fails) the multipart fallback is used.
	Direct         bool   `toml:"direct"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Drafts contains draft autosave tuning.
type Drafts struct {
	Scope      string `toml:"scope"`
	DebounceMs int    `toml:"debounce_ms"`
}

// Server contains settings for the timing-persistence server.
type Server struct {
	ProbeTimeoutSeconds int `toml:"probe_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for recite.
type Config struct {
	Paths      Paths      `toml:"paths"`
	Capture    Capture    `toml:"capture"`
	Controller Controller `toml:"controller"`
	Upload     Upload     `toml:"upload"`
	Drafts     Drafts     `toml:"drafts"`
	Server     Server     `toml:"server"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/recite/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the state, log, and storage directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.StorageDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// PendingDBPath returns the sqlite path backing the pending-recording queue.
func (c *Config) PendingDBPath() string {
	return filepath.Join(c.Paths.StateDir, "pending.db")
}

// PerspectiveDBPath returns the sqlite path backing server-side persistence.
func (c *Config) PerspectiveDBPath() string {
	return filepath.Join(c.Paths.StateDir, "perspectives.db")
}

// DraftPath returns the primary draft autosave file.
func (c *Config) DraftPath() string {
	return filepath.Join(c.Paths.StateDir, "drafts.json")
}

// DraftFallbackPath returns the secondary, smaller-capacity draft location
// used when the primary write fails.
func (c *Config) DraftFallbackPath() string {
	return filepath.Join(os.TempDir(), "recite-drafts.json")
}

// SessionLockPath returns the advisory lock held while capture is active.
func (c *Config) SessionLockPath() string {
	return filepath.Join(c.Paths.StateDir, "capture.lock")
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Paths.StorageDir, err = expandPath(c.Paths.StorageDir); err != nil {
		return err
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Upload.BaseURL = strings.TrimRight(strings.TrimSpace(c.Upload.BaseURL), "/")
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Abs(trimmed)
}
