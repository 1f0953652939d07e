package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type ProviderConfig struct {
	BaseURL    string   `json:"base_url"`
	Model      string   `json:"model"`
	Models     []string `json:"models"`
	APIKey     string   `json:"api_key"`
	TimeoutMS  int      `json:"timeout_ms"`
	MaxRetries int      `json:"max_retries"`
}

// AnkiConfig 指向本地 AnkiConnect
// AnkiConfig points at the local AnkiConnect endpoint.
type AnkiConfig struct {
	URL       string `json:"url"`
	TimeoutMS int    `json:"timeout_ms"`
}

type RuntimeConfig struct {
	MaxRounds             int  `json:"max_rounds"`
	ContextTokenLimit     int  `json:"context_token_limit"`
	RequireDuplicateCheck bool `json:"require_duplicate_check"`
}

type CompactionConfig struct {
	Auto           bool    `json:"auto"`
	Prune          bool    `json:"prune"`
	Threshold      float64 `json:"threshold"`
	RecentMessages int     `json:"recent_messages"`
	// Estimator is "heuristic" or "tiktoken".
	Estimator string `json:"estimator"`
}

// DelegateConfig controls the parallel sub-agent tools.
type DelegateConfig struct {
	Model       string `json:"model"`
	MaxWorkers  int    `json:"max_workers"`
	RateLimitMS int    `json:"rate_limit_ms"`
}

type StorageConfig struct {
	BaseDir    string `json:"base_dir"`
	Backend    string `json:"backend"`
	ChatLogMax int    `json:"chat_log_max"`
}

type LogConfig struct {
	Level string `json:"level"`
}

type Config struct {
	Provider   ProviderConfig   `json:"provider"`
	Anki       AnkiConfig       `json:"anki"`
	Runtime    RuntimeConfig    `json:"runtime"`
	Compaction CompactionConfig `json:"compaction"`
	Delegate   DelegateConfig   `json:"delegate"`
	Storage    StorageConfig    `json:"storage"`
	Log        LogConfig        `json:"log"`
	// Instructions is an optional rules file appended to the system prompt.
	Instructions string            `json:"instructions"`
	ToolNotes    map[string]string `json:"tool_notes"`
}

type fileRuntimeConfig struct {
	MaxRounds             *int  `json:"max_rounds"`
	ContextTokenLimit     *int  `json:"context_token_limit"`
	RequireDuplicateCheck *bool `json:"require_duplicate_check"`
}

type fileCompactionConfig struct {
	Auto           *bool    `json:"auto"`
	Prune          *bool    `json:"prune"`
	Threshold      *float64 `json:"threshold"`
	RecentMessages *int     `json:"recent_messages"`
	Estimator      *string  `json:"estimator"`
}

type fileConfig struct {
	Provider     *ProviderConfig       `json:"provider"`
	Anki         *AnkiConfig           `json:"anki"`
	Runtime      *fileRuntimeConfig    `json:"runtime"`
	Compaction   *fileCompactionConfig `json:"compaction"`
	Delegate     *DelegateConfig       `json:"delegate"`
	Storage      *StorageConfig        `json:"storage"`
	Log          *LogConfig            `json:"log"`
	Instructions *string               `json:"instructions"`
	ToolNotes    map[string]string     `json:"tool_notes"`
}

func Default() Config {
	return Config{
		Provider: ProviderConfig{
			BaseURL:    DefaultProviderBaseURL,
			Model:      DefaultProviderModel,
			Models:     append([]string(nil), DefaultProviderModels...),
			TimeoutMS:  120000,
			MaxRetries: DefaultProviderMaxRetries,
		},
		Anki: AnkiConfig{
			URL:       DefaultAnkiURL,
			TimeoutMS: DefaultAnkiTimeoutMS,
		},
		Runtime: RuntimeConfig{
			MaxRounds:             DefaultRuntimeMaxRounds,
			ContextTokenLimit:     DefaultRuntimeContextTokenLimit,
			RequireDuplicateCheck: true,
		},
		Compaction: CompactionConfig{
			Auto:           true,
			Prune:          true,
			Threshold:      DefaultCompactionThreshold,
			RecentMessages: DefaultCompactionRecentMessages,
			Estimator:      "heuristic",
		},
		Delegate: DelegateConfig{
			MaxWorkers:  DefaultDelegateMaxWorkers,
			RateLimitMS: DefaultDelegateRateLimitMS,
		},
		Storage: StorageConfig{
			BaseDir:    "~/.ankicli",
			Backend:    "json",
			ChatLogMax: DefaultStorageChatLogMax,
		},
		Log:       LogConfig{Level: "info"},
		ToolNotes: map[string]string{},
	}
}

// Load 按层合并配置：默认值 → 全局 → 项目/显式路径 → 环境变量
// Load merges defaults, the global file, the project (or explicit) file and
// the environment, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("ANKICLI_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return applyEnv(cfg)
}

// FilePath is the user config file that runtime changes (model switch,
// tool notes) are written back to.
func (c Config) FilePath() string {
	return filepath.Join(c.Storage.BaseDir, "config.json")
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".ankicli", "config.json")}
}

func findProjectConfigPath() string {
	candidates := []string{
		"ankicli.config.json",
		".ankicli/config.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	cleaned := stripJSONComments(data)
	if len(bytes.TrimSpace(cleaned)) == 0 {
		return nil
	}
	var fileCfg fileConfig
	if err := json.Unmarshal(cleaned, &fileCfg); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Provider != nil {
		cfg.Provider = mergeProvider(cfg.Provider, *fc.Provider)
	}
	if fc.Anki != nil {
		if v := strings.TrimSpace(fc.Anki.URL); v != "" {
			cfg.Anki.URL = v
		}
		if fc.Anki.TimeoutMS > 0 {
			cfg.Anki.TimeoutMS = fc.Anki.TimeoutMS
		}
	}
	if fc.Runtime != nil {
		if fc.Runtime.MaxRounds != nil {
			cfg.Runtime.MaxRounds = *fc.Runtime.MaxRounds
		}
		if fc.Runtime.ContextTokenLimit != nil {
			cfg.Runtime.ContextTokenLimit = *fc.Runtime.ContextTokenLimit
		}
		if fc.Runtime.RequireDuplicateCheck != nil {
			cfg.Runtime.RequireDuplicateCheck = *fc.Runtime.RequireDuplicateCheck
		}
	}
	if fc.Compaction != nil {
		if fc.Compaction.Auto != nil {
			cfg.Compaction.Auto = *fc.Compaction.Auto
		}
		if fc.Compaction.Prune != nil {
			cfg.Compaction.Prune = *fc.Compaction.Prune
		}
		if fc.Compaction.Threshold != nil {
			cfg.Compaction.Threshold = *fc.Compaction.Threshold
		}
		if fc.Compaction.RecentMessages != nil {
			cfg.Compaction.RecentMessages = *fc.Compaction.RecentMessages
		}
		if fc.Compaction.Estimator != nil {
			cfg.Compaction.Estimator = *fc.Compaction.Estimator
		}
	}
	if fc.Delegate != nil {
		if v := strings.TrimSpace(fc.Delegate.Model); v != "" {
			cfg.Delegate.Model = v
		}
		if fc.Delegate.MaxWorkers > 0 {
			cfg.Delegate.MaxWorkers = fc.Delegate.MaxWorkers
		}
		if fc.Delegate.RateLimitMS > 0 {
			cfg.Delegate.RateLimitMS = fc.Delegate.RateLimitMS
		}
	}
	if fc.Storage != nil {
		cfg.Storage = mergeStorage(cfg.Storage, *fc.Storage)
	}
	if fc.Log != nil && strings.TrimSpace(fc.Log.Level) != "" {
		cfg.Log.Level = fc.Log.Level
	}
	if fc.Instructions != nil {
		cfg.Instructions = *fc.Instructions
	}
	// Later files replace tool notes wholesale so removals persist.
	if fc.ToolNotes != nil {
		cfg.ToolNotes = make(map[string]string, len(fc.ToolNotes))
		for k, v := range fc.ToolNotes {
			cfg.ToolNotes[k] = v
		}
	}
}

func mergeProvider(base ProviderConfig, override ProviderConfig) ProviderConfig {
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.Model) != "" {
		base.Model = override.Model
	}
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if len(override.Models) > 0 {
		base.Models = append([]string(nil), override.Models...)
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	if override.MaxRetries > 0 {
		base.MaxRetries = override.MaxRetries
	}
	return base
}

func mergeStorage(base StorageConfig, override StorageConfig) StorageConfig {
	if strings.TrimSpace(override.BaseDir) != "" {
		base.BaseDir = override.BaseDir
	}
	if strings.TrimSpace(override.Backend) != "" {
		base.Backend = override.Backend
	}
	if override.ChatLogMax > 0 {
		base.ChatLogMax = override.ChatLogMax
	}
	return base
}

func normalize(cfg *Config) error {
	def := Default()
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = def.Provider.BaseURL
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = def.Provider.Model
	}
	if cfg.Provider.TimeoutMS <= 0 {
		cfg.Provider.TimeoutMS = def.Provider.TimeoutMS
	}
	if cfg.Provider.MaxRetries <= 0 {
		cfg.Provider.MaxRetries = def.Provider.MaxRetries
	}
	cfg.Provider.Models = normalizeModelList(cfg.Provider.Models)
	if !containsString(cfg.Provider.Models, cfg.Provider.Model) {
		cfg.Provider.Models = normalizeModelList(append([]string{cfg.Provider.Model}, cfg.Provider.Models...))
	}

	if strings.TrimSpace(cfg.Anki.URL) == "" {
		cfg.Anki.URL = def.Anki.URL
	}
	if cfg.Anki.TimeoutMS <= 0 {
		cfg.Anki.TimeoutMS = def.Anki.TimeoutMS
	}

	if cfg.Runtime.MaxRounds <= 0 {
		cfg.Runtime.MaxRounds = def.Runtime.MaxRounds
	}
	if cfg.Runtime.ContextTokenLimit <= 0 {
		cfg.Runtime.ContextTokenLimit = def.Runtime.ContextTokenLimit
	}

	if cfg.Compaction.Threshold <= 0 || cfg.Compaction.Threshold >= 1 {
		cfg.Compaction.Threshold = def.Compaction.Threshold
	}
	if cfg.Compaction.RecentMessages <= 0 {
		cfg.Compaction.RecentMessages = def.Compaction.RecentMessages
	}
	switch est := strings.ToLower(strings.TrimSpace(cfg.Compaction.Estimator)); est {
	case "heuristic", "tiktoken":
		cfg.Compaction.Estimator = est
	case "":
		cfg.Compaction.Estimator = def.Compaction.Estimator
	default:
		return fmt.Errorf("compaction.estimator: unknown estimator %q", cfg.Compaction.Estimator)
	}

	if cfg.Delegate.Model == "" {
		cfg.Delegate.Model = cfg.Provider.Model
	}
	if cfg.Delegate.MaxWorkers <= 0 {
		cfg.Delegate.MaxWorkers = def.Delegate.MaxWorkers
	}
	if cfg.Delegate.MaxWorkers > MaxDelegateWorkers {
		cfg.Delegate.MaxWorkers = MaxDelegateWorkers
	}
	if cfg.Delegate.RateLimitMS < 0 {
		cfg.Delegate.RateLimitMS = def.Delegate.RateLimitMS
	}

	if strings.TrimSpace(cfg.Storage.BaseDir) == "" {
		cfg.Storage.BaseDir = def.Storage.BaseDir
	}
	storageDir, err := expandPath(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}
	cfg.Storage.BaseDir = storageDir
	switch backend := strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)); backend {
	case "json", "sqlite":
		cfg.Storage.Backend = backend
	case "":
		cfg.Storage.Backend = def.Storage.Backend
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", cfg.Storage.Backend)
	}
	if cfg.Storage.ChatLogMax <= 0 {
		cfg.Storage.ChatLogMax = def.Storage.ChatLogMax
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Instructions) != "" {
		expanded, err := expandPath(cfg.Instructions)
		if err != nil {
			return err
		}
		cfg.Instructions = expanded
	}
	if cfg.ToolNotes == nil {
		cfg.ToolNotes = map[string]string{}
	}
	return nil
}

func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("ANKICLI_BASE_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ANKICLI_MODEL")); v != "" {
		cfg.Provider.Model = v
	}
	for _, key := range []string{"ANKICLI_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			cfg.Provider.APIKey = v
			break
		}
	}
	if v := strings.TrimSpace(os.Getenv("ANKICLI_ANKI_URL")); v != "" {
		cfg.Anki.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("ANKICLI_MAX_ROUNDS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid ANKICLI_MAX_ROUNDS: %q", v)
		}
		cfg.Runtime.MaxRounds = n
	}
	if v := strings.TrimSpace(os.Getenv("ANKICLI_HOME")); v != "" {
		cfg.Storage.BaseDir = v
	}
	if v := strings.TrimSpace(os.Getenv("ANKICLI_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}

	return cfg, normalize(&cfg)
}

func normalizeModelList(models []string) []string {
	out := make([]string, 0, len(models))
	seen := map[string]struct{}{}
	for _, m := range models {
		trimmed := strings.TrimSpace(m)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func containsString(items []string, needle string) bool {
	for _, item := range items {
		if item == needle {
			return true
		}
	}
	return false
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}

