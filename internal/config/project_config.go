package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ankicli/internal/storage"
)

// InitConfigScaffold 若配置文件不存在则写入默认配置模板
// InitConfigScaffold writes the default config to path unless a file already
// exists there. It reports whether a file was created.
func InitConfigScaffold(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return false, fmt.Errorf("config path is a directory: %s", path)
		}
		return false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat config: %w", err)
	}

	cfg := Default()
	cfg.Storage.BaseDir = filepath.Dir(path)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal default config: %w", err)
	}
	if err := storage.WriteFileAtomic(path, append(data, '\n'), 0o600); err != nil {
		return false, fmt.Errorf("write config: %w", err)
	}
	return true, nil
}

// WriteProviderModel 将 provider.model 写回配置文件
// WriteProviderModel persists provider.model into the config file at path.
func WriteProviderModel(path, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return errors.New("model is empty")
	}
	return updateConfigFile(path, func(root map[string]any) {
		providerMap, _ := root["provider"].(map[string]any)
		if providerMap == nil {
			providerMap = make(map[string]any)
		}
		providerMap["model"] = model
		root["provider"] = providerMap
	})
}

// WriteToolNotes replaces the tool_notes section of the config file at path.
func WriteToolNotes(path string, notes map[string]string) error {
	return updateConfigFile(path, func(root map[string]any) {
		out := make(map[string]any, len(notes))
		for k, v := range notes {
			out[k] = v
		}
		root["tool_notes"] = out
	})
}

// updateConfigFile rewrites path keeping every key it does not touch. Comments
// in a JSONC file are dropped.
func updateConfigFile(path string, mutate func(root map[string]any)) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("config path is empty")
	}
	var root map[string]any
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(stripJSONComments(data), &root); err != nil {
			return fmt.Errorf("parse config %q: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("read config %q: %w", path, err)
	}
	if root == nil {
		root = make(map[string]any)
	}
	mutate(root)
	data, err = json.MarshalIndent(root, "", "  ")
	if err != nil {
		return err
	}
	return storage.WriteFileAtomic(path, append(data, '\n'), 0o600)
}
