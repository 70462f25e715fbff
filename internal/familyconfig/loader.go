package familyconfig

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads one family YAML file and returns Config with raw bytes.
// Unknown keys fail immediately (KnownFields).
func Load(path string) (*Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, data, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	return cfg, data, nil
}

// Parse decodes, defaults and validates one family configuration
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadDir loads every *.yaml / *.yml file of dir, ordered by family key.
// Two files declaring the same family is an error.
func LoadDir(dir string) ([]*Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read config dir: %w", err)
	}

	var configs []*Config
	owner := make(map[string]string)

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		cfg, _, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if prev, dup := owner[cfg.Family]; dup {
			return nil, ValidationError{"family", fmt.Sprintf("%q declared in both %s and %s", cfg.Family, prev, e.Name())}
		}
		owner[cfg.Family] = e.Name()
		configs = append(configs, cfg)
	}

	if len(configs) == 0 {
		return nil, fmt.Errorf("no family configuration found in %s", dir)
	}

	sort.Slice(configs, func(i, j int) bool { return configs[i].Family < configs[j].Family })
	return configs, nil
}

// Hash generates SHA256 hash from Config (canonical JSON).
// Struct fields marshal in declaration order and map keys sorted, so the
// hash is reproducible.
func Hash(cfg *Config) (string, error) {
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}
