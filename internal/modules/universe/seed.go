package universe

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aristath/riskcycle/internal/domain"
)

type seedFile struct {
	Assets []domain.AssetConfig `yaml:"assets"`
}

// ParseSeed decodes a YAML asset list. Unknown fields are rejected so typos
// in threshold names do not silently fall back to zero.
func ParseSeed(r io.Reader) ([]domain.AssetConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f seedFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode asset seed: %w", err)
	}
	if len(f.Assets) == 0 {
		return nil, fmt.Errorf("asset seed is empty: %w", domain.ErrInvalidAssetConfig)
	}
	return f.Assets, nil
}

// LoadSeedFile reads and decodes a YAML asset list from disk
func LoadSeedFile(path string) ([]domain.AssetConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset seed: %w", err)
	}
	defer f.Close()
	return ParseSeed(f)
}

// Seed replaces the registry with the assets in the file
func (r *Repository) Seed(ctx context.Context, path string) (int, error) {
	assets, err := LoadSeedFile(path)
	if err != nil {
		return 0, err
	}
	if err := r.ReplaceAll(ctx, assets); err != nil {
		return 0, err
	}
	return len(assets), nil
}
