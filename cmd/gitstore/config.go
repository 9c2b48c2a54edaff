package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	objstore "github.com/ahrav/go-gitstore"
)

// defaultConfigName is looked up inside the git directory when --config is
// not given.
const defaultConfigName = "gitstore.toml"

// Config is the on-disk TOML configuration.
//
//	[cache]
//	kind = "arc"        # arc, lru, map or none
//	size = 16384
//	tree_size = 4096
//
//	[pack]
//	max_delta_depth = 50
//	verify_crc = false
//	verify_hash = true
//
//	[log]
//	level = "info"
//	format = "text"
type Config struct {
	Cache CacheConfig `toml:"cache"`
	Pack  PackConfig  `toml:"pack"`
	Log   LogConfig   `toml:"log"`
}

type CacheConfig struct {
	Kind     string `toml:"kind"`
	Size     int    `toml:"size"`
	TreeSize int    `toml:"tree_size"`
}

type PackConfig struct {
	MaxDeltaDepth int  `toml:"max_delta_depth"`
	VerifyCRC     bool `toml:"verify_crc"`
	VerifyHash    bool `toml:"verify_hash"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func defaultConfig() Config {
	return Config{
		Cache: CacheConfig{Kind: "arc", Size: objstore.DefaultCacheSize},
		Pack:  PackConfig{MaxDeltaDepth: 50, VerifyHash: true},
		Log:   LogConfig{Level: "warn", Format: "text"},
	}
}

// loadConfig decodes path over the defaults. An empty path falls back to
// <gitDir>/gitstore.toml, which may be absent. Keys the decoder does not
// recognise are an error.
func loadConfig(path, gitDir string) (Config, error) {
	cfg := defaultConfig()
	explicit := path != ""
	if !explicit {
		path = filepath.Join(gitDir, defaultConfigName)
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return defaultConfig(), nil
		}
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// storeOptions translates the config into objstore options.
func (c Config) storeOptions(log *slog.Logger) ([]objstore.Option, error) {
	opts := []objstore.Option{
		objstore.WithLogger(log),
		objstore.WithVerifyCRC(c.Pack.VerifyCRC),
		objstore.WithHashVerification(c.Pack.VerifyHash),
	}
	if c.Pack.MaxDeltaDepth > 0 {
		opts = append(opts, objstore.WithMaxDeltaDepth(c.Pack.MaxDeltaDepth))
	}
	if c.Cache.TreeSize > 0 {
		opts = append(opts, objstore.WithTreeCacheSize(c.Cache.TreeSize))
	}

	size := c.Cache.Size
	if size <= 0 {
		size = objstore.DefaultCacheSize
	}
	var (
		cache objstore.ObjectCache
		err   error
	)
	switch strings.ToLower(c.Cache.Kind) {
	case "", "arc":
		cache, err = objstore.NewARCCache(size)
	case "lru":
		cache, err = objstore.NewLRUCache(size)
	case "map":
		cache = objstore.NewMapCache()
	case "none":
		cache = objstore.NoCache()
	default:
		return nil, fmt.Errorf("unknown cache kind %q", c.Cache.Kind)
	}
	if err != nil {
		return nil, err
	}
	return append(opts, objstore.WithCache(cache)), nil
}
