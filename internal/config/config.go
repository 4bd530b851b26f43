// Package config holds the settings shared by the bbtrace commands.
// Values come from defaults, an optional JSON file, and the environment, in
// that order; command-line flags override the result.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"bbtrace/internal/disasm"
)

// Config represents configuration for the bbtrace tool
type Config struct {
	RedisURL        string `json:"redisUrl" jsonschema:"title=Redis URL,description=Server holding the trace lists,default=redis://localhost"`
	ShowList        string `json:"showList" jsonschema:"title=Show List,description=List read by the show command,default=basic_block_list"`
	CacheList       string `json:"cacheList" jsonschema:"title=Cache Source List,description=List read by the cache command,default=address_independent_basic_block_list"`
	InstructionList string `json:"instructionList" jsonschema:"title=Instruction List,description=List the cache command appends instruction forms to,default=instruction_list"`
	LayoutCacheSize int    `json:"layoutCacheSize" jsonschema:"title=Layout Cache Size,description=Number of disassembled block layouts kept in memory,minimum=1,default=16384"`
	Debug           bool   `json:"debug" jsonschema:"title=Debug,description=Enable debug logging"`
}

const (
	DefaultRedisURL        = "redis://localhost"
	DefaultShowList        = "basic_block_list"
	DefaultCacheList       = "address_independent_basic_block_list"
	DefaultInstructionList = "instruction_list"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		RedisURL:        DefaultRedisURL,
		ShowList:        DefaultShowList,
		CacheList:       DefaultCacheList,
		InstructionList: DefaultInstructionList,
		LayoutCacheSize: disasm.DefaultLayoutCacheSize,
	}
}

// Load returns the defaults overlaid with the JSON file at path (if path is
// not empty) and with BBTRACE_REDIS_URL.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if url := os.Getenv("BBTRACE_REDIS_URL"); url != "" {
		cfg.RedisURL = url
	}
	return cfg, cfg.Validate()
}

// Validate checks that every required field is set.
func (c Config) Validate() error {
	switch {
	case c.RedisURL == "":
		return fmt.Errorf("config: redisUrl is empty")
	case c.ShowList == "", c.CacheList == "", c.InstructionList == "":
		return fmt.Errorf("config: list names must not be empty")
	case c.LayoutCacheSize < 1:
		return fmt.Errorf("config: layoutCacheSize must be positive, got %d", c.LayoutCacheSize)
	}
	return nil
}
