package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "ENGRAM_HOST", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
	},
	{
		env: "ENGRAM_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "ENGRAM_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "ENGRAM_LOG", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
	{
		env: "ENGRAM_EMBED_BACKEND", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Embedding.Backend = v.(string) },
	},
	{
		env: "ENGRAM_EMBED_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
	},
	{
		env: "ENGRAM_EMBED_DIMS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Embedding.Dims = v.(int) },
	},
	{
		env: "ENGRAM_HISTORY_LIMIT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.History.DefaultLimit = v.(int) },
	},
	{
		env: "ENGRAM_SSE_KEEPALIVE_SECS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.SSEKeepAliveSecs = v.(int) },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
