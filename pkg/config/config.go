// Package config loads the process-level configuration for toolscriptd
// from defaults plus environment variables, using koanf, trimmed to the
// fields this core actually needs (no hot-reload: nothing in this
// system's scope requires reacting to a config file changing on disk).
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/alennartz/toolscript/internal/credentials"
)

// Config is the full set of tunables for the executor, gateways, and
// hosted server.
type Config struct {
	Server     ServerConfig         `koanf:"server"`
	Executor   ExecutorConfig       `koanf:"executor"`
	Filesystem FilesystemConfig     `koanf:"filesystem"`
	Log        LogConfig            `koanf:"log"`
	APIs       map[string]APIConfig `koanf:"apis"`
}

// APIConfig carries the server-side default credential source for one
// named API, resolved against whatever _meta.auth override a given
// request supplies.
type APIConfig struct {
	// AuthEnv, when set, reads a bearer token from the named environment
	// variable. Equivalent to Auth.AuthEnv but settable directly on the
	// API entry.
	AuthEnv string     `koanf:"auth_env"`
	Auth    *AuthEntry `koanf:"auth"`
}

// AuthEntry mirrors the original's untagged ConfigAuth enum: a bare
// Token is a bearer credential, Type=="basic" plus Username/Password is
// basic auth, and AuthEnv alone reads a bearer token from the named
// environment variable.
type AuthEntry struct {
	Type     string `koanf:"type"`
	Token    string `koanf:"token"`
	AuthEnv  string `koanf:"auth_env"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type ExecutorConfig struct {
	TimeoutMS   int64 `koanf:"timeout_ms"`
	MemoryLimit int64 `koanf:"memory_limit"`
	MaxAPICalls int   `koanf:"max_api_calls"`
}

type FilesystemConfig struct {
	Enabled       bool   `koanf:"enabled"`
	RootDir       string `koanf:"root_dir"`
	MaxWriteBytes int64  `koanf:"max_write_bytes"`
	MaxHandles    int    `koanf:"max_handles"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

// Default returns the built-in defaults: a 30s / 64MB / 100-call executor
// budget and a capped filesystem handle count.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Executor: ExecutorConfig{
			TimeoutMS:   30000,
			MemoryLimit: 64 * 1024 * 1024,
			MaxAPICalls: 100,
		},
		Filesystem: FilesystemConfig{
			Enabled:       false,
			RootDir:       "./data",
			MaxWriteBytes: 52428800,
			MaxHandles:    64,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load merges Default() with TOOLSCRIPT_-prefixed environment variables.
func Load() (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, err
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: "TOOLSCRIPT_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "TOOLSCRIPT_"))
			key = strings.ReplaceAll(key, "_", ".")
			return key, value
		},
	}), nil); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c ExecutorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// DefaultCredentials resolves the server-side default credential map from
// c.APIs, mirroring the original's resolve_config_auth: a per-API
// AuthEnv wins outright over a nested Auth block; within Auth, a bare
// Token is a bearer credential, Type=="basic" is basic auth, and AuthEnv
// is a bearer token sourced from the named environment variable. A
// request's _meta.auth override replaces whatever this produces for that
// API name. An unset environment variable is a hard error, not a silent
// skip, since a misconfigured deployment should fail to start rather than
// execute scripts against an unauthenticated upstream.
func (c Config) DefaultCredentials() (credentials.Map, error) {
	out := credentials.Map{}
	for name, entry := range c.APIs {
		if entry.AuthEnv != "" {
			token, ok := os.LookupEnv(entry.AuthEnv)
			if !ok {
				return nil, fmt.Errorf("environment variable %q (from apis.%s.auth_env) is not set", entry.AuthEnv, name)
			}
			out[name] = credentials.Bearer(token)
			continue
		}
		if entry.Auth == nil {
			continue
		}
		switch {
		case entry.Auth.Type == "basic":
			out[name] = credentials.Basic(entry.Auth.Username, entry.Auth.Password)
		case entry.Auth.AuthEnv != "":
			token, ok := os.LookupEnv(entry.Auth.AuthEnv)
			if !ok {
				return nil, fmt.Errorf("environment variable %q (from apis.%s.auth.auth_env) is not set", entry.Auth.AuthEnv, name)
			}
			out[name] = credentials.Bearer(token)
		case entry.Auth.Token != "":
			out[name] = credentials.Bearer(entry.Auth.Token)
		}
	}
	return out, nil
}

type ctxKey struct{}

// ContextWith attaches cfg to ctx.
func ContextWith(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext returns the Config attached to ctx, or Default() if none.
func FromContext(ctx context.Context) Config {
	if cfg, ok := ctx.Value(ctxKey{}).(Config); ok {
		return cfg
	}
	return Default()
}
