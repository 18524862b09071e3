// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

// Package redis provides a Redis-backed cache driver.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/prodflow/packportal/internal/platform/cache"
	"github.com/prodflow/packportal/internal/platform/cfg"
)

func init() {
	cache.RegisterDriver("redis", func(config map[string]any) (cache.Cache, error) {
		var c Config
		if err := cfg.Decode(config, &c); err != nil {
			return nil, err
		}
		return New(&c), nil
	})
}

// Config defines Redis connection parameters decoded from driver config.
type Config struct {
	Addr              string `mapstructure:"addr"`
	Password          string `mapstructure:"password"`
	DB                int    `mapstructure:"db"`
	DialTimeoutMS     int    `mapstructure:"dial_timeout_ms"`
	ReadTimeoutMS     int    `mapstructure:"read_timeout_ms"`
	WriteTimeoutMS    int    `mapstructure:"write_timeout_ms"`
	PoolSize          int    `mapstructure:"pool_size"`
	DefaultTTLSeconds int    `mapstructure:"default_ttl_seconds"`
	KeyPrefix         string `mapstructure:"key_prefix"`
}

// ApplyDefaults sets reasonable defaults for unconfigured fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.DialTimeoutMS == 0 {
		c.DialTimeoutMS = 5000
	}
	if c.ReadTimeoutMS == 0 {
		c.ReadTimeoutMS = 3000
	}
	if c.WriteTimeoutMS == 0 {
		c.WriteTimeoutMS = 3000
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.DefaultTTLSeconds == 0 {
		c.DefaultTTLSeconds = int(cache.TTLSnapshot / time.Second)
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "packportal:"
	}
}

// Cache is a Redis-backed cache.
type Cache struct {
	client     *redis.Client
	defaultTTL time.Duration
	prefix     string
}

// New creates a Redis cache from the given config.
func New(c *Config) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  time.Duration(c.DialTimeoutMS) * time.Millisecond,
		ReadTimeout:  time.Duration(c.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout: time.Duration(c.WriteTimeoutMS) * time.Millisecond,
		PoolSize:     c.PoolSize,
	})

	return &Cache{
		client:     client,
		defaultTTL: time.Duration(c.DefaultTTLSeconds) * time.Second,
		prefix:     c.KeyPrefix,
	}
}

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores a value with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

// Close closes the client connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}
