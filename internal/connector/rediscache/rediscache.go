// SPDX-License-Identifier: LGPL-3.0-or-later

// Package rediscache implements a Redis-backed latest-value cache
// connector. It keeps one hash per channel and therefore only supports
// unranged reads.
package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/isc-konstanz/loris/internal/connector"
	"github.com/isc-konstanz/loris/internal/core"
)

// Type is the registered connector type name.
const Type = "redis"

const keyPrefix = "loris:"

func init() {
	connector.Register(Type, func(id string, settings connector.Settings) (connector.Connector, error) {
		return New(id, settings)
	})
}

// Cache mirrors the latest sample of every bound channel into Redis under
// "loris:<channel-id>".
type Cache struct {
	connector.Base

	addr     string
	password string
	db       int
	ttl      time.Duration

	client *redis.Client
}

// New builds the cache connector from its settings.
func New(id string, settings connector.Settings) (*Cache, error) {
	addr, err := settings.RequireString("addr")
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", id, err)
	}
	return &Cache{
		Base:     connector.NewBase(id, Type),
		addr:     addr,
		password: settings.String("password", ""),
		db:       settings.Int("db", 0),
		ttl:      settings.Duration("ttl", 0),
	}, nil
}

// Connect opens the client and verifies the server responds.
func (c *Cache) Connect(ctx context.Context, _ core.Channels) error {
	client := redis.NewClient(&redis.Options{
		Addr:     c.addr,
		Password: c.password,
		DB:       c.db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return connector.Errorf(c.ID(), "ping redis %s: %v", c.addr, err)
	}
	c.client = client
	c.MarkConnected()
	return nil
}

// Disconnect closes the client.
func (c *Cache) Disconnect(context.Context) error {
	c.MarkDisconnected()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	if err != nil {
		return connector.Errorf(c.ID(), "close redis client: %v", err)
	}
	return nil
}

// Read returns the cached latest values. Ranged reads are not supported by
// a latest-value cache and fail.
func (c *Cache) Read(ctx context.Context, channels core.Channels, start, end time.Time) (core.Frame, error) {
	if c.client == nil {
		return nil, connector.Errorf(c.ID(), "cache not connected")
	}
	if !start.IsZero() || !end.IsZero() {
		return nil, connector.Errorf(c.ID(), "ranged reads are not supported")
	}

	frame := make(core.Frame)
	for _, ch := range channels {
		fields, err := c.client.HGetAll(ctx, keyPrefix+ch.ID).Result()
		if err != nil {
			return nil, connector.Errorf(c.ID(), "read %s: %v", ch.ID, err)
		}
		if len(fields) == 0 {
			continue
		}
		timestamp, err := time.Parse(time.RFC3339Nano, fields["time"])
		if err != nil {
			return nil, connector.Errorf(c.ID(), "invalid cached timestamp for %s: %v", ch.ID, err)
		}
		value, err := ch.Type.Convert(fields["value"])
		if err != nil {
			return nil, connector.Errorf(c.ID(), "invalid cached value for %s: %v", ch.ID, err)
		}
		frame.Add(ch.ID, core.Record{Time: timestamp.UTC(), Value: value})
	}
	return frame, nil
}

// Write stores the latest sample of every frame column.
func (c *Cache) Write(ctx context.Context, frame core.Frame, channels core.Channels) error {
	if c.client == nil {
		return connector.Errorf(c.ID(), "cache not connected")
	}

	pipe := c.client.Pipeline()
	for _, ch := range channels {
		rec, ok := frame.Last(ch.ID)
		if !ok {
			continue
		}
		key := keyPrefix + ch.ID
		pipe.HSet(ctx, key, map[string]any{
			"value": fmt.Sprint(rec.Value),
			"time":  rec.Time.UTC().Format(time.RFC3339Nano),
			"type":  string(ch.Type),
		})
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return connector.Errorf(c.ID(), "write cache: %v", err)
	}
	return nil
}
