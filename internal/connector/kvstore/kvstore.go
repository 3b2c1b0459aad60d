// SPDX-License-Identifier: LGPL-3.0-or-later

// Package kvstore implements an embedded key/value connector persisting
// every logged sample in a badger database.
package kvstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/isc-konstanz/loris/internal/connector"
	"github.com/isc-konstanz/loris/internal/core"
)

// Type is the registered connector type name.
const Type = "kv"

// keyTimeFormat is RFC3339 with fixed nanosecond width so keys sort
// chronologically in lexical order.
const keyTimeFormat = "2006-01-02T15:04:05.000000000Z"

func init() {
	connector.Register(Type, func(id string, settings connector.Settings) (connector.Connector, error) {
		return New(id, settings)
	})
}

// Store writes samples under "sample/<channel-id>/<timestamp>" keys.
type Store struct {
	connector.Base

	path     string
	inMemory bool

	db *badger.DB
}

// New builds the store from its settings. Either a path or in_memory mode
// is required.
func New(id string, settings connector.Settings) (*Store, error) {
	path := settings.String("path", "")
	inMemory := settings.Bool("in_memory", false)
	if path == "" && !inMemory {
		return nil, fmt.Errorf("connector %s: missing required setting %q", id, "path")
	}
	return &Store{
		Base:     connector.NewBase(id, Type),
		path:     path,
		inMemory: inMemory,
	}, nil
}

// Connect opens the badger database.
func (s *Store) Connect(_ context.Context, _ core.Channels) error {
	opts := badger.DefaultOptions(s.path).WithLogger(nil)
	if s.inMemory {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return connector.Errorf(s.ID(), "open badger store: %v", err)
	}
	s.db = db
	s.MarkConnected()
	return nil
}

// Disconnect closes the database.
func (s *Store) Disconnect(context.Context) error {
	s.MarkDisconnected()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return connector.Errorf(s.ID(), "close badger store: %v", err)
	}
	return nil
}

func sampleKey(channelID string, t time.Time) []byte {
	return []byte("sample/" + channelID + "/" + t.UTC().Format(keyTimeFormat))
}

func samplePrefix(channelID string) []byte {
	return []byte("sample/" + channelID + "/")
}

// Read iterates the per-channel key range. Zero bounds return the latest
// sample per channel.
func (s *Store) Read(_ context.Context, channels core.Channels, start, end time.Time) (core.Frame, error) {
	if s.db == nil {
		return nil, connector.Errorf(s.ID(), "store not connected")
	}

	frame := make(core.Frame)
	err := s.db.View(func(txn *badger.Txn) error {
		for _, c := range channels {
			if err := readChannel(txn, frame, c, start, end); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, connector.Errorf(s.ID(), "read samples: %v", err)
	}
	return frame, nil
}

func readChannel(txn *badger.Txn, frame core.Frame, c *core.Channel, start, end time.Time) error {
	prefix := samplePrefix(c.ID)
	latest := start.IsZero() && end.IsZero()

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = latest
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := prefix
	if latest {
		// Reverse iteration starts just past the prefix range.
		seek = append(append([]byte{}, prefix...), 0xff)
	}
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		rawTime := strings.TrimPrefix(string(item.Key()), string(prefix))
		timestamp, err := time.Parse(keyTimeFormat, rawTime)
		if err != nil {
			return fmt.Errorf("invalid sample key %q: %w", item.Key(), err)
		}
		if !latest {
			if !start.IsZero() && timestamp.Before(start) {
				continue
			}
			if !end.IsZero() && timestamp.After(end) {
				continue
			}
		}
		err = item.Value(func(raw []byte) error {
			value, err := c.Type.Convert(string(raw))
			if err != nil {
				return fmt.Errorf("channel %s: %w", c.ID, err)
			}
			frame.Add(c.ID, core.Record{Time: timestamp.UTC(), Value: value})
			return nil
		})
		if err != nil {
			return err
		}
		if latest {
			return nil // only the newest sample
		}
	}
	return nil
}

// Write persists every sample of the frame columns bound to this store.
func (s *Store) Write(_ context.Context, frame core.Frame, channels core.Channels) error {
	if s.db == nil {
		return connector.Errorf(s.ID(), "store not connected")
	}

	batch := s.db.NewWriteBatch()
	defer batch.Cancel()

	for _, c := range channels {
		for _, rec := range frame[c.ID] {
			if err := batch.Set(sampleKey(c.ID, rec.Time), []byte(fmt.Sprint(rec.Value))); err != nil {
				return connector.Errorf(s.ID(), "batch sample %s: %v", c.ID, err)
			}
		}
	}
	if err := batch.Flush(); err != nil {
		return connector.Errorf(s.ID(), "flush samples: %v", err)
	}
	return nil
}
