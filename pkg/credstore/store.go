// Copyright 2024-2026 Aiku AI

// Package credstore persists the transport's opaque credential blob so a
// paired session survives restarts. The bridge is single-tenant, so a store
// holds exactly one blob.
package credstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrLoadFailed   = errors.New("credstore: load failed")
	ErrSaveFailed   = errors.New("credstore: save failed")
	ErrDeleteFailed = errors.New("credstore: delete failed")
)

// Store holds the credential blob.
type Store interface {
	// Load returns the stored blob, or (nil, nil) if nothing is stored.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the stored blob atomically.
	Save(ctx context.Context, data []byte) error
	// Delete removes the stored blob. Deleting an empty store is not an error.
	Delete(ctx context.Context) error
}

// Config selects and configures a store backend.
type Config struct {
	// Type is "file" (default) or "redis".
	Type string `yaml:"type"`
	// Path is the credential file for the file backend.
	Path string `yaml:"path"`

	RedisURL string `yaml:"redis_url"`
	RedisKey string `yaml:"redis_key"`
}

const (
	DefaultPath     = "./whatsapp_auth/creds.json"
	DefaultRedisKey = "wabridge:credentials"
)

// New builds the store described by cfg.
func New(cfg Config) (Store, error) {
	switch cfg.Type {
	case "", "file":
		path := cfg.Path
		if path == "" {
			path = DefaultPath
		}
		return NewFileStore(path), nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("credstore: redis backend requires redis_url")
		}
		return NewRedisStoreFromURL(cfg.RedisURL, cfg.RedisKey)
	default:
		return nil, fmt.Errorf("credstore: unknown store type %q", cfg.Type)
	}
}
