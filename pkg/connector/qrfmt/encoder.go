// Copyright 2024-2026 Aiku AI

// Package qrfmt renders pairing payloads as QR code images that a browser can
// display directly.
package qrfmt

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/skip2/go-qrcode"
)

// ErrEncodingFailed is returned when a payload cannot be rendered.
var ErrEncodingFailed = errors.New("qrfmt: encoding failed")

// DefaultSize is the edge length of the rendered PNG in pixels.
const DefaultSize = 256

const dataURIPrefix = "data:image/png;base64,"

// PNG renders payload as a PNG QR code of the given size.
func PNG(payload string, size int) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrEncodingFailed)
	}
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	return png, nil
}

// DataURI renders payload as a base64 PNG data URI.
func DataURI(payload string) (string, error) {
	png, err := PNG(payload, DefaultSize)
	if err != nil {
		return "", err
	}
	return dataURIPrefix + base64.StdEncoding.EncodeToString(png), nil
}
