//go:build !linux

package iocount

import (
	"context"

	"github.com/srodi/hotspot-exporter/pkg/types"
)

// Collector is a placeholder on non-Linux platforms.
type Collector struct{}

// Open always fails off Linux.
func Open(string) (*Collector, error) {
	return nil, ErrUnsupported
}

func (c *Collector) Name() string    { return "ebpf" }
func (c *Collector) Available() bool { return false }
func (c *Collector) Close() error    { return nil }

// Snapshot always fails off Linux.
func (c *Collector) Snapshot(context.Context) (types.IOSnapshot, error) {
	return types.IOSnapshot{}, ErrUnsupported
}
