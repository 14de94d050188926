// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package catalog

// This file contains the implementation of a read through cache layered
// over a provisioning server accessor.  Catalog listings and depth
// samplings are short lived items, servers that error are backed off and
// stale listings are served in preference to hammering them.

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/karlmutch/ccache"
	"github.com/karlmutch/hashstructure"
	"github.com/mitchellh/copystructure"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

var (
	// Time a failing provisioning server is left alone before the next
	// probe is permitted
	backoffLifetime = time.Duration(time.Minute)
)

// CachedAccessor implements the Accessor interface as a read through
// cache over another accessor
type CachedAccessor struct {
	upstream   Accessor
	cache      *ccache.Cache
	refreshTTL time.Duration
	depthTTL   time.Duration
}

// NewCachedAccessor layers a cache over the supplied accessor.  The two
// TTLs govern how long catalog listings and depth samplings are served
// without consulting the server.
func NewCachedAccessor(upstream Accessor, refreshTTL time.Duration, depthTTL time.Duration) (accessor *CachedAccessor) {
	return &CachedAccessor{
		upstream:   upstream,
		cache:      ccache.New(ccache.Configure().MaxSize(128).GetsPerPromote(1).ItemsToPrune(1)),
		refreshTTL: refreshTTL,
		depthTTL:   depthTTL,
	}
}

// Identity returns the label of the underlying accessor
func (c *CachedAccessor) Identity() (identity string) {
	return c.upstream.Identity()
}

// cloneKnown produces an independent copy of a cached catalog listing so
// that callers can never mutate the cached copy
func cloneKnown(value interface{}) (known map[string]*QueueDescriptor, err kv.Error) {
	cpy, errGo := copystructure.Copy(value)
	if errGo != nil {
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	known, ok := cpy.(map[string]*QueueDescriptor)
	if !ok {
		return nil, kv.NewError("cached catalog entry had an unexpected type").With("stack", stack.Trace().TrimRuntime())
	}
	return known, nil
}

// Refresh returns the catalog listing for an environment serving a cached
// listing when one is fresh enough.  When the server errors the listing
// most recently obtained is served, however stale, and the server is
// backed off.
func (c *CachedAccessor) Refresh(ctx context.Context, environment string) (known map[string]*QueueDescriptor, err kv.Error) {
	key := "catalog:" + c.upstream.Identity() + ":" + environment

	if expires, isPresent := GetBackoffs().Get(c.upstream.Identity()); isPresent {
		if item := c.cache.Get(key); item != nil {
			return cloneKnown(item.Value())
		}
		return nil, kv.NewError("provisioning server is backed off").With("endpoint", c.upstream.Identity(), "until", expires.String()).With("stack", stack.Trace().TrimRuntime())
	}

	item, errGo := c.cache.Fetch(key, c.refreshTTL,
		func() (interface{}, error) {
			fresh, err := c.upstream.Refresh(ctx, environment)
			if err != nil {
				return nil, err
			}
			return fresh, nil
		})
	if errGo != nil {
		GetBackoffs().Set(c.upstream.Identity(), backoffLifetime)
		if item := c.cache.Get(key); item != nil {
			return cloneKnown(item.Value())
		}
		if err, ok := errGo.(kv.Error); ok {
			return nil, err
		}
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	return cloneKnown(item.Value())
}

// Exists consults the server directly, existence checks are cheap and
// are not worth staleness
func (c *CachedAccessor) Exists(ctx context.Context, name string) (exists bool, err kv.Error) {
	if expires, isPresent := GetBackoffs().Get(c.upstream.Identity()); isPresent {
		return false, kv.NewError("provisioning server is backed off").With("endpoint", c.upstream.Identity(), "until", expires.String()).With("stack", stack.Trace().TrimRuntime())
	}
	if exists, err = c.upstream.Exists(ctx, name); err != nil {
		GetBackoffs().Set(c.upstream.Identity(), backoffLifetime)
		return false, err
	}
	return exists, nil
}

// Depths samples queue populations serving cached samples while they
// remain fresh.  The cache key is structural over the requested name set
// so that differing subsets are sampled independently.
func (c *CachedAccessor) Depths(ctx context.Context, names []string) (depths map[string]Depth, err kv.Error) {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	sig, errGo := hashstructure.Hash(sorted, nil)
	if errGo != nil {
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	key := fmt.Sprintf("depths:%s:%x", c.upstream.Identity(), sig)

	if expires, isPresent := GetBackoffs().Get(c.upstream.Identity()); isPresent {
		return nil, kv.NewError("provisioning server is backed off").With("endpoint", c.upstream.Identity(), "until", expires.String()).With("stack", stack.Trace().TrimRuntime())
	}

	item, errGo := c.cache.Fetch(key, c.depthTTL,
		func() (interface{}, error) {
			fresh, err := c.upstream.Depths(ctx, sorted)
			if err != nil {
				return nil, err
			}
			return fresh, nil
		})
	if errGo != nil {
		GetBackoffs().Set(c.upstream.Identity(), backoffLifetime)
		if err, ok := errGo.(kv.Error); ok {
			return nil, err
		}
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	cached, ok := item.Value().(map[string]Depth)
	if !ok {
		return nil, kv.NewError("cached depth entry had an unexpected type").With("stack", stack.Trace().TrimRuntime())
	}
	depths = make(map[string]Depth, len(cached))
	for name, depth := range cached {
		depths[name] = depth
	}
	return depths, nil
}
