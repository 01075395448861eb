package api

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	errCacheDisabled = errors.New("cache disabled")
	errCacheStopped  = errors.New("cache stopped")
	errNoLoader      = errors.New("no loader")
)

// maxCacheEntries bounds memory when clients probe many distinct search terms.
const maxCacheEntries = 1024

type cacheRequest struct {
	ctx    context.Context
	key    string
	loader func(context.Context) ([]byte, error)
	reply  chan cacheResponse
}

type cacheResponse struct {
	data []byte
	err  error
}

type cacheEntry struct {
	data    []byte
	expires time.Time
}

// ResponseCache keeps encoded location and chemical responses in memory so
// the map page and the pickers do not hit the database on every keystroke.
// A single goroutine owns the map; callers talk to it over channels.
type ResponseCache struct {
	ttl      time.Duration
	requests chan cacheRequest
	purges   chan purgeRequest
	quit     chan struct{}
	now      func() time.Time
}

type purgeRequest struct {
	prefix string
	done   chan int
}

// NewResponseCache starts the caching goroutine. A non-positive ttl returns
// nil, which disables caching: every method accepts a nil receiver.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		return nil
	}
	cache := &ResponseCache{
		ttl:      ttl,
		requests: make(chan cacheRequest),
		purges:   make(chan purgeRequest),
		quit:     make(chan struct{}),
		now:      time.Now,
	}
	go cache.loop()
	return cache
}

// Close stops the cache goroutine. Repeated calls are no-ops.
func (c *ResponseCache) Close() {
	if c == nil {
		return
	}
	select {
	case <-c.quit:
		return
	default:
	}
	close(c.quit)
}

// Get returns cached bytes for key or runs loader to produce them. Loader
// errors are returned as-is and never cached. The returned slice is a copy.
func (c *ResponseCache) Get(ctx context.Context, key string, loader func(context.Context) ([]byte, error)) ([]byte, error) {
	if c == nil {
		return nil, errCacheDisabled
	}
	req := cacheRequest{
		ctx:    ctx,
		key:    key,
		loader: loader,
		reply:  make(chan cacheResponse, 1),
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.quit:
		return nil, errCacheStopped
	case c.requests <- req:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.quit:
		return nil, errCacheStopped
	case resp := <-req.reply:
		if resp.err != nil {
			return nil, resp.err
		}
		if resp.data == nil {
			return nil, nil
		}
		copyBuf := make([]byte, len(resp.data))
		copy(copyBuf, resp.data)
		return copyBuf, nil
	}
}

// Purge drops every entry whose key starts with prefix ("" drops all) and
// reports how many went. Imports call it so new readings show up at once.
func (c *ResponseCache) Purge(prefix string) int {
	if c == nil {
		return 0
	}
	req := purgeRequest{prefix: prefix, done: make(chan int, 1)}
	select {
	case <-c.quit:
		return 0
	case c.purges <- req:
	}
	select {
	case <-c.quit:
		return 0
	case n := <-req.done:
		return n
	}
}

func (c *ResponseCache) loop() {
	store := make(map[string]cacheEntry)
	for {
		select {
		case <-c.quit:
			return
		case req := <-c.purges:
			n := 0
			for key := range store {
				if strings.HasPrefix(key, req.prefix) {
					delete(store, key)
					n++
				}
			}
			req.done <- n
		case req := <-c.requests:
			now := c.now()
			if entry, ok := store[req.key]; ok && now.Before(entry.expires) {
				req.reply <- cacheResponse{data: entry.data}
				continue
			}
			if req.loader == nil {
				req.reply <- cacheResponse{err: errNoLoader}
				continue
			}
			data, err := req.loader(req.ctx)
			if err == nil && data != nil {
				if len(store) >= maxCacheEntries {
					evictExpired(store, now)
				}
				if len(store) < maxCacheEntries {
					buf := make([]byte, len(data))
					copy(buf, data)
					store[req.key] = cacheEntry{data: buf, expires: now.Add(c.ttl)}
				}
			} else if err != nil {
				delete(store, req.key)
			}
			req.reply <- cacheResponse{data: data, err: err}
		}
	}
}

func evictExpired(store map[string]cacheEntry, now time.Time) {
	for key, entry := range store {
		if !now.Before(entry.expires) {
			delete(store, key)
		}
	}
}
