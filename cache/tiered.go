package cache

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	"github.com/golang/snappy"

	"searchrelay/model"
)

// L2 values travel in a small envelope so the compression flag and the expiry
// survive the bytes-only Store contract: 1 flag byte, 8 bytes of expiry
// (unix milli, big endian), then the payload.
const (
	envHeaderLen   = 9
	flagPlain      = 0x00
	flagCompressed = 0x01
)

// Tiered composes the in-process L1 and the shared L2 store. Reads check L1
// first and promote L2 hits; writes go through to both tiers. Store errors are
// logged and swallowed: the cache degrades performance, never correctness.
type Tiered struct {
	l1        *L1
	l2        Store
	threshold int
	l1TTL     time.Duration
	log       *slog.Logger

	mu          sync.Mutex
	l2Hits      int64
	l2Misses    int64
	rawBytes    int64
	storedBytes int64
}

func NewTiered(l1 *L1, l2 Store, compressionThreshold int, l1TTL time.Duration, logger *slog.Logger) *Tiered {
	return &Tiered{
		l1:        l1,
		l2:        l2,
		threshold: compressionThreshold,
		l1TTL:     l1TTL,
		log:       logger,
	}
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := t.l1.Get(key); ok {
		return value, true
	}
	if t.l2 == nil {
		return nil, false
	}

	raw, err := t.l2.Get(ctx, key)
	if err != nil {
		t.warn(&model.CacheError{Op: "get", Key: key, Err: err})
		return nil, false
	}
	if raw == nil {
		t.countL2(false)
		return nil, false
	}

	value, expiresAt, ok := t.decode(key, raw)
	if !ok {
		return nil, false
	}
	t.countL2(true)
	t.promote(key, value, expiresAt)
	return value, true
}

func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	t.l1.Set(key, value, minDuration(ttl, t.l1TTL))

	if t.l2 == nil {
		return
	}
	if err := t.l2.Set(ctx, key, t.encode(value, ttl), ttl); err != nil {
		t.warn(&model.CacheError{Op: "set", Key: key, Err: err})
	}
}

// GetMany resolves each key through L1, then fetches the remainder from L2 in
// one round trip, promoting every hit.
func (t *Tiered) GetMany(ctx context.Context, keys []string) map[string][]byte {
	out := make(map[string][]byte, len(keys))
	var missing []string
	for _, key := range keys {
		if value, ok := t.l1.Get(key); ok {
			out[key] = value
		} else {
			missing = append(missing, key)
		}
	}
	if t.l2 == nil || len(missing) == 0 {
		return out
	}

	fetched, err := t.l2.GetMany(ctx, missing)
	if err != nil {
		t.warn(&model.CacheError{Op: "get_many", Err: err})
		return out
	}
	for key, raw := range fetched {
		value, expiresAt, ok := t.decode(key, raw)
		if !ok {
			continue
		}
		t.countL2(true)
		t.promote(key, value, expiresAt)
		out[key] = value
	}
	return out
}

func (t *Tiered) SetMany(ctx context.Context, entries []BatchEntry) {
	batch := make([]BatchEntry, 0, len(entries))
	for _, e := range entries {
		t.l1.Set(e.Key, e.Value, minDuration(e.TTL, t.l1TTL))
		batch = append(batch, BatchEntry{Key: e.Key, Value: t.encode(e.Value, e.TTL), TTL: e.TTL})
	}
	if t.l2 == nil {
		return
	}
	if err := t.l2.SetMany(ctx, batch); err != nil {
		t.warn(&model.CacheError{Op: "set_many", Err: err})
	}
}

func (t *Tiered) Clear() {
	t.l1.Clear()
}

// Maintain purges expired entries in both tiers and reports aggregate stats.
func (t *Tiered) Maintain(ctx context.Context) {
	removed := t.l1.Cleanup()

	var purged int64
	if t.l2 != nil {
		var err error
		purged, err = t.l2.PurgeExpired(ctx)
		if err != nil {
			t.warn(&model.CacheError{Op: "purge", Err: err})
		}
	}

	stats := t.Stats()
	t.log.Info("cache maintenance",
		"l1_removed", removed,
		"l2_purged", purged,
		"l1_size", stats.L1Size,
		"hit_rate", stats.HitRate,
		"compression_ratio", stats.CompressionRatio,
	)
}

type Stats struct {
	L1Size           int     `json:"l1_size"`
	L1Hits           int64   `json:"l1_hits"`
	L1Misses         int64   `json:"l1_misses"`
	L2Hits           int64   `json:"l2_hits"`
	L2Misses         int64   `json:"l2_misses"`
	HitRate          float64 `json:"hit_rate"`
	CompressionRatio float64 `json:"compression_ratio"`
}

func (t *Tiered) Stats() Stats {
	size, hits, misses := t.l1.Stats()

	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		L1Size:   size,
		L1Hits:   hits,
		L1Misses: misses,
		L2Hits:   t.l2Hits,
		L2Misses: t.l2Misses,
	}
	lookups := hits + t.l2Hits + t.l2Misses
	if lookups > 0 {
		s.HitRate = float64(hits+t.l2Hits) / float64(lookups)
	}
	if t.rawBytes > 0 {
		s.CompressionRatio = float64(t.storedBytes) / float64(t.rawBytes)
	}
	return s
}

func (t *Tiered) encode(value []byte, ttl time.Duration) []byte {
	payload := value
	flag := byte(flagPlain)
	if t.threshold > 0 && len(value) > t.threshold {
		payload = snappy.Encode(nil, value)
		flag = flagCompressed
		t.mu.Lock()
		t.rawBytes += int64(len(value))
		t.storedBytes += int64(len(payload))
		t.mu.Unlock()
	}

	out := make([]byte, envHeaderLen+len(payload))
	out[0] = flag
	binary.BigEndian.PutUint64(out[1:9], uint64(time.Now().Add(ttl).UnixMilli()))
	copy(out[envHeaderLen:], payload)
	return out
}

func (t *Tiered) decode(key string, raw []byte) (value []byte, expiresAt time.Time, ok bool) {
	if len(raw) < envHeaderLen {
		t.countL2(false)
		return nil, time.Time{}, false
	}
	expiresAt = time.UnixMilli(int64(binary.BigEndian.Uint64(raw[1:9])))
	payload := raw[envHeaderLen:]

	if raw[0] == flagCompressed {
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			t.warn(&model.CacheError{Op: "decompress", Key: key, Err: err})
			t.countL2(false)
			return nil, time.Time{}, false
		}
		return decoded, expiresAt, true
	}
	// Copy so callers never alias the envelope buffer.
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, expiresAt, true
}

// promote stores an L2 hit into L1 for the remaining lifetime. A value whose
// TTL already elapsed is never promoted.
func (t *Tiered) promote(key string, value []byte, expiresAt time.Time) {
	remaining := time.Until(expiresAt)
	if remaining <= 0 {
		return
	}
	t.l1.Set(key, value, minDuration(remaining, t.l1TTL))
}

func (t *Tiered) countL2(hit bool) {
	t.mu.Lock()
	if hit {
		t.l2Hits++
	} else {
		t.l2Misses++
	}
	t.mu.Unlock()
}

func (t *Tiered) warn(err error) {
	t.log.Warn("cache degraded", "err", err)
}

func minDuration(a, b time.Duration) time.Duration {
	if b <= 0 {
		return a
	}
	if a <= 0 || a > b {
		return b
	}
	return a
}
