// Package predcache implements the prediction-result memoization cache,
// grounded on simulate.py's _prediction_cache / _cache_prediction /
// _get_cached_prediction. Writes are intentionally lock-free: under the
// ~441-concurrent-call load an ensemble run can generate, a mutex around
// every cache write becomes the bottleneck, and a few extra entries past
// maxEntries before the next trim is an acceptable trade per the original.
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package predcache

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/habsim/core/cluster"
	"github.com/habsim/core/xlog"
)

var log = xlog.Named("predcache")

type record struct {
	compressed []byte
	member     string
	cachedAt   int64 // unix nanos, read/written atomically
}

// Cache is a bounded, TTL-expiring cache of encoded Trajectory results,
// keyed by a caller-computed request fingerprint. It keeps no access
// recency: Get does not refresh an entry, and when over budget the trim
// drops expired entries first and then arbitrary ones, not the least
// recently used.
type Cache struct {
	m sync.Map // string -> *record

	maxEntries int32
	ttl        time.Duration
	size       int32

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func New(maxEntries int, ttl time.Duration) (*Cache, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Cache{maxEntries: int32(maxEntries), ttl: ttl, encoder: enc, decoder: dec}, nil
}

func encodeTrajectory(t cluster.Trajectory) []byte {
	buf := make([]byte, 0, 64*len(t.Records))
	for _, r := range t.Records {
		var b [48]byte
		putFloat(b[0:8], r.Lat)
		putFloat(b[8:16], r.Lon)
		putFloat(b[16:24], r.AltM)
		putFloat(b[24:32], r.AscentMS)
		putFloat(b[32:40], r.WindU)
		putFloat(b[40:48], r.WindV)
		buf = append(buf, b[:]...)
	}
	return buf
}

func putFloat(b []byte, v float64) {
	bits := math.Float64bits(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(bits >> (8 * uint(i)))
	}
}

func getFloat(b []byte) float64 {
	var bits uint64
	for i := 0; i < 8; i++ {
		bits |= uint64(b[i]) << (8 * uint(i))
	}
	return math.Float64frombits(bits)
}

// DecodeRecords reverses encodeTrajectory, turning the raw bytes returned
// by Get back into Records a caller can serve directly on a cache hit
// instead of re-running the flight.
func DecodeRecords(raw []byte) []cluster.Record {
	records := make([]cluster.Record, 0, len(raw)/48)
	for off := 0; off+48 <= len(raw); off += 48 {
		records = append(records, cluster.Record{
			Lat:      getFloat(raw[off : off+8]),
			Lon:      getFloat(raw[off+8 : off+16]),
			AltM:     getFloat(raw[off+16 : off+24]),
			AscentMS: getFloat(raw[off+24 : off+32]),
			WindU:    getFloat(raw[off+32 : off+40]),
			WindV:    getFloat(raw[off+40 : off+48]),
		})
	}
	return records
}

// Put stores trajectory under key without taking a lock: sync.Map's
// internal synchronization is enough, and a racing Put for the same key
// from two ensemble members just lets the later write win.
func (c *Cache) Put(key string, member string, t cluster.Trajectory) {
	raw := encodeTrajectory(t)
	compressed := c.encoder.EncodeAll(raw, nil)
	r := &record{compressed: compressed, member: member, cachedAt: time.Now().UnixNano()}
	if _, loaded := c.m.LoadOrStore(key, r); !loaded {
		atomic.AddInt32(&c.size, 1)
	} else {
		c.m.Store(key, r)
	}
	if atomic.LoadInt32(&c.size) > c.maxEntries {
		go c.trimApprox()
	}
}

// Get returns the decompressed raw trajectory bytes for key, or ok=false
// if absent or expired.
func (c *Cache) Get(key string) (raw []byte, ok bool) {
	v, found := c.m.Load(key)
	if !found {
		return nil, false
	}
	r := v.(*record)
	if time.Since(time.Unix(0, r.cachedAt)) > c.ttl {
		c.m.Delete(key)
		atomic.AddInt32(&c.size, -1)
		return nil, false
	}
	decoded, err := c.decoder.DecodeAll(r.compressed, nil)
	if err != nil {
		return nil, false
	}
	return decoded, true
}

// trimApprox removes expired and, if still over budget, an arbitrary
// sample of entries, in whatever order sync.Map's Range yields them. No
// recency ordering is applied, so a recently read entry can be dropped
// before an older one.
func (c *Cache) trimApprox() {
	now := time.Now()
	removed := 0
	c.m.Range(func(k, v interface{}) bool {
		r := v.(*record)
		if now.Sub(time.Unix(0, r.cachedAt)) > c.ttl {
			c.m.Delete(k)
			removed++
		}
		return true
	})
	if removed > 0 {
		atomic.AddInt32(&c.size, int32(-removed))
	}

	if atomic.LoadInt32(&c.size) <= c.maxEntries {
		return
	}
	overshoot := int(atomic.LoadInt32(&c.size) - c.maxEntries)
	c.m.Range(func(k, v interface{}) bool {
		if overshoot <= 0 {
			return false
		}
		c.m.Delete(k)
		overshoot--
		atomic.AddInt32(&c.size, -1)
		return true
	})
	log.Infof("trimmed prediction cache to %d entries", atomic.LoadInt32(&c.size))
}

func (c *Cache) Len() int { return int(atomic.LoadInt32(&c.size)) }
