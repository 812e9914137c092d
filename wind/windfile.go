// Package wind provides the 4-D (time, pressure, lat, lon) wind field
// reader the Integrator queries at every simulation step, grounded on
// windfile.py: preload vs memory-mapped backing storage, the altitude <->
// pressure conversion, and quadrilinear interpolation over the
// surrounding 2x2x2x2 neighborhood.
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package wind

import (
	"container/list"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/habsim/core/xlog"
)

var log = xlog.Named("wind")

// Grid describes the regular lat/lon/pressure/time axes backing a WindFile.
type Grid struct {
	Lat0, LatStep   float64
	NLat            int
	Lon0, LonStep   float64
	NLon            int
	Pressures       []float64 // hPa, strictly decreasing with altitude convention
	Times           []time.Time
	ComponentStride int // 2 for (u, v); components are interleaved fastest-varying
}

// Mode selects how the backing array bytes are made available.
type Mode int

const (
	Memmap Mode = iota
	Preload
)

// WindFile is one decompressed GEFS array (one ensemble member, one
// cycle), either fully resident in RAM (Preload) or backed by a
// read-only mmap (Memmap, the low-RAM / I/O-bound mode).
type WindFile struct {
	grid Grid
	mode Mode

	mmapped []byte // Memmap mode: the raw file bytes
	fh      *os.File
	data    []float64 // Preload mode: decoded float64 payload; nil once cleaned up
	offset  int64      // byte offset of the payload within mmapped (Memmap mode)

	mu          sync.Mutex
	hpaCache    *lruCache // rounded altitude (cm) -> hPa
	cosLatCache *lruCache // rounded lat (millideg) -> cos(lat)
}

const (
	earthRadiusM  = 6.371e6
	altHpaRegimeM = 11000.0
)

// Open loads the array at dataPath (the sibling ".data.npy" file
// extracted from the originating .npz) with the given grid metadata.
func Open(dataPath string, grid Grid, mode Mode) (*WindFile, error) {
	hdr, err := readNpyHeader(dataPath)
	if err != nil {
		return nil, err
	}

	wf := &WindFile{
		grid:        grid,
		mode:        mode,
		hpaCache:    newLRU(10000),
		cosLatCache: newLRU(10000),
	}

	f, err := os.Open(dataPath)
	if err != nil {
		return nil, err
	}

	switch mode {
	case Preload:
		defer f.Close()
		if _, err := f.Seek(hdr.DataOffset, 0); err != nil {
			return nil, err
		}
		n := productInts(hdr.Shape)
		raw := make([]byte, n*8)
		if _, err := readFullFile(f, raw); err != nil {
			return nil, err
		}
		data := make([]float64, n)
		for i := range data {
			bits := binary.LittleEndian.Uint64(raw[i*8:])
			data[i] = math.Float64frombits(bits)
		}
		wf.data = data
	case Memmap:
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		b, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			return nil, err
		}
		wf.mmapped = b
		wf.fh = f
		wf.offset = hdr.DataOffset
	}
	log.Infof("opened %s shape=%v mode=%d", dataPath, hdr.Shape, mode)
	return wf, nil
}

func productInts(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func readFullFile(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (wf *WindFile) valueAt(idx int) float64 {
	if wf.data != nil {
		return wf.data[idx]
	}
	off := wf.offset + int64(idx*8)
	bits := binary.LittleEndian.Uint64(wf.mmapped[off : off+8])
	return math.Float64frombits(bits)
}

// AltToHpa converts geopotential altitude (m) to pressure (hPa) using the
// two-regime barometric formula, cached per windfile.py's
// functools.lru_cache(maxsize=10000) keyed on rounded altitude.
func (wf *WindFile) AltToHpa(altM float64) float64 {
	key := int64(math.Round(altM*100)) // cm resolution
	if v, ok := wf.hpaCache.get(key); ok {
		return v
	}
	v := altToHpa(altM)
	wf.hpaCache.put(key, v)
	return v
}

func altToHpa(altM float64) float64 {
	if altM <= altHpaRegimeM {
		return 1013.25 * math.Pow(1-2.25577e-5*altM, 5.25588)
	}
	return 226.321 * math.Exp(-(altM-altHpaRegimeM)/6341.62)
}

// HpaToAlt is the inverse of AltToHpa.
func HpaToAlt(hpa float64) float64 {
	altAtRegime := altToHpa(altHpaRegimeM)
	if hpa >= altAtRegime {
		return (1 - math.Pow(hpa/1013.25, 1/5.25588)) / 2.25577e-5
	}
	return altHpaRegimeM - 6341.62*math.Log(hpa/226.321)
}

// Get returns the interpolated (u, v) wind components (m/s) at the given
// time/pressure/lat/lon, via quadrilinear interpolation over the
// surrounding 2x2x2x2 grid neighborhood.
func (wf *WindFile) Get(t time.Time, pressureHpa, lat, lon float64) (u, v float64, err error) {
	ti0, tf, err := wf.timeIndex(t)
	if err != nil {
		return 0, 0, err
	}
	pi0, pf, err := wf.pressureIndex(pressureHpa)
	if err != nil {
		return 0, 0, err
	}
	lai0, laf := wf.latIndex(lat)
	loi0, lof := wf.lonIndex(lon)

	var su, sv float64
	for dt := 0; dt <= 1; dt++ {
		wt := weight(dt, tf)
		if wt == 0 {
			continue
		}
		for dp := 0; dp <= 1; dp++ {
			wp := weight(dp, pf)
			if wp == 0 {
				continue
			}
			for dla := 0; dla <= 1; dla++ {
				wla := weight(dla, laf)
				if wla == 0 {
					continue
				}
				for dlo := 0; dlo <= 1; dlo++ {
					wlo := weight(dlo, lof)
					w := wt * wp * wla * wlo
					if w == 0 {
						continue
					}
					uu, vv := wf.rawAt(ti0+dt, pi0+dp, lai0+dla, loi0+dlo)
					su += w * uu
					sv += w * vv
				}
			}
		}
	}
	return su, sv, nil
}

func weight(d int, frac float64) float64 {
	if d == 0 {
		return 1 - frac
	}
	return frac
}

func (wf *WindFile) rawAt(ti, pi, lai, loi int) (u, v float64) {
	nLat, nLon := wf.grid.NLat, wf.grid.NLon
	nP := len(wf.grid.Pressures)
	ti = clampInt(ti, 0, len(wf.grid.Times)-1)
	pi = clampInt(pi, 0, nP-1)
	lai = clampInt(lai, 0, nLat-1)
	loi = clampInt(loi, 0, nLon-1)

	base := (((ti*nP+pi)*nLat+lai)*nLon + loi) * wf.grid.ComponentStride
	return wf.valueAt(base), wf.valueAt(base + 1)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (wf *WindFile) timeIndex(t time.Time) (idx int, frac float64, err error) {
	times := wf.grid.Times
	if t.Before(times[0]) || t.After(times[len(times)-1]) {
		return 0, 0, fmt.Errorf("time %v out of range [%v, %v]", t, times[0], times[len(times)-1])
	}
	for i := 0; i < len(times)-1; i++ {
		if !t.Before(times[i]) && !t.After(times[i+1]) {
			total := times[i+1].Sub(times[i]).Seconds()
			if total == 0 {
				return i, 0, nil
			}
			return i, t.Sub(times[i]).Seconds() / total, nil
		}
	}
	return len(times) - 2, 1, nil
}

func (wf *WindFile) pressureIndex(hpa float64) (idx int, frac float64, err error) {
	p := wf.grid.Pressures
	// Pressures are stored highest (ground) to lowest (altitude ascending).
	if hpa > p[0] || hpa < p[len(p)-1] {
		return 0, 0, fmt.Errorf("pressure %.2f hPa out of range [%.2f, %.2f]", hpa, p[len(p)-1], p[0])
	}
	for i := 0; i < len(p)-1; i++ {
		if hpa <= p[i] && hpa >= p[i+1] {
			total := p[i] - p[i+1]
			if total == 0 {
				return i, 0, nil
			}
			return i, (p[i] - hpa) / total, nil
		}
	}
	return len(p) - 2, 1, nil
}

func (wf *WindFile) latIndex(lat float64) (idx int, frac float64) {
	pos := (lat - wf.grid.Lat0) / wf.grid.LatStep
	idx = int(math.Floor(pos))
	frac = pos - float64(idx)
	return
}

func (wf *WindFile) lonIndex(lon float64) (idx int, frac float64) {
	pos := (lon - wf.grid.Lon0) / wf.grid.LonStep
	idx = int(math.Floor(pos))
	frac = pos - float64(idx)
	return
}

// CosLat returns cos(lat in radians), cached like the altitude->pressure
// table since it is recomputed on every integrator sub-step.
func (wf *WindFile) CosLat(latDeg float64) float64 {
	key := int64(math.Round(latDeg * 1000))
	if v, ok := wf.cosLatCache.get(key); ok {
		return v
	}
	v := math.Cos(latDeg * math.Pi / 180)
	wf.cosLatCache.put(key, v)
	return v
}

// Cleanup releases the backing storage. For preloaded data this drops the
// slice for GC; for memmapped data the mapping is unmapped and the file
// closed. Unlike windfile.py's cleanup(), which only nulls the array for
// non-memmapped instances, this releases memmapped storage as well.
func (wf *WindFile) Cleanup() {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	if wf.data != nil {
		wf.data = nil
	}
	if wf.mmapped != nil {
		_ = unix.Munmap(wf.mmapped)
		wf.mmapped = nil
	}
	if wf.fh != nil {
		wf.fh.Close()
		wf.fh = nil
	}
}

// IsValid reports whether the backing array is still available, mirroring
// the simulator-cache validity check `wind_file.data is None`.
func (wf *WindFile) IsValid() bool {
	return wf.data != nil || wf.mmapped != nil
}

// lruCache is a small bounded cache (container/list + map), hand-rolled
// because no pack dependency provides an in-process bounded numeric cache
// (see DESIGN.md).
type lruCache struct {
	mu       sync.Mutex
	cap      int
	ll       *list.List
	items    map[int64]*list.Element
}

type lruEntry struct {
	key int64
	val float64
}

func newLRU(capacity int) *lruCache {
	return &lruCache{cap: capacity, ll: list.New(), items: make(map[int64]*list.Element, capacity)}
}

func (c *lruCache) get(key int64) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*lruEntry).val, true
	}
	return 0, false
}

func (c *lruCache) put(key int64, val float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).val = val
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&lruEntry{key: key, val: val})
	c.items[key] = el
	if c.ll.Len() > c.cap {
		back := c.ll.Back()
		if back != nil {
			c.ll.Remove(back)
			delete(c.items, back.Value.(*lruEntry).key)
		}
	}
}
