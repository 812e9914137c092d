// Package elev provides ground-elevation lookups over a memory-mapped
// global elevation grid, grounded on habsim/classes.py's ElevationFile.
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package elev

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/habsim/core/xlog"
)

var log = xlog.Named("elev")

const (
	MinLat = -90.0
	MaxLat = 90.0
	MinLon = -180.0
	MaxLon = 180.0
)

// Field is a lazily-initialized, process-wide elevation grid. sync.Once
// gives the same guarantee as the original's manual double-checked lock
// around first access (see DESIGN.md).
type Field struct {
	path string
	once sync.Once
	err  error

	mmapped []byte
	fh      *os.File
	offset  int64

	nLat, nLon int
}

// New returns a Field that will lazily mmap path on first Lookup.
func New(path string) *Field {
	return &Field{path: path}
}

func (f *Field) init() {
	hdr, err := readNpyHeader(f.path)
	if err != nil {
		f.err = err
		return
	}
	fh, err := os.Open(f.path)
	if err != nil {
		f.err = err
		return
	}
	fi, err := fh.Stat()
	if err != nil {
		fh.Close()
		f.err = err
		return
	}
	b, err := unix.Mmap(int(fh.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		fh.Close()
		f.err = err
		return
	}
	f.mmapped = b
	f.fh = fh
	f.offset = hdr.DataOffset
	f.nLat = hdr.Shape[0]
	f.nLon = hdr.Shape[1]
	log.Infof("opened elevation grid %s (%dx%d)", f.path, f.nLat, f.nLon)
}

func (f *Field) ensure() error {
	f.once.Do(f.init)
	return f.err
}

// Lookup returns the bilinearly-interpolated ground elevation (m) at
// lat/lon, pixel-centered the way the original's PIL-resized grid is
// addressed: column 0 sits at -180 deg, row 0 at the north pole.
func (f *Field) Lookup(lat, lon float64) (float64, error) {
	if err := f.ensure(); err != nil {
		return 0, err
	}
	if lat < MinLat || lat > MaxLat || lon < MinLon || lon > MaxLon {
		return 0, fmt.Errorf("lat/lon (%.4f, %.4f) out of bounds", lat, lon)
	}

	colF := (lon+180)/360*float64(f.nLon) - 0.5
	rowF := (90-lat)/180*float64(f.nLat) - 0.5

	lo0 := int(math.Floor(colF))
	li0 := int(math.Floor(rowF))
	fx := clamp01(colF - float64(lo0))
	fy := clamp01(rowF - float64(li0))

	lo0c := clampInt(lo0, 0, f.nLon-1)
	lo1c := clampInt(lo0+1, 0, f.nLon-1)
	li0c := clampInt(li0, 0, f.nLat-1)
	li1c := clampInt(li0+1, 0, f.nLat-1)

	v00 := f.at(li0c, lo0c)
	v01 := f.at(li0c, lo1c)
	v10 := f.at(li1c, lo0c)
	v11 := f.at(li1c, lo1c)

	top := v00*(1-fx) + v01*fx
	bot := v10*(1-fx) + v11*fx
	v := top*(1-fy) + bot*fy

	v = math.Round(v*100) / 100
	if v < 0 {
		v = 0
	}
	return v, nil
}

// at reads the signed 16-bit elevation sample at grid row lai, column loi.
func (f *Field) at(lai, loi int) float64 {
	idx := lai*f.nLon + loi
	off := f.offset + int64(idx*2)
	v := int16(binary.LittleEndian.Uint16(f.mmapped[off : off+2]))
	return float64(v)
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

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Close releases the memory mapping. Safe to call even if Lookup was
// never invoked.
func (f *Field) Close() error {
	if f.mmapped != nil {
		if err := unix.Munmap(f.mmapped); err != nil {
			return err
		}
		f.mmapped = nil
	}
	if f.fh != nil {
		return f.fh.Close()
	}
	return nil
}
