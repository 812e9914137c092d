package wind

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeNpyArray writes a minimal NPY v1.0 file holding a flat float64
// payload, enough for readNpyHeader/Open to parse.
func writeNpyArray(t *testing.T, path string, shape []int, data []float64) {
	t.Helper()
	shapeStr := ""
	for i, s := range shape {
		if i > 0 {
			shapeStr += ", "
		}
		shapeStr += itoa(s)
	}
	header := "{'descr': '<f8', 'fortran_order': False, 'shape': (" + shapeStr + "), }"
	preamble := 10
	total := preamble + len(header) + 1
	pad := (16 - total%16) % 16
	full := make([]byte, len(header)+pad)
	copy(full, header)
	for i := len(header); i < len(full)-1; i++ {
		full[i] = ' '
	}
	full[len(full)-1] = '\n'

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	f.Write([]byte("\x93NUMPY"))
	f.Write([]byte{1, 0})
	lenBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBuf, uint16(len(full)))
	f.Write(lenBuf)
	f.Write(full)
	for _, v := range data {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
		f.Write(buf)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func testGrid() Grid {
	base := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	return Grid{
		Lat0: 0, LatStep: 10, NLat: 2,
		Lon0: 0, LonStep: 10, NLon: 2,
		Pressures:       []float64{1000, 500},
		Times:           []time.Time{base, base.Add(3 * time.Hour)},
		ComponentStride: 2,
	}
}

// gridData lays out u=idx, v=idx+100 at each of the 2x2x2x2 grid points,
// in (time, pressure, lat, lon, component) order, so exact-gridpoint
// queries have a predictable answer.
func gridData() []float64 {
	data := make([]float64, 0, 32)
	idx := 0
	for t := 0; t < 2; t++ {
		for p := 0; p < 2; p++ {
			for la := 0; la < 2; la++ {
				for lo := 0; lo < 2; lo++ {
					data = append(data, float64(idx), float64(idx+100))
					idx++
				}
			}
		}
	}
	return data
}

func TestOpenAndGetExactGridPoint(t *testing.T) {
	for _, mode := range []Mode{Preload, Memmap} {
		dir := t.TempDir()
		path := filepath.Join(dir, "gep01.data.npy")
		writeNpyArray(t, path, []int{2, 2, 2, 2, 2}, gridData())

		wf, err := Open(path, testGrid(), mode)
		if err != nil {
			t.Fatalf("Open (mode=%d): %v", mode, err)
		}
		defer wf.Cleanup()

		if !wf.IsValid() {
			t.Fatalf("expected freshly opened WindFile to be valid")
		}

		// (time=0, pressure=1000, lat=0, lon=0) is the very first grid point.
		u, v, err := wf.Get(testGrid().Times[0], 1000, 0, 0)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if u != 0 || v != 100 {
			t.Fatalf("mode=%d: expected (0,100) at origin grid point, got (%v,%v)", mode, u, v)
		}

		// (time=0, pressure=1000, lat=0, lon=10) is the second grid point.
		u, v, err = wf.Get(testGrid().Times[0], 1000, 0, 10)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if u != 1 || v != 101 {
			t.Fatalf("mode=%d: expected (1,101) at second grid point, got (%v,%v)", mode, u, v)
		}
	}
}

func TestGetOutOfRangeTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gep01.data.npy")
	writeNpyArray(t, path, []int{2, 2, 2, 2, 2}, gridData())

	wf, err := Open(path, testGrid(), Preload)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer wf.Cleanup()

	_, _, err = wf.Get(testGrid().Times[0].Add(-time.Hour), 1000, 0, 0)
	if err == nil {
		t.Fatalf("expected error for out-of-range time")
	}
}

func TestCleanupInvalidatesWindFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gep01.data.npy")
	writeNpyArray(t, path, []int{2, 2, 2, 2, 2}, gridData())

	wf, err := Open(path, testGrid(), Preload)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	wf.Cleanup()
	if wf.IsValid() {
		t.Fatalf("expected WindFile to be invalid after Cleanup")
	}
}
