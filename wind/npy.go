package wind

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// npyHeader is the minimal subset of the NPY v1.0 format the Wind Field
// needs: the array's shape and the byte offset where raw data begins, so
// the remainder of the file can be mmap'd directly instead of copied.
type npyHeader struct {
	Shape      []int
	DataOffset int64
}

var shapeRe = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)

// readNpyHeader parses just enough of path's NPY v1.0/v2.0 header to learn
// the array shape and where the raw little-endian float64 payload begins,
// mirroring what windfile.py gets for free from numpy.load(mmap_mode='r').
func readNpyHeader(path string) (*npyHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, 6)
	if _, err := readFull(r, magic); err != nil {
		return nil, err
	}
	if string(magic) != "\x93NUMPY" {
		return nil, fmt.Errorf("%s: not an NPY file", path)
	}
	ver := make([]byte, 2)
	if _, err := readFull(r, ver); err != nil {
		return nil, err
	}

	var headerLen int
	var preambleLen int64
	if ver[0] == 1 {
		lenBuf := make([]byte, 2)
		if _, err := readFull(r, lenBuf); err != nil {
			return nil, err
		}
		headerLen = int(binary.LittleEndian.Uint16(lenBuf))
		preambleLen = 6 + 2 + 2
	} else {
		lenBuf := make([]byte, 4)
		if _, err := readFull(r, lenBuf); err != nil {
			return nil, err
		}
		headerLen = int(binary.LittleEndian.Uint32(lenBuf))
		preambleLen = 6 + 2 + 4
	}

	headerBytes := make([]byte, headerLen)
	if _, err := readFull(r, headerBytes); err != nil {
		return nil, err
	}
	header := string(headerBytes)

	m := shapeRe.FindStringSubmatch(header)
	if m == nil {
		return nil, fmt.Errorf("%s: could not parse shape from header %q", path, header)
	}
	var shape []int
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%s: bad shape component %q", path, part)
		}
		shape = append(shape, n)
	}

	return &npyHeader{Shape: shape, DataOffset: preambleLen + int64(headerLen)}, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		k, err := r.Read(buf[n:])
		n += k
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
