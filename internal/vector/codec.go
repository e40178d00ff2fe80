package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
)

// Matrix file layout (little-endian):
//
//	magic   [4]byte "WRVX"
//	version uint32
//	dim     uint32
//	rows    uint64
//	data    rows*dim float32 (IEEE-754 bits)
//	crc     uint32 (IEEE CRC-32 of data)
const formatVersion uint32 = 1

var magic = [4]byte{'W', 'R', 'V', 'X'}

// Limits on header fields. A header beyond them is corrupt.
const (
	maxRows = 1 << 28
	maxDim  = 1 << 16
	// maxElements bounds rows*dim (16 GiB of float32).
	maxElements = 1 << 32

	headerSize  = 20
	trailerSize = 4
	// readChunk caps the preallocation made from header values.
	readChunk = 1 << 16
)

// ErrBadFormat is returned for files that are not a readable matrix of this version.
var ErrBadFormat = errors.New("invalid vector matrix file")

// Header is the fixed-size prefix of a matrix file.
type Header struct {
	Version uint32
	Dim     int
	Rows    int
}

// WriteTo writes the index as a matrix file. Vectors are written bit-for-bit.
func (f *FlatIndex) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	hdr := make([]byte, headerSize)
	copy(hdr[0:4], magic[:])
	binary.LittleEndian.PutUint32(hdr[4:8], formatVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(f.dim))
	binary.LittleEndian.PutUint64(hdr[12:20], uint64(f.Len()))
	m, err := bw.Write(hdr)
	n += int64(m)
	if err != nil {
		return n, fmt.Errorf("write header: %w", err)
	}
	crc := crc32.NewIEEE()
	buf := make([]byte, 4)
	for _, v := range f.data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		_, _ = crc.Write(buf)
		m, err = bw.Write(buf)
		n += int64(m)
		if err != nil {
			return n, fmt.Errorf("write vectors: %w", err)
		}
	}
	binary.LittleEndian.PutUint32(buf, crc.Sum32())
	m, err = bw.Write(buf)
	n += int64(m)
	if err != nil {
		return n, fmt.Errorf("write checksum: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("flush: %w", err)
	}
	return n, nil
}

// ReadHeader reads and validates only the header of a matrix file.
func ReadHeader(r io.Reader) (Header, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Header{}, fmt.Errorf("%w: read header: %v", ErrBadFormat, err)
	}
	if [4]byte(hdr[0:4]) != magic {
		return Header{}, fmt.Errorf("%w: bad magic", ErrBadFormat)
	}
	h := Header{
		Version: binary.LittleEndian.Uint32(hdr[4:8]),
		Dim:     int(binary.LittleEndian.Uint32(hdr[8:12])),
	}
	rows := binary.LittleEndian.Uint64(hdr[12:20])
	if h.Version != formatVersion {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrBadFormat, h.Version)
	}
	if h.Dim <= 0 {
		return Header{}, fmt.Errorf("%w: dimension %d", ErrBadFormat, h.Dim)
	}
	if h.Dim > maxDim {
		return Header{}, fmt.Errorf("%w: dimension %d too large", ErrBadFormat, h.Dim)
	}
	if rows > maxRows {
		return Header{}, fmt.Errorf("%w: row count %d too large", ErrBadFormat, rows)
	}
	if rows*uint64(h.Dim) > maxElements {
		return Header{}, fmt.Errorf("%w: %d rows of dimension %d too large", ErrBadFormat, rows, h.Dim)
	}
	h.Rows = int(rows)
	return h, nil
}

// FileSize returns the exact byte size of a matrix file with this header.
func (h Header) FileSize() int64 {
	return headerSize + 4*int64(h.Rows)*int64(h.Dim) + trailerSize
}

// ReadFlatIndex reads a matrix file written by WriteTo and verifies its checksum.
func ReadFlatIndex(r io.Reader) (*FlatIndex, error) {
	br := bufio.NewReader(r)
	h, err := ReadHeader(br)
	if err != nil {
		return nil, err
	}
	n := h.Rows * h.Dim
	// the slice grows as data arrives; a lying header cannot force a large allocation
	idx := &FlatIndex{dim: h.Dim, data: make([]float32, 0, min(n, readChunk))}
	crc := crc32.NewIEEE()
	buf := make([]byte, 4)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("%w: read vectors: %v", ErrBadFormat, err)
		}
		_, _ = crc.Write(buf)
		idx.data = append(idx.data, math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	}
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, fmt.Errorf("%w: read checksum: %v", ErrBadFormat, err)
	}
	if binary.LittleEndian.Uint32(buf) != crc.Sum32() {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrBadFormat)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrBadFormat)
	}
	return idx, nil
}
