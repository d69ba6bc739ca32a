package depth

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Raw depth files hold two little endian uint64 dimensions followed by
// width*height little endian uint16 readings in row major order. Files
// ending in .gz are gzip compressed.

const maxRawDimension = 100000

// ParseRawFrame reads a raw depth file from disk.
func ParseRawFrame(fn string) (*Frame, error) {
	var f io.Reader
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open depth file %s", fn)
	}
	if filepath.Ext(fn) == ".gz" {
		f, err = gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
	}
	return ReadRawFrame(bufio.NewReader(f))
}

// ReadRawFrame reads a raw depth frame from the given reader.
func ReadRawFrame(r *bufio.Reader) (*Frame, error) {
	width, err := readNextUint64(r)
	if err != nil {
		return nil, err
	}
	height, err := readNextUint64(r)
	if err != nil {
		return nil, err
	}
	if width == 0 || width > maxRawDimension || height == 0 || height > maxRawDimension {
		return nil, errors.Errorf("bad width or height for depth frame %d %d", width, height)
	}

	f := NewFrame(int(width), int(height))
	buf := make([]byte, 2*len(f.Samples))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "reading depth samples")
	}
	for i := range f.Samples {
		f.Samples[i] = binary.LittleEndian.Uint16(buf[2*i:])
	}
	return f, nil
}

func readNextUint64(r io.Reader) (uint64, error) {
	data := make([]byte, 8)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

// WriteTo writes the frame in the raw depth format.
func (f *Frame) WriteTo(out io.Writer) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	var written int64
	header := make([]byte, 16)
	binary.LittleEndian.PutUint64(header[0:], uint64(f.Width))
	binary.LittleEndian.PutUint64(header[8:], uint64(f.Height))
	n, err := out.Write(header)
	written += int64(n)
	if err != nil {
		return written, err
	}

	buf := make([]byte, 2*len(f.Samples))
	for i, d := range f.Samples {
		binary.LittleEndian.PutUint16(buf[2*i:], d)
	}
	n, err = out.Write(buf)
	written += int64(n)
	if err != nil {
		return written, err
	}
	return written, nil
}

// WriteToFile writes the frame to the given file, gzipping it if the
// file name ends in .gz.
func (f *Frame) WriteToFile(fn string) (err error) {
	//nolint:gosec
	out, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, out.Close())
	}()

	var gout *gzip.Writer
	var w io.Writer = out
	if filepath.Ext(fn) == ".gz" {
		gout = gzip.NewWriter(out)
		w = gout
	}

	if _, err := f.WriteTo(w); err != nil {
		return err
	}
	if gout != nil {
		if err := gout.Close(); err != nil {
			return err
		}
	}
	return out.Sync()
}
