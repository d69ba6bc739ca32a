package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii denotes an ascii PCD file.
	PCDAscii PCDType = 0
	// PCDBinary denotes a binary PCD file.
	PCDBinary PCDType = 1
	// PCDCompressed denotes a binary compressed PCD file.
	PCDCompressed PCDType = 2
)

// ToPCD writes the cloud as a PCD of the given type. The WIDTH and HEIGHT
// header fields carry the cloud's pixel grid, so organized consumers can
// recover which pixel each point came from. Invalid points are written as
// NaN markers, the PCD convention for unmeasured pixels.
func (c *Cloud) ToPCD(out io.Writer, outputType PCDType) error {
	if len(c.Points) != c.Width*c.Height {
		return errors.Errorf("cloud of size (%d, %d) has %d points", c.Width, c.Height, len(c.Points))
	}
	var dataType string
	switch outputType {
	case PCDAscii:
		dataType = "ascii"
	case PCDBinary:
		dataType = "binary"
	case PCDCompressed:
		return errors.New("compressed PCD not yet implemented")
	default:
		return errors.Errorf("unknown pcd type %d", outputType)
	}

	_, err := fmt.Fprintf(out, "VERSION .7\n"+
		"FIELDS x y z\n"+
		"SIZE 4 4 4\n"+
		"TYPE F F F\n"+
		"COUNT 1 1 1\n"+
		"WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n",
		c.Width, c.Height, c.Size(), dataType)
	if err != nil {
		return err
	}

	if outputType == PCDBinary {
		buf := make([]byte, 12)
		for _, p := range c.Points {
			binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(float32(p.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(p.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(p.Z)))
			if _, err := out.Write(buf); err != nil {
				return err
			}
		}
		return nil
	}

	for _, p := range c.Points {
		if IsInvalid(p) {
			if _, err := fmt.Fprint(out, "nan nan nan\n"); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(out, "%f %f %f\n", p.X, p.Y, p.Z); err != nil {
			return err
		}
	}
	return nil
}

// WritePCDFile writes the cloud to the given path as a PCD.
func (c *Cloud) WritePCDFile(fn string, outputType PCDType) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	w := bufio.NewWriter(f)
	if err := c.ToPCD(w, outputType); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}
