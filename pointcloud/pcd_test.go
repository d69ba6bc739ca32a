package pointcloud

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func makeTestCloud() *Cloud {
	c := NewCloud(2, 1)
	c.Set(0, 0, InvalidPoint())
	c.Set(1, 0, r3.Vector{X: 0, Y: 0, Z: 2})
	return c
}

func TestToPCDAscii(t *testing.T) {
	c := makeTestCloud()
	var buf bytes.Buffer
	test.That(t, c.ToPCD(&buf, PCDAscii), test.ShouldBeNil)

	expected := "VERSION .7\n" +
		"FIELDS x y z\n" +
		"SIZE 4 4 4\n" +
		"TYPE F F F\n" +
		"COUNT 1 1 1\n" +
		"WIDTH 2\n" +
		"HEIGHT 1\n" +
		"VIEWPOINT 0 0 0 1 0 0 0\n" +
		"POINTS 2\n" +
		"DATA ascii\n" +
		"nan nan nan\n" +
		"0.000000 0.000000 2.000000\n"
	test.That(t, buf.String(), test.ShouldEqual, expected)
}

func TestToPCDBinary(t *testing.T) {
	c := makeTestCloud()
	var buf bytes.Buffer
	test.That(t, c.ToPCD(&buf, PCDBinary), test.ShouldBeNil)

	data := buf.String()
	headerEnd := strings.Index(data, "DATA binary\n")
	test.That(t, headerEnd, test.ShouldBeGreaterThan, 0)
	payload := []byte(data[headerEnd+len("DATA binary\n"):])
	test.That(t, len(payload), test.ShouldEqual, 12*c.Size())

	// first point is the NaN marker
	x0 := math.Float32frombits(binary.LittleEndian.Uint32(payload[0:]))
	test.That(t, math.IsNaN(float64(x0)), test.ShouldBeTrue)

	// second point is (0, 0, 2)
	x1 := math.Float32frombits(binary.LittleEndian.Uint32(payload[12:]))
	y1 := math.Float32frombits(binary.LittleEndian.Uint32(payload[16:]))
	z1 := math.Float32frombits(binary.LittleEndian.Uint32(payload[20:]))
	test.That(t, x1, test.ShouldEqual, 0)
	test.That(t, y1, test.ShouldEqual, 0)
	test.That(t, z1, test.ShouldEqual, 2)
}

func TestToPCDErrors(t *testing.T) {
	c := makeTestCloud()
	var buf bytes.Buffer
	err := c.ToPCD(&buf, PCDCompressed)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not yet implemented")

	err = c.ToPCD(&buf, PCDType(42))
	test.That(t, err, test.ShouldNotBeNil)

	c.Points = c.Points[:1]
	err = c.ToPCD(&buf, PCDAscii)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "has 1 points")
}

func TestWritePCDFile(t *testing.T) {
	c := makeTestCloud()
	path := filepath.Join(t.TempDir(), "cloud.pcd")
	test.That(t, c.WritePCDFile(path, PCDBinary), test.ShouldBeNil)

	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.HasPrefix(string(data), "VERSION .7\n"), test.ShouldBeTrue)
	test.That(t, strings.Contains(string(data), "WIDTH 2\nHEIGHT 1\n"), test.ShouldBeTrue)
}
