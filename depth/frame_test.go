package depth

import (
	"testing"
	"time"

	"go.viam.com/test"
)

func TestNewFrame(t *testing.T) {
	f := NewFrame(4, 3)
	test.That(t, f.Width, test.ShouldEqual, 4)
	test.That(t, f.Height, test.ShouldEqual, 3)
	test.That(t, f.Encoding, test.ShouldEqual, Encoding16UC1)
	test.That(t, f.PixelCount(), test.ShouldEqual, 12)
	test.That(t, len(f.Samples), test.ShouldEqual, 12)
	test.That(t, f.Validate(), test.ShouldBeNil)

	f.Set(2, 1, 1500)
	test.That(t, f.At(2, 1), test.ShouldEqual, 1500)
	test.That(t, f.Samples[1*4+2], test.ShouldEqual, 1500)
}

func TestNewFrameFromSamples(t *testing.T) {
	stamp := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	samples := []uint16{0, 2000}
	f, err := NewFrameFromSamples(2, 1, samples, stamp)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Stamp, test.ShouldEqual, stamp)
	test.That(t, f.At(1, 0), test.ShouldEqual, 2000)

	_, err = NewFrameFromSamples(3, 1, samples, stamp)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected 3")
}

func TestFrameValidate(t *testing.T) {
	f := NewFrame(2, 2)
	test.That(t, f.Validate(), test.ShouldBeNil)

	f.Encoding = "32FC1"
	err := f.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unsupported depth encoding")

	f.Encoding = Encoding16UC1
	f.Width = 0
	test.That(t, f.Validate(), test.ShouldNotBeNil)
}

func TestMetadata(t *testing.T) {
	md, err := NewMetadata(640, 480, 5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, md.PixelCount, test.ShouldEqual, 640*480)
	test.That(t, md.DepthScale, test.ShouldEqual, DefaultDepthScale)
	test.That(t, md.InvalidDepth, test.ShouldEqual, InvalidDepth)
	test.That(t, md.MaxDepth, test.ShouldEqual, 5)
	test.That(t, md.Validate(), test.ShouldBeNil)

	_, err = NewMetadata(0, 480, 0)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewMetadata(640, 480, -1)
	test.That(t, err, test.ShouldNotBeNil)

	bad := md
	bad.DepthScale = 0
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = md
	bad.PixelCount = 7
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
}

func TestMetadataForFrame(t *testing.T) {
	f := NewFrame(8, 6)
	md, err := MetadataForFrame(f, 2.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, md.Width, test.ShouldEqual, 8)
	test.That(t, md.Height, test.ShouldEqual, 6)
	test.That(t, md.PixelCount, test.ShouldEqual, 48)
	test.That(t, md.MaxDepth, test.ShouldEqual, 2.5)

	// metadata for frames of the same geometry compares equal
	md2, err := MetadataForFrame(NewFrame(8, 6), 2.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, md == md2, test.ShouldBeTrue)

	md3, err := MetadataForFrame(NewFrame(8, 7), 2.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, md == md3, test.ShouldBeFalse)
}
