package camera

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestIntrinsicsCheckValid(t *testing.T) {
	params := &Intrinsics{
		Width:  1280,
		Height: 720,
		Fx:     900.538,
		Fy:     900.818,
		Ppx:    648.934,
		Ppy:    367.736,
	}
	test.That(t, params.CheckValid(), test.ShouldBeNil)

	badSize := *params
	badSize.Width = 0
	err := badSize.CheckValid()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrNoCalibration), test.ShouldBeTrue)

	badFx := *params
	badFx.Fx = 0
	err = badFx.CheckValid()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "Fx")

	badFy := *params
	badFy.Fy = -1
	err = badFy.CheckValid()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "Fy")

	badPpx := *params
	badPpx.Ppx = -5
	err = badPpx.CheckValid()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "Ppx")

	var nilParams *Intrinsics
	test.That(t, nilParams.CheckValid(), test.ShouldNotBeNil)
}

func TestIntrinsicsTransform(t *testing.T) {
	params := &Intrinsics{
		Width:  640,
		Height: 480,
		Fx:     500,
		Fy:     600,
		Ppx:    320,
		Ppy:    240,
	}
	tf := params.Transform()
	test.That(t, tf.Cx, test.ShouldEqual, 320)
	test.That(t, tf.Cy, test.ShouldEqual, 240)
	test.That(t, tf.Fx, test.ShouldEqual, 500)
	test.That(t, tf.Fy, test.ShouldEqual, 600)
	test.That(t, tf.CheckValid(), test.ShouldBeNil)

	tf.Fx = 0
	test.That(t, tf.CheckValid(), test.ShouldNotBeNil)
}

func TestCameraMatrix(t *testing.T) {
	params := &Intrinsics{
		Width:  640,
		Height: 480,
		Fx:     500,
		Fy:     600,
		Ppx:    320,
		Ppy:    240,
	}
	m := params.CameraMatrix()
	test.That(t, m.At(0, 0), test.ShouldEqual, 500)
	test.That(t, m.At(1, 1), test.ShouldEqual, 600)
	test.That(t, m.At(0, 2), test.ShouldEqual, 320)
	test.That(t, m.At(1, 2), test.ShouldEqual, 240)
	test.That(t, m.At(2, 2), test.ShouldEqual, 1)
	test.That(t, m.At(1, 0), test.ShouldEqual, 0)
}

func TestPixelToPoint(t *testing.T) {
	params := &Intrinsics{
		Width:  640,
		Height: 480,
		Fx:     500,
		Fy:     500,
		Ppx:    320,
		Ppy:    240,
	}
	x, y, z := params.PixelToPoint(320, 240, 2)
	test.That(t, x, test.ShouldEqual, 0)
	test.That(t, y, test.ShouldEqual, 0)
	test.That(t, z, test.ShouldEqual, 2)

	x, y, z = params.PixelToPoint(570, 240, 2)
	test.That(t, x, test.ShouldEqual, 1)
	test.That(t, y, test.ShouldEqual, 0)
	test.That(t, z, test.ShouldEqual, 2)
}

func TestNewIntrinsicsFromJSONFile(t *testing.T) {
	params, err := NewIntrinsicsFromJSONFile("testdata/intrinsics.json")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params.Width, test.ShouldEqual, 1280)
	test.That(t, params.Height, test.ShouldEqual, 720)
	test.That(t, params.Fx, test.ShouldEqual, 900.538)
	test.That(t, params.Ppy, test.ShouldEqual, 367.736)

	_, err = NewIntrinsicsFromJSONFile("testdata/does_not_exist.json")
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewIntrinsicsFromJSONFile("testdata/intrinsics_bad.json")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrNoCalibration), test.ShouldBeTrue)
}

func TestModel(t *testing.T) {
	var m Model
	test.That(t, m.HasCalibration(), test.ShouldBeFalse)
	_, err := m.Transform()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrNoCalibration), test.ShouldBeTrue)
	_, err = m.Intrinsics()
	test.That(t, errors.Is(err, ErrNoCalibration), test.ShouldBeTrue)

	params := Intrinsics{Width: 640, Height: 480, Fx: 500, Fy: 500, Ppx: 320, Ppy: 240}
	test.That(t, m.Update(params), test.ShouldBeNil)
	test.That(t, m.HasCalibration(), test.ShouldBeTrue)

	tf, err := m.Transform()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tf.Cx, test.ShouldEqual, 320)

	stored, err := m.Intrinsics()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stored, test.ShouldResemble, params)

	// a bad update leaves the previous calibration in place
	bad := params
	bad.Fx = 0
	test.That(t, m.Update(bad), test.ShouldNotBeNil)
	tf, err = m.Transform()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tf.Fx, test.ShouldEqual, 500)
}
