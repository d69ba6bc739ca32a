// Package testutils provides shared helpers for tests across the module.
package testutils

import (
	"testing"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/depthcloud/camera"
	"go.viam.com/depthcloud/depth"
)

// NewConstantFrame returns a frame with every sample set to d.
func NewConstantFrame(width, height int, d uint16, stamp time.Time) *depth.Frame {
	frame := depth.NewFrame(width, height)
	frame.Stamp = stamp
	for i := range frame.Samples {
		frame.Samples[i] = d
	}
	return frame
}

// NewRampFrame returns a frame whose samples count up row-major from
// zero. Note sample zero is the invalid depth sentinel.
func NewRampFrame(width, height int, stamp time.Time) *depth.Frame {
	frame := depth.NewFrame(width, height)
	frame.Stamp = stamp
	for i := range frame.Samples {
		frame.Samples[i] = uint16(i)
	}
	return frame
}

// NewIntrinsics returns a centered pinhole calibration for a width by
// height sensor with a 500 pixel focal length.
func NewIntrinsics(width, height int) camera.Intrinsics {
	return camera.Intrinsics{
		Width:  width,
		Height: height,
		Fx:     500,
		Fy:     500,
		Ppx:    float64(width) / 2,
		Ppy:    float64(height) / 2,
	}
}

var errAssertionFailed = errors.New("assertion failed")

// WaitForAssertion repeatedly runs assertion until it passes or a ten
// second deadline expires. Failures before the deadline are swallowed;
// after it the assertion runs once more reporting into tb.
func WaitForAssertion(tb testing.TB, assertion func(tb testing.TB)) {
	tb.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		quiet := &quietTB{TB: tb}
		func() {
			defer func() {
				if r := recover(); r != nil && r != errAssertionFailed {
					panic(r)
				}
			}()
			assertion(quiet)
		}()
		if !quiet.failed {
			return
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	assertion(tb)
}

// quietTB records failures instead of reporting them.
type quietTB struct {
	testing.TB
	failed bool
}

func (tb *quietTB) Error(args ...interface{})                 { tb.failed = true }
func (tb *quietTB) Errorf(format string, args ...interface{}) { tb.failed = true }
func (tb *quietTB) Fail()                                     { tb.failed = true }

func (tb *quietTB) FailNow() {
	tb.failed = true
	panic(errAssertionFailed)
}

func (tb *quietTB) Fatal(args ...interface{}) {
	tb.failed = true
	panic(errAssertionFailed)
}

func (tb *quietTB) Fatalf(format string, args ...interface{}) {
	tb.failed = true
	panic(errAssertionFailed)
}
