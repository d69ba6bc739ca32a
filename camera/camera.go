// Package camera holds the pinhole calibration a depth camera reports and
// the projection transform derived from it.
package camera

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

// ErrNoCalibration is when a camera does not have calibration parameters.
var ErrNoCalibration = errors.New("camera calibration parameters are not available")

// NewNoCalibrationError returns an error with a custom message when calibration is missing.
func NewNoCalibrationError(msg string) error {
	return errors.Wrapf(ErrNoCalibration, msg)
}

// Intrinsics holds the pinhole camera parameters a depth camera reports
// alongside its frames.
type Intrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for Intrinsics have valid inputs.
func (params *Intrinsics) CheckValid() error {
	if params == nil {
		return NewNoCalibrationError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoCalibrationError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoCalibrationError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoCalibrationError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoCalibrationError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoCalibrationError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// Transform returns the projection transform these intrinsics describe.
func (params *Intrinsics) Transform() Transform {
	return Transform{Cx: params.Ppx, Cy: params.Ppy, Fx: params.Fx, Fy: params.Fy}
}

// CameraMatrix creates a new camera matrix from the intrinsics.
func (params *Intrinsics) CameraMatrix() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	m.Set(0, 0, params.Fx)
	m.Set(1, 1, params.Fy)
	m.Set(0, 2, params.Ppx)
	m.Set(1, 2, params.Ppy)
	m.Set(2, 2, 1)
	return m
}

// PixelToPoint transforms a pixel with depth to a 3D point. Coordinates
// and depth are in the same length unit.
func (params *Intrinsics) PixelToPoint(x, y, z float64) (float64, float64, float64) {
	xOverZ := (x - params.Ppx) / params.Fx
	yOverZ := (y - params.Ppy) / params.Fy
	return xOverZ * z, yOverZ * z, z
}

// NewIntrinsicsFromJSONFile takes in a file path to a JSON and turns it into Intrinsics.
func NewIntrinsicsFromJSONFile(jsonPath string) (*Intrinsics, error) {
	// open json file
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	// read file as a byte array
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	intrinsics := &Intrinsics{}
	if err := json.Unmarshal(byteValue, intrinsics); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	return intrinsics, nil
}

// Transform is the pinhole projection a prepared kernel applies to every
// pixel. Cx and Cy are the principal point, Fx and Fy the focal lengths,
// all in pixels.
type Transform struct {
	Cx float64
	Cy float64
	Fx float64
	Fy float64
}

// CheckValid checks if the fields for Transform have valid inputs.
func (tf Transform) CheckValid() error {
	if tf.Fx <= 0 {
		return NewNoCalibrationError(fmt.Sprintf("Invalid focal length Fx = %#v", tf.Fx))
	}
	if tf.Fy <= 0 {
		return NewNoCalibrationError(fmt.Sprintf("Invalid focal length Fy = %#v", tf.Fy))
	}
	return nil
}

// Model tracks the calibration most recently reported by a camera. A
// camera may start streaming before its calibration arrives, so a Model
// begins empty and reports ErrNoCalibration until the first Update.
type Model struct {
	intrinsics *Intrinsics
}

// Update stores new calibration parameters after validating them.
func (m *Model) Update(params Intrinsics) error {
	if err := params.CheckValid(); err != nil {
		return err
	}
	m.intrinsics = &params
	return nil
}

// HasCalibration reports whether calibration has been received.
func (m *Model) HasCalibration() bool {
	return m.intrinsics != nil
}

// Intrinsics returns the stored calibration parameters.
func (m *Model) Intrinsics() (Intrinsics, error) {
	if m.intrinsics == nil {
		return Intrinsics{}, NewNoCalibrationError("no calibration received yet")
	}
	return *m.intrinsics, nil
}

// Transform returns the projection transform of the stored calibration.
func (m *Model) Transform() (Transform, error) {
	if m.intrinsics == nil {
		return Transform{}, NewNoCalibrationError("no calibration received yet")
	}
	return m.intrinsics.Transform(), nil
}
