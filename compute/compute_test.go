package compute

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func validParams() KernelParams {
	return KernelParams{
		Width:      2,
		Height:     1,
		DepthScale: 0.001,
		MaxDepth:   0,
		NaN:        float32(math.NaN()),
		Cx:         1,
		Cy:         0,
		Fx:         500,
		Fy:         500,
	}
}

func TestKernelParamsValidate(t *testing.T) {
	p := validParams()
	test.That(t, p.Validate(), test.ShouldBeNil)
	test.That(t, p.PixelCount(), test.ShouldEqual, 2)

	bad := p
	bad.Width = 0
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = p
	bad.DepthScale = 0
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = p
	bad.MaxDepth = -1
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = p
	bad.Fy = 0
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
}

func TestKernelParamsToBytes(t *testing.T) {
	p := validParams()
	p.MaxDepth = 1.5
	buf := p.ToBytes()
	test.That(t, len(buf), test.ShouldEqual, ParamsSize)

	test.That(t, binary.LittleEndian.Uint32(buf[0:]), test.ShouldEqual, uint32(2))
	test.That(t, binary.LittleEndian.Uint32(buf[4:]), test.ShouldEqual, uint32(1))
	test.That(t, math.Float32frombits(binary.LittleEndian.Uint32(buf[8:])), test.ShouldEqual, float32(0.001))
	test.That(t, binary.LittleEndian.Uint32(buf[12:]), test.ShouldEqual, uint32(0))
	test.That(t, math.Float32frombits(binary.LittleEndian.Uint32(buf[16:])), test.ShouldEqual, float32(1.5))
	nan := math.Float32frombits(binary.LittleEndian.Uint32(buf[20:]))
	test.That(t, math.IsNaN(float64(nan)), test.ShouldBeTrue)
	test.That(t, math.Float32frombits(binary.LittleEndian.Uint32(buf[24:])), test.ShouldEqual, float32(1))
	test.That(t, math.Float32frombits(binary.LittleEndian.Uint32(buf[32:])), test.ShouldEqual, float32(500))

	// pad words stay zero
	test.That(t, binary.LittleEndian.Uint32(buf[40:]), test.ShouldEqual, uint32(0))
	test.That(t, binary.LittleEndian.Uint32(buf[44:]), test.ShouldEqual, uint32(0))
}

type stubBackend struct {
	name string
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) Limits() Limits {
	return Limits{MaxBufferSize: 1 << 20, MaxInvocationsPerWorkgroup: 64}
}
func (b *stubBackend) NewProgram(cfg ProgramConfig) (Program, error) {
	return nil, errors.New("no programs")
}
func (b *stubBackend) Close() error { return nil }

func TestRegistry(t *testing.T) {
	logger := golog.NewTestLogger(t)

	Register("stub", func(logger golog.Logger) (Backend, error) {
		return &stubBackend{name: "stub"}, nil
	})
	test.That(t, Registered(), test.ShouldContain, "stub")

	backend, err := Open("stub", logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, backend.Name(), test.ShouldEqual, "stub")
	test.That(t, backend.Close(), test.ShouldBeNil)

	_, err = Open("no_such_backend", logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrNoBackend), test.ShouldBeTrue)

	test.That(t, func() {
		Register("stub", func(logger golog.Logger) (Backend, error) {
			return &stubBackend{name: "stub"}, nil
		})
	}, test.ShouldPanic)

	test.That(t, func() { Register("", nil) }, test.ShouldPanic)
}

func TestOpenBrokenBackend(t *testing.T) {
	logger := golog.NewTestLogger(t)

	Register("broken", func(logger golog.Logger) (Backend, error) {
		return nil, errors.New("device exploded")
	})
	_, err := Open("broken", logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "device exploded")
}

func TestOpenDefaultNoBackends(t *testing.T) {
	// no package in this test binary registers a backend on the default
	// priority list
	_, err := OpenDefault(golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrNoBackend), test.ShouldBeTrue)
}
