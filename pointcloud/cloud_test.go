package pointcloud

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestNewCloud(t *testing.T) {
	c := NewCloud(4, 3)
	test.That(t, c.Size(), test.ShouldEqual, 12)
	test.That(t, c.Dense, test.ShouldBeFalse)
	test.That(t, c.At(0, 0), test.ShouldResemble, r3.Vector{})

	p := r3.Vector{X: 0.5, Y: -0.25, Z: 2}
	c.Set(2, 1, p)
	test.That(t, c.At(2, 1), test.ShouldResemble, p)
	test.That(t, c.Points[1*4+2], test.ShouldResemble, p)
}

func TestInvalidPoint(t *testing.T) {
	p := InvalidPoint()
	test.That(t, math.IsNaN(p.X), test.ShouldBeTrue)
	test.That(t, math.IsNaN(p.Y), test.ShouldBeTrue)
	test.That(t, math.IsNaN(p.Z), test.ShouldBeTrue)
	test.That(t, IsInvalid(p), test.ShouldBeTrue)

	test.That(t, IsInvalid(r3.Vector{X: 1, Y: 2, Z: 3}), test.ShouldBeFalse)
	test.That(t, IsInvalid(r3.Vector{}), test.ShouldBeFalse)
	test.That(t, IsInvalid(r3.Vector{Z: math.NaN()}), test.ShouldBeTrue)
}

func TestValidCount(t *testing.T) {
	c := NewCloud(2, 2)
	test.That(t, c.ValidCount(), test.ShouldEqual, 4)

	c.Set(0, 0, InvalidPoint())
	c.Set(1, 1, InvalidPoint())
	test.That(t, c.ValidCount(), test.ShouldEqual, 2)
}
