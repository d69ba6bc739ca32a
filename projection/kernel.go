package projection

import (
	_ "embed"
	"os"

	"github.com/pkg/errors"
)

// KernelEntryPoint is the function the engine binds in the kernel source.
const KernelEntryPoint = "main"

//go:embed depth_to_points.wgsl
var defaultKernelSource string

// DefaultKernelSource returns the embedded projection kernel, compiled
// when no kernel source override is configured.
func DefaultKernelSource() []byte {
	return []byte(defaultKernelSource)
}

func loadKernelSource(path string) ([]byte, error) {
	if path == "" {
		return DefaultKernelSource(), nil
	}
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading kernel source %q", path)
	}
	if len(data) == 0 {
		return nil, errors.Errorf("kernel source %q is empty", path)
	}
	return data, nil
}
