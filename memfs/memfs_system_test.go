package memfs_test

import (
	"path/filepath"
	"testing"

	wasi "github.com/stealthrocket-labs/wasihost"
	"github.com/stealthrocket-labs/wasihost/memfs"
	"github.com/stealthrocket-labs/wasihost/wasitest"
)

// makeSystem assembles a wasi.System over memfs for wasitest's generic
// suites: a scratch directory always lands at fd 3, right after the
// conventional stdio descriptors 0/1/2 (see wasitest.TestConfig).
func makeSystem(config wasitest.TestConfig) (wasi.System, error) {
	fsys := memfs.New(config.Clock)

	builder := wasi.NewBuilder[*memfs.Handle]().
		Args(config.Args...).
		Envs(config.Environ...).
		Stdin(fsys.NewDeviceFile(config.Stdin, nil)).
		Stdout(fsys.NewDeviceFile(nil, config.Stdout)).
		Stderr(fsys.NewDeviceFile(nil, config.Stderr)).
		PreopenDir("/scratch", fsys.NewDir())

	if config.Rand != nil {
		builder = builder.WithRand(config.Rand)
	}
	if config.ExitCode != nil {
		builder = builder.WithExitCode(config.ExitCode)
	}
	if config.MaxFiles > 0 {
		builder = builder.WithMaxFiles(config.MaxFiles)
	}

	return builder.Finalize()
}

func TestSystem(t *testing.T) {
	wasitest.TestSystem(t, makeSystem)
}

func TestWASIP1(t *testing.T) {
	files, _ := filepath.Glob("testdata/*/*.wasm")
	wasitest.TestWASIP1(t, files, makeSystem)
}
