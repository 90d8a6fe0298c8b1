package wasitest

import (
	"context"
	"testing"

	"github.com/stealthrocket-labs/wasihost"
)

var proc = testSuite{
	"ProcExit records the exit code and returns ENOSYS": func(t *testing.T, ctx context.Context, newSystem newSystem) {
		var code wasi.ExitCode
		s := newSystem(TestConfig{ExitCode: &code})

		errno := s.ProcExit(ctx, 42)
		assertEqual(t, errno, wasi.ENOSYS)
		assertEqual(t, code, wasi.ExitCode(42))
	},

	"ProcRaise returns ENOSYS": func(t *testing.T, ctx context.Context, newSystem newSystem) {
		s := newSystem(TestConfig{})
		assertEqual(t, s.ProcRaise(ctx, 42), wasi.ENOSYS)
	},

	"SchedYield does nothing": func(t *testing.T, ctx context.Context, newSystem newSystem) {
		s := newSystem(TestConfig{})
		assertEqual(t, s.SchedYield(ctx), wasi.ESUCCESS)
	},

	"ArgsSizesGet returns zero when there are no arguments": func(t *testing.T, ctx context.Context, newSystem newSystem) {
		s := newSystem(TestConfig{})
		count, bytes, errno := s.ArgsSizesGet(ctx)
		assertEqual(t, errno, wasi.ESUCCESS)
		assertEqual(t, count, 0)
		assertEqual(t, bytes, 0)
	},

	"ArgsSizesGet returns the number of arguments and their size in bytes": func(t *testing.T, ctx context.Context, newSystem newSystem) {
		args := []string{
			"hello",
			"world",
		}
		s := newSystem(TestConfig{
			Args: args,
		})
		gotCount, gotBytes, errno := s.ArgsSizesGet(ctx)
		wantCount, wantBytes := wasi.SizesGet(args)
		assertEqual(t, errno, wasi.ESUCCESS)
		assertEqual(t, gotCount, wantCount)
		assertEqual(t, gotBytes, wantBytes)
	},

	"EnvironSizesGet returns zero when there are no environment variables": func(t *testing.T, ctx context.Context, newSystem newSystem) {
		s := newSystem(TestConfig{})
		count, bytes, errno := s.EnvironSizesGet(ctx)
		assertEqual(t, errno, wasi.ESUCCESS)
		assertEqual(t, count, 0)
		assertEqual(t, bytes, 0)
	},

	"EnvironSizesGet returns the number of environment variables and their size in bytes": func(t *testing.T, ctx context.Context, newSystem newSystem) {
		environ := []string{
			"hello",
			"world",
		}
		s := newSystem(TestConfig{
			Environ: environ,
		})
		gotCount, gotBytes, errno := s.EnvironSizesGet(ctx)
		wantCount, wantBytes := wasi.SizesGet(environ)
		assertEqual(t, errno, wasi.ESUCCESS)
		assertEqual(t, gotCount, wantCount)
		assertEqual(t, gotBytes, wantBytes)
	},

	"ClockResGet with an invalid clock id returns EINVAL": func(t *testing.T, ctx context.Context, newSystem newSystem) {
		s := newSystem(TestConfig{})
		_, errno := s.ClockResGet(ctx, 42)
		assertEqual(t, errno, wasi.EINVAL)
	},

	"ClockTimeGet with an invalid clock id returns EINVAL": func(t *testing.T, ctx context.Context, newSystem newSystem) {
		s := newSystem(TestConfig{})
		_, errno := s.ClockTimeGet(ctx, 42, 0)
		assertEqual(t, errno, wasi.EINVAL)
	},
}
