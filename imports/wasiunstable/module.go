// Package wasiunstable wires the wasi package's System interface into a
// wazero host module under the legacy "wasi_unstable" import namespace.
//
// The wasi_unstable and wasi_snapshot_preview1 namespaces bind the same
// Subscription/Event layout in this module: no per-namespace discriminant
// reordering is implemented, a deliberate simplification rather than an
// oversight (older wasi_unstable modules compiled against a divergent
// subscription_u layout are not supported).
package wasiunstable

import (
	"context"

	wasi "github.com/stealthrocket-labs/wasihost"
	"github.com/stealthrocket-labs/wasihost/imports/wasisnapshotpreview1"
	"github.com/stealthrocket/wazergo"
)

// HostModuleName is the name under which this host module is registered
// with the wazero runtime.
const HostModuleName = "wasi_unstable"

// Module is the host module instance for the wasi_unstable namespace. It
// reuses wasisnapshotpreview1's handler implementations verbatim: the two
// namespaces differ only in import module name, not in function shapes,
// in this module.
type Module = wasisnapshotpreview1.Module

// Option configures the host module.
type Option = wazergo.Option[*Module]

// WithWASI sets the WASI implementation.
func WithWASI(system wasi.System) Option {
	return wasisnapshotpreview1.WithWASI(system)
}

// HostModule is a wazero host module binding the wasi_unstable import
// namespace to the same Module implementation as wasi_snapshot_preview1.
var HostModule wazergo.HostModule[*Module] = functions{}

type functions struct{}

func (f functions) Name() string {
	return HostModuleName
}

func (f functions) Functions() wazergo.Functions[*Module] {
	return wazergo.Functions[*Module](wasisnapshotpreview1.HostModule.Functions())
}

func (f functions) Instantiate(ctx context.Context, opts ...Option) (*Module, error) {
	return wasisnapshotpreview1.HostModule.Instantiate(ctx, opts...)
}
