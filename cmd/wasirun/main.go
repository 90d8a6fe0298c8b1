package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	wasi "github.com/stealthrocket-labs/wasihost"
	"github.com/stealthrocket-labs/wasihost/imports/wasisnapshotpreview1"
	"github.com/stealthrocket-labs/wasihost/memfs"
	"github.com/stealthrocket/wazergo"
	"github.com/tetratelabs/wazero"
)

func printUsage() {
	fmt.Printf(`wasirun - Run a WebAssembly module

USAGE:
   wasirun [OPTIONS]... <MODULE> [--] [ARGS]...

ARGS:
   <MODULE>
      The path of the WebAssembly module to run

   [ARGS]...
      Arguments to pass to the module

OPTIONS:
   --dir <DIR>
      Grant access to the specified host directory, copied into an
      in-memory sandbox at startup

   --env <NAME=VAL>
      Pass an environment variable to the module

   --pprof-addr <ADDR>
      Start a pprof server listening on the specified address

   --trace
      Enable structured logging of system calls (like strace)

   --max-files <N>
      Cap the number of file descriptors the guest may hold open

   -v, --version
      Print the version and exit

   -h, --help
      Show this usage information
`)
}

var (
	envs      stringList
	dirs      stringList
	pprofAddr string
	trace     bool
	maxFiles  int
	version   bool
)

func main() {
	flagSet := flag.NewFlagSet("wasirun", flag.ExitOnError)
	flagSet.Usage = printUsage

	flagSet.Var(&envs, "env", "")
	flagSet.Var(&dirs, "dir", "")
	flagSet.StringVar(&pprofAddr, "pprof-addr", "", "")
	flagSet.BoolVar(&trace, "trace", false, "")
	flagSet.IntVar(&maxFiles, "max-files", 0, "")
	flagSet.BoolVar(&version, "version", false, "")
	flagSet.BoolVar(&version, "v", false, "")
	flagSet.Parse(os.Args[1:])

	if version {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "(devel)" {
			fmt.Println("wasirun", info.Main.Version)
		} else {
			fmt.Println("wasirun", "devel")
		}
		os.Exit(0)
	}

	args := flagSet.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	exitCode, err := run(args[0], args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(int(exitCode))
}

func run(wasmFile string, args []string) (wasi.ExitCode, error) {
	wasmName := filepath.Base(wasmFile)
	wasmCode, err := os.ReadFile(wasmFile)
	if err != nil {
		return 0, fmt.Errorf("could not read WASM file '%s': %w", wasmFile, err)
	}

	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}

	if pprofAddr != "" {
		go http.ListenAndServe(pprofAddr, nil)
	}

	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	wasmModule, err := runtime.CompileModule(ctx, wasmCode)
	if err != nil {
		return 0, err
	}

	fsys := memfs.New(wasi.NewSystemClock())

	var exitCode wasi.ExitCode
	builder := wasi.NewBuilder[*memfs.Handle]().
		Args(append([]string{wasmName}, args...)...).
		Envs(envs...).
		WithExitCode(&exitCode).
		Stdin(fsys.NewDeviceFile(os.Stdin, nil)).
		Stdout(fsys.NewDeviceFile(nil, os.Stdout)).
		Stderr(fsys.NewDeviceFile(nil, os.Stderr))

	if maxFiles > 0 {
		builder = builder.WithMaxFiles(maxFiles)
	}

	for _, dir := range dirs {
		root := fsys.NewDir()
		if err := importHostDir(ctx, root, dir); err != nil {
			return 0, fmt.Errorf("preopening directory '%s': %w", dir, err)
		}
		builder = builder.PreopenDir(dir, root)
	}

	env, err := builder.Finalize()
	if err != nil {
		return 0, err
	}

	var system wasi.System = env
	if trace {
		system = wasi.Trace(logrus.StandardLogger(), system)
	}

	module := wazergo.MustInstantiate(ctx, runtime,
		wasisnapshotpreview1.HostModule,
		wasisnapshotpreview1.WithWASI(system),
	)
	ctx = wazergo.WithModuleInstance(ctx, module)

	instance, err := runtime.InstantiateModule(ctx, wasmModule, wazero.NewModuleConfig())
	if err != nil {
		return exitCode, err
	}
	if err := instance.Close(ctx); err != nil {
		return exitCode, err
	}
	return exitCode, nil
}

// importHostDir walks a real host directory and replicates its file tree
// into root, a freshly allocated memfs directory, so the guest only ever
// sees a copy rather than a live view onto the host filesystem.
func importHostDir(ctx context.Context, root *memfs.Handle, hostPath string) error {
	entries, err := os.ReadDir(hostPath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		childPath := filepath.Join(hostPath, entry.Name())
		if entry.IsDir() {
			if errno := root.PathCreateDirectory(ctx, entry.Name()); errno != wasi.ESUCCESS {
				return errno
			}
			child, errno := root.PathOpen(ctx, 0, entry.Name(), wasi.OpenDirectory, wasi.DirectoryRights, wasi.DirectoryRights|wasi.FileRights, 0)
			if errno != wasi.ESUCCESS {
				return errno
			}
			if err := importHostDir(ctx, child, childPath); err != nil {
				return err
			}
			continue
		}
		data, err := os.ReadFile(childPath)
		if err != nil {
			return err
		}
		file, errno := root.PathOpen(ctx, 0, entry.Name(), wasi.OpenCreate|wasi.OpenExclusive, wasi.FileRights, wasi.FileRights, 0)
		if errno != wasi.ESUCCESS {
			return errno
		}
		if _, errno := file.FDWrite(ctx, []wasi.IOVec{data}); errno != wasi.ESUCCESS {
			return errno
		}
	}
	return nil
}

type stringList []string

func (s stringList) String() string {
	return fmt.Sprintf("%v", []string(s))
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}
