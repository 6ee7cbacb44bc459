//go:build linux && !normpp

// Shared helpers for the purego vendor bindings.

package rkmedia

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// SDKLibPathEnv names a directory searched for every vendor library.
const SDKLibPathEnv = "RKMEDIA_SDK_LIB_PATH"

// goStringFromPtr converts a C string pointer to a Go string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	var n int
	for n < 4096 && *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	if n == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), n))
}

// findModuleRoot walks up from the working directory to the directory
// holding go.mod.
func findModuleRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for dir := wd; ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// findSourceRoot returns the directory of this source file, which is the
// module root when building from a checkout.
func findSourceRoot() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	return filepath.Dir(file)
}

// vendorLibPaths lists candidate paths of a vendor library, highest priority
// first: the env override, the SDK directory, build directories next to the
// executable and the module, then the dynamic loader's search path.
func vendorLibPaths(envVar string, names ...string) []string {
	var paths []string
	if p := os.Getenv(envVar); p != "" {
		paths = append(paths, p)
	}
	sdk := os.Getenv(SDKLibPathEnv)

	var dirs []string
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		dirs = append(dirs, exeDir, filepath.Join(exeDir, "..", "lib"))
	}
	if root := findSourceRoot(); root != "" {
		dirs = append(dirs, filepath.Join(root, "build"), filepath.Join(root, "build", "ffi"))
	}
	if root := findModuleRoot(); root != "" {
		dirs = append(dirs, filepath.Join(root, "build"), filepath.Join(root, "build", "ffi"))
	}

	for _, name := range names {
		if sdk != "" {
			paths = append(paths, filepath.Join(sdk, name))
		}
		for _, dir := range dirs {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	// System paths (lowest priority)
	for _, name := range names {
		paths = append(paths,
			name,
			filepath.Join("/usr/lib", name),
			filepath.Join("/usr/lib/aarch64-linux-gnu", name),
			filepath.Join("/usr/local/lib", name),
		)
	}
	return paths
}

// dlopenFirst opens the first loadable library of paths and resolves its
// symbols with register. A library whose symbols fail to resolve is closed
// and the search continues.
func dlopenFirst(lib string, paths []string, register func(handle uintptr) error) (uintptr, error) {
	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		if err := register(handle); err != nil {
			purego.Dlclose(handle)
			lastErr = err
			continue
		}
		return handle, nil
	}
	if lastErr != nil {
		return 0, fmt.Errorf("%w: load %s: %w", ErrHardwareUnavailable, lib, lastErr)
	}
	return 0, fmt.Errorf("%w: %s not found", ErrHardwareUnavailable, lib)
}

// registerSymbols binds each function pointer to its symbol, turning the
// panic of a missing symbol into an error.
func registerSymbols(handle uintptr, syms map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprint(r))
		}
	}()
	for name, fptr := range syms {
		purego.RegisterLibFunc(fptr, handle, name)
	}
	return nil
}
