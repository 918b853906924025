// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libfitsync.so (Android) / fitsync.framework (iOS)
package main

/*
#cgo CFLAGS: -Wall -Wextra
#include <stdlib.h>
#include <string.h>
*/
import "C"
import (
	"context"
	"sync"
	"unsafe"

	"github.com/kimhsiao/fitsync/internal/bridge"
)

var (
	core    = bridge.New()
	lastErr string
	lastMu  sync.RWMutex
)

//export Init
// Init loads the config file at configPath (empty for the default search
// path) and starts syncing in the background.
// Returns 0 on success, non-zero on error.
func Init(configPath *C.char) int32 {
	if err := core.Init(C.GoString(configPath)); err != nil {
		setLastError(err)
		return 1
	}
	return 0
}

//export Cleanup
// Cleanup stops background work and closes the local store.
func Cleanup() {
	if err := core.Shutdown(); err != nil {
		setLastError(err)
	}
}

//export GetLastError
// GetLastError returns the last error as {"code":...,"message":...}.
// Returns a C string that must be freed by the caller.
func GetLastError() *C.char {
	lastMu.RLock()
	defer lastMu.RUnlock()

	return C.CString(lastErr)
}

func setLastError(err error) {
	lastMu.Lock()
	defer lastMu.Unlock()
	lastErr = bridge.EncodeError(err)
}

// result converts a bridge response into a caller-owned C string, or nil
// with the last error set.
func result(out string, err error) *C.char {
	if err != nil {
		setLastError(err)
		return nil
	}
	return C.CString(out)
}

// status converts a bridge error into 0 or 1.
func status(err error) int32 {
	if err != nil {
		setLastError(err)
		return 1
	}
	return 0
}

//export FreeString
// FreeString frees a string returned by any export.
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}

func background() context.Context {
	return context.Background()
}

func main() {
	// Main function is required for c-shared build mode
	// but is not actually executed when used as shared library
}
