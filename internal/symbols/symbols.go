// Package symbols resolves a symbol search path and loads modules for
// symbolication. Only one session may be active per process at a time;
// creation is serialized under a package-level mutex so two concurrent
// passes never race over the same native backend.
package symbols

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

const (
	envSymbolPath      = "SKYDIAG_SYMBOL_PATH"
	envNTSymbolPath    = "_NT_SYMBOL_PATH"
	envSymbolCacheDir  = "SKYDIAG_SYMBOL_CACHE_DIR"
	envAllowOnline     = "SKYDIAG_ALLOW_ONLINE_SYMBOLS"
	publicSymbolServer = "https://msdl.microsoft.com/download/symbols"
)

// processLock serializes Session creation across the process; the
// whole Session lifetime holds it, released only in Close.
var processLock sync.Mutex

// ErrSymInitFailed is returned when the platform symbolication backend
// refuses to initialize.
type ErrSymInitFailed struct{ Reason string }

func (e *ErrSymInitFailed) Error() string { return "symbols: init failed: " + e.Reason }

// ModuleForLoad describes one module to hand to the symbol backend.
type ModuleForLoad struct {
	Path string
	Base uint64
	Size uint64
}

// Session is a scoped symbol-resolution session: created before the
// stack walker runs, released on every exit path.
type Session struct {
	SearchPath string
	CachePath  string
	IsOnline   bool
	released   bool
}

// backend abstracts the platform symbol initializer so the resolution
// logic here stays testable without a real native dependency.
type backend interface {
	Init(searchPath string, mods []ModuleForLoad) error
	Close()
}

var activeBackend backend = noopBackend{}

// noopBackend never fails; production builds would swap in a real
// DbgHelp/breakpad-style backend. Kept here so the resolution/search-path
// logic is fully exercised without platform-specific native code.
type noopBackend struct{}

func (noopBackend) Init(string, []ModuleForLoad) error { return nil }
func (noopBackend) Close()                             {}

// Open resolves the search path (an explicit env var, then the
// platform-standard var, then a per-user cache dir, optionally wrapped
// as srv*cache*server when online use is permitted), creates the
// per-user cache directory if missing, and loads every module. The
// caller must call Close on every exit path.
func Open(allowOnline bool, mods []ModuleForLoad) (*Session, error) {
	processLock.Lock()
	// processLock is released in Close; a panic here before a successful
	// Open would otherwise wedge the next analysis pass, so we only keep
	// the lock held once we know Open will return an owned Session.
	releaseOnErr := true
	defer func() {
		if releaseOnErr {
			processLock.Unlock()
		}
	}()

	searchPath, cachePath, online := resolveSearchPath(allowOnline)

	if err := activeBackend.Init(searchPath, mods); err != nil {
		return nil, &ErrSymInitFailed{Reason: err.Error()}
	}

	releaseOnErr = false
	return &Session{SearchPath: searchPath, CachePath: cachePath, IsOnline: online}, nil
}

// resolveSearchPath walks the symbol-path priority chain described on Open.
// SKYDIAG_ALLOW_ONLINE_SYMBOLS, when set to a valid bool, overrides the
// caller-supplied allowOnline (spec §6 lists it among the env vars the
// SymSession honors).
func resolveSearchPath(allowOnline bool) (searchPath, cachePath string, online bool) {
	if v := os.Getenv(envAllowOnline); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			allowOnline = b
		}
	}

	if p := os.Getenv(envSymbolPath); p != "" {
		return p, "", false
	}
	if p := os.Getenv(envNTSymbolPath); p != "" {
		return p, "", false
	}

	cachePath = os.Getenv(envSymbolCacheDir)
	if cachePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			cachePath = filepath.Join(os.TempDir(), "skydiag-symcache")
		} else {
			cachePath = filepath.Join(home, ".skydiag", "symcache")
		}
	}
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		log.Printf("skydiag: warning: could not create symbol cache dir %s: %v", cachePath, err)
	}

	if allowOnline {
		return "srv*" + cachePath + "*" + publicSymbolServer, cachePath, true
	}
	return cachePath, cachePath, false
}

// Close releases the native session exactly once and the process-wide
// lock, on all exit paths.
func (s *Session) Close() {
	if s == nil || s.released {
		return
	}
	s.released = true
	activeBackend.Close()
	processLock.Unlock()
}
