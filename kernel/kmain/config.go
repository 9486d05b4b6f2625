package kmain

import (
	"efiboot/kernel"
	"efiboot/kernel/mm"
	"strconv"
)

// Heap backend names accepted by the heap.backend option.
const (
	BackendList  = "list"
	BackendBuddy = "buddy"
)

var (
	errUnknownBackend = &kernel.Error{Module: "kmain", Message: "heap.backend must be list or buddy"}
	errBadGCLimit     = &kernel.Error{Module: "kmain", Message: "heap.gclimit must be a positive integer"}
	errBadUnit        = &kernel.Error{Module: "kmain", Message: "heap.unit must be a power of two no smaller than 16"}
)

// Config holds the heap options passed on the command line.
type Config struct {
	// Backend selects the heap allocator.
	Backend string

	// GCLimit is the garbage list length that triggers a collection pass
	// in the list backend.
	GCLimit int

	// Debug enables the full allocator invariant checks.
	Debug bool

	// Unit is the buddy backend allocation unit in bytes.
	Unit uintptr
}

// DefaultConfig returns the options used when none are given.
func DefaultConfig() Config {
	return Config{
		Backend: BackendList,
		GCLimit: 1024,
		Debug:   true,
		Unit:    4096,
	}
}

// ParseConfig applies the heap.* options found in kv on top of the defaults.
func ParseConfig(kv map[string]string) (Config, *kernel.Error) {
	cfg := DefaultConfig()

	if v, ok := kv["heap.backend"]; ok {
		switch v {
		case BackendList, BackendBuddy:
			cfg.Backend = v
		default:
			return cfg, errUnknownBackend
		}
	}

	if v, ok := kv["heap.gclimit"]; ok {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return cfg, errBadGCLimit
		}
		cfg.GCLimit = limit
	}

	if v, ok := kv["heap.debug"]; ok {
		switch v {
		case "0", "off", "false":
			cfg.Debug = false
		default:
			cfg.Debug = true
		}
	}

	if v, ok := kv["heap.unit"]; ok {
		unit, err := strconv.ParseUint(v, 0, 64)
		if err != nil || unit < 16 || !mm.IsPowerOfTwo(uintptr(unit)) {
			return cfg, errBadUnit
		}
		cfg.Unit = uintptr(unit)
	}

	return cfg, nil
}
