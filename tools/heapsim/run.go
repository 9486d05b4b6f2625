package main

import (
	"efiboot/kernel/kfmt"
	"efiboot/kernel/kmain"
	"efiboot/kernel/mm"
	"efiboot/kernel/mm/heap"
	"efiboot/kernel/mm/heap/buddy"
	"efiboot/kernel/mm/heap/listalloc"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/spf13/cobra"
)

// runOptions configures the run command.
type runOptions struct {
	memory     uint64
	backend    string
	ops        int
	maxSize    uint64
	gcLimit    int
	unit       uint64
	checkEvery int
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot the simulated machine and run a random heap workload",
		Long: `The run command boots the simulated machine through the regular kernel
heap initialization and performs a random mix of allocations and releases.
Every live block is filled with a tag that is verified when the block is
released, so overlapping allocations are detected.

Example:
  heapsim run --backend buddy --ops 50000 --unit 256`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkload(cmd.OutOrStdout(), flags, opts)
		},
	}

	cmd.Flags().Uint64Var(&opts.memory, "memory", 32<<20, "Simulated RAM in bytes")
	cmd.Flags().StringVar(&opts.backend, "backend", kmain.BackendList, "Heap backend (list or buddy)")
	cmd.Flags().IntVar(&opts.ops, "ops", 20000, "Number of heap operations")
	cmd.Flags().Uint64Var(&opts.maxSize, "max-size", 4096, "Largest allocation request in bytes")
	cmd.Flags().IntVar(&opts.gcLimit, "gc-limit", 1024, "Garbage list length that triggers a collection")
	cmd.Flags().Uint64Var(&opts.unit, "unit", 4096, "Buddy allocation unit in bytes")
	cmd.Flags().IntVar(&opts.checkEvery, "check-every", 1000, "Verify allocator invariants every N operations (0 disables)")

	return cmd
}

// cmdLine renders the options as kernel load options.
func (o runOptions) cmdLine() string {
	return fmt.Sprintf("heap.backend=%s heap.gclimit=%d heap.unit=%d heap.debug=off", o.backend, o.gcLimit, o.unit)
}

// block is a live allocation.
type block struct {
	addr, size uintptr
	tag        byte
}

// workloadStats summarizes a workload run.
type workloadStats struct {
	front      heap.Stats
	exhausted  uint64
	peakInUse  uintptr
	checks     int
	liveAtExit int
}

func runWorkload(out io.Writer, flags *globalFlags, opts runOptions) error {
	p, err := flags.printer()
	if err != nil {
		return err
	}
	if opts.maxSize == 0 {
		return errors.New("--max-size must be positive")
	}

	m, err := newMachine(uintptr(opts.memory))
	if err != nil {
		return err
	}
	defer m.close()

	if err = m.bootstrap(); err != nil {
		return err
	}

	info, err := m.bootInfo(opts.cmdLine())
	if err != nil {
		return err
	}

	cfg, kerr := kmain.ParseConfig(info.CmdLine())
	if kerr != nil {
		return kerr
	}

	w := &kfmt.PrefixWriter{Sink: flags.verboseWriter(out), Prefix: []byte("[heapsim] ")}
	front, kerr := kmain.InitHeap(w, info.MemoryMap, cfg, m.platform())
	if kerr != nil {
		return kerr
	}

	stats, err := drive(m, front, flags.seed, opts)
	if err != nil {
		return err
	}

	p.Fprintf(out, "backend:          %s\n", cfg.Backend)
	p.Fprintf(out, "simulated memory: %d bytes\n", opts.memory)
	p.Fprintf(out, "provided:         %d bytes\n", uint64(stats.front.ProvidedBytes))
	p.Fprintf(out, "allocations:      %d\n", stats.front.Allocations)
	p.Fprintf(out, "releases:         %d\n", stats.front.Releases)
	p.Fprintf(out, "exhausted:        %d\n", stats.exhausted)
	p.Fprintf(out, "peak in use:      %d bytes\n", uint64(stats.peakInUse))
	p.Fprintf(out, "live at exit:     %d\n", stats.liveAtExit)
	p.Fprintf(out, "invariant checks: %d\n", stats.checks)

	switch backend := front.Backend().(type) {
	case *listalloc.Allocator:
		s := backend.Stats()
		p.Fprintf(out, "free spans:       %d (%d bytes)\n", s.FreeSpans, uint64(s.FreeBytes))
	case *buddy.Heap:
		p.Fprintf(out, "free units:       %d of %d bytes\n", uint64(backend.Allocator().FreeUnits()), uint64(backend.Unit()))
	}

	return nil
}

// drive runs the random workload against front. Every block is released
// before returning and the backend is checked to have recovered all memory.
func drive(m *machine, front *heap.Front, seed uint64, opts runOptions) (workloadStats, error) {
	var (
		rng   = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		live  []block
		stats workloadStats
	)

	available := availableBytes(front.Backend())

	release := func(i int) error {
		b := live[i]
		for _, v := range m.flat.Bytes(b.addr, b.size) {
			if v != b.tag {
				return fmt.Errorf("block 0x%x (%d bytes) was overwritten", b.addr, b.size)
			}
		}
		front.Release(b.addr, b.size)
		live[i] = live[len(live)-1]
		live = live[:len(live)-1]
		return nil
	}

	for op := 1; op <= opts.ops; op++ {
		if len(live) == 0 || rng.IntN(100) < 55 {
			size := 1 + uintptr(rng.Uint64N(opts.maxSize))
			align := uintptr(8) << rng.IntN(6)

			addr, err := front.Allocate(size, align)
			var exhausted *mm.ExhaustedError
			switch {
			case errors.As(err, &exhausted):
				stats.exhausted++
				// Drop half of the live blocks to make room.
				for n := len(live) / 2; n > 0; n-- {
					if err = release(rng.IntN(len(live))); err != nil {
						return stats, err
					}
				}
			case err != nil:
				return stats, err
			default:
				if addr%align != 0 {
					return stats, fmt.Errorf("block 0x%x is not aligned to %d", addr, align)
				}
				tag := byte(op)
				m.flat.Fill(addr, size, tag)
				live = append(live, block{addr: addr, size: size, tag: tag})
			}
		} else if err := release(rng.IntN(len(live))); err != nil {
			return stats, err
		}

		if inUse := front.Stats().InUseBytes; inUse > stats.peakInUse {
			stats.peakInUse = inUse
		}

		if opts.checkEvery > 0 && op%opts.checkEvery == 0 {
			front.CheckInvariants()
			stats.checks++
		}
	}

	stats.liveAtExit = len(live)
	for len(live) > 0 {
		if err := release(len(live) - 1); err != nil {
			return stats, err
		}
	}

	front.Collect()
	front.CheckInvariants()
	stats.checks++
	stats.front = front.Stats()

	if got := availableBytes(front.Backend()); got != available {
		return stats, fmt.Errorf("backend holds %d available bytes after releasing everything, started with %d", got, available)
	}

	return stats, nil
}

// availableBytes returns the bytes a backend could still hand out.
func availableBytes(b heap.Backend) uintptr {
	switch backend := b.(type) {
	case *listalloc.Allocator:
		s := backend.Stats()
		return s.FreeBytes + s.GarbageBytes
	case *buddy.Heap:
		return backend.FreeBytes()
	}
	return 0
}
