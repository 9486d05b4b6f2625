package main

import (
	"efiboot/kernel/mm"
	"efiboot/kernel/mm/heap/buddy"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"math/rand/v2"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"
)

// maxBuddyUnits bounds the host memory spent on bookkeeping.
const maxBuddyUnits = 1 << 30

// buddyOptions configures the buddy command.
type buddyOptions struct {
	limit      uint64
	ops        int
	maxUnits   uint64
	checkEvery int
	dumpDepth  int
}

func newBuddyCmd(flags *globalFlags) *cobra.Command {
	opts := buddyOptions{}

	cmd := &cobra.Command{
		Use:   "buddy",
		Short: "Run a random workload against the unit buddy allocator",
		Long: `The buddy command drives the unit allocator directly, without a byte heap
in front of it. Requests are arbitrary unit counts, some of them with an
alignment, and releases go through the fragmenting Free path.

Example:
  heapsim buddy --limit 1000000 --ops 100000 --dump 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuddy(cmd.OutOrStdout(), flags, opts)
		},
	}

	cmd.Flags().Uint64Var(&opts.limit, "limit", 1<<20, "Number of units managed by the allocator")
	cmd.Flags().IntVar(&opts.ops, "ops", 20000, "Number of operations")
	cmd.Flags().Uint64Var(&opts.maxUnits, "max-units", 600, "Largest request in units")
	cmd.Flags().IntVar(&opts.checkEvery, "check-every", 1000, "Verify allocator invariants every N operations (0 disables)")
	cmd.Flags().IntVar(&opts.dumpDepth, "dump", 0, "Print the summary tree down to this depth before cleanup")

	return cmd
}

// unitBlock is a live allocation of the buddy command.
type unitBlock struct {
	offset, units uintptr
}

func runBuddy(out io.Writer, flags *globalFlags, opts buddyOptions) error {
	p, err := flags.printer()
	if err != nil {
		return err
	}
	if opts.limit == 0 || opts.maxUnits == 0 {
		return errors.New("--limit and --max-units must be positive")
	}
	if opts.limit > maxBuddyUnits {
		return fmt.Errorf("--limit %d exceeds %d units", opts.limit, uint64(maxBuddyUnits))
	}

	limit := uintptr(opts.limit)
	a := buddy.New(limit, make([]uint64, buddy.BitmapWords(limit)), make([]uint64, buddy.TreeWords(limit)))
	a.Free(0, limit)

	var (
		rng       = rand.New(rand.NewPCG(flags.seed, ^flags.seed))
		live      []unitBlock
		inUse     uintptr
		allocs    uint64
		exhausted uint64
		checks    int
	)

	for op := 1; op <= opts.ops; op++ {
		if len(live) > 0 && rng.IntN(100) >= 55 {
			i := rng.IntN(len(live))
			a.Free(live[i].offset, live[i].units)
			inUse -= live[i].units
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
		} else {
			units := 1 + uintptr(rng.Uint64N(opts.maxUnits))
			alignRank := 0
			if rng.IntN(8) == 0 {
				alignRank = rng.IntN(10)
			}

			offset, err := a.AllocAligned(units, alignRank)
			var exhaustedErr *mm.ExhaustedError
			switch {
			case errors.As(err, &exhaustedErr):
				exhausted++
			case err != nil:
				return err
			default:
				if offset&(uintptr(1)<<uint(alignRank)-1) != 0 {
					return fmt.Errorf("offset %d is not aligned to rank %d", offset, alignRank)
				}
				allocs++
				inUse += units
				live = append(live, unitBlock{offset: offset, units: units})
			}
		}

		if a.FreeUnits() != limit-inUse {
			return fmt.Errorf("allocator reports %d free units, expected %d", a.FreeUnits(), limit-inUse)
		}

		if opts.checkEvery > 0 && op%opts.checkEvery == 0 {
			a.CheckInvariants()
			checks++
		}
	}

	snap := a.Snapshot()
	if opts.dumpDepth > 0 {
		dumpTree(out, p, snap.Tree, a.RootRank(), opts.dumpDepth)
	}
	largest := bits.Len64(snap.Tree[1]) - 1

	for _, b := range live {
		a.Free(b.offset, b.units)
	}
	a.CheckInvariants()
	checks++

	if a.FreeUnits() != limit {
		return fmt.Errorf("allocator reports %d free units after releasing everything, expected %d", a.FreeUnits(), limit)
	}

	p.Fprintf(out, "units:            %d (root rank %d)\n", opts.limit, a.RootRank())
	p.Fprintf(out, "bookkeeping:      %d bitmap words, %d tree words\n", buddy.BitmapWords(limit), buddy.TreeWords(limit))
	p.Fprintf(out, "allocations:      %d\n", allocs)
	p.Fprintf(out, "exhausted:        %d\n", exhausted)
	p.Fprintf(out, "live at exit:     %d (%d units)\n", len(live), uint64(inUse))
	if largest >= 0 {
		p.Fprintf(out, "largest free:     %d units\n", uint64(1)<<uint(largest))
	}
	p.Fprintf(out, "invariant checks: %d\n", checks)

	return nil
}

// dumpTree prints the canonical summaries of the top depth levels of tree.
func dumpTree(out io.Writer, p *message.Printer, tree []uint64, rootRank, depth int) {
	for level := 0; level < depth && rootRank-level >= 9; level++ {
		first := uintptr(1) << uint(level)
		for node := first; node < 2*first && node < uintptr(len(tree)); node++ {
			p.Fprintf(out, "node %d (rank %d): %#x\n", uint64(node), rootRank-level, tree[node])
		}
	}
}
