package main

import (
	"efiboot/efi"
	"efiboot/kernel/mm/vmm"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
)

func newPagetableCmd(flags *globalFlags) *cobra.Command {
	var memory uint64

	cmd := &cobra.Command{
		Use:   "pagetable [physical address...]",
		Short: "Install the flat mapping and translate addresses through it",
		Long: `The pagetable command lays out the simulated firmware state, prints the
memory map, installs the flat mapping and translates each given physical
address through it. Addresses accept the 0x prefix.

Example:
  heapsim pagetable 0x1000 0x200000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPagetable(cmd.OutOrStdout(), flags, uintptr(memory), args)
		},
	}

	cmd.Flags().Uint64Var(&memory, "memory", 32<<20, "Simulated RAM in bytes")

	return cmd
}

func runPagetable(out io.Writer, flags *globalFlags, memory uintptr, args []string) error {
	p, err := flags.printer()
	if err != nil {
		return err
	}

	addrs := make([]uintptr, 0, len(args))
	for _, arg := range args {
		v, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", arg, err)
		}
		addrs = append(addrs, uintptr(v))
	}

	m, err := newMachine(memory)
	if err != nil {
		return err
	}
	defer m.close()

	m.memMap.VisitMemRegions(func(d *efi.MemoryDescriptor) bool {
		p.Fprintf(out, "%-22s 0x%016x - 0x%016x %d pages\n", d.Type.String(), d.PhysicalStart, d.End(), d.NumberOfPages)
		return true
	})
	p.Fprintf(out, "usable: %d bytes\n", m.memMap.UsableBytes())

	if err = m.bootstrap(); err != nil {
		return err
	}

	root := m.flatRoot()
	p.Fprintf(out, "flat mapping at 0x%x, %d tables\n", uint64(vmm.FlatMemoryStart), vmm.CountTables(root))
	fmt.Fprintf(flags.verboseWriter(out), "root entry 256: %s\n", root.Entry(256).String())

	for _, addr := range addrs {
		virt := vmm.PhysToVirt(addr)
		phys, kerr := vmm.Translate(root, virt)
		if kerr != nil {
			fmt.Fprintf(out, "0x%016x -> %s\n", uint64(virt), kerr.Message)
			continue
		}
		fmt.Fprintf(out, "0x%016x -> 0x%x\n", uint64(virt), uint64(phys))
	}

	return nil
}
