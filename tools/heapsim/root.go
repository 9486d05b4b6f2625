package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// globalFlags holds the flags shared by every command.
type globalFlags struct {
	verbose bool
	seed    uint64
	lang    string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "heapsim",
		Short: "Exercise the kernel heap allocators on simulated physical memory",
		Long: `heapsim boots the kernel memory core inside a host process. It lays out
firmware page tables and a UEFI memory map in an anonymous mapping, installs
the flat mapping and drives the heap allocators with randomized workloads
while checking their invariants.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().Uint64Var(&flags.seed, "seed", 1, "Seed for the random workload")
	rootCmd.PersistentFlags().StringVar(&flags.lang, "lang", "en", "Language tag used to format numbers")

	rootCmd.AddCommand(newRunCmd(&flags))
	rootCmd.AddCommand(newBuddyCmd(&flags))
	rootCmd.AddCommand(newPagetableCmd(&flags))

	return rootCmd
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// printer returns a number-aware printer for the configured language.
func (f *globalFlags) printer() (*message.Printer, error) {
	tag, err := language.Parse(f.lang)
	if err != nil {
		return nil, fmt.Errorf("invalid --lang %q: %w", f.lang, err)
	}
	return message.NewPrinter(tag), nil
}

// verboseWriter returns w when verbose output is enabled and io.Discard
// otherwise.
func (f *globalFlags) verboseWriter(w io.Writer) io.Writer {
	if f.verbose {
		return w
	}
	return io.Discard
}
