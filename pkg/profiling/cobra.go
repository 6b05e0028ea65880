package profiling

import (
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/spf13/cobra"
)

// Flags wires --timing and --cpu-profile onto a command tree.
type Flags struct {
	timing  bool
	cpuPath string
	cpuFile *os.File
}

// AddFlags registers the persistent profiling flags on cmd.
func (f *Flags) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVar(&f.timing, "timing", false, "Print a phase timing summary to stderr on exit")
	cmd.PersistentFlags().StringVar(&f.cpuPath, "cpu-profile", "", "Write a CPU profile to this file")
}

// PreRun starts timing and CPU profiling as requested.
func (f *Flags) PreRun(cmd *cobra.Command, args []string) error {
	if f.timing {
		Enable()
	}
	if f.cpuPath == "" {
		return nil
	}
	file, err := os.Create(f.cpuPath)
	if err != nil {
		return fmt.Errorf("could not create CPU profile: %w", err)
	}
	if err := pprof.StartCPUProfile(file); err != nil {
		file.Close()
		return fmt.Errorf("could not start CPU profile: %w", err)
	}
	f.cpuFile = file
	return nil
}

// PostRun stops profiling and prints the timing summary.
func (f *Flags) PostRun(cmd *cobra.Command, args []string) {
	if f.cpuFile != nil {
		pprof.StopCPUProfile()
		f.cpuFile.Close()
		f.cpuFile = nil
		fmt.Fprintf(cmd.ErrOrStderr(), "CPU profile written to %s\n", f.cpuPath)
	}
	if f.timing {
		Enable().Summarize(cmd.ErrOrStderr())
		Disable()
	}
}
