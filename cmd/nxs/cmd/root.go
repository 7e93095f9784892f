package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/robert-malhotra/go-nexus/hdf5"
	"github.com/robert-malhotra/go-nexus/internal/log"
	"github.com/robert-malhotra/go-nexus/nexus"
)

var (
	logLevel string
	libver   = libverValue{v: nexus.LibVerLatest}
	useSWMR  bool
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "nxs",
	Short: "Inspect and edit NeXus files",
	Long: `nxs reads and writes NeXus files: HDF5 files whose groups carry an
NX_class attribute. Paths name groups by their link name; a ":NXclass"
suffix on a segment is accepted and ignored, and "@name" addresses an
attribute.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup applies the persistent flags, falling back to NXS_LOG_LEVEL and
// NXS_LIBVER for flags left unset.
func setup(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	if env := os.Getenv("NXS_LOG_LEVEL"); env != "" && !flags.Changed("log-level") {
		logLevel = env
	}
	if env := os.Getenv("NXS_LIBVER"); env != "" && !flags.Changed("libver") {
		if err := libver.Set(env); err != nil {
			return fmt.Errorf("NXS_LIBVER: %w", err)
		}
	}
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.Setup(os.Stderr, level)
	if noColor {
		color.NoColor = true
	}
	return nil
}

// libverValue is the --libver flag.
type libverValue struct {
	v nexus.LibVer
}

var _ pflag.Value = (*libverValue)(nil)

func (l *libverValue) String() string { return l.v.String() }

func (l *libverValue) Set(s string) error {
	v, err := hdf5.ParseLibVer(s)
	if err != nil {
		return err
	}
	l.v = v
	return nil
}

func (l *libverValue) Type() string { return "libver" }

// openFile opens path with the persistent access flags.
func openFile(path string, readonly bool) (*nexus.File, error) {
	return nexus.Open(path,
		nexus.ReadOnly(readonly),
		nexus.SWMR(useSWMR),
		nexus.WithLibVer(libver.v),
	)
}

// withFile opens path, runs fn against its root group and closes the file.
func withFile(path string, readonly bool, fn func(root *nexus.Group) error) (err error) {
	f, err := openFile(path, readonly)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	root, err := f.Root()
	if err != nil {
		return err
	}
	return fn(root)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&logLevel, "log-level", "", "warn", "log level: debug, info, warn or error")
	pf.VarP(&libver, "libver", "", "library version bounds: earliest or latest")
	pf.BoolVarP(&useSWMR, "swmr", "", false, "open files for single-writer/multiple-reader access")
	pf.BoolVarP(&noColor, "no-color", "", false, "disable colored output")
}
