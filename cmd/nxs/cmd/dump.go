package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/robert-malhotra/go-nexus/hdf5"
)

var dumpAttrs bool

// dump writes the storage-level view of a file: superblock, every object
// reachable from the root with its layout, and optionally every attribute.
func dump(w io.Writer, f *hdf5.File, attrs bool) error {
	fmt.Fprintf(w, "superblock v%d (%s bounds), %s, consistency flags %#x\n",
		f.Version(), f.LibVer(), humanize.IBytes(f.Size()), f.ConsistencyFlags())

	err := hdf5.Walk(f.Root(), func(p string, obj hdf5.Object, err error) error {
		if err != nil {
			danglingColor.Fprintf(w, "%s: %v\n", p, err)
			return nil
		}
		switch o := obj.(type) {
		case *hdf5.Group:
			groupColor.Fprintf(w, "%s", p)
			fmt.Fprintf(w, " group, %d attrs\n", len(o.Attrs()))
		case *hdf5.Dataset:
			fieldColor.Fprintf(w, "%s", p)
			fmt.Fprintf(w, " %s %v", o.Type(), o.Shape())
			if chunks := o.Chunks(); chunks != nil {
				fmt.Fprintf(w, " max %s chunks %v", formatMaxDims(o.MaxDims()), chunks)
			}
			if filters := o.Filters(); len(filters) > 0 {
				names := make([]string, len(filters))
				for i, fi := range filters {
					names[i] = fi.Name
				}
				fmt.Fprintf(w, " filters %s", strings.Join(names, ","))
			}
			fmt.Fprintf(w, ", %s\n", humanize.IBytes(o.StorageSize()))
		}
		return nil
	})
	if err != nil || !attrs {
		return err
	}
	return f.WalkAttrs(func(info hdf5.AttrInfo) error {
		if info.Err != nil {
			danglingColor.Fprintf(w, "%s: %v\n", info.Path, info.Err)
			return nil
		}
		attrColor.Fprintf(w, "%s", info.Path)
		fmt.Fprintf(w, " = %v\n", info.Value)
		return nil
	})
}

func formatMaxDims(dims []uint64) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		if d == hdf5.Unlimited {
			parts[i] = "inf"
		} else {
			parts[i] = fmt.Sprint(d)
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

var dumpCmd = &cobra.Command{
	Use:   "dump FILE",
	Short: "Print the HDF5 storage layout of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFile(args[0], true)
		if err != nil {
			return err
		}
		defer f.Close()
		return dump(os.Stdout, f.Handle(), dumpAttrs)
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().BoolVarP(&dumpAttrs, "attrs", "a", false, "include attributes")
}
