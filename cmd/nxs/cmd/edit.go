package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/robert-malhotra/go-nexus/internal/log"
	"github.com/robert-malhotra/go-nexus/nexus"
)

var (
	createOverwrite bool
	fieldShape      []int
	fieldChunk      []int
	fieldDeflate    int
	fieldShuffle    bool
	writeSel        string
)

// parseValue decodes a JSON scalar or rectangular array of numbers,
// booleans or strings.
func parseValue(text string) (*nexus.Array, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("parsing value: %w", err)
	}

	var shape []int
	for probe := v; ; {
		list, ok := probe.([]any)
		if !ok {
			break
		}
		shape = append(shape, len(list))
		if len(list) == 0 {
			break
		}
		probe = list[0]
	}

	var leaves []any
	var walk func(v any, d int) error
	walk = func(v any, d int) error {
		if d == len(shape) {
			leaves = append(leaves, v)
			return nil
		}
		list, ok := v.([]any)
		if !ok || len(list) != shape[d] {
			return errors.New("parsing value: array is not rectangular")
		}
		for _, e := range list {
			if err := walk(e, d+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(v, 0); err != nil {
		return nil, err
	}
	if len(leaves) == 0 {
		return nil, errors.New("parsing value: empty array")
	}

	var data any
	switch leaves[0].(type) {
	case float64:
		data = collect[float64](leaves)
	case bool:
		data = collect[bool](leaves)
	case string:
		data = collect[string](leaves)
	default:
		return nil, fmt.Errorf("parsing value: unsupported element %v", leaves[0])
	}
	if data == nil {
		return nil, errors.New("parsing value: mixed element types")
	}
	return &nexus.Array{Shape: shape, Data: data}, nil
}

// collect returns leaves as a []T, or nil when one of them is not a T.
func collect[T any](leaves []any) any {
	out := make([]T, len(leaves))
	for i, l := range leaves {
		v, ok := l.(T)
		if !ok {
			return nil
		}
		out[i] = v
	}
	return out
}

// writeNode stores value at the node or attribute p. An attribute that
// does not exist yet is created with a type inferred from the value.
func writeNode(root *nexus.Group, p, sel string, value *nexus.Array) error {
	var s nexus.Selection
	if sel != "" {
		var err error
		if s, err = nexus.ParseSelection(sel); err != nil {
			return err
		}
	}

	n, err := resolve(root, p)
	if errors.Is(err, nexus.ErrNotFound) && strings.Contains(p, "@") && s == nil {
		ownerPath, name, _ := strings.Cut(p, "@")
		owner, oerr := resolve(root, ownerPath)
		if oerr != nil {
			return oerr
		}
		a, ok := owner.(attributed)
		if !ok {
			return fmt.Errorf("%s: attributes live on groups and fields", owner.Path())
		}
		return a.Attributes().Set(name, value)
	}
	if err != nil {
		return err
	}
	v, err := asValued(n)
	if err != nil {
		return err
	}
	return v.Set(s, value)
}

// createField makes a field at p with the given layout. A negative rate
// leaves the field unfiltered.
func createField(root *nexus.Group, p string, dt nexus.DType, shape, chunk []int, rate int, shuffle bool) (*nexus.Field, error) {
	g, name, err := splitParent(root, p)
	if err != nil {
		return nil, err
	}
	var opts []nexus.FieldOption
	if len(shape) > 0 {
		opts = append(opts, nexus.WithShape(shape...))
	}
	if len(chunk) > 0 {
		opts = append(opts, nexus.WithChunk(chunk...))
	}
	if rate >= 0 {
		d := nexus.NewDeflate()
		d.Rate = rate
		d.Shuffle = shuffle
		opts = append(opts, nexus.WithDeflate(d))
	}
	return g.CreateField(name, dt, opts...)
}

var createCmd = &cobra.Command{
	Use:   "create FILE",
	Short: "Create a NeXus file with the standard root attributes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := nexus.Create(args[0], nexus.Overwrite(createOverwrite), nexus.WithLibVer(libver.v))
		if err != nil {
			return err
		}
		log.Infow(cmd.Context(), "created", "file", args[0], "libver", libver.v)
		return f.Close()
	},
}

var mkgroupCmd = &cobra.Command{
	Use:   "mkgroup FILE PATH [NXCLASS]",
	Short: "Create a group",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var class string
		if len(args) > 2 {
			class = args[2]
		}
		return withFile(args[0], false, func(root *nexus.Group) error {
			g, name, err := splitParent(root, args[1])
			if err != nil {
				return err
			}
			child, err := g.CreateGroup(name, class)
			if err != nil {
				return err
			}
			fmt.Println(child.Path())
			return nil
		})
	},
}

var mkfieldCmd = &cobra.Command{
	Use:   "mkfield FILE PATH DTYPE",
	Short: "Create a growable chunked field",
	Example: `  nxs mkfield scan.nxs /entry/data/frames uint16 --shape 0,512,512 --chunk 1,512,512 --deflate 4 --shuffle`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		dt, err := nexus.ParseDType(args[2])
		if err != nil {
			return err
		}
		return withFile(args[0], false, func(root *nexus.Group) error {
			f, err := createField(root, args[1], dt, fieldShape, fieldChunk, fieldDeflate, fieldShuffle)
			if err != nil {
				return err
			}
			fmt.Println(f.Path())
			return nil
		})
	},
}

var writeCmd = &cobra.Command{
	Use:   "write FILE PATH VALUE",
	Short: "Write a JSON value to a field or attribute",
	Example: `  nxs write scan.nxs /entry/data/counts '[1, 2, 3]'
  nxs write scan.nxs /entry/data/counts 0 --sel '1:'
  nxs write scan.nxs /entry@title '"calibration"'`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := parseValue(args[2])
		if err != nil {
			return err
		}
		return withFile(args[0], false, func(root *nexus.Group) error {
			return writeNode(root, args[1], writeSel, value)
		})
	},
}

var growCmd = &cobra.Command{
	Use:   "grow FILE PATH DIM EXT",
	Short: "Extend a field along one dimension",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		dim, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("dimension: %w", err)
		}
		ext, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("extent: %w", err)
		}
		return withFile(args[0], false, func(root *nexus.Group) error {
			n, err := resolve(root, args[1])
			if err != nil {
				return err
			}
			f, ok := n.(*nexus.Field)
			if !ok {
				return fmt.Errorf("%s is not a field", n.Path())
			}
			if err := f.Grow(dim, ext); err != nil {
				return err
			}
			shape, err := f.Shape()
			if err != nil {
				return err
			}
			fmt.Println(shape)
			return nil
		})
	},
}

var linkCmd = &cobra.Command{
	Use:   "link FILE TARGET PATH",
	Short: "Link PATH to TARGET, which may be 'other.nxs:/path' for an external link",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFile(args[0], false, func(root *nexus.Group) error {
			g, name, err := splitParent(root, args[2])
			if err != nil {
				return err
			}
			l, err := g.Link(args[1], name)
			if err != nil {
				return err
			}
			desc, err := describe(l)
			if err != nil {
				return err
			}
			fmt.Println(l.Path(), desc)
			return nil
		})
	},
}

var touchCmd = &cobra.Command{
	Use:   "touch FILE",
	Short: "Update file_update_time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFile(args[0], false)
		if err != nil {
			return err
		}
		if err := f.Touch(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	},
}

func init() {
	rootCmd.AddCommand(createCmd, mkgroupCmd, mkfieldCmd, writeCmd, growCmd, linkCmd, touchCmd)

	createCmd.Flags().BoolVarP(&createOverwrite, "overwrite", "f", false, "truncate an existing file")

	mkfieldCmd.Flags().IntSliceVarP(&fieldShape, "shape", "", nil, "initial extents, comma separated (default 1)")
	mkfieldCmd.Flags().IntSliceVarP(&fieldChunk, "chunk", "", nil, "chunk extents, comma separated")
	mkfieldCmd.Flags().IntVarP(&fieldDeflate, "deflate", "z", -1, "deflate rate 0-9; negative disables compression")
	mkfieldCmd.Flags().BoolVarP(&fieldShuffle, "shuffle", "", false, "shuffle bytes before deflating")

	writeCmd.Flags().StringVarP(&writeSel, "sel", "s", "", "write only the selected elements")
}
