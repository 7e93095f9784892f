package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/robert-malhotra/go-nexus/nexus"
)

var (
	catSel  string
	catJSON bool
)

// valued is a node holding data: a *nexus.Field or a *nexus.Attribute.
type valued interface {
	nexus.Node
	DType() (nexus.DType, error)
	Get(sel nexus.Selection) (*nexus.Array, error)
	Set(sel nexus.Selection, value any) error
}

type catOutput struct {
	Path  string `json:"path"`
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
	Data  any    `json:"data"`
}

func asValued(n nexus.Node) (valued, error) {
	v, ok := n.(valued)
	if !ok {
		return nil, fmt.Errorf("%s holds no data", n.Path())
	}
	return v, nil
}

// catNode writes the elements of n selected by the expression sel.
func catNode(w io.Writer, n nexus.Node, sel string, asJSON bool) error {
	v, err := asValued(n)
	if err != nil {
		return err
	}
	var s nexus.Selection
	if sel != "" {
		if s, err = nexus.ParseSelection(sel); err != nil {
			return err
		}
	}
	a, err := v.Get(s)
	if err != nil {
		return err
	}
	dt, err := v.DType()
	if err != nil {
		return err
	}

	if !asJSON {
		if a.Rank() > 0 {
			fmt.Fprintf(w, "%v ", a.Shape)
		}
		fmt.Fprintln(w, formatValue(a))
		return nil
	}
	out := catOutput{Path: n.Path(), DType: dt.String(), Shape: a.Shape, Data: a.Value()}
	if out.Shape == nil {
		out.Shape = []int{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// listAttrs writes one line per attribute of n.
func listAttrs(w io.Writer, n nexus.Node) error {
	owner, ok := n.(attributed)
	if !ok {
		return fmt.Errorf("%s: attributes live on groups and fields", n.Path())
	}
	attrs := owner.Attributes()
	names, err := attrs.Names()
	if err != nil {
		return err
	}
	for _, name := range names {
		a, err := attrs.Get(name)
		if err != nil {
			return err
		}
		desc, err := describe(a)
		if err != nil {
			return err
		}
		v, err := a.Read()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", attrColor.Sprint(name), desc, formatValue(v))
	}
	return nil
}

var catCmd = &cobra.Command{
	Use:   "cat FILE PATH",
	Short: "Print the value of a field or attribute",
	Example: `  nxs cat scan.nxs /entry/data/counts --sel '-10:'
  nxs cat scan.nxs /entry@start_time --json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFile(args[0], true, func(root *nexus.Group) error {
			n, err := resolve(root, args[1])
			if err != nil {
				return err
			}
			return catNode(os.Stdout, n, catSel, catJSON)
		})
	},
}

var attrsCmd = &cobra.Command{
	Use:   "attrs FILE [PATH]",
	Short: "List the attributes of a group or field",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := "/"
		if len(args) > 1 {
			p = args[1]
		}
		return withFile(args[0], true, func(root *nexus.Group) error {
			n, err := resolve(root, p)
			if err != nil {
				return err
			}
			return listAttrs(os.Stdout, n)
		})
	},
}

func init() {
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(attrsCmd)
	catCmd.Flags().StringVarP(&catSel, "sel", "s", "", "selection such as '0:10:2, ...'")
	catCmd.Flags().BoolVarP(&catJSON, "json", "", false, "output JSON")
}
