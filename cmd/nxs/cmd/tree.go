package cmd

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/robert-malhotra/go-nexus/nexus"
)

var (
	treeMatch string
	treeAttrs bool
)

var (
	groupColor    = color.New(color.FgBlue, color.Bold)
	fieldColor    = color.New(color.FgGreen)
	linkColor     = color.New(color.FgCyan)
	danglingColor = color.New(color.FgRed)
	attrColor     = color.New(color.FgYellow)
)

type treeOptions struct {
	// match limits output to the paths matching a doublestar pattern,
	// printed one per line instead of indented.
	match string
	attrs bool
}

func nodeColor(n nexus.Node) *color.Color {
	switch n := n.(type) {
	case *nexus.Group:
		return groupColor
	case *nexus.Field:
		return fieldColor
	case *nexus.Attribute:
		return attrColor
	case *nexus.Link:
		if !n.IsValid() {
			return danglingColor
		}
		return linkColor
	}
	return color.New()
}

// printTree writes the tree below g.
func printTree(w io.Writer, g *nexus.Group, opts treeOptions) error {
	if opts.match != "" && !doublestar.ValidatePattern(opts.match) {
		return fmt.Errorf("invalid pattern %q: %w", opts.match, doublestar.ErrBadPattern)
	}
	if err := printNode(w, g, 0, opts); err != nil {
		return err
	}
	return visit(g, 1, func(n nexus.Node, depth int) error {
		return printNode(w, n, depth, opts)
	})
}

func printNode(w io.Writer, n nexus.Node, depth int, opts treeOptions) error {
	desc, err := describe(n)
	if err != nil {
		return err
	}
	c := nodeColor(n)
	if opts.match != "" {
		if ok, _ := doublestar.Match(opts.match, n.Path()); ok {
			c.Fprintln(w, n.Path())
		}
	} else {
		name := path.Base(n.Path())
		if depth == 0 {
			name = n.Path()
		}
		line := strings.Repeat("  ", depth) + name
		if _, group := n.(*nexus.Group); !group && desc != "" {
			line += " " + desc
		}
		c.Fprintln(w, line)
	}

	if !opts.attrs {
		return nil
	}
	owner, ok := n.(attributed)
	if !ok {
		return nil
	}
	return printAttrs(w, owner, depth+1, opts)
}

func printAttrs(w io.Writer, owner attributed, depth int, opts treeOptions) error {
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
		v, err := a.Read()
		if err != nil {
			return err
		}
		if opts.match != "" {
			if ok, _ := doublestar.Match(opts.match, a.Path()); ok {
				attrColor.Fprintln(w, a.Path())
			}
			continue
		}
		attrColor.Fprintf(w, "%s@%s = %s\n", strings.Repeat("  ", depth), name, formatValue(v))
	}
	return nil
}

var treeCmd = &cobra.Command{
	Use:   "tree FILE [PATH]",
	Short: "Print the groups, fields and links of a file",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start := "/"
		if len(args) > 1 {
			start = args[1]
		}
		return withFile(args[0], true, func(root *nexus.Group) error {
			g, err := resolveGroup(root, start)
			if err != nil {
				return err
			}
			return printTree(os.Stdout, g, treeOptions{match: treeMatch, attrs: treeAttrs})
		})
	},
}

func init() {
	rootCmd.AddCommand(treeCmd)
	treeCmd.Flags().StringVarP(&treeMatch, "match", "m", "", "list only paths matching a glob such as '/entry*/**'")
	treeCmd.Flags().BoolVarP(&treeAttrs, "attrs", "a", false, "include attributes")
}
