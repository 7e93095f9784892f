package cmd

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/robert-malhotra/go-nexus/nexus"
)

var infoJSON bool

// summary describes one file.
type summary struct {
	Path         string     `json:"path"`
	Bytes        uint64     `json:"bytes"`
	Superblock   int        `json:"superblock"`
	NeXusVersion string     `json:"nexus_version,omitempty"`
	Created      *time.Time `json:"created,omitempty"`
	Updated      *time.Time `json:"updated,omitempty"`
	Groups       int        `json:"groups"`
	Fields       int        `json:"fields"`
	Links        int        `json:"links"`
	Dangling     int        `json:"dangling"`
	Elements     int        `json:"elements"`
}

// summarize opens path read-only and counts what it holds.
func summarize(path string) (*summary, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	s := &summary{Path: path, Bytes: uint64(st.Size())}
	err = withFile(path, true, func(root *nexus.Group) error {
		f := root.File()
		s.Superblock = f.Handle().Version()
		if t, err := f.Created(); err == nil {
			s.Created = &t
		}
		if t, err := f.Updated(); err == nil {
			s.Updated = &t
		}
		if a, err := f.Attributes().Get("NeXus_version"); err == nil {
			if v, err := a.Read(); err == nil {
				s.NeXusVersion, _ = v.Value().(string)
			}
		}
		return visit(root, 1, func(n nexus.Node, _ int) error {
			switch n := n.(type) {
			case *nexus.Group:
				s.Groups++
			case *nexus.Field:
				s.Fields++
				size, err := n.Size()
				if err != nil {
					return err
				}
				s.Elements += size
			case *nexus.Link:
				s.Links++
				if !n.IsValid() {
					s.Dangling++
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// summarizeAll summarizes the files concurrently, each with its own handle,
// and returns the results in argument order.
func summarizeAll(paths []string) ([]*summary, error) {
	out := make([]*summary, len(paths))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			s, err := summarize(p)
			out[i] = s
			return err
		})
	}
	return out, g.Wait()
}

func printSummaries(w io.Writer, sums []*summary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sums)
	}
	for _, s := range sums {
		fmt.Fprintf(w, "%s\n", groupColor.Sprint(s.Path))
		fmt.Fprintf(w, "  size        %s\n", humanize.IBytes(s.Bytes))
		fmt.Fprintf(w, "  superblock  v%d\n", s.Superblock)
		if s.NeXusVersion != "" {
			fmt.Fprintf(w, "  nexus       %s\n", s.NeXusVersion)
		}
		if s.Created != nil {
			fmt.Fprintf(w, "  created     %s (%s)\n", s.Created.Format(time.RFC3339), humanize.Time(*s.Created))
		}
		if s.Updated != nil {
			fmt.Fprintf(w, "  updated     %s (%s)\n", s.Updated.Format(time.RFC3339), humanize.Time(*s.Updated))
		}
		fmt.Fprintf(w, "  groups      %s\n", humanize.Comma(int64(s.Groups)))
		fmt.Fprintf(w, "  fields      %s (%s elements)\n", humanize.Comma(int64(s.Fields)), humanize.Comma(int64(s.Elements)))
		fmt.Fprintf(w, "  links       %s (%d dangling)\n", humanize.Comma(int64(s.Links)), s.Dangling)
	}
	return nil
}

var infoCmd = &cobra.Command{
	Use:   "info FILE...",
	Short: "Summarize one or more files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sums, err := summarizeAll(args)
		if err != nil {
			return err
		}
		return printSummaries(os.Stdout, sums, infoJSON)
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVarP(&infoJSON, "json", "", false, "output JSON")
}
