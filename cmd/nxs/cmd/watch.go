package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/robert-malhotra/go-nexus/internal/log"
	"github.com/robert-malhotra/go-nexus/nexus"
)

var (
	watchSel      string
	watchInterval time.Duration
)

// watch prints the selection of the field at p each time the file changes.
// The file is reopened on every change, so a SWMR reader sees the writer's
// progress; changes closer together than interval are coalesced.
func watch(ctx context.Context, w io.Writer, f *nexus.File, p, sel string, interval time.Duration) error {
	root, err := f.Root()
	if err != nil {
		return err
	}
	n, err := resolve(root, p)
	if err != nil {
		return err
	}
	show := func() error {
		if v, ok := n.(*nexus.Field); ok {
			shape, err := v.Shape()
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s %v: ", time.Now().Format(time.TimeOnly), shape)
		}
		return catNode(w, n, sel, false)
	}
	if err := show(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(f.Name()); err != nil {
		return err
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				return fmt.Errorf("%s was removed", f.Name())
			}
			if ev.Has(fsnotify.Write) && pending == nil {
				pending = time.After(interval)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnw(ctx, "watch error", "error", err)
		case <-pending:
			pending = nil
			if err := f.Reopen(); err != nil {
				return err
			}
			if err := show(); err != nil {
				return err
			}
		}
	}
}

var watchCmd = &cobra.Command{
	Use:   "watch FILE PATH",
	Short: "Print a field or attribute whenever the file is written",
	Long: `watch opens FILE read-only and prints the value at PATH, then reopens the
file and prints it again each time a writer modifies it. Use --swmr to read
a file that a writer holds open in SWMR mode.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		f, err := openFile(args[0], true)
		if err != nil {
			return err
		}
		defer f.Close()
		return watch(ctx, os.Stdout, f, args[1], watchSel, watchInterval)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchSel, "sel", "s", "", "selection to print, such as '-5:'")
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 100*time.Millisecond, "coalesce changes within this interval")
}
