package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/robert-malhotra/go-nexus/hdf5"
	"github.com/robert-malhotra/go-nexus/nexus"
)

const shellHelp = `Commands:
  ls [PATH]             list the children of a group
  cd [PATH]             change the current group (default /)
  pwd                   print the current group
  cat PATH [SELECTION]  print a field or attribute
  attrs [PATH]          list attributes
  tree [PATH]           print the tree below a group
  reopen                reopen the file to pick up a writer's changes
  help                  show this text
  exit                  leave the shell
Relative paths are resolved against the current group; ".." is allowed.`

// session is the state of an interactive shell.
type session struct {
	file *nexus.File
	root *nexus.Group
	cwd  string
}

func newSession(f *nexus.File) (*session, error) {
	root, err := f.Root()
	if err != nil {
		return nil, err
	}
	return &session{file: f, root: root, cwd: "/"}, nil
}

func (s *session) abs(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(s.cwd, p)
}

// prompt shows the current group with its NeXus class suffixes.
func (s *session) prompt() string {
	if g, err := resolveGroup(s.root, s.cwd); err == nil {
		return "nxs:" + g.Path() + "> "
	}
	return "nxs:" + s.cwd + "> "
}

// exec runs one command line. It reports io.EOF for exit.
func (s *session) exec(w io.Writer, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	target := "."
	if len(fields) > 1 {
		target = fields[1]
	}

	switch fields[0] {
	case "exit", "quit":
		return io.EOF
	case "help":
		fmt.Fprintln(w, shellHelp)
	case "pwd":
		fmt.Fprintln(w, s.cwd)
	case "cd":
		if len(fields) == 1 {
			target = "/"
		}
		p := s.abs(target)
		if _, err := resolveGroup(s.root, p); err != nil {
			return err
		}
		s.cwd = p
	case "ls":
		g, err := resolveGroup(s.root, s.abs(target))
		if err != nil {
			return err
		}
		links, err := g.Links()
		if err != nil {
			return err
		}
		for _, l := range links {
			n := nexus.Node(l)
			if l.Type() == hdf5.LinkHard {
				if n, err = g.Open(l.Name()); err != nil {
					return err
				}
			}
			desc, err := describe(n)
			if err != nil {
				return err
			}
			nodeColor(n).Fprintf(w, "%s\t%s\n", l.Name(), desc)
		}
	case "cat":
		if len(fields) < 2 {
			return errors.New("usage: cat PATH [SELECTION]")
		}
		n, err := resolve(s.root, s.abs(target))
		if err != nil {
			return err
		}
		return catNode(w, n, strings.Join(fields[2:], " "), false)
	case "attrs":
		n, err := resolve(s.root, s.abs(target))
		if err != nil {
			return err
		}
		return listAttrs(w, n)
	case "tree":
		g, err := resolveGroup(s.root, s.abs(target))
		if err != nil {
			return err
		}
		return printTree(w, g, treeOptions{})
	case "reopen":
		return s.file.Reopen()
	default:
		return fmt.Errorf("unknown command %q; type help", fields[0])
	}
	return nil
}

func runShell(f *nexus.File) error {
	s, err := newSession(f)
	if err != nil {
		return err
	}
	l, err := readline.NewEx(&readline.Config{
		Prompt:          s.prompt(),
		HistoryFile:     path.Join(os.TempDir(), "nxs-history.tmp"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("ls"), readline.PcItem("cd"), readline.PcItem("pwd"),
			readline.PcItem("cat"), readline.PcItem("attrs"), readline.PcItem("tree"),
			readline.PcItem("reopen"), readline.PcItem("help"), readline.PcItem("exit"),
		),
	})
	if err != nil {
		return err
	}
	defer l.Close()
	l.CaptureExitSignal()

	fmt.Fprintf(l.Stdout(), "%s: type \"help\" for help.\n", f.Name())
	for {
		line, err := l.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := s.exec(l.Stdout(), line); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			fmt.Fprintln(l.Stderr(), "ERROR: "+err.Error())
		}
		l.SetPrompt(s.prompt())
	}
}

var shellCmd = &cobra.Command{
	Use:   "shell FILE",
	Short: "Browse a file interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := openFile(args[0], true)
		if err != nil {
			return err
		}
		defer f.Close()
		return runShell(f)
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}
