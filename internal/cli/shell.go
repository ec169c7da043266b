// Package cli is the interactive shell over the tree: a working folder,
// file-manager commands and the task log. Write commands run under the
// orchestrator lock so they never interleave with a drop-folder batch or a
// scheduled sweep.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/treevault/internal/app"
	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/dmitrijs2005/treevault/internal/ingest"
	"github.com/dmitrijs2005/treevault/internal/models"
	"github.com/dmitrijs2005/treevault/internal/sweep"
	"github.com/dmitrijs2005/treevault/internal/tracker"
	"github.com/dmitrijs2005/treevault/internal/tree"
)

type sweepFunc func(ctx context.Context, opts sweep.Options) (sweep.Stats, error)

type Shell struct {
	tree    *tree.Service
	ingest  *ingest.Orchestrator
	tracker *tracker.Tracker
	sweep   sweepFunc

	// cwd is the current folder, nil for the root.
	cwd *int64

	in          *bufio.Scanner
	out         io.Writer
	interactive bool
}

// NewShell binds a shell to the services of a. Commands read follow-up
// answers from in and write to out.
func NewShell(a *app.App, in *bufio.Scanner, out io.Writer) *Shell {
	return &Shell{
		tree:        a.Tree,
		ingest:      a.Ingest,
		tracker:     a.Tracker,
		sweep:       a.Sweep,
		in:          in,
		out:         out,
		interactive: interactive(),
	}
}

// Run starts the REPL and returns when the user leaves or ctx is done.
func (s *Shell) Run(ctx context.Context) {
	printlnFn("treevault shell, type help for commands")
	runREPL(ctx, s, func() string { return s.where(ctx) }, s.in)
}

// where renders the current folder. A folder removed from under the shell
// sends it back to the root.
func (s *Shell) where(ctx context.Context) string {
	if s.cwd == nil {
		return "/"
	}
	n, err := s.tree.Get(ctx, *s.cwd)
	if err != nil {
		s.cwd = nil
		return "/"
	}
	return display(n)
}

func display(n *models.TreeNode) string {
	if n == nil {
		return "/"
	}
	return "/" + n.Path
}

// resolve looks path up from the current folder. A nil node means the root.
func (s *Shell) resolve(ctx context.Context, path string) (*models.TreeNode, error) {
	n, err := s.tree.Lookup(ctx, s.cwd, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

// resolveNode is resolve for commands that cannot act on the root.
func (s *Shell) resolveNode(ctx context.Context, path string) (*models.TreeNode, error) {
	n, err := s.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &common.ValidationError{Field: "path", Message: "the root cannot be used here"}
	}
	return n, nil
}

func (s *Shell) resolveNodes(ctx context.Context, paths []string) ([]*models.TreeNode, []int64, error) {
	found := make([]*models.TreeNode, 0, len(paths))
	ids := make([]int64, 0, len(paths))
	for _, p := range paths {
		n, err := s.resolveNode(ctx, p)
		if err != nil {
			return nil, nil, err
		}
		found = append(found, n)
		ids = append(ids, n.ID)
	}
	return found, ids, nil
}

// resolveFolder returns the id of the folder at path, nil for the root.
func (s *Shell) resolveFolder(ctx context.Context, path string) (*int64, error) {
	n, err := s.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nil
	}
	if !n.IsFolder {
		return nil, &common.ValidationError{Field: "path", Message: fmt.Sprintf("%s is not a folder", display(n))}
	}
	return &n.ID, nil
}

func usage(text string) error {
	return &common.ValidationError{Field: "usage", Message: text}
}

func (s *Shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

// exclusive runs fn under the orchestrator lock.
func (s *Shell) exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.ingest.Exclusive(ctx, fn)
}

func describeErr(err error) string {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return "not found: " + err.Error()
	case errors.Is(err, common.ErrCycle):
		return "refused: " + err.Error()
	}
	return err.Error()
}
