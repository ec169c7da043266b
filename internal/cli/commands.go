package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/treevault/internal/models"
	"github.com/dmitrijs2005/treevault/internal/tree"
	"github.com/dustin/go-humanize"
)

func (s *Shell) Ls(ctx context.Context, args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	n, err := s.resolve(ctx, path)
	if err != nil {
		return err
	}

	var list []*models.TreeNode
	if n != nil && !n.IsFolder {
		list = []*models.TreeNode{n}
	} else {
		var parent *int64
		if n != nil {
			parent = &n.ID
		}
		if list, err = s.tree.Children(ctx, parent); err != nil {
			return err
		}
	}

	if len(list) == 0 {
		s.printf("(empty)\n")
		return nil
	}
	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	for _, c := range list {
		name, hash := c.Name, c.DisplayHash
		if c.IsFolder {
			name += "/"
		}
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.ID, name, hash, humanize.Time(c.UpdatedAt))
	}
	return w.Flush()
}

func (s *Shell) Cd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		s.cwd = nil
		return nil
	}
	id, err := s.resolveFolder(ctx, args[0])
	if err != nil {
		return err
	}
	s.cwd = id
	return nil
}

// Pwd prints the current folder from its breadcrumbs.
func (s *Shell) Pwd(ctx context.Context, args []string) error {
	if s.cwd == nil {
		s.printf("/\n")
		return nil
	}
	crumbs, err := s.tree.Breadcrumbs(ctx, *s.cwd)
	if err != nil {
		s.cwd = nil
		return err
	}
	names := make([]string, 0, len(crumbs))
	for _, c := range crumbs {
		names = append(names, c.Name)
	}
	s.printf("/%s\n", strings.Join(names, "/"))
	return nil
}

func (s *Shell) Mkdir(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("mkdir <name>")
	}
	name := strings.Join(args, " ")
	return s.exclusive(ctx, func(ctx context.Context) error {
		n, err := s.tree.CreateFolder(ctx, s.cwd, name)
		if err != nil {
			return err
		}
		s.printf("created %s\n", display(n))
		return nil
	})
}

func (s *Shell) Rm(ctx context.Context, args []string) error {
	force := len(args) > 0 && args[0] == "-f"
	if force {
		args = args[1:]
	}
	if len(args) == 0 {
		return usage("rm [-f] <path>...")
	}
	targets, ids, err := s.resolveNodes(ctx, args)
	if err != nil {
		return err
	}

	if s.interactive && !force {
		names := make([]string, 0, len(targets))
		for _, t := range targets {
			names = append(names, display(t))
		}
		ok, err := Confirm(s.in, fmt.Sprintf("Delete %s and everything inside?", strings.Join(names, ", ")), s.out)
		if err != nil {
			return err
		}
		if !ok {
			s.printf("cancelled\n")
			return nil
		}
	}

	results, err := s.ingest.Delete(ctx, ids)
	for _, r := range results {
		s.printDelete(r)
	}
	return err
}

func (s *Shell) printDelete(r tree.DeleteResult) {
	if r.Err != nil {
		s.printf("failed  /%s (task %d): %s\n", r.Path, r.TaskID, describeErr(r.Err))
		if len(r.Kept) > 0 {
			s.printf("        %d node(s) kept\n", len(r.Kept))
		}
		return
	}
	s.printf("removed /%s: %d node(s), %d blob(s) reclaimed\n", r.Path, r.Removed, len(r.Reclaimed))
}

// splitTarget separates "src... dst" arguments.
func splitTarget(args []string, cmd string) ([]string, string, error) {
	if len(args) < 2 {
		return nil, "", usage(cmd + " <path>... <folder>")
	}
	return args[:len(args)-1], args[len(args)-1], nil
}

func (s *Shell) Mv(ctx context.Context, args []string) error {
	srcs, dst, err := splitTarget(args, "mv")
	if err != nil {
		return err
	}
	return s.exclusive(ctx, func(ctx context.Context) error {
		_, ids, err := s.resolveNodes(ctx, srcs)
		if err != nil {
			return err
		}
		target, err := s.resolveFolder(ctx, dst)
		if err != nil {
			return err
		}
		moved, err := s.tree.Move(ctx, ids, target)
		if err != nil {
			return err
		}
		for _, n := range moved {
			s.printf("moved to %s\n", display(n))
		}
		return nil
	})
}

func (s *Shell) Cp(ctx context.Context, args []string) error {
	srcs, dst, err := splitTarget(args, "cp")
	if err != nil {
		return err
	}
	return s.exclusive(ctx, func(ctx context.Context) error {
		_, ids, err := s.resolveNodes(ctx, srcs)
		if err != nil {
			return err
		}
		target, err := s.resolveFolder(ctx, dst)
		if err != nil {
			return err
		}
		copies, err := s.tree.Copy(ctx, ids, target)
		if err != nil {
			return err
		}
		for _, n := range copies {
			s.printf("copied to %s\n", display(n))
		}
		return nil
	})
}

// edit applies e to the node at path under the orchestrator lock.
func (s *Shell) edit(ctx context.Context, path string, e tree.Edit) (*models.TreeNode, error) {
	var updated *models.TreeNode
	err := s.exclusive(ctx, func(ctx context.Context) error {
		n, err := s.resolveNode(ctx, path)
		if err != nil {
			return err
		}
		updated, err = s.tree.Update(ctx, n.ID, e)
		return err
	})
	return updated, err
}

func (s *Shell) Rename(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("rename <path> <name>")
	}
	name := strings.Join(args[1:], " ")
	n, err := s.edit(ctx, args[0], tree.Edit{Name: &name})
	if err != nil {
		return err
	}
	s.printf("renamed to %s\n", display(n))
	return nil
}

func (s *Shell) Note(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("note <path> [text]")
	}
	text := strings.Join(args[1:], " ")
	n, err := s.edit(ctx, args[0], tree.Edit{Notes: &text})
	if err != nil {
		return err
	}
	if text == "" {
		s.printf("notes cleared on %s\n", display(n))
	} else {
		s.printf("notes saved on %s\n", display(n))
	}
	return nil
}

func (s *Shell) Label(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("label <path> [text]")
	}
	text := strings.Join(args[1:], " ")
	n, err := s.edit(ctx, args[0], tree.Edit{DisplayHash: &text})
	if err != nil {
		return err
	}
	s.printf("display hash of %s set to %q\n", display(n), n.DisplayHash)
	return nil
}

func (s *Shell) Info(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("info <path>")
	}
	n, err := s.resolveNode(ctx, args[0])
	if err != nil {
		return err
	}

	kind := "file"
	if n.IsFolder {
		kind = "folder"
	}
	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "id\t%d\n", n.ID)
	fmt.Fprintf(w, "path\t%s\n", display(n))
	fmt.Fprintf(w, "kind\t%s\n", kind)
	if !n.IsFolder {
		fmt.Fprintf(w, "extension\t%s\n", n.Extension)
		fmt.Fprintf(w, "hash\t%s\n", n.ContentHash)
		fmt.Fprintf(w, "display hash\t%s\n", n.DisplayHash)
		fmt.Fprintf(w, "blob\t%s\n", n.BlobRef)
	}
	if n.Notes != "" {
		fmt.Fprintf(w, "notes\t%s\n", n.Notes)
	}
	fmt.Fprintf(w, "created\t%s (%s)\n", n.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(n.CreatedAt))
	fmt.Fprintf(w, "updated\t%s (%s)\n", n.UpdatedAt.Format("2006-01-02 15:04:05"), humanize.Time(n.UpdatedAt))
	return w.Flush()
}

func (s *Shell) Find(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("find <text>")
	}
	found, err := s.tree.Search(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if len(found) == 0 {
		s.printf("nothing found\n")
		return nil
	}
	for _, n := range found {
		s.printf("%s\n", display(n))
	}
	return nil
}
