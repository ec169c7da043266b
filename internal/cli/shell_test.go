package cli

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/treevault/internal/app"
	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/dmitrijs2005/treevault/internal/config"
	"github.com/dmitrijs2005/treevault/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shellFixture struct {
	app   *app.App
	shell *Shell
	out   *bytes.Buffer
}

func newShell(t *testing.T, input string) *shellFixture {
	t.Helper()
	orig := isTerminal
	isTerminal = func(int) bool { return false }
	t.Cleanup(func() { isTerminal = orig })

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DatabaseDSN = ":memory:"
	cfg.BlobBackend = "memory"
	cfg.HashAlgorithm = "md5"
	cfg.RetryBackoff = 0
	cfg.LogLevel = "error"

	a, err := app.New(context.Background(), cfg, io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	out := &bytes.Buffer{}
	return &shellFixture{
		app:   a,
		shell: NewShell(a, bufio.NewScanner(strings.NewReader(input)), out),
		out:   out,
	}
}

// run executes one command line and returns what it printed.
func (f *shellFixture) run(t *testing.T, line string) (string, error) {
	t.Helper()
	f.out.Reset()
	parts := strings.Fields(line)
	ctx := context.Background()
	s := f.shell

	handlers := map[string]func(context.Context, []string) error{
		"ls": s.Ls, "cd": s.Cd, "pwd": s.Pwd, "mkdir": s.Mkdir, "put": s.Put,
		"rm": s.Rm, "mv": s.Mv, "cp": s.Cp, "rename": s.Rename, "note": s.Note,
		"label": s.Label, "info": s.Info, "find": s.Find, "tasks": s.Tasks,
		"retry": s.Retry, "clear": s.Clear, "sweep": s.Sweep,
	}
	h, ok := handlers[parts[0]]
	require.True(t, ok, "unknown command %s", parts[0])
	err := h(ctx, parts[1:])
	return f.out.String(), err
}

func (f *shellFixture) mustRun(t *testing.T, line string) string {
	t.Helper()
	out, err := f.run(t, line)
	require.NoError(t, err, line)
	return out
}

func writeLocal(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestShell_NavigateAndOrganize(t *testing.T) {
	f := newShell(t, "")

	assert.Equal(t, "/\n", f.mustRun(t, "pwd"))
	assert.Equal(t, "(empty)\n", f.mustRun(t, "ls"))

	assert.Contains(t, f.mustRun(t, "mkdir docs"), "created /docs")
	f.mustRun(t, "mkdir archive")
	f.mustRun(t, "cd docs")
	f.mustRun(t, "mkdir 2024 reports")
	assert.Equal(t, "/docs\n", f.mustRun(t, "pwd"))
	assert.Equal(t, "/docs", f.shell.where(context.Background()))

	out := f.mustRun(t, "ls")
	assert.Contains(t, out, "2024 reports/")

	assert.Contains(t, f.mustRun(t, "mv /docs /archive"), "moved to /archive/docs")
	assert.Equal(t, "/archive/docs", f.shell.where(context.Background()))
	f.mustRun(t, "cd ../..")

	assert.Contains(t, f.mustRun(t, "cp /archive/docs /"), "copied to /docs")
	assert.Contains(t, f.mustRun(t, "rename /docs papers"), "renamed to /papers")

	_, err := f.run(t, "mv /archive /archive/docs")
	assert.ErrorIs(t, err, common.ErrCycle)

	_, err = f.run(t, "cd /missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.run(t, "rename / x")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.run(t, "mv onlyone")
	assert.ErrorIs(t, err, common.ErrValidation)

	f.mustRun(t, "cd")
	assert.Equal(t, "/\n", f.mustRun(t, "pwd"))
}

func TestShell_PutNotesAndFind(t *testing.T) {
	f := newShell(t, "")
	local := t.TempDir()
	writeLocal(t, local, "album/one.txt", "first")
	writeLocal(t, local, "album/two.txt", "second")
	single := writeLocal(t, local, "readme.md", "first")

	out := f.mustRun(t, "put "+filepath.Join(local, "album")+" "+single)
	assert.Contains(t, out, "3 uploaded, 1 skipped, 0 failed")

	out = f.mustRun(t, "ls")
	assert.Contains(t, out, "album/")
	assert.Contains(t, out, "readme.md")

	assert.Contains(t, f.mustRun(t, "note readme.md quarterly summary"), "notes saved on /readme.md")
	assert.Contains(t, f.mustRun(t, "find quarterly"), "/readme.md")
	assert.Equal(t, "nothing found\n", f.mustRun(t, "find nope"))

	f.mustRun(t, "label album/one.txt v1")
	info := f.mustRun(t, "info album/one.txt")
	assert.Contains(t, info, "/album/one.txt")
	assert.Contains(t, info, "v1")

	assert.Contains(t, f.mustRun(t, "note readme.md"), "notes cleared")
}

func TestShell_RemoveTasksAndSweep(t *testing.T) {
	f := newShell(t, "")
	local := t.TempDir()
	a := writeLocal(t, local, "a.txt", "same")
	b := writeLocal(t, local, "b.txt", "same")
	f.mustRun(t, "put "+a+" "+b)

	out := f.mustRun(t, "rm -f a.txt")
	assert.Contains(t, out, "removed /a.txt: 1 node(s), 0 blob(s) reclaimed")
	out = f.mustRun(t, "rm b.txt")
	assert.Contains(t, out, "removed /b.txt: 1 node(s), 1 blob(s) reclaimed")

	out = f.mustRun(t, "tasks")
	assert.Contains(t, out, "upload")
	assert.Contains(t, out, "delete")
	assert.Contains(t, out, string(models.StatusSkipped))

	assert.Equal(t, "no tasks\n", f.mustRun(t, "tasks failed"))
	assert.Contains(t, f.mustRun(t, "clear"), "cleared 4 task(s)")
	assert.Equal(t, "no tasks\n", f.mustRun(t, "tasks"))

	_, err := f.run(t, "retry abc")
	assert.ErrorIs(t, err, common.ErrValidation)
	_, err = f.run(t, "retry 999")
	assert.ErrorIs(t, err, common.ErrNotFound)

	out = f.mustRun(t, "sweep dry")
	assert.Contains(t, out, "scanned 0, referenced 0, orphaned 0")
}

func TestShell_RemoveAsksForConfirmation(t *testing.T) {
	f := newShell(t, "n\ny\n")
	f.shell.interactive = true
	f.mustRun(t, "mkdir tmp")

	assert.Contains(t, f.mustRun(t, "rm tmp"), "cancelled")
	assert.Contains(t, f.mustRun(t, "ls"), "tmp/")

	out := f.mustRun(t, "rm tmp")
	assert.Contains(t, out, "Delete /tmp and everything inside? [y/N]")
	assert.Contains(t, out, "removed /tmp")
	assert.Equal(t, "(empty)\n", f.mustRun(t, "ls"))
}

func TestShell_WhereFallsBackToRoot(t *testing.T) {
	f := newShell(t, "")
	f.mustRun(t, "mkdir gone")
	f.mustRun(t, "cd gone")
	f.mustRun(t, "rm -f /gone")

	assert.Equal(t, "/", f.shell.where(context.Background()))
	assert.Nil(t, f.shell.cwd)
}
