package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. Every handler
// receives the arguments after the command word.
type execIface interface {
	Ls(ctx context.Context, args []string) error
	Cd(ctx context.Context, args []string) error
	Pwd(ctx context.Context, args []string) error
	Mkdir(ctx context.Context, args []string) error
	Put(ctx context.Context, args []string) error
	Rm(ctx context.Context, args []string) error
	Mv(ctx context.Context, args []string) error
	Cp(ctx context.Context, args []string) error
	Rename(ctx context.Context, args []string) error
	Note(ctx context.Context, args []string) error
	Label(ctx context.Context, args []string) error
	Info(ctx context.Context, args []string) error
	Find(ctx context.Context, args []string) error
	Tasks(ctx context.Context, args []string) error
	Retry(ctx context.Context, args []string) error
	Clear(ctx context.Context, args []string) error
	Sweep(ctx context.Context, args []string) error
}

const helpText = `Available commands:
  ls [path]                 list a folder
  cd [path]                 change folder (no path: root)
  pwd                       show the current folder
  mkdir <name>              create a folder here
  put <local path>...       upload files and folders here
  rm <path>...              delete nodes and their contents
  mv <path>... <folder>     move nodes into a folder
  cp <path>... <folder>     copy nodes into a folder
  rename <path> <name>      rename a node
  note <path> [text]        set or clear notes
  label <path> [text]       set or clear the display hash
  info <path>               show node details
  find <text>               search names and notes
  tasks [failed]            show the task log
  retry <task id>           retry a failed task
  clear                     drop finished tasks
  sweep [dry]               remove blobs no node references
  exit | quit               leave the program`

// runREPL reads commands from scanner until EOF or "exit"/"quit" and
// dispatches them to a. The prompt shows statusFn (the current folder).
// Handler errors are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(fmt.Sprintf("tv:%s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help", "?":
			printlnFn(helpText)

		case "ls", "l":
			err = a.Ls(ctx, args)

		case "cd":
			err = a.Cd(ctx, args)

		case "pwd":
			err = a.Pwd(ctx, args)

		case "mkdir":
			err = a.Mkdir(ctx, args)

		case "put":
			err = a.Put(ctx, args)

		case "rm":
			err = a.Rm(ctx, args)

		case "mv":
			err = a.Mv(ctx, args)

		case "cp":
			err = a.Cp(ctx, args)

		case "rename":
			err = a.Rename(ctx, args)

		case "note":
			err = a.Note(ctx, args)

		case "label":
			err = a.Label(ctx, args)

		case "info":
			err = a.Info(ctx, args)

		case "find":
			err = a.Find(ctx, args)

		case "tasks":
			err = a.Tasks(ctx, args)

		case "retry":
			err = a.Retry(ctx, args)

		case "clear":
			err = a.Clear(ctx, args)

		case "sweep":
			err = a.Sweep(ctx, args)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", err)
		}
	}
}
