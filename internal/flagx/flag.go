// Package flagx lets several flag sets share one argument list: each set
// parses only the arguments it defines.
package flagx

import (
	"flag"
	"io"
	"strings"
)

type boolFlag interface {
	IsBoolFlag() bool
}

// Filter returns the arguments of args that name a flag defined in fs,
// together with their values, in their original order. Unknown flags,
// positional arguments and everything after "--" are dropped.
//
// Supported forms:
//
//	-w /srv/drop
//	--w=/srv/drop
//	-path-style        (boolean, never takes the next token)
func Filter(args []string, fs *flag.FlagSet) []string {
	out := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if len(arg) < 2 || arg[0] != '-' {
			continue
		}

		name, _, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		out = append(out, arg)
		if hasValue {
			continue
		}
		if b, ok := f.Value.(boolFlag); ok && b.IsBoolFlag() {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}

	return out
}

// Parse runs fs over the subset of args it defines.
func Parse(fs *flag.FlagSet, args []string) error {
	return fs.Parse(Filter(args, fs))
}

// ConfigFileFlag extracts the config file path given via -c or -config.
// Other arguments are ignored. Returns "" when neither is present; when
// both are, the last one wins.
func ConfigFileFlag(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "Path to config file")
	fs.StringVar(&path, "c", "", "Path to config file (short)")
	_ = Parse(fs, args)

	return path
}
