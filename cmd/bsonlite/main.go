package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/wricardo/bsonlite"
)

const usage = `bsonlite — convert and check BSON document streams

Usage:
  bsonlite <command> [flags]

Commands:
  json2bson    Read extended JSON documents from a file or stdin and
               write the concatenated BSON frames (accepts --in, --out)
  bson2json    Read concatenated BSON frames and write one extended
               JSON document per line (accepts --in, --out, --mode)
  validate     Read concatenated BSON frames and check framing, UTF-8,
               and key policy (accepts --in, --dollar-keys, --dot-keys)

Modes for bson2json: canonical (default), relaxed, legacy.
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, w io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(w, usage)
		return fmt.Errorf("no command specified")
	}

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "json2bson":
		return doJSON2BSON(cmdArgs, w)
	case "bson2json":
		return doBSON2JSON(cmdArgs, w)
	case "validate":
		return doValidate(cmdArgs, w)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// openIn returns the input stream for --in, defaulting to stdin.
func openIn(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

func openOut(path string, w io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return w, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, f.Close, nil
}

func doJSON2BSON(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("json2bson", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	in := fs.String("in", "", "input file (default stdin)")
	out := fs.String("out", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	src, err := openIn(*in)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, closeDst, err := openOut(*out, w)
	if err != nil {
		return err
	}

	jr := bsonlite.NewJSONReader(src)
	doc := bsonlite.New()
	n := 0
	for {
		err := jr.Read(doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("parse document %d: %w", n+1, err)
		}
		if _, err := dst.Write(doc.Data()); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		n++
	}
	return closeDst()
}

func doBSON2JSON(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("bson2json", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	in := fs.String("in", "", "input file (default stdin)")
	out := fs.String("out", "", "output file (default stdout)")
	mode := fs.String("mode", "canonical", "canonical, relaxed, or legacy")
	if err := fs.Parse(args); err != nil {
		return err
	}

	src, err := openIn(*in)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, closeDst, err := openOut(*out, w)
	if err != nil {
		return err
	}

	render := func(d *bsonlite.Doc) (string, error) { return d.AsCanonicalJSON() }
	switch *mode {
	case "canonical":
	case "relaxed":
		render = func(d *bsonlite.Doc) (string, error) { return d.AsRelaxedJSON() }
	case "legacy":
		render = func(d *bsonlite.Doc) (string, error) { return d.AsJSON() }
	default:
		return fmt.Errorf("unknown mode: %s", *mode)
	}

	r := bsonlite.NewReaderIO(src)
	n := 0
	for {
		doc, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read document %d: %w", n+1, err)
		}
		s, err := render(doc)
		if err != nil {
			return fmt.Errorf("render document %d: %w", n+1, err)
		}
		if _, err := fmt.Fprintln(dst, s); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		n++
	}
	return closeDst()
}

func doValidate(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	in := fs.String("in", "", "input file (default stdin)")
	dollarKeys := fs.Bool("dollar-keys", false, "reject keys starting with '$'")
	dotKeys := fs.Bool("dot-keys", false, "reject keys containing '.'")
	if err := fs.Parse(args); err != nil {
		return err
	}

	src, err := openIn(*in)
	if err != nil {
		return err
	}
	defer src.Close()

	flags := bsonlite.ValidateUTF8
	if *dollarKeys {
		flags |= bsonlite.ValidateDollarKeys
	}
	if *dotKeys {
		flags |= bsonlite.ValidateDotKeys
	}

	r := bsonlite.NewReaderIO(src)
	n := 0
	for {
		doc, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("document %d: %w", n+1, err)
		}
		if err := doc.Validate(flags); err != nil {
			return fmt.Errorf("document %d: %w", n+1, err)
		}
		n++
	}
	fmt.Fprintf(w, "%d documents OK\n", n)
	return nil
}
