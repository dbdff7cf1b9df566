package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/compile"
)

func (c maincmd) compile(_ context.Context, fs *flag.FlagSet, args []string) error {
	multipart := fs.Bool("multipart", false, "list attachments separately instead of inlining them")
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}

	args = fs.Args()
	if len(args) != 1 {
		return errors.New("usage: couchpush compile [-multipart] SOURCE")
	}

	doc, atts, err := compile.Compile(args[0], compile.Options{Multipart: *multipart})
	if err != nil {
		return couchpush.CompileFailed(err)
	}
	printJSON(doc)

	for _, a := range atts {
		fmt.Fprintf(os.Stderr, "%s\t%s\t%d\t%s\n", a.Name, a.ContentType, len(a.Data), couchpush.Digest(a.Data))
	}
	return nil
}

func (c maincmd) digest(_ context.Context, fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}

	for _, filename := range fs.Args() {
		data, err := os.ReadFile(filename)
		if err != nil {
			return errors.Wrapf(err, "reading %s", filename)
		}
		fmt.Printf("%s  %s\n", couchpush.Digest(data), filename)
	}
	return nil
}
