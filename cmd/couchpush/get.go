package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/bobg/couchpush"
)

func (c maincmd) get(ctx context.Context, fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}

	s, args, err := c.openStore(ctx, fs.Args())
	if err != nil {
		return err
	}
	if closer, ok := s.(io.Closer); ok {
		defer closer.Close()
	}

	switch len(args) {
	case 1:
		doc, err := s.Get(ctx, args[0])
		if err != nil {
			return errors.Wrapf(err, "getting %s", args[0])
		}
		printJSON(doc)
		return nil

	case 2:
		ag, ok := s.(couchpush.AttachmentGetter)
		if !ok {
			return errors.New("store cannot get attachments")
		}
		data, err := ag.GetAttachment(ctx, args[0], args[1])
		if err != nil {
			return errors.Wrapf(err, "getting attachment %s of %s", args[1], args[0])
		}
		_, err = os.Stdout.Write(data)
		return errors.Wrap(err, "writing attachment to stdout")
	}

	return errors.New("usage: couchpush get TARGET ID [ATTACHMENT]")
}
