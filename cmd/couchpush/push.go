package main

import (
	"context"
	"flag"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/push"
	"github.com/bobg/couchpush/sink/kafka"
	"github.com/bobg/couchpush/store"
)

func (c maincmd) push(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		watch     = fs.Bool("watch", false, "keep pushing whenever SOURCE changes")
		multipart = fs.Bool("multipart", false, "send new attachments as separate binary parts")
		brokers   = fs.String("kafka-brokers", "", "comma-separated Kafka brokers to publish watch outcomes to")
		topic     = fs.String("kafka-topic", "couchpush", "Kafka topic for watch outcomes")
	)
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}

	args = fs.Args()
	if c.conf == nil && len(args) == 1 {
		if u := os.Getenv("COUCH_URL"); u != "" {
			args = []string{u, args[0]}
		}
	}

	opts := push.Options{
		Watch:     *watch,
		Multipart: *multipart,
	}
	if *brokers != "" {
		k := kafka.New(strings.Split(*brokers, ","), *topic)
		defer k.Close()
		opts.Observer = k
	}

	cb := func(res *couchpush.Result, err error) {
		if err != nil {
			// Without -watch the error is returned and reported by main.
			if *watch {
				printError(err)
			}
			return
		}
		printJSON(res)
	}

	if c.conf != nil {
		if len(args) != 1 {
			return errors.New("usage: couchpush -config FILE push [-watch] [-multipart] SOURCE")
		}
		s, err := store.FromConfig(ctx, c.conf)
		if err != nil {
			return errors.Wrap(err, "creating store from config")
		}
		if closer, ok := s.(io.Closer); ok {
			defer closer.Close()
		}
		return push.RunStore(ctx, s, args[0], opts, cb)
	}

	if len(args) != 2 {
		return errors.New("usage: couchpush push [-watch] [-multipart] TARGET SOURCE")
	}
	return push.Run(ctx, args[0], args[1], opts, cb)
}
