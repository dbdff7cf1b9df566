package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/couchpush/store/couch"
	"github.com/bobg/couchpush/store/logging"
)

func (c maincmd) serve(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		addr    = fs.String("addr", "localhost:5984", "address to listen on")
		db      = fs.String("db", "couchpush", "database name to serve")
		verbose = fs.Bool("v", false, "log store operations")
	)
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}

	args = fs.Args()
	if c.conf == nil && len(args) == 0 {
		args = []string{"mem:"}
	}
	s, _, err := c.openStore(ctx, args)
	if err != nil {
		return err
	}
	if closer, ok := s.(io.Closer); ok {
		defer closer.Close()
	}

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", *addr)
	}
	defer lis.Close()

	fmt.Printf("Serving database %s at http://%s/%s\n", *db, lis.Addr(), *db)

	if *verbose {
		s = logging.New(s)
	}
	srv := &http.Server{Handler: couch.NewHandler(*db, s)}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.Serve(lis)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.Background())
	})
	return g.Wait()
}
