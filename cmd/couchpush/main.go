// Command couchpush compiles a document from a file or directory
// and pushes it into a CouchDB database or another document store,
// writing only when something changed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bobg/subcmd"
	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/store"
	_ "github.com/bobg/couchpush/store/couch"
	_ "github.com/bobg/couchpush/store/file"
	_ "github.com/bobg/couchpush/store/gcs"
	_ "github.com/bobg/couchpush/store/logging"
	_ "github.com/bobg/couchpush/store/lru"
	_ "github.com/bobg/couchpush/store/mem"
	_ "github.com/bobg/couchpush/store/mongo"
	_ "github.com/bobg/couchpush/store/pg"
	_ "github.com/bobg/couchpush/store/redis"
	_ "github.com/bobg/couchpush/store/replica"
	_ "github.com/bobg/couchpush/store/sqlite3"
)

type maincmd struct {
	// Store config from -config, or nil.
	conf map[string]interface{}
}

func main() {
	var (
		config  = flag.String("config", "", "path to JSON store config file (replaces TARGET)")
		logfile = flag.String("log", "", "log to this file instead of stderr, with rotation")
	)
	flag.Parse()

	// A missing .env file is fine.
	_ = godotenv.Load()

	if *logfile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   *logfile,
			MaxSize:    10,
			MaxBackups: 3,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var c maincmd
	if *config != "" {
		conf, err := readConfig(*config)
		if err != nil {
			log.Fatal(err)
		}
		c.conf = conf
	}

	err := subcmd.Run(ctx, c, flag.Args())
	if err != nil {
		if couchpush.KindOf(err) == couchpush.KindUnknown {
			log.Fatal(err)
		}
		printError(err)
		stop()
		os.Exit(1)
	}
}

func (c maincmd) Subcmds() map[string]subcmd.Subcmd {
	return map[string]subcmd.Subcmd{
		"compile": c.compile,
		"digest":  c.digest,
		"get":     c.get,
		"push":    c.push,
		"serve":   c.serve,
	}
}

// openStore opens the store named by -config if there was one,
// and otherwise by the first of args, which it consumes.
func (c maincmd) openStore(ctx context.Context, args []string) (couchpush.Store, []string, error) {
	if c.conf != nil {
		s, err := store.FromConfig(ctx, c.conf)
		return s, args, err
	}
	if len(args) == 0 {
		return nil, nil, couchpush.InvalidTarget("", nil)
	}
	s, err := store.Open(ctx, args[0])
	return s, args[1:], err
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("ERROR encoding output: %s", err)
	}
}

func printError(err error) {
	enc := json.NewEncoder(os.Stderr)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(couchpush.AsError(err)); encErr != nil {
		log.Printf("ERROR %s", err)
	}
}
