// Package main is a command-line tool for inspecting and editing values in a
// stowage backend. The backend is selected from STOWAGE_* environment
// variables.
//
//	stowage [-ns namespace] [-ttl 1h] get|set|del|keys|gc [key] [json]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/codeGROOVE-dev/stowage"
	"github.com/codeGROOVE-dev/stowage/pkg/config"
	"github.com/codeGROOVE-dev/stowage/pkg/store/ambient"
)

func main() {
	ns := flag.String("ns", "", "namespace for get, set and del")
	ttl := flag.Duration("ttl", 0, "expiry for set (0 = no expiry)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] get|set|del|keys|gc [key] [json]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	level, _ := cfg.Level() //nolint:errcheck // validated by Load
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	b := ambient.Resolve(ctx, cfg, log)
	err = run(ctx, cmd{cfg: cfg, log: log, store: b.Store, ns: *ns, ttl: *ttl}, flag.Args(), os.Stdout)
	if cerr := b.Close(); cerr != nil {
		log.Warn("close backend", "error", cerr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid arguments")

type cmd struct {
	cfg   *config.Config
	log   *slog.Logger
	store stowage.Backend
	ns    string
	ttl   time.Duration
}

func run(ctx context.Context, c cmd, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	r := stowage.New(
		stowage.WithBackend(c.store),
		stowage.WithLogger(c.log),
		stowage.WithDebounce(c.cfg.Debounce),
		stowage.WithFlushTimeout(c.cfg.FlushTimeout),
	)

	value := func(key string) *stowage.Value[json.RawMessage] {
		return stowage.NewValue[json.RawMessage](ctx, r, key, stowage.WithNamespace(c.ns), stowage.WithTTL(c.ttl))
	}

	switch verb := args[0]; {
	case verb == "get" && len(args) == 2:
		v := value(args[1])
		if v.IsDefault(ctx) {
			return fmt.Errorf("%s: not found", v.Key())
		}
		fmt.Fprintln(out, string(v.Get(ctx)))
		return nil

	case verb == "set" && len(args) == 3:
		v := value(args[1])
		if err := v.Set(ctx, json.RawMessage(args[2])); err != nil {
			return err
		}
		return r.Close(ctx)

	case verb == "del" && len(args) == 2:
		return value(args[1]).Clear(ctx)

	case verb == "keys" && len(args) == 1:
		e, ok := c.store.(stowage.Enumerable)
		if !ok {
			return fmt.Errorf("backend %T cannot list keys", c.store)
		}
		ks, err := stowage.Keys(ctx, e)
		if err != nil {
			return fmt.Errorf("list keys: %w", err)
		}
		for _, k := range ks {
			fmt.Fprintln(out, k)
		}
		return nil

	case verb == "gc" && len(args) == 1:
		n, err := r.Collect(ctx, c.store)
		fmt.Fprintf(out, "purged %d\n", n)
		return err

	default:
		return fmt.Errorf("%w: %q", errUsage, args)
	}
}
