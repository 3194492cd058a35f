// Package main implements the surgecache admin CLI.
//
// Commands:
//
//	check                 validate the configuration file
//	explain <expression>  show what a filter expression depends on
//	invalidate            evict every entry of -model from the store
//	flush                 evict everything under the configured prefix
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/redis/go-redis/v9"

	surgecache "github.com/surgecache/surgecache"
	"github.com/surgecache/surgecache/config"
	"github.com/surgecache/surgecache/filter"
	"github.com/surgecache/surgecache/filterexpr"
	"github.com/surgecache/surgecache/internal/cli"
	"github.com/surgecache/surgecache/internal/logging"
	"github.com/surgecache/surgecache/store/redisstore"
)

func main() {
	code := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := cli.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintln(stdout, err.Error())
			return 0
		}
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	if len(opts.Args) == 0 {
		_, _ = fmt.Fprintln(stderr, "missing command: check, explain, invalidate or flush")
		return 1
	}

	res, err := config.Load(opts.ConfigPath, config.LoadOptions{Strict: opts.StrictConfig})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	for _, warning := range res.Warnings {
		_, _ = fmt.Fprintln(stderr, "warning:", warning)
	}

	switch cmd := opts.Args[0]; cmd {
	case "check":
		printPlan(stdout, res.Plan)
		return 0
	case "explain":
		if len(opts.Args) < 2 {
			_, _ = fmt.Fprintln(stderr, "explain requires a filter expression")
			return 1
		}
		return explain(stdout, stderr, res.Plan, opts.Model, opts.Args[1])
	case "invalidate":
		if opts.Model == "" {
			_, _ = fmt.Fprintln(stderr, "invalidate requires -model")
			return 1
		}
		return withEngine(ctx, stderr, res.Plan, opts, func(e *surgecache.Engine) error {
			return e.InvalidateModel(ctx, opts.Model)
		})
	case "flush":
		return withEngine(ctx, stderr, res.Plan, opts, func(e *surgecache.Engine) error {
			return e.InvalidateAll(ctx)
		})
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		return 1
	}
}

func printPlan(w io.Writer, plan config.Plan) {
	_, _ = fmt.Fprintf(w, "prefix: %q\n", plan.Prefix)
	_, _ = fmt.Fprintf(w, "default ttl: %s\n", plan.Defaults.TTL)

	names := make([]string, 0, len(plan.Models))
	for name := range plan.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := plan.Models[name]
		_, _ = fmt.Fprintf(w, "model %s: ttl=%s lock=%v ops=%v\n", name, p.TTL, p.Lock, p.Ops)
	}
}

// explain parses the expression and reports the dependency the cache would
// register for it: the specific conjunction, any-row, or never.
func explain(stdout, stderr io.Writer, plan config.Plan, model, expr string) int {
	node, err := filterexpr.Parse(expr)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	var indexable []string
	if model != "" {
		if p, ok := plan.Models[model]; ok {
			indexable = p.IndexableFields
		}
	}

	ext := filter.Extract(model, node, filter.Options{IndexableFields: indexable})
	switch ext.Kind {
	case filter.KindNever:
		_, _ = fmt.Fprintln(stdout, "never matches: reads short-circuit to an empty result")
	case filter.KindAnyRow:
		_, _ = fmt.Fprintln(stdout, "any-row: every write to the model evicts this entry")
	default:
		_, _ = fmt.Fprintf(stdout, "conjunction %s on fields %v\n", ext.Conj.Hash(), ext.Conj.Fields())
	}
	_, _ = fmt.Fprintf(stdout, "canonical: %s\n", filter.Canonical(node))
	return 0
}

func withEngine(ctx context.Context, stderr io.Writer, plan config.Plan, opts cli.Options, fn func(*surgecache.Engine) error) int {
	if opts.RedisAddr == "" {
		_, _ = fmt.Fprintln(stderr, "this command requires -redis")
		return 1
	}

	client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		_, _ = fmt.Fprintf(stderr, "redis at %s: %v\n", opts.RedisAddr, err)
		return 1
	}

	logger := logging.New(logging.Options{Verbose: opts.Verbose, Writer: stderr})
	engineOpts := append(plan.Options(), surgecache.WithLogger(logger))
	engine := surgecache.New(redisstore.New(client), engineOpts...)

	if err := fn(engine); err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	return 0
}
