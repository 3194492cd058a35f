package cli

import (
	"errors"
	"flag"
	"strings"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	opts, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if opts.ConfigPath != "surgecache.toml" {
		t.Fatalf("ConfigPath = %q, want %q", opts.ConfigPath, "surgecache.toml")
	}
	if opts.RedisAddr != "" {
		t.Fatalf("RedisAddr = %q, want empty", opts.RedisAddr)
	}
	if opts.Model != "" {
		t.Fatalf("Model = %q, want empty", opts.Model)
	}
	if opts.StrictConfig {
		t.Fatalf("StrictConfig = true, want false")
	}
	if opts.Verbose {
		t.Fatalf("Verbose = true, want false")
	}
	if len(opts.Args) != 0 {
		t.Fatalf("Args = %v, want empty slice", opts.Args)
	}
}

func TestParseOverrides(t *testing.T) {
	args := []string{
		"--config", "project.toml",
		"--redis", "localhost:6379",
		"--model", "tickets",
		"--strict-config",
		"-v",
		"check",
	}

	opts, err := Parse(args)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if got, want := opts.ConfigPath, "project.toml"; got != want {
		t.Fatalf("ConfigPath = %q, want %q", got, want)
	}
	if got, want := opts.RedisAddr, "localhost:6379"; got != want {
		t.Fatalf("RedisAddr = %q, want %q", got, want)
	}
	if got, want := opts.Model, "tickets"; got != want {
		t.Fatalf("Model = %q, want %q", got, want)
	}
	if !opts.StrictConfig {
		t.Fatalf("StrictConfig = false, want true")
	}
	if !opts.Verbose {
		t.Fatalf("Verbose = false, want true")
	}
	if len(opts.Args) != 1 || opts.Args[0] != "check" {
		t.Fatalf("Args = %v, want [check]", opts.Args)
	}
}

func TestParseInvalidFlag(t *testing.T) {
	_, err := Parse([]string{"--unknown"})
	if err == nil {
		t.Fatalf("Parse expected error for unknown flag")
	}
	if !strings.Contains(err.Error(), "Usage of surgecache") {
		t.Fatalf("error = %q, want usage string", err.Error())
	}
	if errors.Is(err, flag.ErrHelp) {
		t.Fatalf("error unexpectedly wraps flag.ErrHelp")
	}
}

func TestUsage(t *testing.T) {
	fs := flag.NewFlagSet("surgecache", flag.ContinueOnError)
	fs.String("flag", "value", "test flag")

	usage := Usage(fs)
	if !strings.Contains(usage, "Usage of surgecache:") {
		t.Fatalf("usage missing header: %q", usage)
	}
	if !strings.Contains(usage, "-flag") {
		t.Fatalf("usage missing flag definition: %q", usage)
	}
}
