package config

import (
	"flag"
	"testing"
)

func TestParseSendDefaults(t *testing.T) {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	cfg, err := parseSendWithFlagSet(fs, []string{"a.txt", "b"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Pod || cfg.Compress || cfg.IncludeJunk {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level %q", cfg.LogLevel)
	}
	if len(cfg.Paths) != 2 || cfg.Paths[0] != "a.txt" {
		t.Fatalf("paths %v", cfg.Paths)
	}
}

func TestParseSendFlags(t *testing.T) {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	cfg, err := parseSendWithFlagSet(fs, []string{
		"-pod", "-compress", "-exclude", "*.log", "-exclude", "tmp", "dir",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.Pod || !cfg.Compress {
		t.Fatalf("flags not set: %+v", cfg)
	}
	if len(cfg.Excludes) != 2 || cfg.Excludes[1] != "tmp" {
		t.Fatalf("excludes %v", cfg.Excludes)
	}
	if len(cfg.Paths) != 1 || cfg.Paths[0] != "dir" {
		t.Fatalf("paths %v", cfg.Paths)
	}
}

func TestParseSendEnvLogLevel(t *testing.T) {
	t.Setenv("MESHDROP_LOG_LEVEL", "debug")
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	cfg, err := parseSendWithFlagSet(fs, []string{"x"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level %q", cfg.LogLevel)
	}
}

func TestParseReceive(t *testing.T) {
	fs := flag.NewFlagSet("receive", flag.ContinueOnError)
	cfg, err := parseReceiveWithFlagSet(fs, []string{"-overwrite", "-resume=false", "100.64.1.2:ocean-tiger"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.Overwrite || cfg.Resume {
		t.Fatalf("flags not honored: %+v", cfg)
	}
	if cfg.ConnString != "100.64.1.2:ocean-tiger" {
		t.Fatalf("conn string %q", cfg.ConnString)
	}
}

func TestParseReceiveResumeDefaultsOn(t *testing.T) {
	fs := flag.NewFlagSet("receive", flag.ContinueOnError)
	cfg, err := parseReceiveWithFlagSet(fs, []string{"100.64.1.2:ocean-tiger"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.Resume {
		t.Fatal("resume should default on")
	}
}
