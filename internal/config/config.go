// Package config parses command-line configuration for the send and
// receive subcommands. Flags take precedence over MESHDROP_* environment
// variables.
package config

import (
	"flag"
	"os"
	"strings"
)

// SendConfig holds configuration for the send subcommand.
type SendConfig struct {
	Paths       []string // positional: files or directories to send
	Excludes    []string // repeatable -exclude globs
	Pod         bool     // bind localhost only
	Compress    bool     // negotiate block compression
	IncludeJunk bool     // keep dependency/cache/VCS directories
	LogLevel    string
	ListenAddr  string // test override; empty means the fixed port
}

// ReceiveConfig holds configuration for the receive subcommand.
type ReceiveConfig struct {
	ConnString string // positional: ip:token
	Pod        bool
	Overwrite  bool // replace conflicting files instead of suffixing
	Resume     bool // continue from an existing lock document
	LogLevel   string
	Port       int // test override; 0 means the fixed port
}

// ParseSend parses the send subcommand's arguments.
func ParseSend(args []string) (SendConfig, error) {
	return parseSendWithFlagSet(flag.NewFlagSet("send", flag.ContinueOnError), args)
}

func parseSendWithFlagSet(fs *flag.FlagSet, args []string) (SendConfig, error) {
	cfg := SendConfig{LogLevel: "info"}
	if level := os.Getenv("MESHDROP_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	excludes := make([]string, 0)
	fs.BoolVar(&cfg.Pod, "pod", false, "bind to localhost for containerized environments")
	fs.BoolVar(&cfg.Compress, "compress", false, "compress file data blocks")
	fs.BoolVar(&cfg.IncludeJunk, "include-junk", false, "do not skip dependency/cache/VCS directories")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.Var((*stringSlice)(&excludes), "exclude", "glob to exclude, matched per path component (repeatable)")
	if err := fs.Parse(args); err != nil {
		return SendConfig{}, err
	}
	cfg.Excludes = excludes
	cfg.Paths = fs.Args()
	return cfg, nil
}

// ParseReceive parses the receive subcommand's arguments.
func ParseReceive(args []string) (ReceiveConfig, error) {
	return parseReceiveWithFlagSet(flag.NewFlagSet("receive", flag.ContinueOnError), args)
}

func parseReceiveWithFlagSet(fs *flag.FlagSet, args []string) (ReceiveConfig, error) {
	cfg := ReceiveConfig{LogLevel: "info", Resume: true}
	if level := os.Getenv("MESHDROP_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	fs.BoolVar(&cfg.Pod, "pod", false, "connect to localhost for containerized environments")
	fs.BoolVar(&cfg.Overwrite, "overwrite", false, "replace existing files instead of renaming")
	fs.BoolVar(&cfg.Resume, "resume", cfg.Resume, "resume from a previous interrupted transfer")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return ReceiveConfig{}, err
	}
	if fs.NArg() > 0 {
		cfg.ConnString = fs.Arg(0)
	}
	return cfg, nil
}

// stringSlice implements flag.Value for repeatable string flags.
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

var _ flag.Value = (*stringSlice)(nil)
