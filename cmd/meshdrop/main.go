package main

import (
	"fmt"
	"os"

	"github.com/meshdrop/meshdrop/internal/cli/receiver"
	"github.com/meshdrop/meshdrop/internal/cli/sender"
)

const version = "v0.1.0"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	switch args[0] {
	case "send":
		os.Exit(sender.Run(args[1:]))
	case "receive":
		os.Exit(receiver.Run(args[1:]))
	case "version", "-v", "--version":
		fmt.Println("meshdrop " + version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `meshdrop - secure file transfer between overlay peers

Usage:
  meshdrop send [flags] <path>...       share files or directories
  meshdrop receive [flags] <ip:token>   fetch a shared batch

Send flags:
  -pod            bind to localhost (containerized environments)
  -compress       compress file data blocks
  -exclude GLOB   skip matching path components (repeatable)
  -include-junk   keep dependency/cache/VCS directories
  -log-level L    debug, info, warn, error

Receive flags:
  -pod            connect to localhost (containerized environments)
  -overwrite      replace existing files instead of renaming
  -resume=false   ignore previous interrupted transfer state
  -log-level L    debug, info, warn, error
`)
}
