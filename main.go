// exomon — cluster node discovery & live telemetry
//
// Usage:
//
//	exomon node   — run the discovery + telemetry daemon
//	exomon watch  — stream and pretty-print telemetry from a node
//	exomon edit   — edit the configuration file
package main

import (
	"fmt"
	"os"

	"exomon/cmd/node"
	"exomon/cmd/watch"
)

const (
	defaultSystemPath = "/etc/exomon/config.toml"
	defaultLocalPath  = "config.toml"
	version           = "1.0.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	configPath := ""

	// Parse --config flag if present
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			args = append(args[:i], args[i+2:]...)
			i--
			continue
		}
		if len(arg) > 9 && arg[:9] == "--config=" {
			configPath = arg[9:]
			args = append(args[:i], args[i+1:]...)
			i--
			continue
		}
	}

	// Auto-discover config if not specified
	if configPath == "" {
		if _, err := os.Stat(defaultLocalPath); err == nil {
			configPath = defaultLocalPath
		} else {
			configPath = defaultSystemPath
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	var err error

	switch subcommand {
	case "node":
		err = node.Run(configPath)
	case "watch":
		err = watch.Run(configPath)
	case "edit":
		err = node.EditConfig(configPath)
	case "version":
		fmt.Printf("exomon v%s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`exomon v%s — cluster node discovery & live telemetry

Usage:
  exomon <command> [--config <path>]

Commands:
  node     Run the discovery + telemetry daemon
  watch    Stream and pretty-print telemetry from a node
  edit     Edit the configuration file in your system editor
  version  Print version information
  help     Show this help message

Options:
  --config <path>  Path to config file (default: looks for ./config.toml, then %s)

Examples:
  exomon node                           # Run the node with default config
  exomon edit                           # Edit configuration
  exomon watch                          # Follow the local telemetry stream

`, version, defaultSystemPath)
}
