// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/isc-konstanz/loris/internal/config"
)

func runConfigCLI(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage()
		return 0
	}
	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:])
	case "dump":
		return runConfigDump(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage()
		return 2
	}
}

func printConfigUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  loris config validate [--file|-f loris.yaml]")
	fmt.Fprintln(os.Stderr, "  loris config dump [--file|-f loris.yaml] [--format=yaml|json]")
}

func configFileFlag(fs *flag.FlagSet) *string {
	var file string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	return &file
}

func runConfigValidate(args []string) int {
	fs := flag.NewFlagSet("loris config validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	file := configFileFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	path := resolveConfigPath(*file)
	loader := config.NewLoader(path, version)
	if _, err := loader.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error in %s:\n  %v\n", path, err)
		return 1
	}
	fmt.Printf("%s is valid\n", displayPath(path))
	return 0
}

func runConfigDump(args []string) int {
	fs := flag.NewFlagSet("loris config dump", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	file := configFileFlag(fs)
	format := fs.String("format", "yaml", "output format (yaml or json)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	path := resolveConfigPath(*file)
	loader := config.NewLoader(path, version)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error in %s:\n  %v\n", path, err)
		return 1
	}

	switch *format {
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding config: %v\n", err)
			return 1
		}
		_ = enc.Close()
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding config: %v\n", err)
			return 1
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown format %q (want yaml or json)\n", *format)
		return 2
	}
	return 0
}

func displayPath(path string) string {
	if path == "" {
		return "configuration (env + defaults)"
	}
	return path
}
