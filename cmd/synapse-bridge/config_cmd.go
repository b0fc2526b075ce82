package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/synapse-bridge/internal/config"
	"github.com/mattjoyce/synapse-bridge/internal/doctor"
)

const redacted = "[redacted]"

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	result := &doctor.Result{}
	cfg, err := loadConfig(configPath)
	if err != nil {
		result.Errors = append(result.Errors, doctor.Issue{Category: "config", Message: err.Error()})
	} else {
		result = doctor.New(cfg).Validate()
	}

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	data, err := yaml.Marshal(redactSecrets(*cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	if cfg.SourceFile != "" {
		fmt.Printf("# source: %s\n", cfg.SourceFile)
	} else {
		fmt.Println("# source: built-in defaults")
	}
	fmt.Print(string(data))
	return 0
}

// redactSecrets returns a copy of cfg safe to print.
func redactSecrets(cfg config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&cfg.Transport.Gateway.Token)
	mask(&cfg.Transport.Telegram.Token)
	mask(&cfg.API.APIKey)
	return cfg
}
