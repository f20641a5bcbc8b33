package main

import (
	"errors"
	"flag"
	"time"

	"github.com/danmuck/sv2wire/internal/config"
	"github.com/pterm/pterm"
)

func runConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	kind := fs.String("kind", "initiator", "config kind: initiator|responder|plain")
	output := fs.String("output", "", "output path for config template")
	validate := fs.Bool("validate", false, "validate an existing config file")
	input := fs.String("input", "", "config path for validation")
	force := fs.Bool("force", false, "overwrite existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *validate {
		if *input == "" {
			return errors.New("-input is required with -validate")
		}
		file, err := config.LoadCodecConfig(*input)
		if err != nil {
			return err
		}
		cfg, err := file.TransportConfig(time.Now())
		if err != nil {
			return err
		}
		pterm.Success.Printfln("Validated %s %s config at %s", cfg.Mode, cfg.Role, *input)
		return nil
	}

	if *output == "" {
		return errors.New("-output is required")
	}
	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		return err
	}
	pterm.Success.Printfln("Wrote %s config template to %s", *kind, *output)
	return nil
}
