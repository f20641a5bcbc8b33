package main

import (
	"fmt"
	"os"

	"github.com/danmuck/sv2wire/internal/logging"
	"github.com/pterm/pterm"
)

const usage = `usage: sv2ctl <command> [flags]

commands:
  keygen    generate an authority key pair and a responder static key
  cert      issue a responder certificate from an authority seed
  config    write or validate a codec config file
  selftest  run an in-memory initiator/responder exchange`

func main() {
	logging.ConfigureRuntime()
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:])
	case "cert":
		err = runCert(os.Args[2:])
	case "config":
		err = runConfig(os.Args[2:])
	case "selftest":
		err = runSelftest(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
