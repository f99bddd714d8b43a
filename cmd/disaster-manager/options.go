package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"disaster-manager-go/pkg/log"
)

// Options is the root command. The struct tags are read by go-flags.
type Options struct {
	Verbose bool `short:"v" long:"verbose" description:"debug logging"`

	Serve   *ServeCmd   `command:"serve" description:"Run the odometer and jam guard behind the host link"`
	Replay  *ReplayCmd  `command:"replay" description:"Count filament per tool in a G-code file"`
	History *HistoryCmd `command:"history" description:"Show recorded print jobs and totals"`
	Check   *CheckCmd   `command:"check-config" description:"Validate a configuration file and print the settings"`
}

// Init instantiates the sub-command named by the first argument so that
// the parser can populate its fields.
func (o *Options) Init(firstArg string) {
	switch firstArg {
	case "serve":
		o.Serve = &ServeCmd{}
	case "replay":
		o.Replay = &ReplayCmd{}
	case "history":
		o.History = &HistoryCmd{}
	case "check-config":
		o.Check = &CheckCmd{}
	}
}

func run(args []string) int {
	opts := &Options{}
	var first string
	if len(args) > 0 {
		first = args[0]
	}
	opts.Init(first)

	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.CommandHandler = func(cmd flags.Commander, rest []string) error {
		if cmd == nil {
			return nil
		}
		configureLogging(opts.Verbose)
		return cmd.Execute(rest)
	}
	if _, err := parser.ParseArgs(args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func configureLogging(verbose bool) {
	if verbose {
		log.Default().SetLevel(log.DEBUG)
	}
}
