package main

import (
	"fmt"
	"os"

	_ "github.com/lib/pq" // Import postgres
	"github.com/urfave/cli"

	"gitlab.com/arcanecrypto/conduit/build"
	"gitlab.com/arcanecrypto/conduit/cmd/conduit/actions"
	"gitlab.com/arcanecrypto/conduit/cmd/conduit/flags"
)

var log = build.AddSubLogger("MAIN")

func main() {
	app := cli.NewApp()
	app.Name = "conduit"
	app.Usage = "Custodial Bitcoin and Lightning payment API"
	app.EnableBashCompletion = true
	// have log levels be set for all commands/subcommands
	app.Before = func(c *cli.Context) error {
		level, err := build.ToLogLevel(c.GlobalString("logging.level"))
		if err != nil {
			return err
		}
		build.SetLogLevels(level)

		if logFile := c.GlobalString("logging.file"); logFile != "" {
			if err := build.SetLogFile(logFile); err != nil {
				return err
			}
		}
		return nil
	}

	app.Flags = flags.CommonFlags
	app.Commands = []cli.Command{
		actions.Db(),
		actions.Serve(),
	}

	err := app.Run(os.Args)
	if err != nil {
		// only print error if something was supplied, help
		// message is printed anyways
		if len(os.Args) > 1 {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

}
