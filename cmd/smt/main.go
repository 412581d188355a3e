package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	projectDir string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "smt",
		Short:         "Track the provenance of computational runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&projectDir, "project", "p", ".", "project directory")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(
		cmdInit(),
		cmdRun(),
		cmdList(),
		cmdShow(),
		cmdDiff(),
		cmdTag(),
		cmdUntag(),
		cmdComment(),
		cmdDelete(),
		cmdRepeat(),
	)

	if err := root.Execute(); err != nil {
		log := logger()
		log.Error().Msg(err.Error())
		os.Exit(1)
	}
}

func logger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}
