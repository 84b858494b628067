package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/EdLlewellin/PyroTracker/internal/db"
	"github.com/EdLlewellin/PyroTracker/internal/monitoring"
	"github.com/EdLlewellin/PyroTracker/internal/version"
)

const (
	defaultDBFile = "pyrotracker.db"

	envDB     = "PYROTRACKER_DB"
	envConfig = "PYROTRACKER_CONFIG"
)

var errUsage = errors.New("usage error")

func main() {
	// .env is optional; a missing file is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	if err := run(os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// run parses global flags and dispatches to a subcommand.
func run(args []string, out io.Writer) error {
	global := flag.NewFlagSet("pyrotracker", flag.ContinueOnError)
	global.SetOutput(out)
	global.Usage = func() { printUsage(out) }
	dbPath := global.String("db", envOr(envDB, defaultDBFile), "path to the project sqlite database")
	configPath := global.String("config", os.Getenv(envConfig), "path to a calibration config JSON file")
	quiet := global.Bool("quiet", false, "suppress diagnostic logging")
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errUsage
	}

	if *quiet {
		monitoring.SetLogger(nil)
	}

	if global.NArg() < 1 {
		printUsage(out)
		return errUsage
	}
	command := global.Arg(0)
	rest := global.Args()[1:]

	switch command {
	case "help":
		printUsage(out)
		return nil
	case "version":
		fmt.Fprintf(out, "pyrotracker %s\n", version.String())
		return nil
	case "migrate":
		return db.RunMigrateCommand(rest, *dbPath, out)
	}

	handler, ok := commands[command]
	if !ok {
		fmt.Fprintf(out, "Unknown command: %s\n\n", command)
		printUsage(out)
		return errUsage
	}

	a, err := openApp(*dbPath, *configPath, out)
	if err != nil {
		return err
	}
	cmdErr := handler(a, rest)
	// State is saved even when the command fails: a failed fit is still
	// recorded on the track.
	return errors.Join(cmdErr, a.close())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, `pyrotracker - track-based scale calibration

Usage: pyrotracker [-db path] [-config file] [-quiet] <command> [options]

Commands:
  migrate <action>             Manage the database schema (up, down, status, version N, force N)
  import <file.csv|file.xlsx>  Import points (columns track_id,frame_index,time_s,x_px,y_px)
  tracks                       List tracks with point counts and fit status
  point add|update <track> <frame> <time_s> <x_px> <y_px>
  point delete <track> <frame>
  track delete <track>         Delete a track with its points and analysis
  gravity [g | -reset]         Show or set the project default g (m/s²)
  settings <track> [-tmin s -tmax s | -auto] [-exclude 1,2 | -exclude none] [-g g] [-reset]
  fit <track>                  Fit a track with its current settings
  fit-all                      Fit every track without a valid fit, using default settings
  use <track> true|false       Select a track for the global scale
  recompute                    Recompute the global scale from selected tracks
  apply                        Apply the global scale to the project
  apply-track <track>          Apply one track's scale to the project
  status                       Print the calibration summary
  plot <track> [-out file] [-format png|svg|pdf]
  report [-html file] [-xlsx file] [-unit m/px|mm/px|px/m]
  runs <track> [-n N]          Show the fit history of a track
  version                      Show version information

Environment:
  PYROTRACKER_DB       database path (default pyrotracker.db)
  PYROTRACKER_CONFIG   calibration config JSON
  Both may be set in a .env file in the working directory.`)
}
