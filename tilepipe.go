package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/marsmapper/tilepipe/engine"
	"github.com/marsmapper/tilepipe/pipeline"
	"github.com/marsmapper/tilepipe/tilegrid"
	"github.com/marsmapper/tilepipe/tilepipe"
)

// Version of the tilepipe command line tool.
const Version = "0.1"

var (
	showHelp   bool
	showHelp2  bool
	verbose    bool
	configFile string
	engineName string

	// Overrides for the corresponding TOML settings.
	zoomSpec    string
	workers     int
	profileName string
	override    bool
)

const helpMessage = `
tilepipe turns planetary raster images into a zoomable web map tile pyramid

	usage: tilepipe [options] <command>

Commands:

	run        Run the full pipeline: convert sources, merge into a mosaic,
	           generate the tile tree.  Requires -config.
	coords     <zoom> <x> <y> [geodetic|mercator]
	           Print the latitude/longitude of a tile's center.
	version

Options:
`

func init() {
	flag.BoolVar(&showHelp, "h", false, "Show help message")
	flag.BoolVar(&showHelp2, "help", false, "Show help message")
	flag.BoolVar(&verbose, "verbose", false, "Verbose logging")
	flag.StringVar(&configFile, "config", "", "Path to TOML configuration file")
	flag.StringVar(&engineName, "engine", "gdal", "Raster engine: 'gdal' or 'native'")
	flag.StringVar(&zoomSpec, "zoom", "", "Zoom range, e.g. '10-18' (overrides TOML setting)")
	flag.IntVar(&workers, "workers", 0, "Number of parallel workers (overrides TOML setting)")
	flag.StringVar(&profileName, "profile", "", "Tiling profile: 'geodetic' or 'mercator' (overrides TOML setting)")
	flag.BoolVar(&override, "celestial-override", false, "Allow cross-body coordinate transforms")
}

func main() {
	flag.Parse()

	if verbose {
		tilepipe.Verbose = true
		tilepipe.SetLogMode(tilepipe.DebugMode)
	}
	if showHelp || showHelp2 || flag.NArg() == 0 {
		fmt.Printf("%s\n", helpMessage)
		flag.PrintDefaults()
		return
	}

	var err error
	switch flag.Arg(0) {
	case "run":
		err = doRun()
	case "coords":
		err = doCoords(flag.Args()[1:])
	case "version":
		fmt.Printf("tilepipe %s\n", Version)
	default:
		err = fmt.Errorf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// doRun executes the full pipeline and exits non-zero on any fatal stage
// failure, reporting its kind and failing units beforehand.
func doRun() error {
	cfg, err := tilepipe.LoadConfig(configFile)
	if err != nil {
		return err
	}
	if zoomSpec != "" {
		cfg.Run.Zoom = zoomSpec
	}
	if workers > 0 {
		cfg.Run.Workers = workers
	}
	if profileName != "" {
		cfg.Run.Profile = profileName
	}
	if override {
		cfg.Run.CelestialOverride = true
	}
	cfg.Logging.SetLogger()

	var eng engine.Engine
	switch engineName {
	case "gdal":
		eng = engine.NewGDAL()
	case "native":
		eng = engine.NewNative()
	default:
		return fmt.Errorf("unknown engine %q: must be 'gdal' or 'native'", engineName)
	}

	// An interrupt cancels in-flight workers so a partial run releases its
	// resources promptly.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := pipeline.New(eng, cfg).Run(ctx)
	for _, stage := range result.Stages {
		tilepipe.Infof("Stage %-8s took %s\n", stage.Name, stage.Elapsed)
	}
	if !result.Success {
		tilepipe.Criticalf("Pipeline failed [%s]: %v\n", result.Kind, result.Err)
		os.Exit(1)
	}
	tilepipe.Infof("Pipeline succeeded: %d sources, %d tiles, %d per-tile failures\n",
		result.Sources, result.Tiles, len(result.TileFailures))
	return nil
}

// doCoords implements the operator coordinate lookup: given a tile address
// and profile, print the latitude/longitude of the tile's center.  It has no
// side effects on the pipeline's persisted state.
func doCoords(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: tilepipe coords <zoom> <x> <y> [geodetic|mercator]")
	}
	z, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad zoom %q: %v", args[0], err)
	}
	x, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("bad x %q: %v", args[1], err)
	}
	y, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("bad y %q: %v", args[2], err)
	}
	profile := tilegrid.Geodetic
	if len(args) > 3 {
		if profile, err = tilegrid.ParseProfile(args[3]); err != nil {
			return err
		}
	}
	if !profile.Valid(tilegrid.Address{Z: z, X: x, Y: y}) {
		return fmt.Errorf("tile %d/%d/%d is outside the %s grid", z, x, y, profile)
	}

	lat, lon := tilegrid.TileToLatLon(profile, z, float64(x)+0.5, float64(y)+0.5)
	fmt.Printf("Tile (Z=%d, X=%d, Y=%d) center:\n", z, x, y)
	fmt.Printf("Latitude:  %.6f\n", lat)
	fmt.Printf("Longitude: %.6f\n", lon)
	fmt.Printf("\nLeaflet: const map = L.map('map').setView([%.6f, %.6f], %d);\n", lat, lon, z+2)
	return nil
}
