package tilepipe

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultTileSize is the pixel width and height of generated map tiles.
	DefaultTileSize = 256

	// DefaultZoomSpec is the zoom range used when none is configured.
	DefaultZoomSpec = "10-18"
)

// Config is the parsed TOML configuration for a pipeline run.  All paths are
// converted to absolute paths relative to the TOML file's own directory.
type Config struct {
	Paths    PathConfig
	Run      RunConfig
	Logging  LogConfig
	filepath string
}

// PathConfig gives the directories used by the three pipeline stages.
type PathConfig struct {
	Source    string // flat directory of raw source rasters
	Converted string // per-source converted rasters; cleared each run
	Mosaic    string // virtual reference + materialized mosaic
	Tiles     string // tile tree output; cleared each run
}

// RunConfig gives operator-facing settings for a pipeline run.
type RunConfig struct {
	Zoom              string `toml:"zoom"`    // e.g. "10-18"
	Profile           string `toml:"profile"` // "geodetic" or "mercator"
	Workers           int    `toml:"workers"` // 0 means max(1, NumCPU-2)
	CelestialOverride bool   `toml:"celestial_override"`
	Overlap           string `toml:"overlap"` // "last" (default) or "first"
	GzipTiles         bool   `toml:"gzip_tiles"`
	Viewer            bool   `toml:"viewer"`
}

// LoadConfig parses a TOML configuration file for a pipeline run.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no TOML configuration file provided")
	}
	var c Config
	if _, err := toml.DecodeFile(filename, &c); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	c.filepath = filename
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths in TOML config: %v", err)
	}
	if err := c.fillDefaults(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) fillDefaults() error {
	if c.Run.Zoom == "" {
		c.Run.Zoom = DefaultZoomSpec
	}
	if c.Run.Profile == "" {
		c.Run.Profile = "geodetic"
	}
	if c.Run.Profile != "geodetic" && c.Run.Profile != "mercator" {
		return fmt.Errorf("unknown tiling profile %q: must be 'geodetic' or 'mercator'", c.Run.Profile)
	}
	if c.Run.Workers <= 0 {
		c.Run.Workers = DefaultWorkers()
	}
	switch c.Run.Overlap {
	case "":
		c.Run.Overlap = "last"
	case "last", "first":
	default:
		return fmt.Errorf("unknown overlap policy %q: must be 'last' or 'first'", c.Run.Overlap)
	}
	return nil
}

// ZoomRange parses the configured zoom spec ("10-18" or a single "12") into
// an inclusive [min, max] interval.
func (c *Config) ZoomRange() (zmin, zmax int, err error) {
	return ParseZoomSpec(c.Run.Zoom)
}

// ParseZoomSpec parses a zoom range spec like "10-18" or "12".
func ParseZoomSpec(spec string) (zmin, zmax int, err error) {
	parts := strings.SplitN(spec, "-", 2)
	zmin, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("bad zoom spec %q: %v", spec, err)
	}
	zmax = zmin
	if len(parts) == 2 {
		zmax, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return 0, 0, fmt.Errorf("bad zoom spec %q: %v", spec, err)
		}
	}
	if zmin < 0 || zmax < zmin {
		return 0, 0, fmt.Errorf("bad zoom spec %q: need 0 <= min <= max", spec)
	}
	return zmin, zmax, nil
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configPath string) error {
	var err error
	configDir := filepath.Dir(configPath)

	if c.Paths.Source != "" {
		c.Paths.Source, err = ConvertToAbsolute(c.Paths.Source, configDir)
		if err != nil {
			return fmt.Errorf("error converting paths.source to absolute path")
		}
	}
	if c.Paths.Converted != "" {
		c.Paths.Converted, err = ConvertToAbsolute(c.Paths.Converted, configDir)
		if err != nil {
			return fmt.Errorf("error converting paths.converted to absolute path")
		}
	}
	if c.Paths.Mosaic != "" {
		c.Paths.Mosaic, err = ConvertToAbsolute(c.Paths.Mosaic, configDir)
		if err != nil {
			return fmt.Errorf("error converting paths.mosaic to absolute path")
		}
	}
	if c.Paths.Tiles != "" {
		c.Paths.Tiles, err = ConvertToAbsolute(c.Paths.Tiles, configDir)
		if err != nil {
			return fmt.Errorf("error converting paths.tiles to absolute path")
		}
	}
	if c.Logging.Logfile != "" {
		c.Logging.Logfile, err = ConvertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("error converting logfile setting to absolute path")
		}
	}
	return nil
}

// DefaultWorkers returns the default parallelism for a pipeline stage:
// slightly fewer workers than total CPUs to keep the system responsive.
func DefaultWorkers() int {
	n := runtime.NumCPU() - 2
	if n < 1 {
		n = 1
	}
	return n
}

// ConvertToAbsolute returns an absolute path for the given path, which if
// relative is assumed to be relative to the given directory.
func ConvertToAbsolute(path, dir string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return path, fmt.Errorf("could not get absolute path of directory %q: %v", dir, err)
	}
	return filepath.Join(absDir, path), nil
}

// ResetDir removes any pre-existing directory at the given path and recreates
// it empty.  Destructive; no backup is made.
func ResetDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("could not remove directory %q: %v", path, err)
	}
	return os.MkdirAll(path, 0755)
}
