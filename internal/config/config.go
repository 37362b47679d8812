// Package config handles boardwatch configuration
package config

import (
	"bufio"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultPath is the config file read when BOARDWATCH_CONFIG is unset.
const DefaultPath = "stop.cfg"

type Config struct {
	PicDelay           int     // seconds between board checks
	CameraName         string  // label embedded in snapshot file names
	ChangeThreshold    float64 // minimum change metric to commit
	OutputDir          string
	SnapshotFormat     string // png or jpeg
	CameraIndex        int
	FrameWidth         int
	FrameHeight        int
	ReplayDir          string // replay image files instead of a webcam
	ReferenceFrames    int    // frames averaged into the startup reference
	MinObstructionArea int    // bounding-box area in pixels
	CatalogPath        string // empty disables the catalog
	HTTPAddr           string // empty disables
	GRPCAddr           string // empty disables
	Preview            bool
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		PicDelay:           60,
		CameraName:         "STOP-Camera",
		ChangeThreshold:    0.01,
		OutputDir:          "output",
		SnapshotFormat:     "png",
		CameraIndex:        0,
		FrameWidth:         640,
		FrameHeight:        480,
		ReferenceFrames:    1,
		MinObstructionArea: 6,
		CatalogPath:        "output/catalog.db",
		HTTPAddr:           ":8080",
		GRPCAddr:           ":8081",
	}
}

// Path returns the config file location.
func Path() string {
	return getEnv("BOARDWATCH_CONFIG", DefaultPath)
}

// Load builds the config from defaults, the key=value file at path and
// BOARDWATCH_* environment overrides. It never fails: a missing file or a
// bad line keeps the previous value.
func Load(path string) *Config {
	cfg := Defaults()
	if path != "" {
		cfg.loadFile(path)
	}
	cfg.applyEnv()
	cfg.normalize()
	return cfg
}

// Interval returns PicDelay as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.PicDelay) * time.Second
}

func (c *Config) loadFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		slog.Info("config file not loaded, using defaults", "path", path, "error", err)
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			slog.Warn("malformed config line ignored", "path", path, "line", lineNo)
			continue
		}
		if err := c.set(strings.TrimSpace(key), strings.TrimSpace(val)); err != nil {
			slog.Warn("config value ignored", "path", path, "line", lineNo, "key", key, "error", err)
		}
	}
	if err := sc.Err(); err != nil {
		slog.Warn("config read stopped early", "path", path, "error", err)
	}
}

type unknownKeyError string

func (e unknownKeyError) Error() string { return "unknown key " + strconv.Quote(string(e)) }

func (c *Config) set(key, val string) error {
	var err error
	switch key {
	case "picDelay":
		c.PicDelay, err = parseInt(val, c.PicDelay)
	case "cameraName":
		c.CameraName = val
	case "changeThreshold":
		c.ChangeThreshold, err = parseFloat(val, c.ChangeThreshold)
	case "outputDir":
		c.OutputDir = val
	case "snapshotFormat":
		c.SnapshotFormat = val
	case "cameraIndex":
		c.CameraIndex, err = parseInt(val, c.CameraIndex)
	case "frameWidth":
		c.FrameWidth, err = parseInt(val, c.FrameWidth)
	case "frameHeight":
		c.FrameHeight, err = parseInt(val, c.FrameHeight)
	case "replayDir":
		c.ReplayDir = val
	case "referenceFrames":
		c.ReferenceFrames, err = parseInt(val, c.ReferenceFrames)
	case "minObstructionArea":
		c.MinObstructionArea, err = parseInt(val, c.MinObstructionArea)
	case "catalogPath":
		c.CatalogPath = val
	case "httpAddr":
		c.HTTPAddr = val
	case "grpcAddr":
		c.GRPCAddr = val
	case "preview":
		c.Preview = val == "true" || val == "1"
	default:
		err = unknownKeyError(key)
	}
	return err
}

func (c *Config) applyEnv() {
	c.PicDelay = getEnvInt("BOARDWATCH_PIC_DELAY", c.PicDelay)
	c.CameraName = getEnv("BOARDWATCH_CAMERA_NAME", c.CameraName)
	c.ChangeThreshold = getEnvFloat("BOARDWATCH_CHANGE_THRESHOLD", c.ChangeThreshold)
	c.OutputDir = getEnv("BOARDWATCH_OUTPUT_DIR", c.OutputDir)
	c.SnapshotFormat = getEnv("BOARDWATCH_SNAPSHOT_FORMAT", c.SnapshotFormat)
	c.CameraIndex = getEnvInt("BOARDWATCH_CAMERA_INDEX", c.CameraIndex)
	c.FrameWidth = getEnvInt("BOARDWATCH_FRAME_WIDTH", c.FrameWidth)
	c.FrameHeight = getEnvInt("BOARDWATCH_FRAME_HEIGHT", c.FrameHeight)
	c.ReplayDir = getEnv("BOARDWATCH_REPLAY_DIR", c.ReplayDir)
	c.ReferenceFrames = getEnvInt("BOARDWATCH_REFERENCE_FRAMES", c.ReferenceFrames)
	c.MinObstructionArea = getEnvInt("BOARDWATCH_MIN_OBSTRUCTION_AREA", c.MinObstructionArea)
	c.CatalogPath = getEnvOptional("BOARDWATCH_CATALOG_PATH", c.CatalogPath)
	c.HTTPAddr = getEnvOptional("BOARDWATCH_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getEnvOptional("BOARDWATCH_GRPC_ADDR", c.GRPCAddr)
	c.Preview = getEnvBool("BOARDWATCH_PREVIEW", c.Preview)
}

// normalize replaces out-of-range values with defaults.
func (c *Config) normalize() {
	d := Defaults()
	c.CameraName = strings.TrimSpace(c.CameraName)
	if c.CameraName == "" {
		c.CameraName = d.CameraName
	}
	if strings.ContainsAny(c.CameraName, `/\`) || c.CameraName == "." || c.CameraName == ".." {
		slog.Warn("camera name must not be a path, using default", "camera_name", c.CameraName)
		c.CameraName = d.CameraName
	}
	if c.PicDelay < 0 {
		c.PicDelay = d.PicDelay
	}
	if c.ChangeThreshold < 0 || c.ChangeThreshold > 1 {
		c.ChangeThreshold = d.ChangeThreshold
	}
	switch strings.ToLower(c.SnapshotFormat) {
	case "jpg", "jpeg":
		c.SnapshotFormat = "jpeg"
	default:
		c.SnapshotFormat = "png"
	}
	if c.ReferenceFrames < 1 {
		c.ReferenceFrames = d.ReferenceFrames
	}
	if c.MinObstructionArea < 1 {
		c.MinObstructionArea = d.MinObstructionArea
	}
	if c.OutputDir == "" {
		c.OutputDir = d.OutputDir
	}
}

func parseInt(v string, def int) (int, error) {
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, err
	}
	return i, nil
}

func parseFloat(v string, def float64) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, err
	}
	return f, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvOptional distinguishes unset from set-to-empty so an address or
// path can be disabled from the environment.
func getEnvOptional(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}
