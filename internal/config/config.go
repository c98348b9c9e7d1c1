/**
 * Configuration for the batch OCR converter
 *
 * Values are layered: built-in defaults, then an optional YAML file, then
 * environment variables (a .env file is loaded first when present), then
 * command-line flags.
 */

package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/adverant/nexus/batch-ocr/internal/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ModeClassic   = "classic"
	ModeStructure = "structure"

	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
	DeviceGPU  = "gpu"

	PolicyRatioV2  = "ratio-v2"
	PolicyLegacyV1 = "legacy-v1"

	// DefaultMinEmbeddedChars applies when force-OCR is off
	DefaultMinEmbeddedChars = 300
	// ForceOCRMinEmbeddedChars applies when force-OCR is on
	ForceOCRMinEmbeddedChars = 500

	DefaultOutputDir    = "ocr_results"
	DefaultStructureDir = "doc_results"

	unsetInt = -1
)

// Config holds batch configuration
type Config struct {
	// Input and output locations
	Root          string `yaml:"root"`
	OutputRoot    string `yaml:"output_root"`
	StructureRoot string `yaml:"structure_root"`

	// Routing
	Mode             string  `yaml:"mode"`
	ForceOCR         bool    `yaml:"force_ocr"`
	MinEmbeddedChars int     `yaml:"min_embedded_chars"`
	RenderScale      float64 `yaml:"render_scale"`
	FilterOCRLines   bool    `yaml:"filter_ocr_lines"`

	// Readability classifier
	Policy    string  `yaml:"policy"`
	MinLength int     `yaml:"min_length"`
	MinRatio  float64 `yaml:"min_ratio"`

	// OCR engine
	Device      string `yaml:"device"`
	Lang        string `yaml:"lang"`
	Orientation bool   `yaml:"orientation"`

	// External renderer binary
	PdftoppmPath string `yaml:"pdftoppm_path"`

	// Structure mode exports
	ExportTxt  bool `yaml:"export_txt"`
	ExportJSON bool `yaml:"export_json"`
	ExportMD   bool `yaml:"export_md"`
	ExportHTML bool `yaml:"export_html"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Queue and progress events
	RedisURL          string        `yaml:"redis_url"`
	QueueName         string        `yaml:"queue_name"`
	PublishEvents     bool          `yaml:"publish_events"`
	ProcessingTimeout time.Duration `yaml:"processing_timeout"`

	explicitDevice bool
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Mode:              ModeClassic,
		MinEmbeddedChars:  unsetInt,
		RenderScale:       2.0,
		FilterOCRLines:    true,
		Policy:            PolicyRatioV2,
		MinLength:         3,
		MinRatio:          0.7,
		Device:            DeviceAuto,
		Lang:              "en",
		PdftoppmPath:      "pdftoppm",
		ExportTxt:         true,
		ExportJSON:        true,
		ExportMD:          true,
		LogLevel:          "info",
		LogFormat:         "pretty",
		RedisURL:          "redis://localhost:6379",
		QueueName:         "batchocr",
		ProcessingTimeout: 6 * time.Hour,
	}
}

// Load builds the configuration for one command invocation. The returned
// FlagSet has already parsed args; its remaining arguments are available
// through fs.Args().
func Load(name string, args []string) (*Config, *flag.FlagSet, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, nil, errors.NewConfigError(".env", err)
	}

	cfg := Default()

	if path := configPathFromArgs(args); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, nil, err
		}
	} else if path := os.Getenv("BATCHOCR_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, nil, err
		}
	}

	cfg.ApplyEnv()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fs, err
	}
	return cfg, fs, nil
}

// LoadFile overlays values from a YAML file
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.NewConfigError("config file "+path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.NewConfigError("config file "+path, err)
	}
	if c.Device != "" && c.Device != DeviceAuto {
		c.explicitDevice = true
	}
	return nil
}

// ApplyEnv overlays values from the environment
func (c *Config) ApplyEnv() {
	c.Root = getEnvOrDefault("BATCHOCR_ROOT", c.Root)
	c.OutputRoot = getEnvOrDefault("BATCHOCR_OUTPUT", c.OutputRoot)
	c.Mode = getEnvOrDefault("BATCHOCR_MODE", c.Mode)
	c.ForceOCR = getEnvAsBoolOrDefault("BATCHOCR_FORCE_OCR", c.ForceOCR)
	c.MinEmbeddedChars = getEnvAsIntOrDefault("BATCHOCR_MIN_EMBEDDED_CHARS", c.MinEmbeddedChars)
	c.RenderScale = getEnvAsFloatOrDefault("BATCHOCR_RENDER_SCALE", c.RenderScale)
	c.Policy = getEnvOrDefault("BATCHOCR_POLICY", c.Policy)
	c.Lang = getEnvOrDefault("BATCHOCR_LANG", c.Lang)
	c.PdftoppmPath = getEnvOrDefault("PDFTOPPM_PATH", c.PdftoppmPath)
	c.LogLevel = getEnvOrDefault("BATCHOCR_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvOrDefault("BATCHOCR_LOG_FORMAT", c.LogFormat)
	c.RedisURL = getEnvOrDefault("REDIS_URL", c.RedisURL)
	c.QueueName = getEnvOrDefault("BATCHOCR_QUEUE", c.QueueName)
	c.PublishEvents = getEnvAsBoolOrDefault("BATCHOCR_PUBLISH_EVENTS", c.PublishEvents)
	c.ProcessingTimeout = getEnvAsDurationOrDefault("PROCESSING_TIMEOUT", c.ProcessingTimeout)

	if device := os.Getenv("BATCHOCR_DEVICE"); device != "" {
		c.Device = device
		c.explicitDevice = device != DeviceAuto
	}
}

// RegisterFlags binds command-line flags to the configuration. Current
// field values become the flag defaults, so only flags given on the command
// line override file and environment values.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.String("config", "", "YAML configuration file")
	fs.StringVar(&c.Root, "root", c.Root, "folder to scan recursively for PDF files")
	fs.StringVar(&c.OutputRoot, "output", c.OutputRoot, "results folder (default <root>/"+DefaultOutputDir+")")
	fs.StringVar(&c.Mode, "mode", c.Mode, "classic (text/OCR only) or structure (adds layout exports)")
	fs.BoolVar(&c.ForceOCR, "force-ocr", c.ForceOCR, "skip embedded text and OCR every page")
	fs.IntVar(&c.MinEmbeddedChars, "min-embedded-chars", c.MinEmbeddedChars,
		fmt.Sprintf("minimum embedded characters before OCR fallback (default %d, %d with --force-ocr)",
			DefaultMinEmbeddedChars, ForceOCRMinEmbeddedChars))
	fs.Float64Var(&c.RenderScale, "render-scale", c.RenderScale, "rasterization scale for OCR")
	fs.BoolVar(&c.FilterOCRLines, "filter-ocr-lines", c.FilterOCRLines, "drop OCR lines that fail the readability check")
	fs.StringVar(&c.Policy, "policy", c.Policy, "readability policy: ratio-v2 or legacy-v1")
	fs.IntVar(&c.MinLength, "min-length", c.MinLength, "readability: minimum trimmed length")
	fs.Float64Var(&c.MinRatio, "min-ratio", c.MinRatio, "readability: minimum alphanumeric-or-space ratio")
	fs.StringVar(&c.Lang, "lang", c.Lang, "OCR language code (en, fr, ch, ... or tesseract codes)")
	fs.BoolVar(&c.Orientation, "orientation", c.Orientation, "detect page orientation before OCR")
	fs.StringVar(&c.PdftoppmPath, "pdftoppm", c.PdftoppmPath, "path to the pdftoppm binary")
	fs.BoolFunc("use-gpu", "run the OCR engine on GPU (--use-gpu=false selects CPU)", c.deviceFlag(DeviceGPU, DeviceCPU))
	fs.BoolFunc("no-gpu", "run the OCR engine on CPU (--no-gpu=false selects GPU)", c.deviceFlag(DeviceCPU, DeviceGPU))
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "json or pretty")
	fs.StringVar(&c.RedisURL, "redis", c.RedisURL, "Redis URL for queue mode and progress events")
	fs.StringVar(&c.QueueName, "queue", c.QueueName, "queue name for worker/enqueue")
	fs.BoolVar(&c.PublishEvents, "publish-events", c.PublishEvents, "publish progress events to Redis")

	exports := []struct {
		name string
		dst  *bool
	}{
		{"txt", &c.ExportTxt},
		{"json", &c.ExportJSON},
		{"md", &c.ExportMD},
		{"html", &c.ExportHTML},
	}
	for _, e := range exports {
		fs.BoolVar(e.dst, "export-"+e.name, *e.dst, "structure mode: write "+e.name+" output")
		dst := e.dst
		fs.BoolFunc("no-export-"+e.name, "structure mode: skip "+e.name+" output", func(s string) error {
			v, err := strconv.ParseBool(s)
			if err != nil {
				return err
			}
			*dst = !v
			return nil
		})
	}
}

// deviceFlag selects whenTrue or whenFalse depending on the flag value;
// either way the device counts as explicitly chosen
func (c *Config) deviceFlag(whenTrue, whenFalse string) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		c.Device = whenFalse
		if v {
			c.Device = whenTrue
		}
		c.explicitDevice = true
		return nil
	}
}

// Resolve fills values that depend on other settings
func (c *Config) Resolve() {
	if c.MinEmbeddedChars == unsetInt {
		c.MinEmbeddedChars = DefaultMinEmbeddedChars
		if c.ForceOCR {
			c.MinEmbeddedChars = ForceOCRMinEmbeddedChars
		}
	}
	if c.Root != "" {
		if abs, err := filepath.Abs(c.Root); err == nil {
			c.Root = abs
		}
		if c.OutputRoot == "" {
			c.OutputRoot = filepath.Join(c.Root, DefaultOutputDir)
		}
		if c.StructureRoot == "" {
			c.StructureRoot = filepath.Join(c.Root, DefaultStructureDir)
		}
	}
	if c.OutputRoot != "" {
		if abs, err := filepath.Abs(c.OutputRoot); err == nil {
			c.OutputRoot = abs
		}
	}
	if c.Device == "" {
		c.Device = DeviceAuto
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Mode != ModeClassic && c.Mode != ModeStructure {
		return errors.NewConfigError("mode", fmt.Errorf("must be %s or %s, got %q", ModeClassic, ModeStructure, c.Mode))
	}

	if c.RenderScale <= 0 || c.RenderScale > 8 {
		return errors.NewConfigError("render_scale", fmt.Errorf("must be in (0, 8], got %g", c.RenderScale))
	}

	if c.MinEmbeddedChars < 0 {
		return errors.NewConfigError("min_embedded_chars", fmt.Errorf("must be >= 0, got %d", c.MinEmbeddedChars))
	}

	if c.Policy != PolicyRatioV2 && c.Policy != PolicyLegacyV1 {
		return errors.NewConfigError("policy", fmt.Errorf("unknown readability policy %q", c.Policy))
	}

	if c.MinLength < 0 {
		return errors.NewConfigError("min_length", fmt.Errorf("must be >= 0, got %d", c.MinLength))
	}

	if c.MinRatio < 0 || c.MinRatio > 1 {
		return errors.NewConfigError("min_ratio", fmt.Errorf("must be in [0, 1], got %g", c.MinRatio))
	}

	switch c.Device {
	case DeviceAuto, DeviceCPU, DeviceGPU:
	default:
		return errors.NewConfigError("device", fmt.Errorf("must be auto, cpu or gpu, got %q", c.Device))
	}

	if c.ProcessingTimeout < 0 {
		return errors.NewConfigError("processing_timeout", fmt.Errorf("must be >= 0, got %v", c.ProcessingTimeout))
	}

	return nil
}

// RequireRoot checks the fields a batch run needs
func (c *Config) RequireRoot() error {
	if c.Root == "" {
		return errors.NewConfigError("root", fmt.Errorf("--root is required"))
	}
	return nil
}

// ExplicitDevice reports whether the device was chosen by the user rather
// than left to platform detection
func (c *Config) ExplicitDevice() bool {
	return c.explicitDevice
}

// DefaultDevice is CPU on macOS and GPU elsewhere
func DefaultDevice() string {
	if runtime.GOOS == "darwin" {
		return DeviceCPU
	}
	return DeviceGPU
}

var langCodes = map[string]string{
	"en": "eng",
	"ch": "chi_sim",
	"fr": "fra",
	"de": "deu",
	"es": "spa",
	"it": "ita",
	"pt": "por",
	"ru": "rus",
	"ja": "jpn",
	"ko": "kor",
}

// TesseractLanguages maps the --lang value to tesseract language codes.
// Multiple languages may be joined with "+" or ",". Unknown codes pass
// through unchanged.
func (c *Config) TesseractLanguages() []string {
	parts := strings.FieldsFunc(c.Lang, func(r rune) bool { return r == '+' || r == ',' })
	langs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if mapped, ok := langCodes[strings.ToLower(p)]; ok {
			p = mapped
		}
		langs = append(langs, p)
	}
	if len(langs) == 0 {
		langs = append(langs, "eng")
	}
	return langs
}

func configPathFromArgs(args []string) string {
	for i, a := range args {
		switch {
		case a == "--config" || a == "-config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		}
	}
	return ""
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
