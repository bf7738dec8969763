package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

const appName = "poseup"

// Defaults used when neither the config file nor the environment sets a key.
const (
	DefaultServiceOrigin = "http://localhost:8000"
	DefaultUploadPath    = "/upload/"
	DefaultOutputDir     = "poseup-gallery"
	DefaultBurst         = 1
)

// PoseupConfig defines the configuration for poseup.
type PoseupConfig struct {
	// ServiceOrigin is the scheme and host of the processing service, e.g. http://localhost:8000.
	ServiceOrigin string `mapstructure:"service_origin"`
	UploadPath    string `mapstructure:"upload_path"`
	// OutputDir is where the gallery is written.
	OutputDir string `mapstructure:"output_dir"`
	// Timeout bounds each upload request. 0 means no timeout.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxConcurrent caps the uploads in flight. 0 means unlimited.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// RequestsPerSecond throttles upload launches. 0 means unlimited.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`

	// WorkDir holds processed images until they are released.
	WorkDir string `mapstructure:"work_dir"`

	path string `mapstructure:"-"`
}

// ConfigPath returns the path the config was loaded from.
func (c *PoseupConfig) ConfigPath() string {
	return c.path
}

// Endpoint returns the full upload URL.
func (c *PoseupConfig) Endpoint() string {
	p := c.UploadPath
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(c.ServiceOrigin, "/") + p
}

// Limiter returns the launch rate limiter, or nil when uploads are not throttled.
func (c *PoseupConfig) Limiter() *rate.Limiter {
	if c.RequestsPerSecond <= 0 {
		return nil
	}
	burst := c.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.RequestsPerSecond), burst)
}

func (c *PoseupConfig) Validate() error {
	u, err := url.Parse(c.ServiceOrigin)
	if err != nil {
		return fmt.Errorf("invalid service_origin %q (%s): %w", c.ServiceOrigin, c.path, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("service_origin %q must be an http or https URL (%s)", c.ServiceOrigin, c.path)
	}
	if u.Host == "" {
		return fmt.Errorf("service_origin %q has no host (%s)", c.ServiceOrigin, c.path)
	}
	if c.UploadPath == "" {
		return fmt.Errorf("missing upload_path (%s)", c.path)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("missing output_dir (%s)", c.path)
	}
	if c.WorkDir == "" {
		return fmt.Errorf("missing work_dir (%s)", c.path)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative (%s)", c.path)
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent must not be negative (%s)", c.path)
	}
	if c.RequestsPerSecond < 0 || c.Burst < 0 {
		return fmt.Errorf("requests_per_second and burst must not be negative (%s)", c.path)
	}
	return nil
}

// DefaultConfigPath returns the default path for the poseup config file.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("unable to determine user config dir: %w", err)
	}
	return filepath.Join(dir, appName, "config.toml"), nil
}

// getConfigPath determines where to read the config file from.
// The returned bool reports whether the path was given explicitly.
func getConfigPath(configPathFlag string) (string, bool, error) {
	if configPathFlag != "" {
		return configPathFlag, true, nil
	}
	path, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	return path, false, nil
}

// LoadConfig reads the config file. A missing file at the default location is not an
// error; every key then comes from its default or the environment.
func LoadConfig(configPathFlag string) (PoseupConfig, error) {
	path, explicit, err := getConfigPath(configPathFlag)
	if err != nil {
		return PoseupConfig{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	// Every key needs a default so AutomaticEnv can override it during Unmarshal.
	v.SetDefault("service_origin", DefaultServiceOrigin)
	v.SetDefault("upload_path", DefaultUploadPath)
	v.SetDefault("output_dir", DefaultOutputDir)
	v.SetDefault("timeout", time.Duration(0))
	v.SetDefault("max_concurrent", 0)
	v.SetDefault("requests_per_second", 0.0)
	v.SetDefault("burst", DefaultBurst)
	v.SetDefault("work_dir", filepath.Join(os.TempDir(), appName))

	// Allow users to override config values with environment variables,
	// e.g. POSEUP_SERVICE_ORIGIN.
	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, statErr := os.Stat(path); explicit || !errors.Is(statErr, fs.ErrNotExist) {
		if err := v.ReadInConfig(); err != nil {
			return PoseupConfig{}, fmt.Errorf("error reading (%s): %w", path, err)
		}
	}

	config := PoseupConfig{path: path}
	if err := v.Unmarshal(&config); err != nil {
		return PoseupConfig{}, fmt.Errorf("error unmarshaling (%s): %w", path, err)
	}
	return config, nil
}

// LoadDotEnv loads environment variables from the .env file at path, if it exists.
// Variables already set in the environment win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("error loading %s: %w", path, err)
	}
	return nil
}
