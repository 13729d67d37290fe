// Package config loads and validates downloader configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	configDirName   = "itchgrab"
	configFileName  = "config.json"
	profilesDirName = "profiles"
)

// Config captures every knob of a download run. Values merge in order:
// defaults, the config file, the selected profile, environment, flags.
type Config struct {
	APIKey    string `mapstructure:"api_key"`
	UserAgent string `mapstructure:"user_agent"`

	DownloadTo   string `mapstructure:"download_to"`
	MirrorWeb    bool   `mapstructure:"mirror_web"`
	URLsOnly     bool   `mapstructure:"urls_only"`
	SkipExisting bool   `mapstructure:"skip_existing"`
	Parallel     int    `mapstructure:"parallel"`

	FilterFilesPlatform []string `mapstructure:"filter_files_platform"`
	FilterFilesType     []string `mapstructure:"filter_files_type"`
	FilterFilesGlob     string   `mapstructure:"filter_files_glob"`
	FilterFilesRegex    string   `mapstructure:"filter_files_regex"`
	FilterURLsGlob      string   `mapstructure:"filter_urls_glob"`
	FilterURLsRegex     string   `mapstructure:"filter_urls_regex"`

	Verbose bool `mapstructure:"verbose"`
}

// Dir returns the per-user configuration directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config directory: %w", err)
	}
	return filepath.Join(base, configDirName), nil
}

// Load builds a Config from the config file under dir, overlaid with the
// named profile (when non-empty) and ITCHGRAB_* environment variables.
// Missing files are fine; the defaults carry the run.
func Load(fs afero.Fs, dir, profile string) (Config, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetEnvPrefix("ITCHGRAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	configPath := filepath.Join(dir, configFileName)
	if ok, _ := afero.Exists(fs, configPath); ok {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if profile != "" {
		profilePath := filepath.Join(dir, profilesDirName, profile)
		if ok, _ := afero.Exists(fs, profilePath); !ok {
			return Config{}, fmt.Errorf("profile %q not found in %s", profile, filepath.Join(dir, profilesDirName))
		}
		v.SetConfigFile(profilePath)
		v.SetConfigType("json")
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("read profile %q: %w", profile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// ITCH_API_KEY is the conventional variable other itch tooling uses.
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ITCH_API_KEY")
	}

	return cfg, nil
}

// Every key gets a default so environment variables bind even when the
// config file never mentions them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")
	v.SetDefault("filter_files_platform", []string{})
	v.SetDefault("filter_files_type", []string{})
	v.SetDefault("filter_files_glob", "")
	v.SetDefault("filter_files_regex", "")
	v.SetDefault("filter_urls_glob", "")
	v.SetDefault("filter_urls_regex", "")
	v.SetDefault("user_agent", "itchgrab/1.0")
	v.SetDefault("download_to", ".")
	v.SetDefault("mirror_web", false)
	v.SetDefault("urls_only", false)
	v.SetDefault("skip_existing", false)
	v.SetDefault("parallel", 1)
	v.SetDefault("verbose", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Parallel < 1 {
		return fmt.Errorf("parallel must be >= 1, got %d", c.Parallel)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent must not be empty")
	}
	if c.DownloadTo == "" {
		return fmt.Errorf("download_to must not be empty")
	}
	return nil
}

// traitAliases maps user-facing platform names to upload trait tags.
var traitAliases = map[string]string{
	"win":     "p_windows",
	"windows": "p_windows",
	"lin":     "p_linux",
	"linux":   "p_linux",
	"mac":     "p_osx",
	"osx":     "p_osx",
	"darwin":  "p_osx",
	"and":     "p_android",
	"android": "p_android",
}

// NormalizePlatforms converts platform names into the trait tags uploads
// carry. "native" resolves to the running OS; BSDs fall back to the Linux
// builds since itch has no BSD trait.
func NormalizePlatforms(platforms []string, logger *zap.Logger) []string {
	out := make([]string, 0, len(platforms))
	for _, p := range platforms {
		name := strings.ToLower(strings.TrimSpace(p))
		if name == "native" {
			name = runtime.GOOS
			if strings.Contains(name, "bsd") || name == "dragonfly" {
				logger.Warn("no itch.io uploads target BSD, using Linux builds instead",
					zap.String("os", name))
				name = "linux"
			}
		}
		trait, ok := traitAliases[name]
		if !ok {
			trait = "p_" + name
		}
		out = append(out, trait)
	}
	return out
}
