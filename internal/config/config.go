package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	defaultListenAddr   = "127.0.0.1:48460"
	defaultSettingsFile = "~/.config/tabcast/settings.yaml"
	defaultLogLevel     = "info"
	defaultReceiverAddr = "127.0.0.1:48457"
	defaultOutputFormat = "{artist} - {title}"
)

// AppConfig holds application configuration
type AppConfig struct {
	listenAddr   string
	settingsFile string
	logLevel     string
	logFile      string
	receiverAddr string
	mprisEnabled bool
	mprisPlayers []string
	outputFile   string
	outputFormat string
}

// Load reads configuration from environment variables and an optional .env file
func Load() *AppConfig {
	// a missing .env is the normal case
	_ = godotenv.Load()

	return &AppConfig{
		listenAddr:   getEnvOrDefault("TABCAST_LISTEN_ADDR", defaultListenAddr),
		settingsFile: expandPath(getEnvOrDefault("TABCAST_SETTINGS_FILE", defaultSettingsFile)),
		logLevel:     strings.ToLower(getEnvOrDefault("TABCAST_LOG_LEVEL", defaultLogLevel)),
		logFile:      expandPath(os.Getenv("TABCAST_LOG_FILE")),
		receiverAddr: getEnvOrDefault("TABCAST_RECEIVER_ADDR", defaultReceiverAddr),
		mprisEnabled: getEnvBool("TABCAST_MPRIS_ENABLED"),
		mprisPlayers: splitList(os.Getenv("TABCAST_MPRIS_PLAYERS")),
		outputFile:   expandPath(os.Getenv("TABCAST_OUTPUT_FILE")),
		outputFormat: getEnvOrDefault("TABCAST_OUTPUT_FORMAT", defaultOutputFormat),
	}
}

// Log writes the effective configuration
func (c *AppConfig) Log(logger *zap.Logger) {
	logger.Info("Configuration loaded",
		zap.String("listenAddr", c.listenAddr),
		zap.String("settingsFile", c.settingsFile),
		zap.String("logLevel", c.logLevel),
		zap.String("logFile", c.logFile),
		zap.Bool("mprisEnabled", c.mprisEnabled),
		zap.String("outputFile", c.outputFile))
}

// GetListenAddr returns the address of the HTTP server hosting the bridge
func (c *AppConfig) GetListenAddr() string {
	return c.listenAddr
}

// GetSettingsFile returns the path of the user settings file
func (c *AppConfig) GetSettingsFile() string {
	return c.settingsFile
}

// GetLogLevel returns the minimum log level
func (c *AppConfig) GetLogLevel() string {
	return c.logLevel
}

// GetLogFile returns the rotating log file path, empty for stdout only
func (c *AppConfig) GetLogFile() string {
	return c.logFile
}

// GetReceiverAddr returns the listen address of the development receiver
func (c *AppConfig) GetReceiverAddr() string {
	return c.receiverAddr
}

// GetMprisEnabled reports whether the receiver also follows local MPRIS players
func (c *AppConfig) GetMprisEnabled() bool {
	return c.mprisEnabled
}

// GetMprisPlayers returns the MPRIS players to follow, empty for all of them
func (c *AppConfig) GetMprisPlayers() []string {
	return c.mprisPlayers
}

// GetOutputFile returns the file the receiver writes the current song to, empty to disable
func (c *AppConfig) GetOutputFile() string {
	return c.outputFile
}

// GetOutputFormat returns the format string of the output file
func (c *AppConfig) GetOutputFormat() string {
	return c.outputFormat
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitList(val string) []string {
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// expandPath resolves environment variables and a leading ~
func expandPath(path string) string {
	path = os.ExpandEnv(path)
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return path
}
