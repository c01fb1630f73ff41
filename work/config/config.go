package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"kptv-player/work/logger"
)

// DefaultConfigPath is where the daemon looks for its settings when no -config flag is given
const DefaultConfigPath = "/settings/config.json"

// DefaultUserAgent is the spoofed desktop browser UA sent with every non-YouTube playback request
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Config holds all application configuration values for the player engine.
// It covers playback (proxy preference, device profile, load timeouts),
// catalog import (sources, refresh, caching) and the control API.
type Config struct {
	BaseURL               string         `json:"baseURL"`               // Public URL of the control API
	ListenAddr            string         `json:"listenAddr"`            // Address the control API binds to
	LogLevel              string         `json:"logLevel"`              // DEBUG, INFO, WARN or ERROR
	ObfuscateUrls         bool           `json:"obfuscateUrls"`         // Obfuscate URLs in logs for security
	UserAgent             string         `json:"userAgent"`             // Spoofed UA sent with playback requests
	ProxyEnabled          bool           `json:"proxyEnabled"`          // Whether the server advertises a restreaming proxy
	ProxyBaseURL          string         `json:"proxyBaseURL"`          // Base URL used to derive per-item proxy URLs
	RemoteControlOnly     bool           `json:"remoteControlOnly"`     // TV / set-top box profile
	LoadTimeout           time.Duration  `json:"loadTimeout"`           // Max time a load may stay pending, negative disables
	ProbeTimeout          time.Duration  `json:"probeTimeout"`          // HTTP timeout of the probe sink
	ProbeRate             int            `json:"probeRate"`             // Max outbound probes per second
	WorkerThreads         int            `json:"workerThreads"`         // Worker pool size for imports and probes
	CacheDuration         time.Duration  `json:"cacheDuration"`         // Duration before cached playlists expire
	ImportRefreshInterval time.Duration  `json:"importRefreshInterval"` // Interval for refreshing the catalog
	DatabasePath          string         `json:"databasePath"`          // SQLite failure journal location
	APIUser               string         `json:"apiUser"`               // Control API basic auth user, empty disables auth
	APIPasswordHash       string         `json:"apiPasswordHash"`       // bcrypt hash of the control API password
	SortField             string         `json:"sortField"`             // Field to sort catalog items by
	SortDirection         string         `json:"sortDirection"`         // Sort direction: "asc" or "desc"
	Sources               []SourceConfig `json:"sources"`               // Playlist sources feeding the catalog
}

// SourceConfig represents a single playlist source feeding the catalog.
type SourceConfig struct {
	Name               string `json:"name"`           // Descriptive name for the source
	URL                string `json:"url"`            // URL of the M3U playlist
	Order              int    `json:"order"`          // Priority order, lower imports first
	MaxConnections     int    `json:"maxConnections"` // Requests per second against this source
	UserAgent          string `json:"userAgent"`      // HTTP User-Agent header for playlist requests
	ReqOrigin          string `json:"reqOrigin"`      // HTTP Origin header for playlist requests
	ReqReferrer        string `json:"reqReferrer"`    // HTTP Referer header for playlist requests
	LiveIncludeRegex   string `json:"liveIncludeRegex,omitempty"`
	LiveExcludeRegex   string `json:"liveExcludeRegex,omitempty"`
	SeriesIncludeRegex string `json:"seriesIncludeRegex,omitempty"`
	SeriesExcludeRegex string `json:"seriesExcludeRegex,omitempty"`
	VODIncludeRegex    string `json:"vodIncludeRegex,omitempty"`
	VODExcludeRegex    string `json:"vodExcludeRegex,omitempty"`
}

// ConfigFile represents the JSON file structure for marshaling/unmarshaling configuration.
// String duration fields (e.g., "30m") are parsed into time.Duration values.
type ConfigFile struct {
	BaseURL               string         `json:"baseURL"`
	ListenAddr            string         `json:"listenAddr"`
	LogLevel              string         `json:"logLevel"`
	ObfuscateUrls         bool           `json:"obfuscateUrls"`
	UserAgent             string         `json:"userAgent"`
	ProxyEnabled          bool           `json:"proxyEnabled"`
	ProxyBaseURL          string         `json:"proxyBaseURL"`
	RemoteControlOnly     bool           `json:"remoteControlOnly"`
	LoadTimeout           string         `json:"loadTimeout"`  // Duration as string (e.g., "20s")
	ProbeTimeout          string         `json:"probeTimeout"` // Duration as string (e.g., "10s")
	ProbeRate             int            `json:"probeRate"`
	WorkerThreads         int            `json:"workerThreads"`
	CacheDuration         string         `json:"cacheDuration"`         // Duration as string (e.g., "30m")
	ImportRefreshInterval string         `json:"importRefreshInterval"` // Duration as string (e.g., "12h")
	DatabasePath          string         `json:"databasePath"`
	APIUser               string         `json:"apiUser"`
	APIPasswordHash       string         `json:"apiPasswordHash"`
	SortField             string         `json:"sortField"`
	SortDirection         string         `json:"sortDirection"`
	Sources               []SourceConfig `json:"sources"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// LoadConfigFrom loads the configuration from the given path or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Falls back to default config if the file is missing or invalid.
//   - Runs validation to ensure safe defaults.
//
// The first successful call wins; later calls with another path return the
// cached value until ClearConfigCache is called.
func LoadConfigFrom(configPath string) *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		logger.Warn("{config - LoadConfigFrom} failed to load config from %s: %v", configPath, err)
		logger.Warn("{config - LoadConfigFrom} falling back to default configuration")
		config = getDefaultConfig()
	}

	validateAndSetDefaults(config)
	configCache = config

	logger.Debug("{config - LoadConfigFrom} configuration loaded: %d sources, proxy enabled: %v, remote-only: %v",
		len(config.Sources), config.ProxyEnabled, config.RemoteControlOnly)
	for i := range config.Sources {
		src := &config.Sources[i]
		logger.Debug("{config - LoadConfigFrom} source %d (%s): %s (order: %d)",
			i+1, src.Name, obfuscateURL(src.URL), src.Order)
	}

	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config,
// parsing duration strings into time.Duration.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		BaseURL:           cf.BaseURL,
		ListenAddr:        cf.ListenAddr,
		LogLevel:          cf.LogLevel,
		ObfuscateUrls:     cf.ObfuscateUrls,
		UserAgent:         cf.UserAgent,
		ProxyEnabled:      cf.ProxyEnabled,
		ProxyBaseURL:      cf.ProxyBaseURL,
		RemoteControlOnly: cf.RemoteControlOnly,
		ProbeRate:         cf.ProbeRate,
		WorkerThreads:     cf.WorkerThreads,
		DatabasePath:      cf.DatabasePath,
		APIUser:           cf.APIUser,
		APIPasswordHash:   cf.APIPasswordHash,
		SortField:         cf.SortField,
		SortDirection:     cf.SortDirection,
		Sources:           append([]SourceConfig(nil), cf.Sources...),
	}

	var err error
	if config.LoadTimeout, err = parseDuration(cf.LoadTimeout); err != nil {
		return nil, fmt.Errorf("invalid loadTimeout: %w", err)
	}
	if config.ProbeTimeout, err = parseDuration(cf.ProbeTimeout); err != nil {
		return nil, fmt.Errorf("invalid probeTimeout: %w", err)
	}
	if config.CacheDuration, err = parseDuration(cf.CacheDuration); err != nil {
		return nil, fmt.Errorf("invalid cacheDuration: %w", err)
	}
	if config.ImportRefreshInterval, err = parseDuration(cf.ImportRefreshInterval); err != nil {
		return nil, fmt.Errorf("invalid importRefreshInterval: %w", err)
	}

	return config, nil
}

// parseDuration treats an empty string as "unset" so defaults can fill it in
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// getDefaultConfig returns a baseline configuration
// with sensible defaults when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:               "http://localhost:8080",
		ListenAddr:            ":8080",
		LogLevel:              "INFO",
		ObfuscateUrls:         false,
		UserAgent:             DefaultUserAgent,
		ProxyEnabled:          false,
		RemoteControlOnly:     false,
		LoadTimeout:           20 * time.Second,
		ProbeTimeout:          10 * time.Second,
		ProbeRate:             10,
		WorkerThreads:         8,
		CacheDuration:         30 * time.Minute,
		ImportRefreshInterval: 12 * time.Hour,
		DatabasePath:          "/settings/player.db",
		SortField:             "name",
		SortDirection:         "asc",
		Sources:               []SourceConfig{},
	}
}

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones. A negative loadTimeout
// disables the load timeout.
func validateAndSetDefaults(config *Config) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.ListenAddr == "" {
		config.ListenAddr = ":8080"
	}
	if config.LogLevel == "" {
		config.LogLevel = "INFO"
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.LoadTimeout < 0 {
		config.LoadTimeout = 0
	} else if config.LoadTimeout == 0 {
		config.LoadTimeout = 20 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 10 * time.Second
	}
	if config.ProbeRate <= 0 {
		config.ProbeRate = 10
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 8
	}
	if config.CacheDuration <= 0 {
		config.CacheDuration = 30 * time.Minute
	}
	if config.ImportRefreshInterval <= 0 {
		config.ImportRefreshInterval = 12 * time.Hour
	}
	if config.DatabasePath == "" {
		config.DatabasePath = "/settings/player.db"
	}
	if config.SortField == "" {
		config.SortField = "name"
	}
	if config.SortDirection != "desc" {
		config.SortDirection = "asc"
	}
	if config.ProxyEnabled && config.ProxyBaseURL == "" {
		config.ProxyBaseURL = config.BaseURL
	}

	for i := range config.Sources {
		src := &config.Sources[i]
		if src.Name == "" {
			src.Name = fmt.Sprintf("Source_%d", i+1)
		}
		if src.Order <= 0 {
			src.Order = i + 1
		}
		if src.MaxConnections <= 0 {
			src.MaxConnections = 5
		}
		if src.UserAgent == "" {
			src.UserAgent = "VLC/3.0.18 LibVLC/3.0.18"
		}
		// ReqOrigin and ReqReferrer may remain empty
	}
}

// GetSourceByName returns a pointer to the SourceConfig with the given name, or nil.
func (c *Config) GetSourceByName(name string) *SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].Name == name {
			return &c.Sources[i]
		}
	}
	return nil
}

// GetSourcesByOrder returns a copy of sources sorted by their Order field.
// Original slice remains unmodified.
func (c *Config) GetSourcesByOrder() []SourceConfig {
	sources := make([]SourceConfig, len(c.Sources))
	copy(sources, c.Sources)

	// Simple insertion sort (sufficient since number of sources is small)
	for i := 1; i < len(sources); i++ {
		for j := i; j > 0 && sources[j-1].Order > sources[j].Order; j-- {
			sources[j-1], sources[j] = sources[j], sources[j-1]
		}
	}

	return sources
}

// CreateExampleConfig creates an example config file on disk.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		BaseURL:               "http://localhost:8080",
		ListenAddr:            ":8080",
		LogLevel:              "INFO",
		ObfuscateUrls:         true,
		UserAgent:             DefaultUserAgent,
		ProxyEnabled:          true,
		ProxyBaseURL:          "http://localhost:9090",
		RemoteControlOnly:     false,
		LoadTimeout:           "20s",
		ProbeTimeout:          "10s",
		ProbeRate:             10,
		WorkerThreads:         4,
		CacheDuration:         "30m",
		ImportRefreshInterval: "12h",
		DatabasePath:          "/settings/player.db",
		SortField:             "name",
		SortDirection:         "asc",
		Sources: []SourceConfig{
			{
				Name:           "Primary IPTV Source",
				URL:            "http://example.com/playlist1.m3u8",
				Order:          1,
				MaxConnections: 5,
				UserAgent:      "VLC/3.0.18 LibVLC/3.0.18",
			},
			{
				Name:           "Backup IPTV Source",
				URL:            "http://example.com/playlist2.m3u8",
				Order:          2,
				MaxConnections: 10,
				UserAgent:      "Mozilla/5.0 (Smart TV; Linux)",
				ReqOrigin:      "https://provider2.com",
				ReqReferrer:    "https://provider2.com/player",
			},
		},
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache resets the configCache to nil.
// Forces a reload on the next LoadConfigFrom call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// obfuscateURL masks sensitive parts of a URL for logging.
//
// Example:
//
//	Input:  "http://example.com/secret/stream.m3u8?token=abc"
//	Output: "http://example.com/***?***"
func obfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}
	return result
}
