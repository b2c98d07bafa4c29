package config

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"

	"project-tachyon/internal/storage"
)

// Keys for AppSettings in DB
const (
	KeyRuntimeRoot          = "runtime_root"
	KeyConcurrencyLimit     = "concurrency_limit"
	KeyJVMDefaultArgs       = "jvm_default_args"
	KeyEnableIntegrityCheck = "enable_integrity_check"
	KeyEnableControlAPI     = "enable_control_api"
	KeyControlAPIPort       = "control_api_port"
	KeyControlAPIToken      = "control_api_token"
	KeyUserAgent            = "user_agent"
)

type ConfigManager struct {
	storage *storage.Storage
}

func NewConfigManager(s *storage.Storage) *ConfigManager {
	return &ConfigManager{storage: s}
}

// GetRuntimeRoot returns the configured data root, or empty if unset
// (the caller falls back to the --runtime-path flag/build-env default).
func (c *ConfigManager) GetRuntimeRoot() string {
	val, err := c.storage.GetString(KeyRuntimeRoot)
	if err != nil {
		return ""
	}
	return val
}

func (c *ConfigManager) SetRuntimeRoot(path string) error {
	return c.storage.SetString(KeyRuntimeRoot, path)
}

// GetConcurrencyLimit returns the max number of concurrent downloads
// the fetch engine is allowed to run.
func (c *ConfigManager) GetConcurrencyLimit() int {
	valStr, err := c.storage.GetString(KeyConcurrencyLimit)
	if err != nil || valStr == "" {
		return 4 // Default
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val < 1 {
		return 4
	}
	return val
}

func (c *ConfigManager) SetConcurrencyLimit(n int) error {
	return c.storage.SetString(KeyConcurrencyLimit, strconv.Itoa(n))
}

// GetJVMDefaultArgs returns the default JVM arguments new instances
// are created with.
func (c *ConfigManager) GetJVMDefaultArgs() string {
	val, err := c.storage.GetString(KeyJVMDefaultArgs)
	if err != nil {
		return "-Xmx2G"
	}
	if val == "" {
		return "-Xmx2G"
	}
	return val
}

func (c *ConfigManager) SetJVMDefaultArgs(args string) error {
	return c.storage.SetString(KeyJVMDefaultArgs, args)
}

func (c *ConfigManager) GetEnableIntegrityCheck() bool {
	val, err := c.storage.GetString(KeyEnableIntegrityCheck)
	if err != nil {
		return true // Default True
	}
	return val != "false"
}

func (c *ConfigManager) SetEnableIntegrityCheck(enabled bool) error {
	val := "false"
	if enabled {
		val = "true"
	}
	return c.storage.SetString(KeyEnableIntegrityCheck, val)
}

// GetEnableControlAPI toggles whether the embedded HTTP control
// surface (§6) is bound at all.
func (c *ConfigManager) GetEnableControlAPI() bool {
	val, err := c.storage.GetString(KeyEnableControlAPI)
	if err != nil {
		return true
	}
	return val != "false"
}

func (c *ConfigManager) SetEnableControlAPI(enabled bool) error {
	val := "false"
	if enabled {
		val = "true"
	}
	return c.storage.SetString(KeyEnableControlAPI, val)
}

func (c *ConfigManager) GetControlAPIPort() int {
	valStr, err := c.storage.GetString(KeyControlAPIPort)
	if err != nil || valStr == "" {
		return 4444 // Default
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 4444
	}
	return val
}

func (c *ConfigManager) SetControlAPIPort(port int) error {
	return c.storage.SetString(KeyControlAPIPort, strconv.Itoa(port))
}

// GetControlAPIToken returns the bearer token the control surface
// requires, generating and persisting one on first access.
func (c *ConfigManager) GetControlAPIToken() string {
	val, err := c.storage.GetString(KeyControlAPIToken)
	if err != nil || val == "" {
		token := generateSecureToken()
		c.storage.SetString(KeyControlAPIToken, token)
		return token
	}
	return val
}

func generateSecureToken() string {
	b := make([]byte, 16) // 16 bytes = 32 hex chars
	if _, err := rand.Read(b); err != nil {
		// Fallback (extremely unlikely)
		return "tachyon-fallback-token-change-me"
	}
	return hex.EncodeToString(b)
}

// GetUserAgent returns the custom User-Agent string
// Returns empty string if not set (caller should use default)
func (c *ConfigManager) GetUserAgent() string {
	val, err := c.storage.GetString(KeyUserAgent)
	if err != nil {
		return "" // Use default
	}
	return val
}

// SetUserAgent stores a custom User-Agent string
func (c *ConfigManager) SetUserAgent(ua string) error {
	return c.storage.SetString(KeyUserAgent, ua)
}

// FactoryReset resets all configuration to defaults
func (c *ConfigManager) FactoryReset() error {
	keys := []string{
		KeyRuntimeRoot,
		KeyConcurrencyLimit,
		KeyJVMDefaultArgs,
		KeyEnableIntegrityCheck,
		KeyEnableControlAPI,
		KeyControlAPIPort,
		KeyControlAPIToken,
		KeyUserAgent,
	}

	for _, key := range keys {
		// Setting to empty string effectively resets it: getters treat
		// an empty stored value the same as an absent one.
		if err := c.storage.SetString(key, ""); err != nil {
			return err
		}
	}
	return nil
}
