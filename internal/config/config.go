// Package config loads the emulated device's identity profile from a .env
// file (or the process environment), generalized from a plain key=value
// device-config loader into the fields cmd/u3v-emulator needs to build an
// emulator.Identity.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DeviceProfile is the static identity an emulated device advertises.
type DeviceProfile struct {
	ManufacturerName string
	ModelName        string
	FamilyName       string
	DeviceVersion    string
	ManufacturerInfo string
	SerialNumber     string
}

var (
	profile       *DeviceProfile
	profileLoaded bool
)

// defaultProfile is used for any field left unset in the environment/.env
// file, so the emulator always starts with a complete, valid identity.
var defaultProfile = DeviceProfile{
	ManufacturerName: "Acme Vision",
	ModelName:        "EMU-1",
	FamilyName:       "Emulated U3V Camera",
	DeviceVersion:    "1.0",
	ManufacturerInfo: "in-process emulator",
	SerialNumber:     "EMU00001",
}

// LoadDeviceProfile loads the emulator's device identity from a .env file in
// the project root (if present), then environment variables, falling back to
// defaultProfile for anything left unset.
func LoadDeviceProfile() (*DeviceProfile, error) {
	if profile != nil && profileLoaded {
		return profile, nil
	}

	cfg := defaultProfile

	projectRoot := findProjectRoot()
	envPath := filepath.Join(projectRoot, ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), &cfg)
	}

	applyEnvOverride := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	applyEnvOverride("U3V_MANUFACTURER_NAME", &cfg.ManufacturerName)
	applyEnvOverride("U3V_MODEL_NAME", &cfg.ModelName)
	applyEnvOverride("U3V_FAMILY_NAME", &cfg.FamilyName)
	applyEnvOverride("U3V_DEVICE_VERSION", &cfg.DeviceVersion)
	applyEnvOverride("U3V_MANUFACTURER_INFO", &cfg.ManufacturerInfo)
	applyEnvOverride("U3V_SERIAL_NUMBER", &cfg.SerialNumber)

	profile = &cfg
	profileLoaded = true
	return profile, nil
}

func parseEnvFile(content string, cfg *DeviceProfile) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "U3V_MANUFACTURER_NAME":
			cfg.ManufacturerName = value
		case "U3V_MODEL_NAME":
			cfg.ModelName = value
		case "U3V_FAMILY_NAME":
			cfg.FamilyName = value
		case "U3V_DEVICE_VERSION":
			cfg.DeviceVersion = value
		case "U3V_MANUFACTURER_INFO":
			cfg.ManufacturerInfo = value
		case "U3V_SERIAL_NUMBER":
			cfg.SerialNumber = value
		}
	}
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}
