package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/osvaldoandrade/docintel/pkg/credentials"
)

const (
	EnvConfigDir = "DOCINTEL_CONFIG_DIR"
	EnvProfile   = "DOCINTEL_PROFILE"
)

// Profile is one named set of stored connection settings.
type Profile struct {
	Endpoint   string `yaml:"endpoint"`
	Key        string `yaml:"key,omitempty"`
	AuthMode   string `yaml:"authMode,omitempty"`
	Model      string `yaml:"model,omitempty"`
	APIVersion string `yaml:"apiVersion,omitempty"`
}

// Lookup lets a profile act as a credentials source.
func (p Profile) Lookup(name string) (string, bool) {
	switch name {
	case credentials.EnvKey:
		return p.Key, p.Key != ""
	case credentials.EnvEndpoint:
		return p.Endpoint, p.Endpoint != ""
	}
	return "", false
}

type ProfileFile struct {
	CurrentProfile string             `yaml:"currentProfile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

func ProfilePath() string {
	if v := strings.TrimSpace(os.Getenv(EnvConfigDir)); v != "" {
		return filepath.Join(v, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".docintel", "config.yaml")
}

// LoadProfiles reads the profile file. A missing file is an empty one.
func LoadProfiles() (ProfileFile, string, error) {
	path := ProfilePath()
	var pf ProfileFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ProfileFile{Profiles: map[string]Profile{}}, path, nil
		}
		return pf, path, err
	}
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return pf, path, err
	}
	if pf.Profiles == nil {
		pf.Profiles = map[string]Profile{}
	}
	return pf, path, nil
}

// SaveProfiles writes the file with owner-only permissions; it holds keys.
func SaveProfiles(pf ProfileFile, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(pf)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ResolveProfileName picks the flag, then DOCINTEL_PROFILE, then the file's
// current profile, then "default".
func ResolveProfileName(flag string, pf ProfileFile) string {
	if strings.TrimSpace(flag) != "" {
		return strings.TrimSpace(flag)
	}
	if v := strings.TrimSpace(os.Getenv(EnvProfile)); v != "" {
		return v
	}
	if pf.CurrentProfile != "" {
		return pf.CurrentProfile
	}
	return "default"
}
