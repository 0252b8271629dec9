package install

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"shopentry/internal/config"
)

type appConfigFile struct {
	AppURL     string `yaml:"app_url"`
	AppSecret  string `yaml:"app_secret"`
	InstanceID string `yaml:"instance_id"`
	Database   struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		User string `yaml:"user"`
		Name string `yaml:"name"`
	} `yaml:"database"`
}

// writeAppConfig generates the application's runtime configuration file.
// Secret material and the instance identifier are generated fresh when not
// externally supplied.
func writeAppConfig(cfg *config.Config, path string) error {
	secret := cfg.App.Secret
	if secret == "" {
		var err error
		if secret, err = generateSecret(); err != nil {
			return fmt.Errorf("unable to generate app secret: %w", err)
		}
	}
	instanceID := cfg.App.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	var file appConfigFile
	file.AppURL = cfg.App.URL
	file.AppSecret = secret
	file.InstanceID = instanceID
	file.Database.Host = cfg.Store.Host
	file.Database.Port = cfg.Store.Port
	file.Database.User = cfg.Store.User
	file.Database.Name = cfg.Store.Name

	out, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("unable to marshal app config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("unable to create config dir: %w", err)
	}
	if err := os.WriteFile(path, out, 0640); err != nil {
		return fmt.Errorf("unable to write app config: %w", err)
	}

	// The service account needs to read it; chown fails harmlessly when the
	// entrypoint is not running as root.
	_ = os.Chown(path, cfg.Runtime.ServiceUID, cfg.Runtime.ServiceGID)
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
