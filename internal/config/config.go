package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"github.com/mycoool/tongbu/internal/types"
	"gopkg.in/yaml.v2"
)

const appConfigFile = "app.yaml"

// LoadAppConfig loads the application config file, creating a default one on first run.
func LoadAppConfig() error {
	if _, err := os.Stat(appConfigFile); os.IsNotExist(err) {
		types.TongbuAppConfig = defaultAppConfig()
		if saveErr := SaveAppConfig(); saveErr != nil {
			log.Printf("Warning: failed to save default app config: %v", saveErr)
		} else {
			log.Printf("Created default app.yaml configuration file")
		}
		return nil
	}

	data, err := os.ReadFile(appConfigFile)
	if err != nil {
		return fmt.Errorf("read app config failed: %v", err)
	}

	config := &types.AppConfig{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parse app config failed: %v", err)
	}
	applyDefaults(config)

	types.TongbuAppConfig = config
	return nil
}

// SaveAppConfig saves the application config file.
func SaveAppConfig() error {
	if types.TongbuAppConfig == nil {
		return fmt.Errorf("app config is empty")
	}

	data, err := yaml.Marshal(types.TongbuAppConfig)
	if err != nil {
		return fmt.Errorf("marshal app config failed: %v", err)
	}

	if err := os.WriteFile(appConfigFile, data, 0644); err != nil {
		return fmt.Errorf("save app config failed: %v", err)
	}
	return nil
}

func defaultAppConfig() *types.AppConfig {
	return &types.AppConfig{
		Port:              9100,
		JWTSecret:         "tongbu-secret-key-change-in-production",
		JWTExpiryDuration: 24,
		SecretKey:         randomSecret(),
		Database: types.DatabaseConfig{
			Type:             "sqlite",
			Database:         "tongbu.db",
			LogRetentionDays: 30,
		},
		SSH: types.SSHConfig{
			HostKeyPolicy: "accept-new",
		},
		Users: []types.UserConfig{
			// default password "admin", sha256
			{Username: "admin", Password: "8c6976e5b5410415bde908bd4dee15dfb167a9c873fc4bb8a81f6f2ab448a918", Role: "admin"},
		},
	}
}

func applyDefaults(config *types.AppConfig) {
	if config.Port == 0 {
		config.Port = 9100
	}
	if config.JWTExpiryDuration == 0 {
		config.JWTExpiryDuration = 24
	}
	if config.Database.Type == "" {
		config.Database.Type = "sqlite"
	}
	if config.Database.Database == "" {
		config.Database.Database = "tongbu.db"
	}
	if config.SSH.HostKeyPolicy == "" {
		config.SSH.HostKeyPolicy = "accept-new"
	}
	if config.SecretKey == "" {
		config.SecretKey = randomSecret()
	}
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "tongbu-default-secret"
	}
	return hex.EncodeToString(buf)
}
