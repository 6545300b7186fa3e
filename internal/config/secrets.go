package config

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// VaultConfig holds Vault connection configuration
type VaultConfig struct {
	Enabled    bool   // Enable Vault integration
	Address    string // Vault server address (e.g., "https://vault.example.com:8200")
	Token      string // Vault authentication token (from VAULT_TOKEN env var)
	MountPath  string // Secrets mount path (default: "secret")
	SecretPath string // Base path for engine secrets (e.g., "evofunk/production")
	Namespace  string // Vault namespace (for Vault Enterprise)
}

// VaultClient wraps the HashiCorp Vault client for secrets management
type VaultClient struct {
	client *vault.Client
	config VaultConfig
}

// NewVaultClient creates a new Vault client from configuration
func NewVaultClient(cfg VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled in configuration")
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	if cfg.Token == "" {
		cfg.Token = os.Getenv("VAULT_TOKEN")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("VAULT_TOKEN not set for token authentication")
	}
	client.SetToken(cfg.Token)

	log.Info().
		Str("address", cfg.Address).
		Str("mount_path", cfg.MountPath).
		Str("secret_path", cfg.SecretPath).
		Msg("Vault client initialized")

	return &VaultClient{client: client, config: cfg}, nil
}

// GetSecret retrieves a secret from Vault; path is relative to SecretPath
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	fullPath := fmt.Sprintf("%s/data/%s/%s", vc.config.MountPath, vc.config.SecretPath, path)

	secret, err := vc.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secret not found at path: %s", fullPath)
	}

	// KV v2 nests secrets under "data"
	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		return data, nil
	}
	return secret.Data, nil
}

// GetSecretString retrieves a single string value from Vault
func (vc *VaultClient) GetSecretString(ctx context.Context, path string, key string) (string, error) {
	data, err := vc.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}

	value, ok := data[key].(string)
	if !ok {
		return "", fmt.Errorf("secret key %q not found or not a string at path: %s", key, path)
	}
	return value, nil
}

// LoadSecretsFromVault loads secrets from Vault into the configuration.
// Missing individual secrets are logged and skipped so deployments can mix
// Vault-managed and env-provided values.
func LoadSecretsFromVault(ctx context.Context, cfg *Config, vaultCfg VaultConfig) error {
	if !vaultCfg.Enabled {
		log.Info().Msg("Vault integration disabled - using environment variables for secrets")
		return nil
	}

	vaultClient, err := NewVaultClient(vaultCfg)
	if err != nil {
		return fmt.Errorf("failed to create Vault client: %w", err)
	}

	if password, err := vaultClient.GetSecretString(ctx, "database", "password"); err != nil {
		log.Warn().Err(err).Msg("Failed to load database password from Vault")
	} else {
		cfg.Database.Password = password
	}

	if password, err := vaultClient.GetSecretString(ctx, "redis", "password"); err != nil {
		log.Debug().Err(err).Msg("No Redis password in Vault")
	} else {
		cfg.Redis.Password = password
	}

	if apiKey, err := vaultClient.GetSecretString(ctx, "exchange", "api_key"); err != nil {
		log.Warn().Err(err).Msg("Failed to load exchange API key from Vault")
	} else {
		cfg.Exchange.APIKey = apiKey
	}
	if secretKey, err := vaultClient.GetSecretString(ctx, "exchange", "secret_key"); err != nil {
		log.Warn().Err(err).Msg("Failed to load exchange secret key from Vault")
	} else {
		cfg.Exchange.SecretKey = secretKey
	}

	if token, err := vaultClient.GetSecretString(ctx, "alerts", "telegram_token"); err != nil {
		log.Debug().Err(err).Msg("No Telegram token in Vault")
	} else {
		cfg.Alerts.TelegramToken = token
	}

	log.Info().Msg("Secrets loaded from Vault")
	return nil
}

// GetVaultConfigFromEnv builds Vault configuration from environment variables
func GetVaultConfigFromEnv() VaultConfig {
	return VaultConfig{
		Enabled:    os.Getenv("EVOFUNK_VAULT_ENABLED") == "true",
		Address:    getEnvOrDefault("VAULT_ADDR", "http://localhost:8200"),
		Token:      os.Getenv("VAULT_TOKEN"),
		MountPath:  getEnvOrDefault("EVOFUNK_VAULT_MOUNT", "secret"),
		SecretPath: getEnvOrDefault("EVOFUNK_VAULT_PATH", "evofunk"),
		Namespace:  os.Getenv("VAULT_NAMESPACE"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
