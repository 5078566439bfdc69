package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// SecretBackend selects where the Secret Accessor reads from.
type SecretBackend string

const (
	SecretBackendKeyVault SecretBackend = "keyvault"
	SecretBackendEtcd     SecretBackend = "etcd"
	SecretBackendEnv      SecretBackend = "env"
)

// DefaultClaimsHeader carries the federated identity claim set.
const DefaultClaimsHeader = "x-ms-client-principal"

// ErrNoRunnerLabels means the runner label set is empty.
var ErrNoRunnerLabels = errors.New("runner labels must not be empty (set github.runner_labels or RUNNER_LABELS)")

// Fixed secret names in the vault.
const (
	SecretRunnerPAT       = "github-runner-pat"
	SecretVMAdminPassword = "github-runner-vm-admin-pw"
)

// Config contains application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Azure   AzureConfig   `yaml:"azure"`
	Network NetworkConfig `yaml:"network"`
	Auth    AuthConfig    `yaml:"auth"`
	GitHub  GitHubConfig  `yaml:"github"`
	Secrets SecretsConfig `yaml:"secrets"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Port int `yaml:"port"`
}

// AzureConfig holds subscription, placement and VM parameters
type AzureConfig struct {
	SubscriptionID      string `yaml:"subscription_id"`
	ResourceGroup       string `yaml:"resource_group"`
	ResourceGroupPrefix string `yaml:"resource_group_prefix"`
	Location            string `yaml:"location"`
	VMSize              string `yaml:"vm_size"`
	VMName              string `yaml:"vm_name"`
	AdminUsername       string `yaml:"admin_username"`
	CustomImageID       string `yaml:"custom_image_id"`
}

// NetworkConfig names the per-runner network resources
type NetworkConfig struct {
	VNetName   string `yaml:"vnet_name"`
	SubnetName string `yaml:"subnet_name"`
	IPName     string `yaml:"ip_name"`
	NICName    string `yaml:"nic_name"`
	NSGName    string `yaml:"nsg_name"`
}

// AuthConfig configures the two accepted credential schemes
type AuthConfig struct {
	FunctionKey       string `yaml:"function_key"`
	ClaimsHeader      string `yaml:"claims_header"`
	AllowedRepository string `yaml:"allowed_repository"`
	AllowedActor      string `yaml:"allowed_actor"`
}

// GitHubConfig configures the registration-token call and the runner itself
type GitHubConfig struct {
	APIURL       string        `yaml:"api_url"`
	TokenTimeout time.Duration `yaml:"token_timeout"`
	RunnerLabels []string      `yaml:"runner_labels"`

	// RunnerAccount is the local account the runner service logs on as. A
	// fresh password is generated per VM. Empty keeps the service default.
	RunnerAccount string `yaml:"runner_account"`
}

// SecretsConfig selects and configures the secret backend
type SecretsConfig struct {
	Backend       SecretBackend `yaml:"backend"`
	VaultURL      string        `yaml:"vault_url"`
	EtcdEndpoints []string      `yaml:"etcd_endpoints"`
}

// Default returns a configuration populated with built-in defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Azure: AzureConfig{
			ResourceGroup:       "gh-runner-tmp-rg",
			ResourceGroupPrefix: "gh-runner-tmp",
			Location:            "westeurope",
			VMSize:              "Standard_D4s_v5",
			VMName:              "gh-runner-vm",
			AdminUsername:       "runneradmin",
		},
		Network: NetworkConfig{
			VNetName:   "gh-runner-vnet",
			SubnetName: "gh-runner-subnet",
			IPName:     "gh-runner-ip",
			NICName:    "gh-runner-nic",
			NSGName:    "gh-runner-nsg",
		},
		Auth: AuthConfig{
			ClaimsHeader: DefaultClaimsHeader,
		},
		GitHub: GitHubConfig{
			APIURL:       "https://api.github.com",
			TokenTimeout: 10 * time.Second,
			RunnerLabels: []string{"self-hosted", "windows", "x64", "ephemeral"},
		},
		Secrets: SecretsConfig{
			Backend:  SecretBackendKeyVault,
			VaultURL: "https://gh-runner-kv.vault.azure.net",
		},
	}
}

// Load loads configuration from defaults, an optional YAML file, a .env file
// and finally the process environment, in increasing precedence.
func Load() (*Config, error) {
	config := Default()

	// .env is optional; a missing file is not an error
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "ghrunner.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Azure.SubscriptionID, "SUBSCRIPTION_ID")
	setString(&c.Azure.ResourceGroup, "RESOURCE_GROUP")
	setString(&c.Azure.ResourceGroupPrefix, "RESOURCE_GROUP_PREFIX")
	setString(&c.Azure.Location, "LOCATION")
	setString(&c.Azure.VMSize, "VM_SIZE")
	setString(&c.Azure.VMName, "VM_NAME")
	setString(&c.Azure.AdminUsername, "ADMIN_USERNAME")
	setString(&c.Azure.CustomImageID, "CUSTOM_IMAGE_ID")

	setString(&c.Network.VNetName, "VNET_NAME")
	setString(&c.Network.SubnetName, "SUBNET_NAME")
	setString(&c.Network.IPName, "IP_NAME")
	setString(&c.Network.NICName, "NIC_NAME")
	setString(&c.Network.NSGName, "NSG_NAME")

	setString(&c.Auth.FunctionKey, "FUNCTION_KEY")
	setString(&c.Auth.ClaimsHeader, "CLAIMS_HEADER")
	setString(&c.Auth.AllowedRepository, "ALLOWED_REPOSITORY")
	setString(&c.Auth.AllowedActor, "ALLOWED_ACTOR")

	setString(&c.GitHub.APIURL, "GITHUB_API_URL")
	setString(&c.GitHub.RunnerAccount, "RUNNER_ACCOUNT")
	if v := os.Getenv("RUNNER_LABELS"); v != "" {
		c.GitHub.RunnerLabels = splitList(v)
	}
	if v := os.Getenv("TOKEN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid TOKEN_TIMEOUT %q: %w", v, err)
		}
		c.GitHub.TokenTimeout = d
	}

	setString(&c.Secrets.VaultURL, "VAULT_URL")
	if v := os.Getenv("SECRET_BACKEND"); v != "" {
		c.Secrets.Backend = SecretBackend(v)
	}
	if v := os.Getenv("ETCD_ENDPOINTS"); v != "" {
		c.Secrets.EtcdEndpoints = splitList(v)
	}

	if v := os.Getenv("PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks settings every command needs. CUSTOM_IMAGE_ID is left to
// the provisioning path, which reports it as a configuration error.
func (c *Config) Validate() error {
	if c.Azure.SubscriptionID == "" {
		return fmt.Errorf("subscription id is required (set azure.subscription_id or SUBSCRIPTION_ID)")
	}
	if c.Azure.Location == "" {
		return fmt.Errorf("location is required (set azure.location or LOCATION)")
	}
	if c.Azure.ResourceGroupPrefix == "" {
		return fmt.Errorf("resource group prefix must not be empty")
	}
	if c.GitHub.TokenTimeout <= 0 {
		return fmt.Errorf("token timeout must be positive, got %s", c.GitHub.TokenTimeout)
	}
	if len(c.GitHub.RunnerLabels) == 0 {
		return ErrNoRunnerLabels
	}

	switch c.Secrets.Backend {
	case SecretBackendKeyVault:
		if c.Secrets.VaultURL == "" {
			return fmt.Errorf("vault url is required for the keyvault secret backend")
		}
	case SecretBackendEtcd:
		if len(c.Secrets.EtcdEndpoints) == 0 {
			return fmt.Errorf("etcd endpoints are required for the etcd secret backend")
		}
	case SecretBackendEnv:
	default:
		return fmt.Errorf("unsupported secret backend: %s", c.Secrets.Backend)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
