package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/mitchellh/mapstructure"
)

const (
	approleSecretIDPath = "auth/approle/role/%s/secret-id"
	approleLoginPath    = "auth/approle/login"
)

var (
	// ErrClientInit indicates failure to initialize the Vault API client.
	ErrClientInit = errors.New("vault client initialization failed")

	// ErrSecretNotFound is returned when a path holds no data.
	ErrSecretNotFound = errors.New("vault secret not found")
)

type Option func(*config)

type config struct {
	address  string
	token    string
	roleID   string
	roleName string
}

// Client wraps the Vault API client with the few calls the backup engine
// needs: AppRole login, dynamic credentials and KV v2 secrets.
type Client struct {
	api    *vault.Client
	config *config
}

// DynamicCredentials are short-lived credentials issued by a secrets engine
// such as database/creds/<role>.
type DynamicCredentials struct {
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	TTL      time.Duration `mapstructure:"-"`
}

// KVSecret is one version of a KV v2 secret.
type KVSecret struct {
	Data    map[string]any
	Version int
}

type kvEnvelope struct {
	Data     map[string]any `mapstructure:"data"`
	Metadata struct {
		Version int `mapstructure:"version"`
	} `mapstructure:"metadata"`
}

func WithAddress(address string) Option {
	return func(c *config) {
		if address != "" {
			c.address = address
		}
	}
}

func WithToken(token string) Option {
	return func(c *config) {
		if token != "" {
			c.token = token
		}
	}
}

func WithAppRole(roleID, roleName string) Option {
	return func(c *config) {
		c.roleID = roleID
		c.roleName = roleName
	}
}

// NewClient creates and initializes a Vault Client using provided options.
// It will perform AppRole login if roleID and roleName are both set, otherwise
// a static token (from env or WithToken) is used.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &config{
		address: os.Getenv("VAULT_ADDR"),
		token:   os.Getenv("VAULT_TOKEN"),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	apiCfg := vault.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientInit, apiCfg.Error)
	}
	if cfg.address != "" {
		apiCfg.Address = cfg.address
	}

	api, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientInit, err)
	}

	client := &Client{api: api, config: cfg}
	if cfg.token != "" {
		client.api.SetToken(cfg.token)
	}

	if cfg.roleID != "" && cfg.roleName != "" {
		if err := client.loginAppRole(ctx); err != nil {
			return nil, fmt.Errorf("AppRole login failed: %w", err)
		}
	}

	return client, nil
}

// Address returns the Vault server address in use.
func (c *Client) Address() string {
	return c.api.Address()
}

// loginAppRole performs AppRole login using the configured roleID and roleName.
func (c *Client) loginAppRole(ctx context.Context) error {
	path := fmt.Sprintf(approleSecretIDPath, c.config.roleName)
	resp, err := c.api.Logical().WriteWithContext(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("generate secret_id: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("no response from %s", path)
	}
	sid, ok := resp.Data["secret_id"].(string)
	if !ok || sid == "" {
		return fmt.Errorf("no secret_id returned from %s", path)
	}

	loginData := map[string]any{
		"role_id":   c.config.roleID,
		"secret_id": sid,
	}
	loginResp, err := c.api.Logical().WriteWithContext(ctx, approleLoginPath, loginData)
	if err != nil {
		return fmt.Errorf("approle login request: %w", err)
	}
	if loginResp == nil || loginResp.Auth == nil || loginResp.Auth.ClientToken == "" {
		return fmt.Errorf("no token in login response")
	}
	c.api.SetToken(loginResp.Auth.ClientToken)
	return nil
}

// GetDynamicCredentials reads a username/password pair issued for role, e.g.
// "database/creds/backup".
func (c *Client) GetDynamicCredentials(ctx context.Context, role string) (DynamicCredentials, error) {
	secret, err := c.api.Logical().ReadWithContext(ctx, role)
	if err != nil {
		return DynamicCredentials{}, fmt.Errorf("read %s: %w", role, err)
	}
	if secret == nil || secret.Data == nil {
		return DynamicCredentials{}, fmt.Errorf("%w: %s", ErrSecretNotFound, role)
	}

	var creds DynamicCredentials
	if err := decode(secret.Data, &creds); err != nil {
		return DynamicCredentials{}, fmt.Errorf("invalid data format at path %s: %w", role, err)
	}
	if creds.Username == "" || creds.Password == "" {
		return DynamicCredentials{}, fmt.Errorf("invalid data format at path: %s", role)
	}
	creds.TTL = time.Duration(secret.LeaseDuration) * time.Second
	return creds, nil
}

// ReadKV reads the latest version of a KV v2 secret.
func (c *Client) ReadKV(ctx context.Context, mount, secretPath string) (KVSecret, error) {
	p := kvDataPath(mount, secretPath)
	secret, err := c.api.Logical().ReadWithContext(ctx, p)
	if err != nil {
		return KVSecret{}, fmt.Errorf("read %s: %w", p, err)
	}
	if secret == nil || secret.Data == nil {
		return KVSecret{}, fmt.Errorf("%w: %s", ErrSecretNotFound, p)
	}

	var env kvEnvelope
	if err := decode(secret.Data, &env); err != nil {
		return KVSecret{}, fmt.Errorf("decode %s: %w", p, err)
	}
	if env.Data == nil {
		// deleted or destroyed versions keep their metadata only
		return KVSecret{}, fmt.Errorf("%w: %s", ErrSecretNotFound, p)
	}
	return KVSecret{Data: env.Data, Version: env.Metadata.Version}, nil
}

// WriteKV stores data as a new version of a KV v2 secret.
func (c *Client) WriteKV(ctx context.Context, mount, secretPath string, data map[string]any) error {
	p := kvDataPath(mount, secretPath)
	if _, err := c.api.Logical().WriteWithContext(ctx, p, map[string]any{"data": data}); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

func kvDataPath(mount, secretPath string) string {
	return path.Join(strings.Trim(mount, "/"), "data", strings.Trim(secretPath, "/"))
}

func decode(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
