package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Credentials are the long-lived application credentials exchanged for
// bearer tokens.
type Credentials struct {
	TenantID string `json:"tenant_id"`
	ClientID string `json:"client_id"`
	Secret   string `json:"secret"`
}

// LoadCredentials reads Credentials from a JSON file.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials file %s: %w", path, err)
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, fmt.Errorf("credentials file %s: %w", path, err)
	}

	return creds, nil
}

// Validate reports which required fields are empty.
func (c Credentials) Validate() error {
	var missing []string
	if c.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.Secret == "" {
		missing = append(missing, "secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// String omits the secret.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{TenantID: %s, ClientID: %s}", c.TenantID, c.ClientID)
}

// GoString omits the secret from %#v output as well.
func (c Credentials) GoString() string {
	return c.String()
}
