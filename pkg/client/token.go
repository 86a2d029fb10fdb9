package client

import (
	"fmt"
	"os"
	"strings"
)

// LoadToken reads an admin token written by "imad token" from path.
func LoadToken(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", fmt.Errorf("token file %q is empty", path)
	}
	return token, nil
}

// WithTokenFile is the functional-option form of LoadToken.
func WithTokenFile(path string) Option {
	return func(c *Client) error {
		token, err := LoadToken(path)
		if err != nil {
			return err
		}
		return WithBearerToken(token)(c)
	}
}
