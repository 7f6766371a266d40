package graph

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2"
)

// TokenFromFile loads an access token saved as oauth2.Token JSON. The token
// is used as-is; refresh is the responsibility of whoever writes the file.
func TokenFromFile(path string) (oauth2.TokenSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token file %s has no access_token", path)
	}
	return oauth2.StaticTokenSource(&tok), nil
}
