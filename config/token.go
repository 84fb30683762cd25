package config

import (
	"net/url"

	"github.com/cli/go-gh/v2/pkg/auth"
)

// ResolveToken fills Token from the GitHub CLI's stored credentials for the
// endpoint host when neither the file nor the environment supplied one. It
// returns where the token came from, or "" when none was found.
func (c *Config) ResolveToken() string {
	if c.Token != "" {
		return "config"
	}
	host := "github.com"
	if parsed, err := url.Parse(c.Endpoint); err == nil && parsed.Host != "" && parsed.Host != "api.github.com" {
		host = parsed.Host
	}
	token, source := auth.TokenForHost(host)
	if token == "" {
		return ""
	}
	c.Token = token
	return source
}
