package config

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
)

// DefaultUserAgents is the pool User-Agent rotation draws from
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
}

const acceptLanguage = "en-US,en;q=0.9"

// Rotator hands out request headers and an optional proxy per fetch
type Rotator struct {
	rotateUA   bool
	useProxies bool
	proxyFile  string
	userAgents []string
	intn       func(n int) int
}

// NewRotator builds a Rotator from network settings
func NewRotator(cfg NetworkConfig) *Rotator {
	return &Rotator{
		rotateUA:   cfg.RotateUserAgents,
		useProxies: cfg.UseProxies,
		proxyFile:  cfg.ProxyFile,
		userAgents: DefaultUserAgents,
		intn:       rand.Intn,
	}
}

// Headers returns a User-Agent from the pool plus Accept-Language.
// With rotation off the first pool entry is always used.
func (r *Rotator) Headers() map[string]string {
	ua := r.userAgents[0]
	if r.rotateUA {
		ua = r.userAgents[r.intn(len(r.userAgents))]
	}
	return map[string]string{
		"User-Agent":      ua,
		"Accept-Language": acceptLanguage,
	}
}

// Proxy returns a random proxy URL from the proxy file, or "" when proxies
// are disabled. The file is re-read on every call so edits apply without a restart.
func (r *Rotator) Proxy() (string, error) {
	if !r.useProxies {
		return "", nil
	}

	data, err := os.ReadFile(r.proxyFile)
	if err != nil {
		return "", fmt.Errorf("read proxy file: %w", err)
	}

	var proxies []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
			proxies = append(proxies, line)
		}
	}
	if len(proxies) == 0 {
		return "", fmt.Errorf("proxy file %s has no entries", r.proxyFile)
	}
	return proxies[r.intn(len(proxies))], nil
}
