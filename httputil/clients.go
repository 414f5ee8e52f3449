package httputil

import (
	"crypto/tls"
	"net/http"
	"time"

	"carbitrage/config"
)

type Clients struct {
	Provider *http.Client // rendering provider, long timeout
	API      *http.Client // direct, short calls
}

func NewClients(cfg *config.ScrapingBeeConfig) *Clients {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		ForceAttemptHTTP2:   false,
		TLSNextProto:        make(map[string]func(string, *tls.Conn) http.RoundTripper),
		MaxIdleConnsPerHost: maxInt(cfg.Burst, 2),
		IdleConnTimeout:     90 * time.Second,
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	return &Clients{
		Provider: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		API: &http.Client{Timeout: 30 * time.Second},
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
