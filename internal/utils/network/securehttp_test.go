package network

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"
)

func TestNewSecureHTTPClient(t *testing.T) {
	client := NewSecureHTTPClient(5 * time.Second)
	if client.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", client.Timeout)
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport.TLSClientConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("expected TLS 1.2 minimum, got %x", transport.TLSClientConfig.MinVersion)
	}
	if transport.Proxy == nil {
		t.Error("expected proxy from environment")
	}
}

func TestNewSecureHTTPClientNoTimeout(t *testing.T) {
	if c := NewSecureHTTPClient(0); c.Timeout != 0 {
		t.Errorf("expected no overall timeout, got %v", c.Timeout)
	}
}
