package pipa

import (
	"context"
	"net/http"
	"strings"
	"testing"
)

func TestUserAgentPolicy(t *testing.T) {
	var sawUA string
	tr := TransportFunc(func(r *http.Request) (*http.Response, error) {
		sawUA = r.Header.Get("User-Agent")
		return okTransport("ok")(r)
	})

	pl := NewPipeline(tr, NewUserAgentPolicy(""))
	req, _ := NewRequest(context.Background(), http.MethodGet, "https://example.com/")

	if _, err := pl.Do(req); err != nil {
		t.Fatalf("Do() returned error: %v", err)
	}
	if !strings.HasPrefix(sawUA, "pipa/") {
		t.Errorf("Expected telemetry User-Agent, got %q", sawUA)
	}
}

func TestUserAgentPolicyApplicationID(t *testing.T) {
	var sawUA string
	tr := TransportFunc(func(r *http.Request) (*http.Response, error) {
		sawUA = r.Header.Get("User-Agent")
		return okTransport("ok")(r)
	})

	pl := NewPipeline(tr, NewUserAgentPolicy("myapp/3.2"))
	req, _ := NewRequest(context.Background(), http.MethodGet, "https://example.com/")

	if _, err := pl.Do(req); err != nil {
		t.Fatalf("Do() returned error: %v", err)
	}
	if !strings.HasPrefix(sawUA, "myapp/3.2 pipa/") {
		t.Errorf("Expected application ID prefix, got %q", sawUA)
	}
}

func TestUserAgentPolicyKeepsCallerValue(t *testing.T) {
	var sawUA string
	tr := TransportFunc(func(r *http.Request) (*http.Response, error) {
		sawUA = r.Header.Get("User-Agent")
		return okTransport("ok")(r)
	})

	pl := NewPipeline(tr, NewUserAgentPolicy(""))
	req, _ := NewRequest(context.Background(), http.MethodGet, "https://example.com/")
	req.Raw().Header.Set("User-Agent", "caller/1.0")

	if _, err := pl.Do(req); err != nil {
		t.Fatalf("Do() returned error: %v", err)
	}
	if !strings.HasPrefix(sawUA, "caller/1.0 ") || !strings.Contains(sawUA, "pipa/") {
		t.Errorf("Expected caller value kept in front, got %q", sawUA)
	}
}

func TestRequestIDPolicyAssignsUUID(t *testing.T) {
	var sawID string
	tr := TransportFunc(func(r *http.Request) (*http.Response, error) {
		sawID = r.Header.Get(HeaderClientRequestID)
		return okTransport("ok")(r)
	})

	pl := NewPipeline(tr, NewRequestIDPolicy())
	req, _ := NewRequest(context.Background(), http.MethodGet, "https://example.com/")

	if _, err := pl.Do(req); err != nil {
		t.Fatalf("Do() returned error: %v", err)
	}
	if len(sawID) != 36 {
		t.Errorf("Expected UUID request ID, got %q", sawID)
	}
}

func TestRequestIDPolicyKeepsCallerID(t *testing.T) {
	var sawID string
	tr := TransportFunc(func(r *http.Request) (*http.Response, error) {
		sawID = r.Header.Get(HeaderClientRequestID)
		return okTransport("ok")(r)
	})

	pl := NewPipeline(tr, NewRequestIDPolicy())
	req, _ := NewRequest(context.Background(), http.MethodGet, "https://example.com/")
	req.Raw().Header.Set(HeaderClientRequestID, "caller-chosen")

	if _, err := pl.Do(req); err != nil {
		t.Fatalf("Do() returned error: %v", err)
	}
	if sawID != "caller-chosen" {
		t.Errorf("Expected caller ID preserved, got %q", sawID)
	}
}

func TestUserAgentString(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "pipa/"+Version) {
		t.Errorf("Expected version in User-Agent, got %q", ua)
	}
}

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	if !strings.Contains(v, Version) {
		t.Errorf("Expected version string to contain %s, got %s", Version, v)
	}

	info := GetVersionInfo()
	if info["version"] != Version {
		t.Errorf("Expected version=%s, got %s", Version, info["version"])
	}
	if info["go_version"] == "" {
		t.Error("Expected go_version to be set")
	}
}
