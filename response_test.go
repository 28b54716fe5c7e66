package pipa

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestResponseHasStatusCode(t *testing.T) {
	resp := &Response{StatusCode: 204}

	if !resp.HasStatusCode(200, 204) {
		t.Error("Expected 204 to match")
	}
	if resp.HasStatusCode(200, 201) {
		t.Error("Expected no match for 204")
	}
}

func TestResponsePayloadReadableTwice(t *testing.T) {
	raw := &http.Response{
		StatusCode: 200,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("payload")),
	}
	resp := newResponse(raw, nil)

	first, err := resp.Payload()
	if err != nil {
		t.Fatalf("Payload() returned error: %v", err)
	}
	second, err := resp.Payload()
	if err != nil {
		t.Fatalf("Second Payload() returned error: %v", err)
	}
	if string(first) != "payload" || string(second) != "payload" {
		t.Errorf("Expected repeatable payload, got %q and %q", first, second)
	}

	// Body is rewound too, so callers can stream after inspection
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	if string(body) != "payload" {
		t.Errorf("Expected body re-readable, got %q", string(body))
	}
}

func TestResponsePayloadNilBody(t *testing.T) {
	resp := &Response{StatusCode: 204}

	body, err := resp.Payload()
	if err != nil {
		t.Fatalf("Payload() returned error: %v", err)
	}
	if body != nil {
		t.Errorf("Expected nil payload, got %q", body)
	}
}

func TestResponseDrainNil(t *testing.T) {
	var resp *Response
	resp.Drain()

	if err := resp.Close(); err != nil {
		t.Errorf("Close() on nil response returned error: %v", err)
	}
}
