package dnsrecorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ExternalRegistrar delegates record installation to a real external DNS
// provider's HTTP API instead of answering queries from this process's
// own zone. Running odac as the public authoritative nameserver for a
// production domain is not something any real registrar supports out of
// the box; this stub is the integration point a deployment wires a
// provider's API into.
type ExternalRegistrar struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewExternalRegistrar constructs a registrar client against baseURL,
// sending apiKey as a bearer token on every request.
func NewExternalRegistrar(baseURL, apiKey string) *ExternalRegistrar {
	return &ExternalRegistrar{
		client:  &http.Client{},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

type upsertRecordRequest struct {
	Domain string   `json:"domain"`
	A      string   `json:"a,omitempty"`
	AAAA   string   `json:"aaaa,omitempty"`
	MX     string   `json:"mx,omitempty"`
	TXT    []string `json:"txt,omitempty"`
}

// Install pushes domain's record set to the external provider.
func (e *ExternalRegistrar) Install(ctx context.Context, domain string, records Records) error {
	req := upsertRecordRequest{Domain: domain, A: records.IPv4, AAAA: records.IPv6, MX: records.MX}
	if records.SPF != "" {
		req.TXT = append(req.TXT, records.SPF)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("dnsrecorder: encode registrar request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, e.baseURL+"/v1/records", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dnsrecorder: build registrar request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("dnsrecorder: registrar request for %q: %w", domain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("dnsrecorder: registrar rejected %q with status %d", domain, resp.StatusCode)
	}
	return nil
}

// Remove withdraws domain's record set from the external provider.
func (e *ExternalRegistrar) Remove(ctx context.Context, domain string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, e.baseURL+"/v1/records/"+domain, nil)
	if err != nil {
		return fmt.Errorf("dnsrecorder: build registrar delete request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("dnsrecorder: registrar delete for %q: %w", domain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("dnsrecorder: registrar rejected delete for %q with status %d", domain, resp.StatusCode)
	}
	return nil
}
