// Package clouddns manages instance subdomains through the Cloudflare v4
// API. The client is deliberately minimal: record upsert, deletion and
// lookup against a single zone.
package clouddns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/neomorfeo/provisioniq/internal/domain"
)

const defaultBaseURL = "https://api.cloudflare.com/client/v4"

const recordTTL = 300

// Manager implements domain.DNSManager against the Cloudflare API.
type Manager struct {
	apiToken     string
	zoneID       string
	baseURL      string
	pollInterval time.Duration
	httpClient   *http.Client
}

// Compile-time check: Manager implements domain.DNSManager.
var _ domain.DNSManager = (*Manager)(nil)

// New creates a manager for the given zone.
func New(apiToken, zoneID string) *Manager {
	return &Manager{
		apiToken:     apiToken,
		zoneID:       zoneID,
		baseURL:      defaultBaseURL,
		pollInterval: 2 * time.Second,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Record represents a Cloudflare DNS record.
type Record struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type recordResponse struct {
	Success bool       `json:"success"`
	Errors  []apiError `json:"errors"`
	Result  Record     `json:"result"`
}

type listResponse struct {
	Success bool       `json:"success"`
	Errors  []apiError `json:"errors"`
	Result  []Record   `json:"result"`
}

// UpsertRecord creates or updates the record for fqdn and returns the
// provider's record identifier.
func (m *Manager) UpsertRecord(ctx context.Context, fqdn, target, recordType string) (string, error) {
	existing, err := m.listRecords(ctx, fqdn, recordType)
	if err != nil {
		return "", err
	}

	record := Record{
		Type:    recordType,
		Name:    fqdn,
		Content: target,
		TTL:     recordTTL,
	}
	body, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encoding record: %w", err)
	}

	var req *http.Request
	if len(existing) > 0 {
		req, err = m.newRequest(ctx, http.MethodPatch,
			fmt.Sprintf("/zones/%s/dns_records/%s", m.zoneID, existing[0].ID), bytes.NewReader(body))
	} else {
		req, err = m.newRequest(ctx, http.MethodPost,
			fmt.Sprintf("/zones/%s/dns_records", m.zoneID), bytes.NewReader(body))
	}
	if err != nil {
		return "", err
	}

	var resp recordResponse
	if err := m.do(req, &resp); err != nil {
		return "", fmt.Errorf("upserting record %s: %w", fqdn, err)
	}

	return resp.Result.ID, nil
}

// AwaitPropagation polls until the record is visible through the API or
// maxWait elapses, in which case it returns domain.ErrPropagationTimeout.
func (m *Manager) AwaitPropagation(ctx context.Context, changeID string, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		visible, err := m.recordVisible(ctx, changeID)
		if err == nil && visible {
			return nil
		}

		if time.Now().After(deadline) {
			return domain.ErrPropagationTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DeleteRecord removes the records matching fqdn and type. A non-empty
// target narrows the match. Returns domain.ErrNotFound when nothing
// matched.
func (m *Manager) DeleteRecord(ctx context.Context, fqdn, target, recordType string) error {
	records, err := m.listRecords(ctx, fqdn, recordType)
	if err != nil {
		return err
	}

	deleted := 0
	for _, r := range records {
		if target != "" && r.Content != target {
			continue
		}

		req, err := m.newRequest(ctx, http.MethodDelete,
			fmt.Sprintf("/zones/%s/dns_records/%s", m.zoneID, r.ID), nil)
		if err != nil {
			return err
		}

		var resp recordResponse
		if err := m.do(req, &resp); err != nil {
			return fmt.Errorf("deleting record %s: %w", r.ID, err)
		}
		deleted++
	}

	if deleted == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Resolve returns the record contents for fqdn, or domain.ErrNotFound.
func (m *Manager) Resolve(ctx context.Context, fqdn string) ([]string, error) {
	records, err := m.listRecords(ctx, fqdn, "")
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrNotFound
	}

	contents := make([]string, len(records))
	for i, r := range records {
		contents[i] = r.Content
	}
	return contents, nil
}

func (m *Manager) recordVisible(ctx context.Context, recordID string) (bool, error) {
	req, err := m.newRequest(ctx, http.MethodGet,
		fmt.Sprintf("/zones/%s/dns_records/%s", m.zoneID, recordID), nil)
	if err != nil {
		return false, err
	}

	var resp recordResponse
	if err := m.do(req, &resp); err != nil {
		return false, err
	}

	return resp.Success && resp.Result.ID == recordID, nil
}

func (m *Manager) listRecords(ctx context.Context, fqdn, recordType string) ([]Record, error) {
	query := url.Values{"name": {fqdn}}
	if recordType != "" {
		query.Set("type", recordType)
	}

	req, err := m.newRequest(ctx, http.MethodGet,
		fmt.Sprintf("/zones/%s/dns_records?%s", m.zoneID, query.Encode()), nil)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := m.do(req, &resp); err != nil {
		return nil, fmt.Errorf("listing records for %s: %w", fqdn, err)
	}

	return resp.Result, nil
}

func (m *Manager) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiToken)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (m *Manager) do(req *http.Request, out any) error {
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response: %w (status %d)", err, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return nil
}
