package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/engram-ai/engram/internal/domain"
)

// Compile-time check that Remote implements Store.
var _ Store = (*Remote)(nil)

// Remote satisfies the storage contract by forwarding every call over
// loopback HTTP to the process that owns the embedded engine. Records never
// carry vectors across the wire: the owner is the single embedding authority
// and embeds on its side of the connection.
type Remote struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemote returns a proxy store talking to the service at host:port.
func NewRemote(host string, port int) *Remote {
	return &Remote{
		baseURL:    fmt.Sprintf("http://%s:%d", host, port),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type persistPayload struct {
	ID        string   `json:"id"`
	Project   string   `json:"project"`
	IDE       string   `json:"ide,omitempty"`
	FilePath  string   `json:"file_path,omitempty"`
	Language  string   `json:"language,omitempty"`
	Summary   string   `json:"summary"`
	Body      string   `json:"body"`
	Tags      []string `json:"tags,omitempty"`
	Kind      string   `json:"kind"`
	CreatedAt string   `json:"created_at"`
}

type searchPayload struct {
	Query   string         `json:"query"`
	Limit   int            `json:"limit"`
	Filters domain.Filters `json:"filters"`
}

type searchResult struct {
	domain.Record
	Score float32 `json:"score"`
}

type searchResponse struct {
	Query   string         `json:"query"`
	Results []searchResult `json:"results"`
}

// Persist sends the full record, including the locally assigned id and
// timestamp, so the row the owner stores is the row the caller reported.
func (r *Remote) Persist(ctx context.Context, rec domain.Record) error {
	payload := persistPayload{
		ID:        rec.ID,
		Project:   rec.Project,
		IDE:       rec.IDE,
		FilePath:  rec.FilePath,
		Language:  rec.Language,
		Summary:   rec.Summary,
		Body:      rec.Body,
		Tags:      rec.Tags,
		Kind:      string(rec.Kind),
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	resp, err := r.post(ctx, "/api/contexts", payload)
	if err != nil {
		return err
	}
	return drain(resp)
}

// Search forwards the prompt; the owning process embeds it and scores
// against its vectors.
func (r *Remote) Search(ctx context.Context, q SearchQuery) ([]Match, error) {
	resp, err := r.post(ctx, "/api/search", searchPayload{
		Query:   q.Prompt,
		Limit:   q.Limit,
		Filters: q.Filters,
	})
	if err != nil {
		return nil, err
	}

	var body searchResponse
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(body.Results))
	for _, res := range body.Results {
		matches = append(matches, Match{Record: res.Record, Score: res.Score})
	}
	return matches, nil
}

// Recent fetches the newest summaries from the owning process.
func (r *Remote) Recent(ctx context.Context, project string, limit int) ([]domain.Summary, error) {
	path := "/api/contexts?limit=" + strconv.Itoa(limit)
	if project != "" {
		path += "&project=" + url.QueryEscape(project)
	}
	resp, err := r.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var summaries []domain.Summary
	if err := decodeJSON(resp, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// Projects fetches the distinct project identifiers from the owning process.
func (r *Remote) Projects(ctx context.Context) ([]string, error) {
	resp, err := r.get(ctx, "/api/projects")
	if err != nil {
		return nil, err
	}

	var projects []string
	if err := decodeJSON(resp, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// Ping checks the owning process's health endpoint.
func (r *Remote) Ping(ctx context.Context) error {
	resp, err := r.get(ctx, "/health")
	if err != nil {
		return err
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(resp, &health); err != nil {
		return err
	}
	if health.Status != "healthy" {
		return domain.Storagef("service reported status %q", health.Status)
	}
	return nil
}

func (r *Remote) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, domain.Storagef("marshalling request: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bodyReader)
	if err != nil {
		return nil, domain.Storagef("building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, domain.Storagef("service not reachable at %s: %v", r.baseURL, err)
	}
	return resp, nil
}

func (r *Remote) get(ctx context.Context, path string) (*http.Response, error) {
	return r.do(ctx, "GET", path, nil)
}

func (r *Remote) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return r.do(ctx, "POST", path, body)
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return errorFromStatus(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return domain.Storagef("decoding response: %v", err)
	}
	return nil
}

func drain(resp *http.Response) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return errorFromStatus(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func errorFromStatus(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return domain.Storagef("service returned %d (failed to read body: %v)", resp.StatusCode, err)
	}
	msg := fmt.Sprintf("service returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	switch resp.StatusCode {
	case http.StatusBadRequest:
		return domain.Validationf("%s", msg)
	case http.StatusNotFound:
		return domain.NotFoundf("%s", msg)
	default:
		return domain.Storagef("%s", msg)
	}
}
