package runstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dgallion1/docflow/internal/doctree"
)

// Remote stores results in an HTTP key/value service:
//
//	PUT    /kv/{prefix}/{run_id}   {"value": <result>}
//	GET    /kv/{prefix}/{run_id}   {"key_path": ..., "value": <result>}
//	DELETE /kv/{prefix}/{run_id}
//	GET    /kv/{prefix}/*          {"nodes": [{"key_path": ..., "value": <result>}]}
type Remote struct {
	baseURL    string
	apiKey     string
	prefix     string
	httpClient *http.Client
}

// DefaultPrefix is the key prefix used when NewRemote is given none.
const DefaultPrefix = "docflow/runs"

func NewRemote(baseURL, apiKey, prefix string) *Remote {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		prefix:  strings.Trim(prefix, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type putRequest struct {
	Value     doctree.PipelineResult `json:"value"`
	Source    string                 `json:"source,omitempty"`
	ExpiresAt string                 `json:"expires_at,omitempty"`
}

type node struct {
	Key   string          `json:"key_path"`
	Value json.RawMessage `json:"value"`
}

func (r *Remote) key(runID string) string {
	return r.prefix + "/" + runID
}

func (r *Remote) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+"/kv/"+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	return req, nil
}

func statusError(op, key string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("%s %s: status %d: %s", op, key, resp.StatusCode, string(body))
}

func (r *Remote) Put(ctx context.Context, res doctree.PipelineResult) error {
	body, err := json.Marshal(putRequest{Value: res, Source: "docflow:" + res.Document.ID})
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	req, err := r.newRequest(ctx, http.MethodPut, r.key(res.RunID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("put run: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusError("put run", res.RunID, resp)
	}
	return nil
}

func (r *Remote) Get(ctx context.Context, runID string) (doctree.PipelineResult, error) {
	var res doctree.PipelineResult
	req, err := r.newRequest(ctx, http.MethodGet, r.key(runID), nil)
	if err != nil {
		return res, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return res, fmt.Errorf("get run: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return res, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return res, statusError("get run", runID, resp)
	}

	var n node
	if err := json.NewDecoder(resp.Body).Decode(&n); err != nil {
		return res, fmt.Errorf("decode run: %w", err)
	}
	if err := json.Unmarshal(n.Value, &res); err != nil {
		return res, fmt.Errorf("decode run value: %w", err)
	}
	return res, nil
}

func (r *Remote) List(ctx context.Context) ([]Summary, error) {
	req, err := r.newRequest(ctx, http.MethodGet, r.prefix+"/*", nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list runs", r.prefix, resp)
	}

	var body struct {
		Nodes []node `json:"nodes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode runs: %w", err)
	}
	out := make([]Summary, 0, len(body.Nodes))
	for _, n := range body.Nodes {
		var res doctree.PipelineResult
		if err := json.Unmarshal(n.Value, &res); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", n.Key, err)
		}
		out = append(out, Summarize(res))
	}
	slices.SortFunc(out, newestFirst)
	return out, nil
}

func (r *Remote) Delete(ctx context.Context, runID string) error {
	req, err := r.newRequest(ctx, http.MethodDelete, r.key(runID), nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return statusError("delete run", runID, resp)
	}
}

// Close releases idle connections.
func (r *Remote) Close() {
	r.httpClient.CloseIdleConnections()
}
