package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	errRequestFailed = errors.New("request failed")
	errBadKeyValue   = errors.New("malformed flag value")
)

func jsonOutput(in any) {
	j, err := json.MarshalIndent(in, "", " ")
	if err != nil {
		return
	}
	fmt.Println(string(j))
}

// baseURL normalises the host flag into a scheme-qualified base
func baseURL() string {
	h := host
	if !strings.Contains(h, "://") {
		h = "http://" + h
	}
	return strings.TrimSuffix(h, "/")
}

// apiPath joins path segments under the versioned query API base
func apiPath(parts ...string) string {
	return baseURL() + "/x-nmos/query/" + apiVersion + "/" + strings.Join(parts, "/")
}

// parseKeyValues splits repeated key=value flag values into a map
func parseKeyValues(in []string) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for _, kv := range in {
		k, v, found := strings.Cut(kv, "=")
		if !found || k == "" {
			return nil, fmt.Errorf("%w %q, want key=value", errBadKeyValue, kv)
		}
		out[k] = v
	}
	return out, nil
}

// doRequest performs one API call and decodes the response into out when it
// is non-nil. API error bodies are surfaced as the error message.
func doRequest(ctx context.Context, method, url string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr struct {
			Code  int    `json:"code"`
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%w: %s", errRequestFailed, apiErr.Error)
		}
		return fmt.Errorf("%w: %s", errRequestFailed, resp.Status)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
