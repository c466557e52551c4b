package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	defaultWebTimeout = 30 * time.Second
	maxResponseBytes  = 1 << 20
	maxFetchChars     = 10000
)

// WebOptions configures fetch_url and test_api.
type WebOptions struct {
	Client  *http.Client  // Defaults to a client with Timeout
	Timeout time.Duration // Default 30s
}

// RegisterWebTools adds fetch_url and test_api.
func RegisterWebTools(r *Registry, opts WebOptions) error {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultWebTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	w := webTools{client: opts.Client}

	for _, t := range []Tool{
		{
			Spec: Spec{
				Name:        "fetch_url",
				Description: "Fetch a web page and return its text",
				Params: []Param{
					{Name: "url", Type: "string", Description: "URL to fetch; https:// is assumed when no scheme is given", Required: true},
				},
			},
			Handler: w.fetchURL,
		},
		{
			Spec: Spec{
				Name:        "test_api",
				Description: "Send a request to a REST endpoint and report the response",
				Params: []Param{
					{Name: "url", Type: "string", Description: "Endpoint URL", Required: true},
					{Name: "method", Type: "string", Description: "HTTP method (default GET)"},
					{Name: "headers", Type: "object", Description: "Request headers"},
					{Name: "body", Type: "object", Description: "JSON request body for POST, PUT and PATCH"},
				},
				Dangerous: true,
			},
			Handler: w.testAPI,
		},
	} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

type webTools struct {
	client *http.Client
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return u.String(), nil
}

func (w webTools) fetchURL(ctx context.Context, params map[string]any) (string, error) {
	raw, _ := StringParam(params, "url")
	target, err := normalizeURL(raw)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", target, err)
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		text = htmlText(body)
	}
	if len(text) > maxFetchChars {
		text = text[:maxFetchChars]
	}
	return text, nil
}

// apiResult is what test_api reports back to the agent.
type apiResult struct {
	StatusCode int               `json:"status_code"`
	Status     string            `json:"status"`
	Headers    map[string]string `json:"headers"`
	Body       any               `json:"body"`
}

func (w webTools) testAPI(ctx context.Context, params map[string]any) (string, error) {
	raw, _ := StringParam(params, "url")
	target, err := normalizeURL(raw)
	if err != nil {
		return "", err
	}
	method := http.MethodGet
	if m, ok := StringParam(params, "method"); ok && m != "" {
		method = strings.ToUpper(m)
	}

	var reqBody io.Reader
	if body, ok := params["body"]; ok && body != nil {
		switch method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			data, err := json.Marshal(body)
			if err != nil {
				return "", fmt.Errorf("encoding body: %w", err)
			}
			reqBody = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return "", err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := params["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	res := apiResult{
		StatusCode: resp.StatusCode,
		Status:     "error",
		Headers:    make(map[string]string, len(resp.Header)),
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.Status = "success"
	}
	for k := range resp.Header {
		res.Headers[k] = resp.Header.Get(k)
	}
	var parsed any
	if err := json.Unmarshal(data, &parsed); err == nil {
		res.Body = parsed
	} else {
		res.Body = string(data)
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// htmlText returns the visible text of an HTML document with whitespace
// collapsed. Script and style contents are dropped.
func htmlText(doc []byte) string {
	z := html.NewTokenizer(bytes.NewReader(doc))
	var sb strings.Builder
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(sb.String())
		case html.StartTagToken:
			if name, _ := z.TagName(); isHiddenTag(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isHiddenTag(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if words := strings.Fields(string(z.Text())); len(words) > 0 {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(strings.Join(words, " "))
			}
		}
	}
}

func isHiddenTag(name []byte) bool {
	switch string(name) {
	case "script", "style", "noscript", "head":
		return true
	}
	return false
}
