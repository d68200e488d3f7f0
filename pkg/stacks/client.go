package stacks

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/roosthq/roost/pkg/config"
)

// Endpoint is an execution endpoint registered on the control plane,
// one per guest running a container engine.
type Endpoint struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// EnvPair is one environment variable in a stack payload
type EnvPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Stack is a deployed application bundle on the control plane
type Stack struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	EndpointID int       `json:"endpoint_id"`
	Compose    string    `json:"compose"`
	Env        []EnvPair `json:"env,omitempty"`
	ConfigIDs  []int     `json:"config_ids,omitempty"`
}

// ConfigObject is a named configuration document referenced by stacks
// through its generated identifier
type ConfigObject struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	JWT string `json:"jwt"`
}

// Client is a bearer-token HTTP client for the control-plane API.
// The token is obtained lazily on the first call and reused for the
// life of the client, which matches the single-run process model.
type Client struct {
	base     string
	username string
	password string
	http     *http.Client
	token    string
}

// NewClient builds a client from the control-plane settings. When a CA
// certificate path is configured, TLS trust is pinned to it.
func NewClient(settings config.ControlPlaneSettings) (*Client, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if settings.CACertPath != "" {
		caPEM, err := os.ReadFile(settings.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read control-plane CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates in %s", settings.CACertPath)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		}
	}
	return &Client{
		base:     strings.TrimRight(settings.URL, "/"),
		username: settings.Username,
		password: settings.Password,
		http:     httpClient,
	}, nil
}

// authenticate exchanges credentials for a bearer token
func (c *Client) authenticate(ctx context.Context) error {
	body, err := json.Marshal(authRequest{Username: c.username, Password: c.password})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/auth", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth rejected: %s", resp.Status)
	}
	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return fmt.Errorf("failed to decode auth response: %w", err)
	}
	if auth.JWT == "" {
		return fmt.Errorf("auth response carried no token")
	}
	c.token = auth.JWT
	return nil
}

// do issues one authenticated JSON request. in may be nil; out may be
// nil for calls whose response body is ignored.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.token == "" {
		if err := c.authenticate(ctx); err != nil {
			return err
		}
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// Endpoints lists registered execution endpoints
func (c *Client) Endpoints(ctx context.Context) ([]Endpoint, error) {
	var out []Endpoint
	if err := c.do(ctx, http.MethodGet, "/endpoints", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateEndpoint registers a new execution endpoint
func (c *Client) CreateEndpoint(ctx context.Context, name, url string) (Endpoint, error) {
	var out Endpoint
	in := Endpoint{Name: name, URL: url}
	if err := c.do(ctx, http.MethodPost, "/endpoints", in, &out); err != nil {
		return Endpoint{}, err
	}
	return out, nil
}

// Stacks lists deployed stacks across all endpoints
func (c *Client) Stacks(ctx context.Context) ([]Stack, error) {
	var out []Stack
	if err := c.do(ctx, http.MethodGet, "/stacks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateStack deploys a new stack
func (c *Client) CreateStack(ctx context.Context, in Stack) (Stack, error) {
	var out Stack
	if err := c.do(ctx, http.MethodPost, "/stacks", in, &out); err != nil {
		return Stack{}, err
	}
	return out, nil
}

// UpdateStack redeploys an existing stack in place
func (c *Client) UpdateStack(ctx context.Context, id int, in Stack) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/stacks/%d", id), in, nil)
}

// Configs lists configuration objects
func (c *Client) Configs(ctx context.Context) ([]ConfigObject, error) {
	var out []ConfigObject
	if err := c.do(ctx, http.MethodGet, "/configs", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateConfig uploads a configuration document and returns its
// generated identifier
func (c *Client) CreateConfig(ctx context.Context, name, content string) (ConfigObject, error) {
	var out ConfigObject
	in := ConfigObject{Name: name, Content: content}
	if err := c.do(ctx, http.MethodPost, "/configs", in, &out); err != nil {
		return ConfigObject{}, err
	}
	return out, nil
}
