package commands

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

	"github.com/pkg/errors"
)

// ErrMissingAuthToken is returned when the host cannot supply a bearer token.
var ErrMissingAuthToken = errors.New("missing auth token")

// ServiceAccountRequest is the body of a service-account creation call.
type ServiceAccountRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Environment string `json:"environment,omitempty"`
}

// ServiceAccount is the created account. Secret is returned exactly once.
type ServiceAccount struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ClientID    string `json:"clientId"`
	Secret      string `json:"secret"`
}

// Accounts performs the authenticated calls behind the account commands.
type Accounts interface {
	SetOrg2FA(ctx context.Context, token string, orgID string, enabled bool) error
	CreateServiceAccount(ctx context.Context, token string, req ServiceAccountRequest) (ServiceAccount, error)
}

// HTTPError is a non-2xx response from the accounts API.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("accounts api: status %d: %s", e.Status, e.Body)
}

// AccountsClient talks to the accounts API over HTTP.
type AccountsClient struct {
	baseURL string
	client  *http.Client
}

func NewAccountsClient(baseURL string, client *http.Client) (*AccountsClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("accounts client: empty base url")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.Wrap(err, "accounts client: invalid base url")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &AccountsClient{baseURL: baseURL, client: client}, nil
}

var _ Accounts = &AccountsClient{}

func (c *AccountsClient) SetOrg2FA(ctx context.Context, token string, orgID string, enabled bool) error {
	if strings.TrimSpace(orgID) == "" {
		return errors.New("accounts client: empty org id")
	}
	body := map[string]any{"enabled": enabled}
	path := "/organizations/" + url.PathEscape(orgID) + "/two-factor"
	return c.do(ctx, http.MethodPut, path, token, body, nil)
}

func (c *AccountsClient) CreateServiceAccount(ctx context.Context, token string, req ServiceAccountRequest) (ServiceAccount, error) {
	if strings.TrimSpace(req.Name) == "" {
		return ServiceAccount{}, errors.New("accounts client: empty service account name")
	}
	var out ServiceAccount
	if err := c.do(ctx, http.MethodPost, "/service-accounts", token, req, &out); err != nil {
		return ServiceAccount{}, err
	}
	if out.ClientID == "" || out.Secret == "" {
		return ServiceAccount{}, errors.New("accounts client: response is missing credentials")
	}
	return out, nil
}

func (c *AccountsClient) do(ctx context.Context, method, path, token string, in any, out any) error {
	if token == "" {
		return ErrMissingAuthToken
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "accounts client: encode request")
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "accounts client: build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "accounts client: %s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "accounts client: decode response")
	}
	return nil
}
