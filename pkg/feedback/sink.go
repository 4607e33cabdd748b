package feedback

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

// Submission is the payload sent to the feedback sink.
type Submission struct {
	Rating             Rating `json:"rating,omitempty"`
	PredefinedResponse string `json:"predefinedResponse,omitempty"`
	Freeform           string `json:"freeform,omitempty"`
}

// Target addresses the message a submission belongs to.
type Target struct {
	ConversationID string
	MessageID      string
}

type Sink interface {
	Submit(ctx context.Context, target Target, sub Submission) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, target Target, sub Submission) error

func (f SinkFunc) Submit(ctx context.Context, target Target, sub Submission) error {
	return f(ctx, target, sub)
}

type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("feedback sink: status %d: %s", e.Status, e.Body)
}

// HTTPSink posts submissions to {base}/conversations/{conversation}/messages/{message}/feedback.
type HTTPSink struct {
	baseURL string
	client  *http.Client
	token   func(ctx context.Context) (string, error)
}

func NewHTTPSink(baseURL string, client *http.Client, token func(ctx context.Context) (string, error)) (*HTTPSink, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("feedback sink: empty base url")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPSink{baseURL: baseURL, client: client, token: token}, nil
}

var _ Sink = &HTTPSink{}

func (s *HTTPSink) Submit(ctx context.Context, target Target, sub Submission) error {
	b, err := json.Marshal(sub)
	if err != nil {
		return errors.Wrap(err, "feedback sink: encode submission")
	}
	u := s.baseURL + "/conversations/" + url.PathEscape(target.ConversationID) +
		"/messages/" + url.PathEscape(target.MessageID) + "/feedback"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "feedback sink: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != nil {
		tok, err := s.token(ctx)
		if err != nil {
			return errors.Wrap(err, "feedback sink: get auth token")
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "feedback sink: post")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}
