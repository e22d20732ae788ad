package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultAttempts    = 3
	defaultBackoffBase = 200 * time.Millisecond
	defaultBackoffCap  = 5 * time.Second
)

type loginInfo struct {
	email, password string
}

type httpRequest struct {
	method      string
	baseUrl     string
	endpoint    string
	headers     map[string]string
	queryParams map[string]string
	json        interface{}
	login       *loginInfo

	attempts    int
	backoffBase time.Duration
	backoffCap  time.Duration
	timeout     time.Duration
}

func newHttpRequest(method, baseUrl, endpoint string) *httpRequest {
	return &httpRequest{
		method:      method,
		baseUrl:     baseUrl,
		endpoint:    endpoint,
		attempts:    defaultAttempts,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
	}
}

func (r *httpRequest) Header(key, value string) *httpRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpRequest) Login(email, password string) *httpRequest {
	r.login = &loginInfo{email: email, password: password}
	return r
}

func (r *httpRequest) Auth(token string) *httpRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpRequest) Json(data interface{}) *httpRequest {
	r.json = data
	return r
}

func (r *httpRequest) Param(key, value string) *httpRequest {
	if r.queryParams == nil {
		r.queryParams = make(map[string]string)
	}
	r.queryParams[key] = value
	return r
}

func (r *httpRequest) Retry(attempts int, backoffBase, backoffCap time.Duration) *httpRequest {
	if attempts < 1 {
		attempts = 1
	}
	r.attempts = attempts
	r.backoffBase = backoffBase
	r.backoffCap = backoffCap
	return r
}

func (r *httpRequest) Timeout(timeout time.Duration) *httpRequest {
	r.timeout = timeout
	return r
}

func (r *httpRequest) backoff(attempt int) time.Duration {
	delay := r.backoffBase << attempt
	if delay > r.backoffCap || delay <= 0 {
		return r.backoffCap
	}
	return delay
}

// retryStatus reports whether a response status warrants another attempt.
// Client errors are never retried since resending cannot change the outcome.
func retryStatus(status int) bool {
	return status >= 500
}

func (r *httpRequest) send(ctx context.Context, body []byte, resultHandler func(io.Reader) error) (retriable bool, err error) {
	fullEndpoint, err := url.JoinPath(r.baseUrl, r.endpoint)
	if err != nil {
		return false, fmt.Errorf("error formatting url for endpoint %v: %w", r.endpoint, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, fullEndpoint, reader)
	if err != nil {
		return false, fmt.Errorf("error creating %v request for endpoint %v: %w", r.method, r.endpoint, err)
	}

	for k, v := range r.headers {
		req.Header.Add(k, v)
	}

	if r.login != nil {
		req.SetBasicAuth(r.login.email, r.login.password)
	}

	if r.queryParams != nil {
		query := req.URL.Query()
		for k, v := range r.queryParams {
			query.Add(k, v)
		}
		req.URL.RawQuery = query.Encode()
	}

	start := time.Now()

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("error sending %v request to endpoint %v: %w", r.method, r.endpoint, err)
	}
	defer res.Body.Close()

	slog.Debug("tracker client", "method", r.method, "endpoint", r.endpoint, "status", res.StatusCode, "duration", time.Since(start).String())

	if res.StatusCode != http.StatusOK {
		content, readErr := io.ReadAll(res.Body)
		if readErr != nil {
			return retryStatus(res.StatusCode), fmt.Errorf("%v request to endpoint %v returned status %d", r.method, r.endpoint, res.StatusCode)
		}
		return retryStatus(res.StatusCode), fmt.Errorf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, string(content))
	}

	if resultHandler != nil {
		err := resultHandler(res.Body)
		if err != nil {
			return false, fmt.Errorf("error processing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return false, nil
}

func (r *httpRequest) Process(resultHandler func(io.Reader) error) error {
	var body []byte
	if r.json != nil {
		encoded, err := json.Marshal(r.json)
		if err != nil {
			return fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		body = encoded
	}

	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.backoff(attempt - 1)):
			case <-ctx.Done():
				return fmt.Errorf("%v request to endpoint %v cancelled: %w", r.method, r.endpoint, ctx.Err())
			}
		}

		retriable, err := r.send(ctx, body, resultHandler)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retriable {
			return err
		}
		slog.Debug("tracker client retrying request", "method", r.method, "endpoint", r.endpoint, "attempt", attempt+1, "error", err)
	}

	return fmt.Errorf("request failed after %d attempts: %w", r.attempts, lastErr)
}

func (r *httpRequest) Do(result interface{}) error {
	return r.Process(func(body io.Reader) error {
		if result != nil {
			err := json.NewDecoder(body).Decode(result)
			if err != nil {
				return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
			}
		}
		return nil
	})
}

type BaseClient struct {
	baseUrl   string
	authToken string
}

func NewBaseClient(baseUrl string, authToken string) BaseClient {
	return BaseClient{baseUrl: baseUrl, authToken: authToken}
}

func (c *BaseClient) addAuthHeaders(r *httpRequest) *httpRequest {
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *BaseClient) Get(endpoint string) *httpRequest {
	return c.addAuthHeaders(newHttpRequest("GET", c.baseUrl, endpoint))
}

func (c *BaseClient) Post(endpoint string) *httpRequest {
	return c.addAuthHeaders(newHttpRequest("POST", c.baseUrl, endpoint))
}

func (c *BaseClient) Delete(endpoint string) *httpRequest {
	return c.addAuthHeaders(newHttpRequest("DELETE", c.baseUrl, endpoint))
}
