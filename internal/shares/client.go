// Package shares talks to the friend/share backend on behalf of the signed-in user.
package shares

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	defaultTimeout        = 10 * time.Second
	defaultMaxRetries     = 3
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 2 * time.Second
	breakerName           = "share-backend"
	breakerMinRequests    = 5
	breakerFailureRatio   = 0.6
	breakerOpenTimeout    = 30 * time.Second
)

var (
	// ErrMissingBaseURL indicates that the client was configured without a backend address.
	ErrMissingBaseURL = errors.New("shares: base url required")
	// ErrMissingToken indicates that a call was attempted without a bearer token.
	ErrMissingToken = errors.New("shares: bearer token required")
	// ErrUnavailable indicates that the circuit breaker is rejecting calls.
	ErrUnavailable = errors.New("shares: backend unavailable")
)

// StatusError reports a non-success HTTP response from the backend.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("shares: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// Observer receives one call per completed backend request.
type Observer interface {
	RequestCompleted(endpoint string, duration time.Duration, err error)
}

// Config describes the share backend client.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     uint64
	InitialBackoff time.Duration
	Logger         *zap.Logger
	Observer       Observer
}

// Client is a resty-based client for the share and friends endpoints. Reads are
// retried with exponential backoff; every call passes through a circuit breaker.
type Client struct {
	http           *resty.Client
	breaker        *gobreaker.CircuitBreaker
	maxRetries     uint64
	initialBackoff time.Duration
	logger         *zap.Logger
	observer       Observer
}

// NewClient constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    breakerName,
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		http:           httpClient,
		breaker:        breaker,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
		logger:         logger,
		observer:       cfg.Observer,
	}, nil
}

type sharePinRequest struct {
	PinID     string   `json:"pinId"`
	ToUserIDs []string `json:"toUserIds"`
	PinData   any      `json:"pinData"`
}

type shareCategoryRequest struct {
	CategoryID string   `json:"categoryId"`
	ToUserIDs  []string `json:"toUserIds"`
}

type friendRequest struct {
	FriendID string `json:"friendId"`
}

// SharePin shares one place with the given friends. pinData is forwarded verbatim.
func (c *Client) SharePin(ctx context.Context, token, pinID string, toUserIDs []string, pinData any) (json.RawMessage, error) {
	body := sharePinRequest{PinID: pinID, ToUserIDs: toUserIDs, PinData: pinData}
	return c.call(ctx, http.MethodPost, "/share/pin", token, body)
}

// ShareCategory shares every place of a category with the given friends.
func (c *Client) ShareCategory(ctx context.Context, token, categoryID string, toUserIDs []string) (json.RawMessage, error) {
	body := shareCategoryRequest{CategoryID: categoryID, ToUserIDs: toUserIDs}
	return c.call(ctx, http.MethodPost, "/share/category", token, body)
}

// SearchUsers finds users by username, email or display name.
func (c *Client) SearchUsers(ctx context.Context, token, query string) (json.RawMessage, error) {
	return c.call(ctx, http.MethodGet, "/friends/search?q="+url.QueryEscape(query), token, nil)
}

// SendFriendRequest asks another user for friendship.
func (c *Client) SendFriendRequest(ctx context.Context, token, friendID string) (json.RawMessage, error) {
	return c.call(ctx, http.MethodPost, "/friends/request", token, friendRequest{FriendID: friendID})
}

// AcceptFriendRequest accepts a pending friendship.
func (c *Client) AcceptFriendRequest(ctx context.Context, token, friendshipID string) (json.RawMessage, error) {
	return c.call(ctx, http.MethodPut, "/friends/"+url.PathEscape(friendshipID)+"/accept", token, nil)
}

// RejectFriendRequest rejects a pending friendship.
func (c *Client) RejectFriendRequest(ctx context.Context, token, friendshipID string) (json.RawMessage, error) {
	return c.call(ctx, http.MethodPut, "/friends/"+url.PathEscape(friendshipID)+"/reject", token, nil)
}

// RemoveFriend ends a friendship.
func (c *Client) RemoveFriend(ctx context.Context, token, friendshipID string) (json.RawMessage, error) {
	return c.call(ctx, http.MethodDelete, "/friends/"+url.PathEscape(friendshipID), token, nil)
}

// Friends lists the user's friends.
func (c *Client) Friends(ctx context.Context, token string) (json.RawMessage, error) {
	return c.call(ctx, http.MethodGet, "/friends", token, nil)
}

// PendingRequests lists incoming and outgoing friend requests.
func (c *Client) PendingRequests(ctx context.Context, token string) (json.RawMessage, error) {
	return c.call(ctx, http.MethodGet, "/friends/pending", token, nil)
}

// call executes one backend request and returns its raw JSON body. GET requests
// are retried on transport errors, 5xx and 429 responses.
func (c *Client) call(ctx context.Context, method, path, token string, body any) (json.RawMessage, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	endpoint := endpointName(method, path)
	started := time.Now()

	var payload []byte
	operation := func() error {
		result, err := c.breaker.Execute(func() (interface{}, error) {
			request := c.http.R().
				SetContext(ctx).
				SetAuthToken(token)
			if body != nil {
				request.SetBody(body)
			}
			response, err := request.Execute(method, path)
			if err != nil {
				return nil, err
			}
			statusErr := statusError(method, path, response)
			if statusErr != nil && statusErr.retryable() {
				return nil, statusErr
			}
			return response, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrUnavailable, err))
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		response := result.(*resty.Response)
		if statusErr := statusError(method, path, response); statusErr != nil {
			return backoff.Permanent(statusErr)
		}
		payload = response.Body()
		return nil
	}

	err := backoff.RetryNotify(operation, c.retryPolicy(ctx, method), func(err error, wait time.Duration) {
		c.logger.Warn("share backend request failed, retrying",
			zap.String("endpoint", endpoint),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if c.observer != nil {
		c.observer.RequestCompleted(endpoint, time.Since(started), err)
	}
	if err != nil {
		c.logger.Error("share backend request failed",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return nil, err
	}
	if len(payload) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(payload), nil
}

func (c *Client) retryPolicy(ctx context.Context, method string) backoff.BackOff {
	if method != http.MethodGet {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.initialBackoff
	exp.Multiplier = 2
	exp.MaxInterval = defaultMaxBackoff
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, c.maxRetries), ctx)
}

func statusError(method, path string, response *resty.Response) *StatusError {
	if response.IsSuccess() {
		return nil
	}
	return &StatusError{
		Method:     method,
		Path:       path,
		StatusCode: response.StatusCode(),
		Body:       strings.TrimSpace(response.String()),
	}
}

// endpointName drops the query string and identifiers so it can label metrics.
func endpointName(method, path string) string {
	route, _, _ := strings.Cut(path, "?")
	if strings.HasPrefix(route, "/friends/") {
		segments := strings.Split(strings.TrimPrefix(route, "/friends/"), "/")
		switch {
		case segments[0] == "search" || segments[0] == "request" || segments[0] == "pending":
		case len(segments) == 2:
			route = "/friends/:id/" + segments[1]
		default:
			route = "/friends/:id"
		}
	}
	return method + " " + route
}
