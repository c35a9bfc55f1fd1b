package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/message-dispatch/internal/domain"
)

const (
	textSendPath  = "/text/send"
	mediaSendPath = "/media/send"

	authScheme = "Integrator"
)

type textSendRequest struct {
	AccountID string `json:"account_id"`
	ToNumber  string `json:"to_number"`
	Payload   string `json:"payload"`
}

type sendResponse struct {
	Success json.RawMessage `json:"success"`
}

// Options configures a gateway Client.
type Options struct {
	BaseURL   string
	Username  string
	Password  string
	AccountID string
	ToNumber  string
	Caption   string
	// Timeout bounds each gateway call. Zero leaves calls unbounded.
	Timeout time.Duration
	Images  ImageSource
}

// Client sends text and media messages to the messaging gateway.
//
// Send failures never surface as errors: they are folded into an Outcome with
// Succeeded=false so the attempt can still be recorded.
type Client struct {
	client    *resty.Client
	baseURL   string
	authToken string
	accountID string
	toNumber  string
	caption   string
	images    ImageSource
	now       func() time.Time
}

func NewClient(opts Options) (*Client, error) {
	client := resty.New()
	client.SetTimeout(opts.Timeout)

	return NewClientWithResty(opts, client)
}

func NewClientWithResty(opts Options, client *resty.Client) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("gateway base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid gateway base url: %w", err)
	}
	if strings.TrimSpace(opts.Username) == "" || strings.TrimSpace(opts.Password) == "" {
		return nil, fmt.Errorf("gateway credentials are required")
	}
	if strings.TrimSpace(opts.AccountID) == "" {
		return nil, fmt.Errorf("gateway account id is required")
	}
	if strings.TrimSpace(opts.ToNumber) == "" {
		return nil, fmt.Errorf("destination number is required")
	}
	if opts.Images == nil {
		return nil, fmt.Errorf("image source is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	client.SetRetryCount(0)

	return &Client{
		client:    client,
		baseURL:   baseURL,
		authToken: AuthorizationValue(opts.Username, opts.Password),
		accountID: opts.AccountID,
		toNumber:  opts.ToNumber,
		caption:   opts.Caption,
		images:    opts.Images,
		now:       time.Now,
	}, nil
}

// AuthorizationValue builds the Authorization header value for the gateway.
func AuthorizationValue(username, password string) string {
	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return authScheme + " " + token
}

func (c *Client) SendText(ctx context.Context, body string) (domain.Outcome, error) {
	if c == nil || c.client == nil {
		return domain.Outcome{}, fmt.Errorf("gateway client is not initialized")
	}

	start := c.now()
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Authorization", c.authToken).
		SetHeader("Content-Type", "application/json").
		SetBody(textSendRequest{
			AccountID: c.accountID,
			ToNumber:  c.toNumber,
			Payload:   body,
		}).
		Post(c.baseURL + textSendPath)

	return c.settle(start, response, err), nil
}

func (c *Client) SendMedia(ctx context.Context) (domain.Outcome, error) {
	if c == nil || c.client == nil || c.images == nil {
		return domain.Outcome{}, fmt.Errorf("gateway client is not initialized")
	}

	start := c.now()
	image, err := c.images.Fetch(ctx)
	if err != nil {
		return domain.Outcome{
			Succeeded: false,
			Duration:  c.since(start),
			Err:       err,
		}, nil
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Authorization", c.authToken).
		SetFormData(map[string]string{
			"account_id": c.accountID,
			"to_number":  c.toNumber,
			"payload":    c.caption,
		}).
		SetMultipartField("image", image.Filename, image.ContentType, bytes.NewReader(image.Data)).
		Post(c.baseURL + mediaSendPath)

	return c.settle(start, response, err), nil
}

// since is the elapsed time of a settled call, never less than 1ns so the
// recorded duration stays positive on coarse clocks.
func (c *Client) since(start time.Time) time.Duration {
	if d := c.now().Sub(start); d > 0 {
		return d
	}
	return time.Nanosecond
}

// settle classifies a gateway call. Success requires a 2xx response whose
// JSON body carries "success": true; anything else is a failed outcome.
func (c *Client) settle(start time.Time, response *resty.Response, callErr error) domain.Outcome {
	outcome := domain.Outcome{Duration: c.since(start)}

	if callErr != nil {
		outcome.Err = &GatewayError{Message: "gateway request failed", Cause: callErr}
		return outcome
	}
	if response == nil {
		outcome.Err = &GatewayError{Message: "gateway returned empty response"}
		return outcome
	}

	outcome.StatusCode = response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if outcome.StatusCode < http.StatusOK || outcome.StatusCode >= http.StatusMultipleChoices {
		outcome.Err = &GatewayError{
			StatusCode: outcome.StatusCode,
			Message:    gatewayErrorMessage(outcome.StatusCode, responseBody),
		}
		return outcome
	}

	var parsed sendResponse
	if err := json.Unmarshal(response.Body(), &parsed); err != nil {
		outcome.Err = &GatewayError{
			StatusCode: outcome.StatusCode,
			Message:    "malformed gateway response",
			Cause:      err,
		}
		return outcome
	}
	if !bytes.Equal(bytes.TrimSpace(parsed.Success), []byte("true")) {
		outcome.Err = &GatewayError{
			StatusCode: outcome.StatusCode,
			Message:    gatewayErrorMessage(outcome.StatusCode, responseBody),
		}
		return outcome
	}

	outcome.Succeeded = true
	return outcome
}

func gatewayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d without success", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
