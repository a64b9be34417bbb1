package servicebus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/busclient/internal/auth"
	"github.com/sungwon/busclient/internal/httpclient"
	"github.com/sungwon/busclient/internal/metrics"
)

const endpointFmt = "https://%s.servicebus.windows.net"

const (
	opSend      = "send"
	opPeekLock  = "peek_lock"
	opDelete    = "delete"
	opUnlock    = "unlock"
	opRenewLock = "renew_lock"
)

// Client issues queue operations against the Service Bus REST API. Every
// request is authorized by the configured Authenticator.
type Client struct {
	authenticator auth.Authenticator
	http          httpclient.Doer
	baseURL       string
	queue         string
	peekTimeout   time.Duration
	log           zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint replaces the namespace-derived base URL, e.g. for an emulator.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.baseURL = strings.TrimRight(endpoint, "/")
		}
	}
}

// WithPeekTimeout asks the service to hold a peek-lock request open for up to
// d waiting for a message.
func WithPeekTimeout(d time.Duration) Option {
	return func(c *Client) { c.peekTimeout = d }
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a Client for one queue in a namespace.
func NewClient(authenticator auth.Authenticator, doer httpclient.Doer, namespace, queue string, opts ...Option) *Client {
	c := &Client{
		authenticator: authenticator,
		http:          doer,
		baseURL:       fmt.Sprintf(endpointFmt, url.PathEscape(namespace)),
		queue:         queue,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) messagesURL() string {
	return c.baseURL + "/" + url.PathEscape(c.queue) + "/messages"
}

func (c *Client) lockedMessageURL(messageID, lockToken string) string {
	return c.messagesURL() + "/" + url.PathEscape(messageID) + "/" + url.PathEscape(lockToken)
}

// Send posts a message and returns the correlation id it was sent with. When
// the message has no correlation id a random one is generated; the caller's
// message is not modified.
func (c *Client) Send(ctx context.Context, msg *Message) (correlationID string, err error) {
	start := time.Now()
	defer func() { observe(opSend, start, err) }()

	props := msg.Properties
	if props.CorrelationID != nil {
		correlationID = *props.CorrelationID
	} else {
		correlationID = uuid.New().String()
		props.CorrelationID = &correlationID
	}

	header, err := props.encode()
	if err != nil {
		return "", &Error{Kind: KindConversion, Op: opSend, Msg: "encode broker properties", Err: err}
	}

	req := httpclient.NewRequest(http.MethodPost, c.messagesURL(), msg.Content)
	req.SetHeader("Content-Type", msg.ContentType)
	req.SetHeader("BrokerProperties", header)

	resp, err := c.do(ctx, opSend, req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", classifyStatus(opSend, resp.StatusCode)
	}

	metrics.MessagesSentTotal.Inc()
	c.log.Debug().Str("correlation_id", correlationID).Str("queue", c.queue).Msg("message sent")

	return correlationID, nil
}

// SendJSON encodes v as a JSON message and sends it.
func (c *Client) SendJSON(ctx context.Context, v any) (string, error) {
	msg, err := NewJSONMessage(v)
	if err != nil {
		return "", err
	}
	return c.Send(ctx, msg)
}

// PeekLock locks and returns the message at the head of the queue. It
// returns nil, nil when the queue is empty.
func (c *Client) PeekLock(ctx context.Context) (msg *Message, err error) {
	start := time.Now()
	defer func() { observe(opPeekLock, start, err) }()

	u := c.messagesURL() + "/head"
	if c.peekTimeout > 0 {
		u += "?timeout=" + strconv.FormatInt(timeoutSeconds(c.peekTimeout), 10)
	}

	req := httpclient.NewRequest(http.MethodPost, u, nil)
	req.SetHeader("Content-Length", "0")

	resp, err := c.do(ctx, opPeekLock, req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusCreated:
	case http.StatusNoContent:
		return nil, nil
	default:
		return nil, classifyStatus(opPeekLock, resp.StatusCode)
	}

	header, ok := resp.Header("BrokerProperties")
	if !ok {
		return nil, &Error{Kind: KindConversion, Op: opPeekLock, Status: resp.StatusCode, Msg: "BrokerProperties header not present in response"}
	}
	props, err := decodeProperties(header)
	if err != nil {
		return nil, &Error{Kind: KindConversion, Op: opPeekLock, Status: resp.StatusCode, Msg: "decode broker properties", Err: err}
	}

	contentType, _ := resp.Header("Content-Type")

	return &Message{
		Properties:  props,
		Content:     resp.Body,
		ContentType: contentType,
	}, nil
}

// timeoutSeconds rounds d up to whole seconds, the service's granularity.
func timeoutSeconds(d time.Duration) int64 {
	return int64((d + time.Second - 1) / time.Second)
}

// Delete completes a locked message, removing it from the queue.
func (c *Client) Delete(ctx context.Context, props *BrokerProperties) error {
	return c.settle(ctx, opDelete, http.MethodDelete, props)
}

// Unlock releases the lock on a message so it can be delivered again
// immediately.
func (c *Client) Unlock(ctx context.Context, props *BrokerProperties) error {
	return c.settle(ctx, opUnlock, http.MethodPut, props)
}

// RenewLock extends the lock on a message without settling it.
func (c *Client) RenewLock(ctx context.Context, props *BrokerProperties) error {
	return c.settle(ctx, opRenewLock, http.MethodPost, props)
}

// settle issues one of the lock-token operations, all of which succeed with
// 200 OK.
func (c *Client) settle(ctx context.Context, op, method string, props *BrokerProperties) (err error) {
	start := time.Now()
	defer func() { observe(op, start, err) }()

	messageID, lockToken, err := props.lockRef()
	if err != nil {
		return &Error{Kind: KindRequest, Op: op, Err: err}
	}

	req := httpclient.NewRequest(method, c.lockedMessageURL(messageID, lockToken), nil)
	req.SetHeader("Content-Length", "0")

	resp, err := c.do(ctx, op, req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return classifyStatus(op, resp.StatusCode)
	}

	c.log.Debug().Str("op", op).Str("message_id", messageID).Msg("message settled")
	return nil
}

// do authenticates and executes req, translating failures into *Error.
func (c *Client) do(ctx context.Context, op string, req *httpclient.Request) (*httpclient.Response, error) {
	req, err := c.authenticator.Authenticate(ctx, req)
	if err != nil {
		return nil, &Error{Kind: KindAuthentication, Op: op, Msg: "unable to authenticate", Err: err}
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, &Error{Kind: KindCommunication, Op: op, Err: err}
	}

	c.log.Debug().
		Str("op", op).
		Str("method", req.Method).
		Str("url", req.URL).
		Int("status", resp.StatusCode).
		Msg("queue request completed")

	return resp, nil
}

func observe(op string, start time.Time, err error) {
	metrics.QueueRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		outcome = "error"
		var qe *Error
		if errors.As(err, &qe) {
			outcome = qe.Kind.String()
		}
	}
	metrics.QueueRequestsTotal.WithLabelValues(op, outcome).Inc()
}
