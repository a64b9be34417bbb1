package servicebus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sungwon/busclient/internal/auth"
	"github.com/sungwon/busclient/internal/httpclient"
)

// recordedRequest captures what the test server received.
type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// queueServer is an httptest server that records requests and replies with
// the configured handler.
type queueServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newQueueServer(t *testing.T, reply func(w http.ResponseWriter, r *http.Request)) *queueServer {
	t.Helper()
	qs := &queueServer{}
	qs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		qs.mu.Lock()
		qs.requests = append(qs.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   body,
		})
		qs.mu.Unlock()
		reply(w, r)
	}))
	t.Cleanup(qs.Close)
	return qs
}

func (qs *queueServer) last(t *testing.T) recordedRequest {
	t.Helper()
	qs.mu.Lock()
	defer qs.mu.Unlock()
	if len(qs.requests) == 0 {
		t.Fatal("expected a request to reach the server")
	}
	return qs.requests[len(qs.requests)-1]
}

func (qs *queueServer) count() int {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	return len(qs.requests)
}

func newTestClient(qs *queueServer, opts ...Option) *Client {
	opts = append([]Option{WithEndpoint(qs.URL)}, opts...)
	return NewClient(auth.Static("test-token"), httpclient.New(5*time.Second), "castle-rtestapp", "testlog", opts...)
}

func status(code int) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(code) }
}

// --- Send ---

func TestSend_GeneratesCorrelationID(t *testing.T) {
	qs := newQueueServer(t, status(http.StatusCreated))
	client := newTestClient(qs)

	msg := &Message{
		Properties:  BrokerProperties{Label: String("demo")},
		Content:     []byte(`{"message":"hi"}`),
		ContentType: JSONContentType,
	}

	id, err := client.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated correlation id")
	}
	if msg.Properties.CorrelationID != nil {
		t.Errorf("expected caller's message to be unmodified, got correlation id %q", *msg.Properties.CorrelationID)
	}

	req := qs.last(t)
	if req.Method != http.MethodPost || req.Path != "/testlog/messages" {
		t.Errorf("unexpected request %s %s", req.Method, req.Path)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer test-token" {
		t.Errorf("expected bearer header, got %q", got)
	}
	if got := req.Header.Get("Content-Type"); got != JSONContentType {
		t.Errorf("expected content type %s, got %s", JSONContentType, got)
	}
	if string(req.Body) != `{"message":"hi"}` {
		t.Errorf("unexpected body %q", req.Body)
	}

	var sent BrokerProperties
	if err := json.Unmarshal([]byte(req.Header.Get("BrokerProperties")), &sent); err != nil {
		t.Fatalf("BrokerProperties header is not JSON: %v", err)
	}
	if sent.CorrelationID == nil || *sent.CorrelationID != id {
		t.Errorf("expected header correlation id %q, got %v", id, sent.CorrelationID)
	}
	if sent.Label == nil || *sent.Label != "demo" {
		t.Errorf("expected label to be carried, got %v", sent.Label)
	}
}

func TestSend_UsesExistingCorrelationID(t *testing.T) {
	qs := newQueueServer(t, status(http.StatusCreated))
	client := newTestClient(qs)

	msg := &Message{
		Properties:  BrokerProperties{CorrelationID: String("corr-42")},
		Content:     []byte("raw"),
		ContentType: "text/plain",
	}

	id, err := client.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "corr-42" {
		t.Errorf("expected corr-42, got %s", id)
	}

	var sent BrokerProperties
	if err := json.Unmarshal([]byte(qs.last(t).Header.Get("BrokerProperties")), &sent); err != nil {
		t.Fatalf("BrokerProperties header is not JSON: %v", err)
	}
	if sent.CorrelationID == nil || *sent.CorrelationID != "corr-42" {
		t.Errorf("expected corr-42 in header, got %v", sent.CorrelationID)
	}
}

func TestSend_ScheduledEnqueueTimeEncoding(t *testing.T) {
	qs := newQueueServer(t, status(http.StatusCreated))
	client := newTestClient(qs)

	at := time.Date(2026, time.October, 14, 9, 30, 15, 0, time.UTC)
	msg := &Message{Properties: BrokerProperties{ScheduledEnqueueTimeUTC: NewTime(at)}, ContentType: JSONContentType}

	if _, err := client.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(qs.last(t).Header.Get("BrokerProperties")), &raw); err != nil {
		t.Fatalf("BrokerProperties header is not JSON: %v", err)
	}
	if got := raw["ScheduledEnqueueTimeUtc"]; got != "Wed, 14 Oct 2026 09:30:15 GMT" {
		t.Errorf("unexpected scheduled time encoding: %v", got)
	}
}

func TestSend_StatusMapping(t *testing.T) {
	tests := []struct {
		code int
		want Kind
	}{
		{http.StatusOK, KindCommunication},
		{http.StatusBadRequest, KindRequest},
		{http.StatusUnauthorized, KindRequest},
		{http.StatusForbidden, KindRequest},
		{http.StatusInternalServerError, KindService},
		{http.StatusServiceUnavailable, KindService},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			qs := newQueueServer(t, status(tt.code))
			client := newTestClient(qs)

			_, err := client.SendJSON(context.Background(), map[string]string{"k": "v"})
			if !IsKind(err, tt.want) {
				t.Fatalf("status %d: expected %s error, got %v", tt.code, tt.want, err)
			}
			var qe *Error
			if errors.As(err, &qe) && qe.Status != tt.code {
				t.Errorf("expected status %d on error, got %d", tt.code, qe.Status)
			}
		})
	}
}

// --- PeekLock ---

func TestPeekLock_NoContent(t *testing.T) {
	qs := newQueueServer(t, status(http.StatusNoContent))
	client := newTestClient(qs)

	msg, err := client.PeekLock(context.Background())
	if err != nil {
		t.Fatalf("expected no error for empty queue, got %v", err)
	}
	if msg != nil {
		t.Fatalf("expected nil message, got %+v", msg)
	}

	req := qs.last(t)
	if req.Method != http.MethodPost || req.Path != "/testlog/messages/head" {
		t.Errorf("unexpected request %s %s", req.Method, req.Path)
	}
	if req.Header.Get("Authorization") != "Bearer test-token" {
		t.Errorf("expected bearer header on peek-lock")
	}
}

func TestPeekLock_Message(t *testing.T) {
	const props = `{"DeliveryCount":2,"LockToken":"lock-1","MessageId":"msg-1","SequenceNumber":7,` +
		`"LockedUntilUtc":"Wed, 14 Oct 2026 09:31:15 GMT","EnqueuedTimeUtc":"Wed, 14 Oct 2026 09:30:15 GMT","State":"Active"}`

	qs := newQueueServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("BrokerProperties", props)
		w.Header().Set("Content-Type", JSONContentType)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"message":"New message to process."}`))
	})
	client := newTestClient(qs)

	msg, err := client.PeekLock(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg == nil {
		t.Fatal("expected a message")
	}

	var want BrokerProperties
	if err := json.Unmarshal([]byte(props), &want); err != nil {
		t.Fatalf("decode expected props: %v", err)
	}
	gotJSON, _ := json.Marshal(msg.Properties)
	wantJSON, _ := json.Marshal(want)
	if string(gotJSON) != string(wantJSON) {
		t.Errorf("properties mismatch:\n got %s\nwant %s", gotJSON, wantJSON)
	}
	if *msg.Properties.DeliveryCount != 2 || *msg.Properties.MessageID != "msg-1" {
		t.Errorf("unexpected properties: %s", gotJSON)
	}
	if !msg.Properties.LockedUntilUTC.Equal(time.Date(2026, time.October, 14, 9, 31, 15, 0, time.UTC)) {
		t.Errorf("unexpected locked-until: %v", msg.Properties.LockedUntilUTC)
	}
	if string(msg.Content) != `{"message":"New message to process."}` {
		t.Errorf("unexpected content %q", msg.Content)
	}
	if msg.ContentType != JSONContentType {
		t.Errorf("unexpected content type %q", msg.ContentType)
	}
}

func TestPeekLock_MissingContentType(t *testing.T) {
	qs := newQueueServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("BrokerProperties", `{"MessageId":"m"}`)
		w.Header()["Content-Type"] = nil
		w.WriteHeader(http.StatusCreated)
	})
	client := newTestClient(qs)

	msg, err := client.PeekLock(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ContentType != "" {
		t.Errorf("expected empty content type, got %q", msg.ContentType)
	}
}

func TestPeekLock_Errors(t *testing.T) {
	tests := []struct {
		name  string
		reply func(http.ResponseWriter, *http.Request)
		want  Kind
	}{
		{"service unavailable", status(http.StatusServiceUnavailable), KindService},
		{"not found", status(http.StatusNotFound), KindRequest},
		{"unexpected success code", status(http.StatusOK), KindCommunication},
		{"missing properties header", status(http.StatusCreated), KindConversion},
		{"malformed properties header", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("BrokerProperties", `{not json`)
			w.WriteHeader(http.StatusCreated)
		}, KindConversion},
		{"malformed broker time", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("BrokerProperties", `{"LockedUntilUtc":"2026-10-14T09:31:15Z"}`)
			w.WriteHeader(http.StatusCreated)
		}, KindConversion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs := newQueueServer(t, tt.reply)
			client := newTestClient(qs)

			msg, err := client.PeekLock(context.Background())
			if !IsKind(err, tt.want) {
				t.Fatalf("expected %s error, got %v", tt.want, err)
			}
			if msg != nil {
				t.Errorf("expected nil message on error, got %+v", msg)
			}
		})
	}
}

func TestPeekLock_Timeout(t *testing.T) {
	qs := newQueueServer(t, status(http.StatusNoContent))
	client := newTestClient(qs, WithPeekTimeout(30*time.Second))

	if _, err := client.PeekLock(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q := qs.last(t).Query; q != "timeout=30" {
		t.Errorf("expected timeout=30 query, got %q", q)
	}
}

func TestPeekLock_SubSecondTimeoutRoundsUp(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		want    string
	}{
		{200 * time.Millisecond, "timeout=1"},
		{time.Second, "timeout=1"},
		{1500 * time.Millisecond, "timeout=2"},
		{60 * time.Second, "timeout=60"},
	}

	for _, tt := range tests {
		qs := newQueueServer(t, status(http.StatusNoContent))
		client := newTestClient(qs, WithPeekTimeout(tt.timeout))

		if _, err := client.PeekLock(context.Background()); err != nil {
			t.Fatalf("timeout %v: unexpected error: %v", tt.timeout, err)
		}
		if q := qs.last(t).Query; q != tt.want {
			t.Errorf("timeout %v: expected %q, got %q", tt.timeout, tt.want, q)
		}
	}
}

// --- Delete / Unlock / RenewLock ---

func lockedProps() *BrokerProperties {
	return &BrokerProperties{MessageID: String("msg-1"), LockToken: String("lock-1")}
}

func TestSettle_MethodsAndPaths(t *testing.T) {
	tests := []struct {
		name   string
		call   func(*Client, context.Context, *BrokerProperties) error
		method string
	}{
		{"delete", (*Client).Delete, http.MethodDelete},
		{"unlock", (*Client).Unlock, http.MethodPut},
		{"renew", (*Client).RenewLock, http.MethodPost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs := newQueueServer(t, status(http.StatusOK))
			client := newTestClient(qs)

			if err := tt.call(client, context.Background(), lockedProps()); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			req := qs.last(t)
			if req.Method != tt.method {
				t.Errorf("expected %s, got %s", tt.method, req.Method)
			}
			if req.Path != "/testlog/messages/msg-1/lock-1" {
				t.Errorf("unexpected path %s", req.Path)
			}
			if req.Header.Get("Authorization") != "Bearer test-token" {
				t.Errorf("expected bearer header")
			}
		})
	}
}

func TestSettle_StatusMapping(t *testing.T) {
	for _, tt := range []struct {
		code int
		want Kind
	}{
		{http.StatusCreated, KindCommunication},
		{http.StatusGone, KindRequest},
		{http.StatusBadGateway, KindService},
	} {
		qs := newQueueServer(t, status(tt.code))
		client := newTestClient(qs)

		for name, call := range map[string]func(context.Context, *BrokerProperties) error{
			"delete": client.Delete,
			"unlock": client.Unlock,
			"renew":  client.RenewLock,
		} {
			if err := call(context.Background(), lockedProps()); !IsKind(err, tt.want) {
				t.Errorf("%s with status %d: expected %s error, got %v", name, tt.code, tt.want, err)
			}
		}
	}
}

func TestSettle_MissingLockReference(t *testing.T) {
	tests := []struct {
		name  string
		props *BrokerProperties
	}{
		{"nil properties", nil},
		{"no message id", &BrokerProperties{LockToken: String("lock-1")}},
		{"no lock token", &BrokerProperties{MessageID: String("msg-1")}},
		{"empty", &BrokerProperties{}},
	}

	qs := newQueueServer(t, status(http.StatusOK))
	client := newTestClient(qs)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for op, call := range map[string]func(context.Context, *BrokerProperties) error{
				"delete": client.Delete,
				"unlock": client.Unlock,
				"renew":  client.RenewLock,
			} {
				if err := call(context.Background(), tt.props); !IsKind(err, KindRequest) {
					t.Errorf("%s: expected request error, got %v", op, err)
				}
			}
		})
	}

	if n := qs.count(); n != 0 {
		t.Errorf("expected no network calls, got %d", n)
	}
}

func TestPathSegmentsAreEscaped(t *testing.T) {
	qs := newQueueServer(t, status(http.StatusOK))
	client := NewClient(auth.Static("t"), httpclient.New(0), "ns", "my queue", WithEndpoint(qs.URL))

	props := &BrokerProperties{MessageID: String("id/with?chars"), LockToken: String("lock token")}
	if err := client.Delete(context.Background(), props); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := qs.last(t).Path; got != "/my%20queue/messages/id%2Fwith%3Fchars/lock%20token" {
		t.Errorf("unexpected escaped path %s", got)
	}
}

func TestNewClient_DefaultEndpoint(t *testing.T) {
	client := NewClient(auth.Static("t"), httpclient.New(0), "castle-rtestapp", "testlog")
	if got := client.messagesURL(); got != "https://castle-rtestapp.servicebus.windows.net/testlog/messages" {
		t.Errorf("unexpected messages URL %s", got)
	}
}

// --- failure translation ---

type failingAuthenticator struct{ err error }

func (f failingAuthenticator) Authenticate(context.Context, *httpclient.Request) (*httpclient.Request, error) {
	return nil, f.err
}

type failingDoer struct{ calls int }

func (f *failingDoer) Do(context.Context, *httpclient.Request) (*httpclient.Response, error) {
	f.calls++
	return nil, errors.New("dial tcp: connection refused")
}

func TestClient_AuthenticationErrorWrapsAuthError(t *testing.T) {
	authErr := &auth.Error{Kind: auth.KindAcquisition, Status: http.StatusUnauthorized, Msg: "denied"}
	doer := &failingDoer{}
	client := NewClient(failingAuthenticator{err: authErr}, doer, "ns", "q")

	_, err := client.PeekLock(context.Background())
	if !IsKind(err, KindAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	var ae *auth.Error
	if !errors.As(err, &ae) || ae.Status != http.StatusUnauthorized {
		t.Errorf("expected wrapped auth error with status 401, got %v", err)
	}
	if !auth.IsKind(err, auth.KindAcquisition) {
		t.Errorf("expected auth acquisition kind to be reachable")
	}
	if doer.calls != 0 {
		t.Errorf("expected no request after authentication failure, got %d", doer.calls)
	}
}

func TestClient_TransportErrorIsCommunication(t *testing.T) {
	doer := &failingDoer{}
	client := NewClient(auth.Static("t"), doer, "ns", "q")

	if _, err := client.Send(context.Background(), &Message{}); !IsKind(err, KindCommunication) {
		t.Errorf("send: expected communication error, got %v", err)
	}
	if err := client.Delete(context.Background(), lockedProps()); !IsKind(err, KindCommunication) {
		t.Errorf("delete: expected communication error, got %v", err)
	}
	if doer.calls != 2 {
		t.Errorf("expected 2 transport calls, got %d", doer.calls)
	}
}

func TestError_Message(t *testing.T) {
	err := classifyStatus(opDelete, http.StatusNotFound)
	if got := err.Error(); got != "servicebus delete: request error: status 404" {
		t.Errorf("unexpected message %q", got)
	}
}
