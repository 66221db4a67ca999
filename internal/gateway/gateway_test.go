package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{BaseURL: server.URL + "/", Timeout: 2 * time.Second}, nil)
	require.NoError(t, err)
	return client
}

func TestLookupCustomerFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/find_customer", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, map[string]string{"customer_name": "Jane Doe"}, body)

		_, _ = w.Write([]byte(`{"customer_found": true, "response": "Found Jane Doe, balance $200"}`))
	}))

	result, err := client.LookupCustomer(context.Background(), "Jane Doe")
	require.NoError(t, err)
	require.True(t, result.Found)
	require.Equal(t, "Found Jane Doe, balance $200", result.Message)
}

func TestLookupCustomerNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"customer_found": false, "response": "I couldn't find loan details"}`))
	}))

	result, err := client.LookupCustomer(context.Background(), "Nobody")
	require.NoError(t, err)
	require.False(t, result.Found)
	require.Equal(t, "I couldn't find loan details", result.Message)
}

func TestSendChatTurnSendsText(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, map[string]string{"text": "I can pay Friday"}, body)
		_, _ = w.Write([]byte(`{"response": "Great, I'll note that."}`))
	}))

	reply, err := client.SendChatTurn(context.Background(), "I can pay Friday")
	require.NoError(t, err)
	require.Equal(t, "Great, I'll note that.", reply.Message)
}

func TestServerErrorOnNon2xx(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"response": "The AI system is currently unavailable."}`))
	}))

	_, err := client.SendChatTurn(context.Background(), "hello")
	require.Error(t, err)

	var serverErr *ServerError
	require.True(t, errors.As(err, &serverErr))
	require.Equal(t, http.StatusInternalServerError, serverErr.Status)
	require.Equal(t, "chat", serverErr.Op)
	require.Equal(t, "The AI system is currently unavailable.", serverErr.Message)

	status, ok := StatusOf(err)
	require.True(t, ok)
	require.Equal(t, 500, status)
	require.False(t, IsNetwork(err))
}

func TestServerErrorFromTupleBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"response": "Error: Loan data not loaded on the server."}, 500]`))
	}))

	_, err := client.LookupCustomer(context.Background(), "Jane Doe")
	var serverErr *ServerError
	require.True(t, errors.As(err, &serverErr))
	require.Equal(t, 500, serverErr.Status)
	require.Contains(t, serverErr.Message, "Loan data not loaded")
}

func TestTupleBodyWithoutErrorStatusDecodesPayload(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"response": "ok then"}]`))
	}))

	reply, err := client.SendChatTurn(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, "ok then", reply.Message)
}

func TestMalformedBodyIsServerError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>proxy error</html>`))
	}))

	_, err := client.SendChatTurn(context.Background(), "hi")
	var serverErr *ServerError
	require.True(t, errors.As(err, &serverErr))
	require.Equal(t, http.StatusOK, serverErr.Status)
	require.Contains(t, err.Error(), "decode response")
}

func TestNetworkErrorWhenBackendDown(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := New(Config{BaseURL: url, Timeout: time.Second}, nil)
	require.NoError(t, err)

	_, err = client.LookupCustomer(context.Background(), "Jane Doe")
	require.Error(t, err)
	require.True(t, IsNetwork(err))
	_, ok := StatusOf(err)
	require.False(t, ok)
}

func TestSessionCookieIsReplayed(t *testing.T) {
	var sawCookie atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/find_customer", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		_, _ = w.Write([]byte(`{"customer_found": true, "response": "located"}`))
	})
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie("session"); err == nil && cookie.Value == "abc" {
			sawCookie.Store(true)
		}
		_, _ = w.Write([]byte(`{"response": "hello"}`))
	})
	client := newTestClient(t, mux)

	_, err := client.LookupCustomer(context.Background(), "Jane")
	require.NoError(t, err)
	_, err = client.SendChatTurn(context.Background(), "hi")
	require.NoError(t, err)
	require.True(t, sawCookie.Load())
}

func TestNewRejectsEmptyBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "  "}, nil)
	require.Error(t, err)
}

func TestPingReportsStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))

	status, err := client.Ping(context.Background())
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, status)
}
