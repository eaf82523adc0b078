package client

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestGatewayBotParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v6/gateway/bot" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bot tok" {
			t.Errorf("unexpected authorization header: %s", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"url":"wss://gateway.discord.gg","shards":4,"session_start_limit":{"total":1000,"remaining":999,"reset_after":1000,"max_concurrency":1}}`))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}

	c := NewClient("tok")
	c.URLHost = u.Host
	c.URLScheme = u.Scheme

	resp, err := c.GatewayBot()
	if err != nil {
		t.Fatalf("GatewayBot: %v", err)
	}
	if resp.Shards != 4 || resp.SessionLimit.MaxConcurrency != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleRequestRejectsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	c := NewClient("bad")
	c.URLHost = u.Host
	c.URLScheme = u.Scheme

	req, _ := http.NewRequest(http.MethodGet, "/gateway/bot", nil)
	if _, err := c.HandleRequest(req); err == nil {
		t.Fatalf("expected an error for a 401 response")
	}
}
