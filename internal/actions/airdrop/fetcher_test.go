package airdrop

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestHTTPFetcherReturnsAddresses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method %s", r.Method)
		}
		_, _ = w.Write([]byte(`["0x1111111111111111111111111111111111111111","0x2222222222222222222222222222222222222222"]`))
	}))
	defer srv.Close()

	got, err := NewHTTPFetcher(time.Second).FetchAddresses(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	want := []common.Address{
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d addresses, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("address %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestHTTPFetcherFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{name: "status", status: http.StatusNotFound, body: "missing", message: "HTTP error! status: 404"},
		{name: "not json", status: http.StatusOK, body: "<html>", message: "decode address list"},
		{name: "not an array", status: http.StatusOK, body: `{"a":1}`, message: "decode address list"},
		{name: "bad entry", status: http.StatusOK, body: `["0x1111111111111111111111111111111111111111","bob"]`, message: `entry 1 is not an address: "bob"`},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewHTTPFetcher(time.Second).FetchAddresses(context.Background(), srv.URL)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.Is(err, ErrFetch) {
				t.Fatalf("expected fetch error, got %v", err)
			}
			if !strings.HasPrefix(err.Error(), tc.message) {
				t.Fatalf("expected message %q, got %q", tc.message, err.Error())
			}
		})
	}
}

func TestHTTPFetcherEmptyList(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	got, err := NewHTTPFetcher(0).FetchAddresses(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
}
