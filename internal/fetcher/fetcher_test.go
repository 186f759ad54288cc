package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchUsage_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v0/management/usage", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"total_requests":10,"success_count":9,"failure_count":1,"total_tokens":500,"apis":{}}`))
	}))
	defer srv.Close()

	f := New(srv.URL, "secret")
	doc, err := f.FetchUsage(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 10, doc.TotalRequests)
	require.EqualValues(t, 500, doc.TotalTokens)
}

func TestFetchUsage_NonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(srv.URL, "secret")
	_, err := f.FetchUsage(context.Background())
	require.Error(t, err)
}

func TestFetchAuthFiles_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v0/management/auth-files", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("X-Management-Key"))
		w.Write([]byte(`{"files":[{"auth_index":"a1","provider":"gemini","email":"x@y.com"}]}`))
	}))
	defer srv.Close()

	f := New(srv.URL, "secret")
	files, err := f.FetchAuthFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "a1", files[0].AuthIndex)
}
