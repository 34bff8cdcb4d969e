package worker

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"instawork/internal/domain"
	"instawork/internal/master"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthServer_ProbedByMaster(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewHealthServer(discardLogger())
	go func() { _ = srv.Serve(lis) }()

	prober := master.NewHealthProber(discardLogger())
	defer prober.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.Eventually(t, func() bool {
		return prober.Probe(ctx, lis.Addr().String()) == nil
	}, 5*time.Second, 50*time.Millisecond)

	srv.Stop()
	assert.Error(t, prober.Probe(ctx, lis.Addr().String()))
}

func TestHealthProber_UnreachableAgent(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	prober := master.NewHealthProber(discardLogger())
	defer prober.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	assert.Error(t, prober.Probe(ctx, addr))
}

func TestAcceptor_Accept(t *testing.T) {
	var gotKey string
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/go/t1", r.URL.Path)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	a := NewAcceptor("secret", time.Second, discardLogger())
	offer := domain.Message{ID: "m1", Kind: domain.MessageOffer, TaskID: "t1", AcceptURL: srv.URL + "/go/t1"}

	ok, err := a.Accept(context.Background(), offer)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "secret", gotKey)

	status = http.StatusConflict
	ok, err = a.Accept(context.Background(), offer)
	require.NoError(t, err)
	assert.False(t, ok)

	status = http.StatusUnauthorized
	_, err = a.Accept(context.Background(), offer)
	assert.Error(t, err)
}

func TestAcceptor_RejectsNotices(t *testing.T) {
	a := NewAcceptor("secret", time.Second, discardLogger())
	_, err := a.Accept(context.Background(), domain.Message{ID: "m1", Kind: domain.MessageNotice})
	assert.Error(t, err)
}
