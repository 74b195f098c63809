package wallet_test

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/alovak/wallet-playground/internal/walletclient"
	"github.com/alovak/wallet-playground/wallet"
	"github.com/stretchr/testify/require"
)

func TestApp_RestartKeepsState(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.Backend = "file"
	cfg.DataDir = t.TempDir()
	ctx := context.Background()

	app := wallet.NewApp(testLogger(), cfg)
	require.NoError(t, app.Start())

	resp, err := http.Get("http://" + app.Addr + "/-/live")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + app.Addr + "/-/ready")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	client := walletclient.New("http://"+app.Addr, nil)
	acc, err := client.Account(ctx)
	require.NoError(t, err)
	require.Equal(t, "1000", acc.Balance.String())

	_, err = client.AddFunds(ctx, dec("25"))
	require.NoError(t, err)

	// admin routes are not mounted without a token
	resp, err = http.Get("http://" + app.Addr + "/admin/check")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	app.Shutdown()

	// the seed owner is resumed, not registered again
	app = wallet.NewApp(testLogger(), cfg)
	require.NoError(t, app.Start())
	defer app.Shutdown()

	client = walletclient.New("http://"+app.Addr, nil)
	acc, err = client.Account(ctx)
	require.NoError(t, err)
	require.Equal(t, "1025", acc.Balance.String())

	txs, err := client.Transactions(ctx, nil)
	require.NoError(t, err)
	require.Len(t, txs, 1)

	cards, err := client.Cards(ctx)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	require.Equal(t, "1025", cards[0].Balance.String())
}

func TestApp_ShutdownWithEventStream(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPAddr = "127.0.0.1:0"

	app := wallet.NewApp(testLogger(), cfg)
	require.NoError(t, app.Start())

	resp, err := http.Get("http://" + app.Addr + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	done := make(chan struct{})
	go func() {
		app.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown blocked by an open event stream")
	}

	// the stream was ended by the server
	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
}

func TestApp_InvalidBackend(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.Backend = "pg"

	app := wallet.NewApp(testLogger(), cfg)
	require.ErrorContains(t, app.Start(), "DB_DSN")
}
