package managed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/badgeminter/internal/core/domain"
)

const (
	wallet = "0x2222222222222222222222222222222222222222"
	badge  = "0x00000000000000000000000000000000000000bb"
	player = "0x1111111111111111111111111111111111111111"
)

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{URL: url, AccessToken: "tok", BackendWallet: wallet},
		8453, badge, 5*time.Millisecond, time.Second, nil)
	require.NoError(t, err)
	return c
}

func TestClient_MintMined(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/contract/8453/"+badge+"/write":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			assert.Equal(t, wallet, r.Header.Get("x-backend-wallet-address"))

			var body writeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "mintAchievement", body.FunctionName)
			assert.Equal(t, []string{player, "3", "80", "1"}, body.Args)
			_, _ = w.Write([]byte(`{"result":{"queueId":"q-1"}}`))

		case r.Method == http.MethodGet && r.URL.Path == "/transaction/status/q-1":
			if polls.Add(1) < 2 {
				_, _ = w.Write([]byte(`{"result":{"status":"sent"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"result":{"status":"mined","transactionHash":"0xABC","blockNumber":42,"gasUsed":"51000"}}`))

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	receipt, err := newClient(t, srv.URL).Mint(context.Background(),
		domain.MintRequest{Player: player, TokenID: 3, XP: 80, Season: 1})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", receipt.TxHash)
	assert.Equal(t, uint64(42), receipt.BlockNumber)
	assert.Equal(t, uint64(51000), receipt.GasUsed)
}

func TestClient_MinedWithoutHashKeepsPolling(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"result":{"queueId":"q-3"}}`))
			return
		}
		if polls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"result":{"status":"mined"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":{"status":"mined","transactionHash":"0xDEF","blockNumber":7}}`))
	}))
	defer srv.Close()

	receipt, err := newClient(t, srv.URL).Mint(context.Background(),
		domain.MintRequest{Player: player, TokenID: 1, XP: 30, Season: 1})
	require.NoError(t, err)
	assert.Equal(t, "0xdef", receipt.TxHash)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestClient_MinedWithoutHashTimesOutTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"result":{"queueId":"q-4"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":{"status":"mined"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, AccessToken: "tok", BackendWallet: wallet},
		8453, badge, 5*time.Millisecond, 50*time.Millisecond, nil)
	require.NoError(t, err)

	receipt, err := c.Mint(context.Background(),
		domain.MintRequest{Player: player, TokenID: 1, XP: 30, Season: 1})
	require.Error(t, err)
	assert.Nil(t, receipt)
	assert.False(t, domain.IsPermanentMintError(err))
}

func TestClient_ErroredRevertIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"result":{"queueId":"q-2"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":{"status":"errored","errorMessage":"execution reverted: already minted"}}`))
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).Mint(context.Background(),
		domain.MintRequest{Player: player, TokenID: 1, XP: 30, Season: 1})
	require.Error(t, err)
	assert.True(t, domain.IsPermanentMintError(err))
}

func TestClient_ServiceUnavailableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).Mint(context.Background(),
		domain.MintRequest{Player: player, TokenID: 1, XP: 30, Season: 1})
	require.Error(t, err)

	var me *domain.MintError
	require.ErrorAs(t, err, &me)
	assert.False(t, me.Permanent)
	assert.Equal(t, http.StatusServiceUnavailable, me.Code)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{}, 1, badge, 0, 0, nil)
	assert.Error(t, err)

	_, err = NewClient(Config{URL: "http://x", BackendWallet: "bad"}, 1, badge, 0, 0, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}
