package cli

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/badgeminter/internal/core/domain"
	"github.com/vietddude/badgeminter/internal/infra/storage/memory"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestRequestRecovery_ManualRange(t *testing.T) {
	var gotMethod, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "/admin/recover", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"from_block":10,"to_block":20,"found":2}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := requestRecovery(context.Background(), &out, srv.URL, true, 10, 20, time.Second)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "from=10&to=20", gotQuery)
	assert.Contains(t, out.String(), `"found": 2`)
}

func TestRequestRecovery_Checkpoint(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"found":0}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, requestRecovery(context.Background(), &out, srv.URL, false, 0, 0, time.Second))
	assert.Empty(t, gotQuery)
}

func TestRequestRecovery_AlreadyRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"skipped":true}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, requestRecovery(context.Background(), &out, srv.URL, false, 0, 0, time.Second))
	assert.Contains(t, out.String(), "already running")
}

func TestRequestRecovery_BadRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid block range"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := requestRecovery(context.Background(), &out, srv.URL, true, 20, 10, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid block range")
}

func TestPrintStats(t *testing.T) {
	ctx := context.Background()
	store, _ := memory.NewStore()

	_, err := store.Attempts.Insert(ctx, &domain.Attempt{
		PlayerAddress: "0x1111111111111111111111111111111111111111",
		RunID:         "run-1",
		XPEarned:      30,
		Season:        1,
		Status:        domain.AttemptStatusPending,
	})
	require.NoError(t, err)
	require.NoError(t, store.MissedEvents.InsertBatch(ctx, []*domain.MissedEvent{{TxHash: "0xabc", BlockNumber: 5}}))
	require.NoError(t, store.Checkpoints.Save(ctx, "run_completed", 42))

	var out bytes.Buffer
	require.NoError(t, printStats(ctx, &out, store, "run_completed"))

	text := out.String()
	assert.Contains(t, text, "pending")
	assert.Contains(t, text, "unprocessed missed events: 1")
	assert.Contains(t, text, "checkpoint run_completed: 42")
}

func TestPrintStats_NoCheckpoint(t *testing.T) {
	store, _ := memory.NewStore()

	var out bytes.Buffer
	require.NoError(t, printStats(context.Background(), &out, store, "run_completed"))
	assert.Contains(t, out.String(), "checkpoint run_completed: not set")
}
