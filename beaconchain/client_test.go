package beaconchain

import (
	"context"
	"encoding/json"
	"errors"
	"eth2-verifier/chain"
	"eth2-verifier/types"
	"eth2-verifier/units"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	registry, err := chain.NewRegistry("mainnet")
	require.NoError(t, err)
	// generous request budget so tests never wait on the limiter
	return NewClient(srv.URL, "test-key", "ethereum", 1000, registry, time.Second*5), srv
}

func writeData(t *testing.T, w http.ResponseWriter, data interface{}) {
	t.Helper()
	require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{"status": "OK", "data": data}))
}

func TestGetBalance(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/validator/999/balancehistory", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		assert.Equal(t, "350000", r.URL.Query().Get("latest_epoch"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		writeData(t, w, []BalanceHistoryEntry{{Balance: 32_050_123_456, EffectiveBalance: 32_000_000_000, Epoch: 350000, ValidatorIndex: 999}})
	}))

	record, err := client.GetBalance(context.Background(), 999, 350000)
	require.NoError(t, err)
	assert.Equal(t, types.SourceBeaconchaIn, record.Source)
	assert.Equal(t, uint64(32_050_123_456), record.BalanceGwei)
	assert.Equal(t, uint64(350000), record.Epoch)
}

func TestGetBalanceNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))

	_, err := client.GetBalance(context.Background(), 999, 350000)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestGetBalanceAtSlotUnsupported(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	_, err := client.GetBalanceAtSlot(context.Background(), 999, 100)
	var unsupported *types.UnsupportedError
	assert.ErrorAs(t, err, &unsupported)
}

func TestGetStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/ethereum/validators", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body V2ValidatorsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []uint64{999}, body.Validator.ValidatorIdentifiers)
		assert.Equal(t, "ethereum", body.Chain)

		writeData(t, w, []map[string]interface{}{{
			"index":    999,
			"status":   "active_online",
			"balances": map[string]string{"current": "32000000000000000000", "effective": "32000000000000000000"},
		}})
	}))

	status, err := client.GetStatus(context.Background(), 999, 350000)
	require.NoError(t, err)
	assert.Equal(t, types.CategoryActive, status.Category)
	assert.Equal(t, "active_online", status.RawLabel)
}

func TestGetEffectiveBalanceWeiConversion(t *testing.T) {
	effective := "32000000000000000000" // 32 ETH in wei
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(t, w, []map[string]interface{}{{
			"index":    999,
			"status":   "active_online",
			"balances": map[string]string{"current": effective, "effective": effective},
		}})
	}))

	gwei, err := client.GetEffectiveBalance(context.Background(), 999, 350000)
	require.NoError(t, err)
	assert.Equal(t, uint64(32_000_000_000), gwei)

	// sub-gwei residue marks a corrupted value, not a roundable one
	effective = "32000000000000000123"
	_, err = client.GetEffectiveBalance(context.Background(), 999, 350000)
	var conversion *units.UnitConversionError
	assert.ErrorAs(t, err, &conversion)
}

func TestGetAttestationRewards(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/ethereum/validators/rewards-list", r.URL.Path)
		writeData(t, w, []map[string]interface{}{{
			"index": 999,
			"attestation": map[string]interface{}{
				"total":  "14000000000000",
				"head":   map[string]string{"reward": "3000000000000"},
				"source": map[string]string{"reward": "-4000000000000"},
				"target": map[string]string{"reward": "15000000000000"},
			},
		}})
	}))

	rewards, err := client.GetAttestationRewards(context.Background(), 999, 350000)
	require.NoError(t, err)
	assert.Equal(t, int64(3_000), rewards.HeadGwei)
	assert.Equal(t, int64(-4_000), rewards.SourceGwei)
	assert.Equal(t, int64(15_000), rewards.TargetGwei)
	assert.Equal(t, int64(14_000), rewards.Total())
}

func TestGetAttestationRewardsPreAltair(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	_, err := client.GetAttestationRewards(context.Background(), 999, 50)
	var unsupported *types.UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "phase0", unsupported.Phase)
}

func TestGetProposer(t *testing.T) {
	// the v1 slot endpoint answers with a bare object, not a list
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/slot/11200000", r.URL.Path)
		writeData(t, w, V1SlotData{Epoch: 350000, Slot: 11200000, Proposer: 777, Status: "1"})
	}))

	proposer, err := client.GetProposer(context.Background(), 11200000)
	require.NoError(t, err)
	assert.Equal(t, uint64(777), proposer.ValidatorIndex)
	assert.False(t, proposer.Missed)
}

func TestGetProposerMissedSlot(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(t, w, []V1SlotData{{Slot: 11200000, Proposer: 777, Status: "2"}})
	}))

	proposer, err := client.GetProposer(context.Background(), 11200000)
	require.NoError(t, err)
	assert.True(t, proposer.Missed)
}

func TestGetWithdrawals(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/epoch/350000/withdrawals", r.URL.Path)
		writeData(t, w, []V1WithdrawalEntry{
			{Epoch: 350000, Slot: 11200007, ValidatorIndex: 999, Amount: 9_000_000},
			{Epoch: 350000, Slot: 11200009, ValidatorIndex: 7, Amount: 12_345},
		})
	}))

	withdrawals, err := client.GetWithdrawals(context.Background(), 350000)
	require.NoError(t, err)
	require.Len(t, withdrawals, 2)
	assert.Equal(t, uint64(9_000_000), withdrawals[0].AmountGwei)
	assert.Equal(t, uint64(999), withdrawals[0].ValidatorIndex)
}

func TestGetWithdrawalsPreCapella(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	_, err := client.GetWithdrawals(context.Background(), 150000)
	var unsupported *types.UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "bellatrix", unsupported.Phase)
}

func TestGetFinality(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/epoch/350000", r.URL.Path)
		writeData(t, w, V1EpochData{Epoch: 350000, Finalized: true})
	}))

	finality, err := client.GetFinality(context.Background(), 350000)
	require.NoError(t, err)
	assert.True(t, finality.Finalized)
}

func TestRetryOnServerError(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		writeData(t, w, V1EpochData{Epoch: 350000, Finalized: true})
	}))

	finality, err := client.GetFinality(context.Background(), 350000)
	require.NoError(t, err)
	assert.True(t, finality.Finalized)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))

	_, err := client.GetFinality(context.Background(), 350000)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRateLimitBlocksUntilReset(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("ratelimit-reset", "1")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		writeData(t, w, V1EpochData{Epoch: 350000, Finalized: true})
	}))

	start := time.Now()
	finality, err := client.GetFinality(context.Background(), 350000)
	require.NoError(t, err)
	assert.True(t, finality.Finalized)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestRateLimitRespectsContext(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ratelimit-reset", "30")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.GetFinality(ctx, 350000)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCoarseStatusCategory(t *testing.T) {
	tests := []struct {
		label string
		want  types.StatusCategory
	}{
		{"active_online", types.CategoryActive},
		{"active_offline", types.CategoryActive},
		{"pending", types.CategoryPending},
		{"deposited", types.CategoryPending},
		{"exited", types.CategoryExited},
		{"slashed", types.CategoryExited},
		{"withdrawal_possible", types.CategoryWithdrawal},
		{"withdrawn", types.CategoryWithdrawal},
		{"something_new", types.CategoryUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CoarseStatusCategory(tt.label), tt.label)
	}
}
