package rpc

import (
	"context"
	"eth2-verifier/chain"
	"eth2-verifier/types"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handlers ...http.Handler) *Client {
	t.Helper()
	endpoints := make([]string, 0, len(handlers))
	for _, h := range handlers {
		srv := httptest.NewServer(h)
		t.Cleanup(srv.Close)
		endpoints = append(endpoints, srv.URL)
	}

	registry, err := chain.NewRegistry("mainnet")
	require.NoError(t, err)
	client, err := NewClient(endpoints, registry, time.Second*5)
	require.NoError(t, err)
	return client
}

func validatorJSON(balance, effective uint64, status string) string {
	return fmt.Sprintf(`{"data":{"index":"999","balance":"%d","status":"%s","validator":{"pubkey":"0xab","effective_balance":"%d","slashed":false,"activation_epoch":"0","exit_epoch":"18446744073709551615"}}}`,
		balance, status, effective)
}

func blockJSON(slot, proposer uint64, withdrawals string) string {
	return fmt.Sprintf(`{"version":"deneb","data":{"message":{"slot":"%d","proposer_index":"%d","body":{"execution_payload":{"block_number":"123","withdrawals":[%s]}}}}}`,
		slot, proposer, withdrawals)
}

func TestNewClientRequiresEndpoints(t *testing.T) {
	registry, err := chain.NewRegistry("mainnet")
	require.NoError(t, err)

	_, err = NewClient(nil, registry, time.Second)
	assert.Error(t, err)
}

func TestGetBalanceAtSlot(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/eth/v1/beacon/states/11200000/validators/999", r.URL.Path)
		fmt.Fprint(w, validatorJSON(32_050_123_456, 32_000_000_000, "active_ongoing"))
	}))

	record, err := client.GetBalanceAtSlot(context.Background(), 999, 11200000)
	require.NoError(t, err)
	assert.Equal(t, types.SourceRpc, record.Source)
	assert.Equal(t, uint64(32_050_123_456), record.BalanceGwei)
	assert.Equal(t, uint64(32_000_000_000), record.EffectiveBalanceGwei)
	require.NotNil(t, record.Slot)
	assert.Equal(t, uint64(11200000), *record.Slot)
	assert.Equal(t, uint64(350000), record.Epoch)
}

func TestGetBalanceUsesFirstSlotOfEpoch(t *testing.T) {
	var requestedPath string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		fmt.Fprint(w, validatorJSON(32_000_000_000, 32_000_000_000, "active_ongoing"))
	}))

	record, err := client.GetBalance(context.Background(), 999, 350000)
	require.NoError(t, err)
	assert.Equal(t, "/eth/v1/beacon/states/11200000/validators/999", requestedPath)
	assert.Equal(t, uint64(350000), record.Epoch)
}

func TestGetStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, validatorJSON(32_000_000_000, 32_000_000_000, "active_ongoing"))
	}))

	status, err := client.GetStatus(context.Background(), 999, 350000)
	require.NoError(t, err)
	assert.Equal(t, types.CategoryActive, status.Category)
	assert.Equal(t, "active_ongoing", status.RawLabel)
}

func TestProviderFallback(t *testing.T) {
	var firstCalls int32
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&firstCalls, 1)
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	working := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, validatorJSON(32_000_000_000, 32_000_000_000, "active_ongoing"))
	})

	client := newTestClient(t, failing, working)
	record, err := client.GetBalanceAtSlot(context.Background(), 999, 11200000)
	require.NoError(t, err)
	assert.Equal(t, uint64(32_000_000_000), record.BalanceGwei)
	assert.Equal(t, int32(1), atomic.LoadInt32(&firstCalls))
}

func TestNotFoundStopsProviderFallback(t *testing.T) {
	var secondCalls int32
	pruned := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "state not found", http.StatusNotFound)
	})
	other := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&secondCalls, 1)
		fmt.Fprint(w, validatorJSON(32_000_000_000, 32_000_000_000, "active_ongoing"))
	})

	client := newTestClient(t, pruned, other)
	_, err := client.GetBalanceAtSlot(context.Background(), 999, 11200000)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, int32(0), atomic.LoadInt32(&secondCalls))
}

func TestGetProposerMissedSlot(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "block not found", http.StatusNotFound)
	}))

	proposer, err := client.GetProposer(context.Background(), 11200000)
	require.NoError(t, err)
	assert.True(t, proposer.Missed)
}

func TestGetProposer(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/eth/v2/beacon/blocks/11200000", r.URL.Path)
		fmt.Fprint(w, blockJSON(11200000, 777, ""))
	}))

	proposer, err := client.GetProposer(context.Background(), 11200000)
	require.NoError(t, err)
	assert.False(t, proposer.Missed)
	assert.Equal(t, uint64(777), proposer.ValidatorIndex)
}

func TestGetWithdrawalsScansEpochSlots(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var slot uint64
		_, err := fmt.Sscanf(r.URL.Path, "/eth/v2/beacon/blocks/%d", &slot)
		require.NoError(t, err)

		switch slot {
		case 11200007:
			fmt.Fprint(w, blockJSON(slot, 1, `{"index":"1","validator_index":"999","address":"0xcd","amount":"9000000"}`))
		case 11200013:
			// missed slot
			http.Error(w, "block not found", http.StatusNotFound)
		default:
			fmt.Fprint(w, blockJSON(slot, 1, ""))
		}
	}))

	withdrawals, err := client.GetWithdrawals(context.Background(), 350000)
	require.NoError(t, err)
	require.Len(t, withdrawals, 1)
	assert.Equal(t, uint64(999), withdrawals[0].ValidatorIndex)
	assert.Equal(t, uint64(9_000_000), withdrawals[0].AmountGwei)
	assert.Equal(t, uint64(11200007), withdrawals[0].Slot)
	assert.Equal(t, int32(chain.SlotsPerEpoch), atomic.LoadInt32(&calls))

	// a second scan of the same epoch is served from the block cache
	_, err = client.GetWithdrawals(context.Background(), 350000)
	require.NoError(t, err)
	assert.Equal(t, int32(chain.SlotsPerEpoch), atomic.LoadInt32(&calls))
}

func TestGetWithdrawalsPreCapella(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	_, err := client.GetWithdrawals(context.Background(), 150000)
	var unsupported *types.UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "bellatrix", unsupported.Phase)
}

func TestGetAttestationRewards(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/eth/v1/beacon/rewards/attestations/350000", r.URL.Path)
		fmt.Fprint(w, `{"data":{"total_rewards":[{"validator_index":"999","head":"3000","target":"15000","source":"-4000"}]}}`)
	}))

	rewards, err := client.GetAttestationRewards(context.Background(), 999, 350000)
	require.NoError(t, err)
	assert.Equal(t, int64(3_000), rewards.HeadGwei)
	assert.Equal(t, int64(-4_000), rewards.SourceGwei)
	assert.Equal(t, int64(15_000), rewards.TargetGwei)
}

func TestGetAttestationRewardsPreCapella(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	_, err := client.GetAttestationRewards(context.Background(), 999, 100000)
	var unsupported *types.UnsupportedError
	assert.ErrorAs(t, err, &unsupported)
}

func TestGetFinality(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/eth/v1/beacon/states/head/finality_checkpoints", r.URL.Path)
		fmt.Fprint(w, `{"data":{"previous_justified":{"epoch":"419997","root":"0x01"},"current_justified":{"epoch":"419998","root":"0x02"},"finalized":{"epoch":"419997","root":"0x03"}}}`)
	}))

	finality, err := client.GetFinality(context.Background(), 350000)
	require.NoError(t, err)
	assert.True(t, finality.Finalized)
	assert.Equal(t, uint64(419997), finality.FinalizedEpoch)
	assert.Equal(t, uint64(419998), finality.JustifiedEpoch)

	// the node has not finalized this far yet
	recent, err := client.GetFinality(context.Background(), 419999)
	require.NoError(t, err)
	assert.False(t, recent.Finalized)
}

func TestCoarseStatusCategory(t *testing.T) {
	tests := []struct {
		label string
		want  types.StatusCategory
	}{
		{"active_ongoing", types.CategoryActive},
		{"active_exiting", types.CategoryActive},
		{"pending_queued", types.CategoryPending},
		{"exited_unslashed", types.CategoryExited},
		{"withdrawal_done", types.CategoryWithdrawal},
		{"mystery", types.CategoryUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CoarseStatusCategory(tt.label), tt.label)
	}
}
