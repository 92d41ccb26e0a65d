// Package rpc implements the Beacon Node REST adapter. Multiple endpoints can
// be configured; each request is tried against the providers in order until
// one answers, since public providers prune historical state differently.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"eth2-verifier/chain"
	"eth2-verifier/metrics"
	"eth2-verifier/types"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.StandardLogger().WithField("module", "rpc")

const (
	maxRetries   = 3
	retryBackoff = time.Second * 2
)

// Client queries one or more Beacon Node REST providers.
type Client struct {
	endpoints  []string
	httpClient *http.Client
	registry   *chain.Registry
	blockCache *lru.Cache
}

// NewClient creates a Beacon Node adapter for the given providers.
func NewClient(endpoints []string, registry *chain.Registry, timeout time.Duration) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("no rpc endpoints configured")
	}
	if timeout == 0 {
		timeout = time.Second * 30
	}
	client := &Client{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: timeout},
		registry:   registry,
	}
	// withdrawal scans touch all 32 slots of an epoch, proposer checks reuse them
	client.blockCache, _ = lru.New(128)
	return client, nil
}

// Name implements verify.SourceAdapter.
func (c *Client) Name() types.SourceName {
	return types.SourceRpc
}

// get tries all configured providers in order. A 404 from any provider is
// returned immediately as types.ErrNotFound: absence is informative (missed
// slot, pruned state) and must not be retried.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	for _, endpoint := range c.endpoints {
		data, err := c.do(ctx, http.MethodGet, strings.TrimSuffix(endpoint, "/")+path, nil)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		lastErr = err
	}
	return nil, errors.Wrapf(lastErr, "all rpc providers failed for %v", path)
}

func (c *Client) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, endpoint := range c.endpoints {
		data, err := c.do(ctx, http.MethodPost, strings.TrimSuffix(endpoint, "/")+path, payload)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		lastErr = err
	}
	return nil, errors.Wrapf(lastErr, "all rpc providers failed for %v", path)
}

// do performs a single request with bounded retries on transient failures
// (timeouts, 5xx). Other status codes fail immediately.
func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		metrics.ObserveAdapterRequest(string(types.SourceRpc), method, resp.StatusCode, time.Since(start))

		switch {
		case resp.StatusCode == http.StatusOK:
			return data, err
		case resp.StatusCode == http.StatusNotFound:
			return nil, types.ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("url: %v, status: %v, error-response: %s", url, resp.StatusCode, data)
			logger.WithField("url", url).WithField("status", resp.StatusCode).Warn("transient rpc error, retrying")
		default:
			return nil, fmt.Errorf("url: %v, status: %v, error-response: %s", url, resp.StatusCode, data)
		}
	}
	return nil, lastErr
}

// GetBalance returns the validator balance at the first slot of the epoch,
// which is the node's epoch-level balance definition.
func (c *Client) GetBalance(ctx context.Context, validator, epoch uint64) (*types.ValidatorBalanceRecord, error) {
	firstSlot, _ := chain.SlotRange(epoch)
	record, err := c.GetBalanceAtSlot(ctx, validator, firstSlot)
	if err != nil {
		return nil, err
	}
	record.Epoch = epoch
	return record, nil
}

// GetBalanceAtSlot returns the validator balance from the state at a slot.
func (c *Client) GetBalanceAtSlot(ctx context.Context, validator, slot uint64) (*types.ValidatorBalanceRecord, error) {
	parsed, err := c.getValidator(ctx, validator, slot)
	if err != nil {
		return nil, err
	}
	s := slot
	return &types.ValidatorBalanceRecord{
		Source:               types.SourceRpc,
		Epoch:                chain.SlotToEpoch(slot),
		Slot:                 &s,
		BalanceGwei:          uint64(parsed.Data.Balance),
		EffectiveBalanceGwei: uint64(parsed.Data.Validator.EffectiveBalance),
	}, nil
}

// GetStatus returns the validator lifecycle status at the epoch.
func (c *Client) GetStatus(ctx context.Context, validator, epoch uint64) (*types.ValidatorStatus, error) {
	firstSlot, _ := chain.SlotRange(epoch)
	parsed, err := c.getValidator(ctx, validator, firstSlot)
	if err != nil {
		return nil, err
	}
	return &types.ValidatorStatus{
		Category: CoarseStatusCategory(parsed.Data.Status),
		RawLabel: parsed.Data.Status,
	}, nil
}

// GetAttestationRewards returns the head/source/target reward breakdown for
// an epoch. The rewards endpoint only exists on nodes from capella onwards;
// earlier epochs yield an UnsupportedError.
func (c *Client) GetAttestationRewards(ctx context.Context, validator, epoch uint64) (*types.AttestationRewards, error) {
	lookup, err := c.registry.PhaseFor(int64(epoch))
	if err != nil {
		return nil, err
	}
	if epoch < capellaActivation(c.registry) {
		return nil, &types.UnsupportedError{
			Feature: "attestation rewards",
			Phase:   string(lookup.Phase),
			Reason:  "pre-Capella: rewards endpoint not available",
		}
	}

	data, err := c.post(ctx, fmt.Sprintf("/eth/v1/beacon/rewards/attestations/%d", epoch), []string{fmt.Sprintf("%d", validator)})
	if err != nil {
		return nil, err
	}
	var parsed StandardAttestationRewardsResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(err, "error parsing attestation rewards")
	}
	for _, r := range parsed.Data.TotalRewards {
		if uint64(r.ValidatorIndex) == validator {
			return &types.AttestationRewards{
				HeadGwei:   int64(r.Head),
				SourceGwei: int64(r.Source),
				TargetGwei: int64(r.Target),
			}, nil
		}
	}
	return nil, types.ErrNotFound
}

// GetProposer returns the proposer of the block at a slot. A 404 means the
// slot was missed, which is a valid outcome rather than an error.
func (c *Client) GetProposer(ctx context.Context, slot uint64) (*types.ProposerAssignment, error) {
	block, err := c.getBlock(ctx, slot)
	if errors.Is(err, types.ErrNotFound) {
		return &types.ProposerAssignment{Slot: slot, Missed: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &types.ProposerAssignment{
		Slot:           slot,
		ValidatorIndex: uint64(block.Data.Message.ProposerIndex),
	}, nil
}

// GetWithdrawals scans all blocks of an epoch for withdrawals. Missed slots
// are skipped. An empty result is valid and distinct from "not supported".
func (c *Client) GetWithdrawals(ctx context.Context, epoch uint64) ([]types.WithdrawalEvent, error) {
	lookup, err := c.registry.PhaseFor(int64(epoch))
	if err != nil {
		return nil, err
	}
	if !lookup.SupportsWithdrawals {
		return nil, &types.UnsupportedError{
			Feature: "withdrawals",
			Phase:   string(lookup.Phase),
			Reason:  "pre-Capella: no withdrawals possible",
		}
	}

	firstSlot, lastSlot := chain.SlotRange(epoch)
	withdrawals := []types.WithdrawalEvent{}
	for slot := firstSlot; slot <= lastSlot; slot++ {
		block, err := c.getBlock(ctx, slot)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, w := range block.Data.Message.Body.ExecutionPayload.Withdrawals {
			withdrawals = append(withdrawals, types.WithdrawalEvent{
				ValidatorIndex: uint64(w.ValidatorIndex),
				AmountGwei:     uint64(w.Amount),
				Slot:           slot,
			})
		}
	}
	return withdrawals, nil
}

// GetFinality reports finality for an epoch based on the head finality
// checkpoint. Finality is monotonic: the epoch is finalized once the head
// finalized epoch has reached it.
func (c *Client) GetFinality(ctx context.Context, epoch uint64) (*types.FinalityInfo, error) {
	data, err := c.get(ctx, "/eth/v1/beacon/states/head/finality_checkpoints")
	if err != nil {
		return nil, err
	}
	var parsed StandardFinalityCheckpointsResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(err, "error parsing finality checkpoints")
	}
	return &types.FinalityInfo{
		Finalized:      uint64(parsed.Data.Finalized.Epoch) >= epoch,
		FinalizedEpoch: uint64(parsed.Data.Finalized.Epoch),
		JustifiedEpoch: uint64(parsed.Data.CurrentJustified.Epoch),
	}, nil
}

// GetEffectiveBalance returns the effective balance in gwei at the epoch.
func (c *Client) GetEffectiveBalance(ctx context.Context, validator, epoch uint64) (uint64, error) {
	firstSlot, _ := chain.SlotRange(epoch)
	parsed, err := c.getValidator(ctx, validator, firstSlot)
	if err != nil {
		return 0, err
	}
	return uint64(parsed.Data.Validator.EffectiveBalance), nil
}

func (c *Client) getValidator(ctx context.Context, validator, slot uint64) (*StandardValidatorResponse, error) {
	data, err := c.get(ctx, fmt.Sprintf("/eth/v1/beacon/states/%d/validators/%d", slot, validator))
	if err != nil {
		return nil, err
	}
	var parsed StandardValidatorResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(err, "error parsing validator response")
	}
	return &parsed, nil
}

func (c *Client) getBlock(ctx context.Context, slot uint64) (*StandardV2BlockResponse, error) {
	if cached, ok := c.blockCache.Get(slot); ok {
		if cached == nil {
			return nil, types.ErrNotFound
		}
		return cached.(*StandardV2BlockResponse), nil
	}

	data, err := c.get(ctx, fmt.Sprintf("/eth/v2/beacon/blocks/%d", slot))
	if errors.Is(err, types.ErrNotFound) {
		c.blockCache.Add(slot, nil) // missed slots stay missed
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	var parsed StandardV2BlockResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(err, "error parsing block response")
	}
	c.blockCache.Add(slot, &parsed)
	return &parsed, nil
}

// CoarseStatusCategory maps a node status label like "active_ongoing" or
// "withdrawal_possible" to the coarse lifecycle category shared with
// beaconcha.in.
func CoarseStatusCategory(label string) types.StatusCategory {
	switch strings.SplitN(label, "_", 2)[0] {
	case "active":
		return types.CategoryActive
	case "pending":
		return types.CategoryPending
	case "exited":
		return types.CategoryExited
	case "withdrawal":
		return types.CategoryWithdrawal
	}
	return types.CategoryUnknown
}

func capellaActivation(r *chain.Registry) uint64 {
	for _, p := range r.Phases() {
		if p.Phase == chain.Capella {
			return p.StartEpoch
		}
	}
	return 0
}
