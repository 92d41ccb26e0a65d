// Package beaconchain implements the beaconcha.in adapter. It speaks both
// protocol versions: the v1 api is gwei-native GET endpoints, the v2 api is
// wei-native POST endpoints with json bodies listing validator indices. All
// calls share one process-wide request budget.
package beaconchain

import (
	"bytes"
	"context"
	"encoding/json"
	"eth2-verifier/chain"
	"eth2-verifier/metrics"
	"eth2-verifier/types"
	"eth2-verifier/units"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var logger = logrus.StandardLogger().WithField("module", "beaconchain")

const (
	maxRetries   = 3
	retryBackoff = time.Second * 2
)

// APIError is a non-2xx answer from beaconcha.in.
type APIError struct {
	Code     int
	Message  string
	Endpoint string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("error using endpoint: %s, code: %d, message: %s", e.Endpoint, e.Code, e.Message)
}

// Client queries the beaconcha.in api.
type Client struct {
	baseURL    string
	apiKey     string
	network    string
	httpClient *http.Client
	limiter    *rate.Limiter
	registry   *chain.Registry
}

// NewClient creates a beaconcha.in adapter. requestsPerSecond is the shared
// token budget serializing all calls to the service across the process.
func NewClient(baseURL, apiKey, network string, requestsPerSecond float64, registry *chain.Registry, timeout time.Duration) *Client {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	if timeout == 0 {
		timeout = time.Second * 30
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		network:    network,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		registry:   registry,
	}
}

// Name implements verify.SourceAdapter.
func (c *Client) Name() types.SourceName {
	return types.SourceBeaconchaIn
}

type apiResponse struct {
	Status string          `json:"status,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// get performs a rate-limited v1 GET. queryParams structs are encoded with
// url tags; the api key rides along as a query parameter like the v1 api
// expects.
func (c *Client) get(ctx context.Context, endpoint string, result interface{}, queryParams ...interface{}) error {
	url := c.baseURL + endpoint
	qvs := []string{"apikey=" + c.apiKey}
	for _, qp := range queryParams {
		qv, err := query.Values(qp)
		if err != nil {
			return err
		}
		qvs = append(qvs, qv.Encode())
	}
	url += "?" + strings.Join(qvs, "&")
	return c.do(ctx, http.MethodGet, url, endpoint, nil, result)
}

// post performs a rate-limited v2 POST with the bearer api key header.
func (c *Client) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, c.baseURL+endpoint, endpoint, payload, result)
}

// do issues one request with bounded retries on transient failures. A 429
// blocks until the advertised rate window resets and does not count as a
// failure; a 404 returns types.ErrNotFound immediately.
func (c *Client) do(ctx context.Context, method, url, endpoint string, payload []byte, result interface{}) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if method == http.MethodPost {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		metrics.ObserveAdapterRequest(string(types.SourceBeaconchaIn), method, resp.StatusCode, time.Since(start))

		switch {
		case resp.StatusCode == http.StatusOK:
			if err != nil {
				return err
			}
			r := apiResponse{}
			if err := json.Unmarshal(data, &r); err != nil {
				return errors.Wrapf(err, "error parsing response of %v", endpoint)
			}
			if result != nil && len(r.Data) > 0 {
				if err := json.Unmarshal(r.Data, result); err != nil {
					return errors.Wrapf(err, "error parsing data of %v", endpoint)
				}
			}
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return types.ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests:
			// blocking backoff until the window resets, never surfaced as a failure
			wait := rateWindowReset(resp)
			metrics.AdapterRateLimitWaits.Inc()
			logger.WithField("endpoint", endpoint).WithField("wait", wait).Info("rate limited, blocking until window reset")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			attempt-- // a rate-limit pause is not a failed attempt
		case resp.StatusCode >= 500:
			lastErr = &APIError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data)), Endpoint: endpoint}
			logger.WithField("endpoint", endpoint).WithField("status", resp.StatusCode).Warn("transient beaconcha.in error, retrying")
		default:
			return &APIError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data)), Endpoint: endpoint}
		}
	}
	return lastErr
}

func rateWindowReset(resp *http.Response) time.Duration {
	if reset := resp.Header.Get("ratelimit-reset"); reset != "" {
		if seconds, err := strconv.Atoi(reset); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return time.Second
}

// GetBalance returns the v1 balance history entry for the epoch (gwei-native).
func (c *Client) GetBalance(ctx context.Context, validator, epoch uint64) (*types.ValidatorBalanceRecord, error) {
	var parsed []BalanceHistoryEntry
	err := c.get(ctx, fmt.Sprintf("/api/v1/validator/%d/balancehistory", validator), &parsed, &balanceHistoryParams{
		LatestEpoch: epoch,
		Offset:      0,
		Limit:       1,
	})
	if err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, types.ErrNotFound
	}
	return &types.ValidatorBalanceRecord{
		Source:               types.SourceBeaconchaIn,
		Epoch:                uint64(parsed[0].Epoch),
		BalanceGwei:          uint64(parsed[0].Balance),
		EffectiveBalanceGwei: uint64(parsed[0].EffectiveBalance),
	}, nil
}

// GetBalanceAtSlot is not available on beaconcha.in: the v1 balance api is
// epoch-granular.
func (c *Client) GetBalanceAtSlot(ctx context.Context, validator, slot uint64) (*types.ValidatorBalanceRecord, error) {
	return nil, &types.UnsupportedError{
		Feature: "slot-level balance",
		Phase:   "any",
		Reason:  "beaconcha.in balance history is epoch-granular",
	}
}

// GetStatus returns the validator status from the v2 api.
func (c *Client) GetStatus(ctx context.Context, validator, epoch uint64) (*types.ValidatorStatus, error) {
	item, err := c.getV2Validator(ctx, validator)
	if err != nil {
		return nil, err
	}
	return &types.ValidatorStatus{
		Category: CoarseStatusCategory(item.Status),
		RawLabel: item.Status,
	}, nil
}

// GetAttestationRewards returns the v2 reward breakdown, converted from wei.
// Pre-Altair there is no reward breakdown to ask for.
func (c *Client) GetAttestationRewards(ctx context.Context, validator, epoch uint64) (*types.AttestationRewards, error) {
	lookup, err := c.registry.PhaseFor(int64(epoch))
	if err != nil {
		return nil, err
	}
	if !lookup.SupportsSyncCommittee { // altair introduced the reward breakdown
		return nil, &types.UnsupportedError{
			Feature: "attestation rewards",
			Phase:   string(lookup.Phase),
			Reason:  "pre-Altair: no reward breakdown",
		}
	}

	var parsed []V2RewardsListItem
	err = c.post(ctx, "/api/v2/ethereum/validators/rewards-list", &V2ValidatorsRequest{
		Validator: V2ValidatorSelector{ValidatorIdentifiers: []uint64{validator}},
		Chain:     c.network,
		PageSize:  1,
		Epoch:     epoch,
	}, &parsed)
	if err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, types.ErrNotFound
	}

	att := parsed[0].Attestation
	head, err := units.ParseToGwei(att.Head.Reward, units.BeaconchainV2)
	if err != nil {
		return nil, err
	}
	source, err := units.ParseToGwei(att.Source.Reward, units.BeaconchainV2)
	if err != nil {
		return nil, err
	}
	target, err := units.ParseToGwei(att.Target.Reward, units.BeaconchainV2)
	if err != nil {
		return nil, err
	}
	return &types.AttestationRewards{HeadGwei: head, SourceGwei: source, TargetGwei: target}, nil
}

// GetProposer returns the proposer recorded for a slot. beaconcha.in keeps
// the assigned proposer even for missed slots, with the slot marked missed.
func (c *Client) GetProposer(ctx context.Context, slot uint64) (*types.ProposerAssignment, error) {
	var parsed []V1SlotData
	err := c.get(ctx, fmt.Sprintf("/api/v1/slot/%d", slot), &oneOrMany{&parsed})
	if err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, types.ErrNotFound
	}
	return &types.ProposerAssignment{
		Slot:           slot,
		ValidatorIndex: uint64(parsed[0].Proposer),
		Missed:         parsed[0].Status == "2",
	}, nil
}

// GetWithdrawals returns the withdrawals of an epoch from the v1 api.
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

	var parsed []V1WithdrawalEntry
	err = c.get(ctx, fmt.Sprintf("/api/v1/epoch/%d/withdrawals", epoch), &parsed)
	if err != nil {
		return nil, err
	}
	withdrawals := make([]types.WithdrawalEvent, 0, len(parsed))
	for _, w := range parsed {
		withdrawals = append(withdrawals, types.WithdrawalEvent{
			ValidatorIndex: uint64(w.ValidatorIndex),
			AmountGwei:     uint64(w.Amount),
			Slot:           uint64(w.Slot),
		})
	}
	return withdrawals, nil
}

// GetFinality returns the v1 epoch summary finality flag.
func (c *Client) GetFinality(ctx context.Context, epoch uint64) (*types.FinalityInfo, error) {
	var parsed V1EpochData
	err := c.get(ctx, fmt.Sprintf("/api/v1/epoch/%d", epoch), &oneOrManyEpoch{&parsed})
	if err != nil {
		return nil, err
	}
	return &types.FinalityInfo{Finalized: parsed.Finalized}, nil
}

// GetEffectiveBalance returns the v2 effective balance, converted from wei.
func (c *Client) GetEffectiveBalance(ctx context.Context, validator, epoch uint64) (uint64, error) {
	item, err := c.getV2Validator(ctx, validator)
	if err != nil {
		return 0, err
	}
	gwei, err := units.ParseToGwei(item.Balances.Effective, units.BeaconchainV2)
	if err != nil {
		return 0, err
	}
	if gwei < 0 {
		return 0, &units.UnitConversionError{Value: item.Balances.Effective, Unit: units.Wei, Reason: "negative effective balance"}
	}
	return uint64(gwei), nil
}

func (c *Client) getV2Validator(ctx context.Context, validator uint64) (*V2ValidatorItem, error) {
	var parsed []V2ValidatorItem
	err := c.post(ctx, "/api/v2/ethereum/validators", &V2ValidatorsRequest{
		Validator: V2ValidatorSelector{ValidatorIdentifiers: []uint64{validator}},
		Chain:     c.network,
		PageSize:  1,
	}, &parsed)
	if err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, types.ErrNotFound
	}
	return &parsed[0], nil
}

// CoarseStatusCategory maps a beaconcha.in status label like "active_online"
// or "withdrawn" to the coarse lifecycle category shared with the node.
func CoarseStatusCategory(label string) types.StatusCategory {
	switch strings.SplitN(label, "_", 2)[0] {
	case "active":
		return types.CategoryActive
	case "pending", "deposited":
		return types.CategoryPending
	case "exited", "slashed":
		return types.CategoryExited
	case "withdrawal", "withdrawn":
		return types.CategoryWithdrawal
	}
	return types.CategoryUnknown
}
