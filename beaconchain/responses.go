package beaconchain

import "encoding/json"

type balanceHistoryParams struct {
	LatestEpoch uint64 `url:"latest_epoch"`
	Offset      uint64 `url:"offset"`
	Limit       uint64 `url:"limit"`
}

// BalanceHistoryEntry is one row of the v1 balance history (gwei-native).
type BalanceHistoryEntry struct {
	Balance          uint64 `json:"balance"`
	EffectiveBalance uint64 `json:"effectivebalance"`
	Epoch            uint64 `json:"epoch"`
	ValidatorIndex   uint64 `json:"validatorindex"`
	Week             uint64 `json:"week"`
}

// V1SlotData is the v1 per-slot record. Status "1" is proposed, "2" missed,
// "3" orphaned.
type V1SlotData struct {
	Epoch           uint64 `json:"epoch"`
	Slot            uint64 `json:"slot"`
	Proposer        uint64 `json:"proposer"`
	Status          string `json:"status"`
	ExecBlockNumber uint64 `json:"exec_block_number"`
}

// V1EpochData is the v1 epoch summary.
type V1EpochData struct {
	Epoch                   uint64  `json:"epoch"`
	Finalized               bool    `json:"finalized"`
	GlobalParticipationRate float64 `json:"globalparticipationrate"`
	ValidatorsCount         uint64  `json:"validatorscount"`
}

// V1WithdrawalEntry is one withdrawal of the v1 epoch withdrawals listing.
type V1WithdrawalEntry struct {
	Epoch          uint64 `json:"epoch"`
	Slot           uint64 `json:"slot"`
	Index          uint64 `json:"index"`
	ValidatorIndex uint64 `json:"validatorindex"`
	Amount         uint64 `json:"amount"`
	Address        string `json:"address"`
}

// V2ValidatorsRequest is the body of the v2 validator POST endpoints.
type V2ValidatorsRequest struct {
	Validator V2ValidatorSelector `json:"validator"`
	Chain     string              `json:"chain"`
	PageSize  uint64              `json:"page_size"`
	Epoch     uint64              `json:"epoch,omitempty"`
}

type V2ValidatorSelector struct {
	ValidatorIdentifiers []uint64 `json:"validator_identifiers"`
}

// V2ValidatorItem is one validator of the v2 listing. Balances are
// wei-denominated strings.
type V2ValidatorItem struct {
	Index    uint64 `json:"index"`
	Status   string `json:"status"`
	Balances struct {
		Current   string `json:"current"`
		Effective string `json:"effective"`
	} `json:"balances"`
}

// V2RewardsListItem is one validator of the v2 rewards listing. Rewards are
// wei-denominated strings and can be negative.
type V2RewardsListItem struct {
	Index       uint64 `json:"index"`
	Attestation struct {
		Total  string      `json:"total"`
		Head   V2RewardRef `json:"head"`
		Source V2RewardRef `json:"source"`
		Target V2RewardRef `json:"target"`
	} `json:"attestation"`
}

type V2RewardRef struct {
	Reward string `json:"reward"`
}

// oneOrMany tolerates the v1 api returning either a single object or a list
// for the same endpoint.
type oneOrMany struct {
	dst *[]V1SlotData
}

func (o *oneOrMany) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '[' {
		return json.Unmarshal(b, o.dst)
	}
	var single V1SlotData
	if err := json.Unmarshal(b, &single); err != nil {
		return err
	}
	*o.dst = []V1SlotData{single}
	return nil
}

type oneOrManyEpoch struct {
	dst *V1EpochData
}

func (o *oneOrManyEpoch) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '[' {
		var list []V1EpochData
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		if len(list) > 0 {
			*o.dst = list[0]
		}
		return nil
	}
	return json.Unmarshal(b, o.dst)
}
