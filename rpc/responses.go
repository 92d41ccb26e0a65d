package rpc

import (
	"errors"
	"strconv"
)

type uint64Str uint64

func (s *uint64Str) UnmarshalJSON(b []byte) error {
	return uint64Unmarshal((*uint64)(s), b)
}

type int64Str int64

func (s *int64Str) UnmarshalJSON(b []byte) error {
	b = unquote(b)
	if len(b) == 0 {
		return errors.New("empty int64 input")
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*s = int64Str(n)
	return nil
}

// Parse a uint64, with or without quotes, in any base, with common prefixes accepted to change base.
func uint64Unmarshal(v *uint64, b []byte) error {
	if v == nil {
		return errors.New("nil dest in uint64 decoding")
	}
	b = unquote(b)
	if len(b) == 0 {
		return errors.New("empty uint64 input")
	}
	n, err := strconv.ParseUint(string(b), 0, 64)
	if err != nil {
		return err
	}
	*v = n
	return nil
}

func unquote(b []byte) []byte {
	if len(b) >= 2 && (b[0] == '"' || b[0] == '\'') && b[len(b)-1] == b[0] {
		return b[1 : len(b)-1]
	}
	return b
}

type StandardValidatorResponse struct {
	Data struct {
		Index     uint64Str `json:"index"`
		Balance   uint64Str `json:"balance"`
		Status    string    `json:"status"`
		Validator struct {
			Pubkey           string    `json:"pubkey"`
			EffectiveBalance uint64Str `json:"effective_balance"`
			Slashed          bool      `json:"slashed"`
			ActivationEpoch  uint64Str `json:"activation_epoch"`
			ExitEpoch        uint64Str `json:"exit_epoch"`
		} `json:"validator"`
	} `json:"data"`
}

type StandardWithdrawal struct {
	Index          uint64Str `json:"index"`
	ValidatorIndex uint64Str `json:"validator_index"`
	Address        string    `json:"address"`
	Amount         uint64Str `json:"amount"`
}

type StandardV2BlockResponse struct {
	Version string `json:"version"`
	Data    struct {
		Message struct {
			Slot          uint64Str `json:"slot"`
			ProposerIndex uint64Str `json:"proposer_index"`
			Body          struct {
				ExecutionPayload struct {
					BlockNumber uint64Str            `json:"block_number"`
					Withdrawals []StandardWithdrawal `json:"withdrawals"`
				} `json:"execution_payload"`
			} `json:"body"`
		} `json:"message"`
	} `json:"data"`
}

type StandardAttestationRewardsResponse struct {
	Data struct {
		TotalRewards []struct {
			ValidatorIndex uint64Str `json:"validator_index"`
			Head           int64Str  `json:"head"`
			Target         int64Str  `json:"target"`
			Source         int64Str  `json:"source"`
			InclusionDelay int64Str  `json:"inclusion_delay,omitempty"`
		} `json:"total_rewards"`
	} `json:"data"`
}

type StandardFinalityCheckpointsResponse struct {
	Data struct {
		PreviousJustified struct {
			Epoch uint64Str `json:"epoch"`
			Root  string    `json:"root"`
		} `json:"previous_justified"`
		CurrentJustified struct {
			Epoch uint64Str `json:"epoch"`
			Root  string    `json:"root"`
		} `json:"current_justified"`
		Finalized struct {
			Epoch uint64Str `json:"epoch"`
			Root  string    `json:"root"`
		} `json:"finalized"`
	} `json:"data"`
}
