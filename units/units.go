// Package units normalizes balance and reward values between the two data
// sources. Beacon Node RPC responses are gwei-native; the beaconcha.in v1 api
// is gwei-native while v2 is wei-native. Wei amounts exceed uint64 range, so
// they are carried as decimals until conversion.
package units

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Unit is a balance denomination.
type Unit string

const (
	Wei  Unit = "wei"
	Gwei Unit = "gwei"
)

// SourceVersion tags which api protocol version produced a value. Units must
// be derived from the version tag, never inferred from magnitude: magnitude
// inference breaks for validators with very small or very large balances.
type SourceVersion string

const (
	BeaconchainV1 SourceVersion = "v1"
	BeaconchainV2 SourceVersion = "v2"
	RpcNative     SourceVersion = "rpc"
)

var gweiFactor = decimal.NewFromInt(1_000_000_000)

// UnitConversionError signals unexpected precision or magnitude in a source
// value, e.g. sub-gwei wei amounts. That indicates a source-side anomaly and
// must be reported, not silently rounded away.
type UnitConversionError struct {
	Value  string
	Unit   Unit
	Reason string
}

func (e *UnitConversionError) Error() string {
	return fmt.Sprintf("cannot convert %v %v to gwei: %v", e.Value, e.Unit, e.Reason)
}

// ForVersion returns the native unit of a source protocol version.
func ForVersion(v SourceVersion) Unit {
	if v == BeaconchainV2 {
		return Wei
	}
	return Gwei
}

// ToGwei converts a value in the given unit to whole gwei. Wei values must be
// an exact multiple of 1e9; a remainder means the source returned sub-gwei
// precision and yields a UnitConversionError.
func ToGwei(value decimal.Decimal, unit Unit) (int64, error) {
	switch unit {
	case Gwei:
		if !isWhole(value) {
			return 0, &UnitConversionError{Value: value.String(), Unit: unit, Reason: "fractional gwei amount"}
		}
		return value.IntPart(), nil
	case Wei:
		q, r := value.QuoRem(gweiFactor, 0)
		if !r.IsZero() {
			return 0, &UnitConversionError{Value: value.String(), Unit: unit, Reason: "sub-gwei remainder"}
		}
		return q.IntPart(), nil
	}
	return 0, &UnitConversionError{Value: value.String(), Unit: unit, Reason: "unknown unit"}
}

// ParseToGwei parses a source-provided numeric string and converts it to
// gwei using the unit implied by the source version tag.
func ParseToGwei(raw string, v SourceVersion) (int64, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, &UnitConversionError{Value: raw, Unit: ForVersion(v), Reason: err.Error()}
	}
	return ToGwei(value, ForVersion(v))
}

// ToWei returns the wei representation of a gwei amount.
func ToWei(gwei int64) decimal.Decimal {
	return decimal.NewFromInt(gwei).Mul(gweiFactor)
}

func isWhole(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(0))
}
