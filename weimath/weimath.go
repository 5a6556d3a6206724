// Package weimath converts between the decimal-ether strings used at
// message boundaries and the integer base units ("wei") that all channel
// and settlement arithmetic operates on. Nothing outside this package
// should ever touch a floating-point number for money.
package weimath

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/agentcasino/channel/casinoerr"
)

// decimals is the number of base-unit digits per whole ether, mirroring the
// EVM's 18-decimal wei convention the settlement contract is modeled on.
const decimals = 18

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil)

// rawWeiMinLen is the minimum digit length (with no decimal point) above
// which a bare integer string is interpreted as already being wei rather
// than whole ether. Eleven or more digits is >= 1e10 wei (0.00000001
// ether), well below any plausible whole-ether deposit, so it disambiguates "5" (5
// ether) from "5000000000000000000" (5 ether in wei).
const rawWeiMinLen = 10

// ToWei parses s per the documented policy and returns the integer wei
// value. s may be:
//   - a decimal string with up to 18 fractional digits ("0.001"), or
//   - a non-negative integer string with no decimal point and length <=
//     rawWeiMinLen, treated as whole ether ("5" -> 5 ether), or
//   - a non-negative integer string with no decimal point and length >
//     rawWeiMinLen, treated as an already-integer wei amount.
//
// Anything else — negative amounts, malformed numbers, more than 18
// fractional digits — fails with a Validation error.
func ToWei(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, casinoerr.NewValidation("weimath: empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, casinoerr.NewValidation("weimath: negative amount %q", s)
	}

	if !strings.Contains(s, ".") {
		if _, ok := new(big.Int).SetString(s, 10); !ok {
			return nil, casinoerr.NewValidation("weimath: invalid integer amount %q", s)
		}
		if len(s) > rawWeiMinLen {
			wei, _ := new(big.Int).SetString(s, 10)
			return wei, nil
		}
		etherInt, _ := new(big.Int).SetString(s, 10)
		return new(big.Int).Mul(etherInt, weiPerEther), nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, casinoerr.NewValidation("weimath: invalid decimal amount %q: %v", s, err)
	}
	if d.IsNegative() {
		return nil, casinoerr.NewValidation("weimath: negative amount %q", s)
	}
	if -d.Exponent() > decimals {
		return nil, casinoerr.NewValidation("weimath: amount %q has more than %d fractional digits", s, decimals)
	}
	wei := d.Shift(decimals).BigInt()
	return wei, nil
}

// ToDecimal renders wei as a decimal-ether string with no trailing zeros
// beyond what's needed ("1000000000000000000" -> "1",
// "1500000000000000" -> "0.0015"). Display-only: never feed the result back
// into integer arithmetic except by round-tripping through ToWei.
func ToDecimal(wei *big.Int) string {
	return decimal.NewFromBigInt(wei, -decimals).String()
}
