package direct

import "math/big"

// ComputeFee splits amount into the spread fee and the net payout at feeBps
// basis points out of 10,000, flooring the fee. fee + net always equals the
// supplied amount.
func ComputeFee(amount *big.Int, feeBps uint32) (fee, net *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	fee = new(big.Int).Mul(amount, big.NewInt(int64(feeBps)))
	fee.Div(fee, big.NewInt(feeDenominator))
	net = new(big.Int).Sub(amount, fee)
	return fee, net
}
