package direct

import (
	"math/big"
	"testing"
)

func TestComputeFee(t *testing.T) {
	cases := []struct {
		name    string
		amount  int64
		feeBps  uint32
		wantFee string
		wantNet string
	}{
		{"quarter percent", 1000, 25, "2", "998"},
		{"typical spread", 1000, 250, "25", "975"},
		{"round amount", 10000, 250, "250", "9750"},
		{"max fee", 10000, 500, "500", "9500"},
		{"zero fee", 10000, 0, "0", "10000"},
		{"floors remainder", 999, 250, "24", "975"},
		{"tiny amount floors to zero", 3, 250, "0", "3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fee, net := ComputeFee(big.NewInt(tc.amount), tc.feeBps)
			if fee.String() != tc.wantFee {
				t.Fatalf("fee: expected %s, got %s", tc.wantFee, fee)
			}
			if net.String() != tc.wantNet {
				t.Fatalf("net: expected %s, got %s", tc.wantNet, net)
			}
		})
	}
}

func TestComputeFeeDegenerateAmounts(t *testing.T) {
	fee, net := ComputeFee(nil, 250)
	if fee.Sign() != 0 || net.Sign() != 0 {
		t.Fatalf("expected zero split for nil amount")
	}
	fee, net = ComputeFee(big.NewInt(-5), 250)
	if fee.Sign() != 0 || net.Sign() != 0 {
		t.Fatalf("expected zero split for negative amount")
	}
}

func TestComputeFeeConserves(t *testing.T) {
	amounts := []int64{1, 7, 999, 10000, 123456789}
	for _, amount := range amounts {
		for _, bps := range []uint32{0, 1, 250, 500} {
			fee, net := ComputeFee(big.NewInt(amount), bps)
			sum := new(big.Int).Add(fee, net)
			if sum.Cmp(big.NewInt(amount)) != 0 {
				t.Fatalf("fee %s + net %s != amount %d at %d bps", fee, net, amount, bps)
			}
		}
	}
}
