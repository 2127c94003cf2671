package direct

// MaxFeeBps bounds the spread fee at 5% of the escrowed amount.
const MaxFeeBps uint32 = 500

const feeDenominator = 10_000

// Settings is the module-wide configuration singleton. It is created once
// when the owner is bootstrapped and mutated only through the owner-gated
// engine operations.
type Settings struct {
	Owner       [20]byte
	TxManager   [20]byte
	FeeReceiver [20]byte
	Vault       [20]byte
	FeeBps      uint32
	Paused      bool
	Initialized bool
}

func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// SanitizeSettings enforces the fee bound invariant before persistence.
func SanitizeSettings(s *Settings) (*Settings, error) {
	if s == nil {
		return nil, ErrFeeTooHigh
	}
	if s.FeeBps > MaxFeeBps {
		return nil, ErrFeeTooHigh
	}
	return s.Clone(), nil
}
