package direct

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// DeriveID folds the originator, the module's monotonic counter and the
// current sequence height into a 32 byte identifier. The counter alone makes
// collisions impossible within one deployment; caller and height bind the
// identifier to its originating call for auditability.
func DeriveID(originator [20]byte, counter uint64, height uint64) [32]byte {
	var ctx [16]byte
	binary.BigEndian.PutUint64(ctx[:8], counter)
	binary.BigEndian.PutUint64(ctx[8:], height)
	return ethcrypto.Keccak256Hash(originator[:], ctx[:])
}
