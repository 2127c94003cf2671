package direct

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const addressHexLength = 40

// ParseAddress decodes a 20 byte principal from its hex form, with or
// without a 0x prefix.
func ParseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
	}
	if len(trimmed) != addressHexLength {
		return addr, fmt.Errorf("direct: address must be 20 bytes (got %d hex chars)", len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("direct: decode address: %w", err)
	}
	copy(addr[:], decoded)
	return addr, nil
}

// FormatAddress renders a principal as 0x-prefixed hex.
func FormatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

// ParseID decodes a 32 byte transaction identifier from hex.
func ParseID(raw string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
	}
	if len(trimmed) != 64 {
		return id, fmt.Errorf("direct: transaction id must be 32 bytes (got %d hex chars)", len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("direct: decode transaction id: %w", err)
	}
	copy(id[:], decoded)
	return id, nil
}

// FormatID renders a transaction identifier as 0x-prefixed hex.
func FormatID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}
