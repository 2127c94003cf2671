package direct

import "testing"

func TestDeriveIDDeterministic(t *testing.T) {
	addr := newTestAddress(0xAB)
	first := DeriveID(addr, 1, 10)
	second := DeriveID(addr, 1, 10)
	if first != second {
		t.Fatalf("expected identical inputs to derive identical ids")
	}
}

func TestDeriveIDDistinguishesInputs(t *testing.T) {
	addr := newTestAddress(0xAB)
	other := newTestAddress(0xCD)
	base := DeriveID(addr, 1, 10)

	if DeriveID(other, 1, 10) == base {
		t.Fatalf("expected originator to affect the id")
	}
	if DeriveID(addr, 2, 10) == base {
		t.Fatalf("expected counter to affect the id")
	}
	if DeriveID(addr, 1, 11) == base {
		t.Fatalf("expected height to affect the id")
	}
}

func TestAddressRoundTrip(t *testing.T) {
	addr := newTestAddress(0x7F)
	parsed, err := ParseAddress(FormatAddress(addr))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != addr {
		t.Fatalf("round trip mismatch")
	}
	if _, err := ParseAddress("0x1234"); err == nil {
		t.Fatalf("expected short address to fail")
	}
	if _, err := ParseAddress("zz" + FormatAddress(addr)[4:]); err == nil {
		t.Fatalf("expected invalid hex to fail")
	}
}

func TestIDRoundTrip(t *testing.T) {
	id := DeriveID(newTestAddress(0x01), 7, 3)
	parsed, err := ParseID(FormatID(id))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch")
	}
	if _, err := ParseID("0xdead"); err == nil {
		t.Fatalf("expected short id to fail")
	}
}
