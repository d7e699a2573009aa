package cashaddr

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

// Well-known address pairs from the CashAddr specification test vectors.
var knownPairs = []struct {
	legacy   string
	cashaddr string
	typ      AddressType
}{
	{"1BpEi6DfDAUFd7GtittLSdBeYJvcoaVggu", "bitcoincash:qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6a", P2KH},
	{"1KXrWXciRDZUpQwQmuM1DbwsKDLYAYsVLR", "bitcoincash:qr95sy3j9xwd2ap32xkykttr4cvcu7as4y0qverfuy", P2KH},
	{"16w1D5WRVKJuZUsSRzdLp9w3YGcgoxDXb", "bitcoincash:qqq3728yw0y47sqn6l2na30mcw6zm78dzqre909m2r", P2KH},
	{"3CWFddi6m4ndiGyKqzYvsFYagqDLPVMTzC", "bitcoincash:ppm2qsznhks23z7629mms6s4cwef74vcwvn0h829pq", P2SH},
	{"3LDsS579y7sruadqu11beEJoTjdFiFCdX4", "bitcoincash:pr95sy3j9xwd2ap32xkykttr4cvcu7as4yc93ky28e", P2SH},
}

func TestKnownVectors(t *testing.T) {
	for _, tt := range knownPairs {
		t.Run(tt.cashaddr, func(t *testing.T) {
			prefix, typ, hash, err := Decode(tt.cashaddr)
			if err != nil {
				t.Fatalf("Decode(%s): %v", tt.cashaddr, err)
			}
			if prefix != MainnetPrefix {
				t.Errorf("prefix = %q, want %q", prefix, MainnetPrefix)
			}
			if typ != tt.typ {
				t.Errorf("type = %v, want %v", typ, tt.typ)
			}

			encoded, err := Encode(prefix, typ, hash)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if encoded != tt.cashaddr {
				t.Errorf("Encode = %q, want %q", encoded, tt.cashaddr)
			}

			legacy, err := ToLegacy(tt.cashaddr)
			if err != nil {
				t.Fatalf("ToLegacy: %v", err)
			}
			if legacy != tt.legacy {
				t.Errorf("ToLegacy = %q, want %q", legacy, tt.legacy)
			}

			back, err := FromLegacy(tt.legacy)
			if err != nil {
				t.Fatalf("FromLegacy: %v", err)
			}
			if back != tt.cashaddr {
				t.Errorf("FromLegacy = %q, want %q", back, tt.cashaddr)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	hashes := [][]byte{
		bytes.Repeat([]byte{0x00}, 20),
		bytes.Repeat([]byte{0xff}, 20),
		{0x24, 0x3f, 0x13, 0x94, 0xf4, 0x45, 0x54, 0xf4, 0xce, 0x3f,
			0xd6, 0x86, 0x49, 0xc1, 0x9a, 0xdc, 0x48, 0x3c, 0xe9, 0x24},
	}

	for _, prefix := range []string{MainnetPrefix, TestnetPrefix, RegtestPrefix} {
		for _, typ := range []AddressType{P2KH, P2SH} {
			for _, hash := range hashes {
				addr, err := Encode(prefix, typ, hash)
				if err != nil {
					t.Fatalf("Encode(%s, %v): %v", prefix, typ, err)
				}
				gotPrefix, gotTyp, gotHash, err := Decode(addr)
				if err != nil {
					t.Fatalf("Decode(%s): %v", addr, err)
				}
				if gotPrefix != prefix || gotTyp != typ || !bytes.Equal(gotHash, hash) {
					t.Errorf("round trip of %s: got (%s, %v, %x)", addr, gotPrefix, gotTyp, gotHash)
				}
			}
		}
	}
}

func TestDecodeWithoutPrefix(t *testing.T) {
	for _, tt := range knownPairs {
		body := strings.TrimPrefix(tt.cashaddr, MainnetPrefix+":")
		prefix, typ, _, err := Decode(body)
		if err != nil {
			t.Fatalf("Decode(%s): %v", body, err)
		}
		if prefix != MainnetPrefix || typ != tt.typ {
			t.Errorf("Decode(%s) = (%s, %v), want (%s, %v)", body, prefix, typ, MainnetPrefix, tt.typ)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	valid := knownPairs[0].cashaddr

	// Flip one payload character to break the checksum.
	broken := []byte(valid)
	if broken[len(broken)-10] == 'q' {
		broken[len(broken)-10] = 'p'
	} else {
		broken[len(broken)-10] = 'q'
	}

	// An address whose payload unpacks to an unsupported type (bits 6-3 = 2).
	payload := append([]byte{2 << 3}, bytes.Repeat([]byte{0x11}, 20)...)
	data, err := convertBits(payload, 8, 5, true)
	if err != nil {
		t.Fatal(err)
	}
	mod := polyMod(append(append(expandPrefix(MainnetPrefix), data...), make([]byte, 8)...))
	var sb strings.Builder
	sb.WriteString(MainnetPrefix + ":")
	for _, d := range data {
		sb.WriteByte(charset[d])
	}
	for i := 0; i < 8; i++ {
		sb.WriteByte(charset[mod>>uint(5*(7-i))&0x1f])
	}
	badVersion := sb.String()

	tests := []struct {
		name string
		addr string
		want error
	}{
		{"bad checksum", string(broken), ErrBadChecksum},
		{"mixed case", "bitcoincash:Qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6a", ErrMixedCase},
		{"unknown prefix", "doge:qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6a", ErrBadChecksum},
		{"invalid character", "bitcoincash:qpm2qsznhks23z7629mms6s4cwef74vcwvy22gbx1a", ErrInvalidChar},
		{"too short", "bitcoincash:qqqq", ErrBadLength},
		{"empty", "", ErrBadLength},
		{"unsupported version", badVersion, ErrUnknownVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := Decode(tt.addr)
			if err == nil {
				t.Fatalf("Decode(%q) succeeded, want error", tt.addr)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode(%q) = %v, want reason %v", tt.addr, err, tt.want)
			}
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Errorf("Decode(%q) error is not a *FormatError", tt.addr)
			}
		})
	}
}

func TestUnknownPrefixWithValidChecksum(t *testing.T) {
	// A checksum computed for a prefix outside the known set must be
	// rejected as unknown, not as a checksum failure.
	addr, err := Encode("bchdev", P2KH, bytes.Repeat([]byte{0x42}, 20))
	if err != nil {
		t.Fatal(err)
	}
	_, _, _, err = Decode(addr)
	if !errors.Is(err, ErrUnknownPrefix) {
		t.Errorf("Decode(%q) = %v, want %v", addr, err, ErrUnknownPrefix)
	}
}

func TestEncodeRejectsBadInput(t *testing.T) {
	if _, err := Encode(MainnetPrefix, P2KH, make([]byte, 19)); err == nil {
		t.Error("Encode accepted a 19-byte hash")
	}
	if _, err := Encode(MainnetPrefix, AddressType(7), make([]byte, 20)); err == nil {
		t.Error("Encode accepted an unsupported address type")
	}
}

func TestHash160LegacyTestnet(t *testing.T) {
	// Standard testnet P2PKH example address.
	typ, hash, err := Hash160("mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn")
	if err != nil {
		t.Fatalf("Hash160: %v", err)
	}
	if typ != P2KH {
		t.Errorf("type = %v, want %v", typ, P2KH)
	}
	want := "243f1394f44554f4ce3fd68649c19adc483ce924"
	if hex.EncodeToString(hash) != want {
		t.Errorf("hash160 = %x, want %s", hash, want)
	}
}

func TestHash160ForNetwork(t *testing.T) {
	hash := make([]byte, 20)
	for i := range hash {
		hash[i] = byte(i + 1)
	}
	mainnet, err := Encode(MainnetPrefix, P2KH, hash)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	testnet, err := Encode(TestnetPrefix, P2KH, hash)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tests := []struct {
		name    string
		addr    string
		prefix  string
		wantErr error
	}{
		{"mainnet cashaddr on mainnet", mainnet, MainnetPrefix, nil},
		{"testnet cashaddr on testnet", testnet, TestnetPrefix, nil},
		{"mainnet cashaddr on testnet", mainnet, TestnetPrefix, ErrWrongNetwork},
		{"testnet cashaddr on mainnet", testnet, MainnetPrefix, ErrWrongNetwork},
		{"testnet legacy on testnet", "mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn", TestnetPrefix, nil},
		{"testnet legacy on regtest", "mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn", RegtestPrefix, nil},
		{"testnet legacy on mainnet", "mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn", MainnetPrefix, ErrWrongNetwork},
		{"mainnet legacy on testnet", "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", TestnetPrefix, ErrWrongNetwork},
		{"mainnet legacy on mainnet", "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", MainnetPrefix, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, hash160, err := Hash160ForNetwork(tt.addr, tt.prefix)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Hash160ForNetwork() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Hash160ForNetwork() error = %v", err)
			}
			if typ != P2KH {
				t.Errorf("type = %v, want %v", typ, P2KH)
			}
			if len(hash160) != 20 {
				t.Errorf("hash length = %d, want 20", len(hash160))
			}
		})
	}
}

func TestFromLegacyTestnet(t *testing.T) {
	addr, err := FromLegacy("mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn")
	if err != nil {
		t.Fatalf("FromLegacy: %v", err)
	}
	if !strings.HasPrefix(addr, TestnetPrefix+":") {
		t.Errorf("FromLegacy = %q, want %q prefix", addr, TestnetPrefix)
	}
	back, err := ToLegacy(addr)
	if err != nil {
		t.Fatalf("ToLegacy: %v", err)
	}
	if back != "mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn" {
		t.Errorf("ToLegacy = %q, want original", back)
	}
}
