package cashaddr

import (
	"github.com/btcsuite/btcd/btcutil/base58"
)

// Legacy Base58Check version bytes. Regtest shares the testnet values.
const (
	mainnetP2KHVersion = 0x00
	mainnetP2SHVersion = 0x05
	testnetP2KHVersion = 0x6f
	testnetP2SHVersion = 0xc4
)

func legacyVersion(prefix string, typ AddressType) byte {
	if prefix == MainnetPrefix {
		if typ == P2SH {
			return mainnetP2SHVersion
		}
		return mainnetP2KHVersion
	}
	if typ == P2SH {
		return testnetP2SHVersion
	}
	return testnetP2KHVersion
}

// ToLegacy converts a CashAddr string to its Base58Check form.
func ToLegacy(addr string) (string, error) {
	prefix, typ, hash, err := Decode(addr)
	if err != nil {
		return "", err
	}
	return base58.CheckEncode(hash, legacyVersion(prefix, typ)), nil
}

// FromLegacy converts a Base58Check address to CashAddr form. Testnet
// version bytes map to the bchtest prefix.
func FromLegacy(legacy string) (string, error) {
	hash, version, err := base58.CheckDecode(legacy)
	if err != nil {
		return "", formatErr(legacy, ErrBadChecksum)
	}
	if len(hash) != 20 {
		return "", formatErr(legacy, ErrBadLength)
	}
	switch version {
	case mainnetP2KHVersion:
		return Encode(MainnetPrefix, P2KH, hash)
	case mainnetP2SHVersion:
		return Encode(MainnetPrefix, P2SH, hash)
	case testnetP2KHVersion:
		return Encode(TestnetPrefix, P2KH, hash)
	case testnetP2SHVersion:
		return Encode(TestnetPrefix, P2SH, hash)
	default:
		return "", formatErr(legacy, ErrUnknownVersion)
	}
}

// Hash160 extracts the address type and 20-byte hash from a payout address
// given in either CashAddr or legacy form.
func Hash160(addr string) (AddressType, []byte, error) {
	if _, typ, hash, err := Decode(addr); err == nil {
		return typ, hash, nil
	}
	hash, version, err := base58.CheckDecode(addr)
	if err != nil || len(hash) != 20 {
		return 0, nil, formatErr(addr, ErrBadChecksum)
	}
	switch version {
	case mainnetP2KHVersion, testnetP2KHVersion:
		return P2KH, hash, nil
	case mainnetP2SHVersion, testnetP2SHVersion:
		return P2SH, hash, nil
	default:
		return 0, nil, formatErr(addr, ErrUnknownVersion)
	}
}

// Hash160ForNetwork is Hash160 restricted to addresses of the network named
// by its cashaddr prefix. A well-formed address from another network fails
// with ErrWrongNetwork. Regtest accepts testnet legacy version bytes.
func Hash160ForNetwork(addr, prefix string) (AddressType, []byte, error) {
	if p, typ, hash, err := Decode(addr); err == nil {
		if p != prefix {
			return 0, nil, formatErr(addr, ErrWrongNetwork)
		}
		return typ, hash, nil
	}
	hash, version, err := base58.CheckDecode(addr)
	if err != nil || len(hash) != 20 {
		return 0, nil, formatErr(addr, ErrBadChecksum)
	}
	var typ AddressType
	var mainnet bool
	switch version {
	case mainnetP2KHVersion:
		typ, mainnet = P2KH, true
	case mainnetP2SHVersion:
		typ, mainnet = P2SH, true
	case testnetP2KHVersion:
		typ = P2KH
	case testnetP2SHVersion:
		typ = P2SH
	default:
		return 0, nil, formatErr(addr, ErrUnknownVersion)
	}
	if mainnet != (prefix == MainnetPrefix) {
		return 0, nil, formatErr(addr, ErrWrongNetwork)
	}
	return typ, hash, nil
}
