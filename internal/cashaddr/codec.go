// Package cashaddr implements the Bitcoin Cash address encoding (CashAddr)
// and conversion to and from legacy Base58Check addresses. It is a pure
// codec with no network or chain dependencies.
package cashaddr

import (
	"errors"
	"fmt"
	"strings"
)

// AddressType identifies the script kind an address pays to.
type AddressType int

const (
	// P2KH is a pay-to-public-key-hash address.
	P2KH AddressType = iota
	// P2SH is a pay-to-script-hash address.
	P2SH
)

// String returns the conventional name of the address type.
func (t AddressType) String() string {
	switch t {
	case P2KH:
		return "p2kh"
	case P2SH:
		return "p2sh"
	default:
		return "unknown"
	}
}

// Known human-readable prefixes.
const (
	MainnetPrefix = "bitcoincash"
	TestnetPrefix = "bchtest"
	RegtestPrefix = "bchreg"
)

// knownPrefixes is the resolution order for addresses supplied without an
// explicit prefix.
var knownPrefixes = []string{MainnetPrefix, TestnetPrefix, RegtestPrefix}

// Decode failure reasons. All decode paths return one of these wrapped in a
// *FormatError; malformed input never panics.
var (
	ErrBadChecksum    = errors.New("checksum mismatch")
	ErrBadLength      = errors.New("payload is not version byte plus 20-byte hash")
	ErrUnknownPrefix  = errors.New("unknown address prefix")
	ErrUnknownVersion = errors.New("unsupported address version")
	ErrInvalidChar    = errors.New("invalid character")
	ErrMixedCase      = errors.New("mixed-case address")
	ErrWrongNetwork   = errors.New("address belongs to a different network")
)

// FormatError reports why an address failed to decode.
type FormatError struct {
	Address string
	Reason  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid address %q: %v", e.Address, e.Reason)
}

// Unwrap exposes the underlying reason for errors.Is checks.
func (e *FormatError) Unwrap() error { return e.Reason }

func formatErr(addr string, reason error) error {
	return &FormatError{Address: addr, Reason: reason}
}

const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// charsetRev maps an ASCII byte to its 5-bit value, or -1.
var charsetRev [128]int8

func init() {
	for i := range charsetRev {
		charsetRev[i] = -1
	}
	for i, c := range charset {
		charsetRev[c] = int8(i)
	}
}

// polyMod is the 40-bit BCH checksum over 5-bit digits used by CashAddr.
// A valid checksummed sequence evaluates to zero.
func polyMod(values []byte) uint64 {
	c := uint64(1)
	for _, d := range values {
		c0 := c >> 35
		c = ((c & 0x07ffffffff) << 5) ^ uint64(d)
		if c0&0x01 != 0 {
			c ^= 0x98f2bc8e61
		}
		if c0&0x02 != 0 {
			c ^= 0x79b76d99e2
		}
		if c0&0x04 != 0 {
			c ^= 0xf33e5fb3c4
		}
		if c0&0x08 != 0 {
			c ^= 0xae2eabe2a8
		}
		if c0&0x10 != 0 {
			c ^= 0x1e4f43e470
		}
	}
	return c ^ 1
}

// expandPrefix lowers each prefix character to its five low bits and appends
// the zero separator digit, as the checksum is computed over this form.
func expandPrefix(prefix string) []byte {
	out := make([]byte, 0, len(prefix)+1)
	for i := 0; i < len(prefix); i++ {
		out = append(out, prefix[i]&0x1f)
	}
	return append(out, 0)
}

// convertBits regroups data from fromBits-wide groups into toBits-wide groups,
// MSB first. With pad set, a final partial group is zero-padded; without it,
// leftover bits must be zero padding no wider than a full input group.
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	var acc uint32
	var bits uint
	maxv := uint32(1<<toBits) - 1
	out := make([]byte, 0, len(data)*int(fromBits)/int(toBits)+1)
	for _, b := range data {
		if uint(b)>>fromBits != 0 {
			return nil, fmt.Errorf("value %d exceeds %d bits", b, fromBits)
		}
		acc = acc<<fromBits | uint32(b)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte(acc>>bits&maxv))
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, byte(acc<<(toBits-bits)&maxv))
		}
	} else if bits >= fromBits || acc<<(toBits-bits)&maxv != 0 {
		return nil, errors.New("non-zero padding")
	}
	return out, nil
}

// Encode builds the CashAddr string for a 20-byte hash160 under the given
// human-readable prefix.
func Encode(prefix string, typ AddressType, hash160 []byte) (string, error) {
	if len(hash160) != 20 {
		return "", fmt.Errorf("hash160 must be 20 bytes, got %d", len(hash160))
	}
	if typ != P2KH && typ != P2SH {
		return "", fmt.Errorf("unsupported address type %d", int(typ))
	}

	// Version byte: type in bits 6-3, size bits zero for a 160-bit hash.
	payload := make([]byte, 0, 21)
	payload = append(payload, byte(typ)<<3)
	payload = append(payload, hash160...)

	data, err := convertBits(payload, 8, 5, true)
	if err != nil {
		return "", err
	}

	checksumInput := append(expandPrefix(prefix), data...)
	checksumInput = append(checksumInput, make([]byte, 8)...)
	mod := polyMod(checksumInput)

	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteByte(':')
	for _, d := range data {
		sb.WriteByte(charset[d])
	}
	for i := 0; i < 8; i++ {
		sb.WriteByte(charset[mod>>uint(5*(7-i))&0x1f])
	}
	return sb.String(), nil
}

// Decode parses a CashAddr string, with or without its prefix, and returns
// the prefix, address type and 20-byte hash160.
func Decode(addr string) (string, AddressType, []byte, error) {
	lower := strings.ToLower(addr)
	if addr != lower && addr != strings.ToUpper(addr) {
		return "", 0, nil, formatErr(addr, ErrMixedCase)
	}

	if i := strings.IndexByte(lower, ':'); i >= 0 {
		prefix, body := lower[:i], lower[i+1:]
		typ, hash, err := decodeBody(addr, prefix, body)
		if err != nil {
			return "", 0, nil, err
		}
		if !isKnownPrefix(prefix) {
			return "", 0, nil, formatErr(addr, ErrUnknownPrefix)
		}
		return prefix, typ, hash, nil
	}

	// No prefix supplied: the checksum commits to it, so try each known one.
	for _, prefix := range knownPrefixes {
		typ, hash, err := decodeBody(addr, prefix, lower)
		if err == nil {
			return prefix, typ, hash, nil
		}
		// Anything other than a checksum mismatch is conclusive.
		if !errors.Is(err, ErrBadChecksum) {
			return "", 0, nil, err
		}
	}
	return "", 0, nil, formatErr(addr, ErrBadChecksum)
}

func isKnownPrefix(prefix string) bool {
	for _, p := range knownPrefixes {
		if p == prefix {
			return true
		}
	}
	return false
}

func decodeBody(orig, prefix, body string) (AddressType, []byte, error) {
	if len(body) < 9 {
		return 0, nil, formatErr(orig, ErrBadLength)
	}
	values := make([]byte, len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c >= 128 || charsetRev[c] < 0 {
			return 0, nil, formatErr(orig, ErrInvalidChar)
		}
		values[i] = byte(charsetRev[c])
	}

	if polyMod(append(expandPrefix(prefix), values...)) != 0 {
		return 0, nil, formatErr(orig, ErrBadChecksum)
	}

	payload, err := convertBits(values[:len(values)-8], 5, 8, false)
	if err != nil || len(payload) != 21 {
		return 0, nil, formatErr(orig, ErrBadLength)
	}

	version := payload[0]
	if version&0x80 != 0 || version&0x07 != 0 {
		// Reserved bit set, or a size other than 160 bits.
		return 0, nil, formatErr(orig, ErrUnknownVersion)
	}
	typ := AddressType(version >> 3)
	if typ != P2KH && typ != P2SH {
		return 0, nil, formatErr(orig, ErrUnknownVersion)
	}
	return typ, payload[1:], nil
}
