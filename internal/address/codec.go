// Package address converts between 32-byte log topics and account addresses.
package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrMalformedTopic is returned when a topic word does not carry a zero-padded address.
var ErrMalformedTopic = errors.New("malformed topic")

// ErrMalformedAddress is returned for strings that are not 20-byte hex addresses.
var ErrMalformedAddress = errors.New("malformed address")

// padLen is the number of leading zero bytes in an address topic.
const padLen = common.HashLength - common.AddressLength

// DecodeTopic strips the zero padding from a topic word and returns the address.
func DecodeTopic(word common.Hash) (common.Address, error) {
	for _, b := range word[:padLen] {
		if b != 0 {
			return common.Address{}, fmt.Errorf("%w: non-zero padding in %s", ErrMalformedTopic, word.Hex())
		}
	}
	return common.BytesToAddress(word[padLen:]), nil
}

// DecodeTopicHex decodes a hex topic as returned by the event API. The 0x
// prefix is optional and case is ignored.
func DecodeTopicHex(s string) (common.Address, error) {
	raw := strip0x(strings.TrimSpace(s))
	if len(raw) != 2*common.HashLength {
		return common.Address{}, fmt.Errorf("%w: want %d hex digits, got %d", ErrMalformedTopic, 2*common.HashLength, len(raw))
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedTopic, err)
	}
	return DecodeTopic(common.BytesToHash(b))
}

// EncodeTopic left-pads an address into a topic word.
func EncodeTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), common.HashLength))
}

// Parse is a strict, case-insensitive parser for 20-byte hex addresses.
// Unlike common.HexToAddress it rejects short or oversized input.
func Parse(s string) (common.Address, error) {
	raw := strip0x(strings.TrimSpace(s))
	if len(raw) != 2*common.AddressLength {
		return common.Address{}, fmt.Errorf("%w: %q", ErrMalformedAddress, s)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %q", ErrMalformedAddress, s)
	}
	return common.BytesToAddress(b), nil
}

func strip0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
