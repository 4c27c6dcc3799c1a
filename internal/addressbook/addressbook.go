package addressbook

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// UnknownLabel is returned for addresses that are not in the book.
const UnknownLabel = "Unknown"

// DefaultLabels are the known PYUSD issuer wallets.
var DefaultLabels = map[string]string{
	"0x264bd8291fae1d75db2c5f573b07faa6715997b5": "Paxos 4 (Hildobby)",
	"0x2893b326816ed864c4bccddeaa4a006c8367c229": "Paxos Treasury (Hildobby)",
}

// Book maps wallet addresses to display labels. It is never mutated after New.
type Book struct {
	labels map[string]string
}

// New validates and copies labels into a Book. Keys must be 20-byte hex addresses.
func New(labels map[string]string) (*Book, error) {
	b := &Book{labels: make(map[string]string, len(labels))}
	for addr, label := range labels {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid address book entry %q", addr)
		}
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, fmt.Errorf("empty label for address %s", addr)
		}
		b.labels[NormalizeAddress(addr)] = label
	}
	return b, nil
}

// Default returns a Book holding DefaultLabels.
func Default() *Book {
	b, err := New(DefaultLabels)
	if err != nil {
		panic(err)
	}
	return b
}

// Label returns the label for addr, or UnknownLabel. Lookups ignore address case.
func (b *Book) Label(addr string) string {
	if b == nil || strings.TrimSpace(addr) == "" {
		return UnknownLabel
	}
	if label, ok := b.labels[NormalizeAddress(addr)]; ok {
		return label
	}
	return UnknownLabel
}

func (b *Book) Len() int {
	if b == nil {
		return 0
	}
	return len(b.labels)
}

// NormalizeAddress lowercases addr and makes sure it carries the 0x prefix.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !strings.HasPrefix(addr, "0x") {
		addr = "0x" + addr
	}
	return addr
}
