package market

import (
	"fmt"
	"strings"
)

// Pair identifies one order book by its base and quote symbols.
// Equality is exact symbol match.
type Pair struct {
	Base  string
	Quote string
}

func NewPair(base, quote string) Pair {
	return Pair{Base: base, Quote: quote}
}

// ParsePair parses the "BASE-QUOTE" form produced by String.
func ParsePair(s string) (Pair, error) {
	base, quote, ok := strings.Cut(s, "-")
	if !ok {
		return Pair{}, fmt.Errorf("%w: %q (want BASE-QUOTE)", ErrInvalidPair, s)
	}
	p := Pair{Base: base, Quote: quote}
	if err := p.Validate(); err != nil {
		return Pair{}, err
	}
	return p, nil
}

func (p Pair) String() string { return p.Base + "-" + p.Quote }

// maxSymbolLen bounds one side of a pair.
const maxSymbolLen = 20

// Validate accepts ASCII letters and digits only. The pair string is embedded
// in journal keys, so separators such as '-' or ':' must never appear in a
// symbol.
func (p Pair) Validate() error {
	if p.Base == "" || p.Quote == "" {
		return fmt.Errorf("%w: base and quote symbols must be set", ErrInvalidPair)
	}
	for _, sym := range [2]string{p.Base, p.Quote} {
		if len(sym) > maxSymbolLen {
			return fmt.Errorf("%w: symbol %q longer than %d", ErrInvalidPair, sym, maxSymbolLen)
		}
		for i := 0; i < len(sym); i++ {
			if !isSymbolChar(sym[i]) {
				return fmt.Errorf("%w: symbol %q may only contain letters and digits", ErrInvalidPair, sym)
			}
		}
	}
	return nil
}

func isSymbolChar(c byte) bool {
	return ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9')
}
