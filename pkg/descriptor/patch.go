package descriptor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/riftchanger/skintools/pkg/hashdict"
)

// Strategy selects how a descriptor is rewritten.
type Strategy int

const (
	// StrategyAuto uses hash-only patching when a dictionary is available,
	// hash plus linked-string rewriting when the header declares a linked
	// table, and hash-only patching otherwise.
	StrategyAuto Strategy = iota
	// StrategyHashOnly substitutes 32-bit hashes and nothing else.
	StrategyHashOnly
	// StrategyLinkedStrings substitutes hashes and rewrites the linked-string
	// table.
	StrategyLinkedStrings
	// StrategyVerbatim copies the descriptor unchanged.
	StrategyVerbatim
)

var strategyNames = map[Strategy]string{
	StrategyAuto:          "auto",
	StrategyHashOnly:      "hash-only",
	StrategyLinkedStrings: "linked-strings",
	StrategyVerbatim:      "verbatim",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy converts a strategy name back into a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	for s, n := range strategyNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown patch strategy %q", name)
}

// Result is the outcome of patching one descriptor.
type Result struct {
	Data     []byte
	Strategy Strategy // the strategy actually applied
	Hashes   int      // substituted hash occurrences
	Strings  int      // rewritten linked strings
}

// Patcher rewrites descriptors according to its strategy. A Patcher is
// immutable and safe for concurrent use.
type Patcher struct {
	strategy Strategy
	dict     *hashdict.Dictionary
}

// Option configures a Patcher.
type Option func(*Patcher)

// WithStrategy selects the patch strategy; the default is StrategyAuto.
func WithStrategy(s Strategy) Option {
	return func(p *Patcher) {
		p.strategy = s
	}
}

// WithDictionary supplies a 32-bit entry dictionary (hashes.binentries.txt).
func WithDictionary(d *hashdict.Dictionary) Option {
	return func(p *Patcher) {
		p.dict = d
	}
}

// NewPatcher creates a Patcher.
func NewPatcher(opts ...Option) *Patcher {
	p := &Patcher{strategy: StrategyAuto}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Strategy returns the configured strategy.
func (p *Patcher) Strategy() Strategy {
	return p.strategy
}

// Patch rewrites data, which currently represents variant, so that every
// reference to that variant across subjects refers to variant 0. The input
// is never modified. On error the returned Result carries the unmodified
// input.
func (p *Patcher) Patch(data []byte, variant int, subjects []string) (*Result, error) {
	unchanged := &Result{Data: data, Strategy: StrategyVerbatim}

	info, err := Parse(data)
	if err != nil {
		return unchanged, err
	}

	hasDict := p.dict.Len() > 0
	strategy := p.strategy
	switch strategy {
	case StrategyAuto:
		switch {
		case hasDict:
			strategy = StrategyHashOnly
		case info.HasLinkedTable():
			strategy = StrategyLinkedStrings
		default:
			strategy = StrategyHashOnly
		}
	case StrategyLinkedStrings:
		if hasDict {
			return unchanged, ErrMixedStrategy
		}
	case StrategyHashOnly, StrategyVerbatim:
	default:
		return unchanged, fmt.Errorf("unknown patch strategy %s", strategy)
	}

	if strategy == StrategyVerbatim {
		return &Result{Data: bytes.Clone(data), Strategy: StrategyVerbatim}, nil
	}

	subs := BuildSubstitutions(variant, subjects, p.dict)

	if strategy == StrategyHashOnly || !info.HasLinkedTable() {
		out, hits := subs.Apply(data)
		return &Result{Data: out, Strategy: StrategyHashOnly, Hashes: hits}, nil
	}

	strs := make([]string, len(info.LinkedStrings))
	rewritten := 0
	for i, s := range info.LinkedStrings {
		if r, ok := RewriteVariant(s, variant); ok {
			s = r
			rewritten++
		}
		strs[i] = s
	}
	table, err := encodeLinkedTable(strs)
	if err != nil {
		return unchanged, fmt.Errorf("rebuild linked table: %w", err)
	}
	body, hits := subs.Apply(data[info.TableEnd:])

	out := make([]byte, 0, info.TableStart+len(table)+len(body))
	out = append(out, data[:info.TableStart]...)
	out = append(out, table...)
	out = append(out, body...)

	return &Result{Data: out, Strategy: StrategyLinkedStrings, Hashes: hits, Strings: rewritten}, nil
}

// Apply scans src at every byte offset for little-endian 32-bit keys of s
// and returns a copy with each hit replaced. Scanning reads src, so a
// substituted value is never matched again; a hit consumes its 4 bytes.
func (s Substitutions) Apply(src []byte) ([]byte, int) {
	out := bytes.Clone(src)
	if len(s) == 0 {
		return out, 0
	}

	hits := 0
	for i := 0; i+4 <= len(src); {
		if repl, ok := s[binary.LittleEndian.Uint32(src[i:])]; ok {
			binary.LittleEndian.PutUint32(out[i:], repl)
			hits++
			i += 4
			continue
		}
		i++
	}
	return out, hits
}
