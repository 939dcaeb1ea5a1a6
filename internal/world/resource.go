package world

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind enumerates the extractable resource types.
type Kind uint8

const (
	KindFerrite     Kind = iota // Common metal ore
	KindAether                  // Volatile energy crystal
	KindBiomass                 // Organic growth
	KindCryoCrystal             // Rare, found in cold pockets
)

// NumKinds is the total number of resource kinds.
const NumKinds = 4

var kindNames = [NumKinds]string{"Ferrite", "Aether", "Biomass", "CryoCrystal"}

// String returns the display name of k.
func (k Kind) String() string {
	if int(k) < NumKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return int(k) < NumKinds
}

// ParseKind resolves a kind from its name (case-insensitive).
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown resource kind %q", s)
}

// MarshalText encodes k by name.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid resource kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// AllKinds returns every kind in declaration order.
func AllKinds() []Kind {
	out := make([]Kind, NumKinds)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// KindSet is a bitset of resource kinds, used as the mineable-kind filter.
type KindSet uint8

// AllKindSet contains every kind.
const AllKindSet KindSet = 1<<NumKinds - 1

// NewKindSet builds a set from the given kinds.
func NewKindSet(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s = s.With(k)
	}
	return s
}

// Has reports whether k is in the set.
func (s KindSet) Has(k Kind) bool {
	return k.Valid() && s&(1<<k) != 0
}

// With returns the set plus k.
func (s KindSet) With(k Kind) KindSet {
	if !k.Valid() {
		return s
	}
	return s | 1<<k
}

// Without returns the set minus k.
func (s KindSet) Without(k Kind) KindSet {
	if !k.Valid() {
		return s
	}
	return s &^ (1 << k)
}

// Empty reports whether no kind is allowed.
func (s KindSet) Empty() bool {
	return s&AllKindSet == 0
}

// Kinds lists the members in declaration order.
func (s KindSet) Kinds() []Kind {
	var out []Kind
	for i := 0; i < NumKinds; i++ {
		if s.Has(Kind(i)) {
			out = append(out, Kind(i))
		}
	}
	return out
}

// String returns the member names joined by commas.
func (s KindSet) String() string {
	kinds := s.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}

// MarshalJSON encodes the set as a list of kind names.
func (s KindSet) MarshalJSON() ([]byte, error) {
	kinds := s.Kinds()
	if kinds == nil {
		kinds = []Kind{}
	}
	return json.Marshal(kinds)
}

// UnmarshalJSON decodes a list of kind names.
func (s *KindSet) UnmarshalJSON(b []byte) error {
	var kinds []Kind
	if err := json.Unmarshal(b, &kinds); err != nil {
		return err
	}
	*s = NewKindSet(kinds...)
	return nil
}

// Amounts holds a quantity per resource kind.
// Fixed-size array keeps cargo and stock inline with zero heap allocation.
type Amounts [NumKinds]int

// Total returns the sum over all kinds.
func (a Amounts) Total() int {
	total := 0
	for _, v := range a {
		total += v
	}
	return total
}

// IsEmpty returns true if all quantities are zero.
func (a Amounts) IsEmpty() bool {
	for _, v := range a {
		if v != 0 {
			return false
		}
	}
	return true
}

// Clear zeroes all quantities.
func (a *Amounts) Clear() {
	*a = Amounts{}
}

// ByName returns the non-zero quantities keyed by kind name.
func (a Amounts) ByName() map[string]int {
	out := make(map[string]int, NumKinds)
	for i, v := range a {
		if v != 0 {
			out[Kind(i).String()] = v
		}
	}
	return out
}
