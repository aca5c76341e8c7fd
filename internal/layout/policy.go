package layout

import (
	"fmt"
	"strings"
)

// Policy decides how pages are grouped into rows.
type Policy int

const (
	// Single puts every page on its own row.
	Single Policy = iota
	// DualStart pairs (1,2), (3,4), ...
	DualStart
	// DualEnd leaves page 1 alone and pairs (2,3), (4,5), ...
	DualEnd
)

var policyNames = map[Policy]string{
	Single:    "single",
	DualStart: "dual-start",
	DualEnd:   "dual-end",
}

// UnknownPolicyError reports a layout or fit policy value that does not exist.
type UnknownPolicyError struct {
	Kind  string
	Value string
}

func (e *UnknownPolicyError) Error() string {
	return fmt.Sprintf("unknown %s policy: %q", e.Kind, e.Value)
}

// ParsePolicy converts a policy name into a Policy.
func ParsePolicy(s string) (Policy, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for p, n := range policyNames {
		if n == name {
			return p, nil
		}
	}
	return 0, &UnknownPolicyError{Kind: "layout", Value: s}
}

func (p Policy) String() string {
	if n, ok := policyNames[p]; ok {
		return n
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// Validate fails for values outside the declared constants.
func (p Policy) Validate() error {
	if _, ok := policyNames[p]; !ok {
		return &UnknownPolicyError{Kind: "layout", Value: p.String()}
	}
	return nil
}

// must panics on an invalid policy. Constructing one is a programming error.
func (p Policy) must() {
	if err := p.Validate(); err != nil {
		panic(err)
	}
}

// Columns is the number of slots per row.
func (p Policy) Columns() int {
	p.must()
	if p == Single {
		return 1
	}
	return 2
}

func (p Policy) MarshalText() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return []byte(p.String()), nil
}

func (p *Policy) UnmarshalText(text []byte) error {
	v, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
