// Package category defines the closed set of stage categories a query pipeline
// is mapped onto, plus the two sentinels that bracket every sequence.
//
// The ordinary members are data-driven: an Alphabet is loaded once at startup
// (from YAML or the built-in default) and is the only way text is turned into
// a stage Category. Code that switches on a Category should switch on Kind(),
// which is exhaustive.
package category

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

// Category is a single stage label, or one of the Start/End sentinels.
type Category string

const (
	// Start opens every sequence. It is never a transition destination.
	Start Category = "<start>"
	// End closes every sequence. It is never a transition source.
	End Category = "<end>"
)

// Kind distinguishes sentinels from ordinary stage categories.
type Kind int

const (
	KindStage Kind = iota
	KindStart
	KindEnd
)

// Kind reports whether c is a sentinel or an ordinary stage.
func (c Category) Kind() Kind {
	switch c {
	case Start:
		return KindStart
	case End:
		return KindEnd
	default:
		return KindStage
	}
}

// IsSentinel is true for Start and End.
func (c Category) IsSentinel() bool {
	return c.Kind() != KindStage
}

func (c Category) String() string {
	return string(c)
}

var (
	// ErrUnknownCategory is returned for a name outside the alphabet.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrReservedCategory rejects alphabets that reuse a sentinel name.
	ErrReservedCategory = errors.New("category name is reserved for a sentinel")

	// ErrEmptyAlphabet is returned when an alphabet lists no categories.
	ErrEmptyAlphabet = errors.New("alphabet has no categories")
)

// DefaultNames are the transformation categories used by the query logs this
// tool was built for.
var DefaultNames = []string{
	"Aggregate", "Augment", "Cache", "External", "Filter", "Input", "Join",
	"Macro", "Meta", "Miscellaneous", "Output", "Project", "Read Metadata",
	"Rename", "Reorder", "Set", "Transform", "Transpose", "User-Defined", "Window",
}

// Alphabet is the finite set of valid stage categories.
type Alphabet struct {
	members map[string]Category
	names   []string
}

// NewAlphabet builds an alphabet from the given names. Duplicates are folded.
func NewAlphabet(names []string) (*Alphabet, error) {
	if len(names) == 0 {
		return nil, ErrEmptyAlphabet
	}
	a := &Alphabet{members: make(map[string]Category, len(names))}
	for _, n := range names {
		if n == "" {
			return nil, fmt.Errorf("%w: empty name", ErrUnknownCategory)
		}
		if c := Category(n); c.IsSentinel() {
			return nil, fmt.Errorf("%w: %q", ErrReservedCategory, n)
		}
		if _, dup := a.members[n]; dup {
			continue
		}
		a.members[n] = Category(n)
		a.names = append(a.names, n)
	}
	sort.Strings(a.names)
	return a, nil
}

// DefaultAlphabet returns the built-in alphabet.
func DefaultAlphabet() *Alphabet {
	a, _ := NewAlphabet(DefaultNames)
	return a
}

type alphabetFile struct {
	Categories []string `yaml:"categories"`
}

// LoadAlphabet reads a YAML file of the form `categories: [Filter, Aggregate, ...]`.
// An empty path returns the default alphabet.
func LoadAlphabet(path string) (*Alphabet, error) {
	if path == "" {
		return DefaultAlphabet(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open alphabet: %w", err)
	}
	defer f.Close()

	var af alphabetFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&af); err != nil {
		return nil, fmt.Errorf("YAML syntax error in alphabet: %w", err)
	}
	return NewAlphabet(af.Categories)
}

// Parse maps a name onto a stage category. Sentinel names are rejected.
func (a *Alphabet) Parse(name string) (Category, error) {
	if c := Category(name); c.IsSentinel() {
		return "", fmt.Errorf("%w: %q", ErrReservedCategory, name)
	}
	c, ok := a.members[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, name)
	}
	return c, nil
}

// Contains reports whether c is a member or a sentinel.
func (a *Alphabet) Contains(c Category) bool {
	if c.IsSentinel() {
		return true
	}
	_, ok := a.members[string(c)]
	return ok
}

// Names returns the member names in lexical order.
func (a *Alphabet) Names() []string {
	return slices.Clone(a.names)
}

// Len is the number of ordinary members.
func (a *Alphabet) Len() int {
	return len(a.names)
}
