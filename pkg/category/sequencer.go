package category

import (
	"fmt"
	"maps"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Sequencer turns one query's text into its ordered stage categories.
// An empty result means the query could not be categorized.
type Sequencer interface {
	Sequence(text string) []Category
}

// DefaultCommands maps search commands to category names. It covers the
// commands that dominate the query logs; anything else falls back.
var DefaultCommands = map[string]string{
	"search": "Filter", "where": "Filter", "head": "Filter", "tail": "Filter",
	"dedup": "Filter", "regex": "Filter", "uniq": "Filter",

	"stats": "Aggregate", "chart": "Aggregate", "timechart": "Aggregate", "top": "Aggregate",
	"rare": "Aggregate", "sistats": "Aggregate", "sichart": "Aggregate", "sitimechart": "Aggregate",
	"tstats": "Aggregate", "transaction": "Aggregate", "cluster": "Aggregate", "geostats": "Aggregate",
	"contingency": "Aggregate", "mstats": "Aggregate",

	"eval": "Augment", "rex": "Augment", "spath": "Augment", "extract": "Augment", "kv": "Augment",
	"bin": "Augment", "bucket": "Augment", "iplocation": "Augment", "addinfo": "Augment",
	"addtotals": "Augment", "xmlkv": "Augment", "strcat": "Augment", "erex": "Augment",

	"streamstats": "Window", "eventstats": "Window", "autoregress": "Window", "delta": "Window",
	"trendline": "Window", "accum": "Window",

	"table": "Project", "fields": "Project", "rename": "Rename", "sort": "Reorder", "reverse": "Reorder",

	"join": "Join", "lookup": "Join", "selfjoin": "Join",
	"append": "Set", "appendcols": "Set", "appendpipe": "Set", "set": "Set", "union": "Set",
	"multisearch": "Set",

	"inputlookup": "Input", "inputcsv": "Input", "datamodel": "Input",
	"loadjob": "Cache", "savedsearch": "Cache",
	"metadata": "Read Metadata", "dbinspect": "Read Metadata", "rest": "Read Metadata",
	"eventcount": "Read Metadata", "typeahead": "Read Metadata", "audit": "Read Metadata",

	"outputlookup": "Output", "outputcsv": "Output", "collect": "Output", "sendemail": "Output",
	"tscollect": "Output",

	"makemv": "Transform", "mvexpand": "Transform", "nomv": "Transform", "convert": "Transform",
	"fillnull": "Transform", "replace": "Transform", "mvcombine": "Transform",
	"fieldformat": "Transform", "filldown": "Transform",

	"transpose": "Transpose", "xyseries": "Transpose", "untable": "Transpose",

	"map": "Meta", "foreach": "Meta", "localop": "Meta", "noop": "Meta", "format": "Meta",
	"return": "Meta",

	"script": "External", "run": "External", "dbquery": "External", "dbxquery": "External",
}

const (
	macroCategory   = "Macro"
	implicitCommand = "search"
	defaultFallback = "Miscellaneous"
)

// TableSequencer categorizes stages by looking up each stage's command in a
// table. Commands missing from the table map to Fallback; if Fallback is
// empty the whole query is treated as uncategorizable.
type TableSequencer struct {
	commands map[string]Category
	macro    Category
	fallback Category
}

// CommandTable is the YAML form of a sequencer table.
type CommandTable struct {
	Commands map[string]string `yaml:"commands"`
	Fallback string            `yaml:"fallback"`
}

// DefaultCommandTable returns a copy of the built-in table, safe to modify.
func DefaultCommandTable() CommandTable {
	return CommandTable{Commands: maps.Clone(DefaultCommands), Fallback: defaultFallback}
}

// LoadCommandTable reads a command table from YAML. An empty path returns the
// built-in table.
func LoadCommandTable(path string) (CommandTable, error) {
	if path == "" {
		return DefaultCommandTable(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return CommandTable{}, fmt.Errorf("failed to open command table: %w", err)
	}
	defer f.Close()

	var t CommandTable
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return CommandTable{}, fmt.Errorf("YAML syntax error in command table: %w", err)
	}
	return t, nil
}

// NewTableSequencer resolves every table entry against the alphabet, so a
// table naming a category the alphabet lacks fails at startup.
func NewTableSequencer(a *Alphabet, t CommandTable) (*TableSequencer, error) {
	s := &TableSequencer{commands: make(map[string]Category, len(t.Commands))}
	for cmd, name := range t.Commands {
		c, err := a.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", cmd, err)
		}
		s.commands[strings.ToLower(cmd)] = c
	}
	if m, err := a.Parse(macroCategory); err == nil {
		s.macro = m
	}
	if t.Fallback != "" {
		c, err := a.Parse(t.Fallback)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		s.fallback = c
	}
	return s, nil
}

// Sequence implements Sequencer.
func (s *TableSequencer) Sequence(text string) []Category {
	stages := SplitStages(text)
	if len(stages) == 0 {
		return nil
	}
	out := make([]Category, 0, len(stages))
	for i, stage := range stages {
		c, ok := s.lookup(stage, i == 0)
		if !ok {
			return nil
		}
		out = append(out, c)
	}
	return out
}

func (s *TableSequencer) lookup(stage string, first bool) (Category, bool) {
	if strings.HasPrefix(stage, "`") {
		if s.macro == "" {
			return s.fallback, s.fallback != ""
		}
		return s.macro, true
	}
	cmd := commandName(stage)
	if c, ok := s.commands[cmd]; ok {
		return c, true
	}
	// A leading stage without a command is an implicit search.
	if first {
		if c, ok := s.commands[implicitCommand]; ok {
			return c, true
		}
	}
	return s.fallback, s.fallback != ""
}

func commandName(stage string) string {
	end := strings.IndexFunc(stage, func(r rune) bool {
		return unicode.IsSpace(r) || r == '(' || r == '['
	})
	if end < 0 {
		end = len(stage)
	}
	return strings.ToLower(stage[:end])
}

// SplitStages splits a query on top-level pipes. Pipes inside quotes or
// inside [...] subsearches do not split. Empty stages are dropped, which
// also covers queries that start with a pipe.
func SplitStages(text string) []string {
	var (
		stages []string
		cur    strings.Builder
		quote  rune
		depth  int
		escape bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stages = append(stages, s)
		}
		cur.Reset()
	}
	for _, r := range text {
		switch {
		case escape:
			escape = false
		case quote != 0:
			if r == '\\' {
				escape = true
			} else if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '[':
			depth++
		case r == ']':
			if depth > 0 {
				depth--
			}
		case r == '|' && depth == 0:
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return stages
}
