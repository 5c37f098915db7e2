// Package config implements the INI-like configuration store shared by
// every logic core, the link manager, and the daemon entrypoint.
//
// The on-disk format is section/tag/value, e.g.:
//
//	[SimplexLogic]
//	TYPE=Simplex
//	RX=Rx1
//	TX=Tx1
//
// A value set through SetValue or loaded from file is visible to both
// future GetValue calls and any subscriber registered with Subscribe.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Subscriber is invoked whenever a (section, tag) value changes, after the
// store has already committed the new value.
type Subscriber func(section, tag, value string)

// Store holds every section/tag/value triple for the running daemon plus
// the subscriber list. All mutation happens on the single event-loop
// goroutine; Store is not safe for concurrent use from multiple
// goroutines, matching the single-threaded event-loop model in §5.
type Store struct {
	sections    map[string]map[string]string
	order       []string // section names in first-seen order, for Sections()
	subscribers []Subscriber
}

// New returns an empty Store.
func New() *Store {
	return &Store{sections: make(map[string]map[string]string)}
}

// Subscribe registers fn to be called on every future SetValue, including
// ones applied while loading a file.
func (s *Store) Subscribe(fn Subscriber) {
	s.subscribers = append(s.subscribers, fn)
}

// GetValue returns the value for section/tag and whether it was present.
func (s *Store) GetValue(section, tag string) (string, bool) {
	sec, ok := s.sections[section]
	if !ok {
		return "", false
	}
	v, ok := sec[tag]
	return v, ok
}

// GetValueDefault returns the value for section/tag, or def if absent.
func (s *Store) GetValueDefault(section, tag, def string) string {
	if v, ok := s.GetValue(section, tag); ok {
		return v
	}
	return def
}

// GetValueInt parses the value as an integer, returning def on absence or
// parse failure.
func (s *Store) GetValueInt(section, tag string, def int) int {
	v, ok := s.GetValue(section, tag)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// GetValueBool follows the teacher's config.go convention that "1", "true",
// "yes", and "on" (case-insensitive) are truthy and "0", "false", "no",
// and "off" are falsy; any other value (or a missing tag) returns def.
func (s *Store) GetValueBool(section, tag string, def bool) bool {
	v, ok := s.GetValue(section, tag)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// SetValue sets section/tag to value and notifies subscribers. Setting the
// same value it already held still notifies (R1: setValue followed by
// getValue must return that same string, with no special-casing of
// no-op writes).
func (s *Store) SetValue(section, tag, value string) {
	sec, ok := s.sections[section]
	if !ok {
		sec = make(map[string]string)
		s.sections[section] = sec
		s.order = append(s.order, section)
	}
	sec[tag] = value
	for _, fn := range s.subscribers {
		fn(section, tag, value)
	}
}

// Sections returns section names in first-seen order.
func (s *Store) Sections() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Tags returns the tag names of a section, sorted.
func (s *Store) Tags(section string) []string {
	sec, ok := s.sections[section]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(sec))
	for k := range sec {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LoadINIFile opens path and calls LoadINI on its contents.
func (s *Store) LoadINIFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return s.LoadINI(f, path)
}

// LoadINI parses an INI-like stream: blank lines and lines starting with
// ';' or '#' are ignored; "[Section]" opens a section; "Tag=Value" sets a
// value in the current section, with surrounding whitespace trimmed from
// both tag and value and inline ';'/'#' comments stripped only when not
// inside a quoted value. Grounded on the teacher's config.go line-by-line
// scan, re-expressed without its cgo scaffolding.
func (s *Store) LoadINI(r io.Reader, sourceName string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	section := ""
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			end := strings.IndexByte(line, ']')
			if end < 0 {
				return fmt.Errorf("config: %s:%d: unterminated section header", sourceName, lineNo)
			}
			section = strings.TrimSpace(line[1:end])
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return fmt.Errorf("config: %s:%d: expected Tag=Value", sourceName, lineNo)
		}
		tag := strings.TrimSpace(line[:eq])
		value := stripInlineComment(strings.TrimSpace(line[eq+1:]))
		if section == "" {
			return fmt.Errorf("config: %s:%d: %q set outside of any section", sourceName, lineNo, tag)
		}
		s.SetValue(section, tag, value)
	}
	return scanner.Err()
}

func stripInlineComment(v string) string {
	if strings.HasPrefix(v, `"`) {
		return v
	}
	if i := strings.IndexAny(v, ";#"); i >= 0 {
		return strings.TrimSpace(v[:i])
	}
	return v
}

// yamlDoc is the shape accepted by LoadYAMLFile: a map of section name to a
// map of tag to value, values coerced to strings so they land in the same
// key space as LoadINI.
type yamlDoc map[string]map[string]yaml.Node

// LoadYAMLFile loads a YAML document of the shape:
//
//	SimplexLogic:
//	  TYPE: Simplex
//	  RX: Rx1
//
// and normalizes every scalar into the same section/tag/value space used
// by LoadINI. There is no include mechanism; one file is read.
func (s *Store) LoadYAMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	for section, tags := range doc {
		for tag, node := range tags {
			s.SetValue(section, tag, strings.TrimSpace(node.Value))
		}
	}
	return nil
}
