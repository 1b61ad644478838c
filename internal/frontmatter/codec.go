// Package frontmatter parses and serializes the structured YAML header block
// at the top of a tracked markdown file. Decode and Encode are pure: no I/O,
// and Encode is deterministic so content fingerprints stay meaningful across
// re-saves that do not change logical content.
package frontmatter

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// delimiter opens and closes the header block.
const delimiter = "---"

// ErrNoFrontmatter is returned by Decode when the file has no header block
// at all. Such files are not sync candidates; this is not a failure.
var ErrNoFrontmatter = errors.New("no frontmatter block")

// MalformedError means a header block is present but cannot be parsed:
// broken delimiters, invalid YAML, or a field that does not decode.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed frontmatter: %s: %v", e.Reason, e.Err)
	}
	return "malformed frontmatter: " + e.Reason
}

func (e *MalformedError) Unwrap() error { return e.Err }

// ExtraField is an unknown header key preserved verbatim on round-trip.
// Order is significant: extras re-encode in the order they were read.
type ExtraField struct {
	Key   string
	Value *yaml.Node
}

// Fields is the typed view of a header block: the fixed known-field set plus
// the ordered unknown-key passthrough.
type Fields struct {
	Marker   string
	Kind     string
	Title    string
	Status   string
	Priority string
	Due      time.Time
	Created  time.Time
	Updated  time.Time
	Extra    []ExtraField
}

// knownKeys lists the header keys the codec owns, in canonical encode order.
var knownKeys = []string{"marker", "type", "title", "status", "priority", "due", "created", "updated"}

var knownKeySet = func() map[string]bool {
	m := make(map[string]bool, len(knownKeys))
	for _, k := range knownKeys {
		m[k] = true
	}
	return m
}()

// Decode splits data into header fields and body text.
//
// A file whose first line is not the "---" delimiter has no frontmatter and
// returns ErrNoFrontmatter with the full content as body. A present but
// unparseable header returns a *MalformedError.
func Decode(data []byte) (*Fields, []byte, error) {
	first, rest, found := bytes.Cut(data, []byte("\n"))
	if !found || string(trimCR(first)) != delimiter {
		return nil, data, ErrNoFrontmatter
	}

	header, body, err := splitHeader(rest)
	if err != nil {
		return nil, nil, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(header, &doc); err != nil {
		return nil, nil, &MalformedError{Reason: "invalid YAML in header", Err: err}
	}
	if len(doc.Content) == 0 {
		return &Fields{}, body, nil
	}
	mapping := doc.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, nil, &MalformedError{Reason: "header is not a key/value mapping"}
	}

	f := &Fields{}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		keyNode := mapping.Content[i]
		valNode := mapping.Content[i+1]
		if err := f.setField(keyNode.Value, valNode); err != nil {
			return nil, nil, err
		}
	}
	return f, body, nil
}

// splitHeader scans for the closing delimiter line and returns the raw
// header bytes and the body after the delimiter line.
func splitHeader(rest []byte) (header, body []byte, err error) {
	offset := 0
	for offset <= len(rest) {
		lineEnd := bytes.IndexByte(rest[offset:], '\n')
		var line []byte
		next := len(rest)
		if lineEnd >= 0 {
			line = rest[offset : offset+lineEnd]
			next = offset + lineEnd + 1
		} else {
			line = rest[offset:]
		}
		if string(trimCR(line)) == delimiter {
			return rest[:offset], rest[next:], nil
		}
		if lineEnd < 0 {
			break
		}
		offset = next
	}
	return nil, nil, &MalformedError{Reason: "unterminated header block"}
}

func (f *Fields) setField(key string, val *yaml.Node) error {
	if !knownKeySet[key] {
		f.Extra = append(f.Extra, ExtraField{Key: key, Value: val})
		return nil
	}
	if val.Kind != yaml.ScalarNode {
		return &MalformedError{Reason: fmt.Sprintf("field %q must be a scalar", key)}
	}

	switch key {
	case "marker":
		f.Marker = val.Value
	case "type":
		f.Kind = val.Value
	case "title":
		f.Title = val.Value
	case "status":
		f.Status = val.Value
	case "priority":
		f.Priority = val.Value
	case "due", "created", "updated":
		t, err := parseFileTime(val.Value)
		if err != nil {
			return &MalformedError{Reason: fmt.Sprintf("field %q", key), Err: err}
		}
		switch key {
		case "due":
			f.Due = t
		case "created":
			f.Created = t
		case "updated":
			f.Updated = t
		}
	}
	return nil
}

// parseFileTime accepts RFC3339 timestamps and bare dates, since users edit
// these by hand.
func parseFileTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}
	return t, nil
}

// Encode serializes fields and body back into file bytes. It is the exact
// left inverse of Decode for any Fields that Decode can produce: known keys
// emit in canonical order, extras in their preserved order, and identical
// logical fields always produce identical bytes.
func Encode(f *Fields, body []byte) ([]byte, error) {
	mapping := &yaml.Node{Kind: yaml.MappingNode}

	addScalar := func(key, value string) {
		mapping.Content = append(mapping.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: value},
		)
	}
	addTime := func(key string, t time.Time) {
		if !t.IsZero() {
			addScalar(key, t.UTC().Format(time.RFC3339))
		}
	}

	if f.Marker != "" {
		addScalar("marker", f.Marker)
	}
	if f.Kind != "" {
		addScalar("type", f.Kind)
	}
	if f.Title != "" {
		addScalar("title", f.Title)
	}
	if f.Status != "" {
		addScalar("status", f.Status)
	}
	if f.Priority != "" {
		addScalar("priority", f.Priority)
	}
	addTime("due", f.Due)
	addTime("created", f.Created)
	addTime("updated", f.Updated)

	for _, extra := range f.Extra {
		mapping.Content = append(mapping.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: extra.Key},
			extra.Value,
		)
	}

	var buf bytes.Buffer
	buf.WriteString(delimiter)
	buf.WriteByte('\n')

	if len(mapping.Content) > 0 {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(mapping); err != nil {
			return nil, fmt.Errorf("encode header: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("close encoder: %w", err)
		}
	}

	buf.WriteString(delimiter)
	buf.WriteByte('\n')
	buf.Write(body)
	return buf.Bytes(), nil
}

func trimCR(line []byte) []byte {
	return bytes.TrimSuffix(line, []byte("\r"))
}
