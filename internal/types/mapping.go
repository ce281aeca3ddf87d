package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Mapping is the root record: group name -> group, iterated in insertion
// order. The JSON form is a single object whose key order is that order.
type Mapping struct {
	order  []string
	groups map[string]*Group
}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{groups: make(map[string]*Group)}
}

// Len returns the number of groups.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// Names returns group names in insertion order.
func (m *Mapping) Names() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Get returns the group stored under name.
func (m *Mapping) Get(name string) (*Group, bool) {
	if m == nil {
		return nil, false
	}
	g, ok := m.groups[name]
	return g, ok
}

// Has reports whether a group named name exists.
func (m *Mapping) Has(name string) bool {
	_, ok := m.Get(name)
	return ok
}

// Put stores g under g.Name. A new name is appended to the end; an existing
// name keeps its position.
func (m *Mapping) Put(g *Group) {
	if m.groups == nil {
		m.groups = make(map[string]*Group)
	}
	if _, ok := m.groups[g.Name]; !ok {
		m.order = append(m.order, g.Name)
	}
	m.groups[g.Name] = g
}

// Delete removes the group named name and reports whether it existed.
func (m *Mapping) Delete(name string) bool {
	if _, ok := m.Get(name); !ok {
		return false
	}
	delete(m.groups, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

// Groups returns the groups in insertion order. The pointers are shared with
// the mapping; use Clone first when handing them out.
func (m *Mapping) Groups() []*Group {
	if m == nil {
		return nil
	}
	out := make([]*Group, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.groups[name])
	}
	return out
}

// Clone returns a deep copy.
func (m *Mapping) Clone() *Mapping {
	c := NewMapping()
	for _, g := range m.Groups() {
		c.Put(g.Clone())
	}
	return c
}

func (m *Mapping) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, name := range m.order {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m.groups[name])
		if err != nil {
			return nil, fmt.Errorf("encode group %q: %w", name, err)
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(val)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// UnmarshalJSON decodes an object while keeping its key order. The object
// key is authoritative for the group name.
func (m *Mapping) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode mapping: %w", err)
	}
	out := NewMapping()
	if tok == nil {
		*m = *out
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("decode mapping: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode mapping: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("decode mapping: unexpected key %v", tok)
		}
		var g Group
		if err := dec.Decode(&g); err != nil {
			return fmt.Errorf("decode group %q: %w", name, err)
		}
		g.Name = name
		out.Put(&g)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode mapping: %w", err)
	}
	*m = *out
	return nil
}
