// Package document holds one editable playground document together with
// its linear undo/redo history.
//
// A Slot is not safe for concurrent use; the session that owns it
// serializes every mutation.
package document

import "fmt"

// Kind identifies one of the three playground documents.
type Kind int

const (
	Template Kind = iota
	Model
	Data
)

// Kinds lists every document kind in display order.
var Kinds = []Kind{Template, Model, Data}

// String returns the name used in URLs and logs.
func (k Kind) String() string {
	switch k {
	case Template:
		return "template"
	case Model:
		return "model"
	case Data:
		return "data"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses a document kind name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "template":
		return Template, nil
	case "model":
		return Model, nil
	case "data":
		return Data, nil
	default:
		return 0, fmt.Errorf("unknown document kind %q", s)
	}
}

// History is a copy of a slot's undo/redo stacks. Past is ordered oldest
// to newest; Future is ordered nearest-undo first.
type History struct {
	Past   []string `json:"past"`
	Future []string `json:"future"`
}

// Slot is a single document value plus its history.
type Slot struct {
	kind    Kind
	current string
	buffer  string
	past    []string
	future  []string
}

// NewSlot creates a slot with an empty history.
func NewSlot(kind Kind, initial string) *Slot {
	return &Slot{
		kind:    kind,
		current: initial,
		buffer:  initial,
	}
}

// Kind returns the document kind.
func (s *Slot) Kind() Kind { return s.kind }

// Current returns the authoritative value.
func (s *Slot) Current() string { return s.current }

// Buffer returns the value bound to the editor.
func (s *Slot) Buffer() string { return s.buffer }

// Set records the current value in the past, discards the redo stack and
// makes v current. No deduplication: setting the same value still pushes
// history.
func (s *Slot) Set(v string) {
	s.past = append(s.past, s.current)
	s.future = nil
	s.current = v
	s.buffer = v
}

// SetBuffer updates only the editor buffer.
func (s *Slot) SetBuffer(v string) {
	s.buffer = v
}

// Undo restores the most recent past value. It reports false and does
// nothing when there is no history.
func (s *Slot) Undo() bool {
	if len(s.past) == 0 {
		return false
	}

	last := len(s.past) - 1
	previous := s.past[last]
	s.past = s.past[:last]

	s.future = append(s.future, "")
	copy(s.future[1:], s.future)
	s.future[0] = s.current

	s.current = previous
	s.buffer = previous
	return true
}

// Redo re-applies the nearest undone value. It reports false and does
// nothing when the redo stack is empty.
func (s *Slot) Redo() bool {
	if len(s.future) == 0 {
		return false
	}

	next := s.future[0]
	s.future = s.future[1:]
	s.past = append(s.past, s.current)

	s.current = next
	s.buffer = next
	return true
}

// Reset replaces the value and clears both stacks without recording
// history.
func (s *Slot) Reset(v string) {
	s.current = v
	s.buffer = v
	s.past = nil
	s.future = nil
}

// CanUndo reports whether Undo would change the value.
func (s *Slot) CanUndo() bool { return len(s.past) > 0 }

// CanRedo reports whether Redo would change the value.
func (s *Slot) CanRedo() bool { return len(s.future) > 0 }

// History returns a copy of the undo/redo stacks.
func (s *Slot) History() History {
	return History{
		Past:   append([]string{}, s.past...),
		Future: append([]string{}, s.future...),
	}
}
