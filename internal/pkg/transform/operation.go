package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf16"

	"github.com/bytedance/sonic"
)

type Kind string

const (
	Insert Kind = "insert"
	Delete Kind = "delete"
)

var (
	ErrUnknownKind    = errors.New("unknown operation kind")
	ErrInvalidPayload = errors.New("invalid operation payload")
	ErrNegativeOffset = errors.New("operation offset must not be negative")
	ErrEmptyOperation = errors.New("operation has no effect")
)

// Operation is a single edit against one file. Offsets and lengths are counted
// in UTF-16 code units, the unit the browser editor reports.
type Operation struct {
	Kind   Kind
	Offset int
	// Text is the inserted text, only set for inserts.
	Text string
	// Length is the number of deleted code units, only set for deletes.
	Length int
}

// Len returns how many code units the operation adds or removes.
func (o Operation) Len() int {
	if o.Kind == Insert {
		return utf16Len(o.Text)
	}
	return o.Length
}

func (o Operation) Validate() error {
	switch o.Kind {
	case Insert:
		if o.Text == "" {
			return ErrEmptyOperation
		}
	case Delete:
		if o.Length <= 0 {
			return ErrEmptyOperation
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, o.Kind)
	}
	if o.Offset < 0 {
		return ErrNegativeOffset
	}
	return nil
}

// wireOperation is the JSON shape exchanged with clients: payload is a string
// for inserts and the deleted length for deletes.
type wireOperation struct {
	Kind    Kind            `json:"kind"`
	Offset  int             `json:"offset"`
	Payload json.RawMessage `json:"payload"`
}

func (o Operation) MarshalJSON() ([]byte, error) {
	var payload any = o.Length
	if o.Kind == Insert {
		payload = o.Text
	}
	raw, err := sonic.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(wireOperation{Kind: o.Kind, Offset: o.Offset, Payload: raw})
}

func (o *Operation) UnmarshalJSON(data []byte) error {
	var w wireOperation
	if err := sonic.Unmarshal(data, &w); err != nil {
		return err
	}
	if len(w.Payload) == 0 {
		return fmt.Errorf("%w: missing payload", ErrInvalidPayload)
	}

	op := Operation{Kind: w.Kind, Offset: w.Offset}
	switch w.Kind {
	case Insert:
		if err := sonic.Unmarshal(w.Payload, &op.Text); err != nil {
			return fmt.Errorf("%w: insert payload must be a string", ErrInvalidPayload)
		}
	case Delete:
		if err := sonic.Unmarshal(w.Payload, &op.Length); err != nil {
			return fmt.Errorf("%w: delete payload must be an integer length", ErrInvalidPayload)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, w.Kind)
	}
	*o = op
	return nil
}

// Apply returns doc with op applied. Offsets past the end are clamped, which
// mirrors what the editor does with a stale position.
func Apply(doc string, op Operation) string {
	units := utf16.Encode([]rune(doc))
	at := clamp(op.Offset, 0, len(units))

	switch op.Kind {
	case Insert:
		ins := utf16.Encode([]rune(op.Text))
		out := make([]uint16, 0, len(units)+len(ins))
		out = append(out, units[:at]...)
		out = append(out, ins...)
		out = append(out, units[at:]...)
		return string(utf16.Decode(out))
	case Delete:
		end := clamp(at+op.Length, at, len(units))
		out := make([]uint16, 0, len(units)-(end-at))
		out = append(out, units[:at]...)
		out = append(out, units[end:]...)
		return string(utf16.Decode(out))
	}
	return doc
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
