// Package chain is the host side of the indexer: decoded ledger operations,
// the events the host emits around them, the live content table, and a Host
// that replays blocks through an event handler.
package chain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Operation is a decoded ledger operation. The set is closed: CommentOp,
// DeleteCommentOp, or OtherOp for everything the indexer ignores.
type Operation interface {
	// OpName is the operation's wire type name.
	OpName() string
	isOperation()
}

// CommentOp creates or edits a comment.
type CommentOp struct {
	ParentAuthor   string `json:"parent_author" yaml:"parent_author"`
	ParentPermlink string `json:"parent_permlink" yaml:"parent_permlink"`
	Author         string `json:"author" yaml:"author"`
	Permlink       string `json:"permlink" yaml:"permlink"`
	Title          string `json:"title" yaml:"title"`
	Body           string `json:"body" yaml:"body"`
	JSONMetadata   string `json:"json_metadata" yaml:"json_metadata"`
}

// DeleteCommentOp deletes a comment.
type DeleteCommentOp struct {
	Author   string `json:"author" yaml:"author"`
	Permlink string `json:"permlink" yaml:"permlink"`
}

// OtherOp is any operation the indexer does not look at.
type OtherOp struct {
	Name string
}

// Wire type names.
const (
	OpNameComment       = "comment"
	OpNameDeleteComment = "delete_comment"
)

func (CommentOp) OpName() string       { return OpNameComment }
func (DeleteCommentOp) OpName() string { return OpNameDeleteComment }
func (o OtherOp) OpName() string       { return o.Name }

func (CommentOp) isOperation()       {}
func (DeleteCommentOp) isOperation() {}
func (OtherOp) isOperation()         {}

// Envelope carries an Operation in its tagged wire form:
//
//	{"type": "comment", "value": {...}}
//
// Unknown types decode to OtherOp with the value discarded.
type Envelope struct {
	Operation
}

type jsonEnvelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Operation == nil {
		return nil, fmt.Errorf("marshal operation: empty envelope")
	}
	out := jsonEnvelope{Type: e.OpName()}
	switch op := e.Operation.(type) {
	case CommentOp, DeleteCommentOp:
		v, err := json.Marshal(op)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", e.OpName(), err)
		}
		out.Value = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var in jsonEnvelope
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("unmarshal operation: %w", err)
	}
	if in.Type == "" {
		return fmt.Errorf("unmarshal operation: missing type")
	}

	decode := func(v any) error {
		if len(in.Value) == 0 {
			return nil
		}
		return json.Unmarshal(in.Value, v)
	}

	switch in.Type {
	case OpNameComment:
		var op CommentOp
		if err := decode(&op); err != nil {
			return fmt.Errorf("unmarshal %s: %w", in.Type, err)
		}
		e.Operation = op
	case OpNameDeleteComment:
		var op DeleteCommentOp
		if err := decode(&op); err != nil {
			return fmt.Errorf("unmarshal %s: %w", in.Type, err)
		}
		e.Operation = op
	default:
		e.Operation = OtherOp{Name: in.Type}
	}
	return nil
}

type yamlEnvelope struct {
	Type  string    `yaml:"type"`
	Value yaml.Node `yaml:"value,omitempty"`
}

// MarshalYAML implements yaml.Marshaler.
func (e Envelope) MarshalYAML() (interface{}, error) {
	if e.Operation == nil {
		return nil, fmt.Errorf("marshal operation: empty envelope")
	}
	switch op := e.Operation.(type) {
	case CommentOp, DeleteCommentOp:
		return struct {
			Type  string    `yaml:"type"`
			Value Operation `yaml:"value"`
		}{e.OpName(), op}, nil
	}
	return struct {
		Type string `yaml:"type"`
	}{e.OpName()}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *Envelope) UnmarshalYAML(node *yaml.Node) error {
	var in yamlEnvelope
	if err := node.Decode(&in); err != nil {
		return fmt.Errorf("unmarshal operation: %w", err)
	}
	if in.Type == "" {
		return fmt.Errorf("unmarshal operation: missing type (line %d)", node.Line)
	}

	decode := func(v any) error {
		if in.Value.Kind == 0 {
			return nil
		}
		// Node.Decode ignores KnownFields, so decode the value again from text.
		raw, err := yaml.Marshal(&in.Value)
		if err != nil {
			return err
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		return dec.Decode(v)
	}

	switch in.Type {
	case OpNameComment:
		var op CommentOp
		if err := decode(&op); err != nil {
			return fmt.Errorf("unmarshal %s: %w", in.Type, err)
		}
		e.Operation = op
	case OpNameDeleteComment:
		var op DeleteCommentOp
		if err := decode(&op); err != nil {
			return fmt.Errorf("unmarshal %s: %w", in.Type, err)
		}
		e.Operation = op
	default:
		e.Operation = OtherOp{Name: in.Type}
	}
	return nil
}
