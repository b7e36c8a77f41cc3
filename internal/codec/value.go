// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package codec

// Value is the Bolt value union described by spec.md §3: Null, Bool,
// Int64, Float64, String, Bytes, List, Map, Node, Relationship,
// UnboundRelationship, Path, Struct, and Identity. Concrete Go types stand
// in for each variant; a decoded value's dynamic type tells you which
// variant it is.
//
//	nil              -> Null
//	bool             -> Bool
//	int64            -> Int64
//	float64          -> Float64
//	string           -> String
//	[]byte           -> Bytes
//	[]Value          -> List
//	map[string]Value -> Map
//	Node, Relationship, UnboundRelationship, Path, Struct, Identity
type Value = any

// Identity wraps a non-negative integer entity identifier (spec.md §3).
type Identity int64

// Node is the decoded form of struct signature 0x4E: [Int id, List<String>
// labels, Map props].
type Node struct {
	ID     Identity
	Labels []string
	Props  map[string]Value
}

// Relationship is the decoded form of struct signature 0x52: [Int id, Int
// start, Int end, String type, Map props].
type Relationship struct {
	ID    Identity
	Start Identity
	End   Identity
	Type  string
	Props map[string]Value
}

// UnboundRelationship is the decoded form of struct signature 0x72: [Int
// id, String type, Map props]. It appears inside a Path, where start/end
// node identities are implied by the path's sequence rather than carried
// directly.
type UnboundRelationship struct {
	ID    Identity
	Type  string
	Props map[string]Value
}

// Path is the decoded form of struct signature 0x50: [List<Node> nodes,
// List<UnboundRelationship> rels, List<Int> sequence]. Sequence alternates
// (relIndex, nodeIndex): relIndex is 1-based with its sign indicating
// traversal direction (negative = reversed), nodeIndex is 0-based into
// Nodes.
type Path struct {
	Nodes    []Node
	Rels     []UnboundRelationship
	Sequence []int64
}

// Struct is the generic decoded form used for any signature not recognized
// as Node/Relationship/UnboundRelationship/Path.
type Struct struct {
	Signature byte
	Fields    []Value
}

// ValuesEqual implements spec.md §8's "Value round-trip" equality: maps
// compare order-insensitively (by key/value pairs), lists compare
// order-sensitively, everything else by ordinary equality.
func ValuesEqual(a, b Value) bool {
	switch av := a.(type) {
	case map[string]Value:
		bv, ok := b.(map[string]Value)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, aval := range av {
			bval, ok := bv[k]
			if !ok || !ValuesEqual(aval, bval) {
				return false
			}
		}
		return true
	case []Value:
		bv, ok := b.([]Value)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case []byte:
		bv, ok := b.([]byte)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case Node:
		bv, ok := b.(Node)
		if !ok || av.ID != bv.ID || len(av.Labels) != len(bv.Labels) {
			return false
		}
		for i := range av.Labels {
			if av.Labels[i] != bv.Labels[i] {
				return false
			}
		}
		return ValuesEqual(mapValue(av.Props), mapValue(bv.Props))
	case Relationship:
		bv, ok := b.(Relationship)
		if !ok {
			return false
		}
		return av.ID == bv.ID && av.Start == bv.Start && av.End == bv.End &&
			av.Type == bv.Type && ValuesEqual(mapValue(av.Props), mapValue(bv.Props))
	case UnboundRelationship:
		bv, ok := b.(UnboundRelationship)
		if !ok {
			return false
		}
		return av.ID == bv.ID && av.Type == bv.Type &&
			ValuesEqual(mapValue(av.Props), mapValue(bv.Props))
	case Path:
		bv, ok := b.(Path)
		if !ok || len(av.Nodes) != len(bv.Nodes) || len(av.Rels) != len(bv.Rels) || len(av.Sequence) != len(bv.Sequence) {
			return false
		}
		for i := range av.Nodes {
			if !ValuesEqual(av.Nodes[i], bv.Nodes[i]) {
				return false
			}
		}
		for i := range av.Rels {
			if !ValuesEqual(av.Rels[i], bv.Rels[i]) {
				return false
			}
		}
		for i := range av.Sequence {
			if av.Sequence[i] != bv.Sequence[i] {
				return false
			}
		}
		return true
	case Struct:
		bv, ok := b.(Struct)
		if !ok || av.Signature != bv.Signature || len(av.Fields) != len(bv.Fields) {
			return false
		}
		for i := range av.Fields {
			if !ValuesEqual(av.Fields[i], bv.Fields[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func mapValue(m map[string]Value) Value {
	if m == nil {
		return map[string]Value{}
	}
	return m
}
