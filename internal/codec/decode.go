// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package codec

import (
	"encoding/binary"
	"io"
	"math"
)

// Decoder deserializes Values read from an io.Reader (normally a
// *chunking.ChunkingStream). Dispatch on the marker byte is done by range
// comparison rather than a 256-entry table: the marker space has wide
// contiguous bands (tiny int, tiny string, tiny list, ...) that a switch
// over ranges expresses more directly than a lookup table would.
type Decoder struct {
	r io.Reader
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder { return &Decoder{r: r} }

func (d *Decoder) readByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Decode reads and returns the next Value.
func (d *Decoder) Decode() (Value, error) {
	marker, err := d.readByte()
	if err != nil {
		return nil, err
	}
	return d.decodeMarker(marker)
}

func (d *Decoder) decodeMarker(marker byte) (Value, error) {
	switch {
	case marker <= markerTinyIntPosMax:
		return int64(marker), nil
	case marker >= markerTinyIntNegMin:
		return int64(int8(marker)), nil
	case marker >= markerTinyStringMin && marker <= markerTinyStringMax:
		return d.readString(int(marker - markerTinyStringMin))
	case marker >= markerTinyListMin && marker <= markerTinyListMax:
		return d.readList(int(marker - markerTinyListMin))
	case marker >= markerTinyMapMin && marker <= markerTinyMapMax:
		return d.readMap(int(marker - markerTinyMapMin))
	case marker >= markerTinyStructMin && marker <= markerTinyStructMax:
		return d.readStruct(int(marker - markerTinyStructMin))
	}

	switch marker {
	case markerNull:
		return nil, nil
	case markerFalse:
		return false, nil
	case markerTrue:
		return true, nil
	case markerFloat64:
		b, err := d.readN(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case markerInt8:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return int64(int8(b)), nil
	case markerInt16:
		b, err := d.readN(2)
		if err != nil {
			return nil, err
		}
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case markerInt32:
		b, err := d.readN(4)
		if err != nil {
			return nil, err
		}
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	case markerInt64:
		b, err := d.readN(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.BigEndian.Uint64(b)), nil
	case markerBytes8:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.readN(int(n))
	case markerBytes16:
		b, err := d.readN(2)
		if err != nil {
			return nil, err
		}
		return d.readN(int(binary.BigEndian.Uint16(b)))
	case markerBytes32:
		b, err := d.readN(4)
		if err != nil {
			return nil, err
		}
		return d.readN(int(binary.BigEndian.Uint32(b)))
	case markerString8:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.readString(int(n))
	case markerString16:
		b, err := d.readN(2)
		if err != nil {
			return nil, err
		}
		return d.readString(int(binary.BigEndian.Uint16(b)))
	case markerString32:
		b, err := d.readN(4)
		if err != nil {
			return nil, err
		}
		return d.readString(int(binary.BigEndian.Uint32(b)))
	case markerList8:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.readList(int(n))
	case markerList16:
		b, err := d.readN(2)
		if err != nil {
			return nil, err
		}
		return d.readList(int(binary.BigEndian.Uint16(b)))
	case markerList32:
		b, err := d.readN(4)
		if err != nil {
			return nil, err
		}
		return d.readList(int(binary.BigEndian.Uint32(b)))
	case markerMap8:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.readMap(int(n))
	case markerMap16:
		b, err := d.readN(2)
		if err != nil {
			return nil, err
		}
		return d.readMap(int(binary.BigEndian.Uint16(b)))
	case markerMap32:
		b, err := d.readN(4)
		if err != nil {
			return nil, err
		}
		return d.readMap(int(binary.BigEndian.Uint32(b)))
	case markerStruct8:
		n, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return d.readStruct(int(n))
	case markerStruct16:
		b, err := d.readN(2)
		if err != nil {
			return nil, err
		}
		return d.readStruct(int(binary.BigEndian.Uint16(b)))
	}

	return nil, decodeErr(ErrProtocol, "unassigned marker 0x%02X", marker)
}

func (d *Decoder) readString(n int) (string, error) {
	b, err := d.readN(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Decoder) readList(n int) ([]Value, error) {
	out := make([]Value, n)
	for i := 0; i < n; i++ {
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// readMap enforces spec.md §4.4's rule that every Map key must decode to a
// String, independent of whether the map is later recognized as a struct's
// Props field.
func (d *Decoder) readMap(n int) (map[string]Value, error) {
	out := make(map[string]Value, n)
	for i := 0; i < n; i++ {
		k, err := d.Decode()
		if err != nil {
			return nil, err
		}
		key, ok := k.(string)
		if !ok {
			return nil, decodeErr(ErrInvalidMapKeyType, "map key must be a String, got %T", k)
		}
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func (d *Decoder) readStruct(argc int) (Value, error) {
	sig, err := d.readByte()
	if err != nil {
		return nil, err
	}
	fields := make([]Value, argc)
	for i := 0; i < argc; i++ {
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		fields[i] = v
	}

	switch sig {
	case SigNode:
		return decodeNode(fields)
	case SigRelationship:
		return decodeRelationship(fields)
	case SigUnboundRelationship:
		return decodeUnboundRelationship(fields)
	case SigPath:
		return decodePath(fields)
	default:
		return Struct{Signature: sig, Fields: fields}, nil
	}
}

func decodeNode(fields []Value) (Value, error) {
	if len(fields) != 3 {
		return nil, decodeErr(ErrProtocol, "Node expects 3 fields, got %d", len(fields))
	}
	id, err := asIdentity(fields[0])
	if err != nil {
		return nil, err
	}
	labels, err := asLabelList(fields[1])
	if err != nil {
		return nil, err
	}
	props, err := asPropsMap(fields[2])
	if err != nil {
		return nil, err
	}
	return Node{ID: id, Labels: labels, Props: props}, nil
}

func decodeRelationship(fields []Value) (Value, error) {
	if len(fields) != 5 {
		return nil, decodeErr(ErrProtocol, "Relationship expects 5 fields, got %d", len(fields))
	}
	id, err := asIdentity(fields[0])
	if err != nil {
		return nil, err
	}
	start, err := asIdentity(fields[1])
	if err != nil {
		return nil, err
	}
	end, err := asIdentity(fields[2])
	if err != nil {
		return nil, err
	}
	typ, ok := fields[3].(string)
	if !ok {
		return nil, decodeErr(ErrProtocol, "Relationship type must be a String, got %T", fields[3])
	}
	props, err := asPropsMap(fields[4])
	if err != nil {
		return nil, err
	}
	return Relationship{ID: id, Start: start, End: end, Type: typ, Props: props}, nil
}

func decodeUnboundRelationship(fields []Value) (Value, error) {
	if len(fields) != 3 {
		return nil, decodeErr(ErrProtocol, "UnboundRelationship expects 3 fields, got %d", len(fields))
	}
	id, err := asIdentity(fields[0])
	if err != nil {
		return nil, err
	}
	typ, ok := fields[1].(string)
	if !ok {
		return nil, decodeErr(ErrProtocol, "UnboundRelationship type must be a String, got %T", fields[1])
	}
	props, err := asPropsMap(fields[2])
	if err != nil {
		return nil, err
	}
	return UnboundRelationship{ID: id, Type: typ, Props: props}, nil
}

// decodePath validates the node/relationship/sequence shape described by
// spec.md §4.4: Sequence alternates (relIndex, nodeIndex) pairs, relIndex
// is 1-based with sign indicating direction, nodeIndex is a valid 0-based
// index into Nodes.
func decodePath(fields []Value) (Value, error) {
	if len(fields) != 3 {
		return nil, decodeErr(ErrProtocol, "Path expects 3 fields, got %d", len(fields))
	}
	rawNodes, ok := fields[0].([]Value)
	if !ok {
		return nil, decodeErr(ErrInvalidPathNodeType, "Path nodes field must be a List, got %T", fields[0])
	}
	nodes := make([]Node, len(rawNodes))
	for i, rn := range rawNodes {
		n, ok := rn.(Node)
		if !ok {
			return nil, decodeErr(ErrInvalidPathNodeType, "Path nodes[%d] must be a Node, got %T", i, rn)
		}
		nodes[i] = n
	}

	rawRels, ok := fields[1].([]Value)
	if !ok {
		return nil, decodeErr(ErrInvalidPathRelationshipType, "Path rels field must be a List, got %T", fields[1])
	}
	rels := make([]UnboundRelationship, len(rawRels))
	for i, rr := range rawRels {
		r, ok := rr.(UnboundRelationship)
		if !ok {
			return nil, decodeErr(ErrInvalidPathRelationshipType, "Path rels[%d] must be an UnboundRelationship, got %T", i, rr)
		}
		rels[i] = r
	}

	rawSeq, ok := fields[2].([]Value)
	if !ok {
		return nil, decodeErr(ErrInvalidPathSequenceIdxType, "Path sequence field must be a List, got %T", fields[2])
	}
	if len(rawSeq)%2 != 0 {
		return nil, decodeErr(ErrInvalidPathSequenceLength, "Path sequence length must be even, got %d", len(rawSeq))
	}
	seq := make([]int64, len(rawSeq))
	for i, rv := range rawSeq {
		iv, err := asInt64(rv)
		if err != nil {
			return nil, decodeErr(ErrInvalidPathSequenceIdxType, "Path sequence[%d] must be an Int, got %T", i, rv)
		}
		seq[i] = iv
	}
	for i := 0; i < len(seq); i += 2 {
		relIdx := seq[i]
		nodeIdx := seq[i+1]
		abs := relIdx
		if abs < 0 {
			abs = -abs
		}
		if abs < 1 || int(abs) > len(rels) {
			return nil, decodeErr(ErrInvalidPathSequenceIdxRange, "Path sequence relationship index %d out of range for %d relationships", relIdx, len(rels))
		}
		if nodeIdx < 0 || int(nodeIdx) >= len(nodes) {
			return nil, decodeErr(ErrInvalidPathSequenceIdxRange, "Path sequence node index %d out of range for %d nodes", nodeIdx, len(nodes))
		}
	}

	return Path{Nodes: nodes, Rels: rels, Sequence: seq}, nil
}

func asIdentity(v Value) (Identity, error) {
	i, err := asInt64(v)
	if err != nil {
		return 0, decodeErr(ErrProtocol, "expected an Int identity, got %T", v)
	}
	return Identity(i), nil
}

func asInt64(v Value) (int64, error) {
	i, ok := v.(int64)
	if !ok {
		return 0, decodeErr(ErrProtocol, "expected an Int, got %T", v)
	}
	return i, nil
}

func asLabelList(v Value) ([]string, error) {
	list, ok := v.([]Value)
	if !ok {
		return nil, decodeErr(ErrInvalidLabelType, "Node labels field must be a List, got %T", v)
	}
	labels := make([]string, len(list))
	for i, lv := range list {
		s, ok := lv.(string)
		if !ok {
			return nil, decodeErr(ErrInvalidLabelType, "Node labels[%d] must be a String, got %T", i, lv)
		}
		labels[i] = s
	}
	return labels, nil
}

func asPropsMap(v Value) (map[string]Value, error) {
	m, ok := v.(map[string]Value)
	if !ok {
		return nil, decodeErr(ErrInvalidMapKeyType, "props field must be a Map, got %T", v)
	}
	return m, nil
}
