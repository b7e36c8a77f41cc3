// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package codec

import (
	"fmt"
	"io"
	"math"
)

// Encoder serializes Values onto an io.Writer (normally a
// *chunking.ChunkingStream) using the tightest marker that fits, per
// spec.md §4.4.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

func (e *Encoder) writeByte(b byte) error {
	_, err := e.w.Write([]byte{b})
	return err
}

func (e *Encoder) writeBytes(b []byte) error {
	_, err := e.w.Write(b)
	return err
}

// Encode writes v using the smallest marker able to represent it.
func (e *Encoder) Encode(v Value) error {
	switch x := v.(type) {
	case nil:
		return e.writeByte(markerNull)
	case bool:
		if x {
			return e.writeByte(markerTrue)
		}
		return e.writeByte(markerFalse)
	case int:
		return e.encodeInt(int64(x))
	case int64:
		return e.encodeInt(x)
	case Identity:
		return e.encodeInt(int64(x))
	case float64:
		return e.encodeFloat(x)
	case string:
		return e.encodeString(x)
	case []byte:
		return e.encodeBytes(x)
	case []Value:
		return e.encodeList(x)
	case map[string]Value:
		return e.encodeMap(x)
	case Node:
		return e.encodeStruct(SigNode, []Value{x.ID, stringList(x.Labels), x.Props})
	case Relationship:
		return e.encodeStruct(SigRelationship, []Value{x.ID, x.Start, x.End, x.Type, x.Props})
	case UnboundRelationship:
		return e.encodeStruct(SigUnboundRelationship, []Value{x.ID, x.Type, x.Props})
	case Path:
		return e.encodePath(x)
	case Struct:
		return e.encodeStruct(x.Signature, x.Fields)
	default:
		return fmt.Errorf("codec: cannot encode value of type %T", v)
	}
}

func stringList(ss []string) []Value {
	out := make([]Value, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func (e *Encoder) encodeInt(n int64) error {
	switch {
	case n >= -16 && n <= 127:
		return e.writeByte(byte(n))
	case n >= math.MinInt8 && n <= math.MaxInt8:
		return e.writeBytes([]byte{markerInt8, byte(n)})
	case n >= math.MinInt16 && n <= math.MaxInt16:
		return e.writeBytes(append([]byte{markerInt16}, be16(uint16(n))...))
	case n >= math.MinInt32 && n <= math.MaxInt32:
		return e.writeBytes(append([]byte{markerInt32}, be32(uint32(n))...))
	default:
		return e.writeBytes(append([]byte{markerInt64}, be64(uint64(n))...))
	}
}

func (e *Encoder) encodeFloat(f float64) error {
	return e.writeBytes(append([]byte{markerFloat64}, be64(math.Float64bits(f))...))
}

func (e *Encoder) encodeString(s string) error {
	n := len(s)
	switch {
	case n <= 15:
		if err := e.writeByte(byte(markerTinyStringMin + n)); err != nil {
			return err
		}
	case n <= 0xFF:
		if err := e.writeBytes([]byte{markerString8, byte(n)}); err != nil {
			return err
		}
	case n <= 0xFFFF:
		if err := e.writeBytes(append([]byte{markerString16}, be16(uint16(n))...)); err != nil {
			return err
		}
	default:
		if err := e.writeBytes(append([]byte{markerString32}, be32(uint32(n))...)); err != nil {
			return err
		}
	}
	return e.writeBytes([]byte(s))
}

func (e *Encoder) encodeBytes(b []byte) error {
	n := len(b)
	switch {
	case n <= 0xFF:
		if err := e.writeBytes([]byte{markerBytes8, byte(n)}); err != nil {
			return err
		}
	case n <= 0xFFFF:
		if err := e.writeBytes(append([]byte{markerBytes16}, be16(uint16(n))...)); err != nil {
			return err
		}
	default:
		if err := e.writeBytes(append([]byte{markerBytes32}, be32(uint32(n))...)); err != nil {
			return err
		}
	}
	return e.writeBytes(b)
}

func (e *Encoder) encodeList(items []Value) error {
	n := len(items)
	switch {
	case n <= 15:
		if err := e.writeByte(byte(markerTinyListMin + n)); err != nil {
			return err
		}
	case n <= 0xFF:
		if err := e.writeBytes([]byte{markerList8, byte(n)}); err != nil {
			return err
		}
	case n <= 0xFFFF:
		if err := e.writeBytes(append([]byte{markerList16}, be16(uint16(n))...)); err != nil {
			return err
		}
	default:
		if err := e.writeBytes(append([]byte{markerList32}, be32(uint32(n))...)); err != nil {
			return err
		}
	}
	for _, v := range items {
		if err := e.Encode(v); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeMap(m map[string]Value) error {
	n := len(m)
	switch {
	case n <= 15:
		if err := e.writeByte(byte(markerTinyMapMin + n)); err != nil {
			return err
		}
	case n <= 0xFF:
		if err := e.writeBytes([]byte{markerMap8, byte(n)}); err != nil {
			return err
		}
	case n <= 0xFFFF:
		if err := e.writeBytes(append([]byte{markerMap16}, be16(uint16(n))...)); err != nil {
			return err
		}
	default:
		if err := e.writeBytes(append([]byte{markerMap32}, be32(uint32(n))...)); err != nil {
			return err
		}
	}
	for k, v := range m {
		if err := e.encodeString(k); err != nil {
			return err
		}
		if err := e.Encode(v); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeStruct(sig byte, fields []Value) error {
	n := len(fields)
	switch {
	case n <= 15:
		if err := e.writeByte(byte(markerTinyStructMin + n)); err != nil {
			return err
		}
	case n <= 0xFF:
		if err := e.writeBytes([]byte{markerStruct8, byte(n)}); err != nil {
			return err
		}
	default:
		if err := e.writeBytes(append([]byte{markerStruct16}, be16(uint16(n))...)); err != nil {
			return err
		}
	}
	if err := e.writeByte(sig); err != nil {
		return err
	}
	for _, v := range fields {
		if err := e.Encode(v); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodePath(p Path) error {
	nodes := make([]Value, len(p.Nodes))
	for i, n := range p.Nodes {
		nodes[i] = n
	}
	rels := make([]Value, len(p.Rels))
	for i, r := range p.Rels {
		rels[i] = r
	}
	seq := make([]Value, len(p.Sequence))
	for i, s := range p.Sequence {
		seq[i] = s
	}
	return e.encodeStruct(SigPath, []Value{nodes, rels, seq})
}

func be16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
func be32(v uint32) []byte { return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)} }
func be64(v uint64) []byte {
	return []byte{byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32), byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
