// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package nbolt

import "github.com/nishisan-dev/nbolt/internal/codec"

// Value is the Bolt value union: Null, Bool, Int64, Float64, String,
// Bytes, List, Map, Node, Relationship, UnboundRelationship, Path,
// Struct, or Identity, carried as the matching Go dynamic type.
type Value = codec.Value

// Identity wraps a non-negative integer entity identifier.
type Identity = codec.Identity

// Node is a labeled, propertied graph node.
type Node = codec.Node

// Relationship is a directed, typed, propertied edge between two nodes.
type Relationship = codec.Relationship

// UnboundRelationship is a Relationship as it appears inside a Path,
// where start/end are implied by the path's sequence rather than carried
// directly.
type UnboundRelationship = codec.UnboundRelationship

// Path is an alternating walk of nodes and relationships.
type Path = codec.Path

// Struct is the generic decoded form of any signature not recognized as
// Node, Relationship, UnboundRelationship, or Path.
type Struct = codec.Struct

// ValuesEqual compares two Values using Bolt value equality: maps compare
// order-insensitively, lists compare order-sensitively.
func ValuesEqual(a, b Value) bool { return codec.ValuesEqual(a, b) }
