// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package codec implements the Bolt v1 ValueCodec and MessageCodec from
// spec.md §4.4-§4.5: a marker-driven serializer/deserializer for the
// protocol's value model, and message framing of (signature, argv) on top
// of it. Per spec.md §9's redesign note, dispatch is done by matching
// marker ranges rather than a 256-entry function table.
package codec

// Marker bytes and ranges, spec.md §4.4.
const (
	markerTinyIntPosMin = 0x00
	markerTinyIntPosMax = 0x7F
	markerTinyIntNegMin = 0xF0
	markerTinyIntNegMax = 0xFF

	markerTinyStringMin = 0x80
	markerTinyStringMax = 0x8F
	markerTinyListMin   = 0x90
	markerTinyListMax   = 0x9F
	markerTinyMapMin    = 0xA0
	markerTinyMapMax    = 0xAF
	markerTinyStructMin = 0xB0
	markerTinyStructMax = 0xBF

	markerNull    = 0xC0
	markerFloat64 = 0xC1
	markerFalse   = 0xC2
	markerTrue    = 0xC3

	markerInt8  = 0xC8
	markerInt16 = 0xC9
	markerInt32 = 0xCA
	markerInt64 = 0xCB

	markerBytes8  = 0xCC
	markerBytes16 = 0xCD
	markerBytes32 = 0xCE

	markerString8  = 0xD0
	markerString16 = 0xD1
	markerString32 = 0xD2

	markerList8  = 0xD4
	markerList16 = 0xD5
	markerList32 = 0xD6

	markerMap8  = 0xD8
	markerMap16 = 0xD9
	markerMap32 = 0xDA

	markerStruct8  = 0xDC
	markerStruct16 = 0xDD
)

// Struct signatures recognized during decode, spec.md §4.4.
const (
	SigNode                 byte = 0x4E
	SigRelationship         byte = 0x52
	SigUnboundRelationship  byte = 0x72
	SigPath                 byte = 0x50
)
