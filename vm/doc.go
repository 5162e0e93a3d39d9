// Package vm implements compact fixed-layout record types for a Go-hosted
// object runtime.
//
// This package contains:
//   - Tagged value representation
//   - Object layout and slot access
//   - Option resolution, layout calculation and offset-bound descriptors
//   - The record type factory and its generated constructors
//   - Instance protocols (attribute, sequence, mapping, iteration, hashing)
//   - Reference counting, deallocation and collector integration
package vm
