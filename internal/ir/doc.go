// Package ir defines the event and rule model shared by every gpucep package.
//
// This package contains data types only. All other internal packages import
// ir; ir imports nothing internal.
//
// Key design constraints:
//   - PubPkt values are immutable once created
//   - NO float attribute values - use int64 for numbers
//   - Identity is content-addressed (SHA-256 over canonical JSON)
//   - All JSON tags use snake_case
package ir
