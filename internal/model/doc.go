// Package model provides the data types shared by the reconciliation engine.
//
// This package contains type definitions only. All other internal packages
// import model; model imports nothing internal.
//
// Key design constraints:
//   - Record ids are int64 and strictly ascending within a type
//   - A nil etag marks a legacy placeholder row and compares equal only to nil
//   - All JSON tags use snake_case to match the stack metadata API
package model
