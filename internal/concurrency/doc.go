// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package concurrency holds small waiting primitives shared by the arena
// controller and the DMA endpoints.
package concurrency
