/*
Package abi defines the narrow, versioned module-to-host call surface
(§4.9 / §6): the closed ErrCode taxonomy every failable syscall returns,
the buffer-too-small contract (BufferTooSmall), the per-reducer-call
resource Slab used for iterators and console timers, the describe_module
wire schema (ModuleDescription), and the per-major-version Registry of
wired syscall names.

This package has no novel ecosystem library to reach for — it is the
project's own closed error taxonomy and resource model, not a concern any
third-party package addresses — so it is deliberately stdlib-only; see
DESIGN.md.
*/
package abi
