/*
Package commitlog persists the ordered, crash-safe sequence of commits
that the storage engine produces at commit time (§4.2). Durability and
offset monotonicity are delegated to hashicorp/raft's LogStore interface;
this package adds the domain-specific parts spec.md actually asks for:
commit framing (parent hash, offset, transactions, writes), parent-hash
chain validation on open, and snapshot-driven truncation.
*/
package commitlog
