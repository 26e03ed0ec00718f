// Package commitlog implements the ordered, crash-safe sequence of commits
// described in §4.2. The durable append-only storage is
// hashicorp/raft's raft.LogStore abstraction, backed by raft-boltdb —
// exactly the on-disk, monotonic-index log the teacher already depends on
// for its Raft log, reused here purely as a WAL. No raft.Raft instance,
// FSM, or peer transport is constructed: this package never runs
// consensus (single-replica semantics, per the Non-goals in spec.md §1).
package commitlog

import (
	"fmt"
	"path/filepath"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/spacetimedb/core/pkg/algebra"
)

// Log is the crash-safe, ordered sequence of commits for one replica.
type Log struct {
	store      raft.LogStore
	underlying *raftboltdb.BoltStore
	lastHash   *algebra.Hash
}

// Open opens (or creates) the commit log segment store under
// dataDir/commit_log and validates the parent-hash chain from genesis. A
// broken chain is a fatal error: recovery fails rather than silently
// drops commits.
func Open(dataDir string) (*Log, error) {
	path := filepath.Join(dataDir, "commit_log")
	bs, err := raftboltdb.NewBoltStore(filepath.Join(ensureDir(path), "commits.db"))
	if err != nil {
		return nil, fmt.Errorf("commitlog: open: %w", err)
	}
	l := &Log{store: bs, underlying: bs}
	if err := l.validateChain(); err != nil {
		bs.Close()
		return nil, fmt.Errorf("commitlog: corrupt chain: %w", err)
	}
	return l, nil
}

func (l *Log) validateChain() error {
	first, err := l.store.FirstIndex()
	if err != nil {
		return err
	}
	last, err := l.store.LastIndex()
	if err != nil {
		return err
	}
	if last == 0 {
		return nil
	}
	var parent *algebra.Hash
	for idx := first; idx <= last; idx++ {
		var rl raft.Log
		if err := l.store.GetLog(idx, &rl); err != nil {
			if idx == first {
				continue // pruned prefix, nothing to validate against
			}
			return fmt.Errorf("read commit %d: %w", idx, err)
		}
		c, err := DecodeCommit(rl.Data)
		if err != nil {
			return fmt.Errorf("decode commit %d: %w", idx, err)
		}
		if parent != nil {
			if c.ParentHash == nil || *c.ParentHash != *parent {
				return fmt.Errorf("commit %d: parent hash mismatch", idx)
			}
		}
		h := HashCommit(rl.Data)
		parent = &h
	}
	l.lastHash = parent
	return nil
}

// Append encodes and durably appends one commit, returning its offset.
// Append is only called with the commit's CommitOffset already set to
// LastOffset()+1 and ParentHash already chained by the caller (the engine
// owns commit construction; this package only persists and validates).
func (l *Log) Append(c algebra.Commit) (uint64, error) {
	frame := EncodeCommit(c)
	rl := &raft.Log{Index: c.CommitOffset, Type: raft.LogCommand, Data: frame}
	if err := l.store.StoreLog(rl); err != nil {
		return 0, fmt.Errorf("commitlog: append: %w", err)
	}
	h := HashCommit(frame)
	l.lastHash = &h
	return c.CommitOffset, nil
}

// LastOffset returns the offset of the most recently appended commit, or
// 0 if the log is empty (genesis).
func (l *Log) LastOffset() (uint64, error) {
	return l.store.LastIndex()
}

// LastHash returns the hash of the most recently appended commit, used to
// chain the next commit's ParentHash. Returns nil before genesis.
func (l *Log) LastHash() *algebra.Hash {
	return l.lastHash
}

// Iter returns every (offset, commit) pair from the beginning.
func (l *Log) Iter() ([]OffsetCommit, error) {
	return l.IterFrom(0)
}

// IterFrom returns every (offset, commit) pair with offset >= from.
func (l *Log) IterFrom(from uint64) ([]OffsetCommit, error) {
	first, err := l.store.FirstIndex()
	if err != nil {
		return nil, err
	}
	last, err := l.store.LastIndex()
	if err != nil {
		return nil, err
	}
	if first < from {
		first = from
	}
	var out []OffsetCommit
	for idx := first; idx <= last; idx++ {
		var rl raft.Log
		if err := l.store.GetLog(idx, &rl); err != nil {
			continue
		}
		c, err := DecodeCommit(rl.Data)
		if err != nil {
			return nil, fmt.Errorf("commitlog: decode offset %d: %w", idx, err)
		}
		out = append(out, OffsetCommit{Offset: idx, Commit: c})
	}
	return out, nil
}

// TruncateTo prunes all commits with offset <= upTo, used after a
// snapshot has durably captured that prefix of state.
func (l *Log) TruncateTo(upTo uint64) error {
	first, err := l.store.FirstIndex()
	if err != nil {
		return err
	}
	if upTo < first {
		return nil
	}
	return l.underlying.DeleteRange(first, upTo)
}

// Close releases the underlying bolt handle.
func (l *Log) Close() error {
	return l.underlying.Close()
}

// OffsetCommit pairs a commit with its log offset, as returned by Iter.
type OffsetCommit struct {
	Offset uint64
	Commit algebra.Commit
}
