package commitlog

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/spacetimedb/core/pkg/algebra"
)

// EncodeCommit serializes a commit frame per §4.2:
//
//	parent_commit_hash : Option<Hash>
//	commit_offset      : u64
//	min_tx_offset      : u64
//	transactions       : [Transaction]
//	Transaction ::= writes : [Write]
//	Write ::= op:{Insert=1,Delete=0} | table_id:u32 | data_key
func EncodeCommit(c algebra.Commit) []byte {
	buf := make([]byte, 0, 64)
	if c.ParentHash == nil {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
		buf = append(buf, c.ParentHash[:]...)
	}
	buf = appendU64(buf, c.CommitOffset)
	buf = appendU64(buf, c.MinTxOffset)
	buf = appendU32(buf, uint32(len(c.Transactions)))
	for _, tx := range c.Transactions {
		buf = appendU32(buf, uint32(len(tx.Writes)))
		for _, w := range tx.Writes {
			buf = append(buf, byte(w.Op))
			buf = appendU32(buf, uint32(w.Table))
			buf = encodeDataKey(buf, w.Key)
		}
	}
	return buf
}

// DecodeCommit is the inverse of EncodeCommit.
func DecodeCommit(buf []byte) (algebra.Commit, error) {
	var c algebra.Commit
	if len(buf) < 1 {
		return c, fmt.Errorf("commitlog: empty frame")
	}
	pos := 0
	hasParent := buf[pos]
	pos++
	if hasParent == 1 {
		if len(buf) < pos+32 {
			return c, fmt.Errorf("commitlog: truncated parent hash")
		}
		var h algebra.Hash
		copy(h[:], buf[pos:pos+32])
		c.ParentHash = &h
		pos += 32
	}
	var err error
	c.CommitOffset, pos, err = readU64(buf, pos)
	if err != nil {
		return c, err
	}
	c.MinTxOffset, pos, err = readU64(buf, pos)
	if err != nil {
		return c, err
	}
	var txCount uint32
	txCount, pos, err = readU32(buf, pos)
	if err != nil {
		return c, err
	}
	c.Transactions = make([]algebra.Transaction, txCount)
	for i := range c.Transactions {
		var writeCount uint32
		writeCount, pos, err = readU32(buf, pos)
		if err != nil {
			return c, err
		}
		writes := make([]algebra.Write, writeCount)
		for j := range writes {
			if len(buf) < pos+5 {
				return c, fmt.Errorf("commitlog: truncated write header")
			}
			op := algebra.Operation(buf[pos])
			pos++
			var tableID uint32
			tableID, pos, err = readU32(buf, pos)
			if err != nil {
				return c, err
			}
			var key algebra.DataKey
			key, pos, err = decodeDataKey(buf, pos)
			if err != nil {
				return c, err
			}
			writes[j] = algebra.Write{Op: op, Table: algebra.TableId(tableID), Key: key}
		}
		c.Transactions[i] = algebra.Transaction{Writes: writes}
	}
	return c, nil
}

// HashCommit returns the digest used to chain the next commit's parent
// hash, computed over the encoded frame bytes.
func HashCommit(frame []byte) algebra.Hash {
	return algebra.Hash(sha256.Sum256(frame))
}

func encodeDataKey(buf []byte, k algebra.DataKey) []byte {
	if k.Inline {
		buf = append(buf, 0)
		buf = appendU32(buf, uint32(len(k.Bytes)))
		return append(buf, k.Bytes...)
	}
	buf = append(buf, 1)
	return append(buf, k.Hash[:]...)
}

func decodeDataKey(buf []byte, pos int) (algebra.DataKey, int, error) {
	if len(buf) < pos+1 {
		return algebra.DataKey{}, 0, fmt.Errorf("commitlog: truncated data key tag")
	}
	tag := buf[pos]
	pos++
	if tag == 0 {
		n, next, err := readU32(buf, pos)
		if err != nil {
			return algebra.DataKey{}, 0, err
		}
		pos = next
		if len(buf) < pos+int(n) {
			return algebra.DataKey{}, 0, fmt.Errorf("commitlog: truncated inline data key")
		}
		s := string(buf[pos : pos+int(n)])
		return algebra.InlineDataKey([]byte(s)), pos + int(n), nil
	}
	if len(buf) < pos+32 {
		return algebra.DataKey{}, 0, fmt.Errorf("commitlog: truncated hash data key")
	}
	var h algebra.Hash
	copy(h[:], buf[pos:pos+32])
	return algebra.HashDataKey(h), pos + 32, nil
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readU32(buf []byte, pos int) (uint32, int, error) {
	if len(buf) < pos+4 {
		return 0, 0, fmt.Errorf("commitlog: truncated u32 at %d", pos)
	}
	return binary.LittleEndian.Uint32(buf[pos:]), pos + 4, nil
}

func readU64(buf []byte, pos int) (uint64, int, error) {
	if len(buf) < pos+8 {
		return 0, 0, fmt.Errorf("commitlog: truncated u64 at %d", pos)
	}
	return binary.LittleEndian.Uint64(buf[pos:]), pos + 8, nil
}
