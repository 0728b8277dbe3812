package btree

import (
	"encoding/binary"

	"github.com/plume/sbtree/pkg/store"
)

// refValLen is the fixed size of a parent item's value: a block reference
// (blkno, seq), per spec §6's on-disk layout note "Parent item val is
// exactly a block_ref{blkno:u64, seq:u64}".
const refValLen = 16

func encodeRef(ref store.Ref, buf []byte) {
	binary.BigEndian.PutUint64(buf[0:8], ref.Blkno)
	binary.BigEndian.PutUint64(buf[8:16], ref.Seq)
}

func decodeRef(buf []byte) store.Ref {
	return store.Ref{
		Blkno: binary.BigEndian.Uint64(buf[0:8]),
		Seq:   binary.BigEndian.Uint64(buf[8:16]),
	}
}
