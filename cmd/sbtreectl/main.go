// cmd/sbtreectl/main.go
//
// sbtreectl - tiny inspection CLI for a single sbtree-backed file.
//
// Usage:
//
//	sbtreectl <db-file> put <objid> <itemtype> <offset> <value>
//	sbtreectl <db-file> get <objid> <itemtype> <offset>
//	sbtreectl <db-file> del <objid> <itemtype> <offset>
//	sbtreectl <db-file> scan <objid-lo> <offset-lo> <objid-hi> <offset-hi>
//	sbtreectl <db-file> since <seq> <objid-lo> <offset-lo> <objid-hi> <offset-hi>
//	sbtreectl <db-file> hole <objid-lo> <offset-lo> <objid-hi> <offset-hi>
//
// Every invocation opens the file, runs exactly one operation under a
// single dirty-seq transaction, and closes, mirroring how the teacher's
// cli.REPL drives a pager.Pager transaction per statement.
package main

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/plume/sbtree/pkg/btree"
	"github.com/plume/sbtree/pkg/key"
	"github.com/plume/sbtree/pkg/store"
)

// rootFileSuffix names the sidecar file sbtreectl uses to persist the
// superblock fields spec.md §1 calls external to the tree itself (height,
// root ref, last used dirty seq) between invocations. A real superblock layer
// would store these inline in its own metadata block; one process-per-op
// CLI has nowhere else to put them.
const rootFileSuffix = ".root"

func rootPath(dbPath string) string { return dbPath + rootFileSuffix }

func restoreRoot(bt *btree.Tree, dbPath string) {
	data, err := os.ReadFile(rootPath(dbPath))
	if err != nil || len(data) < 24 {
		return
	}
	height := int(binary.BigEndian.Uint64(data[0:8]))
	ref := store.Ref{
		Blkno: binary.BigEndian.Uint64(data[8:16]),
		Seq:   binary.BigEndian.Uint64(data[16:24]),
	}
	bt.SetRoot(height, ref)
}

func nextSeq(dbPath string) uint64 {
	data, err := os.ReadFile(rootPath(dbPath))
	if err != nil || len(data) < 32 {
		return 1
	}
	return binary.BigEndian.Uint64(data[24:32]) + 1
}

func saveRoot(bt *btree.Tree, dbPath string, seq uint64) {
	buf := make([]byte, 32)
	binary.BigEndian.PutUint64(buf[0:8], uint64(bt.Height()))
	root := bt.Root()
	binary.BigEndian.PutUint64(buf[8:16], root.Blkno)
	binary.BigEndian.PutUint64(buf[16:24], root.Seq)
	binary.BigEndian.PutUint64(buf[24:32], seq)
	if err := os.WriteFile(rootPath(dbPath), buf, 0o644); err != nil {
		log.Fatalf("save root: %v", err)
	}
}

func main() {
	log.SetFlags(0)
	if len(os.Args) < 3 {
		usage()
		os.Exit(2)
	}

	dbPath, cmd, args := os.Args[1], os.Args[2], os.Args[3:]

	fs, err := store.Open(dbPath, store.Options{})
	if err != nil {
		log.Fatalf("open %s: %v", dbPath, err)
	}
	defer fs.Close()

	bt := btree.New(fs, btree.Options{})
	restoreRoot(bt, dbPath)

	seq := nextSeq(dbPath)
	bt.BeginDirtySeq(seq)

	switch cmd {
	case "put":
		err = runPut(bt, args)
	case "get":
		err = runGet(bt, args)
	case "del":
		err = runDel(bt, args)
	case "scan":
		err = runScan(bt, args)
	case "since":
		err = runSince(bt, args)
	case "hole":
		err = runHole(bt, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}

	if err := fs.Sync(); err != nil {
		log.Fatalf("sync: %v", err)
	}
	saveRoot(bt, dbPath, seq)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sbtreectl <db-file> <put|get|del|scan|since|hole> ...")
}

func parseKey(args []string) (key.Key, []string, error) {
	if len(args) < 2 {
		return key.Key{}, nil, fmt.Errorf("expected <objid> <itemtype> [<offset>] ...")
	}
	objID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return key.Key{}, nil, fmt.Errorf("objid: %w", err)
	}
	itemType, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return key.Key{}, nil, fmt.Errorf("itemtype: %w", err)
	}
	rest := args[2:]
	var offset uint64
	if len(rest) > 0 {
		offset, err = strconv.ParseUint(rest[0], 10, 64)
		if err != nil {
			return key.Key{}, nil, fmt.Errorf("offset: %w", err)
		}
		rest = rest[1:]
	}
	return key.Key{ObjectID: objID, ItemType: uint8(itemType), Offset: offset}, rest, nil
}

func runPut(bt *btree.Tree, args []string) error {
	k, rest, err := parseKey(args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return fmt.Errorf("put: expected <objid> <itemtype> <offset> <value>")
	}
	val := rest[0]
	c, err := bt.Insert(k, len(val))
	if err != nil {
		return err
	}
	copy(c.Value(), val)
	c.Release()
	return nil
}

func runGet(bt *btree.Tree, args []string) error {
	k, _, err := parseKey(args)
	if err != nil {
		return err
	}
	c, err := bt.Lookup(k)
	if err != nil {
		return err
	}
	defer c.Release()
	fmt.Printf("%s\n", c.Value())
	return nil
}

func runDel(bt *btree.Tree, args []string) error {
	k, _, err := parseKey(args)
	if err != nil {
		return err
	}
	return bt.Delete(k)
}

func parseRange(args []string) (key.Key, key.Key, error) {
	if len(args) != 4 {
		return key.Key{}, key.Key{}, fmt.Errorf("expected <objid-lo> <offset-lo> <objid-hi> <offset-hi>")
	}
	lo, _, err := parseKey([]string{args[0], "0", args[1]})
	if err != nil {
		return key.Key{}, key.Key{}, err
	}
	hi, _, err := parseKey([]string{args[2], "0", args[3]})
	if err != nil {
		return key.Key{}, key.Key{}, err
	}
	return lo, hi, nil
}

func runScan(bt *btree.Tree, args []string) error {
	lo, hi, err := parseRange(args)
	if err != nil {
		return err
	}
	it := bt.NewIterator(lo, hi)
	defer it.Release()
	for {
		ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		fmt.Printf("%d:%d:%d = %s\n", it.Key().ObjectID, it.Key().ItemType, it.Key().Offset, it.Value())
	}
}

func runSince(bt *btree.Tree, args []string) error {
	if len(args) != 5 {
		return fmt.Errorf("expected <seq> <objid-lo> <offset-lo> <objid-hi> <offset-hi>")
	}
	seq, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("seq: %w", err)
	}
	lo, hi, err := parseRange(args[1:])
	if err != nil {
		return err
	}
	it := bt.SinceIterator(lo, hi, seq)
	defer it.Release()
	for {
		ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		fmt.Printf("%d:%d:%d (seq %d) = %s\n", it.Key().ObjectID, it.Key().ItemType, it.Key().Offset, it.Seq(), it.Value())
	}
}

func runHole(bt *btree.Tree, args []string) error {
	lo, hi, err := parseRange(args)
	if err != nil {
		return err
	}
	hole, err := bt.Hole(lo, hi)
	if err != nil {
		return err
	}
	fmt.Printf("%d:%d:%d\n", hole.ObjectID, hole.ItemType, hole.Offset)
	return nil
}
