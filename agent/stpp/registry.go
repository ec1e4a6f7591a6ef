package stpp

import (
	"fmt"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/mediatree/stpp/prop"
)

// exportEntry binds one wire id to a property within the scope of one
// subscription. It is indexed two ways: by id in the session's memdb
// table, and by (property, subscription) through a tag installed on the
// property itself, so DEL/MOVE events can name the id without scanning.
type exportEntry struct {
	ID uint32

	prop *prop.Prop
	sub  *subscription
}

// registry is the per-session export table. Ids are allocated from a
// monotonically increasing tally and never reused; id 0 is reserved to
// mean the tree root on inbound references. 32 bits is the hard ceiling,
// reclaimed only by session teardown.
type registry struct {
	db    *memdb.MemDB
	tally uint32
}

const exportTable = "exports"

func newRegistry() (*registry, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			exportTable: {
				Name: exportTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "ID"},
					},
				},
			},
		},
	}
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, err
	}
	return &registry{db: db}, nil
}

// export allocates the next id for p under ss and installs the entry in
// the id index, the given subscription list, and as a tag on the property.
// An id collision means the tally wrapped or the table was corrupted;
// both are programmer errors.
func (r *registry) export(ss *subscription, p *prop.Prop, list *entryList) *exportEntry {
	r.tally++
	e := &exportEntry{ID: r.tally, prop: p, sub: ss}

	txn := r.db.Txn(true)
	if existing, err := txn.First(exportTable, "id", e.ID); err != nil || existing != nil {
		txn.Abort()
		panic(fmt.Sprintf("stpp: export id %d already in use", e.ID))
	}
	if err := txn.Insert(exportTable, e); err != nil {
		txn.Abort()
		panic(fmt.Sprintf("stpp: export insert: %v", err))
	}
	txn.Commit()

	list.add(e)
	p.TagSet(ss, e)
	return e
}

// unexport drops the entry from every index and releases the property
// reference.
func (r *registry) unexport(e *exportEntry, list *entryList) {
	e.prop.TagClear(e.sub)
	list.remove(e)

	txn := r.db.Txn(true)
	if err := txn.Delete(exportTable, e); err != nil {
		txn.Abort()
		panic(fmt.Sprintf("stpp: export delete id %d: %v", e.ID, err))
	}
	txn.Commit()
	e.prop = nil
}

// lookup returns the entry for id, or nil.
func (r *registry) lookup(id uint32) *exportEntry {
	txn := r.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(exportTable, "id", id)
	if err != nil || raw == nil {
		return nil
	}
	return raw.(*exportEntry)
}

// tag recovers the entry exported for p under ss, or nil.
func (r *registry) tag(p *prop.Prop, ss *subscription) *exportEntry {
	if v := p.TagGet(ss); v != nil {
		return v.(*exportEntry)
	}
	return nil
}

// size counts live entries; teardown asserts it reaches zero.
func (r *registry) size() int {
	txn := r.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(exportTable, "id")
	if err != nil {
		return 0
	}
	n := 0
	for raw := it.Next(); raw != nil; raw = it.Next() {
		n++
	}
	return n
}

// entryList is one of a subscription's two export lists: the directory
// children or the single value property. An entry belongs to exactly one
// list for its whole life.
type entryList struct {
	entries []*exportEntry
}

func (l *entryList) add(e *exportEntry) {
	l.entries = append(l.entries, e)
}

func (l *entryList) remove(e *exportEntry) {
	for i, n := range l.entries {
		if n == e {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *entryList) first() *exportEntry {
	if len(l.entries) == 0 {
		return nil
	}
	return l.entries[0]
}
