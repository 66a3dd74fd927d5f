// Copyright 2026 The Stemvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stemvisor

import (
	memdb "github.com/hashicorp/go-memdb"
)

// The Stem's node table.  Indexed by name (unique, and the natural sort
// order for status listings) and by pid, which is what reaping needs.
const nodeTable = "node"

// nodeRecord flattens the index keys next to the Node value; memdb indexes
// top-level struct fields only.
type nodeRecord struct {
	Name string
	PID  int
	Node Node
}

func nodeSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			nodeTable: {
				Name: nodeTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
					"pid": {
						Name:    "pid",
						Unique:  false,
						Indexer: &memdb.IntFieldIndex{Field: "PID"},
					},
				},
			},
		},
	}
}

// nodeRegistry holds exactly one entry per configured node name.  The Stem
// loop is the single writer; snapshots handed out are value copies.
type nodeRegistry struct {
	db *memdb.MemDB
}

func newNodeRegistry() (*nodeRegistry, error) {
	db, err := memdb.NewMemDB(nodeSchema())
	if err != nil {
		return nil, err
	}
	return &nodeRegistry{db: db}, nil
}

// put inserts or replaces the entry for n's name.
func (r *nodeRegistry) put(n Node) {
	txn := r.db.Txn(true)
	// Insert cannot fail for a schema-valid record.
	_ = txn.Insert(nodeTable, &nodeRecord{Name: n.Name(), PID: n.PID, Node: n})
	txn.Commit()
}

// remove drops the entry for name, if present.
func (r *nodeRegistry) remove(name string) {
	txn := r.db.Txn(true)
	_, _ = txn.DeleteAll(nodeTable, "id", name)
	txn.Commit()
}

func (r *nodeRegistry) byName(name string) (Node, bool) {
	txn := r.db.Txn(false)
	raw, err := txn.First(nodeTable, "id", name)
	if err != nil || raw == nil {
		return Node{}, false
	}
	return raw.(*nodeRecord).Node, true
}

// byPID finds the node owning a live process id.  Lookups of pid 0 are
// meaningless (many stopped nodes share it) and always miss.
func (r *nodeRegistry) byPID(pid int) (Node, bool) {
	if pid <= 0 {
		return Node{}, false
	}
	txn := r.db.Txn(false)
	raw, err := txn.First(nodeTable, "pid", pid)
	if err != nil || raw == nil {
		return Node{}, false
	}
	return raw.(*nodeRecord).Node, true
}

// all returns every node in name order.
func (r *nodeRegistry) all() []Node {
	txn := r.db.Txn(false)
	it, err := txn.Get(nodeTable, "id")
	if err != nil {
		return nil
	}
	var nodes []Node
	for raw := it.Next(); raw != nil; raw = it.Next() {
		nodes = append(nodes, raw.(*nodeRecord).Node)
	}
	return nodes
}

func (r *nodeRegistry) count() int {
	return len(r.all())
}
