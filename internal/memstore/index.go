package memstore

import (
	"github.com/google/btree"

	"github.com/abitmore/steem/internal/history"
)

// btreeDegree is the fan-out of every view.
const btreeDegree = 32

// primaryItem orders (author ASC, permlink ASC, seq DESC). Unique.
type primaryItem struct {
	author, permlink string
	seq              history.Sequence
	id               uint64
}

func primaryLess(a, b primaryItem) bool {
	if a.author != b.author {
		return a.author < b.author
	}
	if a.permlink != b.permlink {
		return a.permlink < b.permlink
	}
	return a.seq.Compare(b.seq) > 0
}

// timeItem orders (author ASC, permlink ASC, time DESC, id DESC).
type timeItem struct {
	author, permlink string
	time             int64
	id               uint64
}

func timeLess(a, b timeItem) bool {
	if a.author != b.author {
		return a.author < b.author
	}
	if a.permlink != b.permlink {
		return a.permlink < b.permlink
	}
	if a.time != b.time {
		return a.time > b.time
	}
	return a.id > b.id
}

// blockItem orders (block ASC, id ASC).
type blockItem struct {
	block uint32
	id    uint64
}

func blockLess(a, b blockItem) bool {
	if a.block != b.block {
		return a.block < b.block
	}
	return a.id < b.id
}

type indexes struct {
	primary *btree.BTreeG[primaryItem]
	byTime  *btree.BTreeG[timeItem]
	byBlock *btree.BTreeG[blockItem]
}

func newIndexes() indexes {
	return indexes{
		primary: btree.NewG(btreeDegree, primaryLess),
		byTime:  btree.NewG(btreeDegree, timeLess),
		byBlock: btree.NewG(btreeDegree, blockLess),
	}
}

func primaryOf(r *history.Record) primaryItem {
	return primaryItem{author: r.Author, permlink: r.Permlink, seq: r.Seq, id: r.ID}
}

func timeOf(r *history.Record) timeItem {
	return timeItem{author: r.Author, permlink: r.Permlink, time: r.TimeKey(), id: r.ID}
}

func blockOf(r *history.Record) blockItem {
	return blockItem{block: r.Seq.Block, id: r.ID}
}

func (ix indexes) insert(r *history.Record) {
	ix.primary.ReplaceOrInsert(primaryOf(r))
	ix.byTime.ReplaceOrInsert(timeOf(r))
	ix.byBlock.ReplaceOrInsert(blockOf(r))
}
