package connection

import "github.com/nugget/collabsync/internal/wire"

// bulkActions are the three actions the bulk layer coalesces, in the
// fixed order they are flushed on endBulk.
var bulkActions = [3]wire.Action{wire.ActionFetch, wire.ActionSubscribe, wire.ActionUnsubscribe}

// bulkEntry records one (docId -> version|absent) slot. A nil Version
// represents "no version" (⊥ in spec.md §3), e.g. unsubscribe.
type bulkEntry struct {
	version *int
}

// collectionBulk holds the per-action doc maps for one collection,
// plus an insertion-ordered id list per action so endBulk emits
// single-doc frames in the order they were recorded (spec.md §5's
// same-call-chain ordering guarantee).
type collectionBulk struct {
	docs  map[wire.Action]map[string]*bulkEntry
	order map[wire.Action][]string
}

func newCollectionBulk() *collectionBulk {
	cb := &collectionBulk{
		docs:  make(map[wire.Action]map[string]*bulkEntry),
		order: make(map[wire.Action][]string),
	}
	for _, a := range bulkActions {
		cb.docs[a] = make(map[string]*bulkEntry)
	}
	return cb
}

// bulkAccumulator is the nullable "present or absent" accumulator from
// spec.md §3. A tagged option (c.bulk == nil) stands in for the
// absent state, rather than a sentinel empty map, so any attempt to
// record outside a bulk window is a programmer error caught by the
// caller checking c.bulk != nil first.
type bulkAccumulator struct {
	collections      map[string]*collectionBulk
	collectionsOrder []string
}

func newBulkAccumulator() *bulkAccumulator {
	return &bulkAccumulator{collections: make(map[string]*collectionBulk)}
}

// record stores (action, docID, version) in the accumulator and
// reports whether an entry already existed for this (collection,
// action, docID) — the duplicate-recording signal spec.md §4.4 asks
// sendFetch/sendSubscribe/sendUnsubscribe to return.
func (b *bulkAccumulator) record(action wire.Action, collection, docID string, version *int) (duplicate bool) {
	cb, ok := b.collections[collection]
	if !ok {
		cb = newCollectionBulk()
		b.collections[collection] = cb
		b.collectionsOrder = append(b.collectionsOrder, collection)
	}
	if _, exists := cb.docs[action][docID]; exists {
		duplicate = true
	} else {
		cb.order[action] = append(cb.order[action], docID)
	}
	cb.docs[action][docID] = &bulkEntry{version: version}
	return duplicate
}

// flush partitions each collection's per-action entries into versioned
// and version-absent groups and invokes emit once per non-empty group,
// per spec.md §4.5. It passes the frames to emit in the order they
// should be sent: collections in first-recorded order, then f, s, u,
// with the version-absent group before the versioned group.
func (b *bulkAccumulator) flush(emit func(f wire.Frame)) {
	for _, collection := range b.collectionsOrder {
		cb := b.collections[collection]
		for _, action := range bulkActions {
			ids := cb.order[action]
			if len(ids) == 0 {
				continue
			}
			docs := cb.docs[action]

			var withoutVersion []string
			withVersion := make(map[string]int)
			for _, id := range ids {
				entry := docs[id]
				if entry.version == nil {
					withoutVersion = append(withoutVersion, id)
				} else {
					withVersion[id] = *entry.version
				}
			}

			emitGroup(collection, action, withoutVersion, emit)
			emitVersionedGroup(collection, action, withVersion, emit)
		}
	}
}

func emitGroup(collection string, action wire.Action, ids []string, emit func(f wire.Frame)) {
	switch len(ids) {
	case 0:
		return
	case 1:
		emit(wire.Frame{Action: action, Collection: collection, Doc: ids[0]})
	default:
		emit(wire.Frame{Action: bulkForm(action), Collection: collection, Bulk: mustMarshal(ids)})
	}
}

func emitVersionedGroup(collection string, action wire.Action, docs map[string]int, emit func(f wire.Frame)) {
	switch len(docs) {
	case 0:
		return
	case 1:
		for id, v := range docs {
			emit(wire.Frame{Action: action, Collection: collection, Doc: id, Version: wire.IntVersion(v)})
		}
	default:
		emit(wire.Frame{Action: bulkForm(action), Collection: collection, Bulk: mustMarshal(docs)})
	}
}

// bulkForm returns the "b"-prefixed bulk action tag for a single action.
func bulkForm(action wire.Action) wire.Action {
	switch action {
	case wire.ActionFetch:
		return wire.ActionBulkFetch
	case wire.ActionSubscribe:
		return wire.ActionBulkSub
	case wire.ActionUnsubscribe:
		return wire.ActionBulkUnsub
	default:
		return action
	}
}
