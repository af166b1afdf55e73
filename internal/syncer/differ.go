package syncer

// Selection is the outcome of one diff pass over a tenant's entities.
// Only ToUpsert costs an embedding call; bounding that list to what actually
// changed keeps sync cost proportional to the size of the change, not the
// size of the corpus.
type Selection struct {
	ToUpsert []SyncableEntity
	ToSkip   []SyncableEntity
}

// Select recomputes each entity's content hash and routes it.
//
// An entity is skipped when it is indexable, its recomputed hash matches the
// hash last recorded in the index, and nothing about its visibility changed
// (presence in existingHashes implies it was indexable on the previous pass).
// Entities that are inactive or hidden are routed to neither list; the
// reconciler's prune step removes them via the valid-id set.
func Select(entities []SyncableEntity, existingHashes map[string]string) Selection {
	var sel Selection
	for i := range entities {
		e := entities[i]
		e.ContentHash = e.ComputeHash()

		if !e.Indexable() {
			continue
		}

		if prev, ok := existingHashes[e.ID]; ok && prev == e.ContentHash {
			sel.ToSkip = append(sel.ToSkip, e)
			continue
		}
		sel.ToUpsert = append(sel.ToUpsert, e)
	}
	return sel
}

// ValidIDs returns the set of entity ids that belong in the index: every
// entity still active and visible at the source. Everything indexed outside
// this set is obsolete and gets pruned.
func ValidIDs(entities []SyncableEntity) map[string]bool {
	valid := make(map[string]bool)
	for i := range entities {
		if entities[i].Indexable() {
			valid[entities[i].ID] = true
		}
	}
	return valid
}
