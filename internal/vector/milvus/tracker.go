package milvus

// idTracker mirrors which entity ids are live per collection, since Milvus
// row counts are only eventually consistent after delete/flush. Replacing an
// existing id must not change the count. Callers hold the client mutex.
type idTracker struct {
	ids map[string]map[string]struct{}
}

func newIDTracker() *idTracker {
	return &idTracker{ids: make(map[string]map[string]struct{})}
}

func (t *idTracker) add(collection, id string) {
	set, ok := t.ids[collection]
	if !ok {
		set = make(map[string]struct{})
		t.ids[collection] = set
	}
	set[id] = struct{}{}
}

func (t *idTracker) remove(collection, id string) {
	delete(t.ids[collection], id)
}

func (t *idTracker) replace(collection string, ids []string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	t.ids[collection] = set
}

func (t *idTracker) count(collection string) int {
	return len(t.ids[collection])
}
