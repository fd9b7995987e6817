package query

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson"
)

// Sort orders results by a single field.
type Sort struct {
	Field string
	Desc  bool
}

// Asc sorts ascending by field.
func Asc(field string) Sort { return Sort{Field: field} }

// Desc sorts descending by field.
func Desc(field string) Sort { return Sort{Field: field, Desc: true} }

// SortBSON renders sorts as a MongoDB sort document.
func SortBSON(sorts []Sort) bson.D {
	out := make(bson.D, 0, len(sorts))
	for _, s := range sorts {
		dir := 1
		if s.Desc {
			dir = -1
		}
		out = append(out, bson.E{Key: s.Field, Value: dir})
	}
	return out
}

// SortDocuments sorts docs in place. Missing or incomparable values sort
// first, matching MongoDB's null-first ascending order.
func SortDocuments(docs []bson.M, sorts []Sort) {
	if len(sorts) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, s := range sorts {
			c := compareField(docs[i], docs[j], s.Field)
			if c == 0 {
				continue
			}
			if s.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareField(a, b bson.M, field string) int {
	av, aok := Lookup(a, field)
	bv, bok := Lookup(b, field)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}
	c, ok := Compare(av, bv)
	if !ok {
		return 0
	}
	return c
}
