package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestSortDocumentsMissingFirst(t *testing.T) {
	docs := []bson.M{
		{"_id": "c", "createdOn": "2024-01-03T00:00:00.000Z"},
		{"_id": "a"},
		{"_id": "b", "createdOn": "2024-01-01T00:00:00.000Z"},
	}
	SortDocuments(docs, []Sort{Asc("createdOn")})

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d["_id"].(string))
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestSortDocumentsDescWithTieBreak(t *testing.T) {
	docs := []bson.M{
		{"_id": "a", "n": 1},
		{"_id": "b", "n": 2},
		{"_id": "c", "n": 2},
	}
	SortDocuments(docs, []Sort{Desc("n"), Asc("_id")})
	assert.Equal(t, "b", docs[0]["_id"])
	assert.Equal(t, "c", docs[1]["_id"])
	assert.Equal(t, "a", docs[2]["_id"])
}

func TestSortBSON(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "createdOn", Value: 1}, {Key: "_id", Value: -1}},
		SortBSON([]Sort{Asc("createdOn"), Desc("_id")}))
}
