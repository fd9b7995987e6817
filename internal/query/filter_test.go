package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestRetentionFilterMatchesEitherSchema(t *testing.T) {
	f := And(
		Eq("roomId", "r1"),
		Or(
			Gte("createdOn", "2024-05-10T00:00:00.000Z"),
			Gte("ts", int64(1715299200000)),
			Gte("timeMs", int64(1715299200000)),
		),
	)

	assert.True(t, f.Match(bson.M{"roomId": "r1", "createdOn": "2024-05-11T08:00:00.000Z"}))
	assert.True(t, f.Match(bson.M{"roomId": "r1", "ts": int64(1715400000000)}))
	assert.True(t, f.Match(bson.M{"roomId": "r1", "timeMs": 1715400000000.0}))
	assert.False(t, f.Match(bson.M{"roomId": "r1", "createdOn": "2024-05-01T00:00:00.000Z"}))
	assert.False(t, f.Match(bson.M{"roomId": "r2", "createdOn": "2024-05-11T08:00:00.000Z"}))
	assert.False(t, f.Match(bson.M{"roomId": "r1"}))
}

func TestFilterBSON(t *testing.T) {
	f := And(Eq("roomId", "r1"), Gte("ts", 5))
	assert.Equal(t, bson.M{"$and": bson.A{
		bson.M{"roomId": "r1"},
		bson.M{"ts": bson.M{"$gte": 5}},
	}}, f.BSON())
	assert.Equal(t, bson.M{}, All().BSON())
}

func TestInAndNotEq(t *testing.T) {
	in := In("_id", "a", "b")
	assert.True(t, in.Match(bson.M{"_id": "a"}))
	assert.False(t, in.Match(bson.M{"_id": "c"}))

	ne := NotEq("isArchived", true)
	assert.True(t, ne.Match(bson.M{"isArchived": false}))
	assert.True(t, ne.Match(bson.M{}))
	assert.False(t, ne.Match(bson.M{"isArchived": true}))
}

func TestLookupDottedPath(t *testing.T) {
	doc := bson.M{"metadata": bson.M{"role": "thumbnail"}, "d": bson.D{{Key: "k", Value: 1}}}

	v, ok := Lookup(doc, "metadata.role")
	assert.True(t, ok)
	assert.Equal(t, "thumbnail", v)

	v, ok = Lookup(doc, "d.k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = Lookup(doc, "metadata.missing")
	assert.False(t, ok)
}

func TestCompareMixedKinds(t *testing.T) {
	c, ok := Compare(int32(3), 3.5)
	assert.True(t, ok)
	assert.Equal(t, -1, c)

	_, ok = Compare("3", 3)
	assert.False(t, ok)
}
