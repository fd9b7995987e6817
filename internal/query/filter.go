// Package query builds document filters that render to MongoDB BSON and can
// also be evaluated against documents held in memory.
package query

import (
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Filter selects documents.
type Filter interface {
	// BSON renders the filter as a MongoDB query document.
	BSON() bson.M
	// Match evaluates the filter against doc.
	Match(doc bson.M) bool
}

type allFilter struct{}

// All matches every document.
func All() Filter { return allFilter{} }

func (allFilter) BSON() bson.M        { return bson.M{} }
func (allFilter) Match(_ bson.M) bool { return true }

type eqFilter struct {
	field string
	value interface{}
}

// Eq matches documents whose field equals value.
func Eq(field string, value interface{}) Filter { return eqFilter{field, value} }

func (f eqFilter) BSON() bson.M { return bson.M{f.field: f.value} }

func (f eqFilter) Match(doc bson.M) bool {
	v, ok := Lookup(doc, f.field)
	if !ok {
		return f.value == nil
	}
	return equal(v, f.value)
}

type gteFilter struct {
	field string
	value interface{}
}

// Gte matches documents whose field is comparable to value and not less than it.
// Values of a different kind (string vs number) never match.
func Gte(field string, value interface{}) Filter { return gteFilter{field, value} }

func (f gteFilter) BSON() bson.M { return bson.M{f.field: bson.M{"$gte": f.value}} }

func (f gteFilter) Match(doc bson.M) bool {
	v, ok := Lookup(doc, f.field)
	if !ok {
		return false
	}
	c, ok := Compare(v, f.value)
	return ok && c >= 0
}

type inFilter struct {
	field  string
	values []interface{}
}

// In matches documents whose field equals any of values.
func In(field string, values ...interface{}) Filter { return inFilter{field, values} }

func (f inFilter) BSON() bson.M { return bson.M{f.field: bson.M{"$in": f.values}} }

func (f inFilter) Match(doc bson.M) bool {
	v, ok := Lookup(doc, f.field)
	if !ok {
		return false
	}
	for _, want := range f.values {
		if equal(v, want) {
			return true
		}
	}
	return false
}

type notEqFilter struct {
	field string
	value interface{}
}

// NotEq matches documents whose field is absent or differs from value.
func NotEq(field string, value interface{}) Filter { return notEqFilter{field, value} }

func (f notEqFilter) BSON() bson.M { return bson.M{f.field: bson.M{"$ne": f.value}} }

func (f notEqFilter) Match(doc bson.M) bool {
	v, ok := Lookup(doc, f.field)
	if !ok {
		return true
	}
	return !equal(v, f.value)
}

type orFilter []Filter

// Or matches documents matching any of fs.
func Or(fs ...Filter) Filter { return orFilter(fs) }

func (f orFilter) BSON() bson.M {
	parts := make(bson.A, 0, len(f))
	for _, sub := range f {
		parts = append(parts, sub.BSON())
	}
	return bson.M{"$or": parts}
}

func (f orFilter) Match(doc bson.M) bool {
	for _, sub := range f {
		if sub.Match(doc) {
			return true
		}
	}
	return false
}

type andFilter []Filter

// And matches documents matching all of fs.
func And(fs ...Filter) Filter { return andFilter(fs) }

func (f andFilter) BSON() bson.M {
	parts := make(bson.A, 0, len(f))
	for _, sub := range f {
		parts = append(parts, sub.BSON())
	}
	return bson.M{"$and": parts}
}

func (f andFilter) Match(doc bson.M) bool {
	for _, sub := range f {
		if !sub.Match(doc) {
			return false
		}
	}
	return true
}

// Lookup resolves a dotted path inside doc.
func Lookup(doc bson.M, path string) (interface{}, bool) {
	var cur interface{} = doc
	for _, part := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case bson.M:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]interface{}:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case bson.D:
			found := false
			for _, e := range m {
				if e.Key == part {
					cur, found = e.Value, true
					break
				}
			}
			if !found {
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return cur, true
}

// Compare orders two scalar values. The bool is false when the values are not
// of comparable kinds.
func Compare(a, b interface{}) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	if at, ok := toTime(a); ok {
		bt, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return at.Compare(bt), true
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case ab == bb:
			return 0, true
		case !ab:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func equal(a, b interface{}) bool {
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	}
	return time.Time{}, false
}
