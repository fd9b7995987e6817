package remote

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Encode converts v into a Document through its bson tags.
func Encode(v interface{}) (Document, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Document
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// Decode fills out from doc through its bson tags. Unknown fields are ignored.
func Decode(doc Document, out interface{}) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := bson.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// Copy returns a deep copy of doc.
func Copy(doc Document) (Document, error) {
	return Encode(doc)
}

// DocID returns the string identity of doc.
func DocID(doc Document) (string, bool) {
	switch id := doc[IDField].(type) {
	case string:
		return id, id != ""
	case primitive.ObjectID:
		return id.Hex(), !id.IsZero()
	case fmt.Stringer:
		s := id.String()
		return s, s != ""
	}
	return "", false
}
