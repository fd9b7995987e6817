package models

import (
	"fmt"
	"math"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/getditto/DittoChat-sub001/pkg/utils"
)

// Legacy message fields written by older clients.
const (
	LegacyTextField      = "msg"
	LegacyUserIDField    = "user_id"
	LegacyUIDField       = "uid"
	LegacyTSField        = "ts"
	LegacyTimeMsField    = "timeMs"
	LegacyTimestampField = "timestamp"
	ConvertedMarkerField = "hasBeenConverted"
)

const (
	textField      = "text"
	userIDField    = "userId"
	createdOnField = "createdOn"
)

// Schema tags the shape a message document arrived in.
type Schema int

const (
	SchemaCurrent Schema = iota
	SchemaLegacy
)

func (s Schema) String() string {
	if s == SchemaLegacy {
		return "legacy"
	}
	return "current"
}

// LegacyFields carries the values only found on legacy documents.
type LegacyFields struct {
	Msg       string
	UserID    string
	UID       string
	TS        *int64
	TimeMs    *int64
	Timestamp string
}

// IngestedMessage is a message document classified at ingestion. Message holds
// whatever canonical fields were present; Legacy is only meaningful when
// Schema is SchemaLegacy.
type IngestedMessage struct {
	Schema  Schema
	Message Message
	Legacy  LegacyFields
}

// Ingest decodes doc and classifies it. A document is legacy when it lacks a
// canonical field that one of the legacy fields can supply and it has not
// been converted before.
func Ingest(doc bson.M) (IngestedMessage, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return IngestedMessage{}, fmt.Errorf("ingest message: %w", err)
	}
	var in IngestedMessage
	if err := bson.Unmarshal(raw, &in.Message); err != nil {
		return IngestedMessage{}, fmt.Errorf("ingest message: %w", err)
	}
	if in.Message.HasBeenConverted {
		return in, nil
	}

	in.Legacy = LegacyFields{
		Msg:       stringField(doc, LegacyTextField),
		UserID:    stringField(doc, LegacyUserIDField),
		UID:       stringField(doc, LegacyUIDField),
		TS:        millisField(doc, LegacyTSField),
		TimeMs:    millisField(doc, LegacyTimeMsField),
		Timestamp: stringField(doc, LegacyTimestampField),
	}
	l := in.Legacy
	switch {
	case missing(doc, textField) && l.Msg != "":
		in.Schema = SchemaLegacy
	case missing(doc, userIDField) && (l.UserID != "" || l.UID != ""):
		in.Schema = SchemaLegacy
	case missing(doc, createdOnField) && (l.TS != nil || l.TimeMs != nil || l.Timestamp != ""):
		in.Schema = SchemaLegacy
	}
	return in, nil
}

// Normalize returns the canonical message. Canonical fields always win over
// legacy ones; the result carries the converted marker.
func (in IngestedMessage) Normalize() Message {
	m := in.Message.Clone()
	if in.Schema == SchemaLegacy {
		l := in.Legacy
		if m.Text == "" {
			m.Text = l.Msg
		}
		if m.UserID == "" {
			if l.UserID != "" {
				m.UserID = l.UserID
			} else {
				m.UserID = l.UID
			}
		}
		if m.CreatedOn == "" {
			m.CreatedOn = l.createdOn()
		}
	}
	if m.Reactions == nil {
		m.Reactions = []Reaction{}
	}
	m.HasBeenConverted = true
	return m
}

func (l LegacyFields) createdOn() string {
	switch {
	case l.TS != nil:
		return utils.FromMillis(*l.TS)
	case l.TimeMs != nil:
		return utils.FromMillis(*l.TimeMs)
	case l.Timestamp != "":
		if t, err := utils.ParseTimestamp(l.Timestamp); err == nil {
			return utils.FormatTimestamp(t)
		}
		return l.Timestamp
	}
	return ""
}

func missing(doc bson.M, field string) bool {
	v, ok := doc[field]
	if !ok || v == nil {
		return true
	}
	s, isString := v.(string)
	return isString && s == ""
}

func stringField(doc bson.M, field string) string {
	s, _ := doc[field].(string)
	return s
}

func millisField(doc bson.M, field string) *int64 {
	var ms int64
	switch v := doc[field].(type) {
	case int32:
		ms = int64(v)
	case int64:
		ms = v
	case int:
		ms = int64(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		ms = int64(v)
	default:
		return nil
	}
	return &ms
}
