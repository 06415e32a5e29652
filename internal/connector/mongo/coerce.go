package mongo

import (
	"encoding/json"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/saks635/NL2SQL-Convertor/internal/connector"
)

// coerce converts a decoded BSON value into a result cell. Arrays and
// sub-documents become JSON text.
func coerce(v any) any {
	switch x := v.(type) {
	case primitive.ObjectID:
		return x.Hex()
	case primitive.DateTime:
		return x.Time().UTC().Format(time.RFC3339Nano)
	case primitive.Timestamp:
		return time.Unix(int64(x.T), 0).UTC().Format(time.RFC3339Nano)
	case primitive.Decimal128:
		return x.String()
	case primitive.Binary:
		return connector.Coerce(x.Data)
	case primitive.Null, primitive.Undefined:
		return nil
	case bson.D, bson.M, bson.A:
		b, err := json.Marshal(plain(x))
		if err != nil {
			return connector.Coerce(x)
		}
		return string(b)
	}
	return connector.Coerce(v)
}

// plain rewrites nested BSON containers into values encoding/json renders
// naturally.
func plain(v any) any {
	switch x := v.(type) {
	case bson.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = plain(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = plain(val)
		}
		return m
	case bson.A:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = plain(val)
		}
		return out
	}
	return coerce(v)
}

// lookup follows a dotted path through nested documents.
func lookup(doc bson.D, path string) any {
	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		d, ok := asDocument(cur)
		if !ok {
			return nil
		}
		cur = nil
		for _, e := range d {
			if e.Key == seg {
				cur = e.Value
				break
			}
		}
	}
	return cur
}
