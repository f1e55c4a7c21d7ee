package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// wholeKey names the unit with no identity fields and no parameters.
const wholeKey = "all"

// Unit identifies one piece of stage work: identity fields such as
// batch, time, channel or segment, plus the stage parameters that shaped
// its result. Two units with equal fields and equal parameters share a
// marker; changing a parameter yields a different key.
type Unit struct {
	Fields map[string]string
	Params map[string]any
}

// NewUnit builds a unit from alternating field names and values.
// A trailing name without a value is ignored.
func NewUnit(kv ...string) Unit {
	u := Unit{Fields: make(map[string]string, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		u.Fields[kv[i]] = kv[i+1]
	}
	return u
}

// With returns a copy of u with field name set to value.
func (u Unit) With(name, value string) Unit {
	out := u.clone()
	out.Fields[name] = value
	return out
}

// WithParam returns a copy of u with parameter name set to value. value
// must be JSON-serializable.
func (u Unit) WithParam(name string, value any) Unit {
	out := u.clone()
	out.Params[name] = value
	return out
}

// Field returns the value of field name, or "".
func (u Unit) Field(name string) string {
	return u.Fields[name]
}

func (u Unit) clone() Unit {
	out := Unit{
		Fields: make(map[string]string, len(u.Fields)+1),
		Params: make(map[string]any, len(u.Params)+1),
	}
	for k, v := range u.Fields {
		out.Fields[k] = v
	}
	for k, v := range u.Params {
		out.Params[k] = v
	}
	return out
}

// Key returns the marker key: the fields as sorted, escaped name=value
// pairs joined by ",", then "~" and a 12-hex-digit digest of the
// parameters when there are any.
//
//	NewUnit("channel", "488", "batch", "b1").Key()  -> "batch=b1,channel=488"
//	...WithParam("halo", 1).Key()                   -> "batch=b1,channel=488~3f2a..."
func (u Unit) Key() string {
	names := make([]string, 0, len(u.Fields))
	for name := range u.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, len(names))
	for i, name := range names {
		pairs[i] = url.QueryEscape(name) + "=" + url.QueryEscape(u.Fields[name])
	}
	key := strings.Join(pairs, ",")

	if digest := u.ParamDigest(); digest != "" {
		if key == "" {
			key = wholeKey
		}
		return key + "~" + digest
	}
	if key == "" {
		return wholeKey
	}
	return key
}

// ParamDigest returns a short hex digest of the canonical JSON encoding of
// Params, or "" when there are none.
func (u Unit) ParamDigest() string {
	if len(u.Params) == 0 {
		return ""
	}
	// Both encodings sort map keys, so equal maps digest identically.
	raw, err := json.Marshal(u.Params)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", u.Params))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:6])
}

// String implements fmt.Stringer.
func (u Unit) String() string {
	return u.Key()
}
