// Package key derives deterministic cache keys from structured query
// parameters. Two semantically identical queries (same parameter values in
// any insertion order) always produce the same key; any value that affects
// the result changes the key. Parameter lists are hashed rather than
// concatenated, so key length is fixed regardless of how many vendor codes
// or business lines a query carries.
package key

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// ErrInvalidParameter is returned when a key cannot be built because a
// parameter is missing, empty, or carries an unusable value. Match with
// errors.Is.
var ErrInvalidParameter = errors.New("key: invalid parameter")

// FloatPrecision is the number of decimal places float parameters are
// rounded to before hashing. Zoom levels arrive with floating-point jitter
// (11.0 vs 11.00001) that must not fragment the cache.
const FloatPrecision = 4

// DateFormat is the canonical encoding for date parameters.
const DateFormat = "2006-01-02"

var namespaceRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// LockNamespace is reserved for the store's computation-lock keyspace.
// Data keys must never land inside it.
const LockNamespace = "lock"

// Key is an opaque cache key of the form <namespace>:<16-hex digest>.
type Key string

// Namespace returns the logical namespace portion of the key.
func (k Key) Namespace() string {
	if i := strings.IndexByte(string(k), ':'); i >= 0 {
		return string(k[:i])
	}
	return string(k)
}

func (k Key) String() string { return string(k) }

// Prefix returns the store prefix covering every key in a namespace.
func Prefix(namespace string) string {
	return namespace + ":"
}

// ValidNamespace reports whether namespace is well formed (lowercase
// alphanumerics and hyphens) and not a reserved keyspace.
func ValidNamespace(namespace string) bool {
	return namespace != LockNamespace && namespaceRe.MatchString(namespace)
}

type paramKind int

const (
	kindString paramKind = iota
	kindStrings
	kindInt
	kindFloat
	kindDate
	kindBool
)

type param struct {
	name    string
	kind    paramKind
	str     string
	strs    []string
	integer int64
	float   float64
	date    time.Time
	boolean bool
}

// Params is an ordered set of named query parameters. Setters record values;
// normalization and ordering happen at Build time, so insertion order never
// influences the resulting key. The zero value is ready to use.
type Params struct {
	params []param
	err    error
}

// NewParams returns an empty parameter set.
func NewParams() Params {
	return Params{}
}

func (p Params) setErr(err error) Params {
	if p.err == nil {
		p.err = err
	}
	return p
}

func (p Params) add(pa param) Params {
	if pa.name == "" {
		return p.setErr(errors.Wrap(ErrInvalidParameter, "empty parameter name"))
	}
	for _, existing := range p.params {
		if existing.name == pa.name {
			return p.setErr(errors.Wrapf(ErrInvalidParameter, "duplicate parameter %q", pa.name))
		}
	}
	p.params = append(slices.Clip(p.params), pa)
	return p
}

// String adds a string parameter. The value is case-normalized.
func (p Params) String(name, value string) Params {
	return p.add(param{name: name, kind: kindString, str: value})
}

// Strings adds a list parameter. The list is sorted, de-duplicated, and
// case-normalized, so ["B","A"] and ["a","b"] are the same value.
func (p Params) Strings(name string, values []string) Params {
	return p.add(param{name: name, kind: kindStrings, strs: slices.Clone(values)})
}

// Int adds an integer parameter.
func (p Params) Int(name string, value int) Params {
	return p.add(param{name: name, kind: kindInt, integer: int64(value)})
}

// Float adds a float parameter, rounded to FloatPrecision decimal places.
// NaN and infinities are invalid.
func (p Params) Float(name string, value float64) Params {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return p.setErr(errors.Wrapf(ErrInvalidParameter, "parameter %q is not a finite number", name))
	}
	return p.add(param{name: name, kind: kindFloat, float: value})
}

// Date adds a date parameter, canonicalized to ISO-8601 (date only).
// The zero time is invalid.
func (p Params) Date(name string, value time.Time) Params {
	if value.IsZero() {
		return p.setErr(errors.Wrapf(ErrInvalidParameter, "parameter %q is the zero time", name))
	}
	return p.add(param{name: name, kind: kindDate, date: value})
}

// Bool adds a boolean parameter.
func (p Params) Bool(name string, value bool) Params {
	return p.add(param{name: name, kind: kindBool, boolean: value})
}

// Len returns the number of parameters recorded.
func (p Params) Len() int { return len(p.params) }

// Has reports whether a parameter with the given name was set.
func (p Params) Has(name string) bool {
	for _, pa := range p.params {
		if pa.name == name {
			return true
		}
	}
	return false
}

// Err returns the first error recorded by a setter, if any.
func (p Params) Err() error { return p.err }

// writeField length-prefixes s so field boundaries survive arbitrary value
// content. A plain separator join would let a value containing the
// separator masquerade as extra fields and collide with a different query.
func writeField(sb *strings.Builder, s string) {
	sb.WriteString(strconv.Itoa(len(s)))
	sb.WriteByte(':')
	sb.WriteString(s)
}

func (pa param) normalizedList() []string {
	vals := make([]string, 0, len(pa.strs))
	for _, v := range pa.strs {
		vals = append(vals, strings.ToLower(strings.TrimSpace(v)))
	}
	slices.Sort(vals)
	return slices.Compact(vals)
}

func (pa param) canonical() string {
	switch pa.kind {
	case kindString:
		return strings.ToLower(strings.TrimSpace(pa.str))
	case kindInt:
		return strconv.FormatInt(pa.integer, 10)
	case kindFloat:
		shift := math.Pow10(FloatPrecision)
		rounded := math.Round(pa.float*shift) / shift
		return strconv.FormatFloat(rounded, 'f', -1, 64)
	case kindDate:
		return pa.date.UTC().Format(DateFormat)
	case kindBool:
		return strconv.FormatBool(pa.boolean)
	}
	return ""
}

// encode appends the param's canonical form: length-prefixed name, a kind
// tag, then the value (for lists, an element count followed by each
// length-prefixed element). The result parses back deterministically, so
// distinct parameter sets never encode to the same byte string.
func (pa param) encode(sb *strings.Builder) {
	writeField(sb, pa.name)
	switch pa.kind {
	case kindStrings:
		vals := pa.normalizedList()
		sb.WriteByte('l')
		sb.WriteString(strconv.Itoa(len(vals)))
		sb.WriteByte(';')
		for _, v := range vals {
			writeField(sb, v)
		}
	case kindString:
		sb.WriteByte('s')
		writeField(sb, pa.canonical())
	case kindInt:
		sb.WriteByte('i')
		writeField(sb, pa.canonical())
	case kindFloat:
		sb.WriteByte('f')
		writeField(sb, pa.canonical())
	case kindDate:
		sb.WriteByte('d')
		writeField(sb, pa.canonical())
	case kindBool:
		sb.WriteByte('b')
		writeField(sb, pa.canonical())
	}
}

// Build derives the cache key for a namespace and parameter set. Any names
// listed in required must be present. The digest covers a canonical,
// name-sorted encoding of all parameters, so the key is independent of
// insertion order and bounded in length.
func Build(namespace string, p Params, required ...string) (Key, error) {
	if !ValidNamespace(namespace) {
		return "", errors.Wrapf(ErrInvalidParameter, "invalid namespace %q", namespace)
	}
	if p.err != nil {
		return "", p.err
	}
	for _, name := range required {
		if !p.Has(name) {
			return "", errors.Wrapf(ErrInvalidParameter, "missing required parameter %q", name)
		}
	}

	sorted := slices.Clone(p.params)
	slices.SortFunc(sorted, func(a, b param) int {
		return strings.Compare(a.name, b.name)
	})

	var sb strings.Builder
	for _, pa := range sorted {
		pa.encode(&sb)
	}

	digest := xxhash.Sum64String(sb.String())
	return Key(fmt.Sprintf("%s:%016x", namespace, digest)), nil
}
