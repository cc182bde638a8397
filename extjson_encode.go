package bsonlite

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type jsonMode int

const (
	jsonModeLegacy jsonMode = iota
	jsonModeCanonical
	jsonModeRelaxed
)

// jsonMaxRecursion caps printer recursion; documents nested deeper
// render as "{ ... }".
const jsonMaxRecursion = 100

// AsJSON renders the document in the legacy extended JSON flavour:
// numbers print bare and datetimes as millisecond counts.
func (d *Doc) AsJSON() (string, error) {
	return d.asJSON(jsonModeLegacy)
}

// AsCanonicalJSON renders the document as canonical extended JSON,
// wrapping every typed value in its $-prefixed form.
func (d *Doc) AsCanonicalJSON() (string, error) {
	return d.asJSON(jsonModeCanonical)
}

// AsRelaxedJSON renders the document as relaxed extended JSON:
// numbers print bare and datetimes in ISO-8601 where representable.
func (d *Doc) AsRelaxedJSON() (string, error) {
	return d.asJSON(jsonModeRelaxed)
}

func (d *Doc) asJSON(mode jsonMode) (string, error) {
	var sb strings.Builder
	if err := writeJSONDoc(&sb, d.Data(), mode, false, 0); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// writeJSONString writes s as a JSON string literal, escaping quote,
// backslash, and control characters.
func writeJSONString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if c < 0x20 {
				fmt.Fprintf(sb, `\u%04x`, c)
			} else {
				sb.WriteByte(c)
			}
		}
	}
	sb.WriteByte('"')
}

// formatJSONDouble renders v so that it parses back to the same
// bits: non-finite values by name, finite ones with a decimal point
// or exponent preserved.
func formatJSONDouble(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	s := strconv.FormatFloat(v, 'G', -1, 64)
	if !strings.ContainsAny(s, ".E") {
		s += ".0"
	}
	return s
}

func writeJSONDoc(sb *strings.Builder, raw []byte, mode jsonMode, asArray bool, depth int) error {
	open, closing := "{", "}"
	if asArray {
		open, closing = "[", "]"
	}
	if depth > jsonMaxRecursion {
		sb.WriteString("{ ... }")
		return nil
	}

	var it Iter
	if !it.initRaw(nil, raw) {
		return fmt.Errorf("%w: cannot iterate", ErrInvalidDocument)
	}

	sb.WriteString(open)
	first := true
	var werr error

	element := func(i *Iter, key string, write func()) bool {
		if first {
			sb.WriteByte(' ')
			first = false
		} else {
			sb.WriteString(", ")
		}
		if !asArray {
			writeJSONString(sb, key)
			sb.WriteString(" : ")
		}
		write()
		return werr != nil
	}

	v := Visitor{
		Corrupt: func(i *Iter) {
			werr = fmt.Errorf("%w: corrupt element at offset %d", ErrInvalidDocument, i.ErrOffset())
		},
		Double: func(i *Iter, key string, val float64) bool {
			return element(i, key, func() {
				s := formatJSONDouble(val)
				if mode == jsonModeCanonical || strings.ContainsAny(s, "IN") {
					sb.WriteString(`{ "$numberDouble" : `)
					writeJSONString(sb, s)
					sb.WriteString(" }")
				} else {
					sb.WriteString(s)
				}
			})
		},
		UTF8: func(i *Iter, key string, val string) bool {
			return element(i, key, func() { writeJSONString(sb, val) })
		},
		Document: func(i *Iter, key string, sub []byte) bool {
			return element(i, key, func() {
				werr = writeJSONDoc(sb, sub, mode, false, depth+1)
			})
		},
		Array: func(i *Iter, key string, sub []byte) bool {
			return element(i, key, func() {
				werr = writeJSONDoc(sb, sub, mode, true, depth+1)
			})
		},
		Binary: func(i *Iter, key string, subtype byte, data []byte) bool {
			return element(i, key, func() {
				sb.WriteString(`{ "$binary" : `)
				writeJSONString(sb, base64.StdEncoding.EncodeToString(data))
				fmt.Fprintf(sb, `, "$type" : "%02x" }`, subtype)
			})
		},
		Undefined: func(i *Iter, key string) bool {
			return element(i, key, func() { sb.WriteString(`{ "$undefined" : true }`) })
		},
		OID: func(i *Iter, key string, id ObjectID) bool {
			return element(i, key, func() {
				fmt.Fprintf(sb, `{ "$oid" : "%s" }`, id.Hex())
			})
		},
		Bool: func(i *Iter, key string, val bool) bool {
			return element(i, key, func() {
				if val {
					sb.WriteString("true")
				} else {
					sb.WriteString("false")
				}
			})
		},
		DateTime: func(i *Iter, key string, msec int64) bool {
			return element(i, key, func() {
				switch mode {
				case jsonModeLegacy:
					fmt.Fprintf(sb, `{ "$date" : %d }`, msec)
				case jsonModeRelaxed:
					if msec >= 0 && msec < maxRelaxedDateMillis {
						fmt.Fprintf(sb, `{ "$date" : "%s" }`, formatISO8601(msec))
						return
					}
					fallthrough
				default:
					fmt.Fprintf(sb, `{ "$date" : { "$numberLong" : "%d" } }`, msec)
				}
			})
		},
		Null: func(i *Iter, key string) bool {
			return element(i, key, func() { sb.WriteString("null") })
		},
		Regex: func(i *Iter, key string, pattern, options string) bool {
			return element(i, key, func() {
				sb.WriteString(`{ "$regex" : `)
				writeJSONString(sb, pattern)
				sb.WriteString(`, "$options" : `)
				writeJSONString(sb, options)
				sb.WriteString(" }")
			})
		},
		DBPointer: func(i *Iter, key string, collection string, id ObjectID) bool {
			return element(i, key, func() {
				sb.WriteString(`{ "$dbPointer" : { "$ref" : `)
				writeJSONString(sb, collection)
				fmt.Fprintf(sb, `, "$id" : { "$oid" : "%s" } } }`, id.Hex())
			})
		},
		Code: func(i *Iter, key string, code string) bool {
			return element(i, key, func() {
				sb.WriteString(`{ "$code" : `)
				writeJSONString(sb, code)
				sb.WriteString(" }")
			})
		},
		Symbol: func(i *Iter, key string, symbol string) bool {
			return element(i, key, func() {
				sb.WriteString(`{ "$symbol" : `)
				writeJSONString(sb, symbol)
				sb.WriteString(" }")
			})
		},
		CodeWithScope: func(i *Iter, key string, code string, scope []byte) bool {
			return element(i, key, func() {
				sb.WriteString(`{ "$code" : `)
				writeJSONString(sb, code)
				sb.WriteString(`, "$scope" : `)
				werr = writeJSONDoc(sb, scope, mode, false, depth+1)
				sb.WriteString(" }")
			})
		},
		Int32: func(i *Iter, key string, val int32) bool {
			return element(i, key, func() {
				if mode == jsonModeCanonical {
					fmt.Fprintf(sb, `{ "$numberInt" : "%d" }`, val)
				} else {
					fmt.Fprintf(sb, "%d", val)
				}
			})
		},
		Timestamp: func(i *Iter, key string, timestamp, increment uint32) bool {
			return element(i, key, func() {
				fmt.Fprintf(sb, `{ "$timestamp" : { "t" : %d, "i" : %d } }`, timestamp, increment)
			})
		},
		Int64: func(i *Iter, key string, val int64) bool {
			return element(i, key, func() {
				if mode == jsonModeCanonical {
					fmt.Fprintf(sb, `{ "$numberLong" : "%d" }`, val)
				} else {
					fmt.Fprintf(sb, "%d", val)
				}
			})
		},
		Decimal128: func(i *Iter, key string, val Decimal128) bool {
			return element(i, key, func() {
				fmt.Fprintf(sb, `{ "$numberDecimal" : "%s" }`, val.String())
			})
		},
		MaxKey: func(i *Iter, key string) bool {
			return element(i, key, func() { sb.WriteString(`{ "$maxKey" : 1 }`) })
		},
		MinKey: func(i *Iter, key string) bool {
			return element(i, key, func() { sb.WriteString(`{ "$minKey" : 1 }`) })
		},
	}

	it.VisitAll(&v)
	if werr != nil {
		return werr
	}
	sb.WriteString(" ")
	sb.WriteString(closing)
	return nil
}

// maxRelaxedDateMillis is the first millisecond of year 10000; ISO
// rendering stops there.
const maxRelaxedDateMillis = 253402300800000

// formatISO8601 renders msec as an ISO-8601 UTC timestamp, with the
// fractional part only when nonzero.
func formatISO8601(msec int64) string {
	t := time.UnixMilli(msec).UTC()
	if msec%1000 == 0 {
		return t.Format("2006-01-02T15:04:05Z")
	}
	return t.Format("2006-01-02T15:04:05.000Z")
}
