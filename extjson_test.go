package bsonlite

import (
	"io"
	"math"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseOne(t *testing.T, src string) *Doc {
	t.Helper()
	d, err := DocFromJSON([]byte(src))
	require.NoError(t, err, "parse %s", src)
	return d
}

func firstElem(t *testing.T, d *Doc) *Iter {
	t.Helper()
	var it Iter
	require.True(t, it.Init(d))
	require.True(t, it.Next(), "document is empty")
	return &it
}

// ---- scalars ----

func TestParseJSON_PlainScalars(t *testing.T) {
	d := parseOne(t, `{"s": "str", "i": 5, "big": 3000000000, "f": 1.5, "t": true, "n": null}`)
	require.NoError(t, d.Validate(ValidateUTF8))

	var it Iter
	it.Init(d)
	require.True(t, it.Next())
	assert.Equal(t, TypeUTF8, it.Type())
	assert.Equal(t, "str", it.UTF8())
	require.True(t, it.Next())
	assert.Equal(t, TypeInt32, it.Type())
	assert.Equal(t, int32(5), it.Int32())
	require.True(t, it.Next())
	assert.Equal(t, TypeInt64, it.Type(), "int beyond int32 range")
	assert.Equal(t, int64(3000000000), it.Int64())
	require.True(t, it.Next())
	assert.Equal(t, TypeDouble, it.Type())
	assert.Equal(t, 1.5, it.Double())
	require.True(t, it.Next())
	assert.Equal(t, TypeBool, it.Type())
	require.True(t, it.Next())
	assert.Equal(t, TypeNull, it.Type())
}

func TestParseJSON_NestedContainers(t *testing.T) {
	d := parseOne(t, `{"a": 1, "b": [1, 2, 3], "c": {"d": "e"}}`)
	assert.Equal(t, 3, d.CountKeys())

	var it, sub Iter
	it.Init(d)
	require.True(t, it.FindDescendant("b.2", &sub))
	assert.Equal(t, int32(3), sub.Int32())
	it.Init(d)
	require.True(t, it.FindDescendant("c.d", &sub))
	assert.Equal(t, "e", sub.UTF8())
}

func TestParseJSON_Escapes(t *testing.T) {
	d := parseOne(t, `{"k": "a\"b\\c\/d\n\tAé"}`)
	it := firstElem(t, d)
	assert.Equal(t, "a\"b\\c/d\n\tAé", it.UTF8())
}

func TestParseJSON_SurrogatePair(t *testing.T) {
	d := parseOne(t, `{"k": "\ud83d\ude00"}`)
	it := firstElem(t, d)
	assert.Equal(t, "😀", it.UTF8())

	_, err := DocFromJSON([]byte(`{"k": "\ud83d"}`))
	assert.Error(t, err, "lone surrogate accepted")
}

func TestParseJSON_EmbeddedNUL(t *testing.T) {
	d := parseOne(t, "{\"k\": \"a\\u0000b\"}")
	it := firstElem(t, d)
	assert.Equal(t, "a\x00b", it.UTF8())
}

// ---- S4, S5, S6 ----

func TestParseJSON_NumberLong(t *testing.T) {
	d := parseOne(t, `{"x": {"$numberLong": "9223372036854775807"}}`)
	it := firstElem(t, d)
	assert.Equal(t, TypeInt64, it.Type())
	assert.Equal(t, "x", it.Key())
	assert.Equal(t, int64(math.MaxInt64), it.Int64())

	out, err := d.AsCanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{ "x" : { "$numberLong" : "9223372036854775807" } }`, out)
}

func TestParseJSON_NumberDecimal(t *testing.T) {
	d := parseOne(t, `{"d": {"$numberDecimal": "0.1"}}`)
	it := firstElem(t, d)
	assert.Equal(t, TypeDecimal128, it.Type())
	assert.Equal(t, "0.1", it.Decimal128().String())

	out, err := d.AsCanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{ "d" : { "$numberDecimal" : "0.1" } }`, out)
}

func TestParseJSON_DateISO(t *testing.T) {
	d := parseOne(t, `{"dt": {"$date": "2016-12-13T12:34:56.123Z"}}`)
	it := firstElem(t, d)
	assert.Equal(t, TypeDateTime, it.Type())
	assert.Equal(t, int64(1481632496123), it.DateTime())
}

// ---- remaining wrappers ----

func TestParseJSON_Wrappers(t *testing.T) {
	d := parseOne(t, `{
		"oid": {"$oid": "56e1fc72e0c917e9c4714161"},
		"dateInt": {"$date": 1481632496123},
		"dateLong": {"$date": {"$numberLong": "-62135596800000"}},
		"bin": {"$binary": "AQID", "$type": "05"},
		"binRev": {"$type": "80", "$binary": "AQID"},
		"binNew": {"$binary": {"base64": "AQID", "subType": "00"}},
		"re": {"$regex": "^ab", "$options": "ix"},
		"reNew": {"$regularExpression": {"pattern": "p", "options": ""}},
		"ts": {"$timestamp": {"t": 100, "i": 3}},
		"undef": {"$undefined": true},
		"min": {"$minKey": 1},
		"max": {"$maxKey": 1},
		"int": {"$numberInt": "-7"},
		"dbl": {"$numberDouble": "2.5"},
		"inf": {"$numberDouble": "-Infinity"},
		"code": {"$code": "x = 1"},
		"cws": {"$code": "f()", "$scope": {"y": 2}},
		"sym": {"$symbol": "sss"},
		"dbp": {"$dbPointer": {"$ref": "db.c", "$id": {"$oid": "56e1fc72e0c917e9c4714161"}}}
	}`)
	require.NoError(t, d.Validate(ValidateUTF8))

	var it Iter
	require.True(t, it.InitFind(d, "oid"))
	assert.Equal(t, "56e1fc72e0c917e9c4714161", it.OID().Hex())

	require.True(t, it.InitFind(d, "dateInt"))
	assert.Equal(t, int64(1481632496123), it.DateTime())

	require.True(t, it.InitFind(d, "dateLong"))
	assert.Equal(t, int64(-62135596800000), it.DateTime())

	require.True(t, it.InitFind(d, "bin"))
	sub, data := it.Binary()
	assert.Equal(t, SubtypeMD5, sub)
	assert.Equal(t, []byte{1, 2, 3}, data)

	require.True(t, it.InitFind(d, "binRev"))
	sub, _ = it.Binary()
	assert.Equal(t, SubtypeUser, sub)

	require.True(t, it.InitFind(d, "binNew"))
	sub, data = it.Binary()
	assert.Equal(t, SubtypeGeneric, sub)
	assert.Equal(t, []byte{1, 2, 3}, data)

	require.True(t, it.InitFind(d, "re"))
	pat, opts := it.Regex()
	assert.Equal(t, "^ab", pat)
	assert.Equal(t, "ix", opts)

	require.True(t, it.InitFind(d, "reNew"))
	pat, opts = it.Regex()
	assert.Equal(t, "p", pat)
	assert.Equal(t, "", opts)

	require.True(t, it.InitFind(d, "ts"))
	ts, inc := it.Timestamp()
	assert.Equal(t, uint32(100), ts)
	assert.Equal(t, uint32(3), inc)

	require.True(t, it.InitFind(d, "undef"))
	assert.Equal(t, TypeUndefined, it.Type())
	require.True(t, it.InitFind(d, "min"))
	assert.Equal(t, TypeMinKey, it.Type())
	require.True(t, it.InitFind(d, "max"))
	assert.Equal(t, TypeMaxKey, it.Type())

	require.True(t, it.InitFind(d, "int"))
	assert.Equal(t, int32(-7), it.Int32())
	require.True(t, it.InitFind(d, "dbl"))
	assert.Equal(t, 2.5, it.Double())
	require.True(t, it.InitFind(d, "inf"))
	assert.True(t, math.IsInf(it.Double(), -1))

	require.True(t, it.InitFind(d, "code"))
	assert.Equal(t, "x = 1", it.Code())

	require.True(t, it.InitFind(d, "cws"))
	code, scope := it.CodeWithScope()
	assert.Equal(t, "f()", code)
	sd, err := NewFromBytes(scope)
	require.NoError(t, err)
	assert.True(t, sd.HasField("y"))

	require.True(t, it.InitFind(d, "sym"))
	assert.Equal(t, "sss", it.Symbol())

	require.True(t, it.InitFind(d, "dbp"))
	coll, id := it.DBPointer()
	assert.Equal(t, "db.c", coll)
	assert.Equal(t, "56e1fc72e0c917e9c4714161", id.Hex())
}

func TestParseJSON_DollarRefPassthrough(t *testing.T) {
	d := parseOne(t, `{"link": {"$ref": "coll", "$id": 5}, "op": {"$gt": 2}}`)
	var it Iter
	require.True(t, it.InitFind(d, "link"))
	assert.Equal(t, TypeDocument, it.Type(), "$ref stays a plain document")
	var sub Iter
	require.True(t, it.Recurse(&sub))
	require.True(t, sub.Find("$id"))
	assert.Equal(t, int32(5), sub.Int32())

	require.True(t, it.InitFind(d, "op"))
	assert.Equal(t, TypeDocument, it.Type(), "unknown $-keys stay plain documents")
}

// ---- errors ----

func requireJSONError(t *testing.T, src string, code uint32) {
	t.Helper()
	_, err := DocFromJSON([]byte(src))
	require.Error(t, err, "accepted %s", src)
	var e *Error
	require.ErrorAs(t, err, &e, "error for %s", src)
	assert.Equal(t, code, e.Code, "code for %s: %v", src, err)
}

func TestParseJSON_Errors(t *testing.T) {
	// Structural corruption.
	requireJSONError(t, `{"a": }`, JSONErrorReadCorruptJS)
	requireJSONError(t, `{"a" 1}`, JSONErrorReadCorruptJS)
	requireJSONError(t, `{"a": [1 2]}`, JSONErrorReadCorruptJS)
	requireJSONError(t, `{"a": truth}`, JSONErrorReadCorruptJS)
	requireJSONError(t, `{"a": 1`, JSONErrorReadCorruptJS) // incomplete

	// Wrapper semantics.
	requireJSONError(t, `{"a": {"$oid": "nothex"}}`, JSONErrorReadInvalidParam)
	requireJSONError(t, `{"a": {"$numberLong": "12x"}}`, JSONErrorReadInvalidParam)
	requireJSONError(t, `{"a": {"$numberLong": "9223372036854775808"}}`, JSONErrorReadInvalidParam)
	requireJSONError(t, `{"a": {"$numberInt": "5000000000"}}`, JSONErrorReadInvalidParam)
	requireJSONError(t, `{"a": {"$numberDecimal": "bad"}}`, JSONErrorReadInvalidParam)
	requireJSONError(t, `{"a": {"$timestamp": {"t": 1}}}`, JSONErrorReadInvalidParam)
	requireJSONError(t, `{"a": {"$timestamp": {"t": 1, "i": 2, "x": 3}}}`, JSONErrorReadInvalidParam)
	requireJSONError(t, `{"a": {"$binary": "AQID"}}`, JSONErrorReadInvalidParam)
	requireJSONError(t, `{"a": {"$undefined": false}}`, JSONErrorReadInvalidParam)
	requireJSONError(t, `{"a": {"$minKey": 1, "extra": 2}}`, JSONErrorReadInvalidParam)
	requireJSONError(t, `{"a": {"$date": "2016-13-99"}}`, JSONErrorReadInvalidParam)
	requireJSONError(t, `{"a": {"$date": "2016-12-13T12:34:56"}}`, JSONErrorReadInvalidParam) // TZ mandatory
}

func TestParseJSON_SourceFailure(t *testing.T) {
	jr := NewJSONReader(iotest.TimeoutReader(strings.NewReader(`{"a": 1, "b": 2, "c": 3}`)))
	var d Doc
	err := jr.Read(&d)
	if err == nil {
		// The first chunk may have carried the whole doc; force a
		// second read to hit the failing source.
		err = jr.Read(&d)
	}
	require.Error(t, err)
}

// ---- streaming ----

func TestJSONReader_MultipleDocs(t *testing.T) {
	src := `{"a": 1} {"b": 2}
	{"c": 3}`
	jr := NewJSONReader(strings.NewReader(src))
	var keys []string
	d := New()
	for {
		err := jr.Read(d)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		var it Iter
		it.Init(d)
		require.True(t, it.Next())
		keys = append(keys, it.Key())
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestJSONReader_OneByteChunks(t *testing.T) {
	src := `{"x": {"$numberLong": "42"}, "y": [true, {"$numberDecimal": "1E+3"}]}`
	whole := parseOne(t, src)
	chunked := New()
	jr := NewJSONReader(iotest.OneByteReader(strings.NewReader(src)))
	require.NoError(t, jr.Read(chunked))
	assert.True(t, whole.Equal(chunked), "chunked parse differs")
}

// ---- printer ----

func TestAsJSON_Modes(t *testing.T) {
	d := New()
	d.AppendInt32("i", -1, 5)
	d.AppendInt64("l", -1, 1<<40)
	d.AppendDateTime("dt", -1, 1481632496123)

	legacy, err := d.AsJSON()
	require.NoError(t, err)
	assert.Equal(t, `{ "i" : 5, "l" : 1099511627776, "dt" : { "$date" : 1481632496123 } }`, legacy)

	canonical, err := d.AsCanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{ "i" : { "$numberInt" : "5" }, "l" : { "$numberLong" : "1099511627776" }, "dt" : { "$date" : { "$numberLong" : "1481632496123" } } }`, canonical)

	relaxed, err := d.AsRelaxedJSON()
	require.NoError(t, err)
	assert.Equal(t, `{ "i" : 5, "l" : 1099511627776, "dt" : { "$date" : "2016-12-13T12:34:56.123Z" } }`, relaxed)
}

func TestAsJSON_EmptyAndArrays(t *testing.T) {
	d := New()
	out, err := d.AsJSON()
	require.NoError(t, err)
	assert.Equal(t, `{ }`, out)

	var arr Doc
	d.AppendArrayBegin("a", -1, &arr)
	arr.AppendInt32("0", -1, 1)
	arr.AppendUTF8("1", -1, "x")
	d.AppendArrayEnd(&arr)
	out, err = d.AsJSON()
	require.NoError(t, err)
	assert.Equal(t, `{ "a" : [ 1, "x" ] }`, out)
}

func TestAsJSON_Escaping(t *testing.T) {
	d := New()
	d.AppendUTF8("q\"k", -1, "line\nquote\"back\\slash\x01")
	out, err := d.AsJSON()
	require.NoError(t, err)
	assert.Equal(t, `{ "q\"k" : "line\nquote\"back\\slash\u0001" }`, out)
}

func TestAsJSON_NegativeDateRelaxed(t *testing.T) {
	d := New()
	d.AppendDateTime("dt", -1, -1)
	out, err := d.AsRelaxedJSON()
	require.NoError(t, err)
	assert.Equal(t, `{ "dt" : { "$date" : { "$numberLong" : "-1" } } }`, out)
}

func TestAsJSON_DepthCap(t *testing.T) {
	d := New()
	cur := d
	children := make([]Doc, jsonMaxRecursion+5)
	for i := range children {
		if !cur.AppendDocumentBegin("n", -1, &children[i]) {
			t.Fatalf("begin level %d", i)
		}
		cur = &children[i]
	}
	for i := len(children) - 1; i > 0; i-- {
		require.True(t, children[i-1].AppendDocumentEnd(&children[i]))
	}
	require.True(t, d.AppendDocumentEnd(&children[0]))

	out, err := d.AsJSON()
	require.NoError(t, err)
	assert.Contains(t, out, "{ ... }")
}

// ---- parse <-> print round trip ----

func TestExtJSON_RoundTrip(t *testing.T) {
	cases := []string{
		`{ }`,
		`{ "a" : { "$numberInt" : "1" }, "b" : "two" }`,
		`{ "x" : { "$numberLong" : "9223372036854775807" } }`,
		`{ "d" : { "$numberDecimal" : "0.1" } }`,
		`{ "o" : { "$oid" : "56e1fc72e0c917e9c4714161" } }`,
		`{ "b" : { "$binary" : "AQID", "$type" : "05" } }`,
		`{ "r" : { "$regex" : "^a", "$options" : "i" } }`,
		`{ "t" : { "$timestamp" : { "t" : 1, "i" : 2 } } }`,
		`{ "u" : { "$undefined" : true } }`,
		`{ "m" : { "$minKey" : 1 }, "M" : { "$maxKey" : 1 } }`,
		`{ "dt" : { "$date" : { "$numberLong" : "1481632496123" } } }`,
		`{ "c" : { "$code" : "f()" } }`,
		`{ "s" : { "$symbol" : "sym" } }`,
		`{ "arr" : [ { "$numberInt" : "1" }, [ true, null ] ] }`,
		`{ "sub" : { "deep" : { "$numberDouble" : "0.5" } } }`,
	}
	for _, src := range cases {
		d := parseOne(t, src)
		out, err := d.AsCanonicalJSON()
		require.NoError(t, err, src)
		assert.Equal(t, src, out, "canonical round trip")

		d2 := parseOne(t, out)
		assert.True(t, d.Equal(d2), "bytes differ after reparse of %s", src)
	}
}
