package bsonlite

import (
	"bytes"
	"testing"
)

// ---- corruption handling ----

func corruptIter(t *testing.T, raw []byte) *Iter {
	t.Helper()
	var it Iter
	if !it.initRaw(nil, raw) {
		t.Fatal("initRaw refused buffer")
	}
	return &it
}

func TestNext_DeclaredStringLengthOverrun(t *testing.T) {
	// {"a": "b"} with the string length field inflated to 5: the
	// declared value overruns the frame.
	raw := []byte{
		0x0e, 0x00, 0x00, 0x00,
		0x02, 'a', 0x00,
		0x05, 0x00, 0x00, 0x00, 'b', 0x00,
		0x00,
	}
	it := corruptIter(t, raw)
	if it.Next() {
		t.Fatal("corrupt element iterated")
	}
	if it.ErrOffset() != 7 {
		t.Fatalf("ErrOffset = %d, want 7", it.ErrOffset())
	}
	if it.Next() {
		t.Fatal("dead iterator advanced")
	}
}

func TestNext_StringMissingNUL(t *testing.T) {
	// String payload whose final byte is not NUL.
	raw := []byte{
		0x0e, 0x00, 0x00, 0x00,
		0x02, 'a', 0x00,
		0x02, 0x00, 0x00, 0x00, 'b', 0x01,
		0x00,
	}
	it := corruptIter(t, raw)
	if it.Next() {
		t.Fatal("corrupt element iterated")
	}
	if it.ErrOffset() != 12 {
		t.Fatalf("ErrOffset = %d, want 12", it.ErrOffset())
	}
}

func TestNext_ZeroLengthString(t *testing.T) {
	// A UTF-8 length of 0 cannot cover its terminator NUL.
	raw := []byte{
		0x0c, 0x00, 0x00, 0x00,
		0x02, 'a', 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00,
	}
	it := corruptIter(t, raw)
	if it.Next() {
		t.Fatal("zero-length string iterated")
	}
	if it.ErrOffset() != 7 {
		t.Fatalf("ErrOffset = %d, want 7", it.ErrOffset())
	}
}

func TestNext_NestedDocLengthOverrun(t *testing.T) {
	// Nested document claims to be longer than the parent frame.
	raw := []byte{
		0x0d, 0x00, 0x00, 0x00,
		0x03, 'd', 0x00,
		0x40, 0x00, 0x00, 0x00, 0x00,
		0x00,
	}
	it := corruptIter(t, raw)
	if it.Next() {
		t.Fatal("overrunning subdocument iterated")
	}
	if it.ErrOffset() != 7 {
		t.Fatalf("ErrOffset = %d, want 7", it.ErrOffset())
	}
}

func TestNext_UnknownTypeTag(t *testing.T) {
	raw := []byte{
		0x08, 0x00, 0x00, 0x00,
		0x42, 'a', 0x00,
		0x00,
	}
	it := corruptIter(t, raw)
	if it.Next() {
		t.Fatal("unknown type tag iterated")
	}
	if it.ErrOffset() != 7 {
		t.Fatalf("ErrOffset = %d, want 7", it.ErrOffset())
	}
}

func TestNext_ValidMinimalString(t *testing.T) {
	// A correctly framed {"a": "b"}: length field 2 covers "b\x00".
	raw := []byte{
		0x0e, 0x00, 0x00, 0x00,
		0x02, 'a', 0x00,
		0x02, 0x00, 0x00, 0x00, 'b', 0x00,
		0x00,
	}
	it := corruptIter(t, raw)
	if !it.Next() {
		t.Fatalf("valid doc rejected, err offset %d", it.ErrOffset())
	}
	if it.UTF8() != "b" {
		t.Fatalf("value = %q", it.UTF8())
	}
	if it.Next() || it.ErrOffset() != 0 {
		t.Fatalf("end state wrong: err offset %d", it.ErrOffset())
	}
}

// ---- find ----

func TestFind(t *testing.T) {
	d := New()
	d.AppendInt32("alpha", -1, 1)
	d.AppendInt32("Beta", -1, 2)
	d.AppendInt32("gamma", -1, 3)

	var it Iter
	if !it.InitFind(d, "gamma") || it.Int32() != 3 {
		t.Fatal("find gamma failed")
	}
	if it.Find("alpha") {
		t.Fatal("find searched backwards")
	}
	var ci Iter
	if !ci.InitFindCase(d, "BETA") || ci.Int32() != 2 {
		t.Fatal("case-insensitive find failed")
	}
	var missing Iter
	if missing.InitFind(d, "delta") {
		t.Fatal("found absent key")
	}
}

func TestFindDescendant(t *testing.T) {
	d := New()
	var outer, inner Doc
	d.AppendDocumentBegin("a", -1, &outer)
	outer.AppendDocumentBegin("b", -1, &inner)
	inner.AppendInt32("c", -1, 99)
	outer.AppendDocumentEnd(&inner)
	d.AppendDocumentEnd(&outer)

	var arr Doc
	d.AppendArrayBegin("list", -1, &arr)
	arr.AppendUTF8("0", -1, "zero")
	arr.AppendUTF8("1", -1, "one")
	d.AppendArrayEnd(&arr)

	var it, out Iter
	it.Init(d)
	if !it.FindDescendant("a.b.c", &out) || out.Int32() != 99 {
		t.Fatal("a.b.c not found")
	}
	it.Init(d)
	if !it.FindDescendant("list.1", &out) || out.UTF8() != "one" {
		t.Fatal("list.1 not found")
	}
	it.Init(d)
	if it.FindDescendant("a.b.missing", &out) {
		t.Fatal("found absent descendant")
	}
}

// ---- coercions ----

func TestAsBoolAsInt64(t *testing.T) {
	d := New()
	d.AppendDouble("zero", -1, 0)
	d.AppendDouble("pi", -1, 3.9)
	d.AppendUTF8("empty", -1, "")
	d.AppendUTF8("full", -1, "x")
	d.AppendNull("null", -1)
	d.AppendUndefined("undef", -1)
	d.AppendBool("yes", -1, true)
	d.AppendInt32("i", -1, 7)

	wantBool := map[string]bool{
		"zero": false, "pi": true, "empty": false, "full": true,
		"null": false, "undef": false, "yes": true, "i": true,
	}
	wantInt := map[string]int64{
		"zero": 0, "pi": 3, "yes": 1, "i": 7,
	}
	var it Iter
	it.Init(d)
	for it.Next() {
		if got := it.AsBool(); got != wantBool[it.Key()] {
			t.Fatalf("AsBool(%s) = %v", it.Key(), got)
		}
		if want, covered := wantInt[it.Key()]; covered {
			if got := it.AsInt64(); got != want {
				t.Fatalf("AsInt64(%s) = %d, want %d", it.Key(), got, want)
			}
		}
	}
}

func TestDateTimeSeconds(t *testing.T) {
	d := New()
	d.AppendDateTime("dt", -1, 1481632496123)
	var it Iter
	if !it.InitFind(d, "dt") {
		t.Fatal("find dt")
	}
	if got := it.DateTimeSeconds(); got != 1481632496 {
		t.Fatalf("DateTimeSeconds = %d, want 1481632496", got)
	}
	if it.Time().UnixMilli() != 1481632496123 {
		t.Fatalf("Time = %v", it.Time())
	}
}

// ---- in-place overwrite ----

func TestOverwrite(t *testing.T) {
	d := New()
	d.AppendBool("b", -1, false)
	d.AppendInt32("i", -1, 1)
	d.AppendInt64("l", -1, 2)
	d.AppendDouble("f", -1, 3.0)
	lenBefore := d.Len()

	var it Iter
	it.Init(d)
	for it.Next() {
		switch it.Key() {
		case "b":
			if !it.OverwriteBool(true) {
				t.Fatal("overwrite bool failed")
			}
		case "i":
			if !it.OverwriteInt32(-5) {
				t.Fatal("overwrite int32 failed")
			}
		case "l":
			if !it.OverwriteInt64(1 << 40) {
				t.Fatal("overwrite int64 failed")
			}
		case "f":
			if !it.OverwriteDouble(2.5) {
				t.Fatal("overwrite double failed")
			}
		}
	}
	if d.Len() != lenBefore {
		t.Fatal("overwrite changed document length")
	}

	it.Init(d)
	it.Next()
	if !it.Bool() {
		t.Fatal("bool not patched")
	}
	it.Next()
	if it.Int32() != -5 {
		t.Fatal("int32 not patched")
	}
	it.Next()
	if it.Int64() != 1<<40 {
		t.Fatal("int64 not patched")
	}
	it.Next()
	if it.Double() != 2.5 {
		t.Fatal("double not patched")
	}

	// Type mismatch and read-only docs refuse.
	it.Init(d)
	it.Next()
	if it.OverwriteInt32(1) {
		t.Fatal("overwrote bool as int32")
	}
	ro, err := NewFromBytes(append([]byte(nil), d.Data()...))
	if err != nil {
		t.Fatal(err)
	}
	var rit Iter
	rit.Init(ro)
	rit.Next()
	if rit.OverwriteBool(false) {
		t.Fatal("overwrote read-only doc")
	}
}

// ---- binary subtype 0x02 ----

func TestBinary_LegacySubtype(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	d := New()
	d.AppendBinary("b", -1, SubtypeBinaryOld, payload)

	var it Iter
	if !it.InitFind(d, "b") {
		t.Fatal("find b")
	}
	sub, data := it.Binary()
	if sub != SubtypeBinaryOld {
		t.Fatalf("subtype = %d", sub)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("payload = %x, want %x (inner length must be stripped)", data, payload)
	}

	// Read-then-write through AppendIter preserves the legacy form.
	d2 := New()
	if !d2.AppendIter("b", -1, &it) {
		t.Fatal("append iter")
	}
	if !d.Equal(d2) {
		t.Fatalf("legacy binary not preserved: %x vs %x", d.Data(), d2.Data())
	}
}

// ---- visitor ----

func TestVisitAll_CountsAndStops(t *testing.T) {
	d := New()
	d.AppendInt32("a", -1, 1)
	d.AppendUTF8("b", -1, "two")
	d.AppendBool("c", -1, true)

	var seen []string
	var it Iter
	it.Init(d)
	stopped := it.VisitAll(&Visitor{
		Before: func(i *Iter, key string) bool {
			seen = append(seen, key)
			return false
		},
	})
	if stopped || len(seen) != d.CountKeys() {
		t.Fatalf("visited %d of %d", len(seen), d.CountKeys())
	}

	n := 0
	it.Init(d)
	stopped = it.VisitAll(&Visitor{
		Int32: func(i *Iter, key string, v int32) bool { n++; return false },
		UTF8:  func(i *Iter, key string, v string) bool { n++; return true },
		Bool:  func(i *Iter, key string, v bool) bool { n++; return false },
	})
	if !stopped || n != 2 {
		t.Fatalf("early stop wrong: stopped=%v n=%d", stopped, n)
	}
}

func TestVisitAll_Corrupt(t *testing.T) {
	raw := []byte{
		0x0e, 0x00, 0x00, 0x00,
		0x02, 'a', 0x00,
		0x05, 0x00, 0x00, 0x00, 'b', 0x00,
		0x00,
	}
	var it Iter
	it.initRaw(nil, raw)
	corrupt := false
	visited := 0
	it.VisitAll(&Visitor{
		Before:  func(i *Iter, key string) bool { visited++; return false },
		Corrupt: func(i *Iter) { corrupt = true },
	})
	if !corrupt || visited != 0 {
		t.Fatalf("corrupt=%v visited=%d", corrupt, visited)
	}
}
