package bsonlite

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"io"
	"math"
	"strconv"
	"time"
	"unicode/utf16"
	"unicode/utf8"
)

// jsonMaxDepth caps container nesting in the JSON parser.
const jsonMaxDepth = 200

// JSONReader parses a stream of concatenated extended JSON
// documents, producing one Doc per Read call. Input may arrive in
// arbitrarily sized chunks; the reader buffers across boundaries.
type JSONReader struct {
	dec jsonDecoder
}

// NewJSONReader returns a JSONReader consuming from r.
func NewJSONReader(r io.Reader) *JSONReader {
	return &JSONReader{dec: jsonDecoder{r: bufio.NewReader(r)}}
}

// Read parses the next document from the stream into d, replacing
// its contents. It returns io.EOF once the stream holds nothing but
// trailing whitespace.
func (jr *JSONReader) Read(d *Doc) error {
	c, err := jr.dec.readAfterWS()
	if err != nil {
		if e, isErr := err.(*Error); isErr && e.Code == JSONErrorReadCorruptJS {
			// Clean end between documents.
			return io.EOF
		}
		return err
	}
	if c != '{' {
		return jsonError(JSONErrorReadCorruptJS, "expected document, got %q", c)
	}
	d.Reinit()
	jr.dec.depth = 0
	return jr.dec.parseMembers(d)
}

// DocFromJSON parses the first extended JSON document in data.
func DocFromJSON(data []byte) (*Doc, error) {
	d := New()
	if err := d.InitFromJSON(data); err != nil {
		return nil, err
	}
	return d, nil
}

// InitFromJSON replaces d's contents with the first extended JSON
// document in data.
func (d *Doc) InitFromJSON(data []byte) error {
	jr := NewJSONReader(bytes.NewReader(data))
	if err := jr.Read(d); err != nil {
		if err == io.EOF {
			return jsonError(JSONErrorReadCorruptJS, "incomplete JSON: no document found")
		}
		return err
	}
	return nil
}

type jsonDecoder struct {
	r       *bufio.Reader
	depth   int
	scratch []byte
}

// readByte maps source errors onto the parser's error domains: EOF
// inside a document is incomplete JSON, anything else is a source
// failure.
func (p *jsonDecoder) readByte() (byte, error) {
	c, err := p.r.ReadByte()
	if err == io.EOF {
		return 0, jsonError(JSONErrorReadCorruptJS, "incomplete JSON")
	}
	if err != nil {
		return 0, jsonError(JSONErrorReadCBFailure, "read source: %v", err)
	}
	return c, nil
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func (p *jsonDecoder) readAfterWS() (byte, error) {
	for {
		c, err := p.readByte()
		if err != nil {
			return 0, err
		}
		if !isJSONSpace(c) {
			return c, nil
		}
	}
}

func (p *jsonDecoder) expectAfterWS(want byte) error {
	c, err := p.readAfterWS()
	if err != nil {
		return err
	}
	if c != want {
		return jsonError(JSONErrorReadCorruptJS, "expected %q, got %q", want, c)
	}
	return nil
}

// readKey reads a quoted member key followed by its ':'.
func (p *jsonDecoder) readKey() (string, error) {
	if err := p.expectAfterWS('"'); err != nil {
		return "", err
	}
	key, err := p.readString()
	if err != nil {
		return "", err
	}
	if bytes.IndexByte([]byte(key), 0) >= 0 {
		return "", jsonError(JSONErrorReadCorruptJS, "embedded NUL in key")
	}
	if err := p.expectAfterWS(':'); err != nil {
		return "", err
	}
	return key, nil
}

// readString consumes a string body after its opening quote,
// applying the JSON unescape rules. Embedded NUL is permitted; the
// result is validated as UTF-8.
func (p *jsonDecoder) readString() (string, error) {
	p.scratch = p.scratch[:0]
	for {
		c, err := p.readByte()
		if err != nil {
			return "", err
		}
		switch {
		case c == '"':
			if !validUTF8(p.scratch, true) {
				return "", jsonError(JSONErrorReadCorruptJS, "invalid UTF-8 in string")
			}
			return string(p.scratch), nil
		case c == '\\':
			if err := p.readEscape(); err != nil {
				return "", err
			}
		case c < 0x20:
			return "", jsonError(JSONErrorReadCorruptJS, "unescaped control character 0x%02x in string", c)
		default:
			p.scratch = append(p.scratch, c)
		}
	}
}

func (p *jsonDecoder) readEscape() error {
	c, err := p.readByte()
	if err != nil {
		return err
	}
	switch c {
	case '"', '\\', '/':
		p.scratch = append(p.scratch, c)
	case 'b':
		p.scratch = append(p.scratch, '\b')
	case 'f':
		p.scratch = append(p.scratch, '\f')
	case 'n':
		p.scratch = append(p.scratch, '\n')
	case 'r':
		p.scratch = append(p.scratch, '\r')
	case 't':
		p.scratch = append(p.scratch, '\t')
	case 'u':
		r, err := p.readHex4()
		if err != nil {
			return err
		}
		if utf16.IsSurrogate(rune(r)) {
			// A high surrogate must be followed by an escaped low
			// surrogate; the pair decodes together.
			c1, err := p.readByte()
			if err != nil {
				return err
			}
			c2, err := p.readByte()
			if err != nil {
				return err
			}
			if c1 != '\\' || c2 != 'u' {
				return jsonError(JSONErrorReadCorruptJS, "unpaired surrogate in \\u escape")
			}
			r2, err := p.readHex4()
			if err != nil {
				return err
			}
			combined := utf16.DecodeRune(rune(r), rune(r2))
			if combined == utf8.RuneError {
				return jsonError(JSONErrorReadCorruptJS, "invalid surrogate pair in \\u escape")
			}
			p.scratch = utf8.AppendRune(p.scratch, combined)
			return nil
		}
		p.scratch = utf8.AppendRune(p.scratch, rune(r))
	default:
		return jsonError(JSONErrorReadCorruptJS, "invalid escape \\%c", c)
	}
	return nil
}

func (p *jsonDecoder) readHex4() (uint16, error) {
	var v uint16
	for n := 0; n < 4; n++ {
		c, err := p.readByte()
		if err != nil {
			return 0, err
		}
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | uint16(c-'0')
		case c >= 'a' && c <= 'f':
			v = v<<4 | uint16(c-'a'+10)
		case c >= 'A' && c <= 'F':
			v = v<<4 | uint16(c-'A'+10)
		default:
			return 0, jsonError(JSONErrorReadCorruptJS, "invalid hex digit %q in \\u escape", c)
		}
	}
	return v, nil
}

// parseMembers parses members into doc until the closing '}'. The
// opening '{' has already been consumed.
func (p *jsonDecoder) parseMembers(doc *Doc) error {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > jsonMaxDepth {
		return jsonError(JSONErrorReadCorruptJS, "document nesting exceeds %d", jsonMaxDepth)
	}
	c, err := p.readAfterWS()
	if err != nil {
		return err
	}
	if c == '}' {
		return nil
	}
	if err := p.r.UnreadByte(); err != nil {
		return jsonError(JSONErrorReadCorruptJS, "unread: %v", err)
	}
	for {
		key, err := p.readKey()
		if err != nil {
			return err
		}
		if err := p.parseValue(doc, key); err != nil {
			return err
		}
		c, err := p.readAfterWS()
		if err != nil {
			return err
		}
		if c == '}' {
			return nil
		}
		if c != ',' {
			return jsonError(JSONErrorReadCorruptJS, "expected ',' or '}', got %q", c)
		}
	}
}

// parseValue parses one JSON value and appends it to doc under key.
func (p *jsonDecoder) parseValue(doc *Doc, key string) error {
	c, err := p.readAfterWS()
	if err != nil {
		return err
	}
	switch {
	case c == '{':
		return p.parseObjectValue(doc, key)
	case c == '[':
		return p.parseArrayValue(doc, key)
	case c == '"':
		s, err := p.readString()
		if err != nil {
			return err
		}
		if !doc.AppendUTF8(key, -1, s) {
			return jsonError(JSONErrorReadInvalidParam, "cannot append %q", key)
		}
		return nil
	case c == 't':
		if err := p.expectLiteral("rue"); err != nil {
			return err
		}
		doc.AppendBool(key, -1, true)
		return nil
	case c == 'f':
		if err := p.expectLiteral("alse"); err != nil {
			return err
		}
		doc.AppendBool(key, -1, false)
		return nil
	case c == 'n':
		if err := p.expectLiteral("ull"); err != nil {
			return err
		}
		doc.AppendNull(key, -1)
		return nil
	case c == '-' || (c >= '0' && c <= '9'):
		return p.parseNumber(doc, key, c)
	default:
		return jsonError(JSONErrorReadCorruptJS, "unexpected %q", c)
	}
}

func (p *jsonDecoder) expectLiteral(rest string) error {
	for i := 0; i < len(rest); i++ {
		c, err := p.readByte()
		if err != nil {
			return err
		}
		if c != rest[i] {
			return jsonError(JSONErrorReadCorruptJS, "malformed literal")
		}
	}
	return nil
}

func (p *jsonDecoder) parseArrayValue(doc *Doc, key string) error {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > jsonMaxDepth {
		return jsonError(JSONErrorReadCorruptJS, "array nesting exceeds %d", jsonMaxDepth)
	}
	var child Doc
	if !doc.AppendArrayBegin(key, -1, &child) {
		return jsonError(JSONErrorReadInvalidParam, "cannot append %q", key)
	}
	idx := 0
	c, err := p.readAfterWS()
	if err != nil {
		return err
	}
	if c != ']' {
		if err := p.r.UnreadByte(); err != nil {
			return jsonError(JSONErrorReadCorruptJS, "unread: %v", err)
		}
		for {
			if err := p.parseValue(&child, indexKey(idx)); err != nil {
				return err
			}
			idx++
			c, err := p.readAfterWS()
			if err != nil {
				return err
			}
			if c == ']' {
				break
			}
			if c != ',' {
				return jsonError(JSONErrorReadCorruptJS, "expected ',' or ']', got %q", c)
			}
		}
	}
	doc.AppendArrayEnd(&child)
	return nil
}

// parseObjectValue handles a '{' in value position: either a typed
// extended JSON wrapper or an ordinary subdocument.
func (p *jsonDecoder) parseObjectValue(doc *Doc, key string) error {
	c, err := p.readAfterWS()
	if err != nil {
		return err
	}
	if c == '}' {
		empty := New()
		if !doc.AppendDocument(key, -1, empty) {
			return jsonError(JSONErrorReadInvalidParam, "cannot append %q", key)
		}
		return nil
	}
	if err := p.r.UnreadByte(); err != nil {
		return jsonError(JSONErrorReadCorruptJS, "unread: %v", err)
	}
	first, err := p.readKey()
	if err != nil {
		return err
	}
	if isWrapperKey(first) {
		return p.parseWrapper(doc, key, first)
	}
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > jsonMaxDepth {
		return jsonError(JSONErrorReadCorruptJS, "document nesting exceeds %d", jsonMaxDepth)
	}
	var child Doc
	if !doc.AppendDocumentBegin(key, -1, &child) {
		return jsonError(JSONErrorReadInvalidParam, "cannot append %q", key)
	}
	if err := p.parseValue(&child, first); err != nil {
		return err
	}
	for {
		c, err := p.readAfterWS()
		if err != nil {
			return err
		}
		if c == '}' {
			break
		}
		if c != ',' {
			return jsonError(JSONErrorReadCorruptJS, "expected ',' or '}', got %q", c)
		}
		k, err := p.readKey()
		if err != nil {
			return err
		}
		if err := p.parseValue(&child, k); err != nil {
			return err
		}
	}
	doc.AppendDocumentEnd(&child)
	return nil
}

func isWrapperKey(k string) bool {
	switch k {
	case "$oid", "$date", "$binary", "$type", "$regex", "$options",
		"$regularExpression", "$timestamp", "$undefined", "$minKey",
		"$maxKey", "$numberInt", "$numberLong", "$numberDouble",
		"$numberDecimal", "$code", "$symbol", "$dbPointer":
		return true
	}
	return false
}

func (p *jsonDecoder) parseNumber(doc *Doc, key string, first byte) error {
	p.scratch = p.scratch[:0]
	p.scratch = append(p.scratch, first)
	isFloat := false
	for {
		c, err := p.r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return jsonError(JSONErrorReadCBFailure, "read source: %v", err)
		}
		if c >= '0' && c <= '9' {
			p.scratch = append(p.scratch, c)
			continue
		}
		switch c {
		case '.', 'e', 'E', '+', '-':
			isFloat = isFloat || c == '.' || c == 'e' || c == 'E'
			p.scratch = append(p.scratch, c)
			continue
		}
		if err := p.r.UnreadByte(); err != nil {
			return jsonError(JSONErrorReadCorruptJS, "unread: %v", err)
		}
		break
	}
	text := string(p.scratch)
	if !isFloat {
		v, err := strconv.ParseInt(text, 10, 64)
		if err == nil {
			if v >= math.MinInt32 && v <= math.MaxInt32 {
				doc.AppendInt32(key, -1, int32(v))
			} else {
				doc.AppendInt64(key, -1, v)
			}
			return nil
		}
		if ne, isNum := err.(*strconv.NumError); !isNum || ne.Err != strconv.ErrRange {
			return jsonError(JSONErrorReadCorruptJS, "malformed number %q", text)
		}
		// Integer literal beyond int64; fall through to double.
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return jsonError(JSONErrorReadCorruptJS, "malformed number %q", text)
	}
	if math.IsInf(v, 0) {
		return jsonError(JSONErrorReadInvalidParam, "number %q overflows double", text)
	}
	doc.AppendDouble(key, -1, v)
	return nil
}

// readQuotedString expects and reads a complete string value.
func (p *jsonDecoder) readQuotedString() (string, error) {
	if err := p.expectAfterWS('"'); err != nil {
		return "", err
	}
	return p.readString()
}

// expectEnd consumes the wrapper object's closing brace.
func (p *jsonDecoder) expectEnd() error {
	c, err := p.readAfterWS()
	if err != nil {
		return err
	}
	if c == '}' {
		return nil
	}
	if c == ',' {
		k, err := p.readKey()
		if err != nil {
			return err
		}
		return jsonError(JSONErrorReadInvalidParam, "unexpected key %q in type wrapper", k)
	}
	return jsonError(JSONErrorReadCorruptJS, "expected '}', got %q", c)
}

// parseWrapper parses a recognised $-prefixed type wrapper whose
// first key has already been consumed, and appends the typed
// element to doc under key.
func (p *jsonDecoder) parseWrapper(doc *Doc, key, wkey string) error {
	switch wkey {
	case "$oid":
		s, err := p.readQuotedString()
		if err != nil {
			return err
		}
		id, err := ObjectIDFromHex(s)
		if err != nil {
			return jsonError(JSONErrorReadInvalidParam, "invalid $oid %q", s)
		}
		doc.AppendOID(key, -1, id)
		return p.expectEnd()

	case "$numberInt":
		s, err := p.readQuotedString()
		if err != nil {
			return err
		}
		v, perr := strconv.ParseInt(s, 10, 32)
		if perr != nil {
			return jsonError(JSONErrorReadInvalidParam, "invalid $numberInt %q", s)
		}
		doc.AppendInt32(key, -1, int32(v))
		return p.expectEnd()

	case "$numberLong":
		v, err := p.readNumberLongBody()
		if err != nil {
			return err
		}
		doc.AppendInt64(key, -1, v)
		return p.expectEnd()

	case "$numberDouble":
		s, err := p.readQuotedString()
		if err != nil {
			return err
		}
		v, perr := parseDoubleWrapper(s)
		if perr != nil {
			return perr
		}
		doc.AppendDouble(key, -1, v)
		return p.expectEnd()

	case "$numberDecimal":
		s, err := p.readQuotedString()
		if err != nil {
			return err
		}
		dec, ok := ParseDecimal128(s)
		if !ok {
			return jsonError(JSONErrorReadInvalidParam, "invalid $numberDecimal %q", s)
		}
		doc.AppendDecimal128(key, -1, dec)
		return p.expectEnd()

	case "$symbol":
		s, err := p.readQuotedString()
		if err != nil {
			return err
		}
		doc.AppendSymbol(key, -1, s)
		return p.expectEnd()

	case "$code":
		return p.parseCodeWrapper(doc, key)

	case "$regex":
		pattern, err := p.readQuotedString()
		if err != nil {
			return err
		}
		options := ""
		c, err := p.readAfterWS()
		if err != nil {
			return err
		}
		if c == ',' {
			k, err := p.readKey()
			if err != nil {
				return err
			}
			if k != "$options" {
				return jsonError(JSONErrorReadInvalidParam, "unexpected key %q in $regex wrapper", k)
			}
			if options, err = p.readQuotedString(); err != nil {
				return err
			}
			if err := p.expectEnd(); err != nil {
				return err
			}
		} else if c != '}' {
			return jsonError(JSONErrorReadCorruptJS, "expected ',' or '}', got %q", c)
		}
		doc.AppendRegex(key, -1, pattern, options)
		return nil

	case "$options":
		options, err := p.readQuotedString()
		if err != nil {
			return err
		}
		c, err := p.readAfterWS()
		if err != nil {
			return err
		}
		if c != ',' {
			return jsonError(JSONErrorReadInvalidParam, "missing $regex in wrapper")
		}
		k, err := p.readKey()
		if err != nil {
			return err
		}
		if k != "$regex" {
			return jsonError(JSONErrorReadInvalidParam, "unexpected key %q in $options wrapper", k)
		}
		pattern, err := p.readQuotedString()
		if err != nil {
			return err
		}
		if err := p.expectEnd(); err != nil {
			return err
		}
		doc.AppendRegex(key, -1, pattern, options)
		return nil

	case "$regularExpression":
		return p.parseRegularExpressionWrapper(doc, key)

	case "$binary", "$type":
		return p.parseBinaryWrapper(doc, key, wkey)

	case "$date":
		return p.parseDateWrapper(doc, key)

	case "$timestamp":
		return p.parseTimestampWrapper(doc, key)

	case "$undefined":
		if err := p.expectLiteralValue("true"); err != nil {
			return jsonError(JSONErrorReadInvalidParam, "$undefined requires true")
		}
		doc.AppendUndefined(key, -1)
		return p.expectEnd()

	case "$minKey":
		if err := p.expectWrapperOne(); err != nil {
			return err
		}
		doc.AppendMinKey(key, -1)
		return p.expectEnd()

	case "$maxKey":
		if err := p.expectWrapperOne(); err != nil {
			return err
		}
		doc.AppendMaxKey(key, -1)
		return p.expectEnd()

	case "$dbPointer":
		return p.parseDBPointerWrapper(doc, key)
	}
	return jsonError(JSONErrorReadInvalidParam, "unhandled wrapper %q", wkey)
}

func (p *jsonDecoder) expectLiteralValue(lit string) error {
	c, err := p.readAfterWS()
	if err != nil {
		return err
	}
	if c != lit[0] {
		return jsonError(JSONErrorReadInvalidParam, "unexpected value")
	}
	return p.expectLiteral(lit[1:])
}

// expectWrapperOne consumes the literal 1 required by $minKey and
// $maxKey.
func (p *jsonDecoder) expectWrapperOne() error {
	c, err := p.readAfterWS()
	if err != nil {
		return err
	}
	if c != '1' {
		return jsonError(JSONErrorReadInvalidParam, "min/max key wrapper requires 1")
	}
	return nil
}

// readNumberLongBody reads the strict decimal string value of a
// $numberLong.
func (p *jsonDecoder) readNumberLongBody() (int64, error) {
	s, err := p.readQuotedString()
	if err != nil {
		return 0, err
	}
	v, perr := strconv.ParseInt(s, 10, 64)
	if perr != nil {
		return 0, jsonError(JSONErrorReadInvalidParam, "invalid $numberLong %q", s)
	}
	return v, nil
}

func parseDoubleWrapper(s string) (float64, error) {
	switch s {
	case "Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	case "NaN":
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, jsonError(JSONErrorReadInvalidParam, "invalid $numberDouble %q", s)
	}
	return v, nil
}

// parseCodeWrapper handles $code, optionally followed by $scope.
func (p *jsonDecoder) parseCodeWrapper(doc *Doc, key string) error {
	code, err := p.readQuotedString()
	if err != nil {
		return err
	}
	c, err := p.readAfterWS()
	if err != nil {
		return err
	}
	switch c {
	case '}':
		doc.AppendCode(key, -1, code)
		return nil
	case ',':
		k, err := p.readKey()
		if err != nil {
			return err
		}
		if k != "$scope" {
			return jsonError(JSONErrorReadInvalidParam, "unexpected key %q in $code wrapper", k)
		}
		if err := p.expectAfterWS('{'); err != nil {
			return err
		}
		scope := New()
		if err := p.parseMembers(scope); err != nil {
			return err
		}
		if err := p.expectEnd(); err != nil {
			return err
		}
		doc.AppendCodeWithScope(key, -1, code, scope)
		return nil
	default:
		return jsonError(JSONErrorReadCorruptJS, "expected ',' or '}', got %q", c)
	}
}

func (p *jsonDecoder) parseRegularExpressionWrapper(doc *Doc, key string) error {
	if err := p.expectAfterWS('{'); err != nil {
		return err
	}
	var pattern, options string
	var hasPattern, hasOptions bool
	for {
		k, err := p.readKey()
		if err != nil {
			return err
		}
		switch k {
		case "pattern":
			if pattern, err = p.readQuotedString(); err != nil {
				return err
			}
			hasPattern = true
		case "options":
			if options, err = p.readQuotedString(); err != nil {
				return err
			}
			hasOptions = true
		default:
			return jsonError(JSONErrorReadInvalidParam, "unexpected key %q in $regularExpression", k)
		}
		c, err := p.readAfterWS()
		if err != nil {
			return err
		}
		if c == '}' {
			break
		}
		if c != ',' {
			return jsonError(JSONErrorReadCorruptJS, "expected ',' or '}', got %q", c)
		}
	}
	if !hasPattern || !hasOptions {
		return jsonError(JSONErrorReadInvalidParam, "$regularExpression requires pattern and options")
	}
	if err := p.expectEnd(); err != nil {
		return err
	}
	doc.AppendRegex(key, -1, pattern, options)
	return nil
}

// parseBinaryWrapper handles both the legacy flat pair
// {"$binary": "...", "$type": "xx"} in either key order and the
// nested form {"$binary": {"base64": "...", "subType": "xx"}}.
func (p *jsonDecoder) parseBinaryWrapper(doc *Doc, key, first string) error {
	var b64, subtypeHex string
	var hasData, hasSubtype bool

	if first == "$binary" {
		c, err := p.readAfterWS()
		if err != nil {
			return err
		}
		if c == '{' {
			// Nested form.
			for {
				k, err := p.readKey()
				if err != nil {
					return err
				}
				switch k {
				case "base64":
					if b64, err = p.readQuotedString(); err != nil {
						return err
					}
					hasData = true
				case "subType":
					if subtypeHex, err = p.readQuotedString(); err != nil {
						return err
					}
					hasSubtype = true
				default:
					return jsonError(JSONErrorReadInvalidParam, "unexpected key %q in $binary", k)
				}
				c, err := p.readAfterWS()
				if err != nil {
					return err
				}
				if c == '}' {
					break
				}
				if c != ',' {
					return jsonError(JSONErrorReadCorruptJS, "expected ',' or '}', got %q", c)
				}
			}
			if err := p.expectEnd(); err != nil {
				return err
			}
			return p.appendBinary(doc, key, b64, subtypeHex, hasData, hasSubtype)
		}
		if c != '"' {
			return jsonError(JSONErrorReadInvalidParam, "$binary requires a string or object")
		}
		if b64, err = p.readString(); err != nil {
			return err
		}
		hasData = true
	} else { // "$type" first
		var err error
		if subtypeHex, err = p.readQuotedString(); err != nil {
			return err
		}
		hasSubtype = true
	}

	for {
		c, err := p.readAfterWS()
		if err != nil {
			return err
		}
		if c == '}' {
			break
		}
		if c != ',' {
			return jsonError(JSONErrorReadCorruptJS, "expected ',' or '}', got %q", c)
		}
		k, err := p.readKey()
		if err != nil {
			return err
		}
		switch k {
		case "$binary":
			if hasData {
				return jsonError(JSONErrorReadInvalidParam, "duplicate $binary")
			}
			if b64, err = p.readQuotedString(); err != nil {
				return err
			}
			hasData = true
		case "$type":
			if hasSubtype {
				return jsonError(JSONErrorReadInvalidParam, "duplicate $type")
			}
			if subtypeHex, err = p.readQuotedString(); err != nil {
				return err
			}
			hasSubtype = true
		default:
			return jsonError(JSONErrorReadInvalidParam, "unexpected key %q in $binary wrapper", k)
		}
	}
	return p.appendBinary(doc, key, b64, subtypeHex, hasData, hasSubtype)
}

func (p *jsonDecoder) appendBinary(doc *Doc, key, b64, subtypeHex string, hasData, hasSubtype bool) error {
	if !hasData || !hasSubtype {
		return jsonError(JSONErrorReadInvalidParam, "$binary requires data and subtype")
	}
	if len(subtypeHex) == 0 || len(subtypeHex) > 2 {
		return jsonError(JSONErrorReadInvalidParam, "invalid $type %q", subtypeHex)
	}
	sub, err := strconv.ParseUint(subtypeHex, 16, 8)
	if err != nil {
		return jsonError(JSONErrorReadInvalidParam, "invalid $type %q", subtypeHex)
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return jsonError(JSONErrorReadInvalidParam, "invalid base64 in $binary")
	}
	doc.AppendBinary(key, -1, byte(sub), data)
	return nil
}

func (p *jsonDecoder) parseDateWrapper(doc *Doc, key string) error {
	c, err := p.readAfterWS()
	if err != nil {
		return err
	}
	switch {
	case c == '"':
		s, err := p.readString()
		if err != nil {
			return err
		}
		msec, perr := parseISO8601(s)
		if perr != nil {
			return perr
		}
		doc.AppendDateTime(key, -1, msec)
	case c == '{':
		k, err := p.readKey()
		if err != nil {
			return err
		}
		if k != "$numberLong" {
			return jsonError(JSONErrorReadInvalidParam, "unexpected key %q in $date wrapper", k)
		}
		v, err := p.readNumberLongBody()
		if err != nil {
			return err
		}
		if err := p.expectEnd(); err != nil {
			return err
		}
		doc.AppendDateTime(key, -1, v)
	case c == '-' || (c >= '0' && c <= '9'):
		p.scratch = p.scratch[:0]
		p.scratch = append(p.scratch, c)
		for {
			c, err := p.r.ReadByte()
			if err == io.EOF {
				break
			}
			if err != nil {
				return jsonError(JSONErrorReadCBFailure, "read source: %v", err)
			}
			if c < '0' || c > '9' {
				if err := p.r.UnreadByte(); err != nil {
					return jsonError(JSONErrorReadCorruptJS, "unread: %v", err)
				}
				break
			}
			p.scratch = append(p.scratch, c)
		}
		v, perr := strconv.ParseInt(string(p.scratch), 10, 64)
		if perr != nil {
			return jsonError(JSONErrorReadInvalidParam, "invalid $date %q", p.scratch)
		}
		doc.AppendDateTime(key, -1, v)
	default:
		return jsonError(JSONErrorReadInvalidParam, "invalid $date value")
	}
	return p.expectEnd()
}

func (p *jsonDecoder) parseTimestampWrapper(doc *Doc, key string) error {
	if err := p.expectAfterWS('{'); err != nil {
		return err
	}
	var ts, inc uint64
	var hasT, hasI bool
	for {
		k, err := p.readKey()
		if err != nil {
			return err
		}
		switch k {
		case "t":
			if ts, err = p.readUint32(); err != nil {
				return err
			}
			hasT = true
		case "i":
			if inc, err = p.readUint32(); err != nil {
				return err
			}
			hasI = true
		default:
			return jsonError(JSONErrorReadInvalidParam, "unexpected key %q in $timestamp", k)
		}
		c, err := p.readAfterWS()
		if err != nil {
			return err
		}
		if c == '}' {
			break
		}
		if c != ',' {
			return jsonError(JSONErrorReadCorruptJS, "expected ',' or '}', got %q", c)
		}
	}
	if !hasT || !hasI {
		return jsonError(JSONErrorReadInvalidParam, "$timestamp requires t and i")
	}
	if err := p.expectEnd(); err != nil {
		return err
	}
	doc.AppendTimestamp(key, -1, uint32(ts), uint32(inc))
	return nil
}

func (p *jsonDecoder) readUint32() (uint64, error) {
	c, err := p.readAfterWS()
	if err != nil {
		return 0, err
	}
	if c < '0' || c > '9' {
		return 0, jsonError(JSONErrorReadInvalidParam, "expected unsigned integer")
	}
	p.scratch = p.scratch[:0]
	p.scratch = append(p.scratch, c)
	for {
		c, err := p.r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, jsonError(JSONErrorReadCBFailure, "read source: %v", err)
		}
		if c < '0' || c > '9' {
			if err := p.r.UnreadByte(); err != nil {
				return 0, jsonError(JSONErrorReadCorruptJS, "unread: %v", err)
			}
			break
		}
		p.scratch = append(p.scratch, c)
	}
	v, perr := strconv.ParseUint(string(p.scratch), 10, 32)
	if perr != nil {
		return 0, jsonError(JSONErrorReadInvalidParam, "integer %q out of range", p.scratch)
	}
	return v, nil
}

func (p *jsonDecoder) parseDBPointerWrapper(doc *Doc, key string) error {
	if err := p.expectAfterWS('{'); err != nil {
		return err
	}
	var ref string
	var id ObjectID
	var hasRef, hasID bool
	for {
		k, err := p.readKey()
		if err != nil {
			return err
		}
		switch k {
		case "$ref":
			if ref, err = p.readQuotedString(); err != nil {
				return err
			}
			hasRef = true
		case "$id":
			if err := p.expectAfterWS('{'); err != nil {
				return err
			}
			k2, err := p.readKey()
			if err != nil {
				return err
			}
			if k2 != "$oid" {
				return jsonError(JSONErrorReadInvalidParam, "$dbPointer $id requires $oid")
			}
			s, err := p.readQuotedString()
			if err != nil {
				return err
			}
			if id, err = ObjectIDFromHex(s); err != nil {
				return jsonError(JSONErrorReadInvalidParam, "invalid $oid %q", s)
			}
			if err := p.expectEnd(); err != nil {
				return err
			}
			hasID = true
		default:
			return jsonError(JSONErrorReadInvalidParam, "unexpected key %q in $dbPointer", k)
		}
		c, err := p.readAfterWS()
		if err != nil {
			return err
		}
		if c == '}' {
			break
		}
		if c != ',' {
			return jsonError(JSONErrorReadCorruptJS, "expected ',' or '}', got %q", c)
		}
	}
	if !hasRef || !hasID {
		return jsonError(JSONErrorReadInvalidParam, "$dbPointer requires $ref and $id")
	}
	if err := p.expectEnd(); err != nil {
		return err
	}
	doc.AppendDBPointer(key, -1, ref, id)
	return nil
}

// parseISO8601 converts YYYY-MM-DDTHH:MM:SS[.fff](Z|+HH:MM|+HHMM)
// to milliseconds since the Unix epoch. The timezone designator is
// mandatory.
func parseISO8601(s string) (int64, error) {
	bad := func() (int64, error) {
		return 0, jsonError(JSONErrorReadInvalidParam, "invalid ISO-8601 date %q", s)
	}
	digits := func(off, n int) (int, bool) {
		if off+n > len(s) {
			return 0, false
		}
		v := 0
		for k := 0; k < n; k++ {
			c := s[off+k]
			if c < '0' || c > '9' {
				return 0, false
			}
			v = v*10 + int(c-'0')
		}
		return v, true
	}

	year, ok := digits(0, 4)
	if !ok || len(s) < 20 || s[4] != '-' {
		return bad()
	}
	month, ok := digits(5, 2)
	if !ok || s[7] != '-' {
		return bad()
	}
	day, ok := digits(8, 2)
	if !ok || s[10] != 'T' {
		return bad()
	}
	hour, ok := digits(11, 2)
	if !ok || s[13] != ':' {
		return bad()
	}
	minute, ok := digits(14, 2)
	if !ok || s[16] != ':' {
		return bad()
	}
	second, ok := digits(17, 2)
	if !ok {
		return bad()
	}
	if month < 1 || month > 12 || day < 1 || day > 31 ||
		hour > 23 || minute > 59 || second > 59 {
		return bad()
	}

	pos := 19
	millis := 0
	if pos < len(s) && s[pos] == '.' {
		pos++
		start := pos
		for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
			pos++
		}
		if pos == start {
			return bad()
		}
		// Scale the fraction to milliseconds, truncating extra
		// precision.
		scale := 100
		for k := start; k < pos && scale > 0; k++ {
			millis += int(s[k]-'0') * scale
			scale /= 10
		}
	}

	if pos >= len(s) {
		return bad()
	}
	var tzOffsetSec int
	switch s[pos] {
	case 'Z':
		if pos != len(s)-1 {
			return bad()
		}
	case '+', '-':
		neg := s[pos] == '-'
		pos++
		tzh, ok := digits(pos, 2)
		if !ok {
			return bad()
		}
		pos += 2
		if pos < len(s) && s[pos] == ':' {
			pos++
		}
		tzm, ok := digits(pos, 2)
		if !ok || pos+2 != len(s) {
			return bad()
		}
		if tzh > 23 || tzm > 59 {
			return bad()
		}
		tzOffsetSec = tzh*3600 + tzm*60
		if neg {
			tzOffsetSec = -tzOffsetSec
		}
	default:
		return bad()
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	return t.UnixMilli() + int64(millis) - int64(tzOffsetSec)*1000, nil
}
