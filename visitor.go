package bsonlite

// Visitor holds optional per-type callbacks driven across a document
// by Iter.VisitAll. Before runs ahead of each element's typed
// callback and After behind it; Corrupt is called once instead when
// the iterator detects a framing violation. A callback returning
// true stops the traversal early. Visitors must not mutate the
// document they are driven over; state lives in the closures.
type Visitor struct {
	Before  func(i *Iter, key string) bool
	After   func(i *Iter, key string) bool
	Corrupt func(i *Iter)

	Double        func(i *Iter, key string, v float64) bool
	UTF8          func(i *Iter, key string, v string) bool
	Document      func(i *Iter, key string, raw []byte) bool
	Array         func(i *Iter, key string, raw []byte) bool
	Binary        func(i *Iter, key string, subtype byte, data []byte) bool
	Undefined     func(i *Iter, key string) bool
	OID           func(i *Iter, key string, id ObjectID) bool
	Bool          func(i *Iter, key string, v bool) bool
	DateTime      func(i *Iter, key string, msec int64) bool
	Null          func(i *Iter, key string) bool
	Regex         func(i *Iter, key string, pattern, options string) bool
	DBPointer     func(i *Iter, key string, collection string, id ObjectID) bool
	Code          func(i *Iter, key string, code string) bool
	Symbol        func(i *Iter, key string, symbol string) bool
	CodeWithScope func(i *Iter, key string, code string, scope []byte) bool
	Int32         func(i *Iter, key string, v int32) bool
	Timestamp     func(i *Iter, key string, timestamp, increment uint32) bool
	Int64         func(i *Iter, key string, v int64) bool
	Decimal128    func(i *Iter, key string, v Decimal128) bool
	MaxKey        func(i *Iter, key string) bool
	MinKey        func(i *Iter, key string) bool
}

// VisitAll drives v across every remaining element. It returns true
// if a callback stopped the traversal early. On corruption the
// Corrupt callback fires once and traversal ends.
func (i *Iter) VisitAll(v *Visitor) bool {
	for i.Next() {
		key := i.Key()
		if v.Before != nil && v.Before(i, key) {
			return true
		}
		if i.visitElement(v, key) {
			return true
		}
		if v.After != nil && v.After(i, key) {
			return true
		}
	}
	if i.errOff != 0 && v.Corrupt != nil {
		v.Corrupt(i)
	}
	return false
}

func (i *Iter) visitElement(v *Visitor, key string) bool {
	switch i.Type() {
	case TypeDouble:
		if v.Double != nil {
			return v.Double(i, key, i.Double())
		}
	case TypeUTF8:
		if v.UTF8 != nil {
			return v.UTF8(i, key, i.UTF8())
		}
	case TypeDocument:
		if v.Document != nil {
			return v.Document(i, key, i.Document())
		}
	case TypeArray:
		if v.Array != nil {
			return v.Array(i, key, i.Array())
		}
	case TypeBinary:
		if v.Binary != nil {
			subtype, data := i.Binary()
			return v.Binary(i, key, subtype, data)
		}
	case TypeUndefined:
		if v.Undefined != nil {
			return v.Undefined(i, key)
		}
	case TypeOID:
		if v.OID != nil {
			return v.OID(i, key, i.OID())
		}
	case TypeBool:
		if v.Bool != nil {
			return v.Bool(i, key, i.Bool())
		}
	case TypeDateTime:
		if v.DateTime != nil {
			return v.DateTime(i, key, i.DateTime())
		}
	case TypeNull:
		if v.Null != nil {
			return v.Null(i, key)
		}
	case TypeRegex:
		if v.Regex != nil {
			pattern, options := i.Regex()
			return v.Regex(i, key, pattern, options)
		}
	case TypeDBPointer:
		if v.DBPointer != nil {
			collection, id := i.DBPointer()
			return v.DBPointer(i, key, collection, id)
		}
	case TypeCode:
		if v.Code != nil {
			return v.Code(i, key, i.Code())
		}
	case TypeSymbol:
		if v.Symbol != nil {
			return v.Symbol(i, key, i.Symbol())
		}
	case TypeCodeWithScope:
		if v.CodeWithScope != nil {
			code, scope := i.CodeWithScope()
			return v.CodeWithScope(i, key, code, scope)
		}
	case TypeInt32:
		if v.Int32 != nil {
			return v.Int32(i, key, i.Int32())
		}
	case TypeTimestamp:
		if v.Timestamp != nil {
			timestamp, increment := i.Timestamp()
			return v.Timestamp(i, key, timestamp, increment)
		}
	case TypeInt64:
		if v.Int64 != nil {
			return v.Int64(i, key, i.Int64())
		}
	case TypeDecimal128:
		if v.Decimal128 != nil {
			return v.Decimal128(i, key, i.Decimal128())
		}
	case TypeMaxKey:
		if v.MaxKey != nil {
			return v.MaxKey(i, key)
		}
	case TypeMinKey:
		if v.MinKey != nil {
			return v.MinKey(i, key)
		}
	}
	return false
}
