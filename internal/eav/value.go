package eav

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Value — типизированное значение атрибута. Ровно один вариант на колонку хранения;
// в параллельные nullable-колонки раскладывается только на границе с БД (columns).
type Value interface {
	Column() Column
	// Raw — значение в «сыром» виде, которое Coerce примет обратно.
	Raw() any
	uniqueKey() string
}

type (
	Text     string
	List     []string
	Number   float64
	Bool     bool
	Date     time.Time
	DateTime time.Time
	JSON     json.RawMessage
	Blob     []byte
)

const dateLayout = "2006-01-02"

func (Text) Column() Column     { return ColumnText }
func (List) Column() Column     { return ColumnText }
func (Number) Column() Column   { return ColumnNumber }
func (Bool) Column() Column     { return ColumnBoolean }
func (Date) Column() Column     { return ColumnDate }
func (DateTime) Column() Column { return ColumnDateTime }
func (JSON) Column() Column     { return ColumnJSON }
func (Blob) Column() Column     { return ColumnBlob }

func (v Text) Raw() any     { return string(v) }
func (v List) Raw() any     { return []string(v) }
func (v Number) Raw() any   { return float64(v) }
func (v Bool) Raw() any     { return bool(v) }
func (v Date) Raw() any     { return time.Time(v).Format(dateLayout) }
func (v DateTime) Raw() any { return time.Time(v).UTC().Format(time.RFC3339Nano) }
func (v JSON) Raw() any     { return json.RawMessage(v) }
func (v Blob) Raw() any     { return []byte(v) }

func (v Text) uniqueKey() string   { return string(v) }
func (v List) uniqueKey() string   { return v.encode() }
func (v Number) uniqueKey() string { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (v Bool) uniqueKey() string   { return strconv.FormatBool(bool(v)) }
func (v Date) uniqueKey() string   { return time.Time(v).Format(dateLayout) }
func (v DateTime) uniqueKey() string {
	return time.Time(v).UTC().Format(time.RFC3339Nano)
}
func (v Blob) uniqueKey() string {
	sum := sha256.Sum256(v)
	return hex.EncodeToString(sum[:])
}

// uniqueKey для JSON — каноническая форма (ключи объектов отсортированы).
func (v JSON) uniqueKey() string {
	var anyV any
	if err := json.Unmarshal(v, &anyV); err != nil {
		return string(v)
	}
	b, err := json.Marshal(anyV)
	if err != nil {
		return string(v)
	}
	return string(b)
}

func (v List) encode() string {
	if v == nil {
		v = List{}
	}
	b, _ := json.Marshal([]string(v))
	return string(b)
}

func (v Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(v).Format(dateLayout))
}

func (v DateTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(v).UTC().Format(time.RFC3339Nano))
}

func (v JSON) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte("null"), nil
	}
	return v, nil
}

func (v Date) String() string     { return time.Time(v).Format(dateLayout) }
func (v DateTime) String() string { return time.Time(v).UTC().Format(time.RFC3339Nano) }

// Coerce приводит сырое значение к типу атрибута. nil -> (nil, nil): явный null.
// Ничего не обрезает и не подставляет по умолчанию: не приводится — *CoercionError.
func Coerce(a *Attribute, raw any) (Value, error) {
	if raw == nil {
		return nil, nil
	}
	fail := func(reason string) (Value, error) {
		return nil, &CoercionError{Attribute: a.Name, DataType: a.DataType, Value: raw, Reason: reason}
	}

	if a.IsList() {
		items, err := toStringList(raw)
		if err != nil {
			return fail(err.Error())
		}
		return List(items), nil
	}

	switch a.DataType.Column() {
	case ColumnText:
		s, ok := toText(raw)
		if !ok {
			return fail("must be a scalar")
		}
		return Text(s), nil

	case ColumnNumber:
		f, ok := toFloat(raw)
		if !ok {
			return fail("must be a number")
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fail("must be a finite number")
		}
		return Number(f), nil

	case ColumnBoolean:
		b, ok := toBool(raw)
		if !ok {
			return fail(`must be a boolean, "true"/"false" or 0/1`)
		}
		return Bool(b), nil

	case ColumnDate:
		d, ok := toDate(raw)
		if !ok {
			return fail("must be a YYYY-MM-DD date without time")
		}
		return Date(d), nil

	case ColumnDateTime:
		t, ok := toDateTime(raw)
		if !ok {
			return fail("must be an ISO-8601 timestamp")
		}
		return DateTime(t), nil

	case ColumnJSON:
		j, ok := toJSON(raw)
		if !ok {
			return fail("must be JSON-serializable")
		}
		return JSON(j), nil

	case ColumnBlob:
		b, ok := toBlob(raw)
		if !ok {
			return fail("must be bytes or a base64 string")
		}
		return Blob(b), nil
	}
	return fail("unsupported data type")
}

func toText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	case []byte:
		return string(t), true
	case Text:
		return string(t), true
	default:
		return "", false
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case Number:
		return float64(t), true
	default:
		return 0, false
	}
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case Bool:
		return bool(t), true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
		return false, false
	default:
		f, ok := toFloat(v)
		if !ok {
			return false, false
		}
		switch f {
		case 1:
			return true, true
		case 0:
			return false, true
		}
		return false, false
	}
}

func toDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 || t.Nanosecond() != 0 {
			return time.Time{}, false
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
	case Date:
		return time.Time(t), true
	case string:
		s := strings.TrimSpace(t)
		if len(s) != len(dateLayout) {
			return time.Time{}, false
		}
		d, err := time.Parse(dateLayout, s)
		return d, err == nil
	}
	return time.Time{}, false
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func toDateTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case DateTime:
		return time.Time(t).UTC(), true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateTimeLayouts {
			// время без зоны считаем UTC
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// toJSON: []byte и json.RawMessage — уже JSON-текст; строка, которая сама является
// валидным JSON-документом, хранится как есть; остальное сериализуем.
func toJSON(v any) ([]byte, bool) {
	switch t := v.(type) {
	case json.RawMessage:
		return t, json.Valid(t)
	case JSON:
		return t, json.Valid(t)
	case []byte:
		return t, json.Valid(t)
	case string:
		if json.Valid([]byte(t)) {
			return []byte(t), true
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return b, true
}

func toBlob(v any) ([]byte, bool) {
	switch t := v.(type) {
	case []byte:
		return t, true
	case Blob:
		return t, true
	case string:
		b, err := base64.StdEncoding.DecodeString(t)
		return b, err == nil
	}
	return nil, false
}

type listError string

func (e listError) Error() string { return string(e) }

// toStringList: массив скаляров, JSON-массив в строке или CSV ("a,b,c").
func toStringList(v any) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return append([]string{}, t...), nil
	case List:
		return append([]string{}, t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for i, it := range t {
			s, ok := toText(it)
			if !ok {
				return nil, listError("element " + strconv.Itoa(i) + " must be a scalar")
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return []string{}, nil
		}
		if strings.HasPrefix(s, "[") {
			var arr []any
			if err := json.Unmarshal([]byte(s), &arr); err != nil {
				return nil, listError("must be a JSON array of scalars")
			}
			return toStringList(arr)
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}
	if s, ok := toText(v); ok {
		return []string{s}, nil
	}
	return nil, listError("must be a list")
}
