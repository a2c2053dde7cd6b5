package eav

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// columns — плоское представление Value для eav_values.
type columns struct {
	Text     sql.NullString
	Number   sql.NullFloat64
	Boolean  sql.NullBool
	Date     sql.NullTime
	DateTime sql.NullTime
	JSON     sql.NullString
	Blob     []byte
}

// flatten раскладывает значение по колонкам; все прочие остаются NULL.
func flatten(v Value) columns {
	var c columns
	switch t := v.(type) {
	case nil:
	case Text:
		c.Text = sql.NullString{String: string(t), Valid: true}
	case List:
		c.Text = sql.NullString{String: t.encode(), Valid: true}
	case Number:
		c.Number = sql.NullFloat64{Float64: float64(t), Valid: true}
	case Bool:
		c.Boolean = sql.NullBool{Bool: bool(t), Valid: true}
	case Date:
		c.Date = sql.NullTime{Time: time.Time(t), Valid: true}
	case DateTime:
		c.DateTime = sql.NullTime{Time: time.Time(t).UTC(), Valid: true}
	case JSON:
		c.JSON = sql.NullString{String: string(t), Valid: true}
	case Blob:
		c.Blob = append([]byte{}, t...)
	}
	return c
}

func (c *columns) args() []any {
	var blob any
	if c.Blob != nil {
		blob = c.Blob
	}
	return []any{c.Text, c.Number, c.Boolean, c.Date, c.DateTime, c.JSON, blob}
}

func (c *columns) dest() []any {
	return []any{&c.Text, &c.Number, &c.Boolean, &c.Date, &c.DateTime, &c.JSON, &c.Blob}
}

// valueColumnsSQL — порядок совпадает с dest()/args().
const valueColumnsSQL = `v.text_value, v.number_value, v.boolean_value, v.date_value, v.datetime_value, v.json_value::text, v.blob_value`

// value собирает Value по объявленному типу атрибута. Все колонки NULL -> nil.
func (c *columns) value(a *Attribute) (Value, error) {
	if a.IsList() {
		if !c.Text.Valid {
			return nil, nil
		}
		var items []string
		if err := json.Unmarshal([]byte(c.Text.String), &items); err != nil {
			return nil, errors.Wrapf(err, "attribute %q: stored list is not a JSON array", a.Name)
		}
		return List(items), nil
	}
	switch a.DataType.Column() {
	case ColumnText:
		if c.Text.Valid {
			return Text(c.Text.String), nil
		}
	case ColumnNumber:
		if c.Number.Valid {
			return Number(c.Number.Float64), nil
		}
	case ColumnBoolean:
		if c.Boolean.Valid {
			return Bool(c.Boolean.Bool), nil
		}
	case ColumnDate:
		if c.Date.Valid {
			t := c.Date.Time
			return Date(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)), nil
		}
	case ColumnDateTime:
		if c.DateTime.Valid {
			return DateTime(c.DateTime.Time.UTC()), nil
		}
	case ColumnJSON:
		if c.JSON.Valid {
			return JSON(c.JSON.String), nil
		}
	case ColumnBlob:
		if c.Blob != nil {
			return Blob(c.Blob), nil
		}
	}
	return nil, nil
}
