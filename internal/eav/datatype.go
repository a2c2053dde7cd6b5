package eav

import "strings"

// DataType — объявленный тип атрибута.
type DataType string

const (
	TypeText        DataType = "TEXT"
	TypeEmail       DataType = "EMAIL"
	TypePhone       DataType = "PHONE"
	TypeURL         DataType = "URL"
	TypeTextarea    DataType = "TEXTAREA"
	TypeNumber      DataType = "NUMBER"
	TypeCurrency    DataType = "CURRENCY"
	TypePercentage  DataType = "PERCENTAGE"
	TypeBoolean     DataType = "BOOLEAN"
	TypeDate        DataType = "DATE"
	TypeDateTime    DataType = "DATETIME"
	TypeSelect      DataType = "SELECT"
	TypeMultiSelect DataType = "MULTI_SELECT"
	TypeUser        DataType = "USER"
	TypeUserMulti   DataType = "USER_MULTI"
	TypeJSON        DataType = "JSON"
	TypeBlob        DataType = "BLOB"
	TypeFile        DataType = "FILE"
)

// AllDataTypes в порядке объявления.
var AllDataTypes = []DataType{
	TypeText, TypeEmail, TypePhone, TypeURL, TypeTextarea,
	TypeNumber, TypeCurrency, TypePercentage,
	TypeBoolean, TypeDate, TypeDateTime,
	TypeSelect, TypeMultiSelect, TypeUser, TypeUserMulti,
	TypeJSON, TypeBlob, TypeFile,
}

// Column — одна из семи типизированных колонок eav_values.
type Column string

const (
	ColumnText     Column = "text_value"
	ColumnNumber   Column = "number_value"
	ColumnBoolean  Column = "boolean_value"
	ColumnDate     Column = "date_value"
	ColumnDateTime Column = "datetime_value"
	ColumnJSON     Column = "json_value"
	ColumnBlob     Column = "blob_value"
)

// ParseDataType принимает имя типа в любом регистре; TIMESTAMP — синоним DATETIME.
func ParseDataType(s string) (DataType, bool) {
	up := DataType(strings.ToUpper(strings.TrimSpace(s)))
	if up == "TIMESTAMP" {
		return TypeDateTime, true
	}
	for _, dt := range AllDataTypes {
		if dt == up {
			return dt, true
		}
	}
	return "", false
}

func (t DataType) Valid() bool {
	for _, dt := range AllDataTypes {
		if dt == t {
			return true
		}
	}
	return false
}

// Column возвращает колонку хранения для типа.
func (t DataType) Column() Column {
	switch t {
	case TypeNumber, TypeCurrency, TypePercentage:
		return ColumnNumber
	case TypeBoolean:
		return ColumnBoolean
	case TypeDate:
		return ColumnDate
	case TypeDateTime:
		return ColumnDateTime
	case TypeJSON:
		return ColumnJSON
	case TypeBlob, TypeFile:
		return ColumnBlob
	default:
		return ColumnText
	}
}

// IsList — значения хранятся JSON-списком в text_value.
func (t DataType) IsList() bool { return t == TypeMultiSelect || t == TypeUserMulti }

// IsText — тип хранится в text_value (включая списки).
func (t DataType) IsText() bool { return t.Column() == ColumnText }

// IsOrdered — для типа допустим диапазон {min, max}.
func (t DataType) IsOrdered() bool {
	switch t.Column() {
	case ColumnNumber, ColumnDate, ColumnDateTime:
		return true
	}
	return false
}

// HasOptions — значения ограничены списком options.
func (t DataType) HasOptions() bool { return t == TypeSelect || t == TypeMultiSelect }
