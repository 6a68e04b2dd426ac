package postgres

import (
	"reflect"
	"sync"
)

// ExtractDBColumns returns the "db" tag names of T's fields in declaration
// order, descending into embedded structs.
func ExtractDBColumns[T any]() []string {
	var zero T
	fields := typeFields(reflect.TypeOf(zero))
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.column
	}
	return cols
}

// StructToMap converts a struct to a column -> value map using "db" tags.
func StructToMap(v any) map[string]any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	fields := typeFields(rv.Type())
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f.column] = rv.FieldByIndex(f.index).Interface()
	}
	return out
}

type dbField struct {
	index  []int
	column string
}

var fieldCache sync.Map // reflect.Type -> []dbField

func typeFields(t reflect.Type) []dbField {
	if t == nil {
		return nil
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]dbField)
	}

	var fields []dbField
	if t.Kind() == reflect.Struct {
		fields = collectFields(t, nil)
	}
	fieldCache.Store(t, fields)
	return fields
}

func collectFields(t reflect.Type, parent []int) []dbField {
	var out []dbField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		index := append(append([]int(nil), parent...), i)

		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			out = append(out, collectFields(f.Type, index)...)
			continue
		}

		tag := f.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		out = append(out, dbField{index: index, column: tag})
	}
	return out
}
