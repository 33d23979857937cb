package features

import (
	"fmt"
	"strconv"
	"strings"
)

// Vector упорядоченный вектор признаков, собранный для конкретной схемы
type Vector struct {
	Schema string    `json:"schema"`
	Values []float64 `json:"values"`
}

// Len возвращает длину вектора
func (v Vector) Len() int {
	return len(v.Values)
}

// Key возвращает каноническое строковое представление для ключей кэша
func (v Vector) Key() string {
	var b strings.Builder
	b.WriteString(v.Schema)
	b.WriteByte('|')
	for i, x := range v.Values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	}
	return b.String()
}

// Row однострочная табличная запись для трансформера
type Row struct {
	Numeric     map[string]float64
	Categorical map[string]string
}

// Assemble собирает вектор по колонкам ручной схемы.
// Наблюдение должно быть разобрано для той же схемы.
func Assemble(schema Schema, obs Observation) (Vector, error) {
	if schema.Encoding != EncodingManual {
		return Vector{}, fmt.Errorf("schema %s is encoded by a transformer", schema.Name)
	}

	values := make([]float64, 0, len(schema.Columns))
	for _, column := range schema.Columns {
		v, err := columnValue(obs, column)
		if err != nil {
			return Vector{}, fmt.Errorf("schema %s: %w", schema.Name, err)
		}
		values = append(values, v)
	}

	return Vector{Schema: schema.Name, Values: values}, nil
}

// TabularRow строит строку для трансформера из обязательных полей схемы
func TabularRow(schema Schema, obs Observation) (Row, error) {
	row := Row{
		Numeric:     make(map[string]float64, len(schema.Inputs)),
		Categorical: make(map[string]string, 1),
	}
	for _, field := range schema.Inputs {
		if !obs.Has(field) {
			return Row{}, &FieldError{Field: field, Err: ErrMissingField}
		}
		switch field {
		case FieldOnOxygen:
			row.Numeric[field] = boolToFloat(obs.OnOxygen)
		case FieldConsciousness:
			row.Categorical[field] = obs.Consciousness.Code()
		default:
			v, _ := obs.numeric(field)
			row.Numeric[field] = v
		}
	}
	return row, nil
}

func columnValue(obs Observation, column string) (float64, error) {
	if v, ok := obs.numeric(column); ok {
		if !obs.Has(column) {
			return 0, &FieldError{Field: column, Err: ErrMissingField}
		}
		return v, nil
	}

	switch column {
	case FieldOnOxygen:
		if !obs.Has(FieldOnOxygen) {
			return 0, &FieldError{Field: column, Err: ErrMissingField}
		}
		return boolToFloat(obs.OnOxygen), nil
	case ColumnConsciousnessA, ColumnConsciousnessC, ColumnConsciousnessP,
		ColumnConsciousnessU, ColumnConsciousnessV:
		if !obs.Has(FieldConsciousness) {
			return 0, &FieldError{Field: FieldConsciousness, Err: ErrMissingField}
		}
		code := strings.TrimPrefix(column, FieldConsciousness+"_")
		indicators := OneHot(obs.Consciousness)
		for i, level := range oneHotOrder {
			if level.Code() == code {
				return indicators[i], nil
			}
		}
	}

	return 0, fmt.Errorf("unknown column %q", column)
}

// OneHot раскладывает уровень сознания в пять индикаторов (A, C, P, U, V)
func OneHot(level Consciousness) []float64 {
	out := make([]float64, len(oneHotOrder))
	for i, l := range oneHotOrder {
		if l == level {
			out[i] = 1
		}
	}
	return out
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
