// Package features описывает схемы признаков и сборку вектора признаков
// из наблюдения пациента. Порядок колонок в схеме является внешним контрактом
// с артефактом модели: артефакт обучен именно на этом порядке.
package features

import (
	"fmt"
	"sort"
)

// Имена входных полей наблюдения (совпадают с именами полей формы и JSON)
const (
	FieldRespiratoryRate  = "Respiratory_Rate"
	FieldOxygenSaturation = "Oxygen_Saturation"
	FieldO2Scale          = "O2_Scale"
	FieldSystolicBP       = "Systolic_BP"
	FieldHeartRate        = "Heart_Rate"
	FieldTemperature      = "Temperature"
	FieldOnOxygen         = "On_Oxygen"
	FieldConsciousness    = "Consciousness"
)

// Имена one-hot колонок уровня сознания
const (
	ColumnConsciousnessA = "Consciousness_A"
	ColumnConsciousnessC = "Consciousness_C"
	ColumnConsciousnessP = "Consciousness_P"
	ColumnConsciousnessU = "Consciousness_U"
	ColumnConsciousnessV = "Consciousness_V"
)

// Encoding определяет, кто кодирует наблюдение в вектор
type Encoding int

const (
	// EncodingManual вектор собирается по списку колонок схемы
	EncodingManual Encoding = iota
	// EncodingTransformer вектор строит обученный трансформер артефакта
	EncodingTransformer
)

// String возвращает имя кодирования
func (e Encoding) String() string {
	switch e {
	case EncodingManual:
		return "manual"
	case EncodingTransformer:
		return "transformer"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// Schema именованная версия набора признаков
type Schema struct {
	Name     string
	Encoding Encoding
	// Inputs обязательные входные поля наблюдения
	Inputs []string
	// Columns порядок колонок вектора (только для EncodingManual)
	Columns []string
}

// Width возвращает длину вектора для ручной схемы и 0 для схемы с трансформером
func (s Schema) Width() int {
	if s.Encoding == EncodingTransformer {
		return 0
	}
	return len(s.Columns)
}

// Requires сообщает, входит ли поле в обязательные
func (s Schema) Requires(field string) bool {
	for _, f := range s.Inputs {
		if f == field {
			return true
		}
	}
	return false
}

var numericFields = []string{
	FieldRespiratoryRate,
	FieldOxygenSaturation,
	FieldO2Scale,
	FieldSystolicBP,
	FieldHeartRate,
	FieldTemperature,
}

// Известные схемы
var (
	// NEWSOneHotV1 шесть числовых признаков, флаг кислорода и one-hot уровня сознания (A, C, P, U, V)
	NEWSOneHotV1 = Schema{
		Name:     "news-onehot-v1",
		Encoding: EncodingManual,
		Inputs:   append(append([]string{}, numericFields...), FieldOnOxygen, FieldConsciousness),
		Columns: []string{
			FieldRespiratoryRate,
			FieldOxygenSaturation,
			FieldO2Scale,
			FieldSystolicBP,
			FieldHeartRate,
			FieldTemperature,
			FieldOnOxygen,
			ColumnConsciousnessA,
			ColumnConsciousnessC,
			ColumnConsciousnessP,
			ColumnConsciousnessU,
			ColumnConsciousnessV,
		},
	}

	// MinimalV1 пять числовых признаков без категориальных полей
	MinimalV1 = Schema{
		Name:     "vitals-minimal-v1",
		Encoding: EncodingManual,
		Inputs: []string{
			FieldRespiratoryRate,
			FieldOxygenSaturation,
			FieldSystolicBP,
			FieldHeartRate,
			FieldTemperature,
		},
		Columns: []string{
			FieldRespiratoryRate,
			FieldOxygenSaturation,
			FieldSystolicBP,
			FieldHeartRate,
			FieldTemperature,
		},
	}

	// TabularV1 сырая строка из восьми полей, кодирование выполняет трансформер
	TabularV1 = Schema{
		Name:     "tabular-v1",
		Encoding: EncodingTransformer,
		Inputs:   append(append([]string{}, numericFields...), FieldOnOxygen, FieldConsciousness),
	}
)

var registry = map[string]Schema{
	NEWSOneHotV1.Name: NEWSOneHotV1,
	MinimalV1.Name:    MinimalV1,
	TabularV1.Name:    TabularV1,
}

// Lookup возвращает схему по имени
func Lookup(name string) (Schema, error) {
	s, ok := registry[name]
	if !ok {
		return Schema{}, fmt.Errorf("unknown feature schema %q", name)
	}
	return s, nil
}

// Names возвращает отсортированный список известных схем
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsNumericField сообщает, является ли поле вещественным
func IsNumericField(field string) bool {
	for _, f := range numericFields {
		if f == field {
			return true
		}
	}
	return false
}
