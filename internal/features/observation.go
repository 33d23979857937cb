package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Ошибки валидации полей
var (
	ErrMissingField    = errors.New("required field is missing")
	ErrNotNumeric      = errors.New("value is not a finite number")
	ErrUnknownCategory = errors.New("value is not a recognized category")
)

// FieldError описывает ошибку одного поля наблюдения
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s=%q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Consciousness уровень сознания по шкале ACVPU
type Consciousness string

const (
	Alert        Consciousness = "Alert"
	Confused     Consciousness = "Confused"
	Voice        Consciousness = "Voice"
	Pain         Consciousness = "Pain"
	Unresponsive Consciousness = "Unresponsive"
)

// ConsciousnessLevels все уровни в порядке шкалы ACVPU
var ConsciousnessLevels = []Consciousness{Alert, Confused, Voice, Pain, Unresponsive}

// oneHotOrder порядок индикаторов в векторе: A, C, P, U, V
var oneHotOrder = []Consciousness{Alert, Confused, Pain, Unresponsive, Voice}

// Code возвращает однобуквенный код уровня
func (c Consciousness) Code() string {
	if c == "" {
		return ""
	}
	return string(c[0])
}

// ParseConsciousness принимает полное имя уровня или его букву, без учета регистра
func ParseConsciousness(s string) (Consciousness, error) {
	s = strings.TrimSpace(s)
	for _, level := range ConsciousnessLevels {
		if strings.EqualFold(s, string(level)) || strings.EqualFold(s, level.Code()) {
			return level, nil
		}
	}
	return "", &FieldError{Field: FieldConsciousness, Value: s, Err: ErrUnknownCategory}
}

// ParseOnOxygen преобразует "Yes"/"No" в флаг
func ParseOnOxygen(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	}
	return false, &FieldError{Field: FieldOnOxygen, Value: s, Err: ErrUnknownCategory}
}

// Observation типизированное наблюдение пациента
type Observation struct {
	RespiratoryRate  float64
	OxygenSaturation float64
	O2Scale          float64
	SystolicBP       float64
	HeartRate        float64
	Temperature      float64
	OnOxygen         bool
	Consciousness    Consciousness

	present map[string]bool
}

// Has сообщает, было ли поле передано и разобрано
func (o Observation) Has(field string) bool {
	return o.present[field]
}

// Numerics возвращает разобранные вещественные поля
func (o Observation) Numerics() map[string]float64 {
	out := make(map[string]float64, len(numericFields))
	for _, f := range numericFields {
		if !o.present[f] {
			continue
		}
		v, _ := o.numeric(f)
		out[f] = v
	}
	return out
}

func (o Observation) numeric(field string) (float64, bool) {
	switch field {
	case FieldRespiratoryRate:
		return o.RespiratoryRate, true
	case FieldOxygenSaturation:
		return o.OxygenSaturation, true
	case FieldO2Scale:
		return o.O2Scale, true
	case FieldSystolicBP:
		return o.SystolicBP, true
	case FieldHeartRate:
		return o.HeartRate, true
	case FieldTemperature:
		return o.Temperature, true
	}
	return 0, false
}

func (o *Observation) setNumeric(field string, v float64) {
	switch field {
	case FieldRespiratoryRate:
		o.RespiratoryRate = v
	case FieldOxygenSaturation:
		o.OxygenSaturation = v
	case FieldO2Scale:
		o.O2Scale = v
	case FieldSystolicBP:
		o.SystolicBP = v
	case FieldHeartRate:
		o.HeartRate = v
	case FieldTemperature:
		o.Temperature = v
	}
}

// Parse разбирает сырые строковые поля, обязательные для схемы.
// Отсутствующее поле всегда ошибка, значения по умолчанию не подставляются.
// Возвращаются все ошибки полей в порядке схемы.
func Parse(raw map[string]string, schema Schema) (Observation, error) {
	obs := Observation{present: make(map[string]bool, len(schema.Inputs))}
	var errs []error

	for _, field := range schema.Inputs {
		value, ok := raw[field]
		if !ok || strings.TrimSpace(value) == "" {
			errs = append(errs, &FieldError{Field: field, Err: ErrMissingField})
			continue
		}

		switch field {
		case FieldOnOxygen:
			flag, err := ParseOnOxygen(value)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			obs.OnOxygen = flag
		case FieldConsciousness:
			level, err := ParseConsciousness(value)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			obs.Consciousness = level
		default:
			v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				errs = append(errs, &FieldError{Field: field, Value: value, Err: ErrNotNumeric})
				continue
			}
			obs.setNumeric(field, v)
		}
		obs.present[field] = true
	}

	if len(errs) > 0 {
		return Observation{}, errors.Join(errs...)
	}
	return obs, nil
}

// FromJSON приводит значения JSON объекта к строковым полям наблюдения.
// Числа и строки принимаются как есть, bool становится Yes/No, null равносилен
// отсутствию поля. Вложенные объекты и массивы отклоняются.
func FromJSON(payload map[string]any) (map[string]string, error) {
	raw := make(map[string]string, len(payload))
	var errs []error
	for field, value := range payload {
		switch v := value.(type) {
		case nil:
		case string:
			raw[field] = v
		case json.Number:
			raw[field] = v.String()
		case float64:
			raw[field] = strconv.FormatFloat(v, 'g', -1, 64)
		case bool:
			if v {
				raw[field] = "Yes"
			} else {
				raw[field] = "No"
			}
		default:
			errs = append(errs, &FieldError{Field: field, Value: fmt.Sprint(v), Err: ErrNotNumeric})
		}
	}
	return raw, errors.Join(errs...)
}
