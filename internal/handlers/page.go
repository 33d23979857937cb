package handlers

import (
	"embed"
	"html/template"
	"io"

	"vitals-risk-service/internal/features"
)

// Сообщения страницы формы
const (
	msgModelNotLoaded   = "Error: Model could not be loaded. Please check server logs."
	msgCannotPredict    = "Error: Model is not loaded. Cannot make prediction."
	msgProcessingFailed = "Error processing input. Please check values and try again."
	predictionPrefix    = "Predicted Risk Level: "
)

//go:embed templates/index.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type numericInput struct {
	Name        string
	Label       string
	Step        string
	Placeholder string
	Value       string
}

type option struct {
	Value string
	Label string
}

var numericInputs = map[string]numericInput{
	features.FieldRespiratoryRate:  {Label: "Respiratory Rate (breaths/min)", Step: "1", Placeholder: "20"},
	features.FieldOxygenSaturation: {Label: "Oxygen Saturation (%)", Step: "0.1", Placeholder: "98.5"},
	features.FieldO2Scale:          {Label: "O2 Scale (L/min)", Step: "0.1", Placeholder: "1.5"},
	features.FieldSystolicBP:       {Label: "Systolic BP (mmHg)", Step: "1", Placeholder: "120"},
	features.FieldHeartRate:        {Label: "Heart Rate (bpm)", Step: "1", Placeholder: "80"},
	features.FieldTemperature:      {Label: "Temperature (°C)", Step: "0.1", Placeholder: "36.6"},
}

var consciousnessOptions = []option{
	{Value: string(features.Alert), Label: "Alert (A)"},
	{Value: string(features.Confused), Label: "Confused (C)"},
	{Value: string(features.Voice), Label: "Responds to Voice (V)"},
	{Value: string(features.Pain), Label: "Responds to Pain (P)"},
	{Value: string(features.Unresponsive), Label: "Unresponsive (U)"},
}

// pageData данные шаблона формы
type pageData struct {
	Available         bool
	Numeric           []numericInput
	ShowOnOxygen      bool
	ShowConsciousness bool
	Consciousness     []option
	PredictionText    string
	ErrorText         string
}

// newPageData строит форму по входам схемы
func newPageData(schema features.Schema, available bool, values map[string]string) pageData {
	data := pageData{Available: available, Consciousness: consciousnessOptions}
	for _, field := range schema.Inputs {
		switch field {
		case features.FieldOnOxygen:
			data.ShowOnOxygen = true
		case features.FieldConsciousness:
			data.ShowConsciousness = true
		default:
			in, ok := numericInputs[field]
			if !ok {
				continue
			}
			in.Name = field
			in.Value = values[field]
			data.Numeric = append(data.Numeric, in)
		}
	}
	return data
}

func renderPage(w io.Writer, data pageData) error {
	return pageTemplate.Execute(w, data)
}
