package core

// Action names accepted by the processor.
const (
	ActionProcessText  = "process_text"
	ActionProcessPDF   = "process_pdf"
	ActionProcessImage = "process_image"
	ActionProcessCSV   = "process_csv"
	ActionPreview      = "preview"
	ActionConvert      = "convert"
	ActionDownloadCSV  = "download_csv"
	ActionDownloadXLSX = "download_xlsx"
)

// filterTerms accepts a plain string list or {key: [...]}.
func filterTerms(key string) map[string]any {
	return map[string]any{"anyOf": []any{
		stringList,
		map[string]any{
			"type":                 "object",
			"properties":           map[string]any{key: stringList},
			"additionalProperties": false,
		},
	}}
}

var (
	stringList = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

	storeInfoSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"storeName":   map[string]any{"type": "string", "maxLength": 200},
			"storeRegion": map[string]any{"type": "string", "maxLength": 200},
			"sourceUrl":   map[string]any{"type": "string", "maxLength": 2048},
			"storeUrl":    map[string]any{"type": "string", "maxLength": 2048},
		},
	}

	filtersSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"allergy_contains":   filterTerms("items"),
			"menu_name_contains": filterTerms("keywords"),
		},
		"additionalProperties": false,
	}

	itemsSchema = map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":                 "object",
			"required":             []any{"menu_name"},
			"properties":           map[string]any{"menu_name": map[string]any{"type": "string"}},
			"additionalProperties": map[string]any{"type": "string"},
		},
	}

	documentSchema = map[string]any{
		"type":     "object",
		"required": []any{"file"},
		"properties": map[string]any{
			"file":          map[string]any{"type": "string", "minLength": 1},
			"filename":      map[string]any{"type": "string"},
			"sync":          map[string]any{"type": "boolean"},
			"store_info":    storeInfoSchema,
			"allergy_order": stringList,
		},
	}

	// normalization payloads take items, csv_data, or lines/text
	normalizeProps = map[string]any{
		"csv_data":         map[string]any{"type": "string"},
		"items":            itemsSchema,
		"text":             map[string]any{"type": "string"},
		"lines":            stringList,
		"column_mapping":   map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
		"filters":          filtersSchema,
		"store_info":       storeInfoSchema,
		"allergy_order":    stringList,
		"selected_columns": stringList,
		"limit":            map[string]any{"type": "integer", "minimum": 1, "maximum": 1000},
		"sync":             map[string]any{"type": "boolean"},
	}
	oneSource = []any{
		map[string]any{"required": []any{"csv_data"}},
		map[string]any{"required": []any{"items"}},
		map[string]any{"required": []any{"text"}},
		map[string]any{"required": []any{"lines"}},
	}
)

var actionSchemas = map[string]map[string]any{
	ActionProcessText: {
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}, "lines": stringList, "source": map[string]any{"type": "string"}},
		"anyOf":      []any{map[string]any{"required": []any{"text"}}, map[string]any{"required": []any{"lines"}}},
	},
	ActionProcessPDF:   documentSchema,
	ActionProcessImage: documentSchema,
	ActionProcessCSV: {
		"type":       "object",
		"properties": map[string]any{"csv_data": map[string]any{"type": "string"}, "file": map[string]any{"type": "string"}, "filename": map[string]any{"type": "string"}},
		"anyOf":      []any{map[string]any{"required": []any{"csv_data"}}, map[string]any{"required": []any{"file"}}},
	},
	ActionPreview:      {"type": "object", "properties": normalizeProps, "anyOf": oneSource},
	ActionConvert:      {"type": "object", "properties": normalizeProps, "anyOf": oneSource},
	ActionDownloadCSV:  {"type": "object", "properties": normalizeProps, "anyOf": oneSource},
	ActionDownloadXLSX: {"type": "object", "properties": normalizeProps, "anyOf": oneSource},
}
