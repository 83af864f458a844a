package pretty

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v2"
)

// EncodeJSON renders data as indented JSON
func EncodeJSON(data any) (string, error) {
	var buffer bytes.Buffer
	enc := json.NewEncoder(&buffer)
	enc.SetIndent("", "    ")
	if err := enc.Encode(data); err != nil {
		return "", fmt.Errorf("encoding json: %w", err)
	}
	return buffer.String(), nil
}

// EncodeYAML renders data as YAML.
// Data goes through JSON first so the output honors json struct tags and omits unexported fields.
func EncodeYAML(data any) (string, error) {
	jsonStr, err := EncodeJSON(data)
	if err != nil {
		return "", err
	}
	// yaml.Unmarshal keeps integer types where json.Unmarshal into any would turn every number into float64
	var obj any
	if err := yaml.Unmarshal([]byte(jsonStr), &obj); err != nil {
		return "", fmt.Errorf("encoding yaml: %w", err)
	}
	out, err := yaml.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("encoding yaml: %w", err)
	}
	return string(out), nil
}

type column struct {
	header string
	index  int
}

// columns reads the `table` struct tags of t.
// A tag of the form `table:"Header,wide"` is only included when wide is set.
func columns(t reflect.Type, wide bool) []column {
	var cols []column
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("table")
		if tag == "" {
			continue
		}
		header, modifier, _ := strings.Cut(tag, ",")
		if modifier == "wide" && !wide {
			continue
		}
		cols = append(cols, column{header: header, index: i})
	}
	return cols
}

// Table renders a slice of structs as a borderless, tab padded table.
// Only fields with a `table` tag become columns; values are formatted with %v.
//
//	type Row struct {
//	    Name string `table:"Name"`
//	    ID   string `table:"ID,wide"`
//	}
func Table[T any](data []T, wide bool) string {
	cols := columns(reflect.TypeFor[T](), wide)
	headers := make([]string, 0, len(cols))
	for _, c := range cols {
		headers = append(headers, c.header)
	}
	rows := make([][]string, 0, len(data))
	for _, item := range data {
		v := reflect.ValueOf(item)
		row := make([]string, 0, len(cols))
		for _, c := range cols {
			row = append(row, fmt.Sprint(v.Field(c.index).Interface()))
		}
		rows = append(rows, row)
	}

	out := bytes.Buffer{}
	table := tablewriter.NewWriter(&out)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
	return out.String()
}
