package service

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/niikun/social-listening/internal/model"
)

var (
	leadingColumns  = []string{"persona_id"}
	trailingColumns = []string{
		"rating", "sentiment", "rationale", "parse_strategy",
		"status", "error", "prompt_tokens", "completion_tokens", "cost_usd",
		"latency_ms", "attempts", "grounded", "search_simulated", "raw_text",
	}
)

// Dataset is the flat tabular view of a run: one row per persona in
// generation order. Cells are aligned with Columns.
type Dataset struct {
	Columns []string
	Rows    [][]interface{}
}

// BuildDataset flattens run. Persona attribute columns are the union of all
// attribute names in order of first appearance.
func BuildDataset(run *model.SurveyRun) Dataset {
	var attrCols []string
	seen := make(map[string]bool)
	for _, p := range run.Personas {
		for _, a := range p.Attributes {
			if !seen[a.Name] {
				seen[a.Name] = true
				attrCols = append(attrCols, a.Name)
			}
		}
	}

	columns := make([]string, 0, len(leadingColumns)+len(attrCols)+len(trailingColumns))
	columns = append(columns, leadingColumns...)
	columns = append(columns, attrCols...)
	columns = append(columns, trailingColumns...)

	rows := make([][]interface{}, len(run.Records))
	for i, rec := range run.Records {
		var attrs map[string]string
		if i < len(run.Personas) {
			attrs = run.Personas[i].AttributeMap()
		}

		row := make([]interface{}, 0, len(columns))
		row = append(row, rec.PersonaID)
		for _, name := range attrCols {
			row = append(row, attrs[name])
		}

		var rating interface{}
		var sentiment, rationale, strategy string
		if rec.Parsed != nil {
			if rec.Parsed.Rating != nil {
				rating = *rec.Parsed.Rating
			}
			sentiment = rec.Parsed.Sentiment
			rationale = rec.Parsed.Rationale
			strategy = rec.Parsed.Strategy
		}
		row = append(row,
			rating, sentiment, rationale, strategy,
			string(rec.Status), rec.Error,
			rec.Usage.PromptTokens, rec.Usage.CompletionTokens, rec.CostUSD,
			rec.Latency.Milliseconds(), rec.Attempts,
			rec.Grounded, rec.SearchSimulated, rec.RawText,
		)
		rows[i] = row
	}
	return Dataset{Columns: columns, Rows: rows}
}

// Table returns the header and string cells
func (d Dataset) Table() ([]string, [][]string) {
	out := make([][]string, len(d.Rows))
	for i, row := range d.Rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = formatCell(v)
		}
		out[i] = cells
	}
	return d.Columns, out
}

// Objects returns each row keyed by column name
func (d Dataset) Objects() []map[string]interface{} {
	out := make([]map[string]interface{}, len(d.Rows))
	for i, row := range d.Rows {
		obj := make(map[string]interface{}, len(d.Columns))
		for j, col := range d.Columns {
			obj[col] = row[j]
		}
		out[i] = obj
	}
	return out
}

// WriteCSV writes the run dataset with a header row
func WriteCSV(w io.Writer, run *model.SurveyRun) error {
	header, rows := BuildDataset(run).Table()
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write csv rows: %w", err)
	}
	return nil
}

// WriteJSON writes the run dataset as an array of objects
func WriteJSON(w io.Writer, run *model.SurveyRun) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(BuildDataset(run).Objects()); err != nil {
		return fmt.Errorf("failed to write json dataset: %w", err)
	}
	return nil
}

func formatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', 6, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
