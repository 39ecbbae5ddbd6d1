package export

import "fmt"

// Column describes one field of a report. Width is a relative weight used by
// the PDF renderer; zero means 1.
type Column struct {
	Key   string
	Title string
	Width float64
}

// Dataset defines tabular export content.
type Dataset struct {
	Title   string
	Columns []Column
	Rows    []map[string]string
}

func (d Dataset) validate() error {
	if len(d.Columns) == 0 {
		return fmt.Errorf("dataset requires at least one column")
	}
	return nil
}

func (d Dataset) record(row map[string]string) []string {
	values := make([]string, len(d.Columns))
	for i, col := range d.Columns {
		values[i] = row[col.Key]
	}
	return values
}

func (d Dataset) titles() []string {
	titles := make([]string, len(d.Columns))
	for i, col := range d.Columns {
		titles[i] = col.Title
		if titles[i] == "" {
			titles[i] = col.Key
		}
	}
	return titles
}
