package query

// Column describes one result column as reported by the driver.
type Column struct {
	Name         string `json:"name"`
	DatabaseType string `json:"database_type,omitempty"`
}

// ResultSet is an ordered sequence of rows sharing one column list.
// Every row holds exactly len(Columns) values in column order.
type ResultSet struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Len returns the number of rows.
func (rs *ResultSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// Header returns the column names in result order.
func (rs *ResultSet) Header() []string {
	if rs == nil {
		return nil
	}
	names := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		names[i] = c.Name
	}
	return names
}
