package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{input: "table", want: FormatTable},
		{input: "", want: FormatTable},
		{input: "JSON", want: FormatJSON},
		{input: "yml", want: FormatYAML},
		{input: "  yaml ", want: FormatYAML},
		{input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestPrinter_Table(t *testing.T) {
	t.Parallel()

	table := NewTableData("Resource", "Mode", "Waiters").AlignRight(2)
	table.AddRow("Global", "IX", "0")
	table.AddRow("Database db1", "X", "12")

	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable, false)
	p.Section("Lock table")
	require.NoError(t, p.Print(table))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Lock table\n"))
	assert.Contains(t, out, "RESOURCE")
	assert.Contains(t, out, "Database db1")
	assert.Contains(t, out, "12")
}

func TestPrinter_JSONAndYAML(t *testing.T) {
	t.Parallel()

	data := map[string]int{"granted": 2}

	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatJSON, false)
	p.Section("ignored")
	require.NoError(t, p.Print(data))
	assert.JSONEq(t, `{"granted":2}`, buf.String())

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatYAML, false).Print(data))
	assert.Equal(t, "granted: 2\n", buf.String())
}

func TestPrinter_TableFallsBackToJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable, false).Print([]int{1, 2}))
	assert.JSONEq(t, `[1,2]`, buf.String())
}

func TestPrinter_Messages(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewPrinter(&buf, FormatTable, true).Success("ok")
	assert.Equal(t, "\033[32mok\033[0m\n", buf.String())

	buf.Reset()
	NewPrinter(&buf, FormatTable, false).Warning("careful")
	assert.Equal(t, "careful\n", buf.String())
}

func TestPrintKeyValue(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, PrintKeyValue(&buf, [][2]string{{"Operations", "400"}, {"Violations", "0"}}))
	assert.Contains(t, buf.String(), "Operations")
	assert.Contains(t, buf.String(), "400")
}
