package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/wonny/edukpi/internal/assemble"
	"github.com/wonny/edukpi/internal/contracts"
)

// WriteParquet writes a table with the same columns and values as its CSV.
// NA cells are null. One marshalling goroutine keeps the bytes reproducible.
func WriteParquet(out io.Writer, t contracts.Table, types map[string]assemble.ColumnType) error {
	columns := assemble.Columns(t.ContextColumns)

	pfw := writerfile.NewWriterFile(out)
	pw, err := writer.NewJSONWriter(parquetSchema(columns, types), pfw, 1)
	if err != nil {
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range t.Rows {
		row, err := parquetRow(columns, assemble.Cells(r, t.ContextColumns), types)
		if err != nil {
			_ = pw.WriteStop()
			return err
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("parquet finalize: %w", err)
	}
	return nil
}

func parquetSchema(columns []string, types map[string]assemble.ColumnType) string {
	fields := make([]map[string]string, 0, len(columns))
	for _, c := range columns {
		fields = append(fields, map[string]string{
			"Tag": fmt.Sprintf("name=%s, %s, repetitiontype=%s", c, physicalType(types[c]), repetition(c)),
		})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func physicalType(t assemble.ColumnType) string {
	switch t {
	case assemble.TypeInteger:
		return "type=INT64"
	case assemble.TypeNumber:
		return "type=DOUBLE"
	default:
		return "type=BYTE_ARRAY, convertedtype=UTF8"
	}
}

// repetition keeps the key columns required
func repetition(column string) string {
	switch column {
	case "year", "metric", "entity_id":
		return "REQUIRED"
	default:
		return "OPTIONAL"
	}
}

// parquetRow builds the JSON record the writer marshals, keys in column order
func parquetRow(columns, cells []string, types map[string]assemble.ColumnType) (string, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, '{')
	for i, c := range columns {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendQuote(buf, c)
		buf = append(buf, ':')

		v := cells[i]
		numeric := types[c] == assemble.TypeInteger || types[c] == assemble.TypeNumber
		if repetition(c) == "OPTIONAL" && (v == contracts.NotApplicable || (numeric && v == "")) {
			buf = append(buf, "null"...)
			continue
		}
		switch types[c] {
		case assemble.TypeInteger:
			n, ok := assemble.CanonicalInt(v)
			if !ok {
				return "", fmt.Errorf("column %s: %q is not an integer", c, v)
			}
			buf = strconv.AppendInt(buf, n, 10)
		case assemble.TypeNumber:
			if n, ok := assemble.CanonicalInt(v); ok {
				buf = strconv.AppendInt(buf, n, 10)
				break
			}
			f, ok := assemble.CanonicalFloat(v)
			if !ok {
				return "", fmt.Errorf("column %s: %q is not numeric", c, v)
			}
			buf = strconv.AppendFloat(buf, f, 'f', -1, 64)
		default:
			enc, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			buf = append(buf, enc...)
		}
	}
	buf = append(buf, '}')
	return string(buf), nil
}
