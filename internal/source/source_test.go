package source

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/wonny/edukpi/internal/year"
)

func readAll(t *testing.T, r Reader) [][]string {
	t.Helper()
	var out [][]string
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		out = append(out, append([]string(nil), rec...))
	}
	return out
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"grad_2021.csv", "Grad_20192020.CSV", "notes.md", ".hidden.csv", "~$grad.xlsx", "grad.xlsx"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.csv"), 0o755))

	files, err := Discover("graduation", dir, []string{"*.csv", "*.xlsx"}, year.DefaultFilenamePattern)
	require.NoError(t, err)

	require.Len(t, files, 3)
	assert.Equal(t, "Grad_20192020.CSV", files[0].Name)
	assert.Equal(t, "20192020", files[0].YearToken)
	assert.Equal(t, "grad.xlsx", files[1].Name)
	assert.Equal(t, "", files[1].YearToken)
	assert.Equal(t, "grad_2021.csv", files[2].Name)
	assert.Equal(t, "2021", files[2].YearToken)
	assert.Equal(t, "graduation", files[2].Family)
	assert.Equal(t, int64(1), files[2].Size)
}

func TestDiscover_MissingDir(t *testing.T) {
	_, err := Discover("graduation", filepath.Join(t.TempDir(), "nope"), []string{"*.csv"}, year.DefaultFilenamePattern)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOpen_Delimited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.txt")
	content := "District Code|District Name|Enrollment\n" +
		"1|North \"Valley\"|300\n" +
		"\n" +
		"2|South\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r, err := Open(path, Options{Delimiter: '|'})
	require.NoError(t, err)
	defer r.Close()

	records := readAll(t, r)

	require.Len(t, records, 3)
	assert.Equal(t, []string{"District Code", "District Name", "Enrollment"}, records[0])
	assert.Equal(t, []string{"1", "North \"Valley\"", "300"}, records[1])
	assert.Equal(t, []string{"2", "South"}, records[2])
}

func TestOpen_TSVExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.tsv")
	require.NoError(t, os.WriteFile(path, []byte("a\tb\n1\t2\n"), 0o644))

	r, err := Open(path, Options{Delimiter: ','})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, readAll(t, r))
}

func TestOpen_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	r, err := Open(path, Options{})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestOpen_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grad.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"School Code", "Graduation Rate"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"1001", "91.2"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A4", &[]interface{}{"1002", "88"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	r, err := Open(path, Options{})
	require.NoError(t, err)
	defer r.Close()

	records := readAll(t, r)

	require.Len(t, records, 3)
	assert.Equal(t, []string{"School Code", "Graduation Rate"}, records[0])
	assert.Equal(t, []string{"1001", "91.2"}, records[1])
	assert.Equal(t, []string{"1002", "88"}, records[2])
}

func TestOpen_XLSXMissingSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grad.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	_, err := Open(path, Options{Sheet: "Data"})
	assert.Error(t, err)
}
