package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/edukpi/internal/contracts"
	"github.com/wonny/edukpi/internal/demographics"
	"github.com/wonny/edukpi/internal/familyconfig"
	"github.com/wonny/edukpi/internal/output"
	"github.com/wonny/edukpi/pkg/logger"
)

const graduationYAML = `
family: graduation
fields:
  - name: school_id
    required: true
    aliases: ["School Code", "BEDS Code"]
  - name: school_name
    aliases: ["School Name"]
  - name: school_year
    aliases: ["School Year", "Year"]
  - name: subgroup
    aliases: ["Subgroup"]
  - name: suppressed
    aliases: ["Suppressed"]
  - name: grad_rate
    aliases: ["Graduation Rate"]
  - name: grad_count
    aliases: ["Graduate Count"]
entity:
  id_field: school_id
  name_field: school_name
year:
  field: school_year
suppression:
  flag_field: suppressed
  flag_values: ["Y"]
demographics:
  field: subgroup
  default:
    required: ["All Students", "Female", "Male"]
metrics:
  - name: graduation_rate
    field: grad_rate
  - name: graduation_count
    field: grad_count
`

const attendanceYAML = `
family: attendance
fields:
  - name: district_id
    required: true
    aliases: ["District Code"]
  - name: enrolled
    aliases: ["Enrollment"]
  - name: absent
    aliases: ["Chronically Absent"]
entity:
  id_field: district_id
metrics:
  - name: enrollment_total
    field: enrolled
  - name: chronic_absence_rate
    field: absent
    denominator: enrolled
    decimals: 2
`

const header = "School Code,School Name,School Year,Subgroup,Suppressed,Graduation Rate,Graduate Count\n"

func parseConfig(t *testing.T, yaml string) *familyconfig.Config {
	t.Helper()
	cfg, err := familyconfig.Parse([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestRunner_TwoRowFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "graduation"), "grad.csv", header+
		"1001.0,Lincoln High,20202021,All Students,N,91.2,\"1,092\"\n"+
		"1001.0,Lincoln High,20202021,Female,Y,*,*\n")

	res, err := NewRunner(parseConfig(t, graduationYAML), root, logger.Nop()).Run(context.Background())
	require.NoError(t, err)

	rows := res.Table.Rows
	require.Len(t, rows, 4)

	assert.Equal(t, contracts.KPIRow{Year: 2021, Metric: "graduation_rate", EntityID: "1001", EntityName: "Lincoln High", Group: "All Students", Value: contracts.Number(91.2)}, rows[0])
	assert.Equal(t, contracts.KPIRow{Year: 2021, Metric: "graduation_count", EntityID: "1001", EntityName: "Lincoln High", Group: "All Students", Value: contracts.Number(1092)}, rows[1])

	// suppressed group: every declared metric present, NA, never zero
	for _, r := range rows[2:] {
		assert.Equal(t, "Female", r.Group)
		assert.Equal(t, 2021, r.Year)
		assert.False(t, r.Value.Valid)
		assert.Equal(t, contracts.NotApplicable, r.Value.String())
	}
	assert.Equal(t, "graduation_rate", rows[2].Metric)
	assert.Equal(t, "graduation_count", rows[3].Metric)

	assert.Equal(t, 1, res.SuppressedRows)
	assert.Equal(t, 2, res.RowsRead)
	assert.Equal(t, 1, res.FilesProcessed)

	// Male is missing: exactly one finding, rows untouched
	require.Len(t, res.Audit, 1)
	findings := res.Audit[0].Findings()
	require.Len(t, findings, 1)
	assert.Equal(t, "Male", findings[0].Label)
	assert.Equal(t, contracts.FindingMissingRequired, findings[0].Kind)
}

func TestRunner_OnlyDeclaredMetrics(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "graduation"), "grad_2021.csv",
		"School Code,Graduate Count,Cohort Count,Dropout Count\n"+
			"1,50,100,4\n")

	res, err := NewRunner(parseConfig(t, graduationYAML), root, logger.Nop()).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Table.Rows, 1)
	assert.Equal(t, "graduation_count", res.Table.Rows[0].Metric)
	for _, r := range res.Table.Rows {
		assert.Contains(t, []string{"graduation_rate", "graduation_count"}, r.Metric)
	}
}

func TestRunner_AbsentFieldsLogged(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "graduation"), "grad_2021.csv",
		"School Code,Graduate Count\n1,50\n")

	var buf bytes.Buffer
	res, err := NewRunner(parseConfig(t, graduationYAML), root, logger.NewWithWriter(&buf, "info")).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Table.Rows, 1)

	assert.Contains(t, buf.String(), "optional fields absent")
	assert.Contains(t, buf.String(), `"fields":["grad_rate","school_name","school_year","subgroup","suppressed"]`)
	assert.Contains(t, buf.String(), `"stage":"SCHEMA_MAPPING"`)
}

func TestRunner_SkipsBadFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "graduation")
	writeFile(t, dir, "a_missing_column.csv", "School Name,Graduation Rate\nLincoln,90\n")
	writeFile(t, dir, "b_bad_year.csv", header+
		"1,Lincoln,2021,All Students,N,90,10\n"+
		"2,Adams,garbage,All Students,N,80,8\n")
	writeFile(t, dir, "c_empty.csv", "")
	writeFile(t, dir, "d_good.csv", header+"3,Grant,2020-2021,Female,N,70,7\n")

	var buf bytes.Buffer
	res, err := NewRunner(parseConfig(t, graduationYAML), root, logger.NewWithWriter(&buf, "warn")).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, res.FilesDiscovered)
	assert.Equal(t, 1, res.FilesProcessed)
	require.Len(t, res.Skipped, 3)
	assert.Equal(t, "missing_required_column", res.Skipped[0].Reason)
	assert.Equal(t, "year_resolution_failure", res.Skipped[1].Reason)
	assert.Equal(t, "empty_or_unreadable_file", res.Skipped[2].Reason)
	assert.Equal(t, contracts.StageSchemaMapping, res.Skipped[0].Stage)
	assert.Equal(t, contracts.StageIngest, res.Skipped[2].Stage)

	// rows already read from the bad-year file are discarded
	for _, r := range res.Table.Rows {
		assert.Equal(t, "3", r.EntityID)
		assert.Equal(t, 2021, r.Year)
	}
	assert.Contains(t, buf.String(), "file skipped")
}

func TestRunner_FilenameYearAndOrdering(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "attendance")
	writeFile(t, dir, "a_20212022.csv", "District Code,Enrollment,Chronically Absent\n7,200,20\n")
	writeFile(t, dir, "b_2020.csv", "District Code,Enrollment,Chronically Absent\n7.0,100,0\n")

	res, err := NewRunner(parseConfig(t, attendanceYAML), root, logger.Nop()).Run(context.Background())
	require.NoError(t, err)

	rows := res.Table.Rows
	require.Len(t, rows, 4)
	assert.Equal(t, 2020, rows[0].Year)
	assert.Equal(t, 2022, rows[2].Year)
	assert.Equal(t, "7", rows[0].EntityID)
	assert.Equal(t, "chronic_absence_rate", rows[3].Metric)
	assert.Equal(t, 10.0, rows[3].Value.Number)
	assert.Equal(t, demographics.DefaultGroupLabel, rows[0].Group)
	assert.Empty(t, res.Audit)
}

func TestRunner_ZeroDenominator(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "attendance"), "att_2021.csv",
		"District Code,Enrollment,Chronically Absent\n7,0,0\n")

	res, err := NewRunner(parseConfig(t, attendanceYAML), root, logger.Nop()).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Table.Rows, 1)
	assert.Equal(t, "enrollment_total", res.Table.Rows[0].Metric)
}

func TestRunner_UnparseableCounted(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "attendance"), "att_2021.csv",
		"District Code,Enrollment,Chronically Absent\n7,>95,31\n8,120,12\n")

	fr, err := NewRunner(parseConfig(t, attendanceYAML), root, logger.Nop()).Run(context.Background())
	require.NoError(t, err)

	// district 7 loses both metrics; district 8 is untouched
	require.Len(t, fr.Table.Rows, 2)
	assert.Equal(t, "8", fr.Table.Rows[0].EntityID)
	assert.Equal(t, int64(2), fr.Unparseable)

	res := &Result{Families: []*FamilyResult{fr}}
	assert.Equal(t, int64(2), res.Summary().Families[0].Unparseable)
}

func TestRunner_Duplicates(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "attendance")
	writeFile(t, dir, "a_2021.csv", "District Code,Enrollment\n7,200\n")
	writeFile(t, dir, "b_2021.csv", "District Code,Enrollment\n7,999\n")

	res, err := NewRunner(parseConfig(t, attendanceYAML), root, logger.Nop()).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Table.Rows, 1)
	assert.Equal(t, 200.0, res.Table.Rows[0].Value.Number)
	assert.Equal(t, 1, res.Duplicates)
}

func TestRunner_MissingInputDir(t *testing.T) {
	res, err := NewRunner(parseConfig(t, attendanceYAML), t.TempDir(), logger.Nop()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.FilesDiscovered)
	assert.Empty(t, res.Table.Rows)
}

func TestRunner_Canceled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "attendance"), "att_2021.csv", "District Code,Enrollment\n7,200\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(parseConfig(t, attendanceYAML), root, logger.Nop()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func seedRun(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "graduation"), "grad_20202021.csv", header+
		"1001.0,Lincoln High,,All Students,N,91.2,1092\n"+
		"1001.0,Lincoln High,,Female,Y,*,*\n"+
		"1001.0,Lincoln High,,Male,N,88.25,500\n")
	writeFile(t, filepath.Join(root, "attendance"), "att_2021.csv",
		"District Code,Enrollment,Chronically Absent\n7,300,31\n")
	return root
}

func runEngine(t *testing.T, root string) *Result {
	t.Helper()
	configs := []*familyconfig.Config{parseConfig(t, attendanceYAML), parseConfig(t, graduationYAML)}
	res, err := NewEngine(configs, root, 2, logger.Nop()).Run(context.Background())
	require.NoError(t, err)
	return res
}

func TestEngine_Run(t *testing.T) {
	res := runEngine(t, seedRun(t))

	require.Len(t, res.Families, 2)
	assert.Equal(t, "attendance", res.Families[0].Family)
	assert.Equal(t, "graduation", res.Families[1].Family)
	assert.NotEmpty(t, res.RunID)

	// attendance rows sort first in the master table
	assert.Len(t, res.Master.Rows, 2+6)
	assert.Equal(t, "enrollment_total", res.Master.Rows[0].Metric)
	assert.Equal(t, 0, res.FindingCount())

	summary := res.Summary()
	require.Len(t, summary.Families, 2)
	assert.Equal(t, 1, summary.Families[1].SuppressedRows)
	assert.Len(t, summary.Families[1].ConfigHash, 64)
}

func TestEngine_ByteIdenticalOutputs(t *testing.T) {
	root := seedRun(t)
	out1, out2 := t.TempDir(), t.TempDir()

	_, err := runEngine(t, root).Export(output.NewWriter(out1, true, logger.Nop()))
	require.NoError(t, err)
	paths, err := runEngine(t, root).Export(output.NewWriter(out2, true, logger.Nop()))
	require.NoError(t, err)

	compared := 0
	for _, p := range paths {
		name := filepath.Base(p)
		if name == "run_summary.json" {
			continue
		}
		a, err := os.ReadFile(filepath.Join(out1, name))
		require.NoError(t, err)
		b, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(a, b), name)
		compared++
	}
	// 3 tables x (csv + parquet) + 3 audits
	assert.Equal(t, 9, compared)

	master, err := os.ReadFile(filepath.Join(out1, "master_kpi.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(master), "2021,graduation_rate,1001,Lincoln High,Female,NA\n")
}

func TestExport_PartialKeepsMaster(t *testing.T) {
	root := seedRun(t)
	out := t.TempDir()
	w := output.NewWriter(out, true, logger.Nop())

	_, err := runEngine(t, root).Export(w)
	require.NoError(t, err)
	master, err := os.ReadFile(filepath.Join(out, "master_kpi.csv"))
	require.NoError(t, err)
	audit, err := os.ReadFile(filepath.Join(out, "demographic_audit.csv"))
	require.NoError(t, err)

	res, err := NewEngine([]*familyconfig.Config{parseConfig(t, graduationYAML)}, root, 1, logger.Nop()).Run(context.Background())
	require.NoError(t, err)
	res.Partial = true

	paths, err := res.Export(w)
	require.NoError(t, err)
	for _, p := range paths {
		assert.NotContains(t, filepath.Base(p), "master_kpi")
		assert.NotEqual(t, "demographic_audit.csv", filepath.Base(p))
	}

	after, err := os.ReadFile(filepath.Join(out, "master_kpi.csv"))
	require.NoError(t, err)
	assert.Equal(t, string(master), string(after))
	assert.Contains(t, string(after), ",enrollment_total,7,")

	afterAudit, err := os.ReadFile(filepath.Join(out, "demographic_audit.csv"))
	require.NoError(t, err)
	assert.Equal(t, string(audit), string(afterAudit))

	summary, err := os.ReadFile(filepath.Join(out, "run_summary.json"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), `"partial": true`)
}
