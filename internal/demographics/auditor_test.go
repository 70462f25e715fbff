package demographics

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/edukpi/internal/contracts"
	"github.com/wonny/edukpi/pkg/logger"
)

func testRequirements() Requirements {
	return Requirements{
		Field: "group",
		Default: LabelSet{
			Required: []string{"All Students", "Female", "Male"},
			Optional: []string{"Non-Binary"},
		},
		ByYear: map[int]LabelSet{
			2022: {
				Required: []string{"All Students", "Female", "Male", "Non-Binary"},
			},
		},
	}
}

func TestForYear(t *testing.T) {
	req := testRequirements()

	tests := []struct {
		year     int
		required int
	}{
		{2019, 3},
		{2021, 3},
		{2022, 4},
		{2025, 4},
	}

	for _, tt := range tests {
		assert.Len(t, req.ForYear(tt.year).Required, tt.required, "year %d", tt.year)
	}
}

func TestAudit_MissingFemale(t *testing.T) {
	var buf bytes.Buffer
	a := NewAuditor("graduation", testRequirements(), logger.NewWithWriter(&buf, "info"))

	entry := a.Audit(2021, []string{"All Students", "Male", "Male", "All Students"})

	assert.Equal(t, []string{"Female"}, entry.MissingRequired)
	assert.Empty(t, entry.Unexpected)
	assert.Equal(t, []string{"All Students", "Male"}, entry.Observed)

	findings := entry.Findings()
	require.Len(t, findings, 1)
	assert.Equal(t, contracts.FindingMissingRequired, findings[0].Kind)
	assert.Equal(t, "Female", findings[0].Label)
	assert.Equal(t, "All Students|Male", findings[0].ObservedLabels)
	assert.Contains(t, buf.String(), "demographic coverage mismatch")
}

func TestAudit_UnexpectedAndCaseInsensitive(t *testing.T) {
	a := NewAuditor("graduation", testRequirements(), logger.Nop())

	entry := a.Audit(2020, []string{"all  students", "FEMALE", "male", "Homeless"})

	assert.Empty(t, entry.MissingRequired)
	assert.Equal(t, []string{"Homeless"}, entry.Unexpected)
}

func TestAudit_YearSpecificSet(t *testing.T) {
	a := NewAuditor("graduation", testRequirements(), logger.Nop())

	// Optional before 2022, required from 2022 on.
	before := a.Audit(2021, []string{"All Students", "Female", "Male"})
	after := a.Audit(2022, []string{"All Students", "Female", "Male"})

	assert.False(t, before.HasFindings())
	assert.Equal(t, []string{"Non-Binary"}, after.MissingRequired)
}

func TestAudit_NoRequirements(t *testing.T) {
	a := NewAuditor("attendance", Requirements{}, logger.Nop())

	entry := a.Audit(2021, []string{"All Students"})

	assert.False(t, entry.HasFindings())
	assert.Equal(t, []string{"All Students"}, entry.Observed)
}

func TestObservations(t *testing.T) {
	committed := NewObservations()

	file := NewObservations()
	file.Add(2021, "Female")
	file.Add(2020, "Male")
	committed.Merge(file)

	// a failed file's buffer is dropped, never merged
	failed := NewObservations()
	failed.Add(2019, "Male")

	assert.Equal(t, []int{2020, 2021}, committed.Years())
	assert.Equal(t, []string{"Female"}, committed.Labels(2021))
}

func TestGroupLabel(t *testing.T) {
	assert.Equal(t, DefaultGroupLabel, Requirements{}.GroupLabel())
	assert.Equal(t, "Total", Requirements{DefaultGroup: "Total"}.GroupLabel())
}
