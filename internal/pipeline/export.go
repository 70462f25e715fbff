package pipeline

import (
	"github.com/wonny/edukpi/internal/output"
)

// Export writes every artifact of the run and returns the written paths:
// per-family tables and audits, the master table and audit, the summary.
// A partial run leaves the master artifacts on disk untouched.
func (r *Result) Export(w *output.Writer) ([]string, error) {
	var paths []string

	for _, fr := range r.Families {
		written, err := w.WriteTable(fr.Table)
		if err != nil {
			return paths, err
		}
		paths = append(paths, written...)

		audit, err := w.WriteFamilyAudit(fr.Family, fr.Audit)
		if err != nil {
			return paths, err
		}
		paths = append(paths, audit)
	}

	if !r.Partial {
		written, err := w.WriteTable(r.Master)
		if err != nil {
			return paths, err
		}
		paths = append(paths, written...)

		audit, err := w.WriteMasterAudit(r.Audit)
		if err != nil {
			return paths, err
		}
		paths = append(paths, audit)
	}

	summary, err := w.WriteSummary(r.Summary())
	if err != nil {
		return paths, err
	}
	return append(paths, summary), nil
}
