package signals

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/helm-gate/pkg/readiness"
)

// FileSource reads readiness from a YAML document on every Fetch, so edits
// take effect on the next gate evaluation.
//
//	orgs:
//	  org-1:
//	    legal: LEGAL_GO
//	    ops: OPS_WARNING
//	    sites:
//	      site-1: {legal: LEGAL_WARNING, ops: OPS_GO}
//	    shifts:
//	      shift-42: {legal: LEGAL_GO, ops: OPS_NO_GO}
//	      2024-03-01/EARLY: {legal: LEGAL_GO, ops: OPS_GO}
//
// Lookup order for a shift-scoped query is shift id, then date/shift_code.
// Unscoped queries use the site entry when present, else the org entry.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

type fileFlags struct {
	Legal string `yaml:"legal"`
	Ops   string `yaml:"ops"`
}

type fileOrg struct {
	fileFlags `yaml:",inline"`
	Sites     map[string]fileFlags `yaml:"sites"`
	Shifts    map[string]fileFlags `yaml:"shifts"`
}

type fileDoc struct {
	Orgs map[string]fileOrg `yaml:"orgs"`
}

func (s *FileSource) Fetch(ctx context.Context, q Query) (readiness.Signal, error) {
	if err := ctx.Err(); err != nil {
		return readiness.Signal{}, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return readiness.Signal{}, fmt.Errorf("signals: read %s: %w", s.path, err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return readiness.Signal{}, fmt.Errorf("signals: parse %s: %w", s.path, err)
	}

	org, ok := doc.Orgs[q.OrgID]
	if !ok {
		return readiness.Signal{}, fmt.Errorf("%w: org %s", ErrUnknownScope, q.OrgID)
	}

	flags := org.fileFlags
	if q.ShiftScoped() {
		key := q.ShiftID
		if key == "" {
			key = q.Date + "/" + q.ShiftCode
		}
		shift, ok := org.Shifts[key]
		if !ok {
			return readiness.Signal{}, fmt.Errorf("%w: shift %s in org %s", ErrUnknownScope, key, q.OrgID)
		}
		flags = shift
	} else if site, ok := org.Sites[q.SiteID]; ok && q.SiteID != "" {
		flags = site
	}

	sig := readiness.Signal{Legal: readiness.LegalFlag(flags.Legal), Ops: readiness.OpsFlag(flags.Ops)}
	if err := validate(sig); err != nil {
		return readiness.Signal{}, fmt.Errorf("signals: %s: %w", s.path, err)
	}
	return sig, nil
}
