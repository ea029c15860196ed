package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_PriorityOrder(t *testing.T) {
	tests := []struct {
		name       string
		action     string
		targetType string
		want       Category
	}{
		{"regulatory action prefix", "LEGAL_REQUIREMENT_UPDATED", "EMPLOYEE", CategoryRegulatory},
		{"regulatory target", "RECORD_UPDATED", "CERTIFICATE", CategoryRegulatory},
		{"regulatory beats legitimacy", "LEGAL_STOP_RAISED", "GOVERNANCE", CategoryRegulatory},
		{"legitimacy action", "RUNTIME_NO_GO", "SHIFT", CategoryLegitimacy},
		{"legitimacy beats compliance", "GOVERNANCE_OVERRIDE", "COMPLIANCE_ACTION", CategoryLegitimacy},
		{"compliance action", "COMPLIANCE_ACTION_DONE", "COMPLIANCE_ACTION", CategoryCompliance},
		{"compliance beats execution", "TRAINING_ASSIGNED", "SHIFT", CategoryCompliance},
		{"override outranks shift prefix", "SHIFT_OVERRIDE_APPROVED", "SHIFT", CategoryLegitimacy},
		{"execution target", "STAFFING_GAP_RESOLVED", "STATION", CategoryExecution},
		{"system default", "INVITE_USER", "USER", CategorySystem},
		{"empty input", "", "", CategorySystem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.action, tt.targetType))
		})
	}
}

func TestClassify_CaseAndSeparatorNormalized(t *testing.T) {
	assert.Equal(t, CategoryCompliance, Classify("compliance-action-done", "compliance action"))
	assert.Equal(t, Classify("STAFFING_GAP_RESOLVED", "STATION"), Classify(" staffing.gap.resolved ", "station"))
}

func TestResolveSeverity(t *testing.T) {
	tests := []struct {
		category Category
		action   string
		want     Severity
	}{
		{CategoryRegulatory, "LEGAL_STOP_RAISED", SeverityCritical},
		{CategoryRegulatory, "REGULATION_UPDATED", SeverityHigh},
		{CategoryLegitimacy, "RUNTIME_NO_GO", SeverityCritical},
		{CategoryLegitimacy, "GOVERNANCE_BLOCKED", SeverityCritical},
		{CategoryLegitimacy, "GOVERNANCE_OVERRIDE", SeverityHigh},
		// Hard-stop markers only escalate REGULATORY and LEGITIMACY.
		{CategoryCompliance, "COMPLIANCE_BLOCKED", SeverityMedium},
		{CategoryExecution, "SHIFT_HARD_STOP", SeverityLow},
		{CategorySystem, "NO_GO", SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(string(tt.category)+"/"+tt.action, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveSeverity(tt.category, tt.action, ""))
		})
	}
}

func TestResolveImpact_AllSeverities(t *testing.T) {
	want := map[Severity]Impact{
		SeverityInfo:     ImpactNonBlocking,
		SeverityLow:      ImpactNonBlocking,
		SeverityMedium:   ImpactNonBlocking,
		SeverityHigh:     ImpactBlocking,
		SeverityCritical: ImpactBlocking,
	}
	for sev, impact := range want {
		assert.Equal(t, impact, ResolveImpact(sev), "severity %s", sev)
	}
	assert.Equal(t, ImpactNonBlocking, ResolveImpact(Severity("BOGUS")))
}

func TestIsBlocking(t *testing.T) {
	assert.True(t, IsBlocking("RUNTIME_NO_GO", "SHIFT"))
	assert.True(t, IsBlocking("LEGAL_REQUIREMENT_UPDATED", "EMPLOYEE"))
	assert.False(t, IsBlocking("COMPLIANCE_ACTION_DONE", "COMPLIANCE_ACTION"))
	assert.False(t, IsBlocking("INVITE_USER", "USER"))
}

func TestEvaluate_StampsVersion(t *testing.T) {
	c := Default()
	got := c.Evaluate("RUNTIME_NO_GO", "SHIFT")

	assert.Equal(t, Classification{
		Category: CategoryLegitimacy,
		Severity: SeverityCritical,
		Impact:   ImpactBlocking,
		Version:  Current().Version.String(),
	}, got)
}

func TestEvaluate_Deterministic(t *testing.T) {
	c := Default()
	first := c.Evaluate("SHIFT_OVERRIDE_APPROVED", "SHIFT")
	for i := 0; i < 100; i++ {
		require.Equal(t, first, c.Evaluate("SHIFT_OVERRIDE_APPROVED", "SHIFT"))
	}
}

func TestAt_HistoricalTableReproducible(t *testing.T) {
	v10, err := At("1.0.0")
	require.NoError(t, err)
	v11, err := At("1.1.0")
	require.NoError(t, err)

	// PERMIT patterns were added in 1.1.0; rows stamped 1.0.0 keep their class.
	assert.Equal(t, CategorySystem, v10.Classify("PERMIT_RENEWED", "PERMIT"))
	assert.Equal(t, CategoryRegulatory, v11.Classify("PERMIT_RENEWED", "PERMIT"))
}

func TestTableAt(t *testing.T) {
	t.Run("empty resolves to oldest", func(t *testing.T) {
		tbl, err := TableAt("")
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", tbl.Version.String())
	})
	t.Run("patch resolves to containing minor", func(t *testing.T) {
		tbl, err := TableAt("1.0.7")
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", tbl.Version.String())
	})
	t.Run("future resolves to current", func(t *testing.T) {
		tbl, err := TableAt("9.0.0")
		require.NoError(t, err)
		assert.Equal(t, Current(), tbl)
	})
	t.Run("before first table", func(t *testing.T) {
		_, err := TableAt("0.9.0")
		assert.Error(t, err)
	})
	t.Run("invalid", func(t *testing.T) {
		_, err := TableAt("not-a-version")
		assert.Error(t, err)
	})
}

// Later tables must never reclassify an input that an earlier table already
// placed outside SYSTEM.
func TestTables_AdditiveOnly(t *testing.T) {
	probes := [][2]string{
		{"LEGAL_STOP_RAISED", "EMPLOYEE"},
		{"RUNTIME_NO_GO", "SHIFT"},
		{"COMPLIANCE_ACTION_DONE", "COMPLIANCE_ACTION"},
		{"STAFFING_GAP_RESOLVED", "STATION"},
		{"SHIFT_HANDOVER", "SHIFT"},
		{"TRAINING_ASSIGNED", "EMPLOYEE"},
		{"GOVERNANCE_OVERRIDE", "READINESS"},
	}
	for i := 1; i < len(tables); i++ {
		prev := &Classifier{table: tables[i-1]}
		next := &Classifier{table: tables[i]}
		for _, p := range probes {
			before := prev.Classify(p[0], p[1])
			if before == CategorySystem {
				continue
			}
			assert.Equal(t, before, next.Classify(p[0], p[1]),
				"%s reclassified %v between %s and %s", p[0], p[1], prev.Version(), next.Version())
		}
	}
}

func TestVersions_Ascending(t *testing.T) {
	v := Versions()
	require.NotEmpty(t, v)
	for i := 1; i < len(tables); i++ {
		assert.True(t, tables[i-1].Version.LessThan(tables[i].Version))
	}
	assert.Equal(t, Current().Version.String(), v[len(v)-1])
}
