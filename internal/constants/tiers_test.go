package constants

import "testing"

func TestGetTierLimitsDefaultsToFree(t *testing.T) {
	limits := GetTierLimits("nonexistent-tier")
	if limits.MaxPages != Tiers[TierFree].MaxPages {
		t.Errorf("expected free tier limits for unknown tier, got MaxPages=%d", limits.MaxPages)
	}
	if limits.DailyAuditLimit != 1 {
		t.Errorf("expected DailyAuditLimit=1, got %d", limits.DailyAuditLimit)
	}
}

func TestNormalizeTierName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"free", TierFree},
		{"pro", TierPaid},
		{"paid", TierPaid},
		{"enterprise", TierEnterprise},
		{"plan_v1_pro", TierPaid},
		{"plan_v1_enterprise", TierEnterprise},
		{"", TierFree},
		{"unknown_plan", TierFree},
	}

	for _, tt := range tests {
		if got := NormalizeTierName(tt.input); got != tt.expected {
			t.Errorf("NormalizeTierName(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestTierEnvelopes(t *testing.T) {
	free := GetTierLimits(TierFree)
	if free.MaxPages != 5 || free.MaxToolCalls != 8 || free.QueuedPollLimit != 30 {
		t.Errorf("free tier envelope wrong: %+v", free)
	}
	if free.MaxDomains != 1 || free.VisibleIssueLimit != 5 {
		t.Errorf("free tier caps wrong: %+v", free)
	}

	paid := GetTierLimits(TierPaid)
	if paid.MaxPages != 18 || paid.MaxToolCalls != 30 || paid.QueuedPollLimit != 60 {
		t.Errorf("paid tier envelope wrong: %+v", paid)
	}
	if paid.VisibleIssueLimit != 0 {
		t.Errorf("paid tier should have unlimited visible issues, got %d", paid.VisibleIssueLimit)
	}

	ent := GetTierLimits(TierEnterprise)
	if ent.MaxPages != 50 || ent.MaxToolCalls != 60 || ent.QueuedPollLimit != 120 {
		t.Errorf("enterprise tier envelope wrong: %+v", ent)
	}
	if ent.MaxDomains != 0 {
		t.Errorf("enterprise should have unlimited domains, got %d", ent.MaxDomains)
	}
}

func TestGetVisibleTiers(t *testing.T) {
	visible := GetVisibleTiers()
	if _, ok := visible[TierFree]; !ok {
		t.Error("free tier should be visible")
	}
	if _, ok := visible[TierPaid]; !ok {
		t.Error("paid tier should be visible")
	}
	if _, ok := visible[TierEnterprise]; ok {
		t.Error("enterprise tier should not be visible")
	}
}
