package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/solaius/model-harvester/pkg/entity"
)

func TestFilter(t *testing.T) {
	in := []*entity.Entity{
		{ID: "a", ComplianceStatus: entity.ComplianceApproved},
		{ID: "b", ComplianceStatus: entity.ComplianceBlocked},
		{ID: "c", ComplianceStatus: entity.ComplianceFlagged},
		{ID: "d"},
	}
	res := Filter(in)
	assert.Equal(t, 1, res.Blocked)
	assert.Len(t, res.Kept, 3)
	for _, e := range res.Kept {
		assert.NotEqual(t, "b", e.ID)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		e    entity.Entity
		want entity.ComplianceStatus
	}{
		{"clean", DefaultConfig(), entity.Entity{}, entity.ComplianceApproved},
		{"nsfw meta", DefaultConfig(), entity.Entity{Meta: entity.Meta{NSFW: true}}, entity.ComplianceBlocked},
		{"nsfw tag", DefaultConfig(), entity.Entity{Tags: []string{"Not-For-All-Audiences"}}, entity.ComplianceBlocked},
		{"nsfw allowed", Config{}, entity.Entity{Tags: []string{"nsfw"}}, entity.ComplianceApproved},
		{"blocked tag", Config{BlockedTags: []string{"malware"}}, entity.Entity{Tags: []string{"malware"}}, entity.ComplianceBlocked},
		{"flagged license", Config{FlaggedLicenses: []string{"unknown"}}, entity.Entity{License: "Unknown"}, entity.ComplianceFlagged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewClassifier(tt.cfg).Classify(&tt.e))
		})
	}
}

func TestApplyKeepsAdapterVerdictUnlessBlocked(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	e := &entity.Entity{ComplianceStatus: entity.ComplianceFlagged}
	c.Apply(e)
	assert.Equal(t, entity.ComplianceFlagged, e.ComplianceStatus)

	e = &entity.Entity{ComplianceStatus: entity.ComplianceFlagged, Tags: []string{"nsfw"}}
	c.Apply(e)
	assert.Equal(t, entity.ComplianceBlocked, e.ComplianceStatus)

	e = &entity.Entity{}
	c.Apply(e)
	assert.Equal(t, entity.ComplianceApproved, e.ComplianceStatus)
}
