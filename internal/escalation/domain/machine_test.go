package domain

import (
	"testing"
	"time"

	directorydomain "github.com/glacestorm/crmalerts/internal/directory/domain"
	notificationdomain "github.com/glacestorm/crmalerts/internal/notification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func policy() Definition {
	return Definition{ID: "alert-1", EscalationEnabled: true, EscalationHours: 4, MaxEscalationLevel: 3}
}

func TestCanEscalate(t *testing.T) {
	resolved := now.Add(-time.Hour)
	recent := now.Add(-2 * time.Hour)

	cases := []struct {
		name string
		in   Instance
		def  func(Definition) Definition
		want bool
	}{
		{
			name: "open and idle long enough",
			in:   Instance{TriggeredAt: now.Add(-5 * time.Hour)},
			want: true,
		},
		{
			name: "exactly at threshold",
			in:   Instance{TriggeredAt: now.Add(-4 * time.Hour)},
			want: true,
		},
		{
			name: "too recent",
			in:   Instance{TriggeredAt: now.Add(-3 * time.Hour)},
		},
		{
			name: "resolved",
			in:   Instance{TriggeredAt: now.Add(-10 * time.Hour), ResolvedAt: &resolved},
		},
		{
			name: "disabled",
			in:   Instance{TriggeredAt: now.Add(-10 * time.Hour)},
			def:  func(d Definition) Definition { d.EscalationEnabled = false; return d },
		},
		{
			name: "at max level",
			in:   Instance{TriggeredAt: now.Add(-10 * time.Hour), EscalationLevel: 3},
		},
		{
			name: "measured from last escalation",
			in:   Instance{TriggeredAt: now.Add(-10 * time.Hour), EscalationLevel: 1, EscalatedAt: &recent},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := policy()
			if tc.def != nil {
				def = tc.def(def)
			}
			assert.Equal(t, tc.want, CanEscalate(tc.in, def, now))
		})
	}
}

func TestEscalateNeverExceedsMax(t *testing.T) {
	m := Machine{Enabled: true, MaxLevel: 2, EscalationHours: 0}
	s := State{}
	for i := 0; i < 5; i++ {
		next, err := m.Escalate(s, time.Hour)
		if s.Level >= m.MaxLevel {
			require.ErrorIs(t, err, ErrNotEscalatable)
			assert.Equal(t, s, next)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, s.Level+1, next.Level)
		s = next
	}
	assert.Equal(t, 2, s.Level)
}

func TestResolvedIsTerminal(t *testing.T) {
	m := Machine{Enabled: true, MaxLevel: 3}
	_, err := m.Escalate(State{Level: 1, Resolved: true}, 100*time.Hour)
	assert.ErrorIs(t, err, ErrNotEscalatable)
}

func TestRolesForLevelAreCumulative(t *testing.T) {
	assert.Empty(t, RolesForLevel(0))
	assert.Equal(t, []directorydomain.Role{directorydomain.RoleOfficeDirector}, RolesForLevel(1))
	assert.Equal(t, []directorydomain.Role{
		directorydomain.RoleOfficeDirector,
		directorydomain.RoleCommercialManager,
	}, RolesForLevel(2))
	assert.Equal(t, []directorydomain.Role{
		directorydomain.RoleOfficeDirector,
		directorydomain.RoleCommercialManager,
		directorydomain.RoleCommercialDirector,
		directorydomain.RoleSuperadmin,
	}, RolesForLevel(5))
}

func TestSeverityForLevel(t *testing.T) {
	assert.Equal(t, notificationdomain.SeverityMedium, SeverityForLevel(1))
	assert.Equal(t, notificationdomain.SeverityHigh, SeverityForLevel(2))
	assert.Equal(t, notificationdomain.SeverityCritical, SeverityForLevel(3))
	assert.Equal(t, notificationdomain.SeverityCritical, SeverityForLevel(4))
}

func TestRecipientSetOnlyGrows(t *testing.T) {
	notified := []string{"a", "b"}
	added := NewRecipients(notified, []string{"b", "c", "", "c", "a", "d"})
	assert.Equal(t, []string{"c", "d"}, added)

	union := Union(notified, added)
	assert.Equal(t, []string{"a", "b", "c", "d"}, union)
	assert.Equal(t, []string{"a", "b"}, notified)

	assert.Empty(t, NewRecipients(union, []string{"a", "d"}))
}
