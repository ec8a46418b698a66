package domain

import (
	"time"

	directorydomain "github.com/glacestorm/crmalerts/internal/directory/domain"
	notificationdomain "github.com/glacestorm/crmalerts/internal/notification/domain"
)

// State is a node of the escalation machine: a level in [0, MaxLevel] that is
// either open or resolved. Resolved states are terminal.
type State struct {
	Level    int
	Resolved bool
}

// Machine holds the escalation policy of one alert definition.
type Machine struct {
	Enabled         bool
	MaxLevel        int
	EscalationHours int
}

func MachineFor(def Definition) Machine {
	return Machine{
		Enabled:         def.EscalationEnabled,
		MaxLevel:        def.MaxEscalationLevel,
		EscalationHours: def.EscalationHours,
	}
}

// CanEscalate is the only guard of the machine. idle is the time spent at the
// current level.
func (m Machine) CanEscalate(s State, idle time.Duration) bool {
	if s.Resolved || !m.Enabled {
		return false
	}
	if s.Level >= m.MaxLevel {
		return false
	}
	return idle >= time.Duration(m.EscalationHours)*time.Hour
}

// Escalate advances one level.
func (m Machine) Escalate(s State, idle time.Duration) (State, error) {
	if !m.CanEscalate(s, idle) {
		return s, ErrNotEscalatable
	}
	return State{Level: s.Level + 1}, nil
}

func (in Instance) State() State {
	return State{Level: in.EscalationLevel, Resolved: in.ResolvedAt != nil}
}

// Idle measures from the last escalation, or from the trigger when the
// instance never escalated.
func (in Instance) Idle(now time.Time) time.Duration {
	since := in.TriggeredAt
	if in.EscalatedAt != nil {
		since = *in.EscalatedAt
	}
	return now.Sub(since)
}

func CanEscalate(in Instance, def Definition, now time.Time) bool {
	return MachineFor(def).CanEscalate(in.State(), in.Idle(now))
}

// RolesForLevel lists the roles qualifying at level. Levels are cumulative.
// Office directors are further narrowed to the instance's office.
func RolesForLevel(level int) []directorydomain.Role {
	var roles []directorydomain.Role
	if level >= 1 {
		roles = append(roles, directorydomain.RoleOfficeDirector)
	}
	if level >= 2 {
		roles = append(roles, directorydomain.RoleCommercialManager)
	}
	if level >= 3 {
		roles = append(roles, directorydomain.RoleCommercialDirector, directorydomain.RoleSuperadmin)
	}
	return roles
}

func SeverityForLevel(level int) notificationdomain.Severity {
	switch {
	case level >= 3:
		return notificationdomain.SeverityCritical
	case level >= 2:
		return notificationdomain.SeverityHigh
	default:
		return notificationdomain.SeverityMedium
	}
}

// NewRecipients returns candidates not yet notified, in candidate order and
// without duplicates.
func NewRecipients(notified, candidates []string) []string {
	seen := make(map[string]struct{}, len(notified)+len(candidates))
	for _, id := range notified {
		seen[id] = struct{}{}
	}
	out := []string{}
	for _, id := range candidates {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Union appends added to notified. The previous set is kept as is.
func Union(notified, added []string) []string {
	out := make([]string, 0, len(notified)+len(added))
	out = append(out, notified...)
	return append(out, NewRecipients(notified, added)...)
}
