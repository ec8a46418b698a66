package repository

import (
	"context"
	"time"

	"github.com/glacestorm/crmalerts/internal/escalation/domain"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

type candidateRow struct {
	ID                   string
	AlertID              string
	TriggeredAt          time.Time
	EscalationLevel      int
	EscalatedAt          *time.Time
	EscalationNotifiedTo pq.StringArray
	TargetType           string
	TargetOffice         string
	TargetGestorID       string
	AlertName            string
	EscalationEnabled    bool
	EscalationHours      int
	MaxEscalationLevel   int
}

func (r *repo) ListOpenCandidates(ctx context.Context, db *gorm.DB) ([]domain.Candidate, error) {
	var rows []candidateRow
	err := db.WithContext(ctx).Raw(
		`SELECT h.id, h.alert_id, h.triggered_at, h.escalation_level, h.escalated_at,
			h.escalation_notified_to,
			COALESCE(h.target_type, '') AS target_type,
			COALESCE(h.target_office, '') AS target_office,
			COALESCE(h.target_gestor_id, '') AS target_gestor_id,
			a.name AS alert_name, a.escalation_enabled, a.escalation_hours, a.max_escalation_level
		 FROM alert_history h
		 JOIN alerts a ON a.id = h.alert_id
		 WHERE h.resolved_at IS NULL
		   AND a.escalation_enabled = ?
		   AND h.escalation_level < a.max_escalation_level
		 ORDER BY h.triggered_at, h.id`,
		true,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.Candidate, 0, len(rows))
	for _, row := range rows {
		notified := []string(row.EscalationNotifiedTo)
		if notified == nil {
			notified = []string{}
		}
		out = append(out, domain.Candidate{
			Instance: domain.Instance{
				ID:              row.ID,
				AlertID:         row.AlertID,
				TriggeredAt:     row.TriggeredAt.UTC(),
				EscalationLevel: row.EscalationLevel,
				EscalatedAt:     utc(row.EscalatedAt),
				NotifiedTo:      notified,
				TargetType:      domain.TargetType(row.TargetType),
				TargetOffice:    row.TargetOffice,
				TargetGestorID:  row.TargetGestorID,
			},
			Definition: domain.Definition{
				ID:                 row.AlertID,
				Name:               row.AlertName,
				EscalationEnabled:  row.EscalationEnabled,
				EscalationHours:    row.EscalationHours,
				MaxEscalationLevel: row.MaxEscalationLevel,
			},
		})
	}
	return out, nil
}

func (r *repo) ApplyTransition(ctx context.Context, db *gorm.DB, t domain.Transition) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE alert_history
		 SET escalation_level = ?, escalated_at = ?, escalation_notified_to = ?
		 WHERE id = ? AND escalation_level = ? AND resolved_at IS NULL`,
		t.ToLevel,
		t.EscalatedAt.UTC(),
		pq.StringArray(t.NotifiedTo),
		t.InstanceID,
		t.FromLevel,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
