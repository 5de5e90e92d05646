package earlydetection

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grahmeen/health/internal/platform/apperr"
	"github.com/grahmeen/health/internal/platform/db"
	"github.com/grahmeen/health/internal/triage"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ db queryable }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{db: pool}
}

const assessmentCols = `id, user_id, symptoms, severity, age, gender,
	medical_history, family_history, lifestyle, strategy, status, risk_level,
	potential_conditions, recommendations, insight, created_at, updated_at`

func scanAssessment(row pgx.Row) (*AssessmentRecord, error) {
	var rec AssessmentRecord
	var symptoms, conditions, recs, insight []byte
	var risk string
	err := row.Scan(&rec.ID, &rec.UserID, &symptoms, &rec.Severity, &rec.Age, &rec.Gender,
		&rec.MedicalHistory, &rec.FamilyHistory, &rec.Lifestyle, &rec.Strategy, &rec.Status, &risk,
		&conditions, &recs, &insight, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, db.Classify(err, "assessment")
	}
	rec.RiskLevel = triage.RiskLevel(risk)

	if err := json.Unmarshal(symptoms, &rec.Symptoms); err != nil {
		return nil, fmt.Errorf("decode symptoms: %w", err)
	}
	if err := json.Unmarshal(conditions, &rec.PotentialConditions); err != nil {
		return nil, fmt.Errorf("decode potential conditions: %w", err)
	}
	if err := json.Unmarshal(recs, &rec.Recommendations); err != nil {
		return nil, fmt.Errorf("decode recommendations: %w", err)
	}
	if len(insight) > 0 {
		rec.Insight = &triage.Insight{}
		if err := json.Unmarshal(insight, rec.Insight); err != nil {
			return nil, fmt.Errorf("decode insight: %w", err)
		}
	}
	return &rec, nil
}

// jsonList marshals a slice, writing [] for nil.
func jsonList[T any](v []T) ([]byte, error) {
	if v == nil {
		v = []T{}
	}
	return json.Marshal(v)
}

func (r *repoPG) Create(ctx context.Context, rec *AssessmentRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	symptoms, err := jsonList(rec.Symptoms)
	if err != nil {
		return fmt.Errorf("encode symptoms: %w", err)
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO assessments (id, user_id, symptoms, severity, age, gender,
			medical_history, family_history, lifestyle, strategy, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		rec.ID, rec.UserID, symptoms, rec.Severity, rec.Age, rec.Gender,
		rec.MedicalHistory, rec.FamilyHistory, rec.Lifestyle, rec.Strategy, rec.Status,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	return db.Classify(err, "assessment")
}

func (r *repoPG) GetByID(ctx context.Context, userID string, id uuid.UUID) (*AssessmentRecord, error) {
	return scanAssessment(r.db.QueryRow(ctx,
		`SELECT `+assessmentCols+` FROM assessments WHERE id = $1 AND user_id = $2`, id, userID))
}

func (r *repoPG) Complete(ctx context.Context, rec *AssessmentRecord) error {
	conditions, err := jsonList(rec.PotentialConditions)
	if err != nil {
		return fmt.Errorf("encode potential conditions: %w", err)
	}
	recs, err := jsonList(rec.Recommendations)
	if err != nil {
		return fmt.Errorf("encode recommendations: %w", err)
	}
	var insight []byte
	if rec.Insight != nil {
		if insight, err = json.Marshal(rec.Insight); err != nil {
			return fmt.Errorf("encode insight: %w", err)
		}
	}

	err = r.db.QueryRow(ctx, `
		UPDATE assessments
		SET status = $3, risk_level = $4, potential_conditions = $5,
			recommendations = $6, insight = $7, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = $8
		RETURNING updated_at`,
		rec.ID, rec.UserID, StatusCompleted, string(rec.RiskLevel), conditions,
		recs, insight, StatusPending,
	).Scan(&rec.UpdatedAt)
	if err != nil {
		return db.Classify(err, "pending assessment")
	}
	rec.Status = StatusCompleted
	return nil
}

func (r *repoPG) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM assessments WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return db.Classify(err, "assessment")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assessment %w", apperr.ErrNotFound)
	}
	return nil
}

var orderExprs = map[string]string{
	SortCreatedAt: "created_at",
	SortRiskLevel: "CASE risk_level WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END",
	SortSeverity:  "CASE severity WHEN 'severe' THEN 3 WHEN 'moderate' THEN 2 WHEN 'mild' THEN 1 ELSE 0 END",
}

// buildListQuery returns the WHERE clause, its args and the ORDER BY clause.
func buildListQuery(userID string, q ListQuery) (where string, args []interface{}, order string) {
	where = " WHERE user_id = $1"
	args = []interface{}{userID}
	idx := 2

	if q.RiskLevel != "" {
		where += fmt.Sprintf(" AND risk_level = $%d", idx)
		args = append(args, q.RiskLevel)
		idx++
	}
	if q.Severity != "" {
		where += fmt.Sprintf(" AND severity = $%d", idx)
		args = append(args, q.Severity)
		idx++
	}
	if q.From != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, *q.From)
		idx++
	}
	if q.To != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", idx)
		args = append(args, *q.To)
		idx++
	}
	if q.Search != "" {
		where += fmt.Sprintf(` AND (severity ILIKE $%[1]d OR risk_level ILIKE $%[1]d
			OR EXISTS (SELECT 1 FROM jsonb_array_elements(symptoms) s WHERE s->>'name' ILIKE $%[1]d))`, idx)
		args = append(args, likePattern(q.Search))
	}

	expr, ok := orderExprs[q.SortBy]
	if !ok {
		expr = orderExprs[SortCreatedAt]
	}
	dir := "ASC"
	if q.SortDesc {
		dir = "DESC"
	}
	order = fmt.Sprintf(" ORDER BY %s %s, created_at DESC, id", expr, dir)
	return where, args, order
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

func (r *repoPG) List(ctx context.Context, userID string, q ListQuery) ([]*AssessmentRecord, int, error) {
	where, args, order := buildListQuery(userID, q)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM assessments`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count assessments: %w", err)
	}

	n := len(args)
	query := `SELECT ` + assessmentCols + ` FROM assessments` + where + order +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", n+1, n+2)
	rows, err := r.db.Query(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list assessments: %w", err)
	}
	defer rows.Close()

	items := []*AssessmentRecord{}
	for rows.Next() {
		rec, err := scanAssessment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}
