package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/docrevision"
	"github.com/qmsuite/change-control/pkg/composables"
)

const documentRevisionColumns = `
	id, request_id, document_name, document_code, assigned_department_id,
	status, revision_notes, revision_date, revised_by`

type DocumentRevisionRepository struct{}

func NewDocumentRevisionRepository() docrevision.Repository {
	return &DocumentRevisionRepository{}
}

func scanDocumentRevision(row pgx.Row) (*docrevision.DocumentRevision, error) {
	var dr docrevision.DocumentRevision
	err := row.Scan(
		&dr.ID,
		&dr.RequestID,
		&dr.DocumentName,
		&dr.DocumentCode,
		&dr.AssignedDepartmentID,
		&dr.Status,
		&dr.RevisionNotes,
		&dr.RevisionDate,
		&dr.RevisedByID,
	)
	if err != nil {
		return nil, err
	}
	return &dr, nil
}

// GetOrCreate relies on the (request_id, document_name,
// assigned_department_id) unique constraint; a conflicting insert leaves
// the existing revision and its progress untouched.
func (p *DocumentRevisionRepository) GetOrCreate(ctx context.Context, dr *docrevision.DocumentRevision) (*docrevision.DocumentRevision, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO cc_document_revisions (
			request_id, document_name, document_code, assigned_department_id, status
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id, document_name, assigned_department_id) DO NOTHING`,
		dr.RequestID, dr.DocumentName, dr.DocumentCode, dr.AssignedDepartmentID, string(dr.Status))
	if err != nil {
		return nil, err
	}
	return scanDocumentRevision(tx.QueryRow(ctx, `
		SELECT`+documentRevisionColumns+`
		FROM cc_document_revisions
		WHERE request_id = $1 AND document_name = $2 AND assigned_department_id = $3`,
		dr.RequestID, dr.DocumentName, dr.AssignedDepartmentID))
}

func (p *DocumentRevisionRepository) GetByID(ctx context.Context, id uuid.UUID) (*docrevision.DocumentRevision, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanDocumentRevision(tx.QueryRow(ctx, `
		SELECT`+documentRevisionColumns+`
		FROM cc_document_revisions
		WHERE id = $1`, id))
}

func (p *DocumentRevisionRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*docrevision.DocumentRevision, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT`+documentRevisionColumns+`
		FROM cc_document_revisions
		WHERE request_id = $1
		ORDER BY document_name`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*docrevision.DocumentRevision
	for rows.Next() {
		dr, err := scanDocumentRevision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dr)
	}
	return out, rows.Err()
}

func (p *DocumentRevisionRepository) Update(ctx context.Context, dr *docrevision.DocumentRevision) (*docrevision.DocumentRevision, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanDocumentRevision(tx.QueryRow(ctx, `
		UPDATE cc_document_revisions SET
			status = $2,
			revision_notes = $3,
			revision_date = $4,
			revised_by = $5
		WHERE id = $1
		RETURNING`+documentRevisionColumns,
		dr.ID,
		string(dr.Status),
		dr.RevisionNotes,
		dr.RevisionDate,
		dr.RevisedByID,
	))
}

func (p *DocumentRevisionRepository) CountOpen(ctx context.Context, requestID uuid.UUID) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var count int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM cc_document_revisions
		WHERE request_id = $1 AND status IN ('Pending', 'In_Progress')`,
		requestID).Scan(&count)
	return count, err
}
