package persistence

import (
	"context"
	"errors"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/iota-attest/modules/attestation/domain/hierarchy"
	"github.com/iota-uz/iota-attest/pkg/composables"
)

// DirectoryRepository resolves superiors from sector heads: the immediate
// tier is the heads of the worker's sector, the mediate tier the heads of its
// parent sector. The worker is never their own superior.
type DirectoryRepository struct{}

func NewDirectoryRepository() *DirectoryRepository {
	return &DirectoryRepository{}
}

var (
	_ hierarchy.Resolver        = (*DirectoryRepository)(nil)
	_ hierarchy.WorkerDirectory = (*DirectoryRepository)(nil)
)

func (r *DirectoryRepository) FindWorker(ctx context.Context, workerID uuid.UUID) (hierarchy.Worker, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return hierarchy.Worker{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return hierarchy.Worker{}, err
	}

	var w hierarchy.Worker
	err = tx.QueryRow(ctx, `
SELECT id, name, sector_code, email
  FROM attestation_people
 WHERE tenant_id = $1 AND id = $2
`, tenantID, workerID).Scan(&w.ID, &w.Name, &w.Sector, &w.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return hierarchy.Worker{}, hierarchy.ErrWorkerNotFound
		}
		return hierarchy.Worker{}, gerrors.Wrap(err, "select worker")
	}
	return w, nil
}

func (r *DirectoryRepository) ImmediateSuperiors(ctx context.Context, workerID uuid.UUID) ([]hierarchy.SuperiorRef, error) {
	return r.heads(ctx, workerID, `p.sector_code`)
}

func (r *DirectoryRepository) MediateSuperiors(ctx context.Context, workerID uuid.UUID) ([]hierarchy.SuperiorRef, error) {
	return r.heads(ctx, workerID, `(SELECT s.parent_code FROM attestation_sectors s WHERE s.tenant_id = p.tenant_id AND s.code = p.sector_code)`)
}

// heads lists the heads of the sector selected by sectorExpr, evaluated
// against the worker row p. An unknown worker yields no superiors.
func (r *DirectoryRepository) heads(ctx context.Context, workerID uuid.UUID, sectorExpr string) ([]hierarchy.SuperiorRef, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT h.id, h.name, h.role, h.email, h.sector_code, h.flexible_schedule
  FROM attestation_people p
  JOIN attestation_sector_heads sh
    ON sh.tenant_id = p.tenant_id AND sh.sector_code = `+sectorExpr+`
  JOIN attestation_people h
    ON h.tenant_id = sh.tenant_id AND h.id = sh.person_id
 WHERE p.tenant_id = $1 AND p.id = $2 AND h.id <> p.id
 ORDER BY sh.position, h.name, h.id
`, tenantID, workerID)
	if err != nil {
		return nil, gerrors.Wrap(err, "query sector heads")
	}
	defer rows.Close()

	out := make([]hierarchy.SuperiorRef, 0)
	for rows.Next() {
		var s hierarchy.SuperiorRef
		if err := rows.Scan(&s.ID, &s.Name, &s.Role, &s.Email, &s.Sector, &s.FlexibleSchedule); err != nil {
			return nil, gerrors.Wrap(err, "scan sector head")
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.Wrap(err, "iterate sector heads")
	}
	return out, nil
}

// Sector is a node of the sector tree.
type Sector struct {
	Code       string
	Name       string
	ParentCode *string
}

// Person is anyone who can be a worker or a sector head.
type Person struct {
	ID               uuid.UUID
	Name             string
	Email            string
	Role             string
	SectorCode       string
	FlexibleSchedule bool
}

func (r *DirectoryRepository) UpsertSector(ctx context.Context, s Sector) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO attestation_sectors (tenant_id, code, name, parent_code)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, code) DO UPDATE SET name = EXCLUDED.name, parent_code = EXCLUDED.parent_code
`, tenantID, s.Code, s.Name, s.ParentCode)
	if err != nil {
		return gerrors.Wrap(err, "upsert sector")
	}
	return nil
}

func (r *DirectoryRepository) UpsertPerson(ctx context.Context, p Person) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO attestation_people (tenant_id, id, name, email, role, sector_code, flexible_schedule)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (tenant_id, id) DO UPDATE
   SET name = EXCLUDED.name,
       email = EXCLUDED.email,
       role = EXCLUDED.role,
       sector_code = EXCLUDED.sector_code,
       flexible_schedule = EXCLUDED.flexible_schedule
`, tenantID, p.ID, p.Name, p.Email, p.Role, p.SectorCode, p.FlexibleSchedule)
	if err != nil {
		return gerrors.Wrap(err, "upsert person")
	}
	return nil
}

func (r *DirectoryRepository) SetSectorHead(ctx context.Context, sectorCode string, personID uuid.UUID, position int) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO attestation_sector_heads (tenant_id, sector_code, person_id, position)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, sector_code, person_id) DO UPDATE SET position = EXCLUDED.position
`, tenantID, sectorCode, personID, position)
	if err != nil {
		return gerrors.Wrap(err, "set sector head")
	}
	return nil
}
