package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/iota-uz/iota-attest/internal/bootstrap"
	"github.com/iota-uz/iota-attest/modules/attestation/infrastructure/persistence"
	"github.com/iota-uz/iota-attest/pkg/composables"
)

// directoryFile is the YAML layout accepted by "directory import":
//
//	sectors:
//	  - code: HQ
//	    name: Headquarters
//	    heads: [<person id>]
//	  - code: OPS
//	    name: Operations
//	    parent: HQ
//	    heads: [<head id>, <deputy id>]
//	people:
//	  - id: <uuid>
//	    name: Head
//	    role: head
//	    sector: OPS
//	    flexible_schedule: false
type directoryFile struct {
	Sectors []directorySector `yaml:"sectors"`
	People  []directoryPerson `yaml:"people"`
}

type directorySector struct {
	Code   string   `yaml:"code"`
	Name   string   `yaml:"name"`
	Parent string   `yaml:"parent"`
	Heads  []string `yaml:"heads"`
}

type directoryPerson struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	Email            string `yaml:"email"`
	Role             string `yaml:"role"`
	Sector           string `yaml:"sector"`
	FlexibleSchedule bool   `yaml:"flexible_schedule"`
}

type sectorHead struct {
	sector   string
	personID uuid.UUID
	position int
}

// directoryPlan holds the rows of a validated file in foreign-key order.
type directoryPlan struct {
	sectors []persistence.Sector
	people  []persistence.Person
	heads   []sectorHead
}

type directoryWriter interface {
	UpsertSector(ctx context.Context, s persistence.Sector) error
	UpsertPerson(ctx context.Context, p persistence.Person) error
	SetSectorHead(ctx context.Context, sectorCode string, personID uuid.UUID, position int) error
}

type directoryImportOutput struct {
	Command    string `json:"command"`
	TenantID   string `json:"tenant_id"`
	DurationMS int64  `json:"duration_ms"`
	Sectors    int    `json:"sectors"`
	People     int    `json:"people"`
	Heads      int    `json:"heads"`
}

func parseDirectoryFile(data []byte) (*directoryPlan, error) {
	var file directoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse directory: %w", err)
	}

	byCode := make(map[string]directorySector, len(file.Sectors))
	for i, s := range file.Sectors {
		s.Code = strings.TrimSpace(s.Code)
		s.Parent = strings.TrimSpace(s.Parent)
		if s.Code == "" || strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("sector %d: code and name are required", i)
		}
		if _, dup := byCode[s.Code]; dup {
			return nil, fmt.Errorf("sector %s: listed twice", s.Code)
		}
		if s.Parent == s.Code {
			return nil, fmt.Errorf("sector %s: is its own parent", s.Code)
		}
		byCode[s.Code] = s
	}

	plan := &directoryPlan{}
	state := make(map[string]int, len(byCode))
	var visit func(code string) error
	visit = func(code string) error {
		switch state[code] {
		case 1:
			return fmt.Errorf("sector %s: parent cycle", code)
		case 2:
			return nil
		}
		state[code] = 1
		s := byCode[code]
		var parent *string
		if s.Parent != "" {
			if _, ok := byCode[s.Parent]; !ok {
				return fmt.Errorf("sector %s: unknown parent %s", code, s.Parent)
			}
			if err := visit(s.Parent); err != nil {
				return err
			}
			p := s.Parent
			parent = &p
		}
		state[code] = 2
		plan.sectors = append(plan.sectors, persistence.Sector{Code: code, Name: strings.TrimSpace(s.Name), ParentCode: parent})
		return nil
	}
	for _, s := range file.Sectors {
		if err := visit(strings.TrimSpace(s.Code)); err != nil {
			return nil, err
		}
	}

	people := make(map[uuid.UUID]struct{}, len(file.People))
	for i, p := range file.People {
		id, err := uuid.Parse(strings.TrimSpace(p.ID))
		if err != nil {
			return nil, fmt.Errorf("person %d: invalid id: %w", i, err)
		}
		if _, dup := people[id]; dup {
			return nil, fmt.Errorf("person %s: listed twice", id)
		}
		sector := strings.TrimSpace(p.Sector)
		if _, ok := byCode[sector]; !ok {
			return nil, fmt.Errorf("person %s: unknown sector %q", id, p.Sector)
		}
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("person %s: name is required", id)
		}
		people[id] = struct{}{}
		plan.people = append(plan.people, persistence.Person{
			ID:               id,
			Name:             strings.TrimSpace(p.Name),
			Email:            strings.TrimSpace(p.Email),
			Role:             strings.TrimSpace(p.Role),
			SectorCode:       sector,
			FlexibleSchedule: p.FlexibleSchedule,
		})
	}

	for _, s := range plan.sectors {
		for pos, raw := range byCode[s.Code].Heads {
			id, err := uuid.Parse(strings.TrimSpace(raw))
			if err != nil {
				return nil, fmt.Errorf("sector %s: invalid head id: %w", s.Code, err)
			}
			if _, ok := people[id]; !ok {
				return nil, fmt.Errorf("sector %s: head %s is not listed in people", s.Code, id)
			}
			plan.heads = append(plan.heads, sectorHead{sector: s.Code, personID: id, position: pos})
		}
	}
	return plan, nil
}

func (p *directoryPlan) apply(ctx context.Context, w directoryWriter) error {
	for _, s := range p.sectors {
		if err := w.UpsertSector(ctx, s); err != nil {
			return fmt.Errorf("sector %s: %w", s.Code, err)
		}
	}
	for _, person := range p.people {
		if err := w.UpsertPerson(ctx, person); err != nil {
			return fmt.Errorf("person %s: %w", person.ID, err)
		}
	}
	for _, h := range p.heads {
		if err := w.SetSectorHead(ctx, h.sector, h.personID, h.position); err != nil {
			return fmt.Errorf("sector %s head %s: %w", h.sector, h.personID, err)
		}
	}
	return nil
}

func newDirectoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Manage the sector directory used to resolve superiors",
	}
	cmd.AddCommand(newDirectoryImportCmd())
	return cmd
}

func newDirectoryImportCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Upsert sectors, people and sector heads from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tid, err := parseUUIDFlag("tenant", tenantID)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("read %s: %w", args[0], err))
			}
			plan, err := parseDirectoryFile(data)
			if err != nil {
				return withCode(exitUsage, err)
			}
			return withRuntime(cmd, func(ctx context.Context, rt *bootstrap.Runtime) error {
				start := time.Now()
				dir := persistence.NewDirectoryRepository()
				err := composables.InTenantTx(composables.WithTenantID(ctx, tid), func(txCtx context.Context) error {
					return plan.apply(txCtx, dir)
				})
				if err != nil {
					return withCode(exitDB, err)
				}
				return writeJSON(cmd.OutOrStdout(), directoryImportOutput{
					Command:    "directory import",
					TenantID:   tid.String(),
					DurationMS: time.Since(start).Milliseconds(),
					Sectors:    len(plan.sectors),
					People:     len(plan.people),
					Heads:      len(plan.heads),
				})
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant UUID (required)")
	return cmd
}
