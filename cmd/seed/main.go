// Command seed loads a minimal working directory into an empty database:
// a QA department with head and QA roles, an engineering department, and a
// couple of plain members. Safe to run more than once; existing users and
// departments are kept. Intended for local development.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/rbac"
	"github.com/qmsuite/change-control/modules/changecontrol/infrastructure/persistence"
	"github.com/qmsuite/change-control/modules/changecontrol/services"
	"github.com/qmsuite/change-control/pkg/composables"
	"github.com/qmsuite/change-control/pkg/configuration"
)

func main() {
	conf := configuration.Use()
	logger := conf.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	pool, err := pgxpool.New(ctx, conf.Database.ConnectionString())
	if err != nil {
		logger.WithError(err).Fatal("failed to create database pool")
	}
	defer pool.Close()

	ctx = composables.WithPool(ctx, pool)

	users := services.NewUserService(persistence.NewUserRepository(), persistence.NewRBACRepository())
	departments := services.NewDepartmentService(persistence.NewDepartmentRepository(), persistence.NewUserRepository())

	type seedUser struct {
		email string
		name  string
		role  rbac.Role
	}
	seedUsers := []seedUser{
		{"qa.head@example.com", "QA Head", rbac.RoleQAHead},
		{"qa.officer@example.com", "QA Officer", rbac.RoleQA},
		{"eng.head@example.com", "Engineering Head", rbac.RoleMember},
		{"eng.member@example.com", "Engineering Member", rbac.RoleMember},
	}

	existing, err := users.GetAll(ctx)
	if err != nil {
		logger.WithError(err).Fatal("failed to list users")
	}
	byEmail := make(map[string]uuid.UUID, len(existing))
	for _, u := range existing {
		byEmail[u.Email] = u.ID
	}

	ids := make(map[string]uuid.UUID, len(seedUsers))
	for _, su := range seedUsers {
		id, ok := byEmail[su.email]
		if !ok {
			u, err := users.Create(ctx, services.CreateUserParams{Email: su.email, FullName: su.name})
			if err != nil {
				logger.WithError(err).WithField("email", su.email).Fatal("failed to create user")
			}
			id = u.ID
		}
		ids[su.email] = id
		if _, err := users.Grant(ctx, id, su.role, nil); err != nil {
			logger.WithError(err).WithField("email", su.email).Fatal("failed to grant role")
		}
	}
	// QA head also acts as a QA user.
	if _, err := users.Grant(ctx, ids["qa.head@example.com"], rbac.RoleQA, nil); err != nil {
		logger.WithError(err).Fatal("failed to grant qa role")
	}

	qaHeadID := ids["qa.head@example.com"]
	engHeadID := ids["eng.head@example.com"]
	for _, d := range []services.DepartmentParams{
		{Code: "QA", Name: "Quality Assurance", HeadID: &qaHeadID},
		{Code: "ENG", Name: "Engineering", HeadID: &engHeadID},
	} {
		if _, err := departments.GetByCode(ctx, d.Code); err == nil {
			continue
		}
		if _, err := departments.Create(ctx, d); err != nil {
			logger.WithError(err).WithField("code", d.Code).Fatal("failed to create department")
		}
	}

	logger.Info("seed completed")
}
