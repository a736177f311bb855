package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/qmsuite/change-control/internal/server"
	"github.com/qmsuite/change-control/migrations"
	"github.com/qmsuite/change-control/modules/changecontrol/infrastructure/persistence"
	"github.com/qmsuite/change-control/modules/changecontrol/presentation/controllers"
	"github.com/qmsuite/change-control/modules/changecontrol/services"
	"github.com/qmsuite/change-control/pkg/configuration"
	"github.com/qmsuite/change-control/pkg/eventbus"
)

func main() {
	conf := configuration.Use()
	logger := conf.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.MigrationsEnabled {
		if err := runMigrations(conf); err != nil {
			logger.WithError(err).Fatal("failed to run migrations")
		}
	}

	pool, err := pgxpool.New(ctx, conf.Database.ConnectionString())
	if err != nil {
		logger.WithError(err).Fatal("failed to create database pool")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.WithError(err).Fatal("failed to reach database")
	}

	publisher := eventbus.NewEventPublisher(logger)
	publisher.Subscribe(func(e *services.TransitionedEvent) {
		logger.WithFields(logrus.Fields{
			"request_id": e.RequestID,
			"operation":  e.Operation,
			"from":       e.PreviousStatus,
			"to":         e.NewStatus,
			"actor_id":   e.ActorID,
		}).Info("workflow transition")
	})

	requests := persistence.NewRequestRepository()
	departments := persistence.NewDepartmentRepository()
	users := persistence.NewUserRepository()
	cftRepo := persistence.NewCFTRepository()
	risks := persistence.NewRiskAssessmentRepository()
	revisions := persistence.NewDocumentRevisionRepository()
	actions := persistence.NewActionPlanRepository()
	historyRepo := persistence.NewHistoryRepository()
	assignments := persistence.NewRBACRepository()

	oracle := services.NewPermissionOracle(departments, requests, assignments, cftRepo, risks, actions)
	workflow := services.NewWorkflowService(services.WorkflowServiceDeps{
		Requests:    requests,
		Departments: departments,
		Users:       users,
		CFT:         cftRepo,
		Risks:       risks,
		Revisions:   revisions,
		Actions:     actions,
		History:     historyRepo,
		Assignments: assignments,
		Publisher:   publisher,
	})
	queries := services.NewQueryService(requests, cftRepo, risks, revisions, actions, historyRepo, oracle)
	departmentService := services.NewDepartmentService(departments, users)
	userService := services.NewUserService(users, assignments)

	srv := server.New(server.Options{
		Config: conf,
		Pool:   pool,
		Logger: logger,
		Controllers: []server.Controller{
			controllers.NewChangeControlAPIController(workflow, queries, oracle),
			controllers.NewDirectoryAPIController(departmentService, userService, oracle),
		},
	})

	go func() {
		logger.WithField("addr", srv.Addr).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}

func runMigrations(conf *configuration.Configuration) error {
	db, err := sql.Open("pgx", conf.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}
