package tenant

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
)

const DefaultName = "Default Organization"

type Repository interface {
	FindTenantByCode(ctx context.Context, code string) (domain.TenantRecord, error)
	FindOldestTenant(ctx context.Context) (domain.TenantRecord, error)
	CreateTenant(ctx context.Context, code, name string) (domain.TenantRecord, error)
}

type Resolver struct {
	repo   Repository
	logger logrus.FieldLogger
	name   string
}

func NewResolver(repo Repository, logger logrus.FieldLogger, name string) *Resolver {
	if logger == nil {
		logger = discard()
	}
	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}
	return &Resolver{repo: repo, logger: logger, name: name}
}

// ResolveDefault finds the tenant with the given code, falls back to the
// oldest existing tenant, and only creates one when the store has none.
func (r *Resolver) ResolveDefault(ctx context.Context, code string) (domain.TenantRecord, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.TenantRecord{}, domain.NewConfigurationError("default organization code must not be empty")
	}

	found, err := r.repo.FindTenantByCode(ctx, code)
	if err == nil {
		return found, nil
	}
	if !errors.Is(err, domain.ErrTenantNotFound) {
		return domain.TenantRecord{}, &domain.ExecutionError{Direction: "resolve default tenant", Err: err}
	}

	oldest, err := r.repo.FindOldestTenant(ctx)
	if err == nil {
		r.logger.WithFields(logrus.Fields{
			"requested_code": code,
			"tenant_id":      oldest.ID,
			"tenant_code":    oldest.Code,
		}).Warnf("[populate-org] Organization with code %q not found; using existing organization %d (%s) as default.", code, oldest.ID, oldest.Code)
		return oldest, nil
	}
	if !errors.Is(err, domain.ErrTenantNotFound) {
		return domain.TenantRecord{}, &domain.ExecutionError{Direction: "resolve default tenant", Err: err}
	}

	created, err := r.repo.CreateTenant(ctx, code, r.name)
	if err != nil {
		return domain.TenantRecord{}, &domain.ExecutionError{Direction: "create default tenant", Err: err}
	}
	created.CreatedByResolver = true
	r.logger.WithField("tenant_id", created.ID).Infof("[populate-org] Created default organization %q with id %d.", code, created.ID)
	return created, nil
}

func discard() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}
