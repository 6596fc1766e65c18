package rules

import (
	"context"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

// RepositoryStore adapts the persistence layer to the RuleStore
// collaborator interface.
type RepositoryStore struct {
	repo domain.Repository
}

// NewRepositoryStore creates a rule store backed by the repository.
func NewRepositoryStore(repo domain.Repository) *RepositoryStore {
	return &RepositoryStore{repo: repo}
}

// ActiveSnapshot returns every enabled rule.
func (s *RepositoryStore) ActiveSnapshot(ctx context.Context) ([]*domain.Rule, error) {
	all, err := s.repo.ListRules(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*domain.Rule, 0, len(all))
	for _, rule := range all {
		if rule.Enabled {
			active = append(active, rule)
		}
	}
	return active, nil
}
