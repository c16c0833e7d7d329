package repository

import (
	"context"
	"fmt"

	"case-mail-router/internal/model"
)

func (r *Repository) CreateClient(ctx context.Context, c *model.Client) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

func (r *Repository) GetClient(ctx context.Context, id string) (*model.Client, error) {
	var c model.Client
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ListClients implements the classifier directory
func (r *Repository) ListClients(ctx context.Context) ([]model.Client, error) {
	var clients []model.Client
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&clients).Error; err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return clients, nil
}

func (r *Repository) CreateCase(ctx context.Context, c *model.Case) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

func (r *Repository) GetCase(ctx context.Context, id string) (*model.Case, error) {
	var c model.Case
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// UpdateCase saves every field of an existing case
func (r *Repository) UpdateCase(ctx context.Context, c *model.Case) error {
	if err := r.db.WithContext(ctx).Save(c).Error; err != nil {
		return fmt.Errorf("failed to update case %s: %w", c.ID, err)
	}
	return nil
}

// ListCases implements the classifier directory
func (r *Repository) ListCases(ctx context.Context) ([]model.Case, error) {
	var cases []model.Case
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&cases).Error; err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	return cases, nil
}
