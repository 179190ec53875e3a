package export

import (
	"context"
	"fmt"

	"qualidoc/api/internal/lifecycle"
	"qualidoc/api/internal/store"
)

// RegisterStore defines the data access the register report needs.
type RegisterStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	ListDocuments(ctx context.Context, userID string) ([]store.Document, error)
	ListItems(ctx context.Context, documentID string, includeObsolete bool) ([]store.DocumentItem, error)
}

// Service builds and renders the document register.
type Service struct {
	store RegisterStore
	clock lifecycle.Clock
}

// NewService creates a new export service
func NewService(st RegisterStore, clock lifecycle.Clock) *Service {
	if clock == nil {
		clock = lifecycle.SystemClock{}
	}
	return &Service{store: st, clock: clock}
}

// BuildRegister assembles the register for a user. Statuses are recomputed
// from expiration dates at call time, never read from the cached column.
func (s *Service) BuildRegister(ctx context.Context, userID string) (Register, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Register{}, fmt.Errorf("get user: %w", err)
	}

	docs, err := s.store.ListDocuments(ctx, userID)
	if err != nil {
		return Register{}, fmt.Errorf("list documents: %w", err)
	}

	today := s.clock.Today()
	reg := Register{
		OwnerName:   user.DisplayName,
		GeneratedAt: today,
	}

	for _, doc := range docs {
		items, err := s.store.ListItems(ctx, doc.ID, false)
		if err != nil {
			return Register{}, fmt.Errorf("list items for %s: %w", doc.ID, err)
		}

		rd := RegisterDocument{
			PointNumber: doc.PointNumber,
			Title:       doc.Title,
			Revision:    doc.Revision,
		}

		statuses := make([]lifecycle.Status, 0, len(items))
		for _, item := range items {
			status := lifecycle.Compute(item.ExpirationDate, item.NotificationValue, lifecycle.ParseUnit(item.NotificationUnit), today)
			statuses = append(statuses, status)
			rd.Items = append(rd.Items, RegisterItem{
				Title:          item.Title,
				Revision:       item.Revision,
				ExpirationDate: item.ExpirationDate,
				Status:         string(status),
			})
		}
		rd.Status = string(lifecycle.Aggregate(statuses))

		reg.Documents = append(reg.Documents, rd)
	}

	return reg, nil
}

// ExportRegister renders a user's register as a PDF.
func (s *Service) ExportRegister(ctx context.Context, userID string) (*Result, error) {
	reg, err := s.BuildRegister(ctx, userID)
	if err != nil {
		return nil, err
	}

	html, err := RenderRegisterHTML(reg)
	if err != nil {
		return nil, fmt.Errorf("render register: %w", err)
	}

	title := "document-register"
	if reg.OwnerName != "" {
		title = "document-register " + reg.OwnerName
	}
	return renderPDF(html, title)
}
