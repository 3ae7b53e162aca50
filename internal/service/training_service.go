package service

import (
	"context"
	"fmt"
	"time"

	"naranja/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// --- DTOs ---

type CreateModuleRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	PassScore   string `json:"pass_score"` // percent, e.g. "80"
}

type UpdateModuleRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	PassScore   string `json:"pass_score"`
	BumpVersion bool   `json:"bump_version"`
}

type ModuleResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Version     int    `json:"version"`
	PassScore   string `json:"pass_score"`
	CreatedAt   string `json:"created_at"`
}

type CreateDocumentRequest struct {
	Title     string `json:"title" binding:"required"`
	Reference string `json:"reference" binding:"required"`
	ReviewDue string `json:"review_due"` // RFC3339, optional
}

type UpdateDocumentRequest struct {
	Title       string `json:"title" binding:"required"`
	ReviewDue   string `json:"review_due"`
	BumpVersion bool   `json:"bump_version"`
}

type DocumentResponse struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Reference string  `json:"reference"`
	Version   int     `json:"version"`
	ReviewDue *string `json:"review_due"`
	CreatedAt string  `json:"created_at"`
}

// --- Interface ---

// TrainingService manages the trainable catalog: modules and documents.
type TrainingService interface {
	ListModules(ctx context.Context) ([]ModuleResponse, error)
	CreateModule(ctx context.Context, req CreateModuleRequest) (*ModuleResponse, error)
	UpdateModule(ctx context.Context, id string, req UpdateModuleRequest) (*ModuleResponse, error)
	DeleteModule(ctx context.Context, id string) error
	ListDocuments(ctx context.Context) ([]DocumentResponse, error)
	CreateDocument(ctx context.Context, req CreateDocumentRequest) (*DocumentResponse, error)
	UpdateDocument(ctx context.Context, id string, req UpdateDocumentRequest) (*DocumentResponse, error)
	DeleteDocument(ctx context.Context, id string) error
}

type trainingService struct {
	db *gorm.DB
}

func NewTrainingService(db *gorm.DB) TrainingService {
	return &trainingService{db: db}
}

// --- Modules ---

func (s *trainingService) ListModules(ctx context.Context) ([]ModuleResponse, error) {
	var modules []model.TrainingModule
	if err := s.db.WithContext(ctx).Order("title asc").Find(&modules).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch training modules: %w", err)
	}

	res := make([]ModuleResponse, 0, len(modules))
	for _, m := range modules {
		res = append(res, toModuleResponse(m))
	}
	return res, nil
}

func (s *trainingService) CreateModule(ctx context.Context, req CreateModuleRequest) (*ModuleResponse, error) {
	passScore, err := parsePassScore(req.PassScore)
	if err != nil {
		return nil, err
	}

	module := model.TrainingModule{
		Title:       req.Title,
		Description: req.Description,
		Version:     1,
		PassScore:   passScore,
	}
	if err := s.db.WithContext(ctx).Create(&module).Error; err != nil {
		return nil, fmt.Errorf("failed to create training module: %w", err)
	}

	resp := toModuleResponse(module)
	return &resp, nil
}

func (s *trainingService) UpdateModule(ctx context.Context, id string, req UpdateModuleRequest) (*ModuleResponse, error) {
	moduleID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid module id: %w", err)
	}

	var module model.TrainingModule
	if err := s.db.WithContext(ctx).First(&module, "id = ?", moduleID).Error; err != nil {
		return nil, fmt.Errorf("training module not found: %w", err)
	}

	module.Title = req.Title
	module.Description = req.Description
	if req.PassScore != "" {
		passScore, parseErr := parsePassScore(req.PassScore)
		if parseErr != nil {
			return nil, parseErr
		}
		module.PassScore = passScore
	}
	if req.BumpVersion {
		module.Version++
	}

	if err := s.db.WithContext(ctx).Save(&module).Error; err != nil {
		return nil, fmt.Errorf("failed to update training module: %w", err)
	}

	resp := toModuleResponse(module)
	return &resp, nil
}

func (s *trainingService) DeleteModule(ctx context.Context, id string) error {
	moduleID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid module id: %w", err)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.RoleAssignment{}).
		Where("item_id = ? AND item_type = ?", moduleID, model.ItemTypeModule).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check module usage: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("cannot delete module: required by %d role(s)", count)
	}

	return s.db.WithContext(ctx).Where("id = ?", moduleID).Delete(&model.TrainingModule{}).Error
}

// --- Documents ---

func (s *trainingService) ListDocuments(ctx context.Context) ([]DocumentResponse, error) {
	var docs []model.Document
	if err := s.db.WithContext(ctx).Order("reference asc").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch documents: %w", err)
	}

	res := make([]DocumentResponse, 0, len(docs))
	for _, d := range docs {
		res = append(res, toDocumentResponse(d))
	}
	return res, nil
}

func (s *trainingService) CreateDocument(ctx context.Context, req CreateDocumentRequest) (*DocumentResponse, error) {
	doc := model.Document{
		Title:     req.Title,
		Reference: req.Reference,
		Version:   1,
	}

	if req.ReviewDue != "" {
		due, err := time.Parse(time.RFC3339, req.ReviewDue)
		if err != nil {
			return nil, fmt.Errorf("invalid review_due: %w", err)
		}
		doc.ReviewDue = &due
	}

	if err := s.db.WithContext(ctx).Create(&doc).Error; err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	resp := toDocumentResponse(doc)
	return &resp, nil
}

func (s *trainingService) UpdateDocument(ctx context.Context, id string, req UpdateDocumentRequest) (*DocumentResponse, error) {
	docID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid document id: %w", err)
	}

	var doc model.Document
	if err := s.db.WithContext(ctx).First(&doc, "id = ?", docID).Error; err != nil {
		return nil, fmt.Errorf("document not found: %w", err)
	}

	doc.Title = req.Title
	if req.ReviewDue != "" {
		due, parseErr := time.Parse(time.RFC3339, req.ReviewDue)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid review_due: %w", parseErr)
		}
		doc.ReviewDue = &due
	}
	if req.BumpVersion {
		doc.Version++
	}

	if err := s.db.WithContext(ctx).Save(&doc).Error; err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}

	resp := toDocumentResponse(doc)
	return &resp, nil
}

func (s *trainingService) DeleteDocument(ctx context.Context, id string) error {
	docID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid document id: %w", err)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.RoleAssignment{}).
		Where("item_id = ? AND item_type = ?", docID, model.ItemTypeDocument).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check document usage: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("cannot delete document: required by %d role(s)", count)
	}

	return s.db.WithContext(ctx).Where("id = ?", docID).Delete(&model.Document{}).Error
}

// --- Helpers ---

func parsePassScore(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	score, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid pass_score: %w", err)
	}
	if score.IsNegative() || score.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, fmt.Errorf("pass_score must be between 0 and 100")
	}
	return score, nil
}

func toModuleResponse(m model.TrainingModule) ModuleResponse {
	return ModuleResponse{
		ID:          m.ID.String(),
		Title:       m.Title,
		Description: m.Description,
		Version:     m.Version,
		PassScore:   m.PassScore.StringFixed(2),
		CreatedAt:   m.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

func toDocumentResponse(d model.Document) DocumentResponse {
	resp := DocumentResponse{
		ID:        d.ID.String(),
		Title:     d.Title,
		Reference: d.Reference,
		Version:   d.Version,
		CreatedAt: d.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if d.ReviewDue != nil {
		due := d.ReviewDue.Format(time.RFC3339)
		resp.ReviewDue = &due
	}
	return resp
}
