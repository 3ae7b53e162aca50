package handler

import (
	"net/http"

	"naranja/internal/middleware"
	"naranja/internal/service"
	"naranja/pkg/response"

	"github.com/gin-gonic/gin"
)

type TrainingHandler struct {
	trainingService service.TrainingService
}

func NewTrainingHandler(trainingService service.TrainingService) *TrainingHandler {
	return &TrainingHandler{trainingService: trainingService}
}

func (h *TrainingHandler) RegisterRoutes(router *gin.RouterGroup) {
	trainings := router.Group("/trainings")
	{
		trainings.GET("", middleware.RequireAccess("admin", "manager", "staff"), h.ListModules)
		trainings.POST("", middleware.RequireAccess("admin", "manager"), h.CreateModule)
		trainings.PUT("/:id", middleware.RequireAccess("admin", "manager"), h.UpdateModule)
		trainings.DELETE("/:id", middleware.RequireAccess("admin"), h.DeleteModule)
	}

	docs := router.Group("/documents")
	{
		docs.GET("", middleware.RequireAccess("admin", "manager", "staff"), h.ListDocuments)
		docs.POST("", middleware.RequireAccess("admin", "manager"), h.CreateDocument)
		docs.PUT("/:id", middleware.RequireAccess("admin", "manager"), h.UpdateDocument)
		docs.DELETE("/:id", middleware.RequireAccess("admin"), h.DeleteDocument)
	}
}

// ListModules returns the training module catalog
func (h *TrainingHandler) ListModules(c *gin.Context) {
	modules, err := h.trainingService.ListModules(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, modules))
}

func (h *TrainingHandler) CreateModule(c *gin.Context) {
	var req service.CreateModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	module, err := h.trainingService.CreateModule(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, module))
}

func (h *TrainingHandler) UpdateModule(c *gin.Context) {
	var req service.UpdateModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	module, err := h.trainingService.UpdateModule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, module))
}

func (h *TrainingHandler) DeleteModule(c *gin.Context) {
	if err := h.trainingService.DeleteModule(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Training module deleted successfully"}))
}

// ListDocuments returns the controlled document catalog
func (h *TrainingHandler) ListDocuments(c *gin.Context) {
	docs, err := h.trainingService.ListDocuments(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, docs))
}

func (h *TrainingHandler) CreateDocument(c *gin.Context) {
	var req service.CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	doc, err := h.trainingService.CreateDocument(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, doc))
}

func (h *TrainingHandler) UpdateDocument(c *gin.Context) {
	var req service.UpdateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	doc, err := h.trainingService.UpdateDocument(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, doc))
}

func (h *TrainingHandler) DeleteDocument(c *gin.Context) {
	if err := h.trainingService.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Document deleted successfully"}))
}
