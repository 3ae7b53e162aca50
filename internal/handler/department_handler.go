package handler

import (
	"errors"
	"net/http"

	"naranja/internal/middleware"
	"naranja/internal/service"
	"naranja/pkg/response"

	"github.com/gin-gonic/gin"
)

type DepartmentHandler struct {
	departmentService service.DepartmentService
}

func NewDepartmentHandler(departmentService service.DepartmentService) *DepartmentHandler {
	return &DepartmentHandler{departmentService: departmentService}
}

func (h *DepartmentHandler) RegisterRoutes(router *gin.RouterGroup) {
	depts := router.Group("/departments")
	depts.Use(middleware.RequireAccess("admin", "manager"))
	{
		depts.GET("", h.ListDepartments)
		depts.GET("/tree", h.GetTree)
		depts.GET("/:id", h.GetDepartment)
		depts.POST("", h.CreateDepartment)
		depts.PUT("/:id", h.UpdateDepartment)
		depts.GET("/:id/requirements", h.GetRequirements)
		depts.PUT("/:id/requirements", h.UpdateRequirements)
	}
}

func (h *DepartmentHandler) ListDepartments(c *gin.Context) {
	depts, err := h.departmentService.ListDepartments(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, depts))
}

// GetTree returns the department hierarchy as nested nodes
func (h *DepartmentHandler) GetTree(c *gin.Context) {
	tree, err := h.departmentService.GetTree(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrDepartmentCycle) {
			c.JSON(http.StatusConflict, response.Error(http.StatusConflict, err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, tree))
}

func (h *DepartmentHandler) GetDepartment(c *gin.Context) {
	dept, err := h.departmentService.GetDepartment(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, dept))
}

func (h *DepartmentHandler) CreateDepartment(c *gin.Context) {
	var req service.CreateDepartmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	dept, err := h.departmentService.CreateDepartment(c.Request.Context(), req, middleware.ActorID(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, dept))
}

func (h *DepartmentHandler) UpdateDepartment(c *gin.Context) {
	var req service.UpdateDepartmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	dept, err := h.departmentService.UpdateDepartment(c.Request.Context(), c.Param("id"), req, middleware.ActorID(c))
	if err != nil {
		if errors.Is(err, service.ErrDepartmentCycle) {
			c.JSON(http.StatusConflict, response.Error(http.StatusConflict, err.Error()))
			return
		}
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, dept))
}

func (h *DepartmentHandler) GetRequirements(c *gin.Context) {
	items, err := h.departmentService.GetRequirements(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, items))
}

// UpdateRequirements replaces the department-level requirement list. Members
// pick the change up on their next reconciliation.
func (h *DepartmentHandler) UpdateRequirements(c *gin.Context) {
	var req service.UpdateRequirementsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	if err := h.departmentService.UpdateRequirements(c.Request.Context(), c.Param("id"), req, middleware.ActorID(c)); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Requirements updated successfully"}))
}
