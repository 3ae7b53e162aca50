package handler

import (
	"errors"
	"net/http"

	"naranja/internal/middleware"
	"naranja/internal/service"
	"naranja/pkg/response"

	"github.com/gin-gonic/gin"
)

type AssignmentHandler struct {
	assignmentService service.AssignmentService
	reconcileService  service.ReconcileService
}

func NewAssignmentHandler(assignmentService service.AssignmentService, reconcileService service.ReconcileService) *AssignmentHandler {
	return &AssignmentHandler{assignmentService: assignmentService, reconcileService: reconcileService}
}

func (h *AssignmentHandler) RegisterRoutes(router *gin.RouterGroup) {
	assignments := router.Group("/assignments")
	assignments.Use(middleware.RequireAccess("admin", "manager", "staff"))
	{
		assignments.GET("", h.ListAssignments)
		assignments.POST("/:id/open", h.OpenAssignment)
		assignments.POST("/:id/complete", h.CompleteAssignment)
	}

	// Reconciliation endpoints
	router.POST("/update-user-role-assignments", middleware.RequireAccess("admin", "manager"), h.UpdateUserRoleAssignments)
	router.POST("/change-user-role-assignments", middleware.RequireAccess("admin", "manager"), h.ChangeUserRoleAssignments)
	router.POST("/reconcile/all", middleware.RequireAccess("admin"), h.ReconcileAll)
}

// ListAssignments returns a user's active training assignments
// @Summary      List user assignments
// @Tags         assignments
// @Produce      json
// @Security     BearerAuth
// @Param        user_id  query     string  true  "User ID"
// @Success      200      {object}  response.Response{data=[]service.AssignmentResponse}
// @Failure      404      {object}  response.Response
// @Router       /assignments [get]
func (h *AssignmentHandler) ListAssignments(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		// Staff see their own assignments by default
		userID = middleware.ActorID(c)
	}

	assignments, err := h.assignmentService.ListForUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, err.Error()))
			return
		}
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, assignments))
}

// OpenAssignment stamps the first-opened time on an assignment
func (h *AssignmentHandler) OpenAssignment(c *gin.Context) {
	if err := h.assignmentService.MarkOpened(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Assignment opened"}))
}

// CompleteAssignment marks an assignment complete and records the durable
// completion in the same transaction
// @Summary      Complete an assignment
// @Description  Marks the assignment completed; modules with a pass score require a passing score
// @Tags         assignments
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                             true   "Assignment ID"
// @Param        payload  body      service.CompleteAssignmentRequest  false  "Completion Payload"
// @Success      200      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /assignments/{id}/complete [post]
func (h *AssignmentHandler) CompleteAssignment(c *gin.Context) {
	var req service.CompleteAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	if err := h.assignmentService.MarkCompleted(c.Request.Context(), c.Param("id"), req, middleware.ActorID(c)); err != nil {
		if errors.Is(err, service.ErrScoreBelowPass) {
			c.JSON(http.StatusUnprocessableEntity, response.Error(http.StatusUnprocessableEntity, err.Error()))
			return
		}
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Assignment completed"}))
}

// UpdateUserRoleAssignments reconciles a user's assignments against a role
// without changing the user's stored role
// @Summary      Reconcile user assignments for a role
// @Description  Applies the assignment diff for a role transition; the user's stored role id is not modified
// @Tags         reconciliation
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.ReconcileRequest  true  "Reconcile Payload"
// @Success      200      {object}  response.Response{data=service.ReconcileResult}
// @Failure      404      {object}  response.Response
// @Router       /update-user-role-assignments [post]
func (h *AssignmentHandler) UpdateUserRoleAssignments(c *gin.Context) {
	var req service.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.reconcileService.ReconcileUserRole(c.Request.Context(), req, middleware.ActorID(c))
	if err != nil {
		h.writeReconcileError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ChangeUserRoleAssignments moves the user onto a new role and reconciles
// their assignments in the same transaction
// @Summary      Change user role with reconciliation
// @Tags         reconciliation
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.ChangeRoleRequest  true  "Change Role Payload"
// @Success      200      {object}  response.Response{data=service.ReconcileResult}
// @Failure      404      {object}  response.Response
// @Router       /change-user-role-assignments [post]
func (h *AssignmentHandler) ChangeUserRoleAssignments(c *gin.Context) {
	var req service.ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.reconcileService.ChangeUserRole(c.Request.Context(), req, middleware.ActorID(c))
	if err != nil {
		h.writeReconcileError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ReconcileAll re-runs reconciliation for every user holding a role
// @Summary      Bulk reconcile all users
// @Description  Re-runs reconciliation for every user with a role; per-user failures are reported, not fatal
// @Tags         reconciliation
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=service.BulkReconcileResult}
// @Router       /reconcile/all [post]
func (h *AssignmentHandler) ReconcileAll(c *gin.Context) {
	result, err := h.reconcileService.ReconcileAll(c.Request.Context(), middleware.ActorID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

func (h *AssignmentHandler) writeReconcileError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrRoleNotFound),
		errors.Is(err, service.ErrDepartmentNotFound):
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, err.Error()))
	default:
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
	}
}
