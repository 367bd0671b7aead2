package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"taskflow/backend/internal/models"
	"taskflow/backend/internal/services"
)

type TaskService interface {
	Create(ctx context.Context, user *models.User, in services.TaskInput) (*models.Task, error)
	Get(ctx context.Context, user *models.User, id uint) (*models.Task, error)
	Update(ctx context.Context, user *models.User, id uint, in services.TaskInput) (*models.Task, error)
	UpdateStatus(ctx context.Context, user *models.User, id uint, status models.Status) (*models.Task, error)
	Destroy(ctx context.Context, user *models.User, id uint) error
	List(ctx context.Context, user *models.User, filter models.TaskFilter) (models.TaskPage, error)
}

type TaskHandler struct {
	taskService TaskService
}

func NewTaskHandler(taskService TaskService) *TaskHandler {
	return &TaskHandler{taskService: taskService}
}

func (h *TaskHandler) ListTasks(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	filter := models.TaskFilter{
		Status:    c.Query("status"),
		Priority:  c.Query("priority"),
		Search:    c.Query("search"),
		Sort:      c.Query("sort"),
		Direction: c.Query("direction"),
	}
	if raw := c.Query("category"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "category must be a numeric id"})
			return
		}
		categoryID := uint(id)
		filter.CategoryID = &categoryID
	}
	if raw := c.Query("page"); raw != "" {
		filter.Page, _ = strconv.Atoi(raw)
	}

	page, err := h.taskService.List(c.Request.Context(), user, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var input services.TaskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	task, err := h.taskService.Create(c.Request.Context(), user, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	task, err := h.taskService.Get(c.Request.Context(), user, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) UpdateTask(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var input services.TaskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	task, err := h.taskService.Update(c.Request.Context(), user, id, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) UpdateTaskStatus(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var input struct {
		Status models.Status `json:"status"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	task, err := h.taskService.UpdateStatus(c.Request.Context(), user, id, input.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"task":    task,
		"message": "Status updated to " + string(task.Status),
	})
}

func (h *TaskHandler) DeleteTask(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := h.taskService.Destroy(c.Request.Context(), user, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
