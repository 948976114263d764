package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pixbridge/internal/taskqueue"
	"pixbridge/pkg/ginx"
)

// GetTask 查询后台任务
// GET /api/v1/tasks/:id
func (h *Handler) GetTask(c *gin.Context) {
	task, err := h.tasks.Status(c.Param("id"))
	if err != nil {
		if errors.Is(err, taskqueue.ErrTaskNotFound) {
			ginx.NotFound(c, "task not found")
			return
		}
		ginx.InternalError(c, err.Error())
		return
	}
	ginx.Success(c, task)
}

// CancelTask 取消后台任务（协作式，运行中的任务在下一个检查点退出）
// DELETE /api/v1/tasks/:id
func (h *Handler) CancelTask(c *gin.Context) {
	taskID := c.Param("id")
	if h.tasks.Cancel(taskID) {
		ginx.Success(c, gin.H{"task_id": taskID, "cancelled": true})
		return
	}

	task, err := h.tasks.Status(taskID)
	if err != nil {
		ginx.NotFound(c, "task not found")
		return
	}
	ginx.Error(c, http.StatusConflict, "task already "+string(task.Status))
}
