package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/halverson/custodian/internal/locks"
)

// LockHandler reports write-lock state for a repository alias. Locks are
// acquired and released in-process by the components doing the mutation;
// the HTTP surface is read-only operator visibility.
type LockHandler struct {
	manager *locks.WriteLockManager
}

// NewLockHandler creates a new lock handler.
func NewLockHandler(manager *locks.WriteLockManager) *LockHandler {
	return &LockHandler{manager: manager}
}

// Status returns whether the alias is locked and by whom.
func (h *LockHandler) Status(c *gin.Context) {
	alias := c.Param("alias")
	owner, acquiredAt, held := h.manager.Holder(alias)
	if !held {
		c.JSON(http.StatusOK, gin.H{"repo_alias": alias, "locked": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"repo_alias":  alias,
		"locked":      true,
		"owner":       owner,
		"acquired_at": acquiredAt,
	})
}
