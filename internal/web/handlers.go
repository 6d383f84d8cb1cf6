// internal/web/handlers.go - REST handlers for executions, catalog and fleet
package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"smartops/internal/database"
)

// ===== Executions =====

type executionRequest struct {
	ActionID   string            `json:"action_id"`
	ActionName string            `json:"action_name"`
	ServerID   string            `json:"server_id" binding:"required"`
	Params     map[string]string `json:"params"`
}

func (s *Server) createExecution(c *gin.Context) {
	var req executionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ActionID == "" && req.ActionName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action_id or action_name is required"})
		return
	}

	result := s.runManual(c, &req)
	if result == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) runManual(c *gin.Context, req *executionRequest) gin.H {
	ctx := c.Request.Context()

	action, err := s.resolveAction(c, req.ActionID, req.ActionName)
	if err != nil {
		return nil
	}

	outcome := s.executor.ExecuteAction(ctx, action.ID, req.ServerID, req.Params)

	row := outcome.Log(req.ServerID, action.ID, "", database.TriggerManual)
	if err := s.store.AppendExecution(ctx, row); err != nil {
		logrus.WithError(err).Error("Failed to store execution log")
	} else {
		s.broadcastExecution(row)
	}

	return gin.H{"outcome": outcome, "execution_id": row.ID}
}

func (s *Server) resolveAction(c *gin.Context, id, name string) (*database.Action, error) {
	ctx := c.Request.Context()

	var action *database.Action
	var err error
	if id != "" {
		action, err = s.catalog.Get(ctx, id)
	} else {
		action, err = s.catalog.GetByName(ctx, name)
	}

	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Action not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve action"})
		}
		return nil, err
	}
	return action, nil
}

type batchRequest struct {
	ServerID  string            `json:"server_id" binding:"required"`
	ActionIDs []string          `json:"action_ids" binding:"required"`
	Params    map[string]string `json:"params"`
}

func (s *Server) createExecutionBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	results := s.executor.ExecuteMultiple(ctx, req.ServerID, req.ActionIDs, req.Params)

	for actionID, outcome := range results {
		row := outcome.Log(req.ServerID, actionID, "", database.TriggerManual)
		if err := s.store.AppendExecution(ctx, row); err != nil {
			logrus.WithError(err).Error("Failed to store execution log")
			continue
		}
		s.broadcastExecution(row)
	}

	c.JSON(http.StatusOK, gin.H{"data": results})
}

func (s *Server) getExecutions(c *gin.Context) {
	filters := database.ExecutionFilters{
		ServerID: c.Query("server_id"),
		Trigger:  c.Query("trigger"),
		Limit:    queryInt(c, "limit", 100),
	}

	logs, err := s.store.GetExecutions(c.Request.Context(), filters)
	if err != nil {
		logrus.WithError(err).Error("Failed to get executions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get executions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": logs, "count": len(logs)})
}

// ===== Actions =====

func (s *Server) getActions(c *gin.Context) {
	actions, err := s.catalog.List(c.Request.Context(), c.Query("kind"), c.Query("active") == "true")
	if err != nil {
		logrus.WithError(err).Error("Failed to get actions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get actions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": actions, "count": len(actions)})
}

func (s *Server) getAction(c *gin.Context) {
	action, err := s.store.GetAction(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Action not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get action"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": action})
}

func (s *Server) createAction(c *gin.Context) {
	var action database.Action
	if err := c.ShouldBindJSON(&action); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if action.Name == "" || action.Kind == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and kind are required"})
		return
	}

	if err := s.store.CreateAction(c.Request.Context(), &action); err != nil {
		logrus.WithError(err).Error("Failed to create action")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create action"})
		return
	}

	s.catalog.Invalidate()
	c.JSON(http.StatusCreated, gin.H{"data": action})
}

func (s *Server) updateAction(c *gin.Context) {
	var action database.Action
	if err := c.ShouldBindJSON(&action); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	action.ID = c.Param("id")

	if _, err := s.store.GetAction(c.Request.Context(), action.ID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Action not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get action"})
		return
	}

	if err := s.store.UpdateAction(c.Request.Context(), &action); err != nil {
		logrus.WithError(err).Error("Failed to update action")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update action"})
		return
	}

	s.catalog.Invalidate()
	c.JSON(http.StatusOK, gin.H{"data": action})
}

func (s *Server) deleteAction(c *gin.Context) {
	if err := s.store.DeleteAction(c.Request.Context(), c.Param("id")); err != nil {
		logrus.WithError(err).Error("Failed to delete action")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete action"})
		return
	}

	s.catalog.Invalidate()
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ===== Servers =====

// The private key is write-only through this API.
func sanitizeServer(server database.Server) database.Server {
	server.PrivateKey = ""
	return server
}

func (s *Server) getServers(c *gin.Context) {
	servers, err := s.store.GetServers(c.Request.Context())
	if err != nil {
		logrus.WithError(err).Error("Failed to get servers")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get servers"})
		return
	}

	out := make([]database.Server, 0, len(servers))
	for _, server := range servers {
		out = append(out, sanitizeServer(server))
	}

	c.JSON(http.StatusOK, gin.H{"data": out, "count": len(out)})
}

func (s *Server) getServer(c *gin.Context) {
	server, err := s.store.GetServer(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Server not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get server"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sanitizeServer(*server)})
}

func (s *Server) createServer(c *gin.Context) {
	var server database.Server
	if err := c.ShouldBindJSON(&server); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if server.Name == "" || server.Address == "" || server.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, address and username are required"})
		return
	}

	if err := s.store.CreateServer(c.Request.Context(), &server); err != nil {
		logrus.WithError(err).Error("Failed to create server")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create server"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": sanitizeServer(server)})
}

func (s *Server) updateServer(c *gin.Context) {
	existing, err := s.store.GetServer(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Server not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get server"})
		return
	}

	var server database.Server
	if err := c.ShouldBindJSON(&server); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	server.ID = existing.ID

	// An empty key in the payload means keep the stored one.
	if server.PrivateKey == "" {
		server.PrivateKey = existing.PrivateKey
	}

	if err := s.store.UpdateServer(c.Request.Context(), &server); err != nil {
		logrus.WithError(err).Error("Failed to update server")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update server"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sanitizeServer(server)})
}

func (s *Server) deleteServer(c *gin.Context) {
	if err := s.store.DeleteServer(c.Request.Context(), c.Param("id")); err != nil {
		logrus.WithError(err).Error("Failed to delete server")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete server"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ===== Bindings =====

type bindingRequest struct {
	Automatic bool `json:"automatic"`
}

func (s *Server) putBinding(c *gin.Context) {
	serverID := c.Param("id")
	actionID := c.Param("aid")

	var req bindingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if _, err := s.store.GetServer(ctx, serverID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Server not found"})
		return
	}
	if _, err := s.store.GetAction(ctx, actionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Action not found"})
		return
	}

	binding := &database.Binding{
		ServerID:  serverID,
		ActionID:  actionID,
		Automatic: req.Automatic,
	}
	if err := s.store.PutBinding(ctx, binding); err != nil {
		logrus.WithError(err).Error("Failed to store binding")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store binding"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": binding})
}

func (s *Server) deleteBinding(c *gin.Context) {
	if err := s.store.DeleteBinding(c.Request.Context(), c.Param("id"), c.Param("aid")); err != nil {
		logrus.WithError(err).Error("Failed to delete binding")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete binding"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ===== Decisions and queued metrics =====

func (s *Server) getDecisions(c *gin.Context) {
	decisions, err := s.store.GetRecentDecisions(c.Request.Context(), c.Param("id"), queryInt(c, "limit", 10))
	if err != nil {
		logrus.WithError(err).Error("Failed to get decisions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get decisions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": decisions, "count": len(decisions)})
}

func (s *Server) getQueuedMetrics(c *gin.Context) {
	snapshots, err := s.queue.Peek(c.Request.Context(), c.Param("id"), queryInt(c, "limit", 100))
	if err != nil {
		logrus.WithError(err).Error("Failed to read metrics queue")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read metrics queue"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snapshots, "count": len(snapshots)})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	if raw := c.Query(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
