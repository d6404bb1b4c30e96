package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codecanvas-io/collab/internal/config"
	"github.com/codecanvas-io/collab/internal/middleware"
	"github.com/codecanvas-io/collab/internal/modules/model"
	"github.com/codecanvas-io/collab/internal/modules/serializer"
	"github.com/codecanvas-io/collab/internal/modules/service"
	"github.com/codecanvas-io/collab/internal/realtime"
	"github.com/codecanvas-io/collab/internal/relay"
)

type CollabHandler struct {
	relay      *relay.Relay
	access     service.AccessService
	activity   service.ActivityService
	files      service.FileService
	ws         realtime.Handler
	clients    *realtime.Registry
	upgrader   websocket.Upgrader
	sendBuffer int
	log        *zap.Logger
}

func NewCollabHandler(
	r *relay.Relay,
	access service.AccessService,
	activity service.ActivityService,
	files service.FileService,
	ws realtime.Handler,
	clients *realtime.Registry,
	cfg *config.Config,
	log *zap.Logger,
) *CollabHandler {
	return &CollabHandler{
		relay:    r,
		access:   access,
		activity: activity,
		files:    files,
		ws:       ws,
		clients:  clients,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(cfg.Collab.AllowedOrigins),
		},
		sendBuffer: cfg.Collab.SendBuffer,
		log:        log,
	}
}

// checkOrigin accepts handshakes without an Origin header (non-browser
// clients) and, when allowed is set, only the listed browser origins.
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == origin {
				return true
			}
		}
		return false
	}
}

// ServeWS godoc
//
//	@Summary		Open a collaboration connection
//	@Description	Upgrade to a WebSocket carrying JSON frames {"event": "...", "data": {...}}. Send join-project first; cursor-move, presence, code-change and file-operation apply to the joined project.
//	@Tags			collab
//	@Param			token	query	string	false	"User JWT when the Authorization header cannot be set"
//	@Security		BearerAuth
//	@Success		101
//	@Failure		401	{object}	serializer.Response{}
//	@Router			/collab/ws [get]
func (h *CollabHandler) ServeWS(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, serializer.AuthErr(""))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already replied
		h.log.Debug("websocket upgrade failed", zap.String("user", userID), zap.Error(err))
		return
	}

	client := realtime.NewClient(conn, userID, h.sendBuffer, h.log)
	h.clients.Add(client)
	defer h.clients.Remove(client)

	h.log.Debug("websocket connected", zap.String("conn", client.ID()), zap.String("user", userID))
	client.Serve(c.Request.Context(), h.ws)
	h.log.Debug("websocket disconnected", zap.String("conn", client.ID()), zap.String("user", userID))
}

// authorizeProject checks read access to the :project_id path parameter and
// writes the error response itself when it fails.
func (h *CollabHandler) authorizeProject(c *gin.Context) (uuid.UUID, bool) {
	projectID, err := uuid.Parse(c.Param("project_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("invalid project id", err))
		return uuid.Nil, false
	}

	ok, err := h.access.CanAccess(c.Request.Context(), c.GetString(middleware.UserIDKey), projectID.String(), model.AccessRead)
	switch {
	case errors.Is(err, service.ErrProjectNotFound):
		c.JSON(http.StatusNotFound, serializer.NotFoundErr("project not found", err))
		return uuid.Nil, false
	case err != nil:
		c.JSON(http.StatusInternalServerError, serializer.DBErr("", err))
		return uuid.Nil, false
	case !ok:
		c.JSON(http.StatusForbidden, serializer.ForbiddenErr(""))
		return uuid.Nil, false
	}
	return projectID, true
}

// ListActiveUsers godoc
//
//	@Summary		List active users
//	@Description	Get the sessions currently connected to a project on this instance
//	@Tags			collab
//	@Accept			json
//	@Produce		json
//	@Param			project_id	path	string	true	"Project ID"	Format(uuid)
//	@Security		BearerAuth
//	@Success		200	{object}	serializer.Response{data=relay.ActiveUsersPayload}
//	@Failure		403	{object}	serializer.Response{}
//	@Failure		404	{object}	serializer.Response{}
//	@Router			/projects/{project_id}/active-users [get]
func (h *CollabHandler) ListActiveUsers(c *gin.Context) {
	projectID, ok := h.authorizeProject(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, serializer.Response{Data: relay.ActiveUsersPayload{
		ProjectID: projectID.String(),
		Users:     h.relay.ListActive(projectID.String()),
	}})
}

type ListActivitiesReq struct {
	Limit int `form:"limit" json:"limit" binding:"omitempty,min=1,max=200" example:"50"`
}

// ListActivities godoc
//
//	@Summary		List project activity
//	@Description	Get the most recent file activity of a project, newest first
//	@Tags			collab
//	@Accept			json
//	@Produce		json
//	@Param			project_id	path	string	true	"Project ID"	Format(uuid)
//	@Param			limit		query	integer	false	"Number of entries to return. Default 50, max 200."
//	@Security		BearerAuth
//	@Success		200	{object}	serializer.Response{data=[]model.Activity}
//	@Failure		403	{object}	serializer.Response{}
//	@Failure		404	{object}	serializer.Response{}
//	@Router			/projects/{project_id}/activities [get]
func (h *CollabHandler) ListActivities(c *gin.Context) {
	req := ListActivitiesReq{}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}

	projectID, ok := h.authorizeProject(c)
	if !ok {
		return
	}

	out, err := h.activity.List(c.Request.Context(), projectID, req.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, serializer.DBErr("", err))
		return
	}

	c.JSON(http.StatusOK, serializer.Response{Data: out})
}

type ListFilesResp struct {
	ProjectID string   `json:"projectId"`
	Paths     []string `json:"paths"`
}

// ListFiles godoc
//
//	@Summary		List project files
//	@Description	Get the paths of every file stored for a project, sorted
//	@Tags			collab
//	@Accept			json
//	@Produce		json
//	@Param			project_id	path	string	true	"Project ID"	Format(uuid)
//	@Security		BearerAuth
//	@Success		200	{object}	serializer.Response{data=handler.ListFilesResp}
//	@Failure		403	{object}	serializer.Response{}
//	@Failure		404	{object}	serializer.Response{}
//	@Router			/projects/{project_id}/files [get]
func (h *CollabHandler) ListFiles(c *gin.Context) {
	projectID, ok := h.authorizeProject(c)
	if !ok {
		return
	}

	paths, err := h.files.ListPaths(c.Request.Context(), projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, serializer.DBErr("", err))
		return
	}
	if paths == nil {
		paths = []string{}
	}

	c.JSON(http.StatusOK, serializer.Response{Data: ListFilesResp{ProjectID: projectID.String(), Paths: paths}})
}
