package conversations

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/teamstack/crewchat/backend/internal/auth"
	"github.com/teamstack/crewchat/backend/internal/httpx"
	"github.com/teamstack/crewchat/backend/internal/utils"
)

// Announcer persists a system stamp message into a conversation and pushes it
// to the room. Implemented by the message engine; failures are its problem.
type Announcer interface {
	Announce(ctx context.Context, conversationID, actorID int64, text string)
}

type Service struct {
	Store    *Store
	Announce Announcer
}

type directReq struct {
	OtherUserID int64 `json:"other_user_id" binding:"required"`
}

type groupReq struct {
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description"`
	MemberIDs   []int64 `json:"member_ids"`
}

type memberReq struct {
	UserID int64 `json:"user_id" binding:"required"`
}

func Register(rg *gin.RouterGroup, store *Store, announce Announcer) {
	s := Service{
		Store:    store,
		Announce: announce,
	}
	rg.POST("/conversations/direct", s.createOrGetDirect)
	rg.POST("/conversations/group", s.createGroup)
	rg.GET("/conversations", s.listMine)
	rg.GET("/conversations/:id/info", s.info)
	rg.POST("/conversations/:id/participants", s.addParticipant)
	rg.DELETE("/conversations/:id/participants/:userId", s.removeParticipant)
	rg.POST("/conversations/:id/admins", s.promoteAdmin)
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return false
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func convParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Err(c, http.StatusBadRequest, "invalid conversation id")
		return 0, false
	}
	return id, true
}

func (s Service) createOrGetDirect(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req directReq
	if !bindJSON(c, &req) {
		return
	}
	if req.OtherUserID == uid {
		httpx.Err(c, http.StatusBadRequest, "cannot start a direct conversation with yourself")
		return
	}

	id, err := s.Store.FindDirect(c.Request.Context(), uid, req.OtherUserID)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "conversation lookup failed")
		return
	}
	if id != 0 {
		httpx.OK(c, gin.H{"conversation_id": id, "type": TypeDirect})
		return
	}

	id, err = s.Store.CreateDirect(c.Request.Context(), uid, req.OtherUserID)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "create conversation failed")
		return
	}
	httpx.Created(c, gin.H{"conversation_id": id, "type": TypeDirect})
}

func (s Service) createGroup(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req groupReq
	if !bindJSON(c, &req) {
		return
	}

	id, err := s.Store.CreateGroup(c.Request.Context(), req.Name, req.Description, uid, req.MemberIDs)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "create group failed")
		return
	}

	s.Announce.Announce(c.Request.Context(), id, uid,
		fmt.Sprintf("%s created the group", s.Store.Username(c.Request.Context(), uid)))

	httpx.Created(c, gin.H{"conversation_id": id, "type": TypeGroup})
}

func (s Service) listMine(c *gin.Context) {
	uid := auth.MustUserID(c)
	list, err := s.Store.ListForUser(c.Request.Context(), uid)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "failed to fetch conversations")
		return
	}
	httpx.OK(c, gin.H{"conversations": list})
}

func (s Service) info(c *gin.Context) {
	uid := auth.MustUserID(c)
	id, ok := convParam(c)
	if !ok {
		return
	}

	cv, err := s.Store.Get(c.Request.Context(), id)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "conversation lookup failed")
		return
	}
	if cv == nil {
		httpx.Err(c, http.StatusNotFound, "conversation not found")
		return
	}
	if !cv.HasParticipant(uid) {
		httpx.Err(c, http.StatusForbidden, "not a participant")
		return
	}
	httpx.OK(c, gin.H{"conversation": cv})
}

// requireAdmin loads the conversation and checks the actor may manage it.
func (s Service) requireAdmin(c *gin.Context, conversationID, uid int64) *Conversation {
	cv, err := s.Store.Get(c.Request.Context(), conversationID)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "conversation lookup failed")
		return nil
	}
	if cv == nil {
		httpx.Err(c, http.StatusNotFound, "conversation not found")
		return nil
	}
	if cv.Type != TypeGroup {
		httpx.Err(c, http.StatusBadRequest, "membership of a direct conversation is fixed")
		return nil
	}
	if !cv.IsAdmin(uid) {
		httpx.Err(c, http.StatusForbidden, "only an admin can manage participants")
		return nil
	}
	return cv
}

func (s Service) addParticipant(c *gin.Context) {
	uid := auth.MustUserID(c)
	id, ok := convParam(c)
	if !ok {
		return
	}
	var req memberReq
	if !bindJSON(c, &req) {
		return
	}
	if s.requireAdmin(c, id, uid) == nil {
		return
	}

	if err := s.Store.AddParticipant(c.Request.Context(), id, req.UserID); err != nil {
		httpx.Err(c, http.StatusBadRequest, "add failed")
		return
	}

	ctx := c.Request.Context()
	s.Announce.Announce(ctx, id, uid, fmt.Sprintf("%s added %s",
		s.Store.Username(ctx, uid), s.Store.Username(ctx, req.UserID)))

	httpx.OK(c, gin.H{"ok": true})
}

func (s Service) removeParticipant(c *gin.Context) {
	uid := auth.MustUserID(c)
	id, ok := convParam(c)
	if !ok {
		return
	}
	target, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "invalid user id")
		return
	}
	if s.requireAdmin(c, id, uid) == nil {
		return
	}

	if err := s.Store.RemoveParticipant(c.Request.Context(), id, target); err != nil {
		httpx.Err(c, http.StatusBadRequest, "remove failed")
		return
	}

	ctx := c.Request.Context()
	s.Announce.Announce(ctx, id, uid, fmt.Sprintf("%s removed %s",
		s.Store.Username(ctx, uid), s.Store.Username(ctx, target)))

	httpx.OK(c, gin.H{"ok": true})
}

func (s Service) promoteAdmin(c *gin.Context) {
	uid := auth.MustUserID(c)
	id, ok := convParam(c)
	if !ok {
		return
	}
	var req memberReq
	if !bindJSON(c, &req) {
		return
	}
	if s.requireAdmin(c, id, uid) == nil {
		return
	}

	if err := s.Store.PromoteAdmin(c.Request.Context(), id, req.UserID); err != nil {
		httpx.Err(c, http.StatusBadRequest, "promote failed")
		return
	}

	ctx := c.Request.Context()
	s.Announce.Announce(ctx, id, uid, fmt.Sprintf("%s promoted %s to admin",
		s.Store.Username(ctx, uid), s.Store.Username(ctx, req.UserID)))

	httpx.OK(c, gin.H{"ok": true})
}
