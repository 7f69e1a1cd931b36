package messages

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/teamstack/crewchat/backend/internal/auth"
	"github.com/teamstack/crewchat/backend/internal/httpx"
	"github.com/teamstack/crewchat/backend/internal/utils"
)

type Service struct {
	Engine *Engine
}

type sendReq struct {
	Text          string      `json:"text"`
	Mentions      []int64     `json:"mentions"`
	Attachment    *Attachment `json:"attachment"`
	AudioDuration float64     `json:"audio_duration"`
}

type readReq struct {
	MessageIDs []int64 `json:"message_ids"`
}

func Register(rg *gin.RouterGroup, engine *Engine) {
	s := Service{Engine: engine}
	rg.POST("/conversations/:id/messages", s.send)
	rg.GET("/conversations/:id/messages", s.list)
	rg.POST("/conversations/:id/read", s.markRead)
	rg.DELETE("/conversations/:id/messages/:messageId", s.remove)
}

// ErrStatus maps engine failures onto the HTTP taxonomy.
func ErrStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func convParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Err(c, http.StatusBadRequest, "invalid conversation id")
		return 0, false
	}
	return id, true
}

func (s Service) send(c *gin.Context) {
	uid := auth.MustUserID(c)
	cid, ok := convParam(c)
	if !ok {
		return
	}

	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := s.Engine.Send(c.Request.Context(), SendInput{
		SenderID:       uid,
		ConversationID: cid,
		Text:           req.Text,
		Attachment:     req.Attachment,
		AudioDuration:  req.AudioDuration,
		Mentions:       req.Mentions,
	})
	if err != nil {
		httpx.Err(c, ErrStatus(err), err.Error())
		return
	}
	httpx.Created(c, msg)
}

func (s Service) list(c *gin.Context) {
	uid := auth.MustUserID(c)
	cid, ok := convParam(c)
	if !ok {
		return
	}

	conv, list, err := s.Engine.List(c.Request.Context(), cid, uid)
	if err != nil {
		httpx.Err(c, ErrStatus(err), err.Error())
		return
	}
	httpx.OK(c, gin.H{"conversation": conv, "messages": list})
}

func (s Service) markRead(c *gin.Context) {
	uid := auth.MustUserID(c)
	cid, ok := convParam(c)
	if !ok {
		return
	}

	// message_ids is optional; an absent body means "mark everything".
	var req readReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.Engine.MarkRead(c.Request.Context(), cid, uid, req.MessageIDs)
	if err != nil {
		httpx.Err(c, ErrStatus(err), err.Error())
		return
	}
	httpx.OK(c, gin.H{"updated_messages": updated})
}

func (s Service) remove(c *gin.Context) {
	uid := auth.MustUserID(c)
	cid, ok := convParam(c)
	if !ok {
		return
	}
	mid, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil || mid <= 0 {
		httpx.Err(c, http.StatusBadRequest, "invalid message id")
		return
	}

	msg, err := s.Engine.Delete(c.Request.Context(), cid, mid, uid)
	if err != nil {
		httpx.Err(c, ErrStatus(err), err.Error())
		return
	}
	httpx.OK(c, gin.H{"message": msg})
}
