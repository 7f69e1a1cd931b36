package notifications

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/teamstack/crewchat/backend/internal/auth"
	"github.com/teamstack/crewchat/backend/internal/httpx"
)

type Service struct {
	Store *Store
}

func Register(rg *gin.RouterGroup, store *Store) {
	s := Service{Store: store}
	rg.GET("/notifications", s.list)
	rg.PUT("/notifications/:id/read", s.markRead)
	rg.DELETE("/notifications", s.clear)
}

func (s Service) list(c *gin.Context) {
	uid := auth.MustUserID(c)
	list, err := s.Store.ListForRecipient(c.Request.Context(), uid, 50)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "error fetching notifications")
		return
	}
	httpx.OK(c, gin.H{"notifications": list})
}

func (s Service) markRead(c *gin.Context) {
	uid := auth.MustUserID(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "invalid notification id")
		return
	}

	n, err := s.Store.MarkRead(c.Request.Context(), id, uid)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "error updating notification")
		return
	}
	if n == nil {
		httpx.Err(c, http.StatusNotFound, "notification not found")
		return
	}
	httpx.OK(c, n)
}

func (s Service) clear(c *gin.Context) {
	uid := auth.MustUserID(c)
	if err := s.Store.ClearForRecipient(c.Request.Context(), uid); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "error clearing notifications")
		return
	}
	httpx.OK(c, gin.H{"message": "notifications cleared"})
}
