package uploads

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/teamstack/crewchat/backend/internal/httpx"
	"github.com/teamstack/crewchat/backend/internal/messages"
)

// Service is the single normalization adapter between raw multipart uploads
// and the attachment descriptor messages carry. Endpoints never sniff file
// shapes themselves.
type Service struct {
	Dir string
}

func Register(rg *gin.RouterGroup, dir string) {
	s := Service{Dir: dir}
	rg.POST("/uploads", s.upload)
}

func (s Service) upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "file field is required")
		return
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "upload storage unavailable")
		return
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(file.Filename))
	dst := filepath.Join(s.Dir, name)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "saving upload failed")
		return
	}

	mtype, err := mimetype.DetectFile(dst)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "detecting file type failed")
		return
	}

	duration, _ := strconv.ParseFloat(c.PostForm("duration"), 64)

	att := messages.Attachment{
		URL:  "/uploads/" + name,
		Mime: mtype.String(),
		Name: file.Filename,
		Size: file.Size,
		Kind: kindOf(mtype.String()),
	}
	httpx.Created(c, gin.H{"attachment": att, "audio_duration": duration})
}

func kindOf(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return messages.TypeImage
	case strings.HasPrefix(mime, "video/"):
		return messages.TypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return messages.TypeAudio
	default:
		return messages.TypeFile
	}
}
