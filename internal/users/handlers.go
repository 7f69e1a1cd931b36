package users

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/teamstack/crewchat/backend/internal/auth"
	"github.com/teamstack/crewchat/backend/internal/config"
	"github.com/teamstack/crewchat/backend/internal/httpx"
	"github.com/teamstack/crewchat/backend/internal/utils"
)

type Service struct {
	DB        *sql.DB
	JWTSecret string
	JWTTTLMin int
}

type signupReq struct {
	Username string `json:"username" binding:"required,min=3"`
	Email    string `json:"email"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role"`
}

type loginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

var validRoles = map[string]bool{
	"client": true, "director": true, "project_manager": true,
	"developer": true, "tester": true, "crm": true,
}

func RegisterPublic(rg *gin.RouterGroup, db *sql.DB, cfg config.Config) {
	s := Service{
		DB:        db,
		JWTSecret: cfg.JWTSecret,
		JWTTTLMin: cfg.JWTTTLMin,
	}
	rg.POST("/signup", s.signup)
	rg.POST("/login", s.login)
}

func Register(rg *gin.RouterGroup, db *sql.DB) {
	s := Service{DB: db}
	rg.GET("/me", s.getMe)
	rg.GET("/users", s.list)
	rg.GET("/users/search", s.search)
	rg.GET("/users/:id/last-seen", s.getLastSeen)
}

func (s Service) signup(c *gin.Context) {
	var req signupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	role := req.Role
	if role == "" {
		role = "developer"
	}
	if !validRoles[role] {
		httpx.Err(c, http.StatusBadRequest, "unknown role")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "hashing failed")
		return
	}

	res, err := s.DB.Exec(
		`INSERT INTO users (username, email, password_hash, role) VALUES (?, ?, ?, ?)`,
		req.Username, req.Email, string(hash), role)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "username already taken")
		return
	}
	uid, _ := res.LastInsertId()

	httpx.Created(c, gin.H{"id": uid, "username": req.Username, "role": role})
}

func (s Service) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	var (
		uid  int64
		hash string
		role string
	)
	row := s.DB.QueryRow(`SELECT id, password_hash, role FROM users WHERE username=?`, req.Username)
	if err := row.Scan(&uid, &hash, &role); err != nil {
		httpx.Err(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		httpx.Err(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.NewToken(s.JWTSecret, uid, s.JWTTTLMin)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "token creation failed")
		return
	}

	httpx.OK(c, gin.H{
		"token": token,
		"user":  gin.H{"id": uid, "username": req.Username, "role": role},
	})
}

func (s Service) getMe(c *gin.Context) {
	uid := auth.MustUserID(c)
	if uid == 0 {
		httpx.Err(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	row := s.DB.QueryRow(
		`SELECT id, username, COALESCE(email, ''), role, created_at FROM users WHERE id=?`, uid)

	var (
		id       int64
		username string
		email    string
		role     string
		created  time.Time
	)
	if err := row.Scan(&id, &username, &email, &role, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Err(c, http.StatusNotFound, "user not found")
			return
		}
		httpx.Err(c, http.StatusInternalServerError, "database error")
		return
	}

	httpx.OK(c, gin.H{
		"id": id, "username": username, "email": email,
		"role": role, "created_at": created.Format(time.RFC3339),
	})
}

func (s Service) list(c *gin.Context) {
	rows, err := s.DB.Query(`SELECT id, username, role FROM users ORDER BY username`)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "database query failed")
		return
	}
	defer rows.Close()

	var users []gin.H
	for rows.Next() {
		var (
			id       int64
			username string
			role     string
		)
		if err := rows.Scan(&id, &username, &role); err != nil {
			continue
		}
		users = append(users, gin.H{"id": id, "username": username, "role": role})
	}
	httpx.OK(c, gin.H{"users": users})
}

func (s Service) search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		httpx.Err(c, http.StatusBadRequest, "query parameter is required")
		return
	}

	rows, err := s.DB.Query(
		`SELECT id, username, role FROM users WHERE username LIKE ? LIMIT 10`, "%"+query+"%")
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "database query failed")
		return
	}
	defer rows.Close()

	var users []gin.H
	for rows.Next() {
		var (
			id       int64
			username string
			role     string
		)
		if err := rows.Scan(&id, &username, &role); err != nil {
			continue
		}
		users = append(users, gin.H{"id": id, "username": username, "role": role})
	}
	httpx.OK(c, gin.H{"users": users})
}

func (s Service) getLastSeen(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "invalid user id")
		return
	}

	row := s.DB.QueryRow(`SELECT last_active FROM users WHERE id=?`, userID)
	var lastActive sql.NullTime
	if err := row.Scan(&lastActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Err(c, http.StatusNotFound, "user not found")
			return
		}
		httpx.Err(c, http.StatusInternalServerError, "database error")
		return
	}

	resp := gin.H{"user_id": userID, "last_seen": nil}
	if lastActive.Valid {
		resp["last_seen"] = lastActive.Time.Format(time.RFC3339)
	}
	httpx.OK(c, resp)
}
