package config

import (
	"os"
	"strconv"
)

type Config struct {
	Addr      string
	JWTSecret string
	JWTTTLMin int

	DBDriver    string // "sqlite" or "postgres"
	SQLITEDsn   string
	PostgresDSN string

	// Bounded window returned by a whole-conversation mark-read.
	ReadWindow int

	UploadDir string

	SendGridAPIKey string
	SendGridFrom   string
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

func MustLoad() Config {
	jwtttl, _ := strconv.Atoi(getenv("JWT_TTL_MIN", "1440"))
	window, _ := strconv.Atoi(getenv("READ_WINDOW", "50"))

	cfg := Config{
		Addr:           getenv("HTTP_ADDR", ":8080"),
		JWTSecret:      getenv("JWT_SECRET", ""),
		JWTTTLMin:      jwtttl,
		DBDriver:       getenv("DB_DRIVER", "sqlite"),
		SQLITEDsn:      getenv("SQLITE_DSN", "file:crewchat.db?_pragma=foreign_keys(ON)"),
		PostgresDSN:    getenv("POSTGRES_DSN", ""),
		ReadWindow:     window,
		UploadDir:      getenv("UPLOAD_DIR", "uploads"),
		SendGridAPIKey: getenv("SENDGRID_API_KEY", ""),
		SendGridFrom:   getenv("SENDGRID_FROM", ""),
	}
	return cfg
}
