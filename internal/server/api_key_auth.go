package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/onetimesecret/billing/internal/observability/context"
	"go.uber.org/zap"
)

// HashAPIKey derives the stored lookup hash for a raw API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// APIKeyRequired authenticates admin API requests with a bearer key
// checked against the api_keys table.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		hash := HashAPIKey(parts[1])

		var record struct {
			ID      snowflake.ID `gorm:"column:id"`
			KeyHash string       `gorm:"column:key_hash"`
		}
		if err := s.db.WithContext(c.Request.Context()).Raw(
			`SELECT id, key_hash
			 FROM api_keys
			 WHERE key_hash = ?
			   AND revoked_at IS NULL
			 LIMIT 1`,
			hash,
		).Scan(&record).Error; err != nil {
			AbortWithError(c, err)
			return
		}

		if record.ID == 0 || subtle.ConstantTimeCompare([]byte(record.KeyHash), []byte(hash)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		if err := s.db.WithContext(c.Request.Context()).Exec(
			`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
			time.Now().UTC(),
			record.ID,
		).Error; err != nil {
			s.log.Warn("failed to touch api key", zap.Error(err))
		}

		ctx := obscontext.WithActor(c.Request.Context(), "api_key", record.ID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
