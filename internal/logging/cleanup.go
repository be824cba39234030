package logging

import (
	"log/slog"
	"time"

	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
	"gorm.io/gorm"
)

// Cleanup deletes system_logs older than retention and returns the number of
// rows removed.
func Cleanup(db *gorm.DB, retention time.Duration, now time.Time) (int64, error) {
	result := db.Where("timestamp < ?", now.Add(-retention)).Delete(&models.SystemLog{})
	return result.RowsAffected, result.Error
}

// StartCleanup runs Cleanup once a day until done is closed.
func StartCleanup(db *gorm.DB, retention time.Duration, done chan struct{}) {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deleted, err := Cleanup(db, retention, time.Now())
				if err != nil {
					slog.Error("log cleanup failed", "error", err)
				} else if deleted > 0 {
					slog.Info("log cleanup completed", "deleted", deleted)
				}
			case <-done:
				return
			}
		}
	}()
}
