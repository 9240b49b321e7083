// workers/rating_audit_worker.go
package workers

import (
	"context"
	"log"
	"time"

	"bot-arena-system/models"

	"gorm.io/gorm"
)

// RatingAuditWorker periodically scans for competitive results whose
// participations never received a rating movement. With the current
// recorder that cannot happen (result and rating commit in one
// transaction), but rows written by older code or manual intervention can
// still drift. Findings are logged for operator reconciliation, never
// auto-repaired: re-running the rating engine would double-apply.
type RatingAuditWorker struct {
	db       *gorm.DB
	interval time.Duration
}

func NewRatingAuditWorker(db *gorm.DB) *RatingAuditWorker {
	return &RatingAuditWorker{
		db:       db,
		interval: 1 * time.Hour,
	}
}

func (w *RatingAuditWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Rating Audit Worker (results ↔ rating application consistency)…")
	go w.run(ctx)
}

func (w *RatingAuditWorker) run(ctx context.Context) {
	if err := w.scan(); err != nil {
		log.Printf("⚠️ Initial rating audit failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Rating audit worker stopped.")
			return
		case <-ticker.C:
			if err := w.scan(); err != nil {
				log.Printf("⚠️ Rating audit failed: %v", err)
			}
		}
	}
}

// scan flags every decisive or tie result that has a participation with no
// recorded elo_change.
func (w *RatingAuditWorker) scan() error {
	competitiveTypes := []models.ResultType{
		models.ResultPlayer1Win, models.ResultPlayer1Crash,
		models.ResultPlayer1TimeOut, models.ResultPlayer1Surrender,
		models.ResultPlayer2Win, models.ResultPlayer2Crash,
		models.ResultPlayer2TimeOut, models.ResultPlayer2Surrender,
		models.ResultTie,
	}

	var orphaned []struct {
		MatchID    string
		ResultType string
	}
	err := w.db.Model(&models.Result{}).
		Select("results.match_id AS match_id, results.type AS result_type").
		Joins("JOIN match_participations mp ON mp.match_id = results.match_id").
		Where("results.type IN ? AND mp.elo_change IS NULL", competitiveTypes).
		Group("results.match_id, results.type").
		Find(&orphaned).Error
	if err != nil {
		return err
	}

	for _, o := range orphaned {
		log.Printf("[RATING_AUDIT] match %s has a %s result but no rating application — needs manual reconciliation",
			o.MatchID, o.ResultType)
	}
	if len(orphaned) > 0 {
		log.Printf("[RATING_AUDIT] %d result(s) missing rating application", len(orphaned))
	}
	return nil
}
