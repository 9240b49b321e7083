// workers/patreon_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"bot-arena-system/models"
	"bot-arena-system/utils"

	"gorm.io/gorm"
)

// PledgeFromMembership matches the JSON the membership service returns for
// one supporter.
type PledgeFromMembership struct {
	ExternalUserID string    `json:"external_user_id"`
	AmountCents    int       `json:"amount_cents"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GetPledgeChangesResponse is the top-level structure of the membership
// service response.
type GetPledgeChangesResponse struct {
	Pledges []PledgeFromMembership `json:"pledges"`
}

// PatreonSyncWorker keeps each user's membership tier current by polling
// the external patreon/membership service. The arena consumes the tier
// read-only; quota and active-bot limits derive from it.
type PatreonSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

func NewPatreonSyncWorker(db *gorm.DB, membershipServiceURL, serviceToken string) *PatreonSyncWorker {
	return &PatreonSyncWorker{
		db:           db,
		interval:     10 * time.Minute,
		baseURL:      membershipServiceURL,
		serviceToken: serviceToken,
		httpClient:   utils.HTTPClient,
	}
}

func (w *PatreonSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Patreon Sync Worker (membership-service → arena_users)…")
	go w.run(ctx)
}

func (w *PatreonSyncWorker) run(ctx context.Context) {
	// Initial sync picks up everything changed in the last day
	lastSync := time.Now().UTC().Add(-24 * time.Hour)
	if err := w.syncBatch(ctx, lastSync); err != nil {
		log.Printf("⚠️ Initial patreon sync failed: %v", err)
	} else {
		lastSync = time.Now().UTC()
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Patreon sync worker stopped.")
			return
		case <-ticker.C:
			if err := w.syncBatch(ctx, lastSync); err != nil {
				log.Printf("⚠️ Patreon sync failed: %v", err)
				continue
			}
			lastSync = time.Now().UTC()
		}
	}
}

func (w *PatreonSyncWorker) syncBatch(ctx context.Context, since time.Time) error {
	pledges, err := w.getChangedPledges(ctx, since)
	if err != nil {
		return err
	}

	for _, p := range pledges {
		level := TierForPledgeCents(p.AmountCents)
		res := w.db.Model(&models.ArenaUser{}).
			Where("external_user_id = ?", p.ExternalUserID).
			Update("patreon_level", level)
		if res.Error != nil {
			log.Printf("⚠️ failed to update patreon level for user %s: %v", p.ExternalUserID, res.Error)
			continue
		}
		if res.RowsAffected > 0 {
			log.Printf("Patreon sync: user %s is now %s", p.ExternalUserID, level)
		}
	}
	return nil
}

func (w *PatreonSyncWorker) getChangedPledges(ctx context.Context, since time.Time) ([]PledgeFromMembership, error) {
	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/pledges", w.baseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse membership service URL: %w", err)
	}

	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call membership service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("membership service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response GetPledgeChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode membership service response: %w", err)
	}
	return response.Pledges, nil
}

// TierForPledgeCents maps a monthly pledge to a membership tier.
func TierForPledgeCents(cents int) string {
	switch {
	case cents >= 10000:
		return models.PatreonDiamond
	case cents >= 5000:
		return models.PatreonPlatinum
	case cents >= 2500:
		return models.PatreonGold
	case cents >= 1000:
		return models.PatreonSilver
	case cents >= 500:
		return models.PatreonBronze
	default:
		return models.PatreonNone
	}
}
