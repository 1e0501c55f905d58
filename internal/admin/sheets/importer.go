// Package sheets imports client rosters from a published spreadsheet.
// The sheet is fetched as CSV; each row carries a subscription link or
// email, a payment status and optionally a telegram id. Import diffs
// the roster against the store and drives the sync coordinator for
// anything that changed.
package sheets

import (
	"context"
	"database/sql"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gookit/goutil"

	"github.com/gorillaerror/xui-central/internal/admin/db"
	syncer "github.com/gorillaerror/xui-central/internal/admin/sync"
	"github.com/gorillaerror/xui-central/internal/shared/errors"
	"github.com/gorillaerror/xui-central/internal/shared/logger"
	"github.com/gorillaerror/xui-central/pkg/api"
)

// Config holds the import source settings.
type Config struct {
	// CSVURL is the published CSV export of the roster sheet. Empty
	// disables importing.
	CSVURL         string        `mapstructure:"csv_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DefaultConfig returns the importer defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
	}
}

// Statuses in the payment column that mean the account should be active.
var paidStatuses = map[string]bool{
	"paid":     true,
	"yes":      true,
	"active":   true,
	"true":     true,
	"1":        true,
	"оплачено": true,
	"да":       true,
}

// Importer drives roster imports.
type Importer struct {
	config     Config
	store      db.Store
	coord      *syncer.Coordinator
	httpClient *http.Client
	log        *logger.Logger
}

// NewImporter creates an Importer.
func NewImporter(config Config, store db.Store, coord *syncer.Coordinator, log *logger.Logger) *Importer {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}
	return &Importer{
		config: config,
		store:  store,
		coord:  coord,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
		log: log.WithComponent("sheets"),
	}
}

type row struct {
	email      string
	enabled    bool
	telegramID *int64
}

// Import fetches the roster and reconciles the store against it. With
// dryRun set it only reports what would change.
func (im *Importer) Import(ctx context.Context, dryRun bool) (*api.ImportReport, error) {
	if im.config.CSVURL == "" {
		return nil, fmt.Errorf("%w: no csv_url configured", errors.ErrInvalidConfig)
	}

	rows, err := im.fetchRows(ctx)
	if err != nil {
		return nil, err
	}

	report := &api.ImportReport{DryRun: dryRun}
	for _, r := range rows {
		outcome := im.applyRow(ctx, r, dryRun)
		report.Rows = append(report.Rows, outcome)
		switch outcome.Action {
		case "create":
			report.Created++
		case "enable":
			report.Enabled++
		case "disable":
			report.Disabled++
		case "skip":
			report.Skipped++
		case "error":
			report.Failed++
		}
	}

	im.log.InfoContext(ctx, "import finished",
		"dry_run", dryRun,
		"created", report.Created,
		"enabled", report.Enabled,
		"disabled", report.Disabled,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}

func (im *Importer) applyRow(ctx context.Context, r row, dryRun bool) api.ImportRow {
	outcome := api.ImportRow{Email: r.email}

	client, err := im.store.GetClientByEmail(ctx, r.email)
	switch {
	case err == nil:
		if client.Enabled == r.enabled {
			outcome.Action = "skip"
		} else if r.enabled {
			outcome.Action = "enable"
		} else {
			outcome.Action = "disable"
		}
		if !dryRun && outcome.Action != "skip" {
			if _, err := im.coord.SetClientEnabled(ctx, r.email, r.enabled); err != nil {
				outcome.Action = "error"
				outcome.Error = err.Error()
				return outcome
			}
		}
		if !dryRun && r.telegramID != nil && (!client.TelegramID.Valid || client.TelegramID.Int64 != *r.telegramID) {
			tgID := sql.NullInt64{Int64: *r.telegramID, Valid: true}
			if err := im.store.SetClientTelegramID(ctx, client.ID, tgID); err != nil {
				im.log.WarnContext(ctx, "failed to update telegram id", "email", r.email, "error", err)
			}
		}

	case stderrors.Is(err, sql.ErrNoRows):
		if !r.enabled {
			// Unpaid and unknown: nothing to do.
			outcome.Action = "skip"
			return outcome
		}
		outcome.Action = "create"
		if !dryRun {
			if _, _, err := im.coord.CreateClient(ctx, r.email, r.telegramID); err != nil {
				outcome.Action = "error"
				outcome.Error = err.Error()
			}
		}

	default:
		outcome.Action = "error"
		outcome.Error = err.Error()
	}
	return outcome
}

func (im *Importer) fetchRows(ctx context.Context) ([]row, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, im.config.CSVURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := im.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sheet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sheet fetch returned status %d", resp.StatusCode)
	}

	return parseRows(resp.Body)
}

// parseRows reads the CSV. Expected columns: email or subscription
// link, payment status, optional telegram id. Rows without a usable
// email are dropped, as is a header row.
func parseRows(r io.Reader) ([]row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var rows []row
	seen := make(map[string]bool)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed csv: %w", err)
		}
		if len(record) < 2 {
			continue
		}

		email := extractEmail(record[0])
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true

		parsed := row{
			email:   email,
			enabled: paidStatuses[strings.ToLower(strings.TrimSpace(record[1]))],
		}
		if len(record) >= 3 {
			if tgID, err := goutil.ToInt(strings.TrimSpace(record[2])); err == nil && tgID != 0 {
				id64 := int64(tgID)
				parsed.telegramID = &id64
			}
		}
		rows = append(rows, parsed)
	}
	return rows, nil
}

// extractEmail accepts either a bare address or a subscription link
// containing /sub/{email}.
func extractEmail(cell string) string {
	cell = strings.TrimSpace(cell)
	if idx := strings.Index(cell, "/sub/"); idx >= 0 {
		cell = cell[idx+len("/sub/"):]
		if end := strings.IndexAny(cell, "?#/"); end >= 0 {
			cell = cell[:end]
		}
	}
	if !strings.Contains(cell, "@") {
		return ""
	}
	return cell
}
