package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aceteam-ai/paygrid/internal/apperr"
	"github.com/aceteam-ai/paygrid/internal/blob"
	"github.com/aceteam-ai/paygrid/internal/ledger"
	"github.com/aceteam-ai/paygrid/internal/query"
	"github.com/aceteam-ai/paygrid/internal/schedule"
	"github.com/aceteam-ai/paygrid/internal/store"
)

// Rollback restores a district's cells from a backup written by ApplyJob.
// It goes through the same atomic replace, so the cells it displaces are
// themselves backed up and the rollback can be undone.
func (o *Orchestrator) Rollback(ctx context.Context, districtID, backupKey string) (*ApplyResult, error) {
	if districtID == "" || backupKey == "" {
		return nil, apperr.Validation("district and backup key are required")
	}
	raw, err := o.blobs.Get(ctx, backupKey)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, apperr.NotFound("backup %s", backupKey)
	}
	if err != nil {
		return nil, apperr.Storage(err, "read backup %s", backupKey)
	}
	var cells []schedule.Cell
	if err := json.Unmarshal(raw, &cells); err != nil {
		return nil, fmt.Errorf("decode backup %s: %w", backupKey, err)
	}
	if len(cells) == 0 {
		return nil, apperr.Validation("backup %s is empty", backupKey)
	}
	for _, c := range cells {
		if c.DistrictID != districtID {
			return nil, apperr.Validation("backup %s holds cells of district %q", backupKey, c.DistrictID)
		}
	}

	holder, err := o.store.DistrictLockHolder(ctx, districtID)
	if err != nil {
		return nil, err
	}
	if holder != "" {
		return nil, apperr.ApplyConflict("district %s has unresolved job %s", districtID, holder)
	}

	id := "rollback-" + uuid.New().String()
	scopes := store.ScopesOf(cells)
	newBackup := blob.BackupKey(districtID, id, o.now())
	backedUp := false
	n, err := o.store.ReplaceScopes(ctx, districtID, scopes, cells, func(old []schedule.Cell) error {
		backedUp = len(old) > 0
		if !backedUp {
			return nil
		}
		return o.putJSON(ctx, newBackup, old)
	})
	if err != nil {
		return nil, err
	}
	if !backedUp {
		newBackup = ""
	}
	grew, err := o.store.MergeMaxValues(ctx, cells, id)
	if err != nil {
		return nil, err
	}
	o.invalidate(ctx, query.StalePrefixes(districtID, scopes)...)

	o.log.Info("district rolled back", "district_id", districtID, "from", backupKey, "restored", n, "backup", newBackup)
	o.record(ledger.Entry{Kind: ledger.KindRollback, JobID: id, DistrictID: districtID, Status: "success",
		Count: n, BackupKey: newBackup, Detail: backupKey, CompletedAt: o.now()})
	return &ApplyResult{CommittedCount: n, NeedsGlobalNormalization: grew, BackupKey: newBackup}, nil
}
