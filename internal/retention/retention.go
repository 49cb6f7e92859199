// Package retention bounds how many historical propositions an organization
// keeps. It is invoked opportunistically before new drafts are created, not
// on a schedule, so it must stay cheap and safe to call redundantly.
package retention

import (
	"context"

	"go.uber.org/zap"

	"github.com/propale/propale/internal/storage"
	"github.com/propale/propale/internal/store"
)

// Policy deletes propositions beyond the retention window, cascading to
// their blob-store objects.
type Policy struct {
	store store.Store
	blobs storage.Storage
}

// New creates a retention Policy.
func New(st store.Store, blobs storage.Storage) *Policy {
	return &Policy{store: st, blobs: blobs}
}

// Enforce keeps an organization's most recent keep propositions and deletes
// the rest, rows first (the bounded row count is the guarantee), then their
// stored objects fire-and-continue: one failed blob deletion never blocks
// the others. Returns the number of rows removed.
func (p *Policy) Enforce(ctx context.Context, orgID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	props, err := p.store.ListPropositions(ctx, orgID)
	if err != nil {
		return 0, err
	}
	if len(props) <= keep {
		return 0, nil
	}

	victims := props[keep:]
	ids := make([]string, len(victims))
	for i, v := range victims {
		ids[i] = v.ID
	}

	deleted, err := p.store.DeletePropositions(ctx, ids)
	if err != nil {
		return 0, err
	}

	for _, v := range victims {
		for _, key := range v.SourceDocuments {
			p.deleteBlob(ctx, key)
		}
		if v.ArtifactURL != "" {
			p.deleteBlob(ctx, p.blobs.KeyFromURL(v.ArtifactURL))
		}
	}

	zap.L().Info("retention enforced",
		zap.String("organization_id", orgID),
		zap.Int("kept", keep),
		zap.Int64("deleted", deleted),
	)
	return int(deleted), nil
}

func (p *Policy) deleteBlob(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := p.blobs.Delete(ctx, key); err != nil {
		zap.L().Warn("retention: blob deletion failed, continuing",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
