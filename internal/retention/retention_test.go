package retention

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propale/propale/internal/model"
)

type fakeStore struct {
	props      []model.Proposition
	deletedIDs []string
	listErr    error
	deleteErr  error
}

func (f *fakeStore) ListPropositions(ctx context.Context, orgID string) ([]model.Proposition, error) {
	return f.props, f.listErr
}

func (f *fakeStore) DeletePropositions(ctx context.Context, ids []string) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deletedIDs = append(f.deletedIDs, ids...)
	return int64(len(ids)), nil
}

func (f *fakeStore) CreateOrganization(context.Context, model.Organization) (*model.Organization, error) {
	return nil, nil
}
func (f *fakeStore) GetOrganization(context.Context, string) (*model.Organization, error) {
	return nil, nil
}
func (f *fakeStore) CreateTemplate(context.Context, model.PropositionTemplate) (*model.PropositionTemplate, error) {
	return nil, nil
}
func (f *fakeStore) GetTemplate(context.Context, string) (*model.PropositionTemplate, error) {
	return nil, nil
}
func (f *fakeStore) CountTemplates(context.Context, string) (int, error) { return 0, nil }
func (f *fakeStore) UpdateTemplateStatus(context.Context, string, model.TemplateStatus) error {
	return nil
}
func (f *fakeStore) CreateProposition(context.Context, model.Proposition) (*model.Proposition, error) {
	return nil, nil
}
func (f *fakeStore) GetProposition(context.Context, string) (*model.Proposition, error) {
	return nil, nil
}
func (f *fakeStore) SaveProposition(context.Context, *model.Proposition) error { return nil }
func (f *fakeStore) Transition(context.Context, string, model.PropositionStatus, model.PropositionStatus) (bool, error) {
	return false, nil
}
func (f *fakeStore) SetArtifactURL(context.Context, string, string) error { return nil }
func (f *fakeStore) GetTransactionByEvent(context.Context, string) (*model.StripeTransaction, error) {
	return nil, nil
}
func (f *fakeStore) InsertTransaction(context.Context, model.StripeTransaction) (bool, error) {
	return false, nil
}
func (f *fakeStore) UpdateTransactionStatus(context.Context, string, model.TransactionStatus) error {
	return nil
}
func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Close() error                  { return nil }

type fakeBlobs struct {
	deleted []string
	failKey string
}

func (f *fakeBlobs) Upload(context.Context, string, []byte, string) (string, error) {
	return "", nil
}
func (f *fakeBlobs) Download(context.Context, string) ([]byte, error) { return nil, nil }
func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	if key == f.failKey {
		return fmt.Errorf("delete %s: access denied", key)
	}
	f.deleted = append(f.deleted, key)
	return nil
}
func (f *fakeBlobs) KeyFromURL(url string) string { return "key-of-" + url }

// newestFirst builds n propositions ordered the way ListPropositions
// returns them.
func newestFirst(n int) []model.Proposition {
	props := make([]model.Proposition, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range props {
		props[i] = model.Proposition{
			ID:        fmt.Sprintf("prop-%d", i),
			CreatedAt: base.Add(-time.Duration(i) * time.Hour),
		}
	}
	return props
}

func TestEnforceDeletesBeyondWindow(t *testing.T) {
	t.Parallel()

	props := newestFirst(5)
	props[3].SourceDocuments = []string{"docs/a.pdf", "docs/b.pdf"}
	props[4].ArtifactURL = "https://blobs/prop-4.xlsx"

	st := &fakeStore{props: props}
	blobs := &fakeBlobs{}

	deleted, err := New(st, blobs).Enforce(context.Background(), "org-1", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, []string{"prop-3", "prop-4"}, st.deletedIDs, "oldest beyond the window go first")
	assert.ElementsMatch(t, []string{"docs/a.pdf", "docs/b.pdf", "key-of-https://blobs/prop-4.xlsx"}, blobs.deleted)
}

func TestEnforceUnderWindow(t *testing.T) {
	t.Parallel()

	st := &fakeStore{props: newestFirst(3)}
	deleted, err := New(st, &fakeBlobs{}).Enforce(context.Background(), "org-1", 5)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Empty(t, st.deletedIDs)
}

func TestEnforceBlobFailureTolerated(t *testing.T) {
	t.Parallel()

	props := newestFirst(3)
	props[1].SourceDocuments = []string{"docs/poisoned.pdf"}
	props[2].SourceDocuments = []string{"docs/fine.pdf"}

	st := &fakeStore{props: props}
	blobs := &fakeBlobs{failKey: "docs/poisoned.pdf"}

	deleted, err := New(st, blobs).Enforce(context.Background(), "org-1", 1)
	require.NoError(t, err, "blob failures never fail enforcement")
	assert.Equal(t, 2, deleted)
	assert.Contains(t, blobs.deleted, "docs/fine.pdf", "later deletions still run")
}

func TestEnforceListError(t *testing.T) {
	t.Parallel()

	st := &fakeStore{listErr: fmt.Errorf("connection refused")}
	_, err := New(st, &fakeBlobs{}).Enforce(context.Background(), "org-1", 3)
	assert.Error(t, err)
}

func TestEnforceNegativeKeep(t *testing.T) {
	t.Parallel()

	st := &fakeStore{props: newestFirst(2)}
	deleted, err := New(st, &fakeBlobs{}).Enforce(context.Background(), "org-1", -1)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted, "negative keep clamps to zero")
}
