package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/sweetspot/internal/config"
	"github.com/spherical/sweetspot/internal/domain"
	"github.com/spherical/sweetspot/internal/secrets"
	"github.com/spherical/sweetspot/internal/undo"
	"github.com/spherical/sweetspot/internal/view"
)

var testNow = time.Date(2030, 3, 5, 9, 0, 0, 0, time.Local)

type fakeDecomposer struct{}

func (fakeDecomposer) Pages(_ context.Context, path string) ([]domain.PageText, error) {
	return []domain.PageText{{PageNumber: 1, Text: filepath.Base(path)}}, nil
}

// fakeExtractor returns two valid products for any page text except
// "fail.pdf", which errors.
type fakeExtractor struct{}

func (fakeExtractor) ExtractText(_ context.Context, text string) ([]domain.Candidate, error) {
	if text == "fail.pdf" {
		return nil, domain.APIError("inference unavailable", nil)
	}
	return []domain.Candidate{
		{"SKU": "12345", "ProductID": "1", "Article Description Batch": "Milk " + text, "Expiry Date": "05.03.2030"},
		{"SKU": "67890", "ProductID": "2", "Article Description Batch": "Butter " + text, "Expiry Date": "10.03.2030", "Ship QTY": "3"},
		{"SKU": "bad", "Article Description Batch": "rejected"},
	}, nil
}

func (fakeExtractor) ExtractImage(_ context.Context, _ string) ([]domain.VisionCandidate, error) {
	return []domain.VisionCandidate{{ProductName: "Yogurt", ExpiryDate: "07.03.2030"}}, nil
}

type fakeRemote struct {
	authorized bool
	uploads    []string
	remoteFile string
	err        error
}

func (f *fakeRemote) Authorized() bool { return f.authorized }

func (f *fakeRemote) Upload(_ context.Context, local, remote string) error {
	if f.err != nil {
		return f.err
	}
	f.uploads = append(f.uploads, local+"->"+remote)
	return nil
}

func (f *fakeRemote) Download(_ context.Context, _ string, dest string) error {
	if f.err != nil {
		return f.err
	}
	data, err := os.ReadFile(f.remoteFile)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

func (f *fakeRemote) AuthorizeURL() string { return "https://example.com/authorize" }

func (f *fakeRemote) Exchange(_ context.Context, code string) (string, error) {
	return "refresh-" + code, nil
}

func (f *fakeRemote) Account(context.Context) (string, error) { return "Shop Owner", nil }

type fakeMailer struct {
	subject    string
	body       string
	recipients []string
	attached   []string
}

func (m *fakeMailer) Send(subject, html string, recipients []string, attachments ...string) (int, error) {
	m.subject, m.body, m.recipients, m.attached = subject, html, recipients, attachments
	return len(recipients), nil
}

type harness struct {
	app    *App
	remote *fakeRemote
	mailer *fakeMailer
	creds  []secrets.Credentials
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Batch.SkipDelay = 0
	cfg.Batch.NextDelay = 0
	cfg.Report.Recipients = []string{"owner@example.com"}

	h := &harness{remote: &fakeRemote{authorized: true}, mailer: &fakeMailer{}}
	a, err := New(context.Background(), cfg, nil,
		WithDecomposer(fakeDecomposer{}),
		WithExtractor(fakeExtractor{}),
		WithRemote(func(c secrets.Credentials) RemoteSync {
			h.creds = append(h.creds, c)
			return h.remote
		}),
		WithMailer(h.mailer),
		WithClock(func() time.Time { return testNow }),
	)
	require.NoError(t, err)
	h.app = a
	return h
}

func (h *harness) all(t *testing.T) []domain.ProductRecord {
	t.Helper()
	recs, err := h.app.Store().LoadAll(context.Background())
	require.NoError(t, err)
	return recs
}

func (h *harness) ingest(t *testing.T, files ...string) ([]domain.StreamEvent, error) {
	t.Helper()
	job, err := h.app.StartIngest(context.Background(), files)
	require.NoError(t, err)
	var events []domain.StreamEvent
	err = job.Drain(func(e domain.StreamEvent) { events = append(events, e) })
	return events, err
}

func TestNew_CreatesDataFiles(t *testing.T) {
	h := newHarness(t)
	cfg := h.app.Config()

	assert.FileExists(t, cfg.StorePath())
	assert.FileExists(t, cfg.KeyPath())
	_, ok := h.app.LastAction()
	assert.False(t, ok)
}

func TestAddEditDeleteUndo(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	id, err := h.app.Add(ctx, domain.ProductRecord{SKU: "12345", ArticleDescriptionBatch: "Milk", ExpiryDate: "01.04.2030"})
	require.NoError(t, err)

	_, err = h.app.Edit(ctx, id, map[string]string{domain.ColDescription: "Whole milk", domain.ColRemark: "chilled"})
	require.NoError(t, err)
	got, err := h.app.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Whole milk", got.ArticleDescriptionBatch)
	assert.Equal(t, "12345", got.SKU)

	entry, err := h.app.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, undo.KindEditRow, entry.Kind)
	got, err = h.app.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Milk", got.ArticleDescriptionBatch)
	assert.Empty(t, got.Remark)

	// The slot holds one entry; a second undo has nothing left.
	_, err = h.app.Undo(ctx)
	assert.ErrorIs(t, err, undo.ErrNothingToUndo)

	require.NoError(t, h.app.Delete(ctx, id))
	assert.Empty(t, h.all(t))
	_, err = h.app.Undo(ctx)
	require.NoError(t, err)
	got, err = h.app.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.UniqueID)
	assert.Equal(t, "Milk", got.ArticleDescriptionBatch)
}

func TestAdd_UndoRemovesRow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.app.Add(ctx, domain.ProductRecord{SKU: "12345", ArticleDescriptionBatch: "Milk"})
	require.NoError(t, err)
	_, err = h.app.Undo(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.all(t))
}

func TestAddEdit_RequireDescription(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.app.Add(ctx, domain.ProductRecord{SKU: "12345"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
	_, err = h.app.Add(ctx, domain.ProductRecord{SKU: "12345", ArticleDescriptionBatch: "   "})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
	assert.Empty(t, h.all(t))
	_, ok := h.app.LastAction()
	assert.False(t, ok)

	// Malformed dates are still accepted for manual rows.
	id, err := h.app.Add(ctx, domain.ProductRecord{ArticleDescriptionBatch: "Milk", ExpiryDate: "soon"})
	require.NoError(t, err)

	_, err = h.app.Edit(ctx, id, map[string]string{domain.ColDescription: ""})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
	got, err := h.app.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Milk", got.ArticleDescriptionBatch)

	entry, ok := h.app.LastAction()
	require.True(t, ok)
	assert.Equal(t, undo.KindAddRow, entry.Kind)

	backups, err := h.app.ListBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 1, "rejected edits take no backup")
}

func TestEditDelete_MissingRow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.app.Edit(ctx, 42, map[string]string{domain.ColSKU: "11111"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
	assert.True(t, domain.IsType(h.app.Delete(ctx, 42), domain.ErrorTypeValidation))

	_, ok := h.app.LastAction()
	assert.False(t, ok)
}

func TestEdit_RejectsUniqueID(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id, err := h.app.Add(ctx, domain.ProductRecord{SKU: "12345", ArticleDescriptionBatch: "Milk"})
	require.NoError(t, err)

	_, err = h.app.Edit(ctx, id, map[string]string{domain.ColUniqueID: "99"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestClearAndUndo(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for _, sku := range []string{"11111", "22222"} {
		_, err := h.app.Add(ctx, domain.ProductRecord{SKU: sku, ArticleDescriptionBatch: "Item " + sku})
		require.NoError(t, err)
	}

	n, err := h.app.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Empty(t, h.all(t))

	entry, ok := h.app.LastAction()
	require.True(t, ok)
	assert.Contains(t, filepath.Base(entry.BackupPath), "database_backup_before_clear_")

	_, err = h.app.Undo(ctx)
	require.NoError(t, err)
	assert.Len(t, h.all(t), 2)
}

func TestResetAndUndo(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.app.Add(ctx, domain.ProductRecord{SKU: "11111", ArticleDescriptionBatch: "Cheese"})
	require.NoError(t, err)

	_, err = h.app.Reset(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.all(t))

	_, err = h.app.Undo(ctx)
	require.NoError(t, err)
	assert.Len(t, h.all(t), 1)
}

func TestIngest_SingleDocumentAndUndo(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.app.Add(ctx, domain.ProductRecord{SKU: "99999", ArticleDescriptionBatch: "Bread", PDFSource: "manual"})
	require.NoError(t, err)

	events, err := h.ingest(t, "/slips/slip.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventComplete, events[len(events)-1].Type)

	recs := h.all(t)
	require.Len(t, recs, 3)
	assert.Equal(t, "slip.pdf (Page 1)", recs[1].PDFSource)

	entry, ok := h.app.LastAction()
	require.True(t, ok)
	assert.Equal(t, undo.KindUploadDocument, entry.Kind)
	assert.Equal(t, []string{"slip.pdf"}, entry.Sources)

	_, err = h.app.Undo(ctx)
	require.NoError(t, err)
	recs = h.all(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "manual", recs[0].PDFSource)
}

func TestIngest_UndoKeepsEarlierRunOfSameName(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.ingest(t, "/slips/slip.pdf")
	require.NoError(t, err)
	before := h.all(t)
	require.Len(t, before, 2)

	_, err = h.ingest(t, "/other/slip.pdf")
	require.NoError(t, err)
	require.Len(t, h.all(t), 4)

	entry, ok := h.app.LastAction()
	require.True(t, ok)
	assert.Len(t, entry.RowIDs, 2)

	_, err = h.app.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, h.all(t))
}

func TestIngest_BatchUndoKeepsEarlierRunOfSameName(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.ingest(t, "/slips/a.pdf")
	require.NoError(t, err)
	before := h.all(t)

	_, err = h.ingest(t, "/other/a.pdf", "/other/c.pdf")
	require.NoError(t, err)
	require.Len(t, h.all(t), 6)

	_, err = h.app.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, h.all(t))
}

func TestIngest_Image(t *testing.T) {
	h := newHarness(t)

	_, err := h.ingest(t, "/photos/list.JPG")
	require.NoError(t, err)

	recs := h.all(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "Yogurt", recs[0].ArticleDescriptionBatch)
	assert.Equal(t, "Image: list.JPG", recs[0].PDFSource)
	assert.Equal(t, domain.ImageDefaultUOM, recs[0].UOM)

	entry, ok := h.app.LastAction()
	require.True(t, ok)
	assert.Equal(t, undo.KindUploadImage, entry.Kind)
}

func TestIngest_SingleFailureLeavesNoUndo(t *testing.T) {
	h := newHarness(t)

	events, err := h.ingest(t, "/slips/fail.pdf")
	require.Error(t, err)
	assert.Equal(t, domain.EventFailed, events[len(events)-1].Type)
	assert.Empty(t, h.all(t))
	_, ok := h.app.LastAction()
	assert.False(t, ok)
}

func TestIngest_BatchAbortKeepsEarlierFiles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	events, err := h.ingest(t, "/slips/a.pdf", "/slips/fail.pdf", "/slips/c.pdf")
	require.Error(t, err)
	assert.Equal(t, domain.EventFailed, events[len(events)-1].Type)

	recs := h.all(t)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, "a.pdf (Page 1)", r.PDFSource)
	}

	entry, ok := h.app.LastAction()
	require.True(t, ok)
	assert.Equal(t, undo.KindUploadBatch, entry.Kind)
	assert.Equal(t, []string{"a.pdf"}, entry.Sources)

	_, err = h.app.Undo(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.all(t))
}

func TestIngest_BatchSkipPolicy(t *testing.T) {
	h := newHarness(t)
	h.app.Config().Batch.Policy = config.PolicySkip

	events, err := h.ingest(t, "/slips/a.pdf", "/slips/fail.pdf", "/slips/notes.txt", "/slips/c.pdf")
	require.NoError(t, err)
	assert.Equal(t, domain.EventBatchCompleted, events[len(events)-1].Type)
	assert.Len(t, h.all(t), 4)

	entry, _ := h.app.LastAction()
	assert.Equal(t, []string{"a.pdf", "c.pdf"}, entry.Sources)
}

func TestIngest_RequiresAPIKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Inference.APIKey = ""
	a, err := New(context.Background(), cfg, nil, WithRemote(func(secrets.Credentials) RemoteSync { return &fakeRemote{} }))
	require.NoError(t, err)

	_, err = a.StartIngest(context.Background(), []string{"slip.pdf"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))

	_, err = a.StartIngest(context.Background(), nil)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestUpload_NotInvertible(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.app.Upload(ctx))
	require.Len(t, h.remote.uploads, 1)
	assert.Equal(t, h.app.Config().StorePath()+"->/products.db", h.remote.uploads[0])

	_, err := h.app.Undo(ctx)
	assert.ErrorIs(t, err, undo.ErrNotInvertible)
	_, ok := h.app.LastAction()
	assert.False(t, ok)
}

func TestUpload_RequiresAuthorization(t *testing.T) {
	h := newHarness(t)
	h.remote.authorized = false

	err := h.app.Upload(context.Background())
	assert.True(t, domain.IsType(err, domain.ErrorTypeSync))
}

func TestDownloadAndUndo(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// Build the "remote" copy: a store with one row.
	_, err := h.app.Add(ctx, domain.ProductRecord{SKU: "55555", ArticleDescriptionBatch: "Remote row"})
	require.NoError(t, err)
	remoteCopy := filepath.Join(t.TempDir(), "remote.db")
	data, err := os.ReadFile(h.app.Config().StorePath())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(remoteCopy, data, 0o644))
	h.remote.remoteFile = remoteCopy

	_, err = h.app.Clear(ctx)
	require.NoError(t, err)
	_, err = h.app.Add(ctx, domain.ProductRecord{SKU: "11111", ArticleDescriptionBatch: "Local row"})
	require.NoError(t, err)

	require.NoError(t, h.app.Download(ctx))
	recs := h.all(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "Remote row", recs[0].ArticleDescriptionBatch)

	_, err = h.app.Undo(ctx)
	require.NoError(t, err)
	recs = h.all(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "Local row", recs[0].ArticleDescriptionBatch)
}

func TestDownload_FailureRestores(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.app.Add(ctx, domain.ProductRecord{SKU: "11111", ArticleDescriptionBatch: "Cheese"})
	require.NoError(t, err)
	h.remote.err = domain.SyncError("Dropbox returned status 500", nil)

	err = h.app.Download(ctx)
	require.Error(t, err)
	assert.Len(t, h.all(t), 1)

	entry, _ := h.app.LastAction()
	assert.Equal(t, undo.KindAddRow, entry.Kind)
}

func TestAuthorizationFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.app.SaveRemoteApp("key", "secret"))
	url, err := h.app.AuthorizeURL()
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/authorize", url)

	require.NoError(t, h.app.CompleteAuthorization(ctx, " abc "))
	last := h.creds[len(h.creds)-1]
	assert.Equal(t, secrets.Credentials{AppKey: "key", AppSecret: "secret", RefreshToken: "refresh-abc"}, last)

	st, err := h.app.RemoteStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.Authorized)
	assert.Equal(t, "Shop Owner", st.Account)
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.ingest(t, "/slips/slip.pdf")
	require.NoError(t, err)
	_, err = h.app.Add(ctx, domain.ProductRecord{ArticleDescriptionBatch: "Far away", ExpiryDate: "01.01.2031"})
	require.NoError(t, err)

	out, err := h.app.Report(ctx, ReportOptions{Send: true, PDFDir: t.TempDir()})
	require.NoError(t, err)
	assert.Len(t, out.Report.Today, 1)
	assert.Len(t, out.Report.Upcoming, 1)
	assert.Equal(t, 1, out.Sent)
	assert.FileExists(t, out.PDFPath)

	assert.Equal(t, []string{"owner@example.com"}, h.mailer.recipients)
	assert.Equal(t, []string{out.PDFPath}, h.mailer.attached)
	assert.Contains(t, h.mailer.body, "Milk slip.pdf")
	assert.NotContains(t, h.mailer.body, "Far away")
}

func TestExportImportUndo(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.app.Add(ctx, domain.ProductRecord{SKU: "12345", ArticleDescriptionBatch: "Milk", ExpiryDate: "01.04.2030"})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := h.app.Export(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.app.Import(ctx, strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs := h.all(t)
	require.Len(t, recs, 2)
	assert.NotEqual(t, recs[0].UniqueID, recs[1].UniqueID)
	assert.Equal(t, recs[0].ArticleDescriptionBatch, recs[1].ArticleDescriptionBatch)

	entry, err := h.app.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, undo.KindImport, entry.Kind)
	assert.Len(t, h.all(t), 1)
}

func TestList_FilterAndStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.ingest(t, "/slips/slip.pdf")
	require.NoError(t, err)

	rows, err := h.app.List(ctx, view.Query{Column: "description", Pattern: "^butter"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.ExpirySoon, rows[0].Status)
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.png", "notes.txt", ".hidden.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	files, err := ExpandInputs([]string{dir, "/other/slip.pdf"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.pdf"), "/other/slip.pdf"}, files)

	_, err = ExpandInputs([]string{t.TempDir()})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestUndo_Empty(t *testing.T) {
	h := newHarness(t)
	_, err := h.app.Undo(context.Background())
	assert.True(t, errors.Is(err, undo.ErrNothingToUndo))
}
