package seed

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/jumboxerox/opsconsole/internal/filestore"
	"github.com/jumboxerox/opsconsole/internal/orderstore"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

const sample = `
orders:
  - id: 64f1c2a9e4b0a1b2c3d4e5f6
    customer: Ada Lovelace
    paymentStatus: paid
    createdAt: 2025-03-01T08:00:00Z
    files:
      - name: poster.pdf
        content: "%PDF-1.7"
      - name: proof.png
        size: 2048
  - customer: Grace Hopper
    ageDays: 3
    filesDeleted: true
    files:
      - name: flyer.pdf
        size: 10
`

type recordingInserter struct {
	records []orderstore.OrderRecord
	err     error
}

func (r *recordingInserter) InsertOrders(_ context.Context, records []orderstore.OrderRecord) error {
	r.records = append(r.records, records...)
	return r.err
}

func TestParseSample(t *testing.T) {
	doc, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, doc.Orders, 2)
	assert.Equal(t, "Ada Lovelace", doc.Orders[0].Customer)
	assert.Equal(t, time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC), doc.Orders[0].CreatedAt.UTC())
	assert.Equal(t, 3, doc.Orders[1].AgeDays)
}

func TestParseRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "orders:\n  - id: a\n    colour: red\n",
		"duplicate id":  "orders:\n  - id: a\n  - id: a\n",
		"negative age":  "orders:\n  - ageDays: -1\n",
		"unnamed file":  "orders:\n  - files:\n      - size: 3\n",
		"negative size": "orders:\n  - files:\n      - name: x\n        size: -3\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseEmptyDocument(t *testing.T) {
	doc, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, doc.Orders)
}

func TestApplyWritesFilesAndOrders(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := filestore.New(fs, "/data")
	doc, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	ins := &recordingInserter{}
	n, err := Apply(context.Background(), doc, ins, files, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, ins.records, 2)

	ada := ins.records[0]
	assert.Equal(t, "64f1c2a9e4b0a1b2c3d4e5f6", ada.ID)
	require.Len(t, ada.Files, 2)
	assert.Equal(t, "orders/64f1c2a9e4b0a1b2c3d4e5f6/poster.pdf", ada.Files[0].Path)
	assert.EqualValues(t, 8, ada.Files[0].Size)
	assert.EqualValues(t, 2048, ada.Files[1].Size)

	count, bytes, err := files.Usage(ada.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.EqualValues(t, 2056, bytes)

	grace := ins.records[1]
	assert.Len(t, grace.ID, 24, "missing ids are generated")
	assert.Equal(t, now.Add(-72*time.Hour), grace.CreatedAt)
	assert.True(t, grace.FilesDeleted)
	assert.Equal(t, now, grace.FilesDeletedAt)
	count, _, err = files.Usage(grace.ID)
	require.NoError(t, err)
	assert.Zero(t, count, "deleted orders get no files on disk")
}

func TestApplyReportsStoreFailure(t *testing.T) {
	boom := errors.New("disk full")
	ins := &recordingInserter{err: boom}
	_, err := Apply(context.Background(), Demo(3, rand.New(rand.NewPCG(1, 2))), ins, filestore.New(afero.NewMemMapFs(), "/d"), now)
	assert.ErrorIs(t, err, boom)
}

func TestDemoIsWellFormed(t *testing.T) {
	doc := Demo(40, rand.New(rand.NewPCG(7, 7)))
	require.Len(t, doc.Orders, 40)
	require.NoError(t, doc.validate())
	for _, o := range doc.Orders {
		assert.Len(t, o.ID, 24)
		assert.NotEmpty(t, o.Files)
		assert.Less(t, o.AgeDays, 60)
	}
}

func TestApplyIntoOrderStore(t *testing.T) {
	store, err := orderstore.NewStore("", 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	doc, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	_, err = Apply(context.Background(), doc, store, filestore.New(afero.NewMemMapFs(), "/data"), now)
	require.NoError(t, err)

	page, err := store.ListForDeletion(context.Background(), "ada", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalOrders)
	assert.Equal(t, 2, page.Orders[0].FileCount())
}
