// Package seed populates the dev backend with orders and their files from
// a YAML document, or with generated demo data.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jumboxerox/opsconsole/internal/filestore"
	"github.com/jumboxerox/opsconsole/internal/orderstore"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// File describes one uploaded file. Content wins over Size when both are set.
type File struct {
	Name    string `yaml:"name"`
	Size    int64  `yaml:"size"`
	Content string `yaml:"content"`
}

// Order describes one seeded order. CreatedAt wins over AgeDays.
type Order struct {
	ID            string    `yaml:"id"`
	Customer      string    `yaml:"customer"`
	PaymentStatus string    `yaml:"paymentStatus"`
	CreatedAt     time.Time `yaml:"createdAt"`
	AgeDays       int       `yaml:"ageDays"`
	FilesDeleted  bool      `yaml:"filesDeleted"`
	Files         []File    `yaml:"files"`
}

// Document is the top-level seed file.
type Document struct {
	Orders []Order `yaml:"orders"`
}

// Parse decodes and validates a seed document. Unknown keys are rejected.
func Parse(r io.Reader) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Document{}, fmt.Errorf("decode seed: %w", err)
	}
	if err := doc.validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// LoadFile reads a seed document from fs.
func LoadFile(fs afero.Fs, path string) (Document, error) {
	f, err := fs.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func (d Document) validate() error {
	seen := make(map[string]bool, len(d.Orders))
	for i, o := range d.Orders {
		if o.ID != "" {
			if seen[o.ID] {
				return fmt.Errorf("seed order %d: duplicate id %q", i, o.ID)
			}
			seen[o.ID] = true
		}
		if o.AgeDays < 0 {
			return fmt.Errorf("seed order %d: ageDays must not be negative", i)
		}
		for _, f := range o.Files {
			if strings.TrimSpace(f.Name) == "" {
				return fmt.Errorf("seed order %d: file without a name", i)
			}
			if f.Size < 0 {
				return fmt.Errorf("seed order %d: file %s has negative size", i, f.Name)
			}
		}
	}
	return nil
}

// NewOrderID returns a 24 character hex id in the shape the ordering
// service uses.
func NewOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

var (
	demoCustomers = []string{"Ada Lovelace", "Grace Hopper", "Alan Turing", "Edsger Dijkstra", "Barbara Liskov", "Ken Thompson", "Radia Perlman", "Donald Knuth"}
	demoStatuses  = []string{"paid", "paid", "paid", "pending", "refunded"}
	demoFiles     = []string{"poster.pdf", "flyer.png", "thesis.pdf", "cards.pdf", "banner.jpg"}
)

// Demo generates n orders spread over the last sixty days.
func Demo(n int, rng *rand.Rand) Document {
	doc := Document{Orders: make([]Order, 0, n)}
	for i := 0; i < n; i++ {
		o := Order{
			ID:            NewOrderID(),
			Customer:      demoCustomers[rng.IntN(len(demoCustomers))],
			PaymentStatus: demoStatuses[rng.IntN(len(demoStatuses))],
			AgeDays:       rng.IntN(60),
			FilesDeleted:  rng.IntN(10) == 0,
		}
		for j := 0; j < 1+rng.IntN(3); j++ {
			o.Files = append(o.Files, File{
				Name: fmt.Sprintf("%d-%s", j+1, demoFiles[rng.IntN(len(demoFiles))]),
				Size: int64(1+rng.IntN(512)) * 1024,
			})
		}
		doc.Orders = append(doc.Orders, o)
	}
	return doc
}

// OrderInserter is the store contract Apply writes through.
type OrderInserter interface {
	InsertOrders(ctx context.Context, records []orderstore.OrderRecord) error
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// Apply writes the files of every order whose files still exist and then
// inserts all orders. It returns the number of orders inserted.
func Apply(ctx context.Context, doc Document, store OrderInserter, files *filestore.Store, now time.Time) (int, error) {
	records := make([]orderstore.OrderRecord, 0, len(doc.Orders))
	for _, o := range doc.Orders {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		rec := orderstore.OrderRecord{
			ID:            o.ID,
			CustomerName:  o.Customer,
			PaymentStatus: o.PaymentStatus,
			CreatedAt:     o.CreatedAt,
			FilesDeleted:  o.FilesDeleted,
		}
		if rec.ID == "" {
			rec.ID = NewOrderID()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now.Add(-time.Duration(o.AgeDays) * 24 * time.Hour)
		}
		if rec.FilesDeleted {
			rec.FilesDeletedAt = now
		}

		for _, f := range o.Files {
			var body io.Reader = io.LimitReader(zeroReader{}, f.Size)
			if f.Content != "" {
				body = strings.NewReader(f.Content)
			}
			var (
				path string
				size = f.Size
			)
			if !rec.FilesDeleted {
				var err error
				path, size, err = files.Write(rec.ID, f.Name, body)
				if err != nil {
					return 0, fmt.Errorf("seed files of %s: %w", rec.ID, err)
				}
			}
			rec.Files = append(rec.Files, orderstore.File{Name: f.Name, Path: path, Size: size})
		}
		records = append(records, rec)
	}

	if err := store.InsertOrders(ctx, records); err != nil {
		return 0, fmt.Errorf("seed orders: %w", err)
	}
	return len(records), nil
}
