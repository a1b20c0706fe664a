// Package cart owns the device-local shopping cart: an ordered list of lines,
// at most one per product, persisted as a whole after every change.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultStorageKey   = "cart"
	defaultWriteTimeout = 5 * time.Second
)

// StorageKey scopes the persisted cart to a user so that a second account on
// the same device does not see the first account's cart.
func StorageKey(base, userID string) string {
	if base == "" {
		base = DefaultStorageKey
	}
	if userID == "" {
		return base
	}
	return base + ":" + userID
}

type Option func(*Store)

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

type writeJob struct {
	data []byte
	ack  chan struct{}
}

// Store is safe for concurrent use. Reads work on the in-memory lines and
// never wait for persistence; a slow backend only grows the write queue.
type Store struct {
	kv           storage.KV
	key          string
	log          *zap.Logger
	newID        func() string
	writeTimeout time.Duration

	mu     sync.RWMutex
	items  []models.CartItem
	closed bool

	qmu     sync.Mutex
	queue   []writeJob
	qclosed bool
	wake    chan struct{}
	done    chan struct{}
}

// NewStore restores the cart saved under key. A missing or unreadable
// snapshot yields an empty cart.
func NewStore(ctx context.Context, kv storage.KV, key string, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		kv:           kv,
		key:          key,
		log:          logger.With(zap.String("cart_key", key)),
		newID:        uuid.NewString,
		writeTimeout: defaultWriteTimeout,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.items = s.restore(ctx)

	go s.writeLoop()

	return s
}

func (s *Store) restore(ctx context.Context) []models.CartItem {
	data, err := s.kv.Load(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.log.Warn("cart snapshot unavailable, starting empty", zap.Error(err))
		return nil
	}

	var items []models.CartItem
	if err := json.Unmarshal(data, &items); err != nil {
		s.log.Warn("cart snapshot is malformed, starting empty", zap.Error(err))
		return nil
	}

	return normalize(items)
}

// normalize drops lines that break the cart invariants: non-positive
// quantities, missing product ids, and duplicate lines for one product, which
// are merged into the first.
func normalize(items []models.CartItem) []models.CartItem {
	out := make([]models.CartItem, 0, len(items))
	byProduct := make(map[string]int, len(items))

	for _, item := range items {
		if item.Quantity <= 0 || item.Product.ID == "" {
			continue
		}
		if i, ok := byProduct[item.Product.ID]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		byProduct[item.Product.ID] = len(out)
		out = append(out, item)
	}

	return out
}

// Add puts one unit of product in the cart, merging into the existing line
// for the same product id. A product without an id is ignored.
func (s *Store) Add(product models.Product) {
	if strings.TrimSpace(product.ID) == "" {
		s.log.Warn("ignoring product without id", zap.String("name", product.Name))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexByProduct(product.ID); i >= 0 {
		s.items[i].Quantity++
	} else {
		s.items = append(s.items, models.CartItem{
			ID:       s.newID(),
			Product:  product.Clone(),
			Quantity: 1,
		})
	}

	s.persistLocked()
}

// UpdateQuantity sets an absolute quantity. Zero or less removes the line;
// an unknown id is ignored.
func (s *Store) UpdateQuantity(itemID string, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexByID(itemID)
	if i < 0 {
		return
	}

	if quantity <= 0 {
		s.removeAtLocked(i)
	} else {
		if s.items[i].Quantity == quantity {
			return
		}
		s.items[i].Quantity = quantity
	}

	s.persistLocked()
}

func (s *Store) Remove(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexByID(itemID)
	if i < 0 {
		return
	}

	s.removeAtLocked(i)
	s.persistLocked()
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = nil
	s.persistLocked()
}

// RemoveSubmitted takes the submitted quantities off the matching lines and
// drops lines that reach zero. Lines added or grown since the submission keep
// the difference.
func (s *Store) RemoveSubmitted(submitted []models.CartItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, sub := range submitted {
		i := s.indexByID(sub.ID)
		if i < 0 || sub.Quantity <= 0 {
			continue
		}
		changed = true
		if s.items[i].Quantity <= sub.Quantity {
			s.removeAtLocked(i)
			continue
		}
		s.items[i].Quantity -= sub.Quantity
	}

	if changed {
		s.persistLocked()
	}
}

func (s *Store) Items() []models.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CartItem, len(s.items))
	for i, item := range s.items {
		item.Product = item.Product.Clone()
		out[i] = item
	}
	return out
}

func (s *Store) Line(productID string) (models.CartItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexByProduct(productID); i >= 0 {
		item := s.items[i]
		item.Product = item.Product.Clone()
		return item, true
	}
	return models.CartItem{}, false
}

func (s *Store) Subtotal() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subtotal := decimal.Zero
	for _, item := range s.items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	return subtotal
}

// Len is the number of lines; Count is the number of units across lines.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.items)
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, item := range s.items {
		count += item.Quantity
	}
	return count
}

// Flush blocks until every snapshot queued before the call has been written
// or ctx is done.
func (s *Store) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	if !s.enqueue(writeJob{ack: ack}) {
		return nil
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes out queued snapshots and stops the writer. Mutations after
// Close still change the in-memory cart but are no longer persisted.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.qmu.Lock()
	s.qclosed = true
	s.qmu.Unlock()
	s.signal()

	<-s.done
}

func (s *Store) indexByID(itemID string) int {
	for i, item := range s.items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

func (s *Store) indexByProduct(productID string) int {
	for i, item := range s.items {
		if item.Product.ID == productID {
			return i
		}
	}
	return -1
}

func (s *Store) removeAtLocked(i int) {
	s.items = append(s.items[:i:i], s.items[i+1:]...)
	if len(s.items) == 0 {
		s.items = nil
	}
}

// persistLocked queues the current cart. It runs under the write lock so
// snapshots reach the writer in mutation order; enqueueing never blocks.
func (s *Store) persistLocked() {
	items := s.items
	if items == nil {
		items = []models.CartItem{}
	}

	data, err := json.Marshal(items)
	if err != nil {
		s.log.Warn("encode cart snapshot", zap.Error(err))
		return
	}

	if s.closed {
		s.log.Warn("cart store closed, snapshot not persisted", zap.Int("lines", len(items)))
		return
	}

	s.enqueue(writeJob{data: data})
}

func (s *Store) enqueue(job writeJob) bool {
	s.qmu.Lock()
	if s.qclosed {
		s.qmu.Unlock()
		return false
	}
	s.queue = append(s.queue, job)
	s.qmu.Unlock()

	s.signal()
	return true
}

func (s *Store) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest job, waiting while the queue is empty. It reports
// false once the store is closed and the queue drained.
func (s *Store) next() (writeJob, bool) {
	for {
		s.qmu.Lock()
		if len(s.queue) > 0 {
			job := s.queue[0]
			s.queue[0] = writeJob{}
			s.queue = s.queue[1:]
			s.qmu.Unlock()
			return job, true
		}
		closed := s.qclosed
		s.qmu.Unlock()

		if closed {
			return writeJob{}, false
		}
		<-s.wake
	}
}

func (s *Store) writeLoop() {
	defer close(s.done)

	for {
		job, ok := s.next()
		if !ok {
			return
		}
		if job.ack != nil {
			close(job.ack)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		if err := s.kv.Save(ctx, s.key, job.data); err != nil {
			s.log.Warn("persist cart snapshot", zap.Error(err))
		}
		cancel()
	}
}
