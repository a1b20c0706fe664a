package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type recordingKV struct {
	*storage.Memory

	mu      sync.Mutex
	saves   [][]byte
	saveErr error
	loadErr error

	// block, when set, holds every Save until it is closed.
	block chan struct{}
}

func newRecordingKV() *recordingKV {
	return &recordingKV{Memory: storage.NewMemory()}
}

func (r *recordingKV) Load(ctx context.Context, key string) ([]byte, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return r.Memory.Load(ctx, key)
}

func (r *recordingKV) Save(ctx context.Context, key string, value []byte) error {
	if r.block != nil {
		<-r.block
	}

	r.mu.Lock()
	r.saves = append(r.saves, append([]byte(nil), value...))
	err := r.saveErr
	r.mu.Unlock()

	if err != nil {
		return err
	}
	return r.Memory.Save(ctx, key, value)
}

func (r *recordingKV) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func (r *recordingKV) lastSave(t *testing.T) []models.CartItem {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.saves) == 0 {
		t.Fatal("No snapshot was saved")
	}
	var items []models.CartItem
	if err := json.Unmarshal(r.saves[len(r.saves)-1], &items); err != nil {
		t.Fatalf("Decode snapshot: %v", err)
	}
	return items
}

func product(id, price string) models.Product {
	return models.Product{
		ID:        id,
		Name:      "Product " + id,
		Unit:      "kg",
		Price:     decimal.RequireFromString(price),
		Available: true,
	}
}

func newTestStore(t *testing.T, kv storage.KV) *Store {
	t.Helper()
	s := NewStore(context.Background(), kv, DefaultStorageKey, zaptest.NewLogger(t))
	t.Cleanup(s.Close)
	return s
}

func flush(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func expectSubtotal(t *testing.T, s *Store, want string) {
	t.Helper()
	if got := s.Subtotal(); !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("Expected subtotal %s, got %s", want, got.StringFixed(2))
	}
}

func TestAddSameProductMergesIntoOneLine(t *testing.T) {
	s := newTestStore(t, storage.NewMemory())
	p := product("p1", "2.25")

	for i := 0; i < 7; i++ {
		s.Add(p)
	}

	items := s.Items()
	if len(items) != 1 {
		t.Fatalf("Expected 1 line, got %d", len(items))
	}
	if items[0].Quantity != 7 {
		t.Errorf("Expected quantity 7, got %d", items[0].Quantity)
	}
	if items[0].ID == "" || items[0].ID == p.ID {
		t.Errorf("Line id should be generated, got %q", items[0].ID)
	}
}

func TestScenarioTwoProducts(t *testing.T) {
	s := newTestStore(t, storage.NewMemory())

	s.Add(product("p1", "10.00"))
	s.Add(product("p1", "10.00"))
	s.Add(product("p2", "5.50"))

	items := s.Items()
	if len(items) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(items))
	}
	if items[0].Product.ID != "p1" || items[0].Quantity != 2 {
		t.Errorf("Expected p1 x2 first, got %s x%d", items[0].Product.ID, items[0].Quantity)
	}
	if items[1].Product.ID != "p2" || items[1].Quantity != 1 {
		t.Errorf("Expected p2 x1 second, got %s x%d", items[1].Product.ID, items[1].Quantity)
	}

	expectSubtotal(t, s, "25.50")

	if s.Count() != 3 {
		t.Errorf("Expected 3 units, got %d", s.Count())
	}
}

func TestUpdateQuantityToZeroEmptiesCart(t *testing.T) {
	s := newTestStore(t, storage.NewMemory())

	for i := 0; i < 3; i++ {
		s.Add(product("p1", "10.00"))
	}
	line, ok := s.Line("p1")
	if !ok || line.Quantity != 3 {
		t.Fatalf("Expected p1 x3, got %+v", line)
	}

	s.UpdateQuantity(line.ID, 0)

	if s.Len() != 0 {
		t.Errorf("Expected empty cart, got %d lines", s.Len())
	}
	expectSubtotal(t, s, "0.00")
}

func TestUpdateQuantityNonPositiveRemoves(t *testing.T) {
	for _, q := range []int{0, -1} {
		t.Run(fmt.Sprintf("quantity %d", q), func(t *testing.T) {
			s := newTestStore(t, storage.NewMemory())
			s.Add(product("p1", "1.00"))
			s.Add(product("p2", "2.00"))

			line, _ := s.Line("p1")
			s.UpdateQuantity(line.ID, q)

			if _, ok := s.Line("p1"); ok {
				t.Error("p1 should be removed")
			}
			if _, ok := s.Line("p2"); !ok {
				t.Error("p2 should remain")
			}
		})
	}
}

func TestUpdateQuantityIsAbsolute(t *testing.T) {
	s := newTestStore(t, storage.NewMemory())
	s.Add(product("p1", "4.00"))
	s.Add(product("p1", "4.00"))

	line, _ := s.Line("p1")
	s.UpdateQuantity(line.ID, 5)

	line, _ = s.Line("p1")
	if line.Quantity != 5 {
		t.Errorf("Expected quantity 5, got %d", line.Quantity)
	}
	expectSubtotal(t, s, "20.00")
}

func TestUnknownIDIsNoOp(t *testing.T) {
	kv := newRecordingKV()
	s := newTestStore(t, kv)
	s.Add(product("p1", "1.00"))
	s.Add(product("p2", "2.00"))
	flush(t, s)

	before := s.Items()
	saves := kv.saveCount()

	s.Remove("missing")
	s.UpdateQuantity("missing", 4)
	s.UpdateQuantity("missing", 0)
	flush(t, s)

	after := s.Items()
	if len(after) != len(before) {
		t.Fatalf("Expected %d lines, got %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID || before[i].Quantity != after[i].Quantity {
			t.Errorf("Line %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
	if kv.saveCount() != saves {
		t.Errorf("No-op mutations should not persist, got %d extra saves", kv.saveCount()-saves)
	}
}

func TestSubtotalTracksEveryMutation(t *testing.T) {
	s := newTestStore(t, storage.NewMemory())

	check := func() {
		t.Helper()
		want := decimal.Zero
		for _, item := range s.Items() {
			want = want.Add(item.Product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		if !s.Subtotal().Equal(want) {
			t.Errorf("Expected subtotal %s, got %s", want, s.Subtotal())
		}
	}

	s.Add(product("p1", "0.10"))
	check()
	s.Add(product("p2", "0.20"))
	check()
	s.Add(product("p1", "0.10"))
	check()
	p2, _ := s.Line("p2")
	s.UpdateQuantity(p2.ID, 9)
	check()
	p1, _ := s.Line("p1")
	s.Remove(p1.ID)
	check()
	s.Clear()
	check()

	expectSubtotal(t, s, "0")
}

func TestSnapshotIsNotLiveReference(t *testing.T) {
	s := newTestStore(t, storage.NewMemory())
	p := product("p1", "3.00")
	p.Images = []string{"front.png"}

	s.Add(p)
	p.Price = decimal.RequireFromString("99.00")
	p.Images[0] = "changed.png"

	line, _ := s.Line("p1")
	if !line.Product.Price.Equal(decimal.RequireFromString("3.00")) {
		t.Errorf("Price change after add should not reach the cart, got %s", line.Product.Price)
	}
	if line.Product.Images[0] != "front.png" {
		t.Errorf("Images should be copied, got %q", line.Product.Images[0])
	}

	items := s.Items()
	items[0].Quantity = 50
	if line, _ := s.Line("p1"); line.Quantity != 1 {
		t.Errorf("Items() must return a copy, quantity now %d", line.Quantity)
	}
}

func TestEveryMutationPersistsOneSnapshot(t *testing.T) {
	kv := newRecordingKV()
	s := newTestStore(t, kv)

	s.Add(product("p1", "1.00"))
	s.Add(product("p1", "1.00"))
	s.Add(product("p2", "2.00"))
	p1, _ := s.Line("p1")
	s.UpdateQuantity(p1.ID, 4)
	s.Remove(p1.ID)
	s.Clear()
	flush(t, s)

	if kv.saveCount() != 6 {
		t.Fatalf("Expected 6 snapshots, got %d", kv.saveCount())
	}

	wantLines := []int{1, 1, 2, 2, 1, 0}
	for i, want := range wantLines {
		var items []models.CartItem
		if err := json.Unmarshal(kv.saves[i], &items); err != nil {
			t.Fatalf("Decode snapshot %d: %v", i, err)
		}
		if len(items) != want {
			t.Errorf("Snapshot %d: expected %d lines, got %d", i, want, len(items))
		}
	}

	if string(kv.saves[5]) != "[]" {
		t.Errorf("Cleared cart should persist as an empty array, got %s", kv.saves[5])
	}
}

func TestReloadRoundTrip(t *testing.T) {
	kv := storage.NewMemory()
	logger := zaptest.NewLogger(t)

	first := NewStore(context.Background(), kv, "cart:u1", logger)
	first.Add(product("p1", "10.00"))
	first.Add(product("p2", "5.50"))
	first.Add(product("p1", "10.00"))
	first.Close()

	want := first.Items()

	second := NewStore(context.Background(), kv, "cart:u1", logger)
	defer second.Close()

	got := second.Items()
	if len(got) != len(want) {
		t.Fatalf("Expected %d lines, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i].ID ||
			got[i].Quantity != want[i].Quantity ||
			got[i].Product.ID != want[i].Product.ID ||
			!got[i].Product.Price.Equal(want[i].Product.Price) {
			t.Errorf("Line %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
	expectSubtotal(t, second, "25.50")
}

func TestMalformedSnapshotStartsEmpty(t *testing.T) {
	kv := storage.NewMemory()
	if err := kv.Save(context.Background(), DefaultStorageKey, []byte(`{"not":"a list"`)); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	core, logs := observer.New(zapcore.WarnLevel)
	s := NewStore(context.Background(), kv, DefaultStorageKey, zap.New(core))
	defer s.Close()

	if s.Len() != 0 {
		t.Errorf("Expected empty cart, got %d lines", s.Len())
	}
	if logs.FilterMessage("cart snapshot is malformed, starting empty").Len() != 1 {
		t.Errorf("Expected a warning for the malformed snapshot, got %v", logs.All())
	}
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	kv := newRecordingKV()
	kv.loadErr = errors.New("disk unavailable")

	s := newTestStore(t, kv)

	if s.Len() != 0 {
		t.Errorf("Expected empty cart, got %d lines", s.Len())
	}
	s.Add(product("p1", "1.00"))
	if s.Len() != 1 {
		t.Errorf("Store should stay usable after a load failure")
	}
}

func TestRestoreNormalizesLines(t *testing.T) {
	kv := storage.NewMemory()
	seed := `[
		{"id":"a","product":{"id":"p1","name":"A","price":"1.00"},"quantity":2},
		{"id":"b","product":{"id":"p2","name":"B","price":"2.00"},"quantity":0},
		{"id":"c","product":{"id":"p1","name":"A","price":"1.00"},"quantity":3},
		{"id":"d","product":{"id":"","name":"?","price":"9.00"},"quantity":1}
	]`
	if err := kv.Save(context.Background(), DefaultStorageKey, []byte(seed)); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	s := newTestStore(t, kv)

	items := s.Items()
	if len(items) != 1 {
		t.Fatalf("Expected 1 line after normalising, got %d", len(items))
	}
	if items[0].ID != "a" || items[0].Quantity != 5 {
		t.Errorf("Expected line a x5, got %s x%d", items[0].ID, items[0].Quantity)
	}
}

func TestWriteFailureIsLoggedNotSurfaced(t *testing.T) {
	kv := newRecordingKV()
	kv.saveErr = errors.New("quota exceeded")

	core, logs := observer.New(zapcore.WarnLevel)
	s := NewStore(context.Background(), kv, DefaultStorageKey, zap.New(core))
	defer s.Close()

	s.Add(product("p1", "1.00"))
	flush(t, s)

	if s.Len() != 1 {
		t.Errorf("In-memory cart should keep the line, got %d lines", s.Len())
	}
	if logs.FilterMessage("persist cart snapshot").Len() != 1 {
		t.Errorf("Expected one persist warning, got %v", logs.All())
	}
}

func TestMutationAfterCloseIsNotPersisted(t *testing.T) {
	kv := newRecordingKV()
	s := NewStore(context.Background(), kv, DefaultStorageKey, zap.NewNop())

	s.Add(product("p1", "1.00"))
	s.Close()
	s.Add(product("p2", "1.00"))
	s.Close()

	if kv.saveCount() != 1 {
		t.Errorf("Expected 1 snapshot, got %d", kv.saveCount())
	}
	if s.Len() != 2 {
		t.Errorf("In-memory cart should still change, got %d lines", s.Len())
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Errorf("Flush after close should be a no-op, got %v", err)
	}
}

func TestConcurrentAddsKeepOneLinePerProduct(t *testing.T) {
	kv := newRecordingKV()
	s := newTestStore(t, kv)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.Add(product(fmt.Sprintf("p%d", n%4), "1.00"))
		}(i)
	}
	wg.Wait()
	flush(t, s)

	if s.Len() != 4 {
		t.Errorf("Expected 4 lines, got %d", s.Len())
	}
	if s.Count() != 20 {
		t.Errorf("Expected 20 units, got %d", s.Count())
	}
	if got := kv.lastSave(t); len(got) != 4 {
		t.Errorf("Last snapshot should hold the final cart, got %d lines", len(got))
	}
}

func TestSlowStorageDoesNotStallTheCart(t *testing.T) {
	kv := newRecordingKV()
	release := make(chan struct{})
	kv.block = release
	s := newTestStore(t, kv)

	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	p := product("p1", "1.00")
	added := make(chan struct{})
	go func() {
		defer close(added)
		for i := 0; i < 100; i++ {
			s.Add(p)
		}
	}()

	select {
	case <-added:
	case <-time.After(2 * time.Second):
		t.Fatal("Mutations stalled behind a blocked snapshot write")
	}

	subtotal := make(chan decimal.Decimal, 1)
	go func() { subtotal <- s.Subtotal() }()

	select {
	case got := <-subtotal:
		if !got.Equal(decimal.NewFromInt(100)) {
			t.Errorf("Expected subtotal 100, got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Subtotal stalled behind a blocked snapshot write")
	}

	unblock()
	flush(t, s)

	if kv.saveCount() != 100 {
		t.Errorf("Expected 100 snapshots, got %d", kv.saveCount())
	}
	if got := kv.lastSave(t); len(got) != 1 || got[0].Quantity != 100 {
		t.Errorf("Last snapshot should hold p1 x100, got %+v", got)
	}
}

func TestAddIgnoresProductWithoutID(t *testing.T) {
	kv := newRecordingKV()
	core, logs := observer.New(zapcore.WarnLevel)
	s := NewStore(context.Background(), kv, DefaultStorageKey, zap.New(core))
	defer s.Close()

	s.Add(product("", "1.00"))
	s.Add(product("   ", "2.00"))
	flush(t, s)

	if s.Len() != 0 {
		t.Errorf("Expected empty cart, got %d lines", s.Len())
	}
	if kv.saveCount() != 0 {
		t.Errorf("Ignored products should not persist, got %d snapshots", kv.saveCount())
	}
	if logs.FilterMessage("ignoring product without id").Len() != 2 {
		t.Errorf("Expected two warnings, got %v", logs.All())
	}
}

func TestRemoveSubmittedKeepsLaterChanges(t *testing.T) {
	kv := newRecordingKV()
	s := newTestStore(t, kv)
	p1, p2, p3 := product("p1", "1.00"), product("p2", "2.00"), product("p3", "3.00")

	s.Add(p1)
	s.Add(p1)
	s.Add(p2)
	submitted := s.Items()

	s.Add(p1)
	s.Add(p3)
	s.RemoveSubmitted(submitted)

	if s.Len() != 2 {
		t.Fatalf("Expected 2 lines, got %d", s.Len())
	}
	if line, ok := s.Line("p1"); !ok || line.Quantity != 1 {
		t.Errorf("Expected p1 x1 to remain, got %+v", line)
	}
	if line, ok := s.Line("p3"); !ok || line.Quantity != 1 {
		t.Errorf("Expected p3 x1 to remain, got %+v", line)
	}
	if _, ok := s.Line("p2"); ok {
		t.Error("Submitted p2 line should be gone")
	}
	expectSubtotal(t, s, "4.00")

	flush(t, s)
	saves := kv.saveCount()
	if got := kv.lastSave(t); len(got) != 2 {
		t.Errorf("Last snapshot should hold 2 lines, got %d", len(got))
	}

	s.RemoveSubmitted(submitted)
	flush(t, s)
	if kv.saveCount() != saves {
		t.Errorf("Removing stale lines should not persist, got %d snapshots", kv.saveCount()-saves)
	}
}

func TestStorageKey(t *testing.T) {
	tests := []struct {
		base, user, want string
	}{
		{"cart", "", "cart"},
		{"cart", "u1", "cart:u1"},
		{"", "u1", "cart:u1"},
	}
	for _, tt := range tests {
		if got := StorageKey(tt.base, tt.user); got != tt.want {
			t.Errorf("StorageKey(%q, %q) = %q, want %q", tt.base, tt.user, got, tt.want)
		}
	}
}
