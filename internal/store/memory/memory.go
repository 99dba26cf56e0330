package memory

import (
	"context"
	"encoding/json"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"solemate/backend/internal/domain"
	"solemate/backend/internal/store"
)

// SnapshotKey names the persisted catalog+ledger snapshot.
const SnapshotKey = "solemate-snapshot"

// Store keeps the whole catalog and ledger in memory. Stock items preserve
// insertion order (display order); the ledger preserves append order. When a
// Persister is attached, every mutation writes a full snapshot through it;
// persist failures never roll back in-memory state, which remains the source
// of truth.
type Store struct {
	mu          sync.RWMutex
	stocks      []domain.StockItem
	sales       []domain.SaleRecord
	costChanges map[string][]domain.CostChange
	auditLogs   []domain.AuditLog
	users       map[string]domain.UserAccount

	persist        store.Persister
	lastPersistErr error
}

type snapshot struct {
	Stocks []domain.StockItem  `json:"stocks"`
	Sales  []domain.SaleRecord `json:"sales"`
}

func New() *Store {
	return &Store{
		stocks:      make([]domain.StockItem, 0, 32),
		sales:       make([]domain.SaleRecord, 0, 128),
		costChanges: make(map[string][]domain.CostChange),
		auditLogs:   make([]domain.AuditLog, 0, 128),
		users:       seedUsers(),
	}
}

// NewPersistent builds a store backed by the given persister, loading any
// previously saved snapshot. Absent or corrupt data falls back to the empty
// snapshot rather than failing startup.
func NewPersistent(ctx context.Context, p store.Persister) *Store {
	s := New()
	s.persist = p

	data, found, err := p.Load(ctx, SnapshotKey)
	if err != nil {
		logrus.Warnf("[memory-store] snapshot load failed, starting empty: %v", err)
		return s
	}
	if !found {
		return s
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logrus.Warnf("[memory-store] snapshot corrupt, starting empty: %v", err)
		return s
	}
	if snap.Stocks != nil {
		s.stocks = snap.Stocks
	}
	if snap.Sales != nil {
		s.sales = snap.Sales
	}
	return s
}

// NewSeeded returns a store pre-loaded with demo shoe inventory for dev mode.
func NewSeeded() *Store {
	s := New()
	purchase := time.Now().UTC().AddDate(0, 0, -20)

	seed := []domain.StockItem{
		{
			ID: "stock-runner-pro", Name: "Runner Pro 2", Category: "running",
			Description: "Lightweight mesh trainer", PurchaseDate: purchase,
			UnitCost: decimal.NewFromInt(150),
			Variants: []domain.StockVariant{
				{ID: "var-rp-38-black", Size: "38", Color: "black", Quantity: 4},
				{ID: "var-rp-40-black", Size: "40", Color: "black", Quantity: 6},
				{ID: "var-rp-42-white", Size: "42", Color: "white", Quantity: 5},
			},
		},
		{
			ID: "stock-court-classic", Name: "Court Classic", Category: "casual",
			Description: "Leather low-top", PurchaseDate: purchase,
			UnitCost: decimal.NewFromInt(90),
			Variants: []domain.StockVariant{
				{ID: "var-cc-39-white", Size: "39", Color: "white", Quantity: 8},
				{ID: "var-cc-41-navy", Size: "41", Color: "navy", Quantity: 7},
			},
		},
		{
			ID: "stock-trail-grip", Name: "Trail Grip X", Category: "trail",
			Description: "Waterproof trail shoe", PurchaseDate: purchase,
			UnitCost: decimal.NewFromInt(180),
			Variants: []domain.StockVariant{
				{ID: "var-tg-42-green", Size: "42", Color: "green", Quantity: 3},
				{ID: "var-tg-44-black", Size: "44", Color: "black", Quantity: 2},
			},
		},
	}
	for i := range seed {
		total := 0
		for _, v := range seed[i].Variants {
			total += v.Quantity
		}
		seed[i].InitialQuantity = total
		seed[i].CurrentQuantity = total
		seed[i].TotalCost = seed[i].UnitCost.Mul(decimal.NewFromInt(int64(total)))
	}
	s.stocks = seed
	return s
}

// seedUsers builds the initial user accounts for dev/demo mode. Credentials
// come from SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD; unset variables fall
// back to hardcoded dev defaults with a warning.
func seedUsers() map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		logrus.Warn("[memory-store] using default dev credentials. Set SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"owner", ownerPwd, domain.RoleOwner},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logrus.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// PersistStatus reports the most recent snapshot write failure, if any. The
// health endpoint exposes it so the operator learns the durable copy is
// lagging without the in-memory state being treated as lost.
func (s *Store) PersistStatus() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPersistErr
}

// persistSnapshot writes the current snapshot through the persister. Must be
// called with the write lock held. Failures are recorded and logged, never
// propagated: the in-memory state already committed.
func (s *Store) persistSnapshot(ctx context.Context) {
	if s.persist == nil {
		return
	}
	data, err := json.Marshal(snapshot{Stocks: s.stocks, Sales: s.sales})
	if err != nil {
		s.lastPersistErr = err
		logrus.Warnf("[memory-store] snapshot marshal failed: %v", err)
		return
	}
	if err := s.persist.Save(ctx, SnapshotKey, data); err != nil {
		s.lastPersistErr = err
		logrus.Warnf("[memory-store] snapshot save failed, in-memory state kept: %v", err)
		return
	}
	s.lastPersistErr = nil
}

func copyStock(item domain.StockItem) domain.StockItem {
	variants := make([]domain.StockVariant, len(item.Variants))
	copy(variants, item.Variants)
	item.Variants = variants
	return item
}

func (s *Store) indexOfStock(id string) int {
	for i := range s.stocks {
		if s.stocks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) indexOfSale(id string) int {
	for i := range s.sales {
		if s.sales[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) ListStocks(_ context.Context) ([]domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stocks := make([]domain.StockItem, 0, len(s.stocks))
	for _, item := range s.stocks {
		stocks = append(stocks, copyStock(item))
	}
	return stocks, nil
}

func (s *Store) GetStock(_ context.Context, id string) (*domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOfStock(id)
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	item := copyStock(s.stocks[idx])
	return &item, nil
}

func (s *Store) CreateStock(ctx context.Context, item domain.StockItem) (*domain.StockItem, error) {
	if item.ID == "" || item.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOfStock(item.ID) >= 0 {
		return nil, store.ErrInvalidInput
	}
	s.stocks = append(s.stocks, copyStock(item))
	s.persistSnapshot(ctx)

	created := copyStock(item)
	return &created, nil
}

func (s *Store) ReplaceStock(ctx context.Context, item domain.StockItem) (*domain.StockItem, error) {
	if item.ID == "" || item.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfStock(item.ID)
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	s.stocks[idx] = copyStock(item)
	s.persistSnapshot(ctx)

	updated := copyStock(item)
	return &updated, nil
}

func (s *Store) DeleteStock(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfStock(id)
	if idx < 0 {
		return store.ErrNotFound
	}
	// Sale records referencing this item survive; their stock_id simply
	// dangles from now on.
	s.stocks = slices.Delete(s.stocks, idx, idx+1)
	s.persistSnapshot(ctx)
	return nil
}

func (s *Store) ListSales(_ context.Context) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.SaleRecord, len(s.sales))
	copy(sales, s.sales)
	return sales, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOfSale(id)
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	sale := s.sales[idx]
	return &sale, nil
}

func (s *Store) CommitSale(ctx context.Context, updated domain.StockItem, records []domain.SaleRecord) error {
	if len(records) == 0 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfStock(updated.ID)
	if idx < 0 {
		return store.ErrNotFound
	}
	// Stock replacement and ledger append happen under one lock so no reader
	// observes a half-applied sale.
	s.stocks[idx] = copyStock(updated)
	s.sales = append(s.sales, records...)
	s.persistSnapshot(ctx)
	return nil
}

func (s *Store) CommitRefund(ctx context.Context, saleID string, updated *domain.StockItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfSale(saleID)
	if idx >= 0 {
		s.sales = slices.Delete(s.sales, idx, idx+1)
	}
	if updated != nil {
		if stockIdx := s.indexOfStock(updated.ID); stockIdx >= 0 {
			s.stocks[stockIdx] = copyStock(*updated)
		}
	}
	s.persistSnapshot(ctx)
	return nil
}

func (s *Store) ReplaceAll(ctx context.Context, stocks []domain.StockItem, sales []domain.SaleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stocks = make([]domain.StockItem, 0, len(stocks))
	for _, item := range stocks {
		s.stocks = append(s.stocks, copyStock(item))
	}
	s.sales = make([]domain.SaleRecord, len(sales))
	copy(s.sales, sales)
	s.persistSnapshot(ctx)
	return nil
}

func (s *Store) CreateCostChange(_ context.Context, entry domain.CostChange) error {
	if entry.ID == "" || entry.StockID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.costChanges[entry.StockID] = append(s.costChanges[entry.StockID], entry)
	return nil
}

func (s *Store) ListCostChanges(_ context.Context, stockID string, limit int) ([]domain.CostChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.costChanges[stockID]
	if len(history) == 0 {
		return []domain.CostChange{}, nil
	}

	result := make([]domain.CostChange, len(history))
	copy(result, history)
	slices.SortFunc(result, func(a, b domain.CostChange) int {
		if a.ChangedAt.Equal(b.ChangedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.ChangedAt.After(b.ChangedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	s.users[username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}
