package placement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mmeshcher/localhub-client/internal/model"
	"github.com/mmeshcher/localhub-client/internal/session"
)

// Journal хранит ключи идемпотентности незавершённых попыток оформления.
// Попытка адресуется отпечатком содержимого заказа и принадлежит области (пользователь, продавец);
// в каждой области ожидает не больше одной попытки.
type Journal interface {
	// Reserve возвращает ключ ожидающей попытки с тем же отпечатком или записывает newKey.
	// Новая попытка вытесняет ожидающие попытки той же области с другим отпечатком.
	Reserve(ctx context.Context, scope, fingerprint, newKey string) (key string, reused bool, err error)
	// Resolve отмечает попытку успешной.
	Resolve(ctx context.Context, fingerprint, orderID string) error
	// Discard отменяет попытку; следующая получит новый ключ.
	Discard(ctx context.Context, fingerprint string) error
}

// Scope вычисляет область попыток оформления: корзину пользователя у продавца.
func Scope(token session.Token, vendorID string) string {
	sum := sha256.Sum256([]byte(string(token) + "\x00" + vendorID))
	return hex.EncodeToString(sum[:])
}

// Fingerprint вычисляет отпечаток попытки оформления. Порядок позиций не важен.
func Fingerprint(token session.Token, vendorID string, items []model.CartItem, addr model.Address, deliveryType model.DeliveryType) string {
	sorted := make([]model.CartItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	var b strings.Builder
	b.WriteString(string(token))
	b.WriteByte(0)
	b.WriteString(vendorID)
	b.WriteByte(0)
	for _, it := range sorted {
		fmt.Fprintf(&b, "%s=%d;", it.ProductID, it.Quantity)
	}
	b.WriteByte(0)
	b.WriteString(strings.TrimSpace(addr.Line))
	b.WriteByte(0)
	b.WriteString(string(deliveryType))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

type attempt struct {
	key   string
	scope string
}

// MemoryJournal хранит попытки в памяти процесса.
type MemoryJournal struct {
	mu      sync.Mutex
	pending map[string]attempt
}

// NewMemoryJournal создаёт журнал в памяти.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{pending: make(map[string]attempt)}
}

func (j *MemoryJournal) Reserve(ctx context.Context, scope, fingerprint, newKey string) (string, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if a, ok := j.pending[fingerprint]; ok {
		return a.key, true, nil
	}
	for fp, a := range j.pending {
		if a.scope == scope {
			delete(j.pending, fp)
		}
	}
	j.pending[fingerprint] = attempt{key: newKey, scope: scope}
	return newKey, false, nil
}

// Pending возвращает число ожидающих попыток.
func (j *MemoryJournal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

func (j *MemoryJournal) Resolve(ctx context.Context, fingerprint, orderID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.pending, fingerprint)
	return nil
}

func (j *MemoryJournal) Discard(ctx context.Context, fingerprint string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.pending, fingerprint)
	return nil
}
