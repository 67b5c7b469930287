package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/shopbot/internal/model"
)

type memoryState struct {
	users      map[int64]model.User
	roles      map[int64]map[model.Role]bool
	items      map[int64]model.Item
	promocodes map[int64]model.Promocode
	couriers   map[int64]model.Courier
	baskets    map[int64]model.Basket
	lines      map[int64][]model.BasketLine
	orders     map[int64]model.Order

	seq int64
}

func (s *memoryState) next() int64 {
	s.seq++
	return s.seq
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		users:      maps.Clone(s.users),
		roles:      make(map[int64]map[model.Role]bool, len(s.roles)),
		items:      maps.Clone(s.items),
		promocodes: maps.Clone(s.promocodes),
		couriers:   maps.Clone(s.couriers),
		baskets:    maps.Clone(s.baskets),
		lines:      make(map[int64][]model.BasketLine, len(s.lines)),
		orders:     maps.Clone(s.orders),
		seq:        s.seq,
	}
	for k, v := range s.roles {
		c.roles[k] = maps.Clone(v)
	}
	for k, v := range s.lines {
		c.lines[k] = slices.Clone(v)
	}
	return c
}

// MemoryRepository хранит данные в памяти процесса.
// Используется в тестах и при запуске без DATABASE_URI.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memoryState
}

// NewMemoryRepository создаёт пустое in-memory хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memoryState{
			users:      make(map[int64]model.User),
			roles:      make(map[int64]map[model.Role]bool),
			items:      make(map[int64]model.Item),
			promocodes: make(map[int64]model.Promocode),
			couriers:   make(map[int64]model.Courier),
			baskets:    make(map[int64]model.Basket),
			lines:      make(map[int64][]model.BasketLine),
			orders:     make(map[int64]model.Order),
		},
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error { return nil }

// InTx выполняет fn над копией состояния и применяет её только при успехе.
// Транзакции сериализуются одним мьютексом.
func (r *MemoryRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := r.state.clone()
	if err := fn(&memoryTx{s: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

// UpsertUser регистрирует пользователя или обновляет его имя.
func (r *MemoryRepository) UpsertUser(_ context.Context, id int64, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.state.users[id]
	if !ok {
		u = model.User{ID: id, LoyaltyLevel: model.LoyaltyWhite, CreatedAt: time.Now()}
	}
	if username != "" {
		u.Username = username
	}
	r.state.users[id] = u
	return &u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *MemoryRepository) GetUser(_ context.Context, id int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.state.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, model.ErrNotFound)
	}
	return &u, nil
}

// SetUserBanned блокирует или разблокирует пользователя.
func (r *MemoryRepository) SetUserBanned(_ context.Context, id int64, banned bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.state.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, model.ErrNotFound)
	}
	u.IsBanned = banned
	r.state.users[id] = u
	return nil
}

// UpdateUserLoyalty перезаписывает профиль лояльности пользователя.
func (r *MemoryRepository) UpdateUserLoyalty(ctx context.Context, u model.User) error {
	return r.InTx(ctx, func(tx Tx) error {
		return tx.UpdateUserLoyalty(ctx, u)
	})
}

// HasRole сообщает, есть ли у пользователя роль.
func (r *MemoryRepository) HasRole(_ context.Context, userID int64, role model.Role) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state.roles[userID][role], nil
}

// GrantRole выдаёт роль пользователю.
func (r *MemoryRepository) GrantRole(_ context.Context, userID int64, role model.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.state.users[userID]; !ok {
		return fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
	}
	if r.state.roles[userID] == nil {
		r.state.roles[userID] = make(map[model.Role]bool)
	}
	r.state.roles[userID][role] = true
	return nil
}

// RevokeRole отзывает роль у пользователя.
func (r *MemoryRepository) RevokeRole(_ context.Context, userID int64, role model.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.state.roles[userID], role)
	return nil
}

// UsersWithRole возвращает идентификаторы пользователей с ролью.
func (r *MemoryRepository) UsersWithRole(_ context.Context, role model.Role) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for id, rs := range r.state.roles {
		if rs[role] {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// CreateItem добавляет товар в каталог.
func (r *MemoryRepository) CreateItem(_ context.Context, item model.Item) (*model.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item.ID = r.state.next()
	item.Tastes = slices.Clone(item.Tastes)
	r.state.items[item.ID] = item
	return &item, nil
}

// GetItem возвращает товар по идентификатору.
func (r *MemoryRepository) GetItem(_ context.Context, id int64) (*model.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return (&memoryTx{s: r.state}).getItem(id)
}

// ListItems возвращает каталог, упорядоченный по идентификатору.
func (r *MemoryRepository) ListItems(_ context.Context) ([]model.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := slices.Collect(maps.Values(r.state.items))
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// CreatePromocode добавляет промокод. Имя должно быть уникальным.
func (r *MemoryRepository) CreatePromocode(_ context.Context, p model.Promocode) (*model.Promocode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.state.promocodes {
		if strings.EqualFold(existing.Name, p.Name) {
			return nil, fmt.Errorf("promocode %s: %w", p.Name, model.ErrAlreadyExists)
		}
	}
	p.ID = r.state.next()
	r.state.promocodes[p.ID] = p
	return &p, nil
}

// ListPromocodes возвращает все промокоды.
func (r *MemoryRepository) ListPromocodes(_ context.Context) ([]model.Promocode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := slices.Collect(maps.Values(r.state.promocodes))
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// UpsertCourier регистрирует курьера или обновляет его данные.
func (r *MemoryRepository) UpsertCourier(_ context.Context, c model.Courier) (*model.Courier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.state.users[c.UserID]; !ok {
		return nil, fmt.Errorf("user %d: %w", c.UserID, model.ErrNotFound)
	}
	for _, existing := range r.state.couriers {
		if existing.UserID == c.UserID {
			c.ID = existing.ID
			c.CreatedAt = existing.CreatedAt
			break
		}
	}
	if c.ID == 0 {
		c.ID = r.state.next()
		c.CreatedAt = time.Now()
	}
	r.state.couriers[c.ID] = c
	return &c, nil
}

// CourierByUser возвращает курьера по идентификатору пользователя.
func (r *MemoryRepository) CourierByUser(_ context.Context, userID int64) (*model.Courier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.state.couriers {
		if c.UserID == userID {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("courier for user %d: %w", userID, model.ErrNotFound)
}

// GetCourier возвращает курьера по идентификатору.
func (r *MemoryRepository) GetCourier(_ context.Context, id int64) (*model.Courier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.state.couriers[id]
	if !ok {
		return nil, fmt.Errorf("courier %d: %w", id, model.ErrNotFound)
	}
	return &c, nil
}

// SetCourierActive включает или отключает курьера.
func (r *MemoryRepository) SetCourierActive(_ context.Context, userID int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, c := range r.state.couriers {
		if c.UserID == userID {
			c.IsActive = active
			r.state.couriers[id] = c
			return nil
		}
	}
	return fmt.Errorf("courier for user %d: %w", userID, model.ErrNotFound)
}

// ActiveCouriers возвращает активных курьеров.
func (r *MemoryRepository) ActiveCouriers(_ context.Context) ([]model.Courier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Courier
	for _, c := range r.state.couriers {
		if c.IsActive {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// GetOrder возвращает заказ с позициями.
func (r *MemoryRepository) GetOrder(_ context.Context, id int64) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.state.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, model.ErrNotFound)
	}
	return cloneOrder(o), nil
}

// OrdersByUser возвращает заказы пользователя, новые первыми.
func (r *MemoryRepository) OrdersByUser(_ context.Context, userID int64) ([]model.Order, error) {
	return r.filterOrders(func(o model.Order) bool { return o.UserID == userID }), nil
}

// OrdersByStatus возвращает заказы в статусе.
func (r *MemoryRepository) OrdersByStatus(_ context.Context, status model.OrderStatus) ([]model.Order, error) {
	return r.filterOrders(func(o model.Order) bool { return o.Status == status }), nil
}

// OrdersByCourier возвращает незавершённые заказы курьера.
func (r *MemoryRepository) OrdersByCourier(_ context.Context, courierID int64) ([]model.Order, error) {
	return r.filterOrders(func(o model.Order) bool {
		return o.CourierID != nil && *o.CourierID == courierID && !o.Status.Terminal()
	}), nil
}

func (r *MemoryRepository) filterOrders(keep func(model.Order) bool) []model.Order {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Order
	for _, o := range r.state.orders {
		if keep(o) {
			res = append(res, *cloneOrder(o))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res
}

// ClaimOrder назначает курьера на заказ, если заказ ещё ждёт курьера.
func (r *MemoryRepository) ClaimOrder(_ context.Context, orderID, courierID int64) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.state.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, model.ErrNotFound)
	}
	if o.Status != model.OrderWaitingForCourier || o.CourierID != nil {
		return nil, claimConflict(o)
	}

	o.Status = model.OrderInDelivery
	o.CourierID = &courierID
	r.state.orders[orderID] = o
	return cloneOrder(o), nil
}

// UpdateOrderStatus меняет статус, только если заказ всё ещё в состоянии (from, courierID).
func (r *MemoryRepository) UpdateOrderStatus(_ context.Context, orderID int64, from model.OrderStatus, courierID *int64, to model.OrderStatus) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.state.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, model.ErrNotFound)
	}
	if o.Status != from || !sameCourier(o.CourierID, courierID) {
		return nil, &model.TransitionError{OrderID: orderID, Current: o.Status, Target: to}
	}

	o.Status = to
	r.state.orders[orderID] = o
	return cloneOrder(o), nil
}

// AppendBotMessages добавляет сообщения бота к заказу.
func (r *MemoryRepository) AppendBotMessages(_ context.Context, orderID int64, msgs []model.BotMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.state.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, model.ErrNotFound)
	}
	o.BotMessages = append(slices.Clone(o.BotMessages), msgs...)
	r.state.orders[orderID] = o
	return nil
}

// TakeBotMessages возвращает сообщения бота заказа и очищает список.
func (r *MemoryRepository) TakeBotMessages(_ context.Context, orderID int64) ([]model.BotMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.state.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, model.ErrNotFound)
	}
	msgs := o.BotMessages
	o.BotMessages = nil
	r.state.orders[orderID] = o
	return msgs, nil
}

func claimConflict(o model.Order) error {
	if o.CourierID != nil && (o.Status == model.OrderInDelivery || o.Status == model.OrderDelivered) {
		return fmt.Errorf("order %d: %w", o.ID, model.ErrClaimLost)
	}
	return &model.TransitionError{OrderID: o.ID, Current: o.Status, Target: model.OrderInDelivery}
}

func sameCourier(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneOrder(o model.Order) *model.Order {
	o.Lines = slices.Clone(o.Lines)
	o.BotMessages = slices.Clone(o.BotMessages)
	if o.CourierID != nil {
		id := *o.CourierID
		o.CourierID = &id
	}
	return &o
}

type memoryTx struct {
	s *memoryState
}

func (t *memoryTx) LockUser(_ context.Context, userID int64) (*model.User, error) {
	u, ok := t.s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
	}
	return &u, nil
}

func (t *memoryTx) UpdateUserLoyalty(_ context.Context, u model.User) error {
	existing, ok := t.s.users[u.ID]
	if !ok {
		return fmt.Errorf("user %d: %w", u.ID, model.ErrNotFound)
	}
	existing.Stamps = u.Stamps
	existing.LoyaltyLevel = u.LoyaltyLevel
	existing.TotalItemsPurchased = u.TotalItemsPurchased
	t.s.users[u.ID] = existing
	return nil
}

func (t *memoryTx) LockBasket(_ context.Context, userID int64) (*model.Basket, error) {
	if _, ok := t.s.users[userID]; !ok {
		return nil, fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
	}
	b, ok := t.s.baskets[userID]
	if !ok {
		b = model.Basket{ID: t.s.next(), UserID: userID, TotalPrice: decimal.Zero}
		t.s.baskets[userID] = b
	}
	return &b, nil
}

func (t *memoryTx) BasketLines(_ context.Context, basketID int64) ([]model.BasketLine, error) {
	lines := slices.Clone(t.s.lines[basketID])
	for i := range lines {
		if item, ok := t.s.items[lines[i].ItemID]; ok {
			lines[i].Name = item.Name
		}
	}
	return lines, nil
}

func (t *memoryTx) AddBasketLine(_ context.Context, line model.BasketLine) error {
	lines := t.s.lines[line.BasketID]
	for i := range lines {
		if lines[i].ItemID == line.ItemID && lines[i].SelectedTaste == line.SelectedTaste {
			lines[i].Quantity += line.Quantity
			return nil
		}
	}
	line.ID = t.s.next()
	t.s.lines[line.BasketID] = append(lines, line)
	return nil
}

func (t *memoryTx) RemoveBasketItem(_ context.Context, basketID, itemID int64) (int64, error) {
	lines := t.s.lines[basketID]
	kept := lines[:0:0]
	for _, l := range lines {
		if l.ItemID != itemID {
			kept = append(kept, l)
		}
	}
	t.s.lines[basketID] = kept
	return int64(len(lines) - len(kept)), nil
}

func (t *memoryTx) SetBasketTotal(_ context.Context, basketID int64, total decimal.Decimal) error {
	for userID, b := range t.s.baskets {
		if b.ID == basketID {
			b.TotalPrice = total
			t.s.baskets[userID] = b
			return nil
		}
	}
	return fmt.Errorf("basket %d: %w", basketID, model.ErrNotFound)
}

func (t *memoryTx) ClearBasket(ctx context.Context, basketID int64) error {
	delete(t.s.lines, basketID)
	return t.SetBasketTotal(ctx, basketID, decimal.Zero)
}

func (t *memoryTx) GetItem(_ context.Context, itemID int64) (*model.Item, error) {
	return t.getItem(itemID)
}

func (t *memoryTx) getItem(itemID int64) (*model.Item, error) {
	item, ok := t.s.items[itemID]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", itemID, model.ErrNotFound)
	}
	item.Tastes = slices.Clone(item.Tastes)
	return &item, nil
}

func (t *memoryTx) ActivePromocode(_ context.Context, name string) (*model.Promocode, error) {
	for _, p := range t.s.promocodes {
		if p.IsActive && strings.EqualFold(p.Name, name) {
			return &p, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) InsertOrder(_ context.Context, o *model.Order) error {
	o.ID = t.s.next()
	o.CreatedAt = time.Now()
	for i := range o.Lines {
		o.Lines[i].ID = t.s.next()
		o.Lines[i].OrderID = o.ID
	}
	t.s.orders[o.ID] = *cloneOrder(*o)
	return nil
}
