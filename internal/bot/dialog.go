package bot

import (
	"sync"
	"time"
)

// dialogKind - вид ожидаемого от пользователя ответа.
type dialogKind int

const (
	dialogNone dialogKind = iota
	dialogCancelReason
)

const dialogTTL = 10 * time.Minute

// dialogState хранит незавершённый диалог пользователя с ботом.
type dialogState struct {
	kind      dialogKind
	orderID   int64
	startedAt time.Time
}

// dialogs хранит состояния диалогов по Telegram ID. Истёкшие состояния игнорируются.
type dialogs struct {
	mu    sync.Mutex
	state map[int64]dialogState
	now   func() time.Time
}

func newDialogs() *dialogs {
	return &dialogs{
		state: make(map[int64]dialogState),
		now:   time.Now,
	}
}

func (d *dialogs) start(userID int64, kind dialogKind, orderID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state[userID] = dialogState{kind: kind, orderID: orderID, startedAt: d.now()}
}

// take возвращает и удаляет состояние пользователя.
func (d *dialogs) take(userID int64) (dialogState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.state[userID]
	if !ok {
		return dialogState{}, false
	}
	delete(d.state, userID)

	if d.now().Sub(st.startedAt) > dialogTTL {
		return dialogState{}, false
	}
	return st, true
}

func (d *dialogs) drop(userID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.state[userID]
	delete(d.state, userID)
	return ok
}
