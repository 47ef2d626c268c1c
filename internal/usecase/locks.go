package usecase

import "sync"

// accountLocks はアカウントIDごとの読み書きロックを管理する。
// 使われていないエントリは参照カウントが0になった時点で削除する。
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	sync.RWMutex
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*accountLock)}
}

func (a *accountLocks) acquire(accountID string) *accountLock {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[accountID]
	if !ok {
		l = &accountLock{}
		a.locks[accountID] = l
	}
	l.refs++
	return l
}

func (a *accountLocks) release(accountID string, l *accountLock) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(a.locks, accountID)
	}
}

// Lock はアカウントの排他ロックを取得し、解放関数を返す。
func (a *accountLocks) Lock(accountID string) func() {
	l := a.acquire(accountID)
	l.Lock()
	return func() {
		l.Unlock()
		a.release(accountID, l)
	}
}

// RLock はアカウントの共有ロックを取得し、解放関数を返す。
func (a *accountLocks) RLock(accountID string) func() {
	l := a.acquire(accountID)
	l.RLock()
	return func() {
		l.RUnlock()
		a.release(accountID, l)
	}
}

func (a *accountLocks) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}
