package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/driftledger/internal/model"
)

// FaultFunc はMemoryStoreの障害注入フック。
// opは操作名（"begin", "commit", または Tx のメソッド名）、idは対象プレイヤー（無い場合は0）。
// nil以外を返すとその操作はエラーで失敗する。
type FaultFunc func(op string, id model.PlayerID) error

// MemoryStore はプロセス内メモリを使用した台帳ストア。
// トランザクションはミューテックスで直列化し、状態のコピーに対して操作してコミット時に差し替える。
// fnが失敗した場合はコピーを破棄するため、部分的な書き込みは残らない。
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	fault FaultFunc
}

type checkInKey struct {
	playerID model.PlayerID
	date     model.Date
}

type payoutKey struct {
	period   model.Date
	position int
}

type memState struct {
	players       map[model.PlayerID]model.Player
	checkIns      map[checkInKey]model.CheckIn
	sessions      []model.GameSession
	nextSessionID int64
	distributions map[model.Date]model.Distribution
	payouts       map[payoutKey]model.Payout
	notifications []model.NotificationAttempt
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			players:       make(map[model.PlayerID]model.Player),
			checkIns:      make(map[checkInKey]model.CheckIn),
			distributions: make(map[model.Date]model.Distribution),
			payouts:       make(map[payoutKey]model.Payout),
		},
	}
}

// SetFault は障害注入フックを設定する。nilで解除する。
func (s *MemoryStore) SetFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// WithinTx はfnを直列化されたトランザクション内で実行する。
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return model.NewStoreUnavailableError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.inject("begin", 0); err != nil {
		return model.NewStoreUnavailableError(err)
	}

	working := s.state.clone()
	if err := fn(&memoryTx{store: s, state: working}); err != nil {
		return err
	}

	if err := s.inject("commit", 0); err != nil {
		return model.NewStoreUnavailableError(err)
	}
	s.state = working
	return nil
}

// Ping は常に成功する。
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Player はコミット済みのプレイヤー状態を返す。
func (s *MemoryStore) Player(id model.PlayerID) (model.Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.players[id]
	return p, ok
}

// SessionCount はコミット済みのゲームセッション数を返す。
func (s *MemoryStore) SessionCount(id model.PlayerID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, gs := range s.state.sessions {
		if gs.PlayerID == id {
			n++
		}
	}
	return n
}

// CheckInCount はコミット済みのチェックイン数を返す。
func (s *MemoryStore) CheckInCount(id model.PlayerID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.state.checkIns {
		if k.playerID == id {
			n++
		}
	}
	return n
}

// Payouts は指定期間の報酬記録を順位順に返す。
func (s *MemoryStore) Payouts(period model.Date) []model.Payout {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Payout
	for k, p := range s.state.payouts {
		if k.period == period {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Distribution は指定期間の配布マーカーを返す。
func (s *MemoryStore) Distribution(period model.Date) (model.Distribution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.state.distributions[period]
	return d, ok
}

// NotificationAttempts は記録済みの通知試行を記録順に返す。
func (s *MemoryStore) NotificationAttempts() []model.NotificationAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.NotificationAttempt(nil), s.state.notifications...)
}

// DeleteNotificationsBefore はcutoffより前の通知試行を削除し、削除件数を返す。
func (s *MemoryStore) DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.state.notifications[:0:0]
	var deleted int64
	for _, a := range s.state.notifications {
		if a.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	s.state.notifications = kept
	return deleted, nil
}

func (s *MemoryStore) inject(op string, id model.PlayerID) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(op, id)
}

// clone はトランザクション用の作業コピーを作る。
// sessionsとnotificationsは追記しかされないため配列を共有する。作業コピーでの追記は
// コミット済みの長さより後ろにしか書き込まず、ロールバック時は長さが元に戻るだけになる。
// マップはプレイヤー数に比例してコピーされるので、開発用とテスト用の規模を前提にしている。
func (st *memState) clone() *memState {
	c := &memState{
		players:       make(map[model.PlayerID]model.Player, len(st.players)),
		checkIns:      make(map[checkInKey]model.CheckIn, len(st.checkIns)),
		sessions:      st.sessions,
		nextSessionID: st.nextSessionID,
		distributions: make(map[model.Date]model.Distribution, len(st.distributions)),
		payouts:       make(map[payoutKey]model.Payout, len(st.payouts)),
		notifications: st.notifications,
	}
	for k, v := range st.players {
		c.players[k] = v
	}
	for k, v := range st.checkIns {
		c.checkIns[k] = v
	}
	for k, v := range st.distributions {
		c.distributions[k] = v
	}
	for k, v := range st.payouts {
		c.payouts[k] = v
	}
	return c
}

// memoryTx はmemStateのコピーに対して台帳操作を実装する。
type memoryTx struct {
	store *MemoryStore
	state *memState
}

var errNegativeCounter = errors.New("counter would become negative")

func (t *memoryTx) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	if err := t.store.inject("GetPlayer", id); err != nil {
		return nil, err
	}
	p, ok := t.state.players[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t *memoryTx) LockPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	if err := t.store.inject("LockPlayer", id); err != nil {
		return nil, err
	}
	p, ok := t.state.players[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t *memoryTx) InsertPlayerIfAbsent(ctx context.Context, p *model.Player) (bool, error) {
	if err := t.store.inject("InsertPlayerIfAbsent", p.ID); err != nil {
		return false, err
	}
	if _, ok := t.state.players[p.ID]; ok {
		return false, nil
	}
	t.state.players[p.ID] = *p
	return true, nil
}

func (t *memoryTx) TouchPlayer(ctx context.Context, id model.PlayerID, name model.DisplayName, at time.Time) error {
	if err := t.store.inject("TouchPlayer", id); err != nil {
		return err
	}
	p, ok := t.state.players[id]
	if !ok {
		return model.NewPlayerNotFoundError(id)
	}
	if name.Username != "" {
		p.Username = name.Username
	}
	if name.FirstName != "" {
		p.FirstName = name.FirstName
	}
	if name.LastName != "" {
		p.LastName = name.LastName
	}
	p.LastActiveAt = at
	t.state.players[id] = p
	return nil
}

func (t *memoryTx) AddPoints(ctx context.Context, id model.PlayerID, delta int64) (int64, error) {
	if err := t.store.inject("AddPoints", id); err != nil {
		return 0, err
	}
	p, ok := t.state.players[id]
	if !ok {
		return 0, model.NewPlayerNotFoundError(id)
	}
	if p.Points+delta < 0 {
		return 0, errNegativeCounter
	}
	p.Points += delta
	t.state.players[id] = p
	return p.Points, nil
}

func (t *memoryTx) AddTokens(ctx context.Context, id model.PlayerID, delta int64) (int64, error) {
	if err := t.store.inject("AddTokens", id); err != nil {
		return 0, err
	}
	p, ok := t.state.players[id]
	if !ok {
		return 0, model.NewPlayerNotFoundError(id)
	}
	if p.Tokens+delta < 0 {
		return 0, errNegativeCounter
	}
	p.Tokens += delta
	t.state.players[id] = p
	return p.Tokens, nil
}

func (t *memoryTx) CountPlayersAbove(ctx context.Context, points int64) (int, error) {
	if err := t.store.inject("CountPlayersAbove", 0); err != nil {
		return 0, err
	}
	n := 0
	for _, p := range t.state.players {
		if p.Points > points {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) TopPlayers(ctx context.Context, limit int) ([]*model.Player, error) {
	if err := t.store.inject("TopPlayers", 0); err != nil {
		return nil, err
	}
	all := make([]*model.Player, 0, len(t.state.players))
	for _, p := range t.state.players {
		p := p
		all = append(all, &p)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if !a.RegisteredAt.Equal(b.RegisteredAt) {
			return a.RegisteredAt.Before(b.RegisteredAt)
		}
		return a.ID < b.ID
	})
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (t *memoryTx) InsertCheckIn(ctx context.Context, c *model.CheckIn) (bool, error) {
	if err := t.store.inject("InsertCheckIn", c.PlayerID); err != nil {
		return false, err
	}
	if _, ok := t.state.players[c.PlayerID]; !ok {
		return false, model.NewPlayerNotFoundError(c.PlayerID)
	}
	key := checkInKey{playerID: c.PlayerID, date: c.CheckDate}
	if _, ok := t.state.checkIns[key]; ok {
		return false, nil
	}
	t.state.checkIns[key] = *c
	return true, nil
}

func (t *memoryTx) HasCheckIn(ctx context.Context, id model.PlayerID, date model.Date) (bool, error) {
	if err := t.store.inject("HasCheckIn", id); err != nil {
		return false, err
	}
	_, ok := t.state.checkIns[checkInKey{playerID: id, date: date}]
	return ok, nil
}

func (t *memoryTx) InsertSession(ctx context.Context, s *model.GameSession) (int64, error) {
	if err := t.store.inject("InsertSession", s.PlayerID); err != nil {
		return 0, err
	}
	if _, ok := t.state.players[s.PlayerID]; !ok {
		return 0, model.NewPlayerNotFoundError(s.PlayerID)
	}
	t.state.nextSessionID++
	gs := *s
	gs.ID = t.state.nextSessionID
	t.state.sessions = append(t.state.sessions, gs)
	return gs.ID, nil
}

func (t *memoryTx) MaxScore(ctx context.Context, id model.PlayerID) (int64, error) {
	if err := t.store.inject("MaxScore", id); err != nil {
		return 0, err
	}
	var best int64
	for _, gs := range t.state.sessions {
		if gs.PlayerID == id && gs.Score > best {
			best = gs.Score
		}
	}
	return best, nil
}

func (t *memoryTx) StartDistribution(ctx context.Context, d *model.Distribution) (*model.Distribution, error) {
	if err := t.store.inject("StartDistribution", 0); err != nil {
		return nil, err
	}
	current, ok := t.state.distributions[d.Period]
	if !ok {
		current = model.Distribution{Period: d.Period, RunID: d.RunID, StartedAt: d.StartedAt}
		t.state.distributions[d.Period] = current
	}
	return &current, nil
}

func (t *memoryTx) GetDistribution(ctx context.Context, period model.Date) (*model.Distribution, error) {
	if err := t.store.inject("GetDistribution", 0); err != nil {
		return nil, err
	}
	d, ok := t.state.distributions[period]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (t *memoryTx) CompleteDistribution(ctx context.Context, period model.Date, at time.Time) error {
	if err := t.store.inject("CompleteDistribution", 0); err != nil {
		return err
	}
	d, ok := t.state.distributions[period]
	if !ok || d.CompletedAt != nil {
		return nil
	}
	d.CompletedAt = &at
	t.state.distributions[period] = d
	return nil
}

func (t *memoryTx) InsertPayoutIfAbsent(ctx context.Context, p *model.Payout) (bool, error) {
	if err := t.store.inject("InsertPayoutIfAbsent", p.PlayerID); err != nil {
		return false, err
	}
	if _, ok := t.state.payouts[payoutKey{period: p.Period, position: p.Position}]; ok {
		return false, nil
	}
	for k, existing := range t.state.payouts {
		if k.period == p.Period && existing.PlayerID == p.PlayerID {
			return false, nil
		}
	}
	t.state.payouts[payoutKey{period: p.Period, position: p.Position}] = *p
	return true, nil
}

func (t *memoryTx) MarkPayoutNotified(ctx context.Context, period model.Date, id model.PlayerID, at time.Time) error {
	if err := t.store.inject("MarkPayoutNotified", id); err != nil {
		return err
	}
	for k, p := range t.state.payouts {
		if k.period == period && p.PlayerID == id {
			p.NotifiedAt = &at
			t.state.payouts[k] = p
		}
	}
	return nil
}

func (t *memoryTx) InsertNotificationAttempt(ctx context.Context, a *model.NotificationAttempt) error {
	if err := t.store.inject("InsertNotificationAttempt", a.PlayerID); err != nil {
		return err
	}
	t.state.notifications = append(t.state.notifications, *a)
	return nil
}

// compile-time interface check
var (
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*memoryTx)(nil)
)
