package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/domain"
)

// MemoryStore реализация всех репозиториев в памяти (тесты, локальный запуск без БД)
type MemoryStore struct {
	mutex     sync.RWMutex
	users     map[string]domain.User
	scans     map[string]domain.Scan
	keys      map[string]domain.APIKey
	schedules map[string]domain.ScheduledScan
	audit     []domain.AuditLog
	auditSeq  int64
	now       func() time.Time
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]domain.User),
		scans:     make(map[string]domain.Scan),
		keys:      make(map[string]domain.APIKey),
		schedules: make(map[string]domain.ScheduledScan),
		now:       time.Now,
	}
}

// Users репозиторий пользователей
func (s *MemoryStore) Users() UserRepository { return &memoryUsers{s} }

// Scans репозиторий сканов
func (s *MemoryStore) Scans() ScanRepository { return &memoryScans{s} }

// APIKeys репозиторий ключей
func (s *MemoryStore) APIKeys() APIKeyRepository { return &memoryKeys{s} }

// Schedules репозиторий запланированных сканов
func (s *MemoryStore) Schedules() ScheduledScanRepository { return &memorySchedules{s} }

// Audit журнал
func (s *MemoryStore) Audit() AuditRepository { return &memoryAudit{s} }

// PutUser сохраняет пользователя как есть (заготовка данных)
func (s *MemoryStore) PutUser(u domain.User) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.users[u.ID] = u
}

// AuditEntries копия журнала
func (s *MemoryStore) AuditEntries() []domain.AuditLog {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]domain.AuditLog, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *MemoryStore) appendAuditLocked(entry domain.AuditLog) {
	s.auditSeq++
	entry.ID = s.auditSeq
	s.audit = append(s.audit, entry)
}

type memoryUsers struct{ s *MemoryStore }

func (r *memoryUsers) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.NewNotFoundError("user", id)
	}
	return &u, nil
}

func (r *memoryUsers) GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.User, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	for _, u := range r.s.users {
		if u.StripeCustomerID != nil && *u.StripeCustomerID == customerID {
			return &u, nil
		}
	}
	return nil, domain.NewNotFoundError("user", customerID)
}

func (r *memoryUsers) Ensure(ctx context.Context, id, email string) (*domain.User, error) {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	if u, ok := r.s.users[id]; ok {
		return &u, nil
	}
	now := r.s.now()
	u := domain.User{
		ID:           id,
		Email:        email,
		Subscription: domain.PlanFree,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.s.users[id] = u
	return &u, nil
}

func (r *memoryUsers) LinkStripeCustomer(ctx context.Context, id, customerID string) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return domain.NewNotFoundError("user", id)
	}
	for otherID, other := range r.s.users {
		if otherID != id && other.StripeCustomerID != nil && *other.StripeCustomerID == customerID {
			return domain.NewDuplicateError("user", "stripe_customer_id", customerID)
		}
	}
	u.StripeCustomerID = &customerID
	u.UpdatedAt = r.s.now()
	r.s.users[id] = u
	return nil
}

func (r *memoryUsers) StartTrial(ctx context.Context, id string, started, ends time.Time) (bool, error) {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return false, domain.NewNotFoundError("user", id)
	}
	if !u.TrialAvailable() {
		return false, nil
	}
	u.Subscription = domain.PlanTrial
	u.TrialStarted = &started
	u.TrialEnds = &ends
	u.UpdatedAt = started
	r.s.users[id] = u
	r.s.appendAuditLocked(domain.NewAuditLog(id, domain.AuditTrialStarted, map[string]any{"trialEnds": ends}, started))
	return true, nil
}

func (r *memoryUsers) ExpireTrials(ctx context.Context, now time.Time) ([]string, error) {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	var ids []string
	for id, u := range r.s.users {
		if u.Subscription != domain.PlanTrial || u.HadTrial || u.TrialEnds == nil || u.TrialEnds.After(now) {
			continue
		}
		u.Subscription = domain.PlanFree
		u.HadTrial = true
		u.UpdatedAt = now
		r.s.users[id] = u
		r.s.appendAuditLocked(domain.NewAuditLog(id, domain.AuditTrialExpired, map[string]any{"trialEnds": *u.TrialEnds}, now))
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memoryUsers) EndPaidPeriods(ctx context.Context, now time.Time) ([]domain.User, error) {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	var ended []domain.User
	for id, u := range r.s.users {
		if !u.PaidPeriodEnded(now) {
			continue
		}
		ended = append(ended, u)
		r.s.appendAuditLocked(domain.NewAuditLog(id, domain.AuditPlanChanged, map[string]any{
			"from":      u.Subscription,
			"to":        domain.PlanFree,
			"source":    "period_end",
			"paidUntil": *u.PaidUntil,
		}, now))
		u.Subscription = domain.PlanFree
		u.StripeSubscriptionID = nil
		u.PaidUntil = nil
		u.UpdatedAt = now
		r.s.users[id] = u
	}
	sort.Slice(ended, func(i, j int) bool { return ended[i].ID < ended[j].ID })
	return ended, nil
}

func (r *memoryUsers) UpdateSubscription(ctx context.Context, id string, upd domain.SubscriptionUpdate) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return domain.NewNotFoundError("user", id)
	}
	u.Subscription = upd.Plan
	u.StripeSubscriptionID = upd.StripeSubscriptionID
	u.PaidUntil = upd.PaidUntil
	if upd.TrialEnds != nil {
		u.TrialEnds = upd.TrialEnds
	}
	if upd.MarkHadTrial {
		u.HadTrial = true
	}
	u.UpdatedAt = r.s.now()
	r.s.users[id] = u
	return nil
}

func (r *memoryUsers) ListWithBillingCustomer(ctx context.Context) ([]domain.User, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	var out []domain.User
	for _, u := range r.s.users {
		if u.HasBillingCustomer() {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryUsers) ListTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]domain.User, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	var out []domain.User
	for _, u := range r.s.users {
		if u.Subscription != domain.PlanTrial || u.HadTrial || u.TrialEnds == nil {
			continue
		}
		if u.TrialEnds.After(from) && !u.TrialEnds.After(to) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryUsers) ResetAPIUsage(ctx context.Context, id string, previous *time.Time, cycleStart time.Time) (bool, error) {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return false, domain.NewNotFoundError("user", id)
	}
	if !sameInstant(u.BillingCycleStart, previous) {
		return false, nil
	}
	u.APIRequestsUsed = 0
	u.BillingCycleStart = &cycleStart
	r.s.users[id] = u
	return true, nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (r *memoryUsers) IncrementAPIUsage(ctx context.Context, id string, limit int) (int, bool, error) {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return 0, false, domain.NewNotFoundError("user", id)
	}
	if !domain.WithinLimit(u.APIRequestsUsed, limit) {
		return u.APIRequestsUsed, false, nil
	}
	u.APIRequestsUsed++
	r.s.users[id] = u
	return u.APIRequestsUsed, true, nil
}

type memoryScans struct{ s *MemoryStore }

func (r *memoryScans) Create(ctx context.Context, scan *domain.Scan) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	if _, exists := r.s.scans[scan.ID]; exists {
		return domain.NewDuplicateError("scan", "id", scan.ID)
	}
	r.s.scans[scan.ID] = *scan
	return nil
}

func (r *memoryScans) Complete(ctx context.Context, id string, issueCount int, results string, at time.Time) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	scan, ok := r.s.scans[id]
	if !ok || scan.Status != domain.ScanStatusPending {
		return domain.NewNotFoundError("pending scan", id)
	}
	scan.Status = domain.ScanStatusCompleted
	scan.IssueCount = issueCount
	scan.Results = results
	scan.CompletedAt = &at
	r.s.scans[id] = scan
	return nil
}

func (r *memoryScans) Fail(ctx context.Context, id, reason string, at time.Time) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	scan, ok := r.s.scans[id]
	if !ok || scan.Status != domain.ScanStatusPending {
		return domain.NewNotFoundError("pending scan", id)
	}
	scan.Status = domain.ScanStatusFailed
	scan.Error = &reason
	scan.CompletedAt = &at
	r.s.scans[id] = scan
	return nil
}

func (r *memoryScans) GetByID(ctx context.Context, id string) (*domain.Scan, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	scan, ok := r.s.scans[id]
	if !ok {
		return nil, domain.NewNotFoundError("scan", id)
	}
	return &scan, nil
}

func (r *memoryScans) CountByUser(ctx context.Context, userID string, includeFailed bool) (int, error) {
	return r.CountByUserSince(ctx, userID, time.Time{}, includeFailed)
}

func (r *memoryScans) CountByUserSince(ctx context.Context, userID string, since time.Time, includeFailed bool) (int, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	count := 0
	for _, scan := range r.s.scans {
		if scan.UserID == nil || *scan.UserID != userID {
			continue
		}
		if scan.CreatedAt.Before(since) {
			continue
		}
		if !includeFailed && scan.Status == domain.ScanStatusFailed {
			continue
		}
		count++
	}
	return count, nil
}

func (r *memoryScans) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Scan, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	var out []domain.Scan
	for _, scan := range r.s.scans {
		if scan.UserID != nil && *scan.UserID == userID {
			out = append(out, scan)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryKeys struct{ s *MemoryStore }

func (r *memoryKeys) Create(ctx context.Context, key *domain.APIKey) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	for _, k := range r.s.keys {
		if k.KeyHash == key.KeyHash {
			return domain.NewDuplicateError("api key", "hash", key.KeyPrefix)
		}
	}
	r.s.keys[key.ID] = *key
	return nil
}

func (r *memoryKeys) GetByID(ctx context.Context, id string) (*domain.APIKey, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	k, ok := r.s.keys[id]
	if !ok {
		return nil, domain.NewNotFoundError("api key", id)
	}
	return &k, nil
}

func (r *memoryKeys) GetByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	for _, k := range r.s.keys {
		if k.KeyHash == hash {
			return &k, nil
		}
	}
	return nil, domain.NewNotFoundError("api key", "hash")
}

func (r *memoryKeys) ListByUser(ctx context.Context, userID string) ([]domain.APIKey, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	var out []domain.APIKey
	for _, k := range r.s.keys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryKeys) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	count := 0
	for _, k := range r.s.keys {
		if k.UserID == userID && k.Active {
			count++
		}
	}
	return count, nil
}

func (r *memoryKeys) Revoke(ctx context.Context, id string) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	k, ok := r.s.keys[id]
	if !ok {
		return domain.NewNotFoundError("api key", id)
	}
	k.Active = false
	r.s.keys[id] = k
	return nil
}

func (r *memoryKeys) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	k, ok := r.s.keys[id]
	if !ok {
		return domain.NewNotFoundError("api key", id)
	}
	k.LastUsedAt = &at
	r.s.keys[id] = k
	return nil
}

type memorySchedules struct{ s *MemoryStore }

func (r *memorySchedules) Create(ctx context.Context, sch *domain.ScheduledScan) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	if _, exists := r.s.schedules[sch.ID]; exists {
		return domain.NewDuplicateError("scheduled scan", "id", sch.ID)
	}
	r.s.schedules[sch.ID] = *sch
	return nil
}

func (r *memorySchedules) GetByID(ctx context.Context, id string) (*domain.ScheduledScan, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	sch, ok := r.s.schedules[id]
	if !ok {
		return nil, domain.NewNotFoundError("scheduled scan", id)
	}
	return &sch, nil
}

func (r *memorySchedules) ListByUser(ctx context.Context, userID string) ([]domain.ScheduledScan, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	var out []domain.ScheduledScan
	for _, sch := range r.s.schedules {
		if sch.UserID == userID {
			out = append(out, sch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memorySchedules) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	count := 0
	for _, sch := range r.s.schedules {
		if sch.UserID == userID && sch.Enabled {
			count++
		}
	}
	return count, nil
}

func (r *memorySchedules) Update(ctx context.Context, sch *domain.ScheduledScan) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	if _, ok := r.s.schedules[sch.ID]; !ok {
		return domain.NewNotFoundError("scheduled scan", sch.ID)
	}
	r.s.schedules[sch.ID] = *sch
	return nil
}

func (r *memorySchedules) Delete(ctx context.Context, id string) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	if _, ok := r.s.schedules[id]; !ok {
		return domain.NewNotFoundError("scheduled scan", id)
	}
	delete(r.s.schedules, id)
	return nil
}

func (r *memorySchedules) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledScan, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	var out []domain.ScheduledScan
	for _, sch := range r.s.schedules {
		if sch.Enabled && !sch.NextRun.After(now) {
			out = append(out, sch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(out[j].NextRun) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memorySchedules) MarkRun(ctx context.Context, id string, ranAt, nextRun time.Time, issueCount int) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	sch, ok := r.s.schedules[id]
	if !ok {
		return domain.NewNotFoundError("scheduled scan", id)
	}
	sch.LastRun = &ranAt
	sch.NextRun = nextRun
	if issueCount >= 0 {
		sch.LastIssueCount = &issueCount
	}
	sch.UpdatedAt = ranAt
	r.s.schedules[id] = sch
	return nil
}

type memoryAudit struct{ s *MemoryStore }

func (r *memoryAudit) Append(ctx context.Context, entry domain.AuditLog) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()
	r.s.appendAuditLocked(entry)
	return nil
}

func (r *memoryAudit) HasActionSince(ctx context.Context, userID string, action domain.AuditAction, since time.Time) (bool, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	for _, e := range r.s.audit {
		if e.UserID == userID && e.Action == action && !e.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryAudit) ListByUser(ctx context.Context, userID string, limit int) ([]domain.AuditLog, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	var out []domain.AuditLog
	for i := len(r.s.audit) - 1; i >= 0; i-- {
		if r.s.audit[i].UserID == userID {
			out = append(out, r.s.audit[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
