package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sakif/lms/internal/apperror"
	"github.com/sakif/lms/internal/auth"
	"github.com/sakif/lms/internal/model"
	"github.com/sakif/lms/internal/payment"
	"github.com/sakif/lms/internal/repository"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

const testAvatar = "https://cdn.test/default-avatar.png"

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeUserRepo is an in-memory repository.UserRepository. It copies users
// in and out so callers never share a pointer with the "database".
type fakeUserRepo struct {
	mu           sync.Mutex
	users        map[string]*model.User
	entitlements map[string]map[string]bool
	courses      *fakeCourseRepo
	nextID       int

	// set to simulate failures
	createErr      error
	entitlementErr error
	clearResetErr  error
	clearCalls     int
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users:        make(map[string]*model.User),
		entitlements: make(map[string]map[string]bool),
	}
}

func (f *fakeUserRepo) snapshot(u *model.User) *model.User {
	c := *u
	c.Entitlements = []string{}
	for id := range f.entitlements[u.ID] {
		c.Entitlements = append(c.Entitlements, id)
	}
	return &c
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, u := range f.users {
		if u.Email == user.Email ||
			(user.GoogleID != "" && u.GoogleID == user.GoogleID) ||
			(user.GitHubID != "" && u.GitHubID == user.GitHubID) {
			return apperror.Conflict("user already exists")
		}
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return f.snapshot(u), nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return f.snapshot(u), nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeUserRepo) FindByProviderOrEmail(_ context.Context, p model.AuthProvider, providerID, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var byEmail *model.User
	for _, u := range f.users {
		if u.ProviderID(p) == providerID {
			return f.snapshot(u), nil
		}
		if u.Email == email {
			byEmail = u
		}
	}
	if byEmail != nil {
		return f.snapshot(byEmail), nil
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeUserRepo) SetProviderID(_ context.Context, userID string, p model.AuthProvider, providerID string, onlyIfEmpty bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	for _, other := range f.users {
		if other.ID != userID && other.ProviderID(p) == providerID {
			return apperror.Conflict("provider id already linked")
		}
	}
	if onlyIfEmpty && u.ProviderID(p) != "" {
		return nil
	}
	setProviderID(u, p, providerID)
	return nil
}

func (f *fakeUserRepo) UnsetProviderID(_ context.Context, userID string, p model.AuthProvider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	if u.ProviderID(p) == "" {
		return apperror.ValidationFailed("provider", "not linked")
	}
	remaining := 0
	for _, other := range []model.AuthProvider{model.ProviderGoogle, model.ProviderGitHub} {
		if other != p && u.ProviderID(other) != "" {
			remaining++
		}
	}
	if !u.HasPassword() && remaining == 0 {
		return apperror.ValidationFailed("provider", "cannot unlink the only sign-in method")
	}
	setProviderID(u, p, "")
	return nil
}

func (f *fakeUserRepo) update(id string, fn func(u *model.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	fn(u)
	return nil
}

func (f *fakeUserRepo) UpdatePassword(_ context.Context, userID, hash string) error {
	return f.update(userID, func(u *model.User) { u.PasswordHash = hash })
}

func (f *fakeUserRepo) UpdateProfile(_ context.Context, userID, name, phone string) error {
	return f.update(userID, func(u *model.User) { u.Name, u.Phone = name, phone })
}

func (f *fakeUserRepo) SetRole(_ context.Context, email string, role model.Role) error {
	u, err := f.GetByEmail(context.Background(), email)
	if err != nil {
		return err
	}
	return f.update(u.ID, func(u *model.User) { u.Role = role })
}

func (f *fakeUserRepo) SetResetToken(_ context.Context, userID, hash string, expiresAt time.Time) error {
	return f.update(userID, func(u *model.User) {
		u.ResetTokenHash = hash
		u.ResetTokenExpiresAt = &expiresAt
	})
}

func (f *fakeUserRepo) ClearResetToken(_ context.Context, userID string) error {
	f.mu.Lock()
	f.clearCalls++
	err := f.clearResetErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.update(userID, func(u *model.User) {
		u.ResetTokenHash = ""
		u.ResetTokenExpiresAt = nil
	})
}

func (f *fakeUserRepo) GetByResetTokenHash(_ context.Context, hash string, now time.Time) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if hash != "" && u.ResetTokenHash == hash && u.ResetTokenExpiresAt != nil && u.ResetTokenExpiresAt.After(now) {
			return f.snapshot(u), nil
		}
	}
	return nil, apperror.NotFound("reset token", "")
}

func (f *fakeUserRepo) ResetPassword(_ context.Context, userID, tokenHash, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || u.ResetTokenHash != tokenHash {
		return apperror.NotFound("user", userID)
	}
	u.PasswordHash = passwordHash
	u.ResetTokenHash = ""
	u.ResetTokenExpiresAt = nil
	return nil
}

func (f *fakeUserRepo) AddEntitlement(_ context.Context, userID, courseID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entitlementErr != nil {
		return false, f.entitlementErr
	}
	set, ok := f.entitlements[userID]
	if !ok {
		set = make(map[string]bool)
		f.entitlements[userID] = set
	}
	if set[courseID] {
		return false, nil
	}
	set[courseID] = true
	return true, nil
}

func (f *fakeUserRepo) ListEntitledCourses(_ context.Context, userID string) ([]model.Course, error) {
	f.mu.Lock()
	ids := f.entitlements[userID]
	f.mu.Unlock()
	courses := []model.Course{}
	for id := range ids {
		if f.courses != nil {
			if c, err := f.courses.GetCourseByID(context.Background(), id); err == nil {
				courses = append(courses, *c)
			}
		}
	}
	return courses, nil
}

type fakeCourseRepo struct {
	mu      sync.Mutex
	courses map[string]*model.Course
}

func newFakeCourseRepo(courses ...model.Course) *fakeCourseRepo {
	f := &fakeCourseRepo{courses: make(map[string]*model.Course)}
	for _, c := range courses {
		f.courses[c.ID] = &c
	}
	return f
}

func (f *fakeCourseRepo) CreateCourse(_ context.Context, c *model.Course) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *c
	f.courses[c.ID] = &stored
	return nil
}

func (f *fakeCourseRepo) GetCourseByID(_ context.Context, id string) (*model.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.courses[id]
	if !ok {
		return nil, apperror.NotFound("course", id)
	}
	cp := *c
	return &cp, nil
}

type fakePaymentRepo struct {
	mu       sync.Mutex
	payments []model.Payment
}

func (f *fakePaymentRepo) CreatePayment(_ context.Context, p *model.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.payments {
		if existing.ProviderOrderID == p.ProviderOrderID && existing.ProviderPaymentID == p.ProviderPaymentID {
			return apperror.Conflict("payment already recorded")
		}
	}
	p.ID = fmt.Sprintf("pay-%d", len(f.payments)+1)
	p.CreatedAt = time.Now()
	f.payments = append(f.payments, *p)
	return nil
}

func (f *fakePaymentRepo) GetPaymentByProviderIDs(_ context.Context, orderID, paymentID string) (*model.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.ProviderOrderID == orderID && p.ProviderPaymentID == paymentID {
			cp := p
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("payment", orderID)
}

func (f *fakePaymentRepo) ListPayments(_ context.Context, opts repository.ListOptions) ([]model.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if opts.Offset >= len(f.payments) {
		return []model.Payment{}, nil
	}
	end := min(opts.Offset+opts.Limit, len(f.payments))
	return append([]model.Payment(nil), f.payments[opts.Offset:end]...), nil
}

func (f *fakePaymentRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payments)
}

// fakeGateway is a payment.Provider that signs like the real one.
type fakeGateway struct {
	secret    string
	orderErr  error
	lastOrder struct {
		amount   int64
		currency string
		receipt  string
	}
}

var _ payment.Provider = (*fakeGateway)(nil)

func (g *fakeGateway) KeyID() string { return "rzp_test_public" }

func (g *fakeGateway) CreateOrder(_ context.Context, amount int64, currency, receipt string) (*payment.Order, error) {
	if g.orderErr != nil {
		return nil, g.orderErr
	}
	g.lastOrder.amount, g.lastOrder.currency, g.lastOrder.receipt = amount, currency, receipt
	return &payment.Order{ID: "order_" + receipt, Amount: amount, Currency: currency, Receipt: receipt, Status: "created"}, nil
}

func (g *fakeGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return payment.NewRazorpay("k", g.secret, "", time.Second).VerifySignature(orderID, paymentID, signature)
}

// fakeMailer records reset links instead of sending them.
type fakeMailer struct {
	mu    sync.Mutex
	err   error
	sent  []string
	names []string
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, to, name, resetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to+" "+resetURL)
	m.names = append(m.names, name)
	return nil
}

// fakeOAuthProvider returns profile for any code, or, when byCode is set,
// only the profile issued for that code.
type fakeOAuthProvider struct {
	name    model.AuthProvider
	profile *auth.ExternalProfile
	byCode  map[string]*auth.ExternalProfile
	err     error
}

func (p *fakeOAuthProvider) Name() model.AuthProvider { return p.name }
func (p *fakeOAuthProvider) AuthURL(state string) string {
	return "https://provider.test/authorize?state=" + state
}
func (p *fakeOAuthProvider) Exchange(_ context.Context, code string) (*auth.ExternalProfile, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.byCode != nil {
		profile, ok := p.byCode[code]
		if !ok {
			return nil, errors.New("oauth2: bad_verification_code")
		}
		return profile, nil
	}
	return p.profile, nil
}

// issuingProvider hands out one code per account id: "code-<id>" proves
// ownership of <id>.
func issuingProvider(name model.AuthProvider, ids ...string) *fakeOAuthProvider {
	p := &fakeOAuthProvider{name: name, byCode: make(map[string]*auth.ExternalProfile, len(ids))}
	for _, id := range ids {
		p.byCode["code-"+id] = &auth.ExternalProfile{
			Provider:       name,
			ProviderUserID: id,
			Email:          id + "@" + string(name) + ".test",
			Name:           id,
		}
	}
	return p
}

func newTestTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// Cost 4 is the bcrypt minimum and keeps the tests fast.
func newTestPasswords() *auth.PasswordService {
	return auth.NewPasswordServiceForTest(4)
}
