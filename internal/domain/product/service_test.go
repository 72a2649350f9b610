package product

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-discounts/internal/domain/apperr"
	"github.com/xenking/storefront-discounts/internal/domain/paging"
)

// --- Mock implementations ---

type mockTx struct{}

func (mockTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockRepo struct {
	byID   map[int64]*Product
	nextID int64
}

func newMockRepo(products ...*Product) *mockRepo {
	r := &mockRepo{byID: map[int64]*Product{}}
	for _, p := range products {
		r.byID[p.ID] = p
		r.nextID = max(r.nextID, p.ID)
	}
	return r
}

func (m *mockRepo) Create(_ context.Context, p *Product) error {
	m.nextID++
	p.ID = m.nextID
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *mockRepo) Update(_ context.Context, p *Product) error {
	if _, ok := m.byID[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id int64) (*Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) GetByIDForUpdate(ctx context.Context, id int64) (*Product, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) NameTaken(_ context.Context, name string, excludeID int64) (bool, error) {
	for _, p := range m.byID {
		if p.IsActive && p.ID != excludeID && strings.EqualFold(p.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) List(_ context.Context, f Filter) ([]Product, int, error) {
	var out []Product
	for id := int64(1); id <= m.nextID; id++ {
		if p, ok := m.byID[id]; ok && f.Matches(p) {
			out = append(out, *p)
		}
	}
	lo, hi := paging.Window(f.Page, len(out))
	return out[lo:hi], len(out), nil
}

func newTestService(products ...*Product) (*Service, *mockRepo) {
	repo := newMockRepo(products...)
	return NewService(mockTx{}, repo).WithClock(func() time.Time { return testNow }), repo
}

// --- Tests ---

func TestServiceCreate(t *testing.T) {
	svc, repo := newTestService()

	p, err := svc.Create(context.Background(), CreateParams{
		Name:  "  Lamp ",
		Price: decimal.RequireFromString("25.499"),
		Stock: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "Lamp", p.Name)
	assert.Equal(t, "25.50", p.Price.StringFixed(2))
	assert.True(t, p.IsActive)
	assert.False(t, p.HasActiveDiscount)
	assert.Len(t, repo.byID, 1)
}

func TestServiceCreate_Validation(t *testing.T) {
	existing := newTestProduct("10.00")

	tests := []struct {
		name   string
		params CreateParams
	}{
		{name: "empty name", params: CreateParams{Name: " ", Price: decimal.NewFromInt(1)}},
		{name: "long name", params: CreateParams{Name: strings.Repeat("x", 101), Price: decimal.NewFromInt(1)}},
		{name: "zero price", params: CreateParams{Name: "Lamp"}},
		{name: "sub-cent price", params: CreateParams{Name: "Lamp", Price: decimal.RequireFromString("0.004")}},
		{name: "negative stock", params: CreateParams{Name: "Lamp", Price: decimal.NewFromInt(1), Stock: -1}},
		{name: "duplicate name", params: CreateParams{Name: "WIDGET", Price: decimal.NewFromInt(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := *existing
			svc, repo := newTestService(&e)
			_, err := svc.Create(context.Background(), tt.params)
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
			assert.Len(t, repo.byID, 1)
		})
	}
}

func TestServiceUpdate(t *testing.T) {
	svc, _ := newTestService(newTestProduct("10.00"))

	name := "widget"
	price := decimal.RequireFromString("12.00")
	stock := 0
	p, err := svc.Update(context.Background(), 1, UpdateParams{Name: &name, Price: &price, Stock: &stock})
	require.NoError(t, err)
	assert.Equal(t, "widget", p.Name)
	assert.True(t, price.Equal(p.Price))
	assert.True(t, p.IsOutOfStock())
	require.NotNil(t, p.UpdatedAt)
}

func TestServicePriceRoundsToCents(t *testing.T) {
	svc, repo := newTestService()

	p, err := svc.Create(context.Background(), CreateParams{Name: "Lamp", Price: decimal.RequireFromString("0.005")})
	require.NoError(t, err)
	assert.Equal(t, "0.01", p.Price.StringFixed(2))

	sub := decimal.RequireFromString("0.0049")
	_, err = svc.Update(context.Background(), p.ID, UpdateParams{Price: &sub})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, "0.01", repo.byID[p.ID].Price.StringFixed(2))
}

func TestServiceUpdate_KeepsDiscount(t *testing.T) {
	p := newTestProduct("100.00")
	require.NoError(t, p.ApplyPercentageDiscount(decimal.NewFromInt(10), testNow))
	svc, repo := newTestService(p)

	price := decimal.RequireFromString("200.00")
	_, err := svc.Update(context.Background(), 1, UpdateParams{Price: &price})
	require.NoError(t, err)
	assert.True(t, repo.byID[1].HasActiveDiscount)
	assert.Equal(t, "180.00", repo.byID[1].FinalPrice().StringFixed(2))
}

func TestServiceDelete(t *testing.T) {
	svc, repo := newTestService(newTestProduct("10.00"))
	ctx := context.Background()

	require.NoError(t, svc.Delete(ctx, 1))
	assert.False(t, repo.byID[1].IsActive)

	_, err := svc.Get(ctx, 1)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, svc.Delete(ctx, 1), ErrNotFound)
	require.ErrorIs(t, svc.Delete(ctx, 99), ErrNotFound)
}

func TestServiceList(t *testing.T) {
	var products []*Product
	for i := int64(1); i <= 4; i++ {
		p := newTestProduct("10.00")
		p.ID = i
		products = append(products, p)
	}
	products[3].Stock = 0
	svc, _ := newTestService(products...)

	res, err := svc.List(context.Background(), Filter{OnlyOutOfStock: true})
	require.NoError(t, err)
	require.Len(t, res.Products, 1)
	assert.Equal(t, int64(4), res.Products[0].ID)
	assert.Equal(t, paging.Meta{Page: 1, Pages: 1, PerPage: paging.DefaultLimit, Total: 1}, res.Meta)
}
