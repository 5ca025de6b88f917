package orderbook

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	errs "github.com/openbourse/bourse/common/errors"
	"github.com/openbourse/bourse/internal/exchange"
	"github.com/openbourse/bourse/internal/store"
	"github.com/openbourse/bourse/internal/vault"
	"github.com/openbourse/bourse/pkg/models"
)

type testEnv struct {
	authority uuid.UUID
	exchange  *exchange.Service
	vaults    *vault.Manager
	store     *store.Store
	service   *Service
	book      *models.OrderBook
	baseAsset uuid.UUID
	quote     uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	st, err := store.Open("", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	exch, err := exchange.NewService(logger, st)
	require.NoError(t, err)
	authority := uuid.New()
	require.NoError(t, exch.Initialize(authority, uuid.New(), 10, 20))

	vaults := vault.NewManager(logger)
	svc, err := NewService(logger, exch, vaults, st)
	require.NoError(t, err)

	baseAsset := uuid.New()
	quoteAsset := uuid.New()
	book, err := svc.CreateBook(authority, baseAsset, quoteAsset, models.AssetToken, models.AssetToken, 100, 1)
	require.NoError(t, err)

	return &testEnv{
		authority: authority,
		exchange:  exch,
		vaults:    vaults,
		store:     st,
		service:   svc,
		book:      book,
		baseAsset: baseAsset,
		quote:     quoteAsset,
	}
}

func (e *testEnv) fundBase(t *testing.T, trader uuid.UUID, amount uint64) {
	t.Helper()
	require.NoError(t, e.vaults.Fund(vault.AccountRef{Holder: trader, Kind: models.AssetToken, Asset: e.baseAsset}, amount))
}

func (e *testEnv) fundQuote(t *testing.T, trader uuid.UUID, amount uint64) {
	t.Helper()
	require.NoError(t, e.vaults.Fund(vault.AccountRef{Holder: trader, Kind: models.AssetToken, Asset: e.quote}, amount))
}

func (e *testEnv) baseBalance(trader uuid.UUID) uint64 {
	return e.vaults.BalanceOf(vault.AccountRef{Holder: trader, Kind: models.AssetToken, Asset: e.baseAsset})
}

func (e *testEnv) quoteBalance(trader uuid.UUID) uint64 {
	return e.vaults.BalanceOf(vault.AccountRef{Holder: trader, Kind: models.AssetToken, Asset: e.quote})
}

func TestCreateBook(t *testing.T) {
	env := newTestEnv(t)

	assert.True(t, env.book.Active)
	assert.Equal(t, uint64(100), env.book.TickSize)
	assert.NotEqual(t, uuid.Nil, env.book.BaseVault)
	assert.NotEqual(t, uuid.Nil, env.book.QuoteVault)
	assert.NotEqual(t, env.book.BaseVault, env.book.QuoteVault)

	t.Run("duplicate pair rejected", func(t *testing.T) {
		_, err := env.service.CreateBook(env.authority, env.baseAsset, env.quote, models.AssetToken, models.AssetToken, 100, 1)
		assert.ErrorIs(t, err, errs.ErrOrderBookExists)
	})

	t.Run("non-authority rejected", func(t *testing.T) {
		_, err := env.service.CreateBook(uuid.New(), uuid.New(), uuid.New(), models.AssetToken, models.AssetToken, 100, 1)
		assert.ErrorIs(t, err, errs.ErrUnauthorized)
	})

	t.Run("zero tick size rejected", func(t *testing.T) {
		_, err := env.service.CreateBook(env.authority, uuid.New(), uuid.New(), models.AssetToken, models.AssetToken, 0, 1)
		assert.ErrorIs(t, err, errs.ErrInvalidTickSize)
	})
}

func TestPlaceLimitLocksFunds(t *testing.T) {
	env := newTestEnv(t)
	seller := uuid.New()
	buyer := uuid.New()
	env.fundBase(t, seller, 1_000)
	env.fundQuote(t, buyer, 1_000_000)

	ask, err := env.service.PlaceLimit(env.book.ID, seller, models.SideAsk, models.OrderTypeLimit, 500, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ask.ID)
	assert.Equal(t, uint64(995), env.baseBalance(seller), "ask locks the base quantity")

	bid, err := env.service.PlaceLimit(env.book.ID, buyer, models.SideBid, models.OrderTypeLimit, 400, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), bid.ID)
	assert.Equal(t, uint64(1_000_000-1_200), env.quoteBalance(buyer), "bid locks price times quantity of quote")

	rec, err := env.service.Book(env.book.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.TotalOrders)
	assert.Equal(t, uint64(2), rec.NextOrderID)
}

func TestPlaceLimitValidation(t *testing.T) {
	env := newTestEnv(t)
	trader := uuid.New()
	env.fundBase(t, trader, 1_000)

	t.Run("misaligned price leaves funds untouched", func(t *testing.T) {
		_, err := env.service.PlaceLimit(env.book.ID, trader, models.SideAsk, models.OrderTypeLimit, 99, 5)
		assert.ErrorIs(t, err, errs.ErrPriceNotAligned)
		assert.Equal(t, uint64(1_000), env.baseBalance(trader))

		rec, err := env.service.Book(env.book.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), rec.TotalOrders)
		assert.Equal(t, uint64(0), rec.NextOrderID)
	})

	t.Run("zero price", func(t *testing.T) {
		_, err := env.service.PlaceLimit(env.book.ID, trader, models.SideAsk, models.OrderTypeLimit, 0, 5)
		assert.ErrorIs(t, err, errs.ErrInvalidPrice)
	})

	t.Run("below minimum size", func(t *testing.T) {
		_, err := env.service.PlaceLimit(env.book.ID, trader, models.SideAsk, models.OrderTypeLimit, 100, 0)
		assert.ErrorIs(t, err, errs.ErrQuantityBelowMinimum)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		_, err := env.service.PlaceLimit(env.book.ID, trader, models.SideAsk, models.OrderTypeLimit, 100, 5_000)
		assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
	})

	t.Run("unknown book", func(t *testing.T) {
		_, err := env.service.PlaceLimit(uuid.New(), trader, models.SideAsk, models.OrderTypeLimit, 100, 5)
		assert.ErrorIs(t, err, errs.ErrBookNotFound)
	})

	t.Run("paused exchange", func(t *testing.T) {
		require.NoError(t, env.exchange.Pause(env.authority))
		defer func() { require.NoError(t, env.exchange.Resume(env.authority)) }()
		_, err := env.service.PlaceLimit(env.book.ID, trader, models.SideAsk, models.OrderTypeLimit, 100, 5)
		assert.ErrorIs(t, err, errs.ErrExchangePaused)
	})
}

func TestPostOnlyRejectsCrossing(t *testing.T) {
	env := newTestEnv(t)
	seller := uuid.New()
	buyer := uuid.New()
	env.fundBase(t, seller, 1_000)
	env.fundQuote(t, buyer, 1_000_000)

	_, err := env.service.PlaceLimit(env.book.ID, seller, models.SideAsk, models.OrderTypeLimit, 500, 5)
	require.NoError(t, err)

	_, err = env.service.PlaceLimit(env.book.ID, buyer, models.SideBid, models.OrderTypePostOnly, 500, 2)
	assert.ErrorIs(t, err, errs.ErrPostOnlyWouldMatch)
	assert.Equal(t, uint64(1_000_000), env.quoteBalance(buyer))

	_, err = env.service.PlaceLimit(env.book.ID, buyer, models.SideBid, models.OrderTypePostOnly, 400, 2)
	assert.NoError(t, err, "non-crossing post-only rests")
}

func TestPriceTimePriority(t *testing.T) {
	env := newTestEnv(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	env.fundBase(t, a, 100)
	env.fundBase(t, b, 100)
	env.fundBase(t, c, 100)

	// same price: earlier placement wins; better price beats both
	first, err := env.service.PlaceLimit(env.book.ID, a, models.SideAsk, models.OrderTypeLimit, 500, 1)
	require.NoError(t, err)
	_, err = env.service.PlaceLimit(env.book.ID, b, models.SideAsk, models.OrderTypeLimit, 500, 1)
	require.NoError(t, err)
	cheaper, err := env.service.PlaceLimit(env.book.ID, c, models.SideAsk, models.OrderTypeLimit, 400, 1)
	require.NoError(t, err)

	err = env.service.WithBook(env.book.ID, func(bk *Book) error {
		best := bk.BestAsk()
		require.NotNil(t, best)
		assert.Equal(t, cheaper.ID, best.ID)

		require.NotNil(t, best.Next)
		assert.Equal(t, first.ID, *best.Next, "ties break by placement time")
		return nil
	})
	require.NoError(t, err)
}

func TestCancelOrderRefundsUnfilled(t *testing.T) {
	env := newTestEnv(t)
	buyer := uuid.New()
	env.fundQuote(t, buyer, 10_000)

	bid, err := env.service.PlaceLimit(env.book.ID, buyer, models.SideBid, models.OrderTypeLimit, 500, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(8_000), env.quoteBalance(buyer))

	// simulate a partial fill of 1 unit
	err = env.service.WithBook(env.book.ID, func(bk *Book) error {
		o, ok := bk.Order(bid.ID)
		require.True(t, ok)
		return bk.ApplyFill(o, 1)
	})
	require.NoError(t, err)

	refund, err := env.service.CancelOrder(env.book.ID, buyer, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(500*3), refund)
	assert.Equal(t, uint64(9_500), env.quoteBalance(buyer))

	rec, err := env.service.Book(env.book.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rec.TotalOrders)

	t.Run("second cancel rejected", func(t *testing.T) {
		_, err := env.service.CancelOrder(env.book.ID, buyer, bid.ID)
		assert.ErrorIs(t, err, errs.ErrOrderInactive)
	})
}

func TestCancelOrderAuthorization(t *testing.T) {
	env := newTestEnv(t)
	buyer := uuid.New()
	env.fundQuote(t, buyer, 10_000)

	bid, err := env.service.PlaceLimit(env.book.ID, buyer, models.SideBid, models.OrderTypeLimit, 500, 4)
	require.NoError(t, err)

	_, err = env.service.CancelOrder(env.book.ID, uuid.New(), bid.ID)
	assert.ErrorIs(t, err, errs.ErrUnauthorizedOrder)

	_, err = env.service.CancelOrder(env.book.ID, buyer, 77)
	assert.ErrorIs(t, err, errs.ErrOrderNotFound)
}

func TestModifyOrder(t *testing.T) {
	env := newTestEnv(t)
	buyer := uuid.New()
	env.fundQuote(t, buyer, 10_000)

	bid, err := env.service.PlaceLimit(env.book.ID, buyer, models.SideBid, models.OrderTypeLimit, 500, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(8_000), env.quoteBalance(buyer))

	t.Run("raising the lock debits the difference", func(t *testing.T) {
		price := uint64(600)
		require.NoError(t, env.service.ModifyOrder(env.book.ID, buyer, bid.ID, &price, nil))
		assert.Equal(t, uint64(10_000-2_400), env.quoteBalance(buyer))
	})

	t.Run("lowering the lock refunds the difference", func(t *testing.T) {
		qty := uint64(2)
		require.NoError(t, env.service.ModifyOrder(env.book.ID, buyer, bid.ID, nil, &qty))
		assert.Equal(t, uint64(10_000-1_200), env.quoteBalance(buyer))
	})

	t.Run("misaligned new price rejected", func(t *testing.T) {
		price := uint64(601)
		err := env.service.ModifyOrder(env.book.ID, buyer, bid.ID, &price, nil)
		assert.ErrorIs(t, err, errs.ErrPriceNotAligned)
	})

	t.Run("partially filled order cannot be modified", func(t *testing.T) {
		err := env.service.WithBook(env.book.ID, func(bk *Book) error {
			o, ok := bk.Order(bid.ID)
			require.True(t, ok)
			return bk.ApplyFill(o, 1)
		})
		require.NoError(t, err)

		price := uint64(700)
		err = env.service.ModifyOrder(env.book.ID, buyer, bid.ID, &price, nil)
		assert.ErrorIs(t, err, errs.ErrOrderAlreadyFilled)

		o, err := env.service.Order(env.book.ID, bid.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(600), o.Price, "order is unchanged after the rejection")
	})
}

func TestPlaceMarket(t *testing.T) {
	env := newTestEnv(t)
	seller := uuid.New()
	buyer := uuid.New()
	env.fundBase(t, seller, 1_000)
	env.fundQuote(t, buyer, 1_000_000)

	t.Run("no reference price", func(t *testing.T) {
		_, err := env.service.PlaceMarket(env.book.ID, buyer, models.SideBid, 5, 1_000_000)
		assert.ErrorIs(t, err, errs.ErrMarketOrderUnfilled)
	})

	// seed last price and book inventory
	require.NoError(t, env.service.WithBook(env.book.ID, func(bk *Book) error {
		bk.rec.LastPrice = 500
		return nil
	}))
	require.NoError(t, env.vaults.Lock(env.book.BaseVault, 100, seller))

	t.Run("buy at last price", func(t *testing.T) {
		trade, err := env.service.PlaceMarket(env.book.ID, buyer, models.SideBid, 5, 10_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(500), trade.Price)
		assert.Equal(t, uint64(5), trade.Quantity)
		assert.Equal(t, uint64(1_000_000-2_500), env.quoteBalance(buyer))
		assert.Equal(t, uint64(5), env.baseBalance(buyer))
	})

	t.Run("quote cap enforced", func(t *testing.T) {
		_, err := env.service.PlaceMarket(env.book.ID, buyer, models.SideBid, 5, 2_000)
		assert.ErrorIs(t, err, errs.ErrMaxQuoteExceeded)
	})

	t.Run("sell needs vault quote inventory", func(t *testing.T) {
		// the buy above left 2,500 quote in the vault; a 10-unit sell
		// would need 5,000 out of it
		_, err := env.service.PlaceMarket(env.book.ID, seller, models.SideAsk, 10, 10_000)
		assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
		assert.Equal(t, uint64(0), env.quoteBalance(seller), "failed transfer leaves no partial credit")

		_, err = env.service.PlaceMarket(env.book.ID, seller, models.SideAsk, 2, 1_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000), env.quoteBalance(seller))
	})
}

func TestCloseBook(t *testing.T) {
	env := newTestEnv(t)
	trader := uuid.New()
	env.fundBase(t, trader, 100)

	_, err := env.service.PlaceLimit(env.book.ID, trader, models.SideAsk, models.OrderTypeLimit, 500, 1)
	require.NoError(t, err)

	t.Run("non-empty book rejected", func(t *testing.T) {
		err := env.service.CloseBook(env.book.ID, env.authority)
		assert.ErrorIs(t, err, errs.ErrOrderBookNotEmpty)
	})

	_, err = env.service.CancelOrder(env.book.ID, trader, 0)
	require.NoError(t, err)

	t.Run("non-authority rejected", func(t *testing.T) {
		err := env.service.CloseBook(env.book.ID, trader)
		assert.ErrorIs(t, err, errs.ErrUnauthorized)
	})

	require.NoError(t, env.service.CloseBook(env.book.ID, env.authority))

	_, err = env.service.PlaceLimit(env.book.ID, trader, models.SideAsk, models.OrderTypeLimit, 500, 1)
	assert.ErrorIs(t, err, errs.ErrOrderBookInactive)
}

func TestServiceRestore(t *testing.T) {
	env := newTestEnv(t)
	trader := uuid.New()
	env.fundBase(t, trader, 100)

	placed, err := env.service.PlaceLimit(env.book.ID, trader, models.SideAsk, models.OrderTypeLimit, 500, 3)
	require.NoError(t, err)

	restored, err := NewService(zap.NewNop(), env.exchange, env.vaults, env.store)
	require.NoError(t, err)

	rec, err := restored.Book(env.book.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.TotalOrders)

	err = restored.WithBook(env.book.ID, func(bk *Book) error {
		best := bk.BestAsk()
		require.NotNil(t, best)
		assert.Equal(t, placed.ID, best.ID)
		assert.Equal(t, uint64(3), best.Quantity)
		return nil
	})
	require.NoError(t, err)
}
