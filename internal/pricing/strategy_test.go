package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/auctionops/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func snapshot(a domain.Auction) domain.Snapshot {
	a.Currency = "INR"
	a.CreatedAt = t0
	a.EndsAt = t0.Add(24 * time.Hour)
	return domain.Snapshot{Auction: a, Projection: a.InitialProjection(), Version: 1}
}

func withLeader(s domain.Snapshot, price int64) domain.Snapshot {
	s.DisplayedPrice = price
	s.LeadingBidID = "leader-bid"
	s.LeaderID = "leader"
	s.LeaderHold = price
	s.Version++
	return s
}

func TestFor(t *testing.T) {
	for _, f := range []domain.Format{domain.FormatStandard, domain.FormatReserve, domain.FormatDutch, domain.FormatTender} {
		s, err := For(f)
		require.NoError(t, err)
		assert.NotNil(t, s)
	}
	_, err := For("vickrey")
	assert.Error(t, err)
}

func TestStandard_Decide(t *testing.T) {
	base := snapshot(domain.Auction{Format: domain.FormatStandard, StartingPrice: 10000, BidIncrement: 1000})

	tests := []struct {
		name    string
		snap    domain.Snapshot
		amount  int64
		accept  bool
		minimum int64
	}{
		{"first bid at starting price", base, 10000, true, 0},
		{"first bid below starting price", base, 9999, false, 10000},
		{"below leader", withLeader(base, 10000), 9500, false, 11000},
		{"tie with leader", withLeader(base, 10000), 10000, false, 11000},
		{"under increment", withLeader(base, 10000), 10999, false, 11000},
		{"exact increment", withLeader(base, 10000), 11000, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Standard{}.Decide(tt.snap, Candidate{BidderID: "b", Amount: tt.amount}, t0)
			assert.Equal(t, tt.accept, d.Accept)
			if !tt.accept {
				require.NotNil(t, d.Rejection)
				assert.Equal(t, domain.ReasonBidTooLow, d.Rejection.Reason)
				assert.Equal(t, tt.minimum, d.Rejection.Minimum)
				return
			}
			assert.True(t, d.Leading)
			assert.Equal(t, tt.amount, d.Price)
			assert.False(t, d.Close)
		})
	}
}

func TestStandard_ZeroIncrementStillStrict(t *testing.T) {
	s := withLeader(snapshot(domain.Auction{Format: domain.FormatStandard, StartingPrice: 100}), 500)

	assert.False(t, Standard{}.Decide(s, Candidate{Amount: 500}, t0).Accept)
	assert.True(t, Standard{}.Decide(s, Candidate{Amount: 501}, t0).Accept)
}

func TestStandard_RejectionMessage(t *testing.T) {
	s := withLeader(snapshot(domain.Auction{Format: domain.FormatStandard, StartingPrice: 10000, BidIncrement: 1000}), 11000)

	d := Standard{}.Decide(s, Candidate{Amount: 11500}, t0)

	require.NotNil(t, d.Rejection)
	assert.Equal(t, "bid must be at least INR 120.00", d.Rejection.Message)
}

func TestReserve_Decide(t *testing.T) {
	base := snapshot(domain.Auction{Format: domain.FormatReserve, StartingPrice: 10000, BidIncrement: 500, ReservePrice: 18000})

	d := Reserve{}.Decide(base, Candidate{Amount: 15000}, t0)
	assert.True(t, d.Accept)
	assert.False(t, d.Leading)
	assert.Nil(t, d.Rejection)

	d = Reserve{}.Decide(base, Candidate{Amount: 9000}, t0)
	assert.False(t, d.Accept)
	assert.Equal(t, domain.ReasonBidTooLow, d.Rejection.Reason)

	d = Reserve{}.Decide(base, Candidate{Amount: 19000}, t0)
	assert.True(t, d.Leading)
	assert.Equal(t, int64(19000), d.Price)

	d = Reserve{}.Decide(base, Candidate{Amount: 18000}, t0)
	assert.True(t, d.Leading, "a bid equal to reserve qualifies")

	led := withLeader(base, 19000)
	d = Reserve{}.Decide(led, Candidate{Amount: 19400}, t0)
	assert.False(t, d.Accept)
	assert.Equal(t, int64(19500), d.Rejection.Minimum)
}

func TestReserve_RanksAgainstBestBelowReserveBid(t *testing.T) {
	s := snapshot(domain.Auction{Format: domain.FormatReserve, StartingPrice: 10000, BidIncrement: 1000, ReservePrice: 18000})
	s.BestBid = 15000

	d := Reserve{}.Decide(s, Candidate{Amount: 10000}, t0)
	assert.False(t, d.Accept)
	assert.Equal(t, domain.ReasonBidTooLow, d.Rejection.Reason)
	assert.Equal(t, int64(16000), d.Rejection.Minimum)

	d = Reserve{}.Decide(s, Candidate{Amount: 16000}, t0)
	assert.True(t, d.Accept)
	assert.False(t, d.Leading)

	d = Reserve{}.Decide(s, Candidate{Amount: 18000}, t0)
	assert.True(t, d.Leading)
	assert.Equal(t, int64(18000), d.Price)
}

func TestCurrentPrice(t *testing.T) {
	a := domain.Auction{
		Format:         domain.FormatDutch,
		StartingPrice:  10000,
		DutchDecrement: 100,
		DutchInterval:  5 * time.Minute,
		DutchFloor:     9500,
		CreatedAt:      t0,
	}

	tests := []struct {
		elapsed time.Duration
		want    int64
	}{
		{-time.Minute, 10000},
		{0, 10000},
		{4*time.Minute + 59*time.Second, 10000},
		{5 * time.Minute, 9900},
		{12 * time.Minute, 9800},
		{25 * time.Minute, 9500},
		{26 * time.Minute, 9500},
		{1000 * 24 * time.Hour, 9500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CurrentPrice(a, t0.Add(tt.elapsed)), "elapsed %s", tt.elapsed)
	}
}

func TestDutch_ClampsToCurrentPrice(t *testing.T) {
	s := snapshot(domain.Auction{
		Format:         domain.FormatDutch,
		StartingPrice:  10000,
		DutchDecrement: 100,
		DutchInterval:  5 * time.Minute,
		DutchFloor:     5000,
	})
	at := t0.Add(12 * time.Minute)

	d := Dutch{}.Decide(s, Candidate{Amount: 15000}, at)
	assert.True(t, d.Leading)
	assert.True(t, d.Close)
	assert.Equal(t, int64(9800), d.Price)

	d = Dutch{}.Decide(s, Candidate{Amount: 9799}, at)
	assert.False(t, d.Accept)
	assert.Equal(t, domain.ReasonBidAboveCeiling, d.Rejection.Reason)
	assert.Equal(t, int64(9800), d.Rejection.Minimum)

	d = Dutch{}.Decide(withLeader(s, 9800), Candidate{Amount: 20000}, at)
	assert.False(t, d.Accept)
	assert.Equal(t, domain.ReasonAuctionEnded, d.Rejection.Reason)
}

func TestTender_Decide(t *testing.T) {
	base := snapshot(domain.Auction{Format: domain.FormatTender, MinimumBid: 45000})

	d := Tender{}.Decide(base, Candidate{Amount: 50000}, t0)
	assert.False(t, d.Accept)
	assert.Equal(t, domain.ReasonBidAboveCeiling, d.Rejection.Reason)
	assert.Equal(t, int64(45000), d.Rejection.Maximum)

	d = Tender{}.Decide(base, Candidate{Amount: 45000}, t0)
	assert.True(t, d.Leading, "a bid equal to minimumBid qualifies")

	led := withLeader(base, 44000)
	d = Tender{}.Decide(led, Candidate{Amount: 43000}, t0)
	assert.True(t, d.Leading)
	assert.Equal(t, int64(43000), d.Price)

	d = Tender{}.Decide(led, Candidate{Amount: 44000}, t0)
	assert.False(t, d.Accept, "ties keep the earlier leader")
	assert.Equal(t, domain.ReasonBidTooLow, d.Rejection.Reason)
	assert.Equal(t, int64(43999), d.Rejection.Maximum)
}

func TestTender_Increment(t *testing.T) {
	led := withLeader(snapshot(domain.Auction{Format: domain.FormatTender, MinimumBid: 45000, BidIncrement: 500}), 44000)

	assert.False(t, Tender{}.Decide(led, Candidate{Amount: 43600}, t0).Accept)
	assert.True(t, Tender{}.Decide(led, Candidate{Amount: 43500}, t0).Accept)
}
