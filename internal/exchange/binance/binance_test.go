package binance

import (
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"

	"gridbot/internal/kernel/types"
)

func TestFormatFloatTrimsTrailingZeros(t *testing.T) {
	assert.Equal(t, "100", formatFloat(100))
	assert.Equal(t, "0.0001", formatFloat(0.0001))
}

func TestMapSideToVenueRoundTripsThroughMapSideFromVenue(t *testing.T) {
	assert.Equal(t, futures.SideTypeBuy, mapSideToVenue(types.SideBuy))
	assert.Equal(t, futures.SideTypeSell, mapSideToVenue(types.SideSell))

	assert.Equal(t, types.SideBuy, mapSideFromVenue(futures.SideTypeBuy))
	assert.Equal(t, types.SideSell, mapSideFromVenue(futures.SideTypeSell))
}

func TestMapTIFToVenuePostOnlyMapsToGTX(t *testing.T) {
	assert.Equal(t, futures.TimeInForceTypeGTX, mapTIFToVenue(types.TimeInForcePostOnly))
	assert.Equal(t, futures.TimeInForceTypeGTC, mapTIFToVenue(types.TimeInForceGTC))
}

func TestMapStatusFromVenueClassifiesTerminalAndLiveStates(t *testing.T) {
	assert.Equal(t, types.OrderFilled, mapStatusFromVenue(futures.OrderStatusTypeFilled))
	assert.Equal(t, types.OrderCancelled, mapStatusFromVenue(futures.OrderStatusTypeCanceled))
	assert.Equal(t, types.OrderCancelled, mapStatusFromVenue(futures.OrderStatusTypeExpired))
	assert.Equal(t, types.OrderCancelled, mapStatusFromVenue(futures.OrderStatusTypeRejected))
	assert.Equal(t, types.OrderPlaced, mapStatusFromVenue(futures.OrderStatusTypeNew))
	assert.Equal(t, types.OrderPlaced, mapStatusFromVenue(futures.OrderStatusTypePartiallyFilled))
}
