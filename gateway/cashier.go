package gateway

import (
	"context"

	"go.uber.org/zap"

	"cmbc-pay/cashier"
)

// payWayCashier selects the hosted cashier page.
const payWayCashier = "0"

// Cashier pays through the hosted cashier page: the signed payload is posted by the
// customer's browser, so nothing is sent from here.
type Cashier struct {
	codec  *cashier.Codec
	logger *zap.Logger
}

func NewCashier(codec *cashier.Codec, logger *zap.Logger) Gateway {
	return &Cashier{codec: codec, logger: logger}
}

func (g *Cashier) Pay(ctx context.Context, endpoint string, payload cashier.Payload) (*PayResult, error) {
	payload = payload.Merge(map[string]any{"payWay": payWayCashier})

	g.logger.Info("pay started",
		zap.String("gateway", "cashier"),
		zap.String("endpoint", endpoint),
		zap.String("orderNo", payload.String(cashier.OrderNoField)))

	envelope, err := g.codec.Encode(ctx, payload)
	if err != nil {
		return nil, err
	}
	return &PayResult{Endpoint: endpoint, Context: envelope, Payload: payload}, nil
}
