package delivery

import (
	"context"

	"go.uber.org/zap"
)

// DevSMSGateway is an [SMSGateway] for development environments. It logs
// that a send happened but never the code.
type DevSMSGateway struct {
	Logger *zap.Logger
}

// NewDevSMSGateway returns a gateway that records sends to the log.
func NewDevSMSGateway(logger *zap.Logger) *DevSMSGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DevSMSGateway{Logger: logger}
}

// SendCode pretends to deliver the code. Real deployments swap in a
// provider-backed implementation of [SMSGateway].
func (g *DevSMSGateway) SendCode(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.Logger.Info("sms code dispatched",
		zap.String("component", "dev_sms_gateway"),
		zap.String("purpose", msg.Purpose),
		zap.Int("code_length", len(msg.Code)),
	)
	return nil
}
