package commerce

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Notifier delivers a challenge code to its user and returns the prompt
// shown to the caller of the request phase.
type Notifier interface {
	Deliver(ctx context.Context, ch Challenge) (string, error)
}

// EchoNotifier returns the code inside the prompt. Test and dev mode only.
type EchoNotifier struct{}

func (EchoNotifier) Deliver(_ context.Context, ch Challenge) (string, error) {
	return fmt.Sprintf("OTP code is %s. Use this code to complete your %s.", ch.Code, action(ch.Kind)), nil
}

// LogNotifier writes the code to the log instead of an SMS/e-mail gateway.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Deliver(_ context.Context, ch Challenge) (string, error) {
	n.log.Info("confirmation code",
		zap.String("challenge_id", string(ch.ID)),
		zap.String("user_id", string(ch.UserID)),
		zap.String("code", ch.Code),
	)
	return "OTP sent. Use the OTP to complete the transaction.", nil
}

func action(k ChallengeKind) string {
	if k == KindTopUp {
		return "top-up"
	}
	return "purchase"
}
