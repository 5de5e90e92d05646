package notification

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender satisfies both sender interfaces by writing the message to the
// log. It stands in for an SMS or mail gateway.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "notification").Logger()}
}

func (s *LogSender) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info().
		Str("channel", string(ChannelEmail)).
		Str("to", to).
		Str("subject", subject).
		Int("body_len", len(body)).
		Msg("email dispatched")
	return nil
}

func (s *LogSender) SendSMS(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info().
		Str("channel", string(ChannelSMS)).
		Str("to", maskPhone(to)).
		Int("body_len", len(body)).
		Msg("sms dispatched")
	return nil
}

// maskPhone keeps the last four digits.
func maskPhone(p string) string {
	if len(p) <= 4 {
		return p
	}
	masked := make([]byte, len(p))
	for i := range masked {
		masked[i] = '*'
	}
	copy(masked[len(p)-4:], p[len(p)-4:])
	return string(masked)
}
