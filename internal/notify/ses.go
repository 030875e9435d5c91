package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
)

// SESClient is the subset of the SES v2 client used for sending.
type SESClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier sends email through Amazon SES.
type SESNotifier struct {
	client   SESClient
	from     string
	fromName string
	logger   *slog.Logger
}

// NewSES loads the default AWS configuration for region and returns a notifier.
func NewSES(ctx context.Context, region, from, fromName string, logger *slog.Logger) (*SESNotifier, error) {
	if from == "" {
		return nil, errors.New("ses: sender address is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESWithClient(sesv2.NewFromConfig(cfg), from, fromName, logger), nil
}

// NewSESWithClient builds a notifier around an existing client.
func NewSESWithClient(client SESClient, from, fromName string, logger *slog.Logger) *SESNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SESNotifier{client: client, from: from, fromName: fromName, logger: logger}
}

// Send delivers msg. Throttling and network failures are reported as transient.
func (s *SESNotifier) Send(ctx context.Context, msg Message) error {
	from := s.from
	if s.fromName != "" {
		from = fmt.Sprintf("%s <%s>", s.fromName, s.from)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(msg.HTML),
						Charset: aws.String("UTF-8"),
					},
					Text: &types.Content{
						Data:    aws.String(msg.Text),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return classifySESError(err)
	}

	s.logger.Info("email sent", "to", msg.To, "subject", msg.Subject, "message_id", aws.ToString(out.MessageId))
	return nil
}

// classifySESError marks errors worth a redelivery as transient.
func classifySESError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "ThrottlingException", "LimitExceededException", "InternalFailure", "ServiceUnavailable":
			return domain.Transient("ses send", err)
		}
		return fmt.Errorf("ses send: %w", err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("ses send: %w", err)
	}
	return domain.Transient("ses send", err)
}
