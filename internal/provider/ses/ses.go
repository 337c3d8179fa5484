// Package ses implements the identity-provider and mail-sender contracts on
// Amazon SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mailgate/internal/domain"
	"mailgate/internal/provider"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// MailFromSubdomain enables a custom MAIL FROM on <sub>.<domain> and the
	// MX/SPF records that go with it. Empty disables it.
	MailFromSubdomain string
	// CallTimeout bounds each provider call independently of the caller's
	// deadline.
	CallTimeout time.Duration
}

type Client struct {
	api         *sesv2.Client
	region      string
	mailFromSub string
	callTimeout time.Duration
	log         *slog.Logger
}

var _ provider.IdentityProvider = (*Client)(nil)
var _ provider.MailSender = (*Client)(nil)

func New(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Client{
		api:         sesv2.NewFromConfig(awsCfg),
		region:      awsCfg.Region,
		mailFromSub: cfg.MailFromSubdomain,
		callTimeout: cfg.CallTimeout,
		log:         log,
	}, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

// CreateIdentity registers the domain with SES and returns the records the
// owner must publish: one CNAME per DKIM token, MX+SPF for the custom MAIL
// FROM when configured, and an advisory DMARC TXT. Re-registering an existing
// identity is not an error; the current DKIM tokens are fetched instead.
func (c *Client) CreateIdentity(ctx context.Context, domainName string) (string, []domain.DNSRecord, error) {
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var tokens []string
	out, err := c.api.CreateEmailIdentity(cctx, &sesv2.CreateEmailIdentityInput{
		EmailIdentity: aws.String(domainName),
	})
	switch {
	case err == nil:
		if out.DkimAttributes != nil {
			tokens = out.DkimAttributes.Tokens
		}
	case isAlreadyExists(err):
		gctx, gcancel := c.withTimeout(ctx)
		defer gcancel()
		got, gerr := c.api.GetEmailIdentity(gctx, &sesv2.GetEmailIdentityInput{
			EmailIdentity: aws.String(domainName),
		})
		if gerr != nil {
			return "", nil, fmt.Errorf("get existing identity %s: %w", domainName, gerr)
		}
		if got.DkimAttributes != nil {
			tokens = got.DkimAttributes.Tokens
		}
	default:
		return "", nil, fmt.Errorf("create identity %s: %w", domainName, err)
	}

	records := make([]domain.DNSRecord, 0, len(tokens)+3)
	for _, tok := range tokens {
		records = append(records, domain.DNSRecord{
			Type:  "CNAME",
			Name:  tok + "._domainkey." + domainName,
			Value: tok + ".dkim.amazonses.com",
		})
	}

	if c.mailFromSub != "" {
		mailFrom := c.mailFromSub + "." + domainName
		mctx, mcancel := c.withTimeout(ctx)
		defer mcancel()
		_, merr := c.api.PutEmailIdentityMailFromAttributes(mctx, &sesv2.PutEmailIdentityMailFromAttributesInput{
			EmailIdentity:       aws.String(domainName),
			MailFromDomain:      aws.String(mailFrom),
			BehaviorOnMxFailure: types.BehaviorOnMxFailureUseDefaultValue,
		})
		if merr != nil {
			// Identity exists either way; the operator just loses the custom
			// MAIL FROM until the next setup.
			c.log.Warn("ses mail-from setup failed", "domain", domainName, "error", merr)
		} else {
			pri := uint16(10)
			records = append(records,
				domain.DNSRecord{
					Type:     "MX",
					Name:     mailFrom,
					Value:    "feedback-smtp." + c.region + ".amazonses.com",
					Priority: &pri,
				},
				domain.DNSRecord{
					Type:  "TXT",
					Name:  mailFrom,
					Value: "v=spf1 include:amazonses.com ~all",
				},
			)
		}
	}

	records = append(records, domain.DNSRecord{
		Type:  "TXT",
		Name:  "_dmarc." + domainName,
		Value: "v=DMARC1; p=none;",
	})

	return domainName, records, nil
}

func (c *Client) IsVerified(ctx context.Context, domainName string) (bool, error) {
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out, err := c.api.GetEmailIdentity(cctx, &sesv2.GetEmailIdentityInput{
		EmailIdentity: aws.String(domainName),
	})
	if err != nil {
		return false, fmt.Errorf("get identity %s: %w", domainName, err)
	}
	return out.VerifiedForSendingStatus, nil
}

func (c *Client) DeleteIdentity(ctx context.Context, domainName string) error {
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.api.DeleteEmailIdentity(cctx, &sesv2.DeleteEmailIdentityInput{
		EmailIdentity: aws.String(domainName),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete identity %s: %w", domainName, err)
	}
	return nil
}

func (c *Client) Send(ctx context.Context, msg *provider.Message) (string, error) {
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body := &types.Body{}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML)}
	}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text)}
	}
	content := &types.Message{
		Subject: &types.Content{Data: aws.String(msg.Subject)},
		Body:    body,
	}
	for name, value := range msg.Headers {
		content.Headers = append(content.Headers, types.MessageHeader{
			Name:  aws.String(name),
			Value: aws.String(value),
		})
	}

	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
		Content: &types.EmailContent{Simple: content},
	}
	if msg.ReplyTo != "" {
		in.ReplyToAddresses = []string{msg.ReplyTo}
	}

	out, err := c.api.SendEmail(cctx, in)
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

func isAlreadyExists(err error) bool {
	var ae *types.AlreadyExistsException
	return errors.As(err, &ae)
}

func isNotFound(err error) bool {
	var nf *types.NotFoundException
	return errors.As(err, &nf)
}
