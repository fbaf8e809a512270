package sns

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/airdrop-bot/internal/config"
)

const exhaustedSubject = "Airdrop key pool exhausted"

type publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// PoolAlerter notifies operators through an SNS topic.
type PoolAlerter struct {
	client   publisher
	topicARN string
}

func NewPoolAlerter(ctx context.Context, cfg *config.Config) (*PoolAlerter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.SNSRegion),
	)
	if err != nil {
		return nil, err
	}
	return &PoolAlerter{client: sns.NewFromConfig(awsCfg), topicARN: cfg.SNSTopicARN}, nil
}

func (a *PoolAlerter) PoolExhausted(ctx context.Context) error {
	_, err := a.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(a.topicARN),
		Subject:  aws.String(exhaustedSubject),
		Message:  aws.String("Every key in the airdrop pool has been claimed. New registrations are being turned away."),
	})
	if err != nil {
		return fmt.Errorf("publish pool alert: %w", err)
	}
	return nil
}
