package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/airdrop-bot/internal/domain"
)

// RegistrantRepo provides typed DynamoDB operations for the registrants table.
// PK: external_user_id, which makes the one-claim-per-identity rule a key constraint.
type RegistrantRepo struct {
	client    API
	tableName string
}

func NewRegistrantRepo(client API, tableName string) *RegistrantRepo {
	return &RegistrantRepo{client: client, tableName: tableName}
}

func (r *RegistrantRepo) HasClaimed(ctx context.Context, externalUserID string) (bool, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      strKey(fieldExternalUserID, externalUserID),
		ConsistentRead:           aws.Bool(true),
		ProjectionExpression:     aws.String("#u"),
		ExpressionAttributeNames: map[string]string{"#u": fieldExternalUserID},
	})
	if err != nil {
		return false, unavailable("get registrant", err)
	}
	return out.Item != nil, nil
}

// Create inserts a registrant; an existing identity fails with ErrDuplicateRegistrant.
func (r *RegistrantRepo) Create(ctx context.Context, reg *domain.Registrant) error {
	item, err := attributevalue.MarshalMap(reg)
	if err != nil {
		return fmt.Errorf("marshal registrant: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#u)"),
		ExpressionAttributeNames: map[string]string{"#u": fieldExternalUserID},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("registrant %s: %w", reg.ExternalUserID, domain.ErrDuplicateRegistrant)
	}
	if err != nil {
		return unavailable("put registrant", err)
	}
	return nil
}

func (r *RegistrantRepo) Get(ctx context.Context, externalUserID string) (*domain.Registrant, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldExternalUserID, externalUserID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("get registrant", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("registrant not found: %w", domain.ErrNotFound)
	}
	var reg domain.Registrant
	if err := attributevalue.UnmarshalMap(out.Item, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}
