package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/airdrop-bot/internal/domain"
	"github.com/airdrop-bot/internal/pkg/id"
)

const (
	// claimCandidates is how many available keys one GSI query fetches.
	claimCandidates = 10
	// maxClaimRounds bounds re-queries when every candidate was taken by a
	// concurrent caller or the GSI still lists already-claimed keys.
	maxClaimRounds = 8
	claimBackoff   = 25 * time.Millisecond
)

var errLostRace = errors.New("key claimed by another caller")

// keyItem is the stored shape of a key. PK: key.
type keyItem struct {
	Key        string     `dynamodbav:"key"`
	KeyID      string     `dynamodbav:"key_id"`
	Claimed    bool       `dynamodbav:"claimed"`
	PoolStatus string     `dynamodbav:"pool_status"`
	ClaimedAt  *time.Time `dynamodbav:"claimed_at,omitempty"`
	CreatedAt  time.Time  `dynamodbav:"created_at"`
}

func (it keyItem) toDomain() *domain.Key {
	return &domain.Key{
		ID:        it.KeyID,
		Value:     it.Key,
		Claimed:   it.Claimed,
		ClaimedAt: it.ClaimedAt,
		CreatedAt: it.CreatedAt,
	}
}

// KeyRepo provides typed DynamoDB operations for the keys table.
type KeyRepo struct {
	client    API
	tableName string
}

func NewKeyRepo(client API, tableName string) *KeyRepo {
	return &KeyRepo{client: client, tableName: tableName}
}

// Seed writes every key that is not already in the table. Each put is
// conditional on the key not existing, so claimed records are never
// overwritten and a run interrupted part-way is completed by the next one.
// A fully seeded table yields 0 inserts.
func (r *KeyRepo) Seed(ctx context.Context, keys []string) (int, error) {
	now := time.Now().UTC()
	inserted := 0
	for _, k := range keys {
		item, err := attributevalue.MarshalMap(keyItem{
			Key:        k,
			KeyID:      id.New(),
			PoolStatus: statusAvailable,
			CreatedAt:  now,
		})
		if err != nil {
			return inserted, fmt.Errorf("marshal key: %w", err)
		}
		_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                aws.String(r.tableName),
			Item:                     item,
			ConditionExpression:      aws.String("attribute_not_exists(#k)"),
			ExpressionAttributeNames: map[string]string{"#k": fieldKey},
		})
		if isConditionFailed(err) {
			continue
		}
		if err != nil {
			return inserted, unavailable("put key", err)
		}
		inserted++
	}
	return inserted, nil
}

// ClaimOne picks candidates from the pool_status GSI and claims the first one
// whose conditional update succeeds. The GSI is eventually consistent; the
// condition on the base table is what guarantees a single winner per key.
func (r *KeyRepo) ClaimOne(ctx context.Context) (*domain.Key, error) {
	for round := 0; round < maxClaimRounds; round++ {
		if round > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(round) * claimBackoff):
			}
		}
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(r.tableName),
			IndexName:                 aws.String(poolStatusIndex),
			KeyConditionExpression:    aws.String("#s = :available"),
			ExpressionAttributeNames:  map[string]string{"#s": fieldPoolStatus},
			ExpressionAttributeValues: map[string]types.AttributeValue{":available": str(statusAvailable)},
			Limit:                     aws.Int32(claimCandidates),
		})
		if err != nil {
			return nil, unavailable("query available keys", err)
		}
		if len(out.Items) == 0 {
			return nil, domain.ErrPoolExhausted
		}
		for _, item := range out.Items {
			v, ok := item[fieldKey].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			k, err := r.tryClaim(ctx, v.Value)
			if errors.Is(err, errLostRace) {
				continue
			}
			return k, err
		}
	}
	return nil, fmt.Errorf("too much contention claiming a key: %w", domain.ErrPersistenceUnavailable)
}

func (r *KeyRepo) tryClaim(ctx context.Context, value string) (*domain.Key, error) {
	now, err := attributevalue.Marshal(time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("marshal claim time: %w", err)
	}
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey(fieldKey, value),
		UpdateExpression:    aws.String("SET #c = :t, #s = :claimed, #at = :now"),
		ConditionExpression: aws.String("#c = :f"),
		ExpressionAttributeNames: map[string]string{
			"#c":  fieldClaimed,
			"#s":  fieldPoolStatus,
			"#at": fieldClaimedAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":       boolean(true),
			":f":       boolean(false),
			":claimed": str(statusClaimed),
			":now":     now,
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if isConditionFailed(err) {
		return nil, errLostRace
	}
	if err != nil {
		return nil, unavailable("claim key", err)
	}
	var it keyItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &it); err != nil {
		return nil, fmt.Errorf("unmarshal key: %w", err)
	}
	return it.toDomain(), nil
}

// Release flips a claimed key back to available. Releasing a key that is
// already available is a no-op; an unknown key is ErrNotFound.
func (r *KeyRepo) Release(ctx context.Context, value string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey(fieldKey, value),
		UpdateExpression:    aws.String("SET #c = :f, #s = :available REMOVE #at"),
		ConditionExpression: aws.String("attribute_exists(#k) AND #c = :t"),
		ExpressionAttributeNames: map[string]string{
			"#k":  fieldKey,
			"#c":  fieldClaimed,
			"#s":  fieldPoolStatus,
			"#at": fieldClaimedAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":         boolean(true),
			":f":         boolean(false),
			":available": str(statusAvailable),
		},
	})
	if err == nil {
		return nil
	}
	if !isConditionFailed(err) {
		return unavailable("release key", err)
	}
	got, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldKey, value),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return unavailable("get key", err)
	}
	if got.Item == nil {
		return fmt.Errorf("key not found: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *KeyRepo) Stats(ctx context.Context) (domain.PoolStats, error) {
	total, err := r.count(ctx, nil)
	if err != nil {
		return domain.PoolStats{}, err
	}
	claimed, err := r.count(ctx, &dynamodb.ScanInput{
		FilterExpression:          aws.String("#c = :t"),
		ExpressionAttributeNames:  map[string]string{"#c": fieldClaimed},
		ExpressionAttributeValues: map[string]types.AttributeValue{":t": boolean(true)},
	})
	if err != nil {
		return domain.PoolStats{}, err
	}
	return domain.PoolStats{Total: total, Claimed: claimed, Available: total - claimed}, nil
}

// count scans the whole table with Select=COUNT, following pagination.
func (r *KeyRepo) count(ctx context.Context, filter *dynamodb.ScanInput) (int, error) {
	input := &dynamodb.ScanInput{}
	if filter != nil {
		input = filter
	}
	input.TableName = aws.String(r.tableName)
	input.Select = types.SelectCount

	total := 0
	for {
		out, err := r.client.Scan(ctx, input)
		if err != nil {
			return 0, unavailable("count keys", err)
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
