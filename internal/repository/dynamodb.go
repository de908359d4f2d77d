package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"

	"harborguide/internal/domain"
)

const (
	skPrefixTurn = "TURN#"
	// Fixed width so sort keys order lexicographically by time.
	skTimeLayout      = "2006-01-02T15:04:05.000000000Z"
	batchDeleteLimit  = 25
	maxUnprocessedTry = 3
)

// dynamodbAPI is the minimal DynamoDB interface required by dynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// dynamoStore keeps one item per turn under the session's partition.
// Items carry a TTL attribute so abandoned sessions age out.
type dynamoStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	maxTurns  int
	now       func() time.Time
}

func newDynamoStore(cfg *storeConfig) *dynamoStore {
	return &dynamoStore{
		api:       cfg.dynamo,
		tableName: cfg.table,
		ttl:       cfg.ttl,
		maxTurns:  cfg.maxTurns,
		now:       cfg.now,
	}
}

func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// turnSK orders turns by write time, then by position within the group.
func turnSK(ts time.Time, n int) string {
	return fmt.Sprintf("%s%s#%03d", skPrefixTurn, ts.UTC().Format(skTimeLayout), n)
}

// Append writes the whole group in one transaction.
func (s *dynamoStore) Append(ctx context.Context, sessionID string, turns ...domain.ChatTurn) error {
	if err := validateTurns(turns); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	now := s.now()
	expires := now.Add(s.ttl).Unix()
	items := make([]types.TransactWriteItem, 0, len(turns))
	for i, t := range turns {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                turnItem(sessionID, turnSK(now, i), t, expires),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}
	_, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return errors.Wrap(err, "repository: Append")
	}
	return nil
}

// List reads the newest maxTurns items and returns them oldest first.
func (s *dynamoStore) List(ctx context.Context, sessionID string) ([]domain.ChatTurn, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(s.maxTurns)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "repository: List query")
	}

	nowUnix := s.now().Unix()
	turns := make([]domain.ChatTurn, 0, len(out.Items))
	for _, item := range out.Items {
		// TTL deletion is lazy on the DynamoDB side.
		if exp, err := intAttr(item, "ttl"); err == nil && int64(exp) <= nowUnix {
			continue
		}
		t, err := itemToTurn(item)
		if err != nil {
			return nil, errors.Wrap(err, "repository: List unmarshal")
		}
		turns = append(turns, t)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	// A cut in the middle of an exchange leaves a leading assistant turn.
	if len(out.Items) == s.maxTurns && len(turns) > 0 && turns[0].Role == domain.RoleAssistant {
		turns = turns[1:]
	}
	return turns, nil
}

// Clear deletes every turn item of the session.
func (s *dynamoStore) Clear(ctx context.Context, sessionID string) error {
	items, err := s.turnKeys(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "repository: Clear")
	}
	keys := make([]map[string]types.AttributeValue, 0, len(items))
	for _, item := range items {
		keys = append(keys, itemKey(item))
	}
	for start := 0; start < len(keys); start += batchDeleteLimit {
		end := start + batchDeleteLimit
		if end > len(keys) {
			end = len(keys)
		}
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
		}
		if err := s.batchDelete(ctx, reqs); err != nil {
			return err
		}
	}
	return nil
}

// Touch pushes the TTL of every unexpired turn item forward. Items are
// updated one by one, so a failure part way leaves some turns refreshed.
func (s *dynamoStore) Touch(ctx context.Context, sessionID string) error {
	items, err := s.turnKeys(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "repository: Touch")
	}
	now := s.now()
	expires := strconv.FormatInt(now.Add(s.ttl).Unix(), 10)
	for _, item := range items {
		if exp, err := intAttr(item, "ttl"); err == nil && int64(exp) <= now.Unix() {
			continue
		}
		_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                aws.String(s.tableName),
			Key:                      itemKey(item),
			UpdateExpression:         aws.String("SET #ttl = :ttl"),
			ConditionExpression:      aws.String("attribute_exists(PK)"),
			ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ttl": &types.AttributeValueMemberN{Value: expires},
			},
		})
		var gone *types.ConditionalCheckFailedException
		if errors.As(err, &gone) {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "repository: Touch update")
		}
	}
	return nil
}

func itemKey(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]}
}

func (s *dynamoStore) batchDelete(ctx context.Context, reqs []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.tableName: reqs}
	for attempt := 0; attempt < maxUnprocessedTry; attempt++ {
		out, err := s.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return errors.Wrap(err, "repository: Clear batch delete")
		}
		if out == nil || len(out.UnprocessedItems[s.tableName]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
	}
	return errors.Errorf("repository: Clear left %d unprocessed deletes", len(pending[s.tableName]))
}

// turnKeys lists the key and ttl attributes of every turn item.
func (s *dynamoStore) turnKeys(ctx context.Context, sessionID string) ([]map[string]types.AttributeValue, error) {
	var (
		keys  []map[string]types.AttributeValue
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
			},
			ProjectionExpression:     aws.String("PK, SK, #ttl"),
			ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
			ExclusiveStartKey:        start,
		})
		if err != nil {
			return nil, errors.Wrap(err, "query turn keys")
		}
		keys = append(keys, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return keys, nil
		}
		start = out.LastEvaluatedKey
	}
}

func (s *dynamoStore) Close() error { return nil }

func turnItem(sessionID, sk string, t domain.ChatTurn, expires int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: sk},
		"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		"role":      &types.AttributeValueMemberS{Value: string(t.Role)},
		"content":   &types.AttributeValueMemberS{Value: t.Content},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)},
	}
}

func itemToTurn(item map[string]types.AttributeValue) (domain.ChatTurn, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.ChatTurn{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.ChatTurn{}, err
	}
	t := domain.ChatTurn{Role: domain.Role(role), Content: content}
	if !t.Valid() {
		return domain.ChatTurn{}, errors.Wrapf(ErrInvalidTurn, "role %q", role)
	}
	return t, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", errors.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, errors.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, errors.Wrapf(err, "repository: parse attribute %q", key)
	}
	return parsed, nil
}
