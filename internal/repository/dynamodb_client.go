package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"breathwork-agent/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// ReadWriter defines the session state operations consumed by the orchestrator.
type ReadWriter interface {
	GetSession(ctx context.Context, sessionID string) (domain.Session, bool, error)
	UpdateSession(ctx context.Context, sessionID string, update domain.SessionUpdate) error
	SaveCompletedTurn(ctx context.Context, sessionID, question, answer, source string) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
}

// Client wraps a DynamoDB table for session state and turn history.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// msgSK returns the sort key for a turn using the given UTC timestamp.
func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano)
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// GetSession loads the session metadata record. The second return value is
// false when no record exists yet.
func (c *Client) GetSession(ctx context.Context, sessionID string) (domain.Session, bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.Session{}, false, errors.New("repository: GetSession: session id is required")
	}

	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("repository: GetSession get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Session{}, false, nil
	}

	sess := domain.Session{
		PK:        sessionPK(sessionID),
		SK:        skMeta,
		SessionID: sessionID,
	}
	sess.ThreadID, _ = strAttr(out.Item, "threadId")
	sess.GuideID, _ = strAttr(out.Item, "guideId")
	sess.LastActivity, _ = strAttr(out.Item, "lastActivity")
	return sess, true, nil
}

// UpdateSession writes the non-nil fields of update onto the session metadata
// record, creating it when absent. The TTL is refreshed on every update so an
// active session never expires mid-conversation.
func (c *Client) UpdateSession(ctx context.Context, sessionID string, update domain.SessionUpdate) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: UpdateSession: session id is required")
	}

	sets := []string{"sessionId = :sid", "#ttl = :ttl"}
	values := map[string]types.AttributeValue{
		":sid": &types.AttributeValueMemberS{Value: sessionID},
		":ttl": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue())},
	}
	if update.ThreadID != nil {
		sets = append(sets, "threadId = :thread")
		values[":thread"] = &types.AttributeValueMemberS{Value: *update.ThreadID}
	}
	if update.GuideID != nil {
		sets = append(sets, "guideId = :guide")
		values[":guide"] = &types.AttributeValueMemberS{Value: *update.GuideID}
	}
	if update.LastActivity != nil {
		sets = append(sets, "lastActivity = :active")
		values[":active"] = &types.AttributeValueMemberS{Value: *update.LastActivity}
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeNames:  map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("repository: UpdateSession: %w", err)
	}
	return nil
}

// SaveCompletedTurn persists a completed question/answer exchange and bumps
// the session's lastActivity in one transaction.
func (c *Client) SaveCompletedTurn(ctx context.Context, sessionID, question, answer, source string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: SaveCompletedTurn: session id is required")
	}
	turn := NewTurn(sessionID, question, answer, source)

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(turn),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
						"SK": &types.AttributeValueMemberS{Value: skMeta},
					},
					UpdateExpression:         aws.String("SET lastActivity = :active, #ttl = :ttl"),
					ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":active": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
						":ttl":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue())},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveCompletedTurn: %w", err)
	}
	return nil
}

// GetHistory queries all MSG# items for a session ordered chronologically.
func (c *Client) GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Read newest first so LIMIT favors the most recent turns.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	// Reverse to chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// NewTurn constructs a Turn with PK/SK/TTL set from sessionID and current time.
func NewTurn(sessionID, question, answer, source string) domain.Turn {
	now := time.Now().UTC()
	return domain.Turn{
		PK:        sessionPK(sessionID),
		SK:        msgSK(now),
		SessionID: sessionID,
		Question:  question,
		Answer:    answer,
		Source:    source,
		Timestamp: now.Format(time.RFC3339Nano),
		TTL:       ttlValue(),
	}
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Turn{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Turn{}, err
	}
	question, err := strAttr(item, "question")
	if err != nil {
		return domain.Turn{}, err
	}
	answer, _ := strAttr(item, "answer") // allow empty
	source, _ := strAttr(item, "source") // allow empty

	return domain.Turn{
		PK:        pk,
		SK:        sk,
		Question:  question,
		Answer:    answer,
		Source:    source,
		Timestamp: strings.TrimPrefix(sk, skPrefixMsg),
	}, nil
}

func turnItem(turn domain.Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: turn.PK},
		"SK":        &types.AttributeValueMemberS{Value: turn.SK},
		"sessionId": &types.AttributeValueMemberS{Value: turn.SessionID},
		"question":  &types.AttributeValueMemberS{Value: turn.Question},
		"answer":    &types.AttributeValueMemberS{Value: turn.Answer},
		"source":    &types.AttributeValueMemberS{Value: turn.Source},
		"ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", turn.TTL)},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
