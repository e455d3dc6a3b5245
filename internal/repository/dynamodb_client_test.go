package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"breathwork-agent/internal/domain"
)

type fakeDynamo struct {
	getOut        *dynamodb.GetItemOutput
	getErr        error
	updateErr     error
	queryOut      *dynamodb.QueryOutput
	queryErr      error
	txErr         error
	lastGetInput  *dynamodb.GetItemInput
	lastUpdateIn  *dynamodb.UpdateItemInput
	lastQueryIn   *dynamodb.QueryInput
	lastTxInput   *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateIn = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	return f.queryOut, f.queryErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func makeSessionItem(threadID, guideID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: "SESSION#sess-1"},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"threadId":     &types.AttributeValueMemberS{Value: threadID},
		"guideId":      &types.AttributeValueMemberS{Value: guideID},
		"lastActivity": &types.AttributeValueMemberS{Value: "2025-01-02T03:04:05Z"},
	}
}

func makeTurnItem(pk, sk, question, answer, source string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: pk},
		"SK":       &types.AttributeValueMemberS{Value: sk},
		"question": &types.AttributeValueMemberS{Value: question},
		"answer":   &types.AttributeValueMemberS{Value: answer},
		"source":   &types.AttributeValueMemberS{Value: source},
	}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)

	_, err = New(&fakeDynamo{}, "  ")
	require.Error(t, err)
}

func TestGetSession_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeSessionItem("thread-1", "abhi")}}
	c := mustNewClient(t, db)

	sess, ok, err := c.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "thread-1", sess.ThreadID)
	require.Equal(t, "abhi", sess.GuideID)
	require.Equal(t, "2025-01-02T03:04:05Z", sess.LastActivity)

	require.NotNil(t, db.lastGetInput)
	pk := db.lastGetInput.Key["PK"].(*types.AttributeValueMemberS)
	require.Equal(t, "SESSION#sess-1", pk.Value)
}

func TestGetSession_Missing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)

	_, ok, err := c.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetSession_PartialRecord(t *testing.T) {
	// a session written before any thread was created has no threadId yet
	item := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "SESSION#sess-1"},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)

	sess, ok, err := c.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, sess.ThreadID)
}

func TestGetSession_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getErr: errors.New("boom")})
	_, _, err := c.GetSession(context.Background(), "sess-1")
	require.ErrorContains(t, err, "GetSession")

	_, _, err = c.GetSession(context.Background(), "  ")
	require.Error(t, err)
}

func TestUpdateSession_OnlySetsProvidedFields(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	threadID := "thread-2"
	err := c.UpdateSession(context.Background(), "sess-1", domain.SessionUpdate{ThreadID: &threadID})
	require.NoError(t, err)

	require.NotNil(t, db.lastUpdateIn)
	expr := *db.lastUpdateIn.UpdateExpression
	require.Contains(t, expr, "threadId = :thread")
	require.NotContains(t, expr, "guideId")
	require.NotContains(t, expr, "lastActivity")
	require.Contains(t, expr, "#ttl = :ttl")

	thread := db.lastUpdateIn.ExpressionAttributeValues[":thread"].(*types.AttributeValueMemberS)
	require.Equal(t, "thread-2", thread.Value)
}

func TestUpdateSession_AllFields(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	threadID, guideID, active := "thread-2", "abhi", "2025-01-02T03:04:05Z"
	err := c.UpdateSession(context.Background(), "sess-1", domain.SessionUpdate{
		ThreadID:     &threadID,
		GuideID:      &guideID,
		LastActivity: &active,
	})
	require.NoError(t, err)

	expr := *db.lastUpdateIn.UpdateExpression
	require.Contains(t, expr, "threadId = :thread")
	require.Contains(t, expr, "guideId = :guide")
	require.Contains(t, expr, "lastActivity = :active")
}

func TestUpdateSession_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{updateErr: errors.New("boom")})
	err := c.UpdateSession(context.Background(), "sess-1", domain.SessionUpdate{})
	require.ErrorContains(t, err, "UpdateSession")

	err = c.UpdateSession(context.Background(), " ", domain.SessionUpdate{})
	require.Error(t, err)
}

func TestSaveCompletedTurn_WritesTurnAndBumpsMeta(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.SaveCompletedTurn(context.Background(), "sess-1", "How do I calm down?", "Breathe slowly.", "openai_assistant_json")
	require.NoError(t, err)

	require.NotNil(t, db.lastTxInput)
	require.Len(t, db.lastTxInput.TransactItems, 2)

	put := db.lastTxInput.TransactItems[0].Put
	require.NotNil(t, put)
	question := put.Item["question"].(*types.AttributeValueMemberS)
	require.Equal(t, "How do I calm down?", question.Value)
	answer := put.Item["answer"].(*types.AttributeValueMemberS)
	require.Equal(t, "Breathe slowly.", answer.Value)
	source := put.Item["source"].(*types.AttributeValueMemberS)
	require.Equal(t, "openai_assistant_json", source.Value)

	update := db.lastTxInput.TransactItems[1].Update
	require.NotNil(t, update)
	require.Contains(t, *update.UpdateExpression, "lastActivity")
}

func TestSaveCompletedTurn_Error(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{txErr: errors.New("boom")})
	err := c.SaveCompletedTurn(context.Background(), "sess-1", "q", "a", "s")
	require.ErrorContains(t, err, "SaveCompletedTurn")
}

func TestGetHistory_ReversesToChronological(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		makeTurnItem("SESSION#sess-1", "MSG#2025-01-02T00:00:02Z", "second", "a2", "openai_assistant"),
		makeTurnItem("SESSION#sess-1", "MSG#2025-01-02T00:00:01Z", "first", "a1", "openai_assistant"),
	}}}
	c := mustNewClient(t, db)

	turns, err := c.GetHistory(context.Background(), "sess-1", 20)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "first", turns[0].Question)
	require.Equal(t, "second", turns[1].Question)

	require.NotNil(t, db.lastQueryIn)
	require.False(t, *db.lastQueryIn.ScanIndexForward)
}

func TestGetHistory_QueryError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("boom")})
	_, err := c.GetHistory(context.Background(), "sess-1", 20)
	require.ErrorContains(t, err, "GetHistory")
}

func TestNewTurn_SetsKeysAndTTL(t *testing.T) {
	turn := NewTurn("sess-1", "q", "a", "greeting")
	require.Equal(t, "SESSION#sess-1", turn.PK)
	require.Contains(t, turn.SK, skPrefixMsg)
	require.Positive(t, turn.TTL)
}
